package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

// ExecutionRepoImpl implements repository.ExecutionRepository on PostgreSQL.
type ExecutionRepoImpl struct {
	db *pgxpool.Pool
}

var _ repository.ExecutionRepository = (*ExecutionRepoImpl)(nil)

// NewExecutionRepo creates a new instance of ExecutionRepoImpl.
func NewExecutionRepo(db *pgxpool.Pool) *ExecutionRepoImpl {
	return &ExecutionRepoImpl{db: db}
}

// Insert records the start of a run.
func (r *ExecutionRepoImpl) Insert(ctx context.Context, e *entity.ExecutionAuditEntry) error {
	query, args, err := psql.Insert("execution_audit").
		Columns("id", "started_at", "status", "trigger", "window_label", "message").
		Values(e.ID, e.StartedAt, string(e.Status), e.Trigger, e.Window, e.Message).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return wrap("insert execution "+e.ID, err)
	}
	return nil
}

// Update finalizes a run.
func (r *ExecutionRepoImpl) Update(ctx context.Context, id string, p entity.ExecutionPatch) error {
	query, args, err := updateExecutionQuery(id, p)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return wrap("update execution "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update execution %s: %w", id, repository.ErrNotFound)
	}
	return nil
}

func updateExecutionQuery(id string, p entity.ExecutionPatch) (string, []any, error) {
	return psql.Update("execution_audit").
		Set("finished_at", p.FinishedAt).
		Set("status", string(p.Status)).
		Set("candidates_found", p.CandidatesFound).
		Set("records_ingested", p.RecordsIngested).
		Set("error_count", p.ErrorCount).
		Set("duration_seconds", p.DurationSeconds).
		Set("message", p.Message).
		Where("id = ?", id).
		ToSql()
}

// List returns the most recent runs first.
func (r *ExecutionRepoImpl) List(ctx context.Context, limit int) ([]entity.ExecutionAuditEntry, error) {
	query, args, err := psql.Select(
		"id::text", "started_at", "finished_at", "status", "trigger", "window_label", "candidates_found",
		"records_ingested", "error_count", "duration_seconds", "message",
	).
		From("execution_audit").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list executions", err)
	}
	defer rows.Close()

	out := []entity.ExecutionAuditEntry{}
	for rows.Next() {
		var (
			e      entity.ExecutionAuditEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.FinishedAt, &status, &e.Trigger, &e.Window,
			&e.CandidatesFound, &e.RecordsIngested, &e.ErrorCount, &e.DurationSeconds, &e.Message); err != nil {
			return nil, wrap("list executions", err)
		}
		e.Status = entity.ExecutionStatus(status)
		out = append(out, e)
	}
	return out, wrap("list executions", rows.Err())
}
