package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

// SchedulerConfigRepoImpl implements repository.SchedulerConfigRepository on the singleton row.
type SchedulerConfigRepoImpl struct {
	db *pgxpool.Pool
}

var _ repository.SchedulerConfigRepository = (*SchedulerConfigRepoImpl)(nil)

// NewSchedulerConfigRepo creates a new instance of SchedulerConfigRepoImpl.
func NewSchedulerConfigRepo(db *pgxpool.Pool) *SchedulerConfigRepoImpl {
	return &SchedulerConfigRepoImpl{db: db}
}

// Read returns repository.ErrNotFound until the singleton has been written.
func (r *SchedulerConfigRepoImpl) Read(ctx context.Context) (*entity.SchedulerConfig, error) {
	var c entity.SchedulerConfig
	err := r.db.QueryRow(ctx, `
		SELECT run_at, enabled, lookback_days, per_run_limit, next_run_at, last_run_at
		FROM scheduler_config
		WHERE id = 1`,
	).Scan(&c.RunAt, &c.Enabled, &c.LookbackDays, &c.PerRunLimit, &c.NextRunAt, &c.LastRunAt)
	if err != nil {
		return nil, wrap("read scheduler config", err)
	}
	return &c, nil
}

// Write updates the singleton, creating it from the patch when missing. Creating requires every
// user-settable field to be present in the patch.
func (r *SchedulerConfigRepoImpl) Write(ctx context.Context, patch entity.SchedulerConfigPatch) (*entity.SchedulerConfig, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrap("write scheduler config", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM scheduler_config WHERE id = 1)`).Scan(&exists); err != nil {
		return nil, wrap("write scheduler config", err)
	}

	var (
		query string
		args  []any
	)
	if exists {
		query, args, err = updateSchedulerQuery(patch)
	} else {
		query, args, err = insertSchedulerQuery(patch)
	}
	if err != nil {
		return nil, err
	}
	if query != "" {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return nil, wrap("write scheduler config", err)
		}
	}

	var c entity.SchedulerConfig
	err = tx.QueryRow(ctx, `
		SELECT run_at, enabled, lookback_days, per_run_limit, next_run_at, last_run_at
		FROM scheduler_config
		WHERE id = 1`,
	).Scan(&c.RunAt, &c.Enabled, &c.LookbackDays, &c.PerRunLimit, &c.NextRunAt, &c.LastRunAt)
	if err != nil {
		return nil, wrap("write scheduler config", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrap("write scheduler config", err)
	}
	return &c, nil
}

func insertSchedulerQuery(p entity.SchedulerConfigPatch) (string, []any, error) {
	if !p.Complete() {
		return "", nil, fmt.Errorf("create scheduler config: %w: run_at, enabled, lookback_days and per_run_limit are required", repository.ErrNotFound)
	}
	return psql.Insert("scheduler_config").
		Columns("id", "run_at", "enabled", "lookback_days", "per_run_limit", "next_run_at", "last_run_at").
		Values(1, *p.RunAt, *p.Enabled, *p.LookbackDays, *p.PerRunLimit, p.NextRunAt, p.LastRunAt).
		ToSql()
}

// updateSchedulerQuery returns an empty query when the patch changes nothing.
func updateSchedulerQuery(p entity.SchedulerConfigPatch) (string, []any, error) {
	clauses := map[string]any{}
	if p.RunAt != nil {
		clauses["run_at"] = *p.RunAt
	}
	if p.Enabled != nil {
		clauses["enabled"] = *p.Enabled
	}
	if p.LookbackDays != nil {
		clauses["lookback_days"] = *p.LookbackDays
	}
	if p.PerRunLimit != nil {
		clauses["per_run_limit"] = *p.PerRunLimit
	}
	if p.NextRunAt != nil {
		clauses["next_run_at"] = *p.NextRunAt
	}
	if p.LastRunAt != nil {
		clauses["last_run_at"] = *p.LastRunAt
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	clauses["updated_at"] = squirrel.Expr("NOW()")
	return psql.Update("scheduler_config").
		SetMap(clauses).
		Where(squirrel.Eq{"id": 1}).
		ToSql()
}
