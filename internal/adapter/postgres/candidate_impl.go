package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

// upsertChunkSize bounds the number of statements sent per batch.
const upsertChunkSize = 100

const insertCandidateSQL = `
	INSERT INTO candidates (external_key, source_url, category, category_name, org_tax_id, org_name, year, sequence, published_at, reference_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (external_key) DO NOTHING`

var candidateColumns = []string{
	"id", "external_key", "source_url", "category", "category_name", "org_tax_id", "org_name",
	"year", "sequence", "published_at", "reference_date",
}

var statusColumns = []string{"id", "external_key", "state", "attempt_count", "last_error", "processed_at"}

// CandidateRepoImpl implements repository.CandidateRepository on PostgreSQL.
type CandidateRepoImpl struct {
	db *pgxpool.Pool
}

var _ repository.CandidateRepository = (*CandidateRepoImpl)(nil)

// NewCandidateRepo creates a new instance of CandidateRepoImpl.
func NewCandidateRepo(db *pgxpool.Pool) *CandidateRepoImpl {
	return &CandidateRepoImpl{db: db}
}

// UpsertCandidates inserts unknown candidates in batches, leaving existing rows untouched.
func (r *CandidateRepoImpl) UpsertCandidates(ctx context.Context, candidates []entity.CandidateRecord) (int, error) {
	inserted := 0
	for start := 0; start < len(candidates); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(candidates))
		chunk := candidates[start:end]

		batch := &pgx.Batch{}
		for _, c := range chunk {
			batch.Queue(insertCandidateSQL,
				c.ExternalKey, c.SourceURL, c.Category, c.CategoryName, c.OrgTaxID, c.OrgName,
				c.Year, c.Sequence, nullTime(c.PublishedAt), c.ReferenceDate,
			)
		}

		results := r.db.SendBatch(ctx, batch)
		for range chunk {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return inserted, wrap("upsert candidates", err)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := results.Close(); err != nil {
			return inserted, wrap("upsert candidates", err)
		}
	}
	return inserted, nil
}

// FindExistingKeys returns the subset of keys already stored.
func (r *CandidateRepoImpl) FindExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(keys) == 0 {
		return found, nil
	}
	query, args, err := existingKeysQuery(keys)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("find existing keys", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrap("find existing keys", err)
		}
		found[key] = struct{}{}
	}
	return found, wrap("find existing keys", rows.Err())
}

func existingKeysQuery(keys []string) (string, []any, error) {
	return psql.Select("external_key").
		From("candidates").
		Where(squirrel.Eq{"external_key": keys}).
		ToSql()
}

// SelectPending returns up to limit selectable candidates, oldest first.
func (r *CandidateRepoImpl) SelectPending(ctx context.Context, limit int) ([]entity.CandidateRecord, []entity.ProcessingStatus, error) {
	query, args, err := selectPendingQuery(limit)
	if err != nil {
		return nil, nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, wrap("select pending", err)
	}
	defer rows.Close()

	var (
		candidates []entity.CandidateRecord
		statuses   []entity.ProcessingStatus
	)
	for rows.Next() {
		var (
			c           entity.CandidateRecord
			s           entity.ProcessingStatus
			publishedAt *time.Time
			state       string
		)
		if err := rows.Scan(
			&c.ID, &c.ExternalKey, &c.SourceURL, &c.Category, &c.CategoryName, &c.OrgTaxID, &c.OrgName,
			&c.Year, &c.Sequence, &publishedAt, &c.ReferenceDate,
			&state, &s.AttemptCount, &s.LastError, &s.ProcessedAt,
		); err != nil {
			return nil, nil, wrap("select pending", err)
		}
		if publishedAt != nil {
			c.PublishedAt = *publishedAt
		}
		s.State = entity.ProcessingState(state)
		s.RecordID = c.ID
		s.ExternalKey = c.ExternalKey
		candidates = append(candidates, c)
		statuses = append(statuses, s)
	}
	return candidates, statuses, wrap("select pending", rows.Err())
}

func selectPendingQuery(limit int) (string, []any, error) {
	cols := append(append([]string{}, candidateColumns...), "state", "attempt_count", "last_error", "processed_at")
	return psql.Select(cols...).
		From("candidates").
		Where(squirrel.Eq{"state": []string{string(entity.StatePending), string(entity.StateError)}}).
		Where(squirrel.Lt{"attempt_count": entity.MaxAttempts}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
}

// SelectByState returns the status of every candidate in the given state.
func (r *CandidateRepoImpl) SelectByState(ctx context.Context, state entity.ProcessingState) ([]entity.ProcessingStatus, error) {
	query, args, err := psql.Select(statusColumns...).
		From("candidates").
		Where(squirrel.Eq{"state": string(state)}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("select by state", err)
	}
	defer rows.Close()

	var out []entity.ProcessingStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, wrap("select by state", err)
		}
		out = append(out, *s)
	}
	return out, wrap("select by state", rows.Err())
}

// GetProcessingStatus returns repository.ErrNotFound for an unknown id.
func (r *CandidateRepoImpl) GetProcessingStatus(ctx context.Context, id int64) (*entity.ProcessingStatus, error) {
	query, args, err := psql.Select(statusColumns...).
		From("candidates").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	s, err := scanStatus(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, wrap(fmt.Sprintf("get status %d", id), err)
	}
	return s, nil
}

// UpdateProcessingStatus applies a partial status update.
func (r *CandidateRepoImpl) UpdateProcessingStatus(ctx context.Context, id int64, patch entity.ProcessingStatusPatch) error {
	if patch.Empty() {
		return nil
	}
	query, args, err := updateStatusQuery(id, patch)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return wrap(fmt.Sprintf("update status %d", id), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update status %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

func updateStatusQuery(id int64, patch entity.ProcessingStatusPatch) (string, []any, error) {
	q := psql.Update("candidates").Set("updated_at", squirrel.Expr("NOW()"))
	if patch.State != nil {
		q = q.Set("state", string(*patch.State))
	}
	if patch.AttemptCount != nil {
		q = q.Set("attempt_count", *patch.AttemptCount)
	}
	if patch.LastError != nil {
		if *patch.LastError == "" {
			q = q.Set("last_error", nil)
		} else {
			q = q.Set("last_error", *patch.LastError)
		}
	}
	if patch.ProcessedAt != nil {
		q = q.Set("processed_at", *patch.ProcessedAt)
	}
	return q.Where(squirrel.Eq{"id": id}).ToSql()
}

// CountByState returns the number of candidates per state.
func (r *CandidateRepoImpl) CountByState(ctx context.Context) (map[entity.ProcessingState]int, error) {
	rows, err := r.db.Query(ctx, `SELECT state, COUNT(*) FROM candidates GROUP BY state`)
	if err != nil {
		return nil, wrap("count by state", err)
	}
	defer rows.Close()

	counts := make(map[entity.ProcessingState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, wrap("count by state", err)
		}
		counts[entity.ProcessingState(state)] = n
	}
	return counts, wrap("count by state", rows.Err())
}

func scanStatus(row pgx.Row) (*entity.ProcessingStatus, error) {
	var (
		s     entity.ProcessingStatus
		state string
	)
	if err := row.Scan(&s.RecordID, &s.ExternalKey, &state, &s.AttemptCount, &s.LastError, &s.ProcessedAt); err != nil {
		return nil, err
	}
	s.State = entity.ProcessingState(state)
	return &s, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
