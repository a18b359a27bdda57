package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

// CompleteRecordRepoImpl implements repository.CompleteRecordRepository on PostgreSQL.
type CompleteRecordRepoImpl struct {
	db *pgxpool.Pool
}

var _ repository.CompleteRecordRepository = (*CompleteRecordRepoImpl)(nil)

// NewCompleteRecordRepo creates a new instance of CompleteRecordRepoImpl.
func NewCompleteRecordRepo(db *pgxpool.Pool) *CompleteRecordRepoImpl {
	return &CompleteRecordRepoImpl{db: db}
}

const upsertRecordSQL = `
	INSERT INTO complete_records (
		candidate_id, external_key, source_url, category, category_name, org_tax_id, org_name, year, sequence,
		published_at, reference_date, title, issuing_body, buying_unit, location, modality, legal_basis,
		notice_type, status, disclosed_on, proposal_start, proposal_end, estimated_value, estimated_value_text,
		awarded_value, budget_source, object_description, items, attachments, history_events,
		extraction_method, extraction_duration_seconds, extracted_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
		$22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33)
	ON CONFLICT (external_key) DO UPDATE SET
		candidate_id = EXCLUDED.candidate_id,
		source_url = EXCLUDED.source_url,
		category = EXCLUDED.category,
		category_name = EXCLUDED.category_name,
		org_name = EXCLUDED.org_name,
		published_at = EXCLUDED.published_at,
		reference_date = EXCLUDED.reference_date,
		title = EXCLUDED.title,
		issuing_body = EXCLUDED.issuing_body,
		buying_unit = EXCLUDED.buying_unit,
		location = EXCLUDED.location,
		modality = EXCLUDED.modality,
		legal_basis = EXCLUDED.legal_basis,
		notice_type = EXCLUDED.notice_type,
		status = EXCLUDED.status,
		disclosed_on = EXCLUDED.disclosed_on,
		proposal_start = EXCLUDED.proposal_start,
		proposal_end = EXCLUDED.proposal_end,
		estimated_value = EXCLUDED.estimated_value,
		estimated_value_text = EXCLUDED.estimated_value_text,
		awarded_value = EXCLUDED.awarded_value,
		budget_source = EXCLUDED.budget_source,
		object_description = EXCLUDED.object_description,
		items = EXCLUDED.items,
		attachments = EXCLUDED.attachments,
		history_events = EXCLUDED.history_events,
		extraction_method = EXCLUDED.extraction_method,
		extraction_duration_seconds = EXCLUDED.extraction_duration_seconds,
		extracted_at = EXCLUDED.extracted_at,
		updated_at = NOW()`

// upsertRecordArgs flattens a record into the positional arguments of upsertRecordSQL.
func upsertRecordArgs(rec *entity.CompleteRecord) ([]any, error) {
	items, err := marshalCollection(rec.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	attachments, err := marshalCollection(rec.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}
	history, err := marshalCollection(rec.HistoryEvents)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	var candidateID *int64
	if rec.ID != 0 {
		id := rec.ID
		candidateID = &id
	}
	var referenceDate *time.Time
	if !rec.ReferenceDate.IsZero() {
		referenceDate = &rec.ReferenceDate
	}

	return []any{
		candidateID, rec.ExternalKey, rec.SourceURL, rec.Category, rec.CategoryName, rec.OrgTaxID, rec.OrgName,
		rec.Year, rec.Sequence, nullTime(rec.PublishedAt), referenceDate,
		rec.Title, rec.IssuingBody, rec.BuyingUnit, rec.Location, rec.Modality, rec.LegalBasis,
		rec.NoticeType, rec.Status, rec.DisclosedOn, rec.ProposalStart, rec.ProposalEnd,
		rec.EstimatedValue, rec.EstimatedValueText, rec.AwardedValue, rec.BudgetSource, rec.ObjectDescription,
		items, attachments, history,
		rec.ExtractionMethod, rec.ExtractionDurationSeconds, rec.ExtractedAt,
	}, nil
}

// marshalCollection encodes a sub-collection, storing nil as an empty JSON array.
func marshalCollection[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}

// UpsertCompleteRecord inserts the record or replaces the stored one with the same external key.
func (r *CompleteRecordRepoImpl) UpsertCompleteRecord(ctx context.Context, rec *entity.CompleteRecord) error {
	args, err := upsertRecordArgs(rec)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, upsertRecordSQL, args...); err != nil {
		return wrap("upsert complete record "+rec.ExternalKey, err)
	}
	return nil
}

// FindByExternalKey returns repository.ErrNotFound for an unknown key.
func (r *CompleteRecordRepoImpl) FindByExternalKey(ctx context.Context, key string) (*entity.CompleteRecord, error) {
	query := `
		SELECT COALESCE(candidate_id, 0), external_key, source_url, category, category_name, org_tax_id, org_name,
			year, sequence, published_at, reference_date, title, issuing_body, buying_unit, location, modality,
			legal_basis, notice_type, status, disclosed_on, proposal_start, proposal_end, estimated_value::float8,
			estimated_value_text, awarded_value::float8, budget_source, object_description, items, attachments,
			history_events, extraction_method, extraction_duration_seconds, extracted_at
		FROM complete_records
		WHERE external_key = $1`

	var (
		rec                         entity.CompleteRecord
		publishedAt, referenceDate  *time.Time
		items, attachments, history []byte
	)
	err := r.db.QueryRow(ctx, query, key).Scan(
		&rec.ID, &rec.ExternalKey, &rec.SourceURL, &rec.Category, &rec.CategoryName, &rec.OrgTaxID, &rec.OrgName,
		&rec.Year, &rec.Sequence, &publishedAt, &referenceDate, &rec.Title, &rec.IssuingBody, &rec.BuyingUnit,
		&rec.Location, &rec.Modality, &rec.LegalBasis, &rec.NoticeType, &rec.Status, &rec.DisclosedOn,
		&rec.ProposalStart, &rec.ProposalEnd, &rec.EstimatedValue, &rec.EstimatedValueText, &rec.AwardedValue,
		&rec.BudgetSource, &rec.ObjectDescription, &items, &attachments, &history,
		&rec.ExtractionMethod, &rec.ExtractionDurationSeconds, &rec.ExtractedAt,
	)
	if err != nil {
		return nil, wrap("find complete record "+key, err)
	}
	if publishedAt != nil {
		rec.PublishedAt = *publishedAt
	}
	if referenceDate != nil {
		rec.ReferenceDate = *referenceDate
	}
	if err := json.Unmarshal(items, &rec.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(attachments, &rec.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal(history, &rec.HistoryEvents); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &rec, nil
}
