package repository

import (
	"context"

	"github.com/user/pncp-ingest/internal/entity"
)

// CandidateRepository stores discovered candidates and their processing status.
type CandidateRepository interface {
	// UpsertCandidates inserts candidates whose external key is unknown and returns how many were new.
	// Existing rows are left untouched.
	UpsertCandidates(ctx context.Context, candidates []entity.CandidateRecord) (int, error)
	// FindExistingKeys returns the subset of keys already stored.
	FindExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error)
	// SelectPending returns up to limit selectable candidates, oldest first.
	SelectPending(ctx context.Context, limit int) ([]entity.CandidateRecord, []entity.ProcessingStatus, error)
	// SelectByState returns the status of every candidate in the given state.
	SelectByState(ctx context.Context, state entity.ProcessingState) ([]entity.ProcessingStatus, error)
	// GetProcessingStatus returns ErrNotFound for an unknown id.
	GetProcessingStatus(ctx context.Context, id int64) (*entity.ProcessingStatus, error)
	UpdateProcessingStatus(ctx context.Context, id int64, patch entity.ProcessingStatusPatch) error
	CountByState(ctx context.Context) (map[entity.ProcessingState]int, error)
}

// CompleteRecordRepository stores fully extracted records.
type CompleteRecordRepository interface {
	// UpsertCompleteRecord inserts the record or replaces the stored one with the same external key.
	UpsertCompleteRecord(ctx context.Context, rec *entity.CompleteRecord) error
	FindByExternalKey(ctx context.Context, key string) (*entity.CompleteRecord, error)
}
