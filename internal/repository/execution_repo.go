package repository

import (
	"context"

	"github.com/user/pncp-ingest/internal/entity"
)

// ExecutionRepository is the append-mostly audit log of scheduler runs.
type ExecutionRepository interface {
	Insert(ctx context.Context, entry *entity.ExecutionAuditEntry) error
	Update(ctx context.Context, id string, patch entity.ExecutionPatch) error
	// List returns the most recent entries first.
	List(ctx context.Context, limit int) ([]entity.ExecutionAuditEntry, error)
}

// SchedulerConfigRepository persists the singleton scheduler configuration.
type SchedulerConfigRepository interface {
	// Read returns ErrNotFound when no configuration has been written yet.
	Read(ctx context.Context) (*entity.SchedulerConfig, error)
	// Write creates the singleton from the patch if it is missing, otherwise updates it.
	Write(ctx context.Context, patch entity.SchedulerConfigPatch) (*entity.SchedulerConfig, error)
}
