package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
	"github.com/user/pncp-ingest/pkg/metrics"
)

// ProcessingStateMachine owns every change to a candidate's processing status.
type ProcessingStateMachine interface {
	// SelectBatch claims up to limit selectable candidates, oldest first, and starts a new
	// progress snapshot for them.
	SelectBatch(ctx context.Context, limit int) ([]entity.CandidateRecord, error)
	// ReportOutcome records the result of one extraction attempt.
	ReportOutcome(ctx context.Context, recordID int64, success bool, cause error) (*entity.ProcessingStatus, error)
	// Abandon counts a record as an error in the snapshot without touching its stored status,
	// leaving it claimed until the next recovery.
	Abandon(recordID int64, cause error)
	MarkCurrent(url string)
	// Finish closes the current snapshot.
	Finish()
	// Reset returns records to Pending with no attempts. With no ids every Failed record is reset.
	Reset(ctx context.Context, ids []int64) (int, error)
	// RecoverInterrupted releases records left in Processing by an earlier run.
	RecoverInterrupted(ctx context.Context) (int, error)
	Status(ctx context.Context) (*entity.ProcessingReport, error)
}

type processingUseCase struct {
	candidates repository.CandidateRepository
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	snapshot entity.ProcessingSnapshot
}

// NewProcessingStateMachine creates the processing state machine.
func NewProcessingStateMachine(candidates repository.CandidateRepository, m *metrics.Metrics, logger *zap.Logger) ProcessingStateMachine {
	return &processingUseCase{
		candidates: candidates,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

func (uc *processingUseCase) SelectBatch(ctx context.Context, limit int) ([]entity.CandidateRecord, error) {
	if limit < 1 {
		return nil, nil
	}
	records, statuses, err := uc.candidates.SelectPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending candidates: %w", err)
	}

	batch := make([]entity.CandidateRecord, 0, len(records))
	for i, rec := range records {
		claimed, err := statuses[i].Claim()
		if err != nil {
			// The store handed out something it should not have; leave it alone.
			uc.logger.Warn("Skipping unselectable record",
				zap.Int64("record_id", rec.ID),
				zap.String("state", string(statuses[i].State)),
				zap.Int("attempt", statuses[i].AttemptCount),
			)
			continue
		}
		if err := uc.candidates.UpdateProcessingStatus(ctx, rec.ID, entity.Diff(statuses[i], claimed)); err != nil {
			return nil, fmt.Errorf("claim record %d: %w", rec.ID, err)
		}
		batch = append(batch, rec)
	}

	started := uc.now()
	uc.mu.Lock()
	uc.snapshot = entity.ProcessingSnapshot{
		Running:   len(batch) > 0,
		Total:     len(batch),
		StartedAt: &started,
	}
	uc.mu.Unlock()
	uc.metrics.SetInFlight(len(batch))

	uc.logger.Info("Selected processing batch", zap.Int("limit", limit), zap.Int("selected", len(batch)))
	return batch, nil
}

func (uc *processingUseCase) ReportOutcome(ctx context.Context, recordID int64, success bool, cause error) (*entity.ProcessingStatus, error) {
	current, err := uc.candidates.GetProcessingStatus(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("load status of record %d: %w", recordID, err)
	}

	var next entity.ProcessingStatus
	if success {
		next, err = current.Succeed(uc.now())
	} else {
		msg := "unknown error"
		if cause != nil {
			msg = cause.Error()
		}
		next, err = current.Fail(msg)
	}
	if err != nil {
		return nil, err
	}

	if patch := entity.Diff(*current, next); !patch.Empty() {
		if err := uc.candidates.UpdateProcessingStatus(ctx, recordID, patch); err != nil {
			return nil, fmt.Errorf("update status of record %d: %w", recordID, err)
		}
	}

	uc.count(success)
	if next.State == entity.StateFailed {
		uc.logger.Warn("Record failed permanently",
			zap.Int64("record_id", recordID),
			zap.String("external_key", next.ExternalKey),
			zap.Int("attempt", next.AttemptCount),
		)
	}
	return &next, nil
}

func (uc *processingUseCase) Abandon(recordID int64, cause error) {
	uc.logger.Error("Record left claimed after a storage failure",
		zap.Int64("record_id", recordID),
		zap.Error(cause),
	)
	uc.count(false)
}

func (uc *processingUseCase) count(success bool) {
	uc.mu.Lock()
	if success {
		uc.snapshot.Processed++
	} else {
		uc.snapshot.Errors++
	}
	remaining := uc.snapshot.Total - uc.snapshot.Processed - uc.snapshot.Errors
	uc.mu.Unlock()
	uc.metrics.SetInFlight(max(remaining, 0))
}

func (uc *processingUseCase) MarkCurrent(url string) {
	uc.mu.Lock()
	uc.snapshot.CurrentURL = url
	uc.mu.Unlock()
}

func (uc *processingUseCase) Finish() {
	finished := uc.now()
	uc.mu.Lock()
	uc.snapshot.Running = false
	uc.snapshot.CurrentURL = ""
	uc.snapshot.FinishedAt = &finished
	uc.mu.Unlock()
	uc.metrics.SetInFlight(0)
}

func (uc *processingUseCase) Reset(ctx context.Context, ids []int64) (int, error) {
	var statuses []entity.ProcessingStatus
	if len(ids) == 0 {
		failed, err := uc.candidates.SelectByState(ctx, entity.StateFailed)
		if err != nil {
			return 0, fmt.Errorf("select failed records: %w", err)
		}
		statuses = failed
	} else {
		for _, id := range ids {
			st, err := uc.candidates.GetProcessingStatus(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, fmt.Errorf("load status of record %d: %w", id, err)
			}
			statuses = append(statuses, *st)
		}
	}

	reset := 0
	for _, st := range statuses {
		// Only records that have given up or are waiting for a retry are reset.
		if st.State != entity.StateFailed && st.State != entity.StateError {
			continue
		}
		patch := entity.Diff(st, st.Reset())
		if err := uc.candidates.UpdateProcessingStatus(ctx, st.RecordID, patch); err != nil {
			return reset, fmt.Errorf("reset record %d: %w", st.RecordID, err)
		}
		reset++
	}
	uc.logger.Info("Reset processing status", zap.Int("requested", len(ids)), zap.Int("reset", reset))
	return reset, nil
}

func (uc *processingUseCase) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := uc.candidates.SelectByState(ctx, entity.StateProcessing)
	if err != nil {
		return 0, fmt.Errorf("select interrupted records: %w", err)
	}
	for i, st := range stuck {
		patch := entity.Diff(st, st.Release())
		if err := uc.candidates.UpdateProcessingStatus(ctx, st.RecordID, patch); err != nil {
			return i, fmt.Errorf("release record %d: %w", st.RecordID, err)
		}
	}
	if len(stuck) > 0 {
		uc.logger.Info("Released interrupted records", zap.Int("count", len(stuck)))
	}
	return len(stuck), nil
}

func (uc *processingUseCase) Status(ctx context.Context) (*entity.ProcessingReport, error) {
	uc.mu.Lock()
	snap := uc.snapshot
	uc.mu.Unlock()

	counts, err := uc.candidates.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records by state: %w", err)
	}
	return &entity.ProcessingReport{Snapshot: snap, ByState: counts}, nil
}
