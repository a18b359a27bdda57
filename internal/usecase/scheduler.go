package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
	"github.com/user/pncp-ingest/pkg/metrics"
)

// Run triggers recorded on the audit log.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// SchedulerOptions holds the values the scheduler needs besides its persisted configuration.
type SchedulerOptions struct {
	// Defaults seed the persisted configuration when none exists.
	Defaults       entity.SchedulerConfig
	DiscoveryLimit int
	RecordTimeout  time.Duration
	KnownKeyTTL    time.Duration
	Location       *time.Location
}

// Scheduler runs the daily ingestion and keeps its audit log.
type Scheduler interface {
	// Start loads (or seeds) the persisted configuration and arms the daily timer.
	Start(ctx context.Context) error
	// Stop disarms the timer. A run in progress finishes on its own.
	Stop()
	// ExecuteRun performs a full run synchronously. It returns ErrRunInProgress without touching
	// the audit log when another run holds the scheduler.
	ExecuteRun(ctx context.Context, trigger string) (*entity.ExecutionAuditEntry, error)
	// TriggerRun starts a run in the background and returns its id.
	TriggerRun(trigger string) (string, error)
	// TriggerDiscovery discovers and stores candidates for the last days without processing them.
	TriggerDiscovery(ctx context.Context, days, limit int) (*DiscoveryResult, error)
	Configure(ctx context.Context, patch entity.SchedulerConfigPatch) (*entity.SchedulerConfig, error)
	Status(ctx context.Context) (*entity.SchedulerStatus, error)
	History(ctx context.Context, limit int) ([]entity.ExecutionAuditEntry, error)
}

type schedulerUseCase struct {
	discovery  DiscoveryFetcher
	processing ProcessingStateMachine
	extractor  DetailExtractor
	candidates repository.CandidateRepository
	records    repository.CompleteRecordRepository
	executions repository.ExecutionRepository
	configs    repository.SchedulerConfigRepository
	known      repository.KnownKeyCache
	opts       SchedulerOptions
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	baseCtx context.Context
	cfg     entity.SchedulerConfig
	timer   *time.Timer
	runID   string
}

// NewScheduler wires the orchestrator. known may be nil.
func NewScheduler(
	discovery DiscoveryFetcher,
	processing ProcessingStateMachine,
	extractor DetailExtractor,
	candidates repository.CandidateRepository,
	records repository.CompleteRecordRepository,
	executions repository.ExecutionRepository,
	configs repository.SchedulerConfigRepository,
	known repository.KnownKeyCache,
	opts SchedulerOptions,
	m *metrics.Metrics,
	logger *zap.Logger,
) Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &schedulerUseCase{
		discovery:  discovery,
		processing: processing,
		extractor:  extractor,
		candidates: candidates,
		records:    records,
		executions: executions,
		configs:    configs,
		known:      known,
		opts:       opts,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		baseCtx:    context.Background(),
		cfg:        opts.Defaults,
	}
}

// NextRunAt is today at runAt in loc if that moment is still ahead of now, otherwise tomorrow at
// runAt.
func NextRunAt(now time.Time, runAt string, loc *time.Location) (time.Time, error) {
	hour, minute, err := entity.ParseRunAt(runAt)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next, nil
}

func (uc *schedulerUseCase) Start(ctx context.Context) error {
	uc.mu.Lock()
	uc.baseCtx = context.WithoutCancel(ctx)
	uc.mu.Unlock()

	cfg, err := uc.configs.Read(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		seed := uc.opts.Defaults
		if verr := seed.Validate(); verr != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, verr)
		}
		cfg, err = uc.configs.Write(ctx, seed.Patch())
		if err == nil {
			uc.logger.Info("Seeded scheduler configuration", zap.String("run_at", cfg.RunAt))
		}
	}
	if err != nil {
		return fmt.Errorf("load scheduler configuration: %w", err)
	}
	uc.setConfig(*cfg)

	if !cfg.Enabled {
		uc.logger.Info("Scheduler disabled, no run armed")
		return nil
	}

	now := uc.now()
	if cfg.NextRunAt != nil && cfg.NextRunAt.After(now) {
		uc.arm(*cfg.NextRunAt)
		return nil
	}
	// A run missed while the process was down is not caught up; the next one is scheduled.
	return uc.scheduleNext(ctx, now, nil)
}

func (uc *schedulerUseCase) Stop() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.disarmLocked()
}

func (uc *schedulerUseCase) ExecuteRun(ctx context.Context, trigger string) (*entity.ExecutionAuditEntry, error) {
	if !uc.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	return uc.run(ctx, uuid.NewString(), trigger)
}

func (uc *schedulerUseCase) TriggerRun(trigger string) (string, error) {
	if !uc.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}
	id := uuid.NewString()
	uc.mu.Lock()
	ctx := uc.baseCtx
	uc.mu.Unlock()
	go func() {
		if _, err := uc.run(ctx, id, trigger); err != nil {
			uc.logger.Error("Run failed to start", zap.String("run_id", id), zap.Error(err))
		}
	}()
	return id, nil
}

// fire is the timer callback.
func (uc *schedulerUseCase) fire() {
	uc.mu.Lock()
	uc.timer = nil
	ctx := uc.baseCtx
	uc.mu.Unlock()

	if !uc.running.CompareAndSwap(false, true) {
		uc.logger.Info("Scheduled run skipped, another run is in progress")
		if err := uc.scheduleNext(ctx, uc.now(), nil); err != nil {
			uc.logger.Error("Failed to schedule next run", zap.Error(err))
		}
		return
	}
	if _, err := uc.run(ctx, uuid.NewString(), TriggerScheduled); err != nil {
		uc.logger.Error("Scheduled run failed to start", zap.Error(err))
	}
}

type runCounts struct {
	found    int
	ingested int
	errors   int
	message  string
}

// run executes one ingestion pass. The caller must hold the running flag; run releases it.
func (uc *schedulerUseCase) run(ctx context.Context, id, trigger string) (*entity.ExecutionAuditEntry, error) {
	defer uc.running.Store(false)
	uc.setRunID(id)
	defer uc.setRunID("")

	cfg := uc.config()
	start := uc.now()
	window := uc.discovery.Window(cfg.LookbackDays, start)
	log := uc.logger.With(zap.String("run_id", id), zap.String("trigger", trigger))

	// The next run is scheduled whatever happens to this one.
	defer func() {
		if err := uc.scheduleNext(ctx, uc.now(), &start); err != nil {
			log.Error("Failed to schedule next run", zap.Error(err))
		}
	}()

	entry := &entity.ExecutionAuditEntry{
		ID:        id,
		StartedAt: start,
		Status:    entity.ExecutionRunning,
		Trigger:   trigger,
		Window:    window.String(),
	}
	if err := uc.executions.Insert(ctx, entry); err != nil {
		uc.metrics.IncRun(string(entity.ExecutionFailed))
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	log.Info("Run started", zap.String("window", entry.Window), zap.Int("per_run_limit", cfg.PerRunLimit))

	counts, runErr := uc.pipeline(ctx, log, cfg, window)

	finished := uc.now()
	patch := entity.ExecutionPatch{
		FinishedAt:      finished,
		Status:          entity.ExecutionCompleted,
		CandidatesFound: counts.found,
		RecordsIngested: counts.ingested,
		ErrorCount:      counts.errors,
		DurationSeconds: finished.Sub(start).Seconds(),
		Message:         counts.message,
	}
	if runErr != nil {
		patch.Status = entity.ExecutionFailed
		patch.Message = runErr.Error()
	}
	if err := uc.executions.Update(ctx, id, patch); err != nil {
		log.Error("Failed to finalize audit entry", zap.Error(err))
	}

	entry.FinishedAt = &finished
	entry.Status = patch.Status
	entry.CandidatesFound = patch.CandidatesFound
	entry.RecordsIngested = patch.RecordsIngested
	entry.ErrorCount = patch.ErrorCount
	entry.DurationSeconds = patch.DurationSeconds
	entry.Message = patch.Message
	uc.metrics.IncRun(string(patch.Status))

	log.Info("Run finished",
		zap.String("status", string(patch.Status)),
		zap.Int("candidates_found", counts.found),
		zap.Int("records_ingested", counts.ingested),
		zap.Int("errors", counts.errors),
		zap.Float64("duration_seconds", patch.DurationSeconds),
		zap.Error(runErr),
	)
	return entry, nil
}

func (uc *schedulerUseCase) pipeline(ctx context.Context, log *zap.Logger, cfg entity.SchedulerConfig, window entity.DateWindow) (runCounts, error) {
	var counts runCounts

	if _, err := uc.processing.RecoverInterrupted(ctx); err != nil {
		log.Warn("Failed to release interrupted records", zap.Error(err))
	}

	res, err := uc.discovery.Discover(ctx, window, uc.opts.DiscoveryLimit)
	if err != nil {
		if res == nil || res.RawCount == 0 {
			return counts, fmt.Errorf("discovery: %w", err)
		}
		// Partial results only cover source outages; a store failure leaves nothing trustworthy.
		if errors.Is(err, repository.ErrPersistence) {
			return counts, fmt.Errorf("discovery: %w", err)
		}
		log.Warn("Discovery finished with errors, continuing with partial results", zap.Error(err))
		counts.message = "partial discovery: " + err.Error()
	}
	counts.found = len(res.Candidates)

	if _, err := uc.persistCandidates(ctx, log, res.Candidates); err != nil {
		return counts, err
	}

	batch, err := uc.processing.SelectBatch(ctx, cfg.PerRunLimit)
	if err != nil {
		return counts, fmt.Errorf("select batch: %w", err)
	}
	defer uc.processing.Finish()

	for _, candidate := range batch {
		if ctx.Err() != nil {
			log.Warn("Run cancelled, leaving remaining records claimed", zap.Error(ctx.Err()))
			break
		}
		if uc.processRecord(ctx, log, candidate) {
			counts.ingested++
		} else {
			counts.errors++
		}
	}
	return counts, nil
}

// processRecord extracts and stores one record. Extraction failures become failed attempts;
// storage failures leave the record claimed for the next run's recovery.
func (uc *schedulerUseCase) processRecord(ctx context.Context, log *zap.Logger, candidate entity.CandidateRecord) bool {
	log = log.With(zap.String("external_key", candidate.ExternalKey))
	uc.processing.MarkCurrent(candidate.SourceURL)

	recordCtx := ctx
	if uc.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(ctx, uc.opts.RecordTimeout)
		defer cancel()
	}

	rec, err := uc.extractor.Extract(recordCtx, candidate)
	if err != nil {
		status, rerr := uc.processing.ReportOutcome(ctx, candidate.ID, false, err)
		if rerr != nil {
			log.Error("Failed to record failed attempt", zap.Error(rerr))
			uc.processing.Abandon(candidate.ID, rerr)
			return false
		}
		log.Warn("Record extraction failed",
			zap.String("state", string(status.State)),
			zap.Int("attempt", status.AttemptCount),
			zap.Error(err),
		)
		return false
	}

	if err := uc.records.UpsertCompleteRecord(ctx, rec); err != nil {
		log.Error("Failed to store complete record", zap.Error(err))
		uc.processing.Abandon(candidate.ID, err)
		return false
	}

	if _, err := uc.processing.ReportOutcome(ctx, candidate.ID, true, nil); err != nil {
		// The record is stored; the next recovery re-selects it and the upsert is idempotent.
		log.Error("Failed to record success", zap.Error(err))
	}
	return true
}

func (uc *schedulerUseCase) persistCandidates(ctx context.Context, log *zap.Logger, candidates []entity.CandidateRecord) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	inserted, err := uc.candidates.UpsertCandidates(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("persist candidates: %w", err)
	}
	if uc.known != nil {
		keys := make([]string, len(candidates))
		for i, c := range candidates {
			keys[i] = c.ExternalKey
		}
		if err := uc.known.MarkKnown(ctx, keys, uc.opts.KnownKeyTTL); err != nil {
			log.Warn("Failed to update known-key cache", zap.Error(err))
		}
	}
	log.Info("Stored candidates", zap.Int("candidates", len(candidates)), zap.Int("inserted", inserted))
	return inserted, nil
}

func (uc *schedulerUseCase) TriggerDiscovery(ctx context.Context, days, limit int) (*DiscoveryResult, error) {
	cfg := uc.config()
	if days <= 0 {
		days = cfg.LookbackDays
	}
	if limit <= 0 {
		limit = uc.opts.DiscoveryLimit
	}

	window := uc.discovery.Window(days, uc.now())
	res, err := uc.discovery.Discover(ctx, window, limit)
	if res == nil {
		return nil, err
	}
	inserted, perr := uc.persistCandidates(ctx, uc.logger, res.Candidates)
	if perr != nil {
		return res, errors.Join(err, perr)
	}
	res.Inserted = inserted
	return res, err
}

func (uc *schedulerUseCase) Configure(ctx context.Context, patch entity.SchedulerConfigPatch) (*entity.SchedulerConfig, error) {
	merged := patch.Apply(uc.config())
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	uc.Stop()
	if merged.Enabled {
		next, err := NextRunAt(uc.now(), merged.RunAt, uc.opts.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		patch.NextRunAt = &next
	}

	cfg, err := uc.configs.Write(ctx, patch)
	if err != nil {
		// Keep the previous schedule alive.
		uc.rearm()
		return nil, fmt.Errorf("write scheduler configuration: %w", err)
	}
	uc.setConfig(*cfg)
	uc.rearm()

	uc.logger.Info("Scheduler reconfigured",
		zap.String("run_at", cfg.RunAt),
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("lookback_days", cfg.LookbackDays),
		zap.Int("per_run_limit", cfg.PerRunLimit),
	)
	return cfg, nil
}

func (uc *schedulerUseCase) Status(ctx context.Context) (*entity.SchedulerStatus, error) {
	cfg, err := uc.configs.Read(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c := uc.config()
		cfg = &c
	case err != nil:
		return nil, fmt.Errorf("read scheduler configuration: %w", err)
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	return &entity.SchedulerStatus{
		Config:       *cfg,
		Running:      uc.running.Load(),
		CurrentRunID: uc.runID,
		TimerArmed:   uc.timer != nil,
		Timezone:     uc.opts.Location.String(),
	}, nil
}

func (uc *schedulerUseCase) History(ctx context.Context, limit int) ([]entity.ExecutionAuditEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	entries, err := uc.executions.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return entries, nil
}

// scheduleNext persists the following run time (and lastRunAt when given) and arms the timer if
// the scheduler is enabled.
func (uc *schedulerUseCase) scheduleNext(ctx context.Context, now time.Time, lastRun *time.Time) error {
	cfg := uc.config()
	patch := entity.SchedulerConfigPatch{LastRunAt: lastRun}
	if cfg.Enabled {
		next, err := NextRunAt(now, cfg.RunAt, uc.opts.Location)
		if err != nil {
			return err
		}
		patch.NextRunAt = &next
	}
	if patch.LastRunAt == nil && patch.NextRunAt == nil {
		return nil
	}

	stored, err := uc.configs.Write(ctx, patch)
	if errors.Is(err, repository.ErrNotFound) {
		// The row is gone or was never seeded; recreate it from the cached configuration.
		stored, err = uc.configs.Write(ctx, patch.Apply(cfg).Patch())
	}
	if err == nil {
		if verr := stored.Validate(); verr != nil {
			err = fmt.Errorf("stored configuration is invalid: %w", verr)
		}
	}
	if err != nil {
		// Still arm from memory so the cadence survives a flaky store.
		cfg = patch.Apply(cfg)
		uc.setConfig(cfg)
		uc.rearm()
		return fmt.Errorf("persist next run: %w", err)
	}
	uc.setConfig(*stored)
	uc.rearm()
	return nil
}

// rearm arms the timer for the cached next run, or disarms it when disabled.
func (uc *schedulerUseCase) rearm() {
	cfg := uc.config()
	if !cfg.Enabled || cfg.NextRunAt == nil {
		uc.Stop()
		return
	}
	uc.arm(*cfg.NextRunAt)
}

func (uc *schedulerUseCase) arm(at time.Time) {
	delay := max(at.Sub(uc.now()), 0)

	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.disarmLocked()
	uc.timer = time.AfterFunc(delay, uc.fire)
	uc.logger.Info("Next run armed", zap.Time("next_run_at", at), zap.Duration("in", delay))
}

func (uc *schedulerUseCase) disarmLocked() {
	if uc.timer != nil {
		uc.timer.Stop()
		uc.timer = nil
	}
}

func (uc *schedulerUseCase) config() entity.SchedulerConfig {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.cfg
}

func (uc *schedulerUseCase) setConfig(cfg entity.SchedulerConfig) {
	uc.mu.Lock()
	uc.cfg = cfg
	uc.mu.Unlock()
}

func (uc *schedulerUseCase) setRunID(id string) {
	uc.mu.Lock()
	uc.runID = id
	uc.mu.Unlock()
}
