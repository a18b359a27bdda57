package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/extractor"
	"github.com/user/pncp-ingest/internal/repository"
	"github.com/user/pncp-ingest/pkg/metrics"
)

// DetailExtractor turns a candidate into a complete record.
type DetailExtractor interface {
	// Extract renders the candidate's detail page and recognizes its fields. Missing optional
	// fields are not an error; a missing identity, a render timeout or an unavailable browser are.
	Extract(ctx context.Context, candidate entity.CandidateRecord) (*entity.CompleteRecord, error)
}

type extractionUseCase struct {
	renderer repository.DetailRenderer
	pipeline *extractor.Pipeline
	subs     repository.SubCollectionSource
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewDetailExtractor creates the extraction use case. subs may be nil to rely on the rendered page
// alone.
func NewDetailExtractor(
	renderer repository.DetailRenderer,
	pipeline *extractor.Pipeline,
	subs repository.SubCollectionSource,
	m *metrics.Metrics,
	logger *zap.Logger,
) DetailExtractor {
	return &extractionUseCase{
		renderer: renderer,
		pipeline: pipeline,
		subs:     subs,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (uc *extractionUseCase) Extract(ctx context.Context, candidate entity.CandidateRecord) (*entity.CompleteRecord, error) {
	start := uc.now()
	log := uc.logger.With(zap.String("external_key", candidate.ExternalKey), zap.String("url", candidate.SourceURL))

	rec, err := uc.extract(ctx, candidate, log)
	elapsed := uc.now().Sub(start).Seconds()
	if err != nil {
		uc.metrics.ObserveExtraction("failure", errorType(err), elapsed)
		log.Warn("Extraction failed", zap.Float64("duration_seconds", elapsed), zap.Error(err))
		return nil, err
	}

	rec.ExtractionDurationSeconds = elapsed
	rec.ExtractedAt = uc.now()
	uc.metrics.ObserveExtraction("success", "", elapsed)
	log.Info("Extraction finished",
		zap.Float64("duration_seconds", elapsed),
		zap.String("method", rec.ExtractionMethod),
		zap.Int("items", len(rec.Items)),
		zap.Int("attachments", len(rec.Attachments)),
		zap.Int("history", len(rec.HistoryEvents)),
	)
	return rec, nil
}

func (uc *extractionUseCase) extract(ctx context.Context, candidate entity.CandidateRecord, log *zap.Logger) (*entity.CompleteRecord, error) {
	if _, err := extractor.ParseIdentity(candidate.SourceURL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityUnrecoverable, err)
	}

	rendered, err := uc.renderer.Render(ctx, candidate.SourceURL, entity.DetailTabs)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", candidate.SourceURL, err)
	}

	rec := &entity.CompleteRecord{
		CandidateRecord:  candidate,
		ExtractionMethod: entity.ExtractionRendered,
	}
	res, err := uc.pipeline.Extract(rendered, rec)
	if err != nil {
		if errors.Is(err, extractor.ErrNoIdentity) {
			return nil, fmt.Errorf("%w: %w", ErrIdentityUnrecoverable, err)
		}
		return nil, fmt.Errorf("parse rendered page: %w", err)
	}

	if uc.subs != nil {
		if err := uc.fillFromAPI(ctx, rec, log); err != nil {
			return nil, err
		}
	}

	missing := res.Missing(uc.pipeline.Names())
	for _, field := range missing {
		if filled(rec, field) {
			continue
		}
		uc.metrics.IncMissingField(field)
	}
	if len(missing) > 0 {
		log.Debug("Optional fields not found on page", zap.Strings("fields", missing))
	}
	return rec, nil
}

// fillFromAPI asks the integration API for every sub-collection the page left empty. The source
// gives up quietly, so only a cancelled context comes back as an error.
func (uc *extractionUseCase) fillFromAPI(ctx context.Context, rec *entity.CompleteRecord, log *zap.Logger) error {
	id := rec.NoticeID()
	used := false

	if len(rec.Items) == 0 {
		items, err := uc.subs.FetchItems(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch items: %w", err)
		}
		if len(items) > 0 {
			rec.Items = items
			used = true
			uc.metrics.IncSubCollectionFallback("items")
		}
	}
	if len(rec.Attachments) == 0 {
		attachments, err := uc.subs.FetchAttachments(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch attachments: %w", err)
		}
		if len(attachments) > 0 {
			rec.Attachments = attachments
			used = true
			uc.metrics.IncSubCollectionFallback("attachments")
		}
	}
	if len(rec.HistoryEvents) == 0 {
		history, err := uc.subs.FetchHistory(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}
		if len(history) > 0 {
			rec.HistoryEvents = history
			used = true
			uc.metrics.IncSubCollectionFallback("history")
		}
	}

	if used {
		rec.ExtractionMethod = entity.ExtractionRenderedAndAPI
		log.Debug("Sub-collections completed from the integration API")
	}
	return nil
}

func filled(rec *entity.CompleteRecord, field string) bool {
	switch field {
	case "items":
		return len(rec.Items) > 0
	case "attachments":
		return len(rec.Attachments) > 0
	case "history":
		return len(rec.HistoryEvents) > 0
	}
	return false
}

// errorType is the metrics label for an extraction failure.
func errorType(err error) string {
	switch {
	case errors.Is(err, repository.ErrRenderTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, repository.ErrRenderEngineUnavailable):
		return "render_engine"
	case errors.Is(err, repository.ErrNavigationFailed):
		return "navigation"
	case errors.Is(err, ErrIdentityUnrecoverable):
		return "identity"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown"
	}
}
