package usecase

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/extractor"
	"github.com/user/pncp-ingest/internal/repository"
	"github.com/user/pncp-ingest/pkg/metrics"
	"github.com/user/pncp-ingest/pkg/retry"
)

// DiscoveryOptions tunes how the listing API is paged.
type DiscoveryOptions struct {
	Categories    []entity.Category
	PageSize      int
	PageDelay     time.Duration
	CategoryDelay time.Duration
	// Workers above 1 pages several categories at once. Pacing is still enforced by the source
	// client's limiter.
	Workers       int
	DetailBaseURL string
	KnownKeyTTL   time.Duration
	Location      *time.Location
}

// DiscoveryResult is the outcome of one discovery pass.
type DiscoveryResult struct {
	Window     entity.DateWindow        `json:"-"`
	Candidates []entity.CandidateRecord `json:"-"`
	RawCount   int                      `json:"raw_count"`
	KnownCount int                      `json:"known_count"`
	NewCount   int                      `json:"new_count"`
	Inserted   int                      `json:"inserted"`
}

// DiscoveryFetcher enumerates candidate notices for a date window.
type DiscoveryFetcher interface {
	// Discover pages every category for the window and returns at most limit candidates that
	// are not stored yet. When some categories fail, the candidates gathered so far are returned
	// together with the joined errors.
	Discover(ctx context.Context, window entity.DateWindow, limit int) (*DiscoveryResult, error)
	// Window computes the date window for a lookback in days relative to now.
	Window(lookbackDays int, now time.Time) entity.DateWindow
}

type discoveryUseCase struct {
	source     repository.ListingSource
	candidates repository.CandidateRepository
	known      repository.KnownKeyCache
	opts       DiscoveryOptions
	metrics    *metrics.Metrics
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDiscoveryFetcher creates the discovery use case. known may be nil, in which case the store
// alone is asked for existing keys.
func NewDiscoveryFetcher(
	source repository.ListingSource,
	candidates repository.CandidateRepository,
	known repository.KnownKeyCache,
	opts DiscoveryOptions,
	m *metrics.Metrics,
	logger *zap.Logger,
) DiscoveryFetcher {
	if len(opts.Categories) == 0 {
		opts.Categories = entity.DefaultCategories
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &discoveryUseCase{
		source:     source,
		candidates: candidates,
		known:      known,
		opts:       opts,
		metrics:    m,
		logger:     logger,
		sleep:      retry.Sleep,
	}
}

func (uc *discoveryUseCase) Window(lookbackDays int, now time.Time) entity.DateWindow {
	local := now.In(uc.opts.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, uc.opts.Location)
	yesterday := today.AddDate(0, 0, -1)
	if lookbackDays <= 1 {
		return entity.DateWindow{Start: yesterday, End: yesterday}
	}
	return entity.DateWindow{Start: today.AddDate(0, 0, -lookbackDays), End: yesterday}
}

func (uc *discoveryUseCase) Discover(ctx context.Context, window entity.DateWindow, limit int) (*DiscoveryResult, error) {
	uc.logger.Info("Starting discovery",
		zap.String("window", window.String()),
		zap.Int("limit", limit),
		zap.Int("categories", len(uc.opts.Categories)),
	)

	var (
		raw    []entity.CandidateRecord
		runErr error
	)
	if uc.opts.Workers > 1 {
		raw, runErr = uc.collectParallel(ctx, window, limit)
	} else {
		raw, runErr = uc.collectSequential(ctx, window, limit)
	}

	result := &DiscoveryResult{Window: window, RawCount: len(raw)}
	fresh, known, err := uc.dropKnown(ctx, dedupe(raw))
	if err != nil {
		return result, errors.Join(runErr, err)
	}
	result.Candidates = fresh
	result.KnownCount = known
	result.NewCount = len(fresh)
	uc.metrics.AddCandidates(len(raw), known)

	uc.logger.Info("Discovery finished",
		zap.String("window", window.String()),
		zap.Int("raw", result.RawCount),
		zap.Int("known", result.KnownCount),
		zap.Int("new", result.NewCount),
		zap.Error(runErr),
	)
	return result, runErr
}

func (uc *discoveryUseCase) collectSequential(ctx context.Context, window entity.DateWindow, limit int) ([]entity.CandidateRecord, error) {
	var (
		out  []entity.CandidateRecord
		errs []error
	)
	for i, cat := range uc.opts.Categories {
		if limit > 0 && len(out) >= limit {
			break
		}
		if i > 0 {
			if err := uc.sleep(ctx, uc.opts.CategoryDelay); err != nil {
				errs = append(errs, err)
				break
			}
		}
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
		}
		found, err := uc.fetchCategory(ctx, window, cat, remaining)
		out = append(out, found...)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return out, errors.Join(errs...)
}

// collectParallel pages categories concurrently. Each category is capped at limit on its own and
// the merged list, kept in category order, is truncated afterwards.
func (uc *discoveryUseCase) collectParallel(ctx context.Context, window entity.DateWindow, limit int) ([]entity.CandidateRecord, error) {
	perCategory := make([][]entity.CandidateRecord, len(uc.opts.Categories))
	errs := make([]error, len(uc.opts.Categories))

	var g errgroup.Group
	g.SetLimit(uc.opts.Workers)
	for i, cat := range uc.opts.Categories {
		g.Go(func() error {
			perCategory[i], errs[i] = uc.fetchCategory(ctx, window, cat, limit)
			return nil
		})
	}
	_ = g.Wait()

	var out []entity.CandidateRecord
	for _, found := range perCategory {
		out = append(out, found...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, errors.Join(errs...)
}

// fetchCategory pages one category until a short page. limit <= 0 means no cap.
func (uc *discoveryUseCase) fetchCategory(ctx context.Context, window entity.DateWindow, cat entity.Category, limit int) ([]entity.CandidateRecord, error) {
	label := strconv.Itoa(cat.Code)
	var out []entity.CandidateRecord
	for page := 1; ; page++ {
		if page > 1 {
			if err := uc.sleep(ctx, uc.opts.PageDelay); err != nil {
				return out, err
			}
		}
		res, err := uc.source.ListPublications(ctx, entity.ListingQuery{
			Window:   window,
			Category: cat.Code,
			Page:     page,
			PageSize: uc.opts.PageSize,
		})
		if err != nil {
			uc.metrics.IncDiscoveryPage(label, "error")
			uc.logger.Warn("Listing page failed",
				zap.Int("category", cat.Code),
				zap.Int("page", page),
				zap.Int("collected", len(out)),
				zap.Error(err),
			)
			return out, err
		}
		if len(res.Items) == 0 {
			uc.metrics.IncDiscoveryPage(label, "empty")
			return out, nil
		}
		uc.metrics.IncDiscoveryPage(label, "ok")

		for _, item := range res.Items {
			out = append(out, uc.toCandidate(item, cat, window))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if len(res.Items) < uc.opts.PageSize {
			return out, nil
		}
	}
}

func (uc *discoveryUseCase) toCandidate(item entity.ListingItem, cat entity.Category, window entity.DateWindow) entity.CandidateRecord {
	categoryName := item.CategoryName
	if categoryName == "" {
		categoryName = cat.Name
	}
	return entity.CandidateRecord{
		ExternalKey:   item.ExternalKey(),
		SourceURL:     extractor.DetailURL(uc.opts.DetailBaseURL, item.NoticeID),
		Category:      cat.Code,
		CategoryName:  categoryName,
		OrgTaxID:      item.OrgTaxID,
		OrgName:       item.OrgName,
		Year:          item.Year,
		Sequence:      item.Sequence,
		PublishedAt:   item.PublishedAt,
		ReferenceDate: window.End,
	}
}

// dedupe keeps the first occurrence of every external key.
func dedupe(in []entity.CandidateRecord) []entity.CandidateRecord {
	seen := make(map[string]struct{}, len(in))
	out := make([]entity.CandidateRecord, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c.ExternalKey]; ok {
			continue
		}
		seen[c.ExternalKey] = struct{}{}
		out = append(out, c)
	}
	return out
}

// dropKnown removes candidates the cache or the store already know. Cache failures are logged
// and the store is asked for every key instead.
func (uc *discoveryUseCase) dropKnown(ctx context.Context, in []entity.CandidateRecord) ([]entity.CandidateRecord, int, error) {
	if len(in) == 0 {
		return nil, 0, nil
	}
	keys := make([]string, len(in))
	for i, c := range in {
		keys[i] = c.ExternalKey
	}

	known := make(map[string]struct{})
	if uc.known != nil {
		cached, err := uc.known.FilterKnown(ctx, keys)
		if err != nil {
			uc.logger.Warn("Known-key cache lookup failed, asking the store", zap.Error(err))
		}
		for k := range cached {
			known[k] = struct{}{}
		}
	}

	var unresolved []string
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			unresolved = append(unresolved, k)
		}
	}
	if len(unresolved) > 0 {
		stored, err := uc.candidates.FindExistingKeys(ctx, unresolved)
		if err != nil {
			return nil, 0, err
		}
		var backfill []string
		for k := range stored {
			known[k] = struct{}{}
			backfill = append(backfill, k)
		}
		if uc.known != nil && len(backfill) > 0 {
			if err := uc.known.MarkKnown(ctx, backfill, uc.opts.KnownKeyTTL); err != nil {
				uc.logger.Warn("Failed to backfill known-key cache", zap.Error(err))
			}
		}
	}

	out := make([]entity.CandidateRecord, 0, len(in))
	for _, c := range in {
		if _, ok := known[c.ExternalKey]; ok {
			continue
		}
		out = append(out, c)
	}
	return out, len(in) - len(out), nil
}
