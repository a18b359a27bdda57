package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/pncp-ingest/internal/adapter/chromedp_crawler"
	"github.com/user/pncp-ingest/internal/adapter/pncp"
	"github.com/user/pncp-ingest/internal/adapter/postgres"
	redis_adapter "github.com/user/pncp-ingest/internal/adapter/redis"
	"github.com/user/pncp-ingest/internal/delivery/http/handler"
	"github.com/user/pncp-ingest/internal/delivery/http/router"
	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/extractor"
	"github.com/user/pncp-ingest/internal/usecase"
	"github.com/user/pncp-ingest/pkg/config"
	"github.com/user/pncp-ingest/pkg/logger"
	"github.com/user/pncp-ingest/pkg/metrics"
	"github.com/user/pncp-ingest/pkg/retry"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	// --- Logger ---
	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	// --- Metrics ---
	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	dbpool, err := postgres.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		zl.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer dbpool.Close()
	zl.Info("PostgreSQL connection pool established")

	rdb := redis_adapter.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rdb.Close()
	knownKeys := redis_adapter.NewKnownKeyRepo(rdb)
	if err := knownKeys.Ping(ctx); err != nil {
		// The cache only speeds discovery up; the store answers without it.
		zl.Warn("Redis unreachable, known-key cache degraded", zap.Error(err))
	}

	candidateRepo := postgres.NewCandidateRepo(dbpool)
	recordRepo := postgres.NewCompleteRecordRepo(dbpool)
	executionRepo := postgres.NewExecutionRepo(dbpool)
	schedulerRepo := postgres.NewSchedulerConfigRepo(dbpool)

	// --- Source and browser ---
	loc := cfg.Location()
	source := pncp.NewClient(pncp.Options{
		ConsultaURL:       cfg.SourceConsultaURL,
		IntegracaoURL:     cfg.SourceIntegracaoURL,
		Timeout:           cfg.SourceTimeout,
		RequestsPerSecond: cfg.SourceRPS,
		Retry: retry.Policy{
			MaxAttempts:    cfg.SourceMaxRetries,
			RateLimitDelay: cfg.SourceRateLimitBackoff,
			ErrorDelay:     cfg.SourceErrorBackoff,
		},
		Location: loc,
	}, zl.Named("pncp"))

	browser := chromedp_crawler.NewBrowserSession(chromedp_crawler.Options{
		PageLoadTimeout: cfg.PageLoadTimeout,
		SettleDelay:     cfg.RenderSettleDelay,
		TabSettleDelay:  cfg.TabSettleDelay,
		IdleTimeout:     cfg.BrowserIdleTimeout,
	}, chromedp_crawler.NewIdentityPool(splitList(cfg.BrowserProxy), nil), zl.Named("browser"))
	defer browser.Close()

	// --- Use Cases ---
	discovery := usecase.NewDiscoveryFetcher(source, candidateRepo, knownKeys, usecase.DiscoveryOptions{
		Categories:    entity.DefaultCategories,
		PageSize:      cfg.DiscoveryPageSize,
		PageDelay:     cfg.DiscoveryPageDelay,
		CategoryDelay: cfg.DiscoveryCategoryDelay,
		Workers:       cfg.DiscoveryWorkers,
		DetailBaseURL: cfg.SourceDetailURL,
		KnownKeyTTL:   cfg.KnownKeyTTL,
		Location:      loc,
	}, m, zl.Named("discovery"))
	processing := usecase.NewProcessingStateMachine(candidateRepo, m, zl.Named("processing"))
	detail := usecase.NewDetailExtractor(browser, extractor.DefaultPipeline().WithLocation(loc), source, m, zl.Named("extraction"))

	scheduler := usecase.NewScheduler(discovery, processing, detail, candidateRepo, recordRepo, executionRepo, schedulerRepo, knownKeys,
		usecase.SchedulerOptions{
			Defaults: entity.SchedulerConfig{
				RunAt:        cfg.SchedulerRunAt,
				Enabled:      cfg.SchedulerEnabled,
				LookbackDays: cfg.SchedulerLookbackDays,
				PerRunLimit:  cfg.SchedulerPerRunLimit,
			},
			DiscoveryLimit: cfg.DiscoveryLimit,
			RecordTimeout:  cfg.RecordTimeout,
			KnownKeyTTL:    cfg.KnownKeyTTL,
			Location:       loc,
		}, m, zl.Named("scheduler"))
	if err := scheduler.Start(ctx); err != nil {
		zl.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(scheduler, processing, map[string]handler.Pinger{
		"postgres": dbpool,
		"redis":    knownKeys,
	}, zl.Named("http"))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.New(apiHandler, m, prometheus.DefaultGatherer, zl),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("could not start server", zap.Error(err))
		}
	}()
	zl.Info("server started", zap.String("port", cfg.ServerPort), zap.String("timezone", loc.String()))

	<-ctx.Done()
	zl.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	zl.Info("server exiting")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
