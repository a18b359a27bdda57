package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/pncp-ingest/internal/delivery/http/handler"
	"github.com/user/pncp-ingest/internal/delivery/http/middleware"
	"github.com/user/pncp-ingest/pkg/metrics"
)

const requestTimeout = 60 * time.Second

func New(h *handler.Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(m))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		// Discovery pages the whole source synchronously and may outlive the request timeout.
		r.Post("/discovery", h.HandleTriggerDiscovery)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))

			r.Get("/health", h.HandleHealthCheck)
			r.Post("/runs", h.HandleTriggerRun)
			r.Get("/scheduler", h.HandleGetScheduler)
			r.Put("/scheduler", h.HandleConfigureScheduler)
			r.Get("/processing", h.HandleGetProcessing)
			r.Post("/processing/reset", h.HandleResetProcessing)
			r.Get("/executions", h.HandleListExecutions)
		})
	})

	return r
}
