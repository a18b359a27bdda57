package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	DiscoveryPagesTotal  *prometheus.CounterVec
	CandidatesDiscovered prometheus.Counter
	CandidatesKnown      prometheus.Counter

	ExtractionsTotal      *prometheus.CounterVec
	ExtractionDuration    prometheus.Histogram
	MissingFieldsTotal    *prometheus.CounterVec
	SubCollectionFallback *prometheus.CounterVec

	RunsTotal          *prometheus.CounterVec
	CandidatesInFlight prometheus.Gauge
}

// New registers the metrics against reg. Passing prometheus.DefaultRegisterer exposes them on /metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		DiscoveryPagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_discovery_pages_total",
			Help: "Listing pages fetched, by category and outcome.",
		}, []string{"category", "outcome"}),
		CandidatesDiscovered: f.NewCounter(prometheus.CounterOpts{
			Name: "pncp_candidates_discovered_total",
			Help: "New candidates returned by discovery.",
		}),
		CandidatesKnown: f.NewCounter(prometheus.CounterOpts{
			Name: "pncp_candidates_known_total",
			Help: "Listing entries dropped because they were already stored.",
		}),
		ExtractionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_extractions_total",
			Help: "Detail extractions, by outcome and error type.",
		}, []string{"outcome", "error_type"}),
		ExtractionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pncp_extraction_duration_seconds",
			Help:    "Duration of detail extractions.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120},
		}),
		MissingFieldsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_missing_fields_total",
			Help: "Optional fields left empty after extraction, by field.",
		}, []string{"field"}),
		SubCollectionFallback: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_subcollection_fallback_total",
			Help: "Sub-collections filled from the integration API, by collection.",
		}, []string{"collection"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pncp_runs_total",
			Help: "Scheduler runs, by final status.",
		}, []string{"status"}),
		CandidatesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "pncp_candidates_in_flight",
			Help: "Candidates claimed by the current batch and not yet reported.",
		}),
	}
}

func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}

func (m *Metrics) IncDiscoveryPage(category, outcome string) {
	if m == nil {
		return
	}
	m.DiscoveryPagesTotal.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) AddCandidates(discovered, known int) {
	if m == nil {
		return
	}
	m.CandidatesDiscovered.Add(float64(discovered))
	m.CandidatesKnown.Add(float64(known))
}

func (m *Metrics) ObserveExtraction(outcome, errorType string, seconds float64) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(outcome, errorType).Inc()
	if outcome == "success" {
		m.ExtractionDuration.Observe(seconds)
	}
}

func (m *Metrics) IncMissingField(field string) {
	if m == nil {
		return
	}
	m.MissingFieldsTotal.WithLabelValues(field).Inc()
}

func (m *Metrics) IncSubCollectionFallback(collection string) {
	if m == nil {
		return
	}
	m.SubCollectionFallback.WithLabelValues(collection).Inc()
}

func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.CandidatesInFlight.Set(float64(n))
}
