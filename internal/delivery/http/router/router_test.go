package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/pncp-ingest/internal/delivery/http/handler"
	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
	"github.com/user/pncp-ingest/internal/usecase"
	"github.com/user/pncp-ingest/pkg/metrics"
)

type stubScheduler struct {
	runErr       error
	discovery    *usecase.DiscoveryResult
	discoveryErr error
	gotDays      int
	gotLimit     int
	configured   *entity.SchedulerConfigPatch
	configureErr error
	history      []entity.ExecutionAuditEntry
	gotHistory   int
}

func (s *stubScheduler) Start(context.Context) error { return nil }
func (s *stubScheduler) Stop() {}

func (s *stubScheduler) ExecuteRun(context.Context, string) (*entity.ExecutionAuditEntry, error) {
	return nil, s.runErr
}

func (s *stubScheduler) TriggerRun(string) (string, error) {
	if s.runErr != nil {
		return "", s.runErr
	}
	return "run-1", nil
}

func (s *stubScheduler) TriggerDiscovery(_ context.Context, days, limit int) (*usecase.DiscoveryResult, error) {
	s.gotDays, s.gotLimit = days, limit
	return s.discovery, s.discoveryErr
}

func (s *stubScheduler) Configure(_ context.Context, patch entity.SchedulerConfigPatch) (*entity.SchedulerConfig, error) {
	if s.configureErr != nil {
		return nil, s.configureErr
	}
	s.configured = &patch
	cfg := patch.Apply(entity.SchedulerConfig{RunAt: "06:00", Enabled: true, LookbackDays: 1, PerRunLimit: 500})
	return &cfg, nil
}

func (s *stubScheduler) Status(context.Context) (*entity.SchedulerStatus, error) {
	return &entity.SchedulerStatus{
		Config:     entity.SchedulerConfig{RunAt: "06:00", Enabled: true, LookbackDays: 1, PerRunLimit: 500},
		TimerArmed: true,
		Timezone:   "America/Sao_Paulo",
	}, nil
}

func (s *stubScheduler) History(_ context.Context, limit int) ([]entity.ExecutionAuditEntry, error) {
	s.gotHistory = limit
	return s.history, nil
}

type stubProcessing struct {
	usecase.ProcessingStateMachine
	report   *entity.ProcessingReport
	resetIDs []int64
}

func (s *stubProcessing) Status(context.Context) (*entity.ProcessingReport, error) {
	return s.report, nil
}

func (s *stubProcessing) Reset(_ context.Context, ids []int64) (int, error) {
	s.resetIDs = ids
	return len(ids), nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	handler    http.Handler
	scheduler  *stubScheduler
	processing *stubProcessing
	metrics    *metrics.Metrics
}

func newTestServer(t *testing.T, deps map[string]handler.Pinger) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sched := &stubScheduler{}
	proc := &stubProcessing{report: &entity.ProcessingReport{
		Snapshot: entity.ProcessingSnapshot{Running: true, Total: 4, Processed: 2, Errors: 1},
		ByState:  map[entity.ProcessingState]int{entity.StateSuccess: 10, entity.StateFailed: 2},
	}}
	logger := zaptest.NewLogger(t)
	h := handler.NewHandler(sched, proc, deps, logger)
	return &testServer{handler: New(h, m, reg, logger), scheduler: sched, processing: proc, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestTriggerRun(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "started", body["status"])
	assert.Equal(t, "run-1", body["run_id"])
}

func TestTriggerRun_InProgressIsNotAnError(t *testing.T) {
	s := newTestServer(t, nil)
	s.scheduler.runErr = usecase.ErrRunInProgress

	rec := s.do(t, http.MethodPost, "/api/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_progress", decode[map[string]string](t, rec)["status"])
}

func TestTriggerDiscovery(t *testing.T) {
	s := newTestServer(t, nil)
	day := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)
	s.scheduler.discovery = &usecase.DiscoveryResult{
		Window:   entity.DateWindow{Start: day, End: day},
		RawCount: 60, KnownCount: 10, NewCount: 50, Inserted: 50,
	}

	rec := s.do(t, http.MethodPost, "/api/discovery", `{"days":1,"limit":100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "20250309-20250309", body["window"])
	assert.EqualValues(t, 60, body["raw_count"])
	assert.EqualValues(t, 50, body["inserted"])
	assert.Equal(t, 1, s.scheduler.gotDays)
	assert.Equal(t, 100, s.scheduler.gotLimit)
}

func TestTriggerDiscovery_Failure(t *testing.T) {
	s := newTestServer(t, nil)
	s.scheduler.discoveryErr = repository.ErrSourceUnavailable

	rec := s.do(t, http.MethodPost, "/api/discovery", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/discovery", `{"days":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduler(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/scheduler", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[entity.SchedulerStatus](t, rec)
	assert.Equal(t, "06:00", status.Config.RunAt)
	assert.True(t, status.TimerArmed)

	rec = s.do(t, http.MethodPut, "/api/scheduler", `{"run_at":"08:00","per_run_limit":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[entity.SchedulerConfig](t, rec)
	assert.Equal(t, "08:00", cfg.RunAt)
	assert.Equal(t, 50, cfg.PerRunLimit)
	require.NotNil(t, s.scheduler.configured)
	assert.Nil(t, s.scheduler.configured.Enabled)

	rec = s.do(t, http.MethodPut, "/api/scheduler", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.scheduler.configureErr = errors.Join(usecase.ErrInvalidConfig, errors.New("per_run_limit must be >= 1"))
	rec = s.do(t, http.MethodPut, "/api/scheduler", `{"per_run_limit":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessing(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/processing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["running"])
	assert.InDelta(t, 75.0, body["progress"], 0.001)
	assert.InDelta(t, 50.0, body["success_rate"], 0.001)
	assert.Equal(t, map[string]any{"success": 10.0, "failed": 2.0}, body["by_state"])

	rec = s.do(t, http.MethodPost, "/api/processing/reset", `{"ids":[3,4]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{3, 4}, s.processing.resetIDs)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["reset"])
}

func TestListExecutions(t *testing.T) {
	s := newTestServer(t, nil)
	s.scheduler.history = []entity.ExecutionAuditEntry{{ID: "a", Status: entity.ExecutionCompleted}}

	rec := s.do(t, http.MethodGet, "/api/executions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, s.scheduler.gotHistory)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, body["count"])

	rec = s.do(t, http.MethodGet, "/api/executions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") })

	s := newTestServer(t, map[string]handler.Pinger{"postgres": healthy, "redis": healthy})
	rec := s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"postgres": "healthy", "redis": "healthy"}, decode[map[string]string](t, rec))

	s = newTestServer(t, map[string]handler.Pinger{"postgres": healthy, "redis": down})
	rec = s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[map[string]string](t, rec)["redis"])
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/api/processing", "")
	s.do(t, http.MethodGet, "/api/processing", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/processing", "200")))

	rec := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
