package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/user/pncp-ingest/internal/delivery/http/request"
	"github.com/user/pncp-ingest/internal/delivery/http/response"
	"github.com/user/pncp-ingest/internal/usecase"
)

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	scheduler  usecase.Scheduler
	processing usecase.ProcessingStateMachine
	deps       map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates the REST handlers. deps maps a dependency name to its health check.
func NewHandler(scheduler usecase.Scheduler, processing usecase.ProcessingStateMachine, deps map[string]Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		scheduler:  scheduler,
		processing: processing,
		deps:       deps,
		logger:     logger,
	}
}

func (h *Handler) HandleTriggerDiscovery(w http.ResponseWriter, r *http.Request) {
	var req request.DiscoveryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Days < 0 || req.Limit < 0 {
		h.writeJSONError(w, "days and limit must not be negative", http.StatusBadRequest)
		return
	}

	res, err := h.scheduler.TriggerDiscovery(r.Context(), req.Days, req.Limit)
	if res == nil {
		h.logger.Error("Discovery failed", zap.Int("days", req.Days), zap.Int("limit", req.Limit), zap.Error(err))
		h.writeJSONError(w, "Discovery failed", http.StatusBadGateway)
		return
	}

	resp := response.DiscoveryResponse{
		Window:     res.Window.String(),
		RawCount:   res.RawCount,
		KnownCount: res.KnownCount,
		NewCount:   res.NewCount,
		Inserted:   res.Inserted,
	}
	if err != nil {
		// Partial discovery still stored what it found.
		h.logger.Warn("Discovery finished with errors", zap.Error(err))
		resp.Error = err.Error()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	runID, err := h.scheduler.TriggerRun(usecase.TriggerManual)
	if errors.Is(err, usecase.ErrRunInProgress) {
		h.writeJSON(w, http.StatusOK, response.RunResponse{
			Status:  "in_progress",
			Message: "A run is already in progress",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to trigger run", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusAccepted, response.RunResponse{
		Status:  "started",
		Message: "Run started",
		RunID:   runID,
	})
}

func (h *Handler) HandleGetScheduler(w http.ResponseWriter, r *http.Request) {
	status, err := h.scheduler.Status(r.Context())
	if err != nil {
		h.logger.Error("Failed to get scheduler status", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleConfigureScheduler(w http.ResponseWriter, r *http.Request) {
	var req request.SchedulerConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Empty() {
		h.writeJSONError(w, "No configuration field given", http.StatusBadRequest)
		return
	}

	cfg, err := h.scheduler.Configure(r.Context(), req.Patch())
	if errors.Is(err, usecase.ErrInvalidConfig) {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("Failed to configure scheduler", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) HandleGetProcessing(w http.ResponseWriter, r *http.Request) {
	report, err := h.processing.Status(r.Context())
	if err != nil {
		h.logger.Error("Failed to get processing status", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.NewProcessingStatusResponse(report))
}

func (h *Handler) HandleResetProcessing(w http.ResponseWriter, r *http.Request) {
	var req request.ResetRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	n, err := h.processing.Reset(r.Context(), req.IDs)
	if err != nil {
		h.logger.Error("Failed to reset records", zap.Int("requested", len(req.IDs)), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.ResetResponse{Reset: n})
}

func (h *Handler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.scheduler.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list executions", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.ExecutionsResponse{Executions: entries, Count: len(entries)})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			status[name] = "unhealthy"
			healthy = false
			h.logger.Error("Health check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		status[name] = "healthy"
	}

	if !healthy {
		h.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
