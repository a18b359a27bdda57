package response

import (
	"time"

	"github.com/user/pncp-ingest/internal/entity"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// RunResponse answers a run trigger. Status is "started" or "in_progress".
type RunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

type DiscoveryResponse struct {
	Window     string `json:"window"`
	RawCount   int    `json:"raw_count"`
	KnownCount int    `json:"known_count"`
	NewCount   int    `json:"new_count"`
	Inserted   int    `json:"inserted"`
	Error      string `json:"error,omitempty"`
}

// ProcessingStatusResponse flattens entity.ProcessingReport for the API.
type ProcessingStatusResponse struct {
	Running     bool                           `json:"running"`
	Total       int                            `json:"total"`
	Processed   int                            `json:"processed"`
	Errors      int                            `json:"errors"`
	CurrentURL  string                         `json:"current_url,omitempty"`
	Progress    float64                        `json:"progress"`
	SuccessRate float64                        `json:"success_rate"`
	StartedAt   *time.Time                     `json:"started_at,omitempty"`
	FinishedAt  *time.Time                     `json:"finished_at,omitempty"`
	ByState     map[entity.ProcessingState]int `json:"by_state"`
}

func NewProcessingStatusResponse(r *entity.ProcessingReport) ProcessingStatusResponse {
	s := r.Snapshot
	return ProcessingStatusResponse{
		Running:     s.Running,
		Total:       s.Total,
		Processed:   s.Processed,
		Errors:      s.Errors,
		CurrentURL:  s.CurrentURL,
		Progress:    s.Progress(),
		SuccessRate: s.SuccessRate(),
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		ByState:     r.ByState,
	}
}

type ResetResponse struct {
	Reset int `json:"reset"`
}

type ExecutionsResponse struct {
	Executions []entity.ExecutionAuditEntry `json:"executions"`
	Count      int                          `json:"count"`
}
