package entity

import "time"

// ExecutionStatus is the outcome of one scheduler run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionAuditEntry mirrors the `execution_audit` table: one row per scheduler run.
type ExecutionAuditEntry struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Status          ExecutionStatus `json:"status"`
	Trigger         string          `json:"trigger"`
	Window          string          `json:"window,omitempty"`
	CandidatesFound int             `json:"candidates_found"`
	RecordsIngested int             `json:"records_ingested"`
	ErrorCount      int             `json:"error_count"`
	DurationSeconds float64         `json:"duration_seconds"`
	Message         string          `json:"message,omitempty"`
}

// ExecutionPatch finalizes an audit entry.
type ExecutionPatch struct {
	FinishedAt      time.Time
	Status          ExecutionStatus
	CandidatesFound int
	RecordsIngested int
	ErrorCount      int
	DurationSeconds float64
	Message         string
}
