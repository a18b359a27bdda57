package entity

import (
	"errors"
	"fmt"
	"time"
)

// ProcessingState is the ingestion lifecycle state of a candidate.
type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateSuccess    ProcessingState = "success"
	StateError      ProcessingState = "error"
	StateFailed     ProcessingState = "failed"
)

// MaxAttempts is the attempt cap after which a record is terminally failed.
const MaxAttempts = 3

// maxErrorLength bounds the stored last_error text.
const maxErrorLength = 500

var ErrInvalidTransition = errors.New("invalid processing state transition")

// ProcessingStatus tracks one candidate's ingestion lifecycle.
type ProcessingStatus struct {
	RecordID     int64
	ExternalKey  string
	State        ProcessingState
	AttemptCount int
	LastError    *string
	ProcessedAt  *time.Time
}

// Selectable reports whether the record may be handed out by a batch selection.
func (s ProcessingStatus) Selectable() bool {
	return (s.State == StatePending || s.State == StateError) && s.AttemptCount < MaxAttempts
}

// Claim moves a selectable record into Processing.
func (s ProcessingStatus) Claim() (ProcessingStatus, error) {
	if !s.Selectable() {
		return s, fmt.Errorf("%w: claim from %s with %d attempts", ErrInvalidTransition, s.State, s.AttemptCount)
	}
	s.State = StateProcessing
	return s, nil
}

// Succeed records a successful attempt. The attempt count is left as is.
func (s ProcessingStatus) Succeed(now time.Time) (ProcessingStatus, error) {
	if s.State == StateSuccess || s.State == StateFailed {
		return s, fmt.Errorf("%w: success from terminal state %s", ErrInvalidTransition, s.State)
	}
	s.State = StateSuccess
	s.LastError = nil
	s.ProcessedAt = &now
	return s, nil
}

// Fail records a failed attempt. The third failure is terminal.
func (s ProcessingStatus) Fail(cause string) (ProcessingStatus, error) {
	if s.State == StateSuccess || s.State == StateFailed {
		return s, fmt.Errorf("%w: failure from terminal state %s", ErrInvalidTransition, s.State)
	}
	s.AttemptCount++
	if s.AttemptCount >= MaxAttempts {
		s.AttemptCount = MaxAttempts
		s.State = StateFailed
	} else {
		s.State = StateError
	}
	msg := TruncateError(cause)
	s.LastError = &msg
	return s, nil
}

// Reset is the administrative re-entry of a record into the pipeline.
func (s ProcessingStatus) Reset() ProcessingStatus {
	s.State = StatePending
	s.AttemptCount = 0
	s.LastError = nil
	s.ProcessedAt = nil
	return s
}

// Release returns an interrupted Processing claim to the selectable pool.
func (s ProcessingStatus) Release() ProcessingStatus {
	if s.State != StateProcessing {
		return s
	}
	if s.AttemptCount > 0 {
		s.State = StateError
	} else {
		s.State = StatePending
	}
	return s
}

// TruncateError bounds an error message to the stored length.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) > maxErrorLength {
		return string(r[:maxErrorLength])
	}
	return msg
}

// ProcessingStatusPatch is a partial update of a ProcessingStatus. A non-nil LastError pointing
// to an empty string clears the stored error.
type ProcessingStatusPatch struct {
	State        *ProcessingState
	AttemptCount *int
	LastError    *string
	ProcessedAt  *time.Time
}

// Diff builds the patch that turns "from" into "to".
func Diff(from, to ProcessingStatus) ProcessingStatusPatch {
	var p ProcessingStatusPatch
	if from.State != to.State {
		state := to.State
		p.State = &state
	}
	if from.AttemptCount != to.AttemptCount {
		n := to.AttemptCount
		p.AttemptCount = &n
	}
	switch {
	case to.LastError == nil && from.LastError != nil:
		empty := ""
		p.LastError = &empty
	case to.LastError != nil && (from.LastError == nil || *from.LastError != *to.LastError):
		msg := *to.LastError
		p.LastError = &msg
	}
	if to.ProcessedAt != nil && (from.ProcessedAt == nil || !from.ProcessedAt.Equal(*to.ProcessedAt)) {
		at := *to.ProcessedAt
		p.ProcessedAt = &at
	}
	return p
}

// Empty reports whether the patch changes nothing.
func (p ProcessingStatusPatch) Empty() bool {
	return p.State == nil && p.AttemptCount == nil && p.LastError == nil && p.ProcessedAt == nil
}

// Apply returns s with the patch applied.
func (p ProcessingStatusPatch) Apply(s ProcessingStatus) ProcessingStatus {
	if p.State != nil {
		s.State = *p.State
	}
	if p.AttemptCount != nil {
		s.AttemptCount = *p.AttemptCount
	}
	if p.LastError != nil {
		if *p.LastError == "" {
			s.LastError = nil
		} else {
			msg := *p.LastError
			s.LastError = &msg
		}
	}
	if p.ProcessedAt != nil {
		at := *p.ProcessedAt
		s.ProcessedAt = &at
	}
	return s
}

// ProcessingSnapshot is the in-memory progress of the batch currently (or last) being processed.
type ProcessingSnapshot struct {
	Running    bool       `json:"running"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Errors     int        `json:"errors"`
	CurrentURL string     `json:"current_url,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Progress is the share of the batch already handled, in percent.
func (s ProcessingSnapshot) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed+s.Errors) / float64(s.Total) * 100
}

// SuccessRate is the share of the batch that succeeded, in percent.
func (s ProcessingSnapshot) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total) * 100
}

// ProcessingReport combines the live snapshot with stored per-state counts.
type ProcessingReport struct {
	Snapshot ProcessingSnapshot
	ByState  map[ProcessingState]int
}
