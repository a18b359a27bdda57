package entity

import (
	"fmt"
	"time"
)

// SchedulerConfig mirrors the singleton `scheduler_config` row.
type SchedulerConfig struct {
	RunAt        string     `json:"run_at"`
	Enabled      bool       `json:"enabled"`
	LookbackDays int        `json:"lookback_days"`
	PerRunLimit  int        `json:"per_run_limit"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
}

// SchedulerConfigPatch changes some fields of the singleton. Nil fields are left untouched.
type SchedulerConfigPatch struct {
	RunAt        *string    `json:"run_at,omitempty"`
	Enabled      *bool      `json:"enabled,omitempty"`
	LookbackDays *int       `json:"lookback_days,omitempty"`
	PerRunLimit  *int       `json:"per_run_limit,omitempty"`
	NextRunAt    *time.Time `json:"-"`
	LastRunAt    *time.Time `json:"-"`
}

// Apply returns c with the patch applied.
func (p SchedulerConfigPatch) Apply(c SchedulerConfig) SchedulerConfig {
	if p.RunAt != nil {
		c.RunAt = *p.RunAt
	}
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.LookbackDays != nil {
		c.LookbackDays = *p.LookbackDays
	}
	if p.PerRunLimit != nil {
		c.PerRunLimit = *p.PerRunLimit
	}
	if p.NextRunAt != nil {
		at := *p.NextRunAt
		c.NextRunAt = &at
	}
	if p.LastRunAt != nil {
		at := *p.LastRunAt
		c.LastRunAt = &at
	}
	return c
}

// Complete reports whether the patch sets every user-settable field, as creating the row requires.
func (p SchedulerConfigPatch) Complete() bool {
	return p.RunAt != nil && p.Enabled != nil && p.LookbackDays != nil && p.PerRunLimit != nil
}

// Patch returns a patch that sets every field of c.
func (c SchedulerConfig) Patch() SchedulerConfigPatch {
	return SchedulerConfigPatch{
		RunAt:        &c.RunAt,
		Enabled:      &c.Enabled,
		LookbackDays: &c.LookbackDays,
		PerRunLimit:  &c.PerRunLimit,
		NextRunAt:    c.NextRunAt,
		LastRunAt:    c.LastRunAt,
	}
}

// Validate checks the user-settable fields.
func (c SchedulerConfig) Validate() error {
	if _, _, err := ParseRunAt(c.RunAt); err != nil {
		return err
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("lookback_days must be >= 1, got %d", c.LookbackDays)
	}
	if c.PerRunLimit < 1 {
		return fmt.Errorf("per_run_limit must be >= 1, got %d", c.PerRunLimit)
	}
	return nil
}

// ParseRunAt parses an "HH:MM" (or "HH:MM:SS") local time of day.
func ParseRunAt(runAt string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", runAt)
	if err != nil {
		t, err = time.Parse("15:04:05", runAt)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid run_at %q: want HH:MM", runAt)
		}
	}
	return t.Hour(), t.Minute(), nil
}

// SchedulerStatus is what the REST layer reports for the scheduler.
type SchedulerStatus struct {
	Config       SchedulerConfig `json:"config"`
	Running      bool            `json:"running"`
	CurrentRunID string          `json:"current_run_id,omitempty"`
	TimerArmed   bool            `json:"timer_armed"`
	Timezone     string          `json:"timezone"`
}
