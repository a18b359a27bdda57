package request

import "github.com/user/pncp-ingest/internal/entity"

// DiscoveryRequest asks for a discovery pass over the last Days days. Zero values fall back to
// the scheduler configuration.
type DiscoveryRequest struct {
	Days  int `json:"days"`
	Limit int `json:"limit"`
}

// ResetRequest lists the records to reset. An empty list resets every failed record.
type ResetRequest struct {
	IDs []int64 `json:"ids"`
}

// SchedulerConfigRequest changes the scheduler configuration. Omitted fields are kept.
type SchedulerConfigRequest struct {
	RunAt        *string `json:"run_at"`
	Enabled      *bool   `json:"enabled"`
	LookbackDays *int    `json:"lookback_days"`
	PerRunLimit  *int    `json:"per_run_limit"`
}

func (r SchedulerConfigRequest) Patch() entity.SchedulerConfigPatch {
	return entity.SchedulerConfigPatch{
		RunAt:        r.RunAt,
		Enabled:      r.Enabled,
		LookbackDays: r.LookbackDays,
		PerRunLimit:  r.PerRunLimit,
	}
}

// Empty reports whether the request changes nothing.
func (r SchedulerConfigRequest) Empty() bool {
	return r.RunAt == nil && r.Enabled == nil && r.LookbackDays == nil && r.PerRunLimit == nil
}
