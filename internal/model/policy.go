package model

import "time"

// ServerPolicy is the per-server policy record owned by C4: fixed-weight
// override, thresholds, violation hysteresis and manual removal.
type ServerPolicy struct {
	ServerID              string     `json:"server_id"`
	DynamicWeightEnabled  bool       `json:"dynamic_weight_enabled"`
	FixedWeight           *int       `json:"fixed_weight,omitempty"`
	MaxResponseTimeMs     *float64   `json:"max_response_time_ms,omitempty"`
	MaxErrorRatePct       *float64   `json:"max_error_rate_pct,omitempty"`
	MinSuccessRatePct     *float64   `json:"min_success_rate_pct,omitempty"`
	MaxTimeoutRatePct     *float64   `json:"max_timeout_rate_pct,omitempty"`
	MinUptimePct          *float64   `json:"min_uptime_pct,omitempty"`
	ViolationsCount       int        `json:"violations_count"`
	MaxViolationsBeforeRm int        `json:"max_violations_before_removal"`
	AutoRemovalEnabled    bool       `json:"auto_removal_enabled"`
	ManuallyRemoved       bool       `json:"manually_removed"`
	LastViolationAt       *time.Time `json:"last_violation_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// DefaultServerPolicy is the record created on first contact with a server,
// per spec §4.3 defaults.
func DefaultServerPolicy(serverID string, now time.Time) ServerPolicy {
	return ServerPolicy{
		ServerID:              serverID,
		DynamicWeightEnabled:  true,
		MaxViolationsBeforeRm: 3,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// EffectiveWeight implements the rule in spec §4.3: manual removal always
// wins, then a fixed weight with dynamic disabled, else the calculated
// weight passed in.
func (p ServerPolicy) EffectiveWeight(calculated int) int {
	switch {
	case p.ManuallyRemoved:
		return 0
	case !p.DynamicWeightEnabled && p.FixedWeight != nil:
		return *p.FixedWeight
	default:
		return calculated
	}
}

// IsFixed reports whether this policy pins a non-zero weight, i.e.
// participates in step 6's "fixed" partition. A FixedWeight of 0 is treated
// as inactive, not fixed (spec §9 open-question resolution).
func (p ServerPolicy) IsFixed() bool {
	return !p.DynamicWeightEnabled && p.FixedWeight != nil && *p.FixedWeight > 0
}
