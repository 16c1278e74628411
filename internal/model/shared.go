package model

import "time"

// ProxyConfigArtifact is the rendered config text plus the timestamp it was
// generated, published to the shared store under a single key (spec §3).
type ProxyConfigArtifact struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InstanceHeartbeat records fleet membership (spec §3).
type InstanceHeartbeat struct {
	InstanceID string    `json:"instance_id"`
	LastSeen   time.Time `json:"last_seen"`
	Status     string    `json:"status"`
}

// CycleResult summarizes one coordinator cycle for observability (SPEC_FULL §3).
type CycleResult struct {
	InstanceID  string                        `json:"instance_id"`
	Leader      bool                          `json:"leader"`
	StartedAt   time.Time                     `json:"started_at"`
	Duration    time.Duration                 `json:"duration"`
	Allocations map[Pool][]WeightAllocation   `json:"allocations,omitempty"`
	Err         string                        `json:"error,omitempty"`
}

// ReloadOutcome is the result of invoking the proxy reload command (SPEC_FULL §3).
type ReloadOutcome struct {
	Success  bool      `json:"success"`
	ExitCode int       `json:"exit_code"`
	Stderr   string    `json:"stderr,omitempty"`
	At       time.Time `json:"at"`
}

// MetricHistoryRecord is the cold-store (GORM) row for one metric sample
// (SPEC_FULL §3); flattens MetricSample for storage and indexing.
type MetricHistoryRecord struct {
	ID                uint      `gorm:"primaryKey"`
	ServerID          string    `gorm:"index:idx_server_created,priority:1"`
	AvgResponseTimeMs float64
	ErrorRatePct      float64
	SuccessRatePct    float64
	TimeoutRatePct    float64
	UptimePct         float64
	LatencyP50        *float64
	LatencyP95        *float64
	LatencyP99        *float64
	RequestsPerMinute *float64
	WindowTimestamp   int64
	EwmaLatencyMs     *float64
	DegradationScore  float64
	CreatedAt         time.Time `gorm:"index:idx_server_created,priority:2"`
}

func (MetricHistoryRecord) TableName() string { return "metric_samples" }

// ToSample converts a cold-store row back into the domain MetricSample type.
func (r MetricHistoryRecord) ToSample() MetricSample {
	return MetricSample{
		ServerID:          r.ServerID,
		AvgResponseTimeMs: r.AvgResponseTimeMs,
		ErrorRatePct:      r.ErrorRatePct,
		SuccessRatePct:    r.SuccessRatePct,
		TimeoutRatePct:    r.TimeoutRatePct,
		UptimePct:         r.UptimePct,
		LatencyP50:        r.LatencyP50,
		LatencyP95:        r.LatencyP95,
		LatencyP99:        r.LatencyP99,
		RequestsPerMinute: r.RequestsPerMinute,
		WindowTimestamp:   r.WindowTimestamp,
		CreatedAt:         r.CreatedAt,
		EwmaLatencyMs:     r.EwmaLatencyMs,
		DegradationScore:  r.DegradationScore,
	}
}

// FromSample builds the cold-store row for a sample.
func FromSample(m MetricSample) MetricHistoryRecord {
	return MetricHistoryRecord{
		ServerID:          m.ServerID,
		AvgResponseTimeMs: m.AvgResponseTimeMs,
		ErrorRatePct:      m.ErrorRatePct,
		SuccessRatePct:    m.SuccessRatePct,
		TimeoutRatePct:    m.TimeoutRatePct,
		UptimePct:         m.UptimePct,
		LatencyP50:        m.LatencyP50,
		LatencyP95:        m.LatencyP95,
		LatencyP99:        m.LatencyP99,
		RequestsPerMinute: m.RequestsPerMinute,
		WindowTimestamp:   m.WindowTimestamp,
		EwmaLatencyMs:     m.EwmaLatencyMs,
		DegradationScore:  m.DegradationScore,
		CreatedAt:         m.CreatedAt,
	}
}

// PolicyRecord is the cold-store (GORM) row for a ServerPolicy.
type PolicyRecord struct {
	ServerID              string `gorm:"primaryKey"`
	DynamicWeightEnabled  bool
	FixedWeight           *int
	MaxResponseTimeMs     *float64
	MaxErrorRatePct       *float64
	MinSuccessRatePct     *float64
	MaxTimeoutRatePct     *float64
	MinUptimePct          *float64
	ViolationsCount       int
	MaxViolationsBeforeRm int
	AutoRemovalEnabled    bool
	ManuallyRemoved       bool
	LastViolationAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (PolicyRecord) TableName() string { return "server_policies" }

func (r PolicyRecord) ToPolicy() ServerPolicy {
	return ServerPolicy{
		ServerID:              r.ServerID,
		DynamicWeightEnabled:  r.DynamicWeightEnabled,
		FixedWeight:           r.FixedWeight,
		MaxResponseTimeMs:     r.MaxResponseTimeMs,
		MaxErrorRatePct:       r.MaxErrorRatePct,
		MinSuccessRatePct:     r.MinSuccessRatePct,
		MaxTimeoutRatePct:     r.MaxTimeoutRatePct,
		MinUptimePct:          r.MinUptimePct,
		ViolationsCount:       r.ViolationsCount,
		MaxViolationsBeforeRm: r.MaxViolationsBeforeRm,
		AutoRemovalEnabled:    r.AutoRemovalEnabled,
		ManuallyRemoved:       r.ManuallyRemoved,
		LastViolationAt:       r.LastViolationAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func FromPolicy(p ServerPolicy) PolicyRecord {
	return PolicyRecord{
		ServerID:              p.ServerID,
		DynamicWeightEnabled:  p.DynamicWeightEnabled,
		FixedWeight:           p.FixedWeight,
		MaxResponseTimeMs:     p.MaxResponseTimeMs,
		MaxErrorRatePct:       p.MaxErrorRatePct,
		MinSuccessRatePct:     p.MinSuccessRatePct,
		MaxTimeoutRatePct:     p.MaxTimeoutRatePct,
		MinUptimePct:          p.MinUptimePct,
		ViolationsCount:       p.ViolationsCount,
		MaxViolationsBeforeRm: p.MaxViolationsBeforeRm,
		AutoRemovalEnabled:    p.AutoRemovalEnabled,
		ManuallyRemoved:       p.ManuallyRemoved,
		LastViolationAt:       p.LastViolationAt,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}
