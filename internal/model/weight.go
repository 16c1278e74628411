package model

import (
	"fmt"
	"time"
)

// WeightAllocation is the per-server output of one weight-engine cycle.
type WeightAllocation struct {
	ServerID     string    `json:"server_id"`
	Pool         Pool      `json:"pool"`
	Address      string    `json:"address"`
	Weight       int       `json:"weight"`
	HealthScore  float64   `json:"health_score"`
	Reason       string    `json:"reason"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// WeightFactors are the five tunable scoring coefficients; they must sum to
// 1.0 +/- 0.01 (spec §3).
type WeightFactors struct {
	ResponseTime float64 `json:"response_time" yaml:"response_time"`
	ErrorRate    float64 `json:"error_rate" yaml:"error_rate"`
	TimeoutRate  float64 `json:"timeout_rate" yaml:"timeout_rate"`
	Uptime       float64 `json:"uptime" yaml:"uptime"`
	Degradation  float64 `json:"degradation" yaml:"degradation"`
}

// BalancedFactors is the default preset; spec §6 presets table.
func BalancedFactors() WeightFactors {
	return WeightFactors{ResponseTime: 0.25, ErrorRate: 0.25, TimeoutRate: 0.15, Uptime: 0.20, Degradation: 0.15}
}

// Presets enumerates the four named factor sets from spec §6.
var Presets = map[string]WeightFactors{
	"balanced":       BalancedFactors(),
	"performance":    {ResponseTime: 0.40, ErrorRate: 0.20, TimeoutRate: 0.10, Uptime: 0.15, Degradation: 0.15},
	"reliability":    {ResponseTime: 0.15, ErrorRate: 0.30, TimeoutRate: 0.20, Uptime: 0.30, Degradation: 0.05},
	"errorAvoidance": {ResponseTime: 0.15, ErrorRate: 0.40, TimeoutRate: 0.25, Uptime: 0.15, Degradation: 0.05},
}

// Sum returns the total of the five coefficients.
func (f WeightFactors) Sum() float64 {
	return f.ResponseTime + f.ErrorRate + f.TimeoutRate + f.Uptime + f.Degradation
}

// Validate enforces the sum-to-1.0 (+/- 0.01) invariant from spec §3.
func (f WeightFactors) Validate() error {
	s := f.Sum()
	if s < 0.99 || s > 1.01 {
		return fmt.Errorf("weight factors must sum to 1.0 +/- 0.01, got %.4f", s)
	}
	return nil
}

// Normalize rescales the five coefficients proportionally so they sum to
// exactly 1.0, used by the admin "normalize" operation (spec §6).
func (f WeightFactors) Normalize() WeightFactors {
	s := f.Sum()
	if s <= 0 {
		return BalancedFactors()
	}
	return WeightFactors{
		ResponseTime: f.ResponseTime / s,
		ErrorRate:    f.ErrorRate / s,
		TimeoutRate:  f.TimeoutRate / s,
		Uptime:       f.Uptime / s,
		Degradation:  f.Degradation / s,
	}
}
