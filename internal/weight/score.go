// Package weight implements C3: per-pool scoring, normalization, policy
// override application, and renormalization to a sum of 100 (spec §4.4).
package weight

import "math"

// DefaultWeight is handed to every server in a pool when no usable metrics
// exist at all, per spec §4.4 step 1.
const DefaultWeight = 10

// clampLinear maps x into [0,1] by linear interpolation between the two
// knots, clamping outside the range. lo maps to loScore, hi to hiScore.
func clampLinear(x, lo, loScore, hi, hiScore float64) float64 {
	if lo == hi {
		return loScore
	}
	t := (x - lo) / (hi - lo)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return loScore + t*(hiScore-loScore)
}

// responseTimeScore implements the four-segment response-time map from
// spec §4.4 step 2.
func responseTimeScore(effectiveLatencyMs float64) float64 {
	switch {
	case effectiveLatencyMs <= 200:
		return 1.0
	case effectiveLatencyMs <= 500:
		return clampLinear(effectiveLatencyMs, 200, 1.0, 500, 0.5)
	case effectiveLatencyMs <= 1000:
		return clampLinear(effectiveLatencyMs, 500, 0.5, 1000, 0.1)
	default:
		return clampLinear(effectiveLatencyMs, 1000, 0.1, 2000, 0.0)
	}
}

func errorRateScore(pct float64) float64 {
	return clampLinear(pct, 0, 1.0, 10, 0.0)
}

// successRateScore is part of spec §4.4's scoring table but, per the
// spec's own composite formula, is not one of the five factors summed into
// the raw score — kept for callers (e.g. the admin surface) that want to
// display it alongside the other sub-scores.
func successRateScore(pct float64) float64 {
	return clampLinear(pct, 90, 0.0, 100, 1.0)
}

func timeoutRateScore(pct float64) float64 {
	return clampLinear(pct, 0, 1.0, 5, 0.0)
}

func uptimeScore(pct float64) float64 {
	return clampLinear(pct, 90, 0.0, 99.5, 1.0)
}

func degradationScore(score float64) float64 {
	return clampLinear(score, 0, 1.0, 500, 0.0)
}

// round rounds half-away-from-zero, matching the spec's plain "round()".
func round(x float64) int {
	return int(math.Round(x))
}
