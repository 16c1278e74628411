package weight

import (
	"fmt"
	"sort"
	"time"

	"github.com/archway-network/lambo/internal/model"
)

// PolicySource is the subset of internal/policy's Store the engine needs:
// read a server's policy record to apply fixed-weight/manual-removal
// overrides in step 5.
type PolicySource interface {
	Get(serverID string) (model.ServerPolicy, bool)
}

const (
	reasonNoMetrics       = "Default weight – no metrics available"
	reasonDisabled        = "Server manually disabled"
	reasonInvalidMetrics  = "Invalid metrics"
	reasonAllUnhealthy    = "Default weight – all servers unhealthy"
	reasonBelowMinimum    = "Below minimum score (raw score < 0.1)"
	reasonEmergency       = "Emergency fallback – no healthy servers"
	reasonManuallyRemoved = "Manually removed"
	reasonFixedExceeds    = "Normalized to 0: fixed weights exceed capacity"
)

// Compute implements spec §4.4's six-step per-pool pipeline. servers is the
// full descriptor list for pool (from the registry); samples holds the
// latest usable sample per server id for this cycle.
func Compute(pool model.Pool, servers []model.ServerDescriptor, samples map[string]model.MetricSample, factors model.WeightFactors, policies PolicySource, now time.Time) []model.WeightAllocation {
	if len(servers) == 0 {
		return nil
	}

	var enabled, disabled []model.ServerDescriptor
	for _, s := range servers {
		if s.Enabled {
			enabled = append(enabled, s)
		} else {
			disabled = append(disabled, s)
		}
	}

	allocations := make([]model.WeightAllocation, 0, len(servers))
	for _, s := range disabled {
		allocations = append(allocations, newAllocation(s, pool, now, 0, 0, reasonDisabled))
	}

	type contributor struct {
		server model.ServerDescriptor
		sample model.MetricSample
	}
	var contributors []contributor
	var noSample []model.ServerDescriptor
	for _, s := range enabled {
		if sample, ok := samples[s.ID]; ok {
			contributors = append(contributors, contributor{server: s, sample: sample})
		} else {
			noSample = append(noSample, s)
		}
	}

	if len(enabled) == 0 || len(contributors) == 0 {
		// Step 1: no usable samples anywhere in the pool — default weight
		// for every enabled server, then proceed straight to overrides.
		for _, s := range enabled {
			allocations = append(allocations, newAllocation(s, pool, now, DefaultWeight, 0, reasonNoMetrics))
		}
		return finish(pool, allocations, policies, now)
	}

	for _, s := range noSample {
		allocations = append(allocations, newAllocation(s, pool, now, DefaultWeight, 0, reasonNoMetrics))
	}

	// Step 2: score every contributor.
	raw := make(map[string]float64, len(contributors))
	rawReason := make(map[string]string, len(contributors))
	for _, c := range contributors {
		if err := c.sample.Validate(); err != nil {
			raw[c.server.ID] = 0
			rawReason[c.server.ID] = reasonInvalidMetrics
			continue
		}
		effLatency := c.sample.EffectiveLatency()
		score := responseTimeScore(effLatency)*factors.ResponseTime +
			errorRateScore(c.sample.ErrorRatePct)*factors.ErrorRate +
			timeoutRateScore(c.sample.TimeoutRatePct)*factors.TimeoutRate +
			uptimeScore(c.sample.UptimePct)*factors.Uptime +
			degradationScore(c.sample.DegradationScore)*factors.Degradation
		raw[c.server.ID] = score
		// Success rate isn't part of the composite but is surfaced in the
		// reason text for operators comparing servers in the admin view.
		rawReason[c.server.ID] = fmt.Sprintf("Weighted score %.3f (success %.2f)", score, successRateScore(c.sample.SuccessRatePct))
	}

	// Step 3: normalize raw scores into integer weights.
	var sum float64
	for _, c := range contributors {
		sum += raw[c.server.ID]
	}

	contribAllocs := make([]model.WeightAllocation, 0, len(contributors))
	switch {
	case sum <= 0 && len(contributors) > 1:
		// "All servers unhealthy": DEFAULT_WEIGHT keeps the pool serving
		// traffic rather than collapsing to a single emergency backend.
		for _, c := range contributors {
			contribAllocs = append(contribAllocs, newAllocation(c.server, pool, now, DefaultWeight, 0, reasonAllUnhealthy))
		}
	case sum <= 0:
		// A lone zero-score contributor has no "other servers" to spread
		// DEFAULT_WEIGHT across; leave it at 0 here and let step 4's
		// emergency fallback promote it to weight 1.
		contribAllocs = append(contribAllocs, newAllocation(contributors[0].server, pool, now, 0, 0, reasonBelowMinimum))
	default:
		for _, c := range contributors {
			r := raw[c.server.ID]
			w := clampInt(round(r/sum*100), 1, 100)
			reason := rawReason[c.server.ID]
			if r < 0.1 {
				w = 0
				reason = reasonBelowMinimum
			}
			contribAllocs = append(contribAllocs, newAllocation(c.server, pool, now, w, r, reason))
		}
	}

	// Step 4: minimum-traffic safety net, scoped to scored contributors.
	anyActive := false
	for _, a := range contribAllocs {
		if a.Weight > 0 {
			anyActive = true
			break
		}
	}
	if !anyActive && len(contribAllocs) > 0 {
		best := 0
		for i := range contribAllocs {
			if contribAllocs[i].HealthScore > contribAllocs[best].HealthScore {
				best = i
			}
		}
		contribAllocs[best].Weight = 1
		contribAllocs[best].Reason = reasonEmergency
	}

	allocations = append(allocations, contribAllocs...)
	return finish(pool, allocations, policies, now)
}

func newAllocation(s model.ServerDescriptor, pool model.Pool, now time.Time, weight int, healthScore float64, reason string) model.WeightAllocation {
	return model.WeightAllocation{
		ServerID:     s.ID,
		Pool:         pool,
		Address:      s.Address(),
		Weight:       weight,
		HealthScore:  healthScore,
		Reason:       reason,
		CalculatedAt: now,
	}
}

// finish applies step 5 (policy overrides) then step 6 (renormalize to 100)
// to the full allocation set for one pool.
func finish(pool model.Pool, allocations []model.WeightAllocation, policies PolicySource, now time.Time) []model.WeightAllocation {
	applyOverrides(allocations, policies)
	renormalize(allocations, policies)
	return allocations
}

// applyOverrides implements step 5: replace each weight with its
// policy-effective value and annotate the reason when an override fired.
func applyOverrides(allocations []model.WeightAllocation, policies PolicySource) {
	for i := range allocations {
		a := &allocations[i]
		policy, ok := policies.Get(a.ServerID)
		if !ok {
			continue
		}
		effective := policy.EffectiveWeight(a.Weight)
		if effective == a.Weight {
			continue
		}
		a.Weight = effective
		switch {
		case policy.ManuallyRemoved:
			a.Reason = reasonManuallyRemoved
		case policy.IsFixed():
			a.Reason = fmt.Sprintf("Fixed weight override (%d)", effective)
		}
	}
}

// renormalize implements step 6: partition active allocations into fixed and
// dynamic, then rescale each partition so the pool sums to exactly 100. A
// pool whose only active allocation is step 4's emergency fallback keeps its
// weight of 1 and is not rescaled.
func renormalize(allocations []model.WeightAllocation, policies PolicySource) {
	var fixedIdx, dynamicIdx []int
	for i, a := range allocations {
		if a.Weight <= 0 {
			continue
		}
		if policy, ok := policies.Get(a.ServerID); ok && policy.IsFixed() {
			fixedIdx = append(fixedIdx, i)
		} else {
			dynamicIdx = append(dynamicIdx, i)
		}
	}
	if len(fixedIdx) == 0 && len(dynamicIdx) == 0 {
		return
	}
	if len(fixedIdx) == 0 && len(dynamicIdx) == 1 && allocations[dynamicIdx[0]].Reason == reasonEmergency {
		return
	}

	fixedSum := 0
	for _, i := range fixedIdx {
		fixedSum += allocations[i].Weight
	}

	if len(dynamicIdx) == 0 {
		if fixedSum != 100 {
			rescaleTo(allocations, fixedIdx, 100)
		}
		return
	}

	if fixedSum >= 100 {
		for _, i := range dynamicIdx {
			allocations[i].Weight = 0
			allocations[i].Reason = reasonFixedExceeds
		}
		rescaleTo(allocations, fixedIdx, 100)
		return
	}

	budget := 100 - fixedSum
	dynamicSum := 0
	for _, i := range dynamicIdx {
		dynamicSum += allocations[i].Weight
	}
	if dynamicSum == 0 {
		distributeEvenly(allocations, dynamicIdx, budget)
		return
	}
	rescaleTo(allocations, dynamicIdx, budget)
}

// rescaleTo implements the "proportional rescale of list to target" helper
// from spec §4.4: proportional scaling with a rounding residual absorbed by
// the last element, minimum weight 1 for every scaled-up entry.
func rescaleTo(allocations []model.WeightAllocation, idx []int, target int) {
	if len(idx) == 0 {
		return
	}
	current := 0
	for _, i := range idx {
		current += allocations[i].Weight
	}
	if current == 0 {
		distributeEvenly(allocations, idx, target)
		return
	}

	assigned := 0
	for k, i := range idx {
		if k == len(idx)-1 {
			allocations[i].Weight = target - assigned
			continue
		}
		w := clampInt(round(float64(allocations[i].Weight)*float64(target)/float64(current)), 1, target)
		allocations[i].Weight = w
		assigned += w
	}
}

// distributeEvenly splits target across idx as evenly as possible, with the
// remainder spread across the first (target mod n) entries.
func distributeEvenly(allocations []model.WeightAllocation, idx []int, target int) {
	n := len(idx)
	if n == 0 {
		return
	}
	base := target / n
	remainder := target % n
	for k, i := range idx {
		w := base
		if k < remainder {
			w++
		}
		allocations[i].Weight = w
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SortByServerID orders allocations deterministically for rendering/tests.
func SortByServerID(allocations []model.WeightAllocation) {
	sort.Slice(allocations, func(i, j int) bool { return allocations[i].ServerID < allocations[j].ServerID })
}
