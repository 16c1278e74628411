// Package coordinator implements C5: the per-cycle weight computation driver
// (leader-elected via an advisory lock in the shared store) and the
// instance's heartbeat publisher.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/model"
	"github.com/archway-network/lambo/internal/weight"
)

const lockName = "weight-calculation"

// HotStore is the subset of internal/store's Store the coordinator needs.
type HotStore interface {
	ScanAllMetrics(ctx context.Context) map[string]model.MetricSample
	PutWeights(ctx context.Context, allocations []model.WeightAllocation)
	Heartbeat(ctx context.Context, instanceID string)
	TryAcquireLock(ctx context.Context, name, instanceID string, ttl time.Duration) bool
	ReleaseLock(ctx context.Context, name, instanceID string)
}

// ColdStore is the fallback source for a server with no current hot-store
// entry (spec §4.5 step 2).
type ColdStore interface {
	Newest(serverID string) (model.MetricSample, bool, error)
}

// Registry is the subset of internal/registry's Registry the coordinator needs.
type Registry interface {
	Servers(pool model.Pool) []model.ServerDescriptor
	All() []model.ServerDescriptor
}

// Materializer is C6: render, validate, write and publish the proxy config
// for one cycle's allocations.
type Materializer interface {
	Materialize(ctx context.Context, incoming, outgoing []model.WeightAllocation) error
}

// FactorsProvider returns the currently configured WeightFactors, read fresh
// on every cycle so admin updates take effect without a restart.
type FactorsProvider func() model.WeightFactors

// MetricsRecorder is the optional Prometheus hook (satisfied by
// *internal/obs.Metrics); nil records nothing.
type MetricsRecorder interface {
	RecordCycle(leader bool, errMsg string, duration time.Duration)
	RecordPoolWeight(pool model.Pool, sum int)
}

// Coordinator drives one weight-calculation cycle per instance and publishes
// this instance's heartbeat independently.
type Coordinator struct {
	instanceID   string
	store        HotStore
	cold         ColdStore
	registry     Registry
	policies     weight.PolicySource
	factors      FactorsProvider
	materializer Materializer
	lockTTL      time.Duration
	freshness    time.Duration
	recompute    <-chan struct{}
	log          *logrus.Entry

	mu         sync.Mutex
	lastResult model.CycleResult
	haveResult bool

	Clock   func() time.Time
	Metrics MetricsRecorder
}

// New builds a Coordinator. recompute is the receive side of the buffered
// inputs-ready channel C2 sends on (spec §9's cyclic-dependency inversion).
func New(instanceID string, store HotStore, cold ColdStore, registry Registry, policies weight.PolicySource, factors FactorsProvider, materializer Materializer, lockTTL, freshness time.Duration, recompute <-chan struct{}, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		instanceID:   instanceID,
		store:        store,
		cold:         cold,
		registry:     registry,
		policies:     policies,
		factors:      factors,
		materializer: materializer,
		lockTTL:      lockTTL,
		freshness:    freshness,
		recompute:    recompute,
		log:          log.WithField("component", "coordinator"),
		Clock:        time.Now,
	}
}

func (c *Coordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Run drives the per-cycle loop: a ticker at period, an immediate trigger
// from the ingestor's inputs-ready channel, and the context's cancellation —
// spec §4.6's three-channel select. Both triggers fund into the same
// lock-gated runCycle, so they cannot double-run a cycle concurrently within
// one instance.
func (c *Coordinator) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.RunCycle(ctx)
		case <-c.recompute:
			c.RunCycle(ctx)
		}
	}
}

// RunHeartbeat drives the independent heartbeat publisher loop (spec §4.5:
// "independently the Coordinator publishes heartbeats every 30s").
func (c *Coordinator) RunHeartbeat(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	c.PublishHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.PublishHeartbeat(ctx)
		}
	}
}

// PublishHeartbeat records one heartbeat for this instance.
func (c *Coordinator) PublishHeartbeat(ctx context.Context) {
	c.store.Heartbeat(ctx, c.instanceID)
}

// RunCycle implements spec §4.5 steps 1-6 for a single cycle. It always
// records the outcome (even a skipped/non-leader cycle) for C9's
// GET /api/status, and always releases the lock it acquired.
func (c *Coordinator) RunCycle(ctx context.Context) model.CycleResult {
	start := c.now()
	result := model.CycleResult{InstanceID: c.instanceID, StartedAt: start}

	if !c.store.TryAcquireLock(ctx, lockName, c.instanceID, c.lockTTL) {
		result.Leader = false
		result.Duration = c.now().Sub(start)
		c.record(result)
		return result
	}
	result.Leader = true
	defer c.store.ReleaseLock(ctx, lockName, c.instanceID)

	samples := c.gatherFreshSamples(ctx, start)
	if len(samples) == 0 {
		result.Err = "no fresh metric samples this cycle"
		result.Duration = c.now().Sub(start)
		c.record(result)
		return result
	}

	factors := c.factors()
	incoming := weight.Compute(model.PoolIncoming, c.registry.Servers(model.PoolIncoming), samples, factors, c.policies, start)
	outgoing := weight.Compute(model.PoolOutgoing, c.registry.Servers(model.PoolOutgoing), samples, factors, c.policies, start)

	combined := make([]model.WeightAllocation, 0, len(incoming)+len(outgoing))
	combined = append(combined, incoming...)
	combined = append(combined, outgoing...)
	c.store.PutWeights(ctx, combined)

	if err := c.materializer.Materialize(ctx, incoming, outgoing); err != nil {
		c.log.WithError(err).Warn("cycle: failed to materialize proxy config")
		result.Err = err.Error()
	}

	result.Allocations = map[model.Pool][]model.WeightAllocation{
		model.PoolIncoming: incoming,
		model.PoolOutgoing: outgoing,
	}
	result.Duration = c.now().Sub(start)
	c.record(result)
	return result
}

// gatherFreshSamples implements spec §4.5 steps 2-3: latest sample per server
// (hot store, falling back to cold store's newest), filtered to the last
// freshness window.
func (c *Coordinator) gatherFreshSamples(ctx context.Context, now time.Time) map[string]model.MetricSample {
	cutoff := now.Add(-c.freshness)
	hot := c.store.ScanAllMetrics(ctx)

	out := map[string]model.MetricSample{}
	for _, s := range c.registry.All() {
		sample, ok := hot[s.ID]
		if !ok {
			cold, found, err := c.cold.Newest(s.ID)
			if err != nil || !found {
				continue
			}
			sample = cold
		}
		if sample.CreatedAt.Before(cutoff) {
			continue
		}
		out[s.ID] = sample
	}
	return out
}

func (c *Coordinator) record(result model.CycleResult) {
	c.mu.Lock()
	c.lastResult = result
	c.haveResult = true
	c.mu.Unlock()

	if c.Metrics == nil {
		return
	}
	c.Metrics.RecordCycle(result.Leader, result.Err, result.Duration)
	for pool, allocations := range result.Allocations {
		sum := 0
		for _, a := range allocations {
			sum += a.Weight
		}
		c.Metrics.RecordPoolWeight(pool, sum)
	}
}

// LastResult returns the most recently recorded cycle outcome, for C9's
// GET /api/status.
func (c *Coordinator) LastResult() (model.CycleResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult, c.haveResult
}
