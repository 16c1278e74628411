// Package ingest implements C2: validates inbound metric samples, derives
// EWMA latency and degradation score, persists to cold + hot store, runs
// them through C4's threshold evaluation, and decides whether the current
// cycle's inputs are fresh enough to request an immediate recompute.
package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/ewma"
	"github.com/archway-network/lambo/internal/model"
)

// quorumFraction and freshnessWindow implement spec §4.2 step 7's
// maybe_trigger_recompute check.
const (
	quorumFraction  = 0.8
	freshnessWindow = 2 * time.Minute
)

// HotStore is the subset of internal/store's Store the ingestor needs.
type HotStore interface {
	PutMetric(ctx context.Context, serverID string, sample model.MetricSample)
	GetMetric(ctx context.Context, serverID string) (model.MetricSample, bool)
}

// ColdStore is the subset of internal/coldstore's ColdStore the ingestor needs.
type ColdStore interface {
	Insert(sample model.MetricSample) error
	Newest(serverID string) (model.MetricSample, bool, error)
}

// PolicyEvaluator is the subset of internal/policy's Store the ingestor needs.
type PolicyEvaluator interface {
	EvaluateThresholds(serverID string, sample model.MetricSample) (model.ServerPolicy, error)
}

// Registry is the subset of internal/registry's Registry the ingestor needs.
type Registry interface {
	Get(id string) (model.ServerDescriptor, bool)
	All() []model.ServerDescriptor
}

// MetricsRecorder is the optional Prometheus hook (satisfied by
// *internal/obs.Metrics); nil is a valid Ingestor and records nothing.
type MetricsRecorder interface {
	RecordIngest(accepted bool)
}

// Result is the outcome of one Submit call, shaped for C9's HTTP response
// body (spec §6: {status, message, serverId, timestamp, instantLatency,
// ewmaLatency}).
type Result struct {
	Accepted         bool
	Reason           string
	ServerID         string
	Timestamp        time.Time
	InstantLatencyMs float64
	EwmaLatencyMs    float64
}

// Ingestor wires C2's dependencies. Clock is overridable in tests; it
// defaults to time.Now.
type Ingestor struct {
	hot       HotStore
	cold      ColdStore
	policies  PolicyEvaluator
	registry  Registry
	alpha     float64
	recompute chan<- struct{}
	log       *logrus.Entry

	Clock   func() time.Time
	Metrics MetricsRecorder
}

// New builds an Ingestor. recompute is the buffered (capacity 1) inputs-ready
// channel the Coordinator selects on (spec §9's cyclic-dependency inversion).
func New(hot HotStore, cold ColdStore, policies PolicyEvaluator, registry Registry, alpha float64, recompute chan<- struct{}, log *logrus.Entry) *Ingestor {
	return &Ingestor{
		hot:       hot,
		cold:      cold,
		policies:  policies,
		registry:  registry,
		alpha:     alpha,
		recompute: recompute,
		log:       log.WithField("component", "ingest"),
		Clock:     time.Now,
	}
}

func (i *Ingestor) now() time.Time {
	if i.Clock != nil {
		return i.Clock()
	}
	return time.Now()
}

// Submit runs spec §4.2 steps 1-7 for one inbound sample. It never returns an
// error for a rejected sample — rejection is communicated via Result; the
// error return is reserved for cases the caller cannot otherwise observe
// (there are none today, but the signature leaves room without an API break).
func (i *Ingestor) Submit(ctx context.Context, serverID string, sample model.MetricSample) (result Result, err error) {
	log := i.log.WithField("server_id", serverID)
	defer func() {
		if i.Metrics != nil {
			i.Metrics.RecordIngest(result.Accepted)
		}
	}()

	// Step 1: reject if server unknown across both pools.
	if _, ok := i.registry.Get(serverID); !ok {
		log.Warn("ingest rejected: unknown server id")
		return Result{Accepted: false, Reason: "unknown server id", ServerID: serverID}, nil
	}

	// Step 3 (done before validation so the caller always sees the
	// URL-supplied id reflected back, even on a validation failure).
	sample.ServerID = serverID

	// Step 2: validate numeric ranges.
	if err := sample.Validate(); err != nil {
		log.WithError(err).Warn("ingest rejected: invalid sample")
		return Result{Accepted: false, Reason: err.Error(), ServerID: serverID}, nil
	}

	now := i.now()
	sample.CreatedAt = now

	// Step 4: EWMA, seeded from hot store then cold store newest-first.
	prevEwma := i.previousEwma(ctx, serverID)
	ewmaVal := ewma.Update(prevEwma, sample.AvgResponseTimeMs, i.alpha)
	sample.EwmaLatencyMs = &ewmaVal
	sample.DegradationScore = model.ComputeDegradationScore(ewmaVal, sample.ErrorRatePct, sample.TimeoutRatePct, sample.UptimePct)

	// Step 5: persist to cold (durable) then hot (TTL'd) store. Neither
	// failure aborts the remaining steps — ingest is best-effort.
	if err := i.cold.Insert(sample); err != nil {
		log.WithError(err).Warn("ingest: cold store insert failed")
	}
	i.hot.PutMetric(ctx, serverID, sample)

	// Step 6: threshold evaluation / hysteresis, may trip auto-removal.
	if _, err := i.policies.EvaluateThresholds(serverID, sample); err != nil {
		log.WithError(err).Warn("ingest: threshold evaluation failed")
	}

	// Step 7: conditional immediate recompute.
	i.maybeTriggerRecompute(ctx, now)

	return Result{
		Accepted:         true,
		ServerID:         serverID,
		Timestamp:        now,
		InstantLatencyMs: sample.AvgResponseTimeMs,
		EwmaLatencyMs:    ewmaVal,
	}, nil
}

// previousEwma resolves the EWMA seed per spec §4.2 step 4: the previous
// sample's own ewma_latency_ms, from hot store falling back to cold store's
// newest record. nil means "first sample for this server".
func (i *Ingestor) previousEwma(ctx context.Context, serverID string) *float64 {
	if prev, ok := i.hot.GetMetric(ctx, serverID); ok {
		return seedFrom(prev)
	}
	if prev, ok, err := i.cold.Newest(serverID); err == nil && ok {
		return seedFrom(prev)
	}
	return nil
}

func seedFrom(sample model.MetricSample) *float64 {
	if sample.EwmaLatencyMs != nil {
		return sample.EwmaLatencyMs
	}
	v := sample.AvgResponseTimeMs
	return &v
}

// maybeTriggerRecompute implements spec §4.2 step 7: if at least 80% of
// configured servers (across both pools) have a sample newer than now-2min,
// request C5 to drive a cycle immediately via a non-blocking channel send.
func (i *Ingestor) maybeTriggerRecompute(ctx context.Context, now time.Time) {
	servers := i.registry.All()
	if len(servers) == 0 {
		return
	}
	cutoff := now.Add(-freshnessWindow)
	fresh := 0
	for _, s := range servers {
		if sample, ok := i.hot.GetMetric(ctx, s.ID); ok {
			if !sample.CreatedAt.Before(cutoff) {
				fresh++
			}
			continue
		}
		if sample, ok, err := i.cold.Newest(s.ID); err == nil && ok && !sample.CreatedAt.Before(cutoff) {
			fresh++
		}
	}
	if float64(fresh)/float64(len(servers)) < quorumFraction {
		return
	}
	select {
	case i.recompute <- struct{}{}:
	default:
		// a recompute is already pending; the coordinator will pick up
		// this cycle's data once it runs.
	}
}
