package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/archway-network/lambo/internal/model"
)

type memHot struct {
	samples map[string]model.MetricSample
}

func newMemHot() *memHot { return &memHot{samples: map[string]model.MetricSample{}} }

func (h *memHot) PutMetric(_ context.Context, serverID string, sample model.MetricSample) {
	h.samples[serverID] = sample
}

func (h *memHot) GetMetric(_ context.Context, serverID string) (model.MetricSample, bool) {
	s, ok := h.samples[serverID]
	return s, ok
}

type memCold struct {
	newest map[string]model.MetricSample
	inserts int
}

func newMemCold() *memCold { return &memCold{newest: map[string]model.MetricSample{}} }

func (c *memCold) Insert(sample model.MetricSample) error {
	c.inserts++
	c.newest[sample.ServerID] = sample
	return nil
}

func (c *memCold) Newest(serverID string) (model.MetricSample, bool, error) {
	s, ok := c.newest[serverID]
	return s, ok, nil
}

type memPolicies struct {
	calls []string
}

func (p *memPolicies) EvaluateThresholds(serverID string, _ model.MetricSample) (model.ServerPolicy, error) {
	p.calls = append(p.calls, serverID)
	return model.ServerPolicy{ServerID: serverID}, nil
}

type memRegistry struct {
	servers []model.ServerDescriptor
}

func (r *memRegistry) Get(id string) (model.ServerDescriptor, bool) {
	for _, s := range r.servers {
		if s.ID == id {
			return s, true
		}
	}
	return model.ServerDescriptor{}, false
}

func (r *memRegistry) All() []model.ServerDescriptor { return r.servers }

func newIngestor(reg *memRegistry, hot *memHot, cold *memCold, pol *memPolicies) (*Ingestor, chan struct{}) {
	ch := make(chan struct{}, 1)
	log := logrus.NewEntry(logrus.New())
	return New(hot, cold, pol, reg, 0.3, ch, log), ch
}

func sample(rt float64) model.MetricSample {
	return model.MetricSample{AvgResponseTimeMs: rt, ErrorRatePct: 1, SuccessRatePct: 99, TimeoutRatePct: 0, UptimePct: 100}
}

func TestUnknownServerIDRejected(t *testing.T) {
	reg := &memRegistry{}
	ing, _ := newIngestor(reg, newMemHot(), newMemCold(), &memPolicies{})

	res, err := ing.Submit(context.Background(), "ghost", sample(100))
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Contains(t, res.Reason, "unknown")
}

func TestInvalidSampleRejectedButServerIDEchoed(t *testing.T) {
	reg := &memRegistry{servers: []model.ServerDescriptor{{ID: "s1", Enabled: true}}}
	ing, _ := newIngestor(reg, newMemHot(), newMemCold(), &memPolicies{})

	bad := sample(100)
	bad.ErrorRatePct = 200
	res, err := ing.Submit(context.Background(), "s1", bad)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, "s1", res.ServerID)
}

func TestFirstSampleSeedsEwmaWithInstant(t *testing.T) {
	reg := &memRegistry{servers: []model.ServerDescriptor{{ID: "s1", Enabled: true}}}
	hot, cold, pol := newMemHot(), newMemCold(), &memPolicies{}
	ing, _ := newIngestor(reg, hot, cold, pol)

	res, err := ing.Submit(context.Background(), "s1", sample(100))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, 100.0, res.EwmaLatencyMs)
	require.Equal(t, 1, cold.inserts)
	require.Len(t, pol.calls, 1)
}

func TestSecondSampleBlendsWithPreviousEwma(t *testing.T) {
	reg := &memRegistry{servers: []model.ServerDescriptor{{ID: "s1", Enabled: true}}}
	hot, cold, pol := newMemHot(), newMemCold(), &memPolicies{}
	ing, _ := newIngestor(reg, hot, cold, pol)
	ctx := context.Background()

	_, err := ing.Submit(ctx, "s1", sample(100))
	require.NoError(t, err)

	res, err := ing.Submit(ctx, "s1", sample(200))
	require.NoError(t, err)
	// L1 = 0.3*200 + 0.7*100 = 130
	require.InDelta(t, 130.0, res.EwmaLatencyMs, 1e-9)
}

func TestEwmaFallsBackToColdStoreWhenHotEmpty(t *testing.T) {
	reg := &memRegistry{servers: []model.ServerDescriptor{{ID: "s1", Enabled: true}}}
	hot, cold, pol := newMemHot(), newMemCold(), &memPolicies{}
	prevEwma := 100.0
	cold.newest["s1"] = model.MetricSample{ServerID: "s1", AvgResponseTimeMs: 100, EwmaLatencyMs: &prevEwma, CreatedAt: time.Now().Add(-time.Minute)}
	ing, _ := newIngestor(reg, hot, cold, pol)

	res, err := ing.Submit(context.Background(), "s1", sample(200))
	require.NoError(t, err)
	require.InDelta(t, 130.0, res.EwmaLatencyMs, 1e-9)
}

func TestRecomputeTriggersAtQuorum(t *testing.T) {
	reg := &memRegistry{servers: []model.ServerDescriptor{
		{ID: "s1", Enabled: true},
		{ID: "s2", Enabled: true},
		{ID: "s3", Enabled: true},
		{ID: "s4", Enabled: true},
		{ID: "s5", Enabled: true},
	}}
	hot, cold, pol := newMemHot(), newMemCold(), &memPolicies{}
	ing, ch := newIngestor(reg, hot, cold, pol)
	ctx := context.Background()
	now := time.Now()
	ing.Clock = func() time.Time { return now }

	// 3 of 5 fresh pre-seeded in hot store: below 80% quorum.
	for _, id := range []string{"s1", "s2", "s3"} {
		hot.samples[id] = model.MetricSample{ServerID: id, CreatedAt: now}
	}
	_, err := ing.Submit(ctx, "s1", sample(100))
	require.NoError(t, err)
	select {
	case <-ch:
		t.Fatal("recompute should not have triggered below quorum")
	default:
	}

	// Push two more fresh samples to reach 5/5 = 100%.
	hot.samples["s4"] = model.MetricSample{ServerID: "s4", CreatedAt: now}
	hot.samples["s5"] = model.MetricSample{ServerID: "s5", CreatedAt: now}
	_, err = ing.Submit(ctx, "s2", sample(100))
	require.NoError(t, err)
	select {
	case <-ch:
	default:
		t.Fatal("recompute should have triggered at quorum")
	}
}

func TestRecomputeTriggerIsNonBlockingWhenAlreadyPending(t *testing.T) {
	reg := &memRegistry{servers: []model.ServerDescriptor{{ID: "s1", Enabled: true}}}
	hot, cold, pol := newMemHot(), newMemCold(), &memPolicies{}
	ing, ch := newIngestor(reg, hot, cold, pol)
	ch <- struct{}{} // fill the buffer so a second send would block without the select/default guard

	done := make(chan struct{})
	go func() {
		_, _ = ing.Submit(context.Background(), "s1", sample(100))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full recompute channel")
	}
}
