package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/archway-network/lambo/internal/coordinator"
	"github.com/archway-network/lambo/internal/model"
	"github.com/archway-network/lambo/internal/reconcile"
)

func TestDurationUntilNext2AMSameDay(t *testing.T) {
	now := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC)
	d := durationUntilNext2AM(now)
	require.Equal(t, time.Hour, d)
}

func TestDurationUntilNext2AMNextDay(t *testing.T) {
	now := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	d := durationUntilNext2AM(now)
	require.Equal(t, 24*time.Hour, d)

	now = time.Date(2026, 8, 1, 23, 0, 0, 0, time.UTC)
	d = durationUntilNext2AM(now)
	require.Equal(t, 3*time.Hour, d)
}

type fakeHotStore struct {
	mu      sync.Mutex
	metrics map[string]model.MetricSample
}

func (f *fakeHotStore) ScanAllMetrics(context.Context) map[string]model.MetricSample {
	return map[string]model.MetricSample{}
}
func (f *fakeHotStore) PutWeights(context.Context, []model.WeightAllocation) {}
func (f *fakeHotStore) Heartbeat(context.Context, string)                   {}
func (f *fakeHotStore) TryAcquireLock(context.Context, string, string, time.Duration) bool {
	return false
}
func (f *fakeHotStore) ReleaseLock(context.Context, string, string) {}

type fakeCleaner struct{ calls int32 }

func (c *fakeCleaner) CleanupExpiredMetrics(context.Context) int {
	atomic.AddInt32(&c.calls, 1)
	return 0
}

type fakePruner struct{ calls int32 }

func (p *fakePruner) Prune(time.Time) (int64, error) {
	atomic.AddInt32(&p.calls, 1)
	return 0, nil
}

type fakeCold struct{}

func (fakeCold) Newest(string) (model.MetricSample, bool, error) { return model.MetricSample{}, false, nil }

type fakeRegistry struct{}

func (fakeRegistry) Servers(model.Pool) []model.ServerDescriptor { return nil }
func (fakeRegistry) All() []model.ServerDescriptor               { return nil }

type fakePolicies struct{}

func (fakePolicies) Get(string) (model.ServerPolicy, bool) { return model.ServerPolicy{}, false }

type fakeMaterializer struct{}

func (fakeMaterializer) Materialize(context.Context, []model.WeightAllocation, []model.WeightAllocation) error {
	return nil
}

type fakeReconcileStore struct{}

func (fakeReconcileStore) GetProxyConfig(context.Context) (string, bool)       { return "", false }
func (fakeReconcileStore) GetLastProxyUpdate(context.Context) (time.Time, bool) { return time.Time{}, false }

type fakeApplier struct{}

func (fakeApplier) ApplyExternal(context.Context, string) error { return nil }
func (fakeApplier) LastContent() string                         { return "" }

func TestRunStopsAllLoopsOnCancellation(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	coord := coordinator.New("inst-1", &fakeHotStore{}, fakeCold{}, fakeRegistry{}, fakePolicies{}, model.BalancedFactors, fakeMaterializer{}, time.Second, time.Minute, make(chan struct{}), log)
	rec := reconcile.New(fakeReconcileStore{}, fakeApplier{}, "/tmp/lambo.conf", log)
	cleaner := &fakeCleaner{}
	pruner := &fakePruner{}

	s := New(coord, rec, cleaner, pruner, Intervals{
		WeightCycle:    10 * time.Millisecond,
		Heartbeat:      10 * time.Millisecond,
		DriftReconcile: 10 * time.Millisecond,
		HotCleanup:     10 * time.Millisecond,
		RetentionDays:  7,
	}, log)
	s.Clock = func() time.Time { return time.Now() }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.NoError(t, err)
	require.Greater(t, atomic.LoadInt32(&cleaner.calls), int32(0))
}
