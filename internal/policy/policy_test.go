package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archway-network/lambo/internal/model"
)

// memCold is a grounding-free, in-memory stand-in for *coldstore.ColdStore
// satisfying the ColdStore seam so these tests need no database.
type memCold struct {
	recs map[string]model.ServerPolicy
}

func newMemCold() *memCold { return &memCold{recs: map[string]model.ServerPolicy{}} }

func (m *memCold) GetPolicy(serverID string) (model.ServerPolicy, bool, error) {
	p, ok := m.recs[serverID]
	return p, ok, nil
}

func (m *memCold) UpsertPolicy(p model.ServerPolicy) error {
	m.recs[p.ServerID] = p
	return nil
}

func (m *memCold) AllPolicies() ([]model.ServerPolicy, error) {
	out := make([]model.ServerPolicy, 0, len(m.recs))
	for _, p := range m.recs {
		out = append(out, p)
	}
	return out, nil
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(newMemCold())
	require.NoError(t, err)
	return s
}

func TestManuallyRemovedOverridesEffectiveWeight(t *testing.T) {
	s := newStore(t)
	p, err := s.ManuallyRemove("s1")
	require.NoError(t, err)
	require.Equal(t, 0, p.EffectiveWeight(42))
}

func TestFixedWeightOverridesCalculated(t *testing.T) {
	s := newStore(t)
	p, err := s.SetFixedWeight("s1", 70)
	require.NoError(t, err)
	require.False(t, p.DynamicWeightEnabled)
	require.Equal(t, 70, p.EffectiveWeight(12))
}

func TestReenableResetsViolations(t *testing.T) {
	s := newStore(t)
	_, err := s.ManuallyRemove("s1")
	require.NoError(t, err)
	_, err = s.patch("s1", func(p *model.ServerPolicy) { p.ViolationsCount = 2 })
	require.NoError(t, err)

	p, err := s.Reenable("s1")
	require.NoError(t, err)
	require.False(t, p.ManuallyRemoved)
	require.Equal(t, 0, p.ViolationsCount)
}

func TestHysteresisIncrementsAndResets(t *testing.T) {
	s := newStore(t)
	maxRT := 100.0
	_, err := s.SetThresholds("s1", ThresholdLimits{MaxResponseTimeMs: &maxRT})
	require.NoError(t, err)

	bad := model.MetricSample{ServerID: "s1", AvgResponseTimeMs: 500}
	for i := 0; i < 3; i++ {
		p, err := s.EvaluateThresholds("s1", bad)
		require.NoError(t, err)
		require.Equal(t, i+1, p.ViolationsCount)
	}

	good := model.MetricSample{ServerID: "s1", AvgResponseTimeMs: 10}
	p, err := s.EvaluateThresholds("s1", good)
	require.NoError(t, err)
	require.Equal(t, 0, p.ViolationsCount)
}

func TestHysteresisUsesEffectiveLatencyNotInstant(t *testing.T) {
	s := newStore(t)
	maxRT := 100.0
	_, err := s.SetThresholds("s1", ThresholdLimits{MaxResponseTimeMs: &maxRT})
	require.NoError(t, err)

	ewma := 500.0
	sample := model.MetricSample{ServerID: "s1", AvgResponseTimeMs: 10, EwmaLatencyMs: &ewma}
	p, err := s.EvaluateThresholds("s1", sample)
	require.NoError(t, err)
	require.Equal(t, 1, p.ViolationsCount)
}

func TestAutoRemovalTripsAfterMaxViolations(t *testing.T) {
	s := newStore(t)
	maxRT := 100.0
	_, err := s.SetThresholds("s1", ThresholdLimits{MaxResponseTimeMs: &maxRT})
	require.NoError(t, err)
	_, err = s.EnableAutoRemoval("s1", 2)
	require.NoError(t, err)

	bad := model.MetricSample{ServerID: "s1", AvgResponseTimeMs: 500}
	_, err = s.EvaluateThresholds("s1", bad)
	require.NoError(t, err)
	p, err := s.EvaluateThresholds("s1", bad)
	require.NoError(t, err)
	require.True(t, p.ManuallyRemoved)
}

func TestCreateDefaultIfAbsentIsIdempotent(t *testing.T) {
	s := newStore(t)
	first, err := s.CreateDefaultIfAbsent("s1")
	require.NoError(t, err)
	require.True(t, first.DynamicWeightEnabled)

	_, err = s.SetFixedWeight("s1", 5)
	require.NoError(t, err)

	second, err := s.CreateDefaultIfAbsent("s1")
	require.NoError(t, err)
	require.False(t, second.DynamicWeightEnabled, "must not clobber an existing record")
}

func TestResetAllRestoresDefaults(t *testing.T) {
	s := newStore(t)
	_, err := s.SetFixedWeight("s1", 99)
	require.NoError(t, err)

	require.NoError(t, s.ResetAll())

	p, ok := s.Get("s1")
	require.True(t, ok)
	require.True(t, p.DynamicWeightEnabled)
	require.Nil(t, p.FixedWeight)
}

func TestWarmsCacheFromColdStoreOnNew(t *testing.T) {
	cold := newMemCold()
	existing := model.DefaultServerPolicy("s1", time.Now())
	existing.ManuallyRemoved = true
	require.NoError(t, cold.UpsertPolicy(existing))

	s, err := New(cold)
	require.NoError(t, err)

	p, ok := s.Get("s1")
	require.True(t, ok)
	require.True(t, p.ManuallyRemoved)
}
