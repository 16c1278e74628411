package factors

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/archway-network/lambo/internal/model"
)

type memStore struct {
	values map[string]model.WeightFactors
}

func newMemStore() *memStore { return &memStore{values: map[string]model.WeightFactors{}} }

func (s *memStore) PutConfig(_ context.Context, k string, v any) {
	s.values[k] = v.(model.WeightFactors)
}

func (s *memStore) GetConfig(_ context.Context, k string, out any) bool {
	f, ok := s.values[k]
	if !ok {
		return false
	}
	*out.(*model.WeightFactors) = f
	return true
}

func newManager(store Store) *Manager {
	return New(context.Background(), store, model.BalancedFactors(), logrus.NewEntry(logrus.New()))
}

func TestNewFallsBackToConfiguredDefaultWhenNothingPersisted(t *testing.T) {
	m := newManager(newMemStore())
	require.Equal(t, model.BalancedFactors(), m.Get())
}

func TestNewPrefersPersistedValue(t *testing.T) {
	store := newMemStore()
	store.values[configKey] = model.Presets["performance"]
	m := newManager(store)
	require.Equal(t, model.Presets["performance"], m.Get())
}

func TestSetRejectsInvalidFactors(t *testing.T) {
	m := newManager(newMemStore())
	_, err := m.Set(context.Background(), model.WeightFactors{ResponseTime: 0.1})
	require.Error(t, err)
	require.Equal(t, model.BalancedFactors(), m.Get(), "an invalid Set must not mutate current state")
}

func TestSetPersistsAcrossNewManager(t *testing.T) {
	store := newMemStore()
	m := newManager(store)
	updated, err := m.Set(context.Background(), model.Presets["reliability"])
	require.NoError(t, err)
	require.Equal(t, model.Presets["reliability"], updated)

	m2 := newManager(store)
	require.Equal(t, model.Presets["reliability"], m2.Get())
}

func TestNormalizeRescalesToSumOne(t *testing.T) {
	store := newMemStore()
	m := newManager(store)
	store.values[configKey] = model.WeightFactors{ResponseTime: 2, ErrorRate: 2, TimeoutRate: 2, Uptime: 2, Degradation: 2}
	m.current = store.values[configKey]

	normalized := m.Normalize(context.Background())
	require.InDelta(t, 1.0, normalized.Sum(), 0.0001)
}

func TestResetRestoresBalanced(t *testing.T) {
	m := newManager(newMemStore())
	m.current = model.Presets["performance"]
	require.Equal(t, model.BalancedFactors(), m.Reset(context.Background()))
}

func TestPresetUnknownNameErrors(t *testing.T) {
	m := newManager(newMemStore())
	_, err := m.Preset(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestPresetAppliesNamedSet(t *testing.T) {
	m := newManager(newMemStore())
	applied, err := m.Preset(context.Background(), "errorAvoidance")
	require.NoError(t, err)
	require.Equal(t, model.Presets["errorAvoidance"], applied)
	require.Equal(t, model.Presets["errorAvoidance"], m.Get())
}
