// Package factors owns the single, runtime-mutable WeightFactors value the
// weight engine reads every cycle, administered through C9's /api/factors
// routes. It mirrors internal/policy's cache-backed-by-durable-store shape,
// scaled down to a single key instead of one record per server.
package factors

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/model"
)

const configKey = "weight_factors"

// Store is the durable-persistence seam (satisfied by *store.Store).
type Store interface {
	PutConfig(ctx context.Context, k string, v any)
	GetConfig(ctx context.Context, k string, out any) bool
}

// Manager holds the process's current WeightFactors, durably persisted so a
// restart doesn't silently revert an admin change back to the YAML default.
type Manager struct {
	store Store
	log   *logrus.Entry

	mu      sync.RWMutex
	current model.WeightFactors
}

// New builds a Manager, preferring a previously-persisted value over the
// configured default.
func New(ctx context.Context, store Store, configured model.WeightFactors, log *logrus.Entry) *Manager {
	m := &Manager{store: store, log: log.WithField("component", "factors"), current: configured}
	var loaded model.WeightFactors
	if store.GetConfig(ctx, configKey, &loaded) {
		if err := loaded.Validate(); err == nil {
			m.current = loaded
		}
	}
	return m
}

// Get returns the current factors. Its signature matches
// coordinator.FactorsProvider so it can be passed directly as a method
// value.
func (m *Manager) Get() model.WeightFactors {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) set(ctx context.Context, f model.WeightFactors) model.WeightFactors {
	m.mu.Lock()
	m.current = f
	m.mu.Unlock()
	m.store.PutConfig(ctx, configKey, f)
	return f
}

// Set validates and replaces the current factors (admin PUT /api/factors).
func (m *Manager) Set(ctx context.Context, f model.WeightFactors) (model.WeightFactors, error) {
	if err := f.Validate(); err != nil {
		return model.WeightFactors{}, err
	}
	return m.set(ctx, f), nil
}

// Normalize rescales the current factors to sum to exactly 1.0.
func (m *Manager) Normalize(ctx context.Context) model.WeightFactors {
	return m.set(ctx, m.Get().Normalize())
}

// Reset restores the balanced preset.
func (m *Manager) Reset(ctx context.Context) model.WeightFactors {
	return m.set(ctx, model.BalancedFactors())
}

// Preset applies one of spec.md §6's four named presets.
func (m *Manager) Preset(ctx context.Context, name string) (model.WeightFactors, error) {
	f, ok := model.Presets[name]
	if !ok {
		return model.WeightFactors{}, fmt.Errorf("unknown preset %q", name)
	}
	return m.set(ctx, f), nil
}
