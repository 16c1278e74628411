// Package policy implements C4: the per-server policy record store,
// threshold-violation hysteresis, and the effective-weight override rule.
// Read-modify-write cycles are serialized per-server through an in-process
// mutex, per spec §5's "read-modify-write cycles inside one instance are
// serialized through the policy component".
package policy

import (
	"sync"
	"time"

	"github.com/archway-network/lambo/internal/model"
)

// ColdStore is the minimal persistence seam policy depends on (satisfied by
// *coldstore.ColdStore); kept as an interface so tests don't need a DB.
type ColdStore interface {
	GetPolicy(serverID string) (model.ServerPolicy, bool, error)
	UpsertPolicy(model.ServerPolicy) error
	AllPolicies() ([]model.ServerPolicy, error)
}

// MetricsRecorder is the optional Prometheus hook (satisfied by
// *internal/obs.Metrics); nil records nothing.
type MetricsRecorder interface {
	RecordPolicyViolation(serverID string)
}

// Store is the in-process policy cache backed durably by ColdStore.
type Store struct {
	cold ColdStore

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	cache   map[string]model.ServerPolicy
	cacheMu sync.RWMutex

	Metrics MetricsRecorder
}

// New builds a Store, warming its cache from cold storage.
func New(cold ColdStore) (*Store, error) {
	s := &Store{
		cold:  cold,
		locks: map[string]*sync.Mutex{},
		cache: map[string]model.ServerPolicy{},
	}
	existing, err := cold.AllPolicies()
	if err != nil {
		return nil, err
	}
	for _, p := range existing {
		s.cache[p.ServerID] = p
	}
	return s, nil
}

func (s *Store) lockFor(serverID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[serverID] = l
	}
	return l
}

// Get returns the cached policy for a server, and whether one exists.
func (s *Store) Get(serverID string) (model.ServerPolicy, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	p, ok := s.cache[serverID]
	return p, ok
}

func (s *Store) put(p model.ServerPolicy) error {
	s.cacheMu.Lock()
	s.cache[p.ServerID] = p
	s.cacheMu.Unlock()
	return s.cold.UpsertPolicy(p)
}

// CreateDefaultIfAbsent ensures a policy record exists for serverID.
func (s *Store) CreateDefaultIfAbsent(serverID string) (model.ServerPolicy, error) {
	lock := s.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	if p, ok := s.Get(serverID); ok {
		return p, nil
	}
	p := model.DefaultServerPolicy(serverID, time.Now())
	return p, s.put(p)
}

// patch mutates and persists a server's policy under its per-server lock.
func (s *Store) patch(serverID string, mutate func(*model.ServerPolicy)) (model.ServerPolicy, error) {
	lock := s.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	p, ok := s.Get(serverID)
	if !ok {
		p = model.DefaultServerPolicy(serverID, time.Now())
	}
	mutate(&p)
	p.UpdatedAt = time.Now()
	return p, s.put(p)
}

// SetFixedWeight pins w and clears dynamic_weight_enabled (spec §3 invariant).
func (s *Store) SetFixedWeight(serverID string, w int) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		p.FixedWeight = &w
		p.DynamicWeightEnabled = false
	})
}

// EnableDynamic re-enables dynamic scoring and clears any fixed weight.
func (s *Store) EnableDynamic(serverID string) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		p.DynamicWeightEnabled = true
		p.FixedWeight = nil
	})
}

// ThresholdLimits bundles the optional per-signal thresholds (spec §3).
type ThresholdLimits struct {
	MaxResponseTimeMs *float64
	MaxErrorRatePct   *float64
	MinSuccessRatePct *float64
	MaxTimeoutRatePct *float64
	MinUptimePct      *float64
}

// SetThresholds replaces a server's threshold limits.
func (s *Store) SetThresholds(serverID string, t ThresholdLimits) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		p.MaxResponseTimeMs = t.MaxResponseTimeMs
		p.MaxErrorRatePct = t.MaxErrorRatePct
		p.MinSuccessRatePct = t.MinSuccessRatePct
		p.MaxTimeoutRatePct = t.MaxTimeoutRatePct
		p.MinUptimePct = t.MinUptimePct
	})
}

// EnableAutoRemoval turns on threshold-driven auto-removal with the given
// violation budget.
func (s *Store) EnableAutoRemoval(serverID string, maxViolations int) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		p.AutoRemovalEnabled = true
		p.MaxViolationsBeforeRm = maxViolations
	})
}

// DisableAutoRemoval turns off auto-removal and resets the violation counter.
func (s *Store) DisableAutoRemoval(serverID string) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		p.AutoRemovalEnabled = false
		p.ViolationsCount = 0
	})
}

// ManuallyRemove forces a server's effective weight to 0.
func (s *Store) ManuallyRemove(serverID string) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		p.ManuallyRemoved = true
	})
}

// Reenable clears manual removal and resets the violation counter (spec §3:
// "re-enabling a server resets violations_count to 0").
func (s *Store) Reenable(serverID string) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		p.ManuallyRemoved = false
		p.ViolationsCount = 0
	})
}

// ResetAll clears every policy back to defaults (admin bulk operation).
func (s *Store) ResetAll() error {
	s.cacheMu.Lock()
	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	s.cacheMu.Unlock()

	for _, id := range ids {
		if _, err := s.patch(id, func(p *model.ServerPolicy) {
			*p = model.DefaultServerPolicy(id, time.Now())
		}); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateThresholds implements spec §4.2 step 6 / §4.3's hysteresis rule:
// a violating sample increments the counter (and may trip auto-removal); a
// clean sample resets a nonzero counter to 0. Uses effective latency for the
// response-time threshold, per spec.
func (s *Store) EvaluateThresholds(serverID string, sample model.MetricSample) (model.ServerPolicy, error) {
	return s.patch(serverID, func(p *model.ServerPolicy) {
		violated := violatesAny(p, sample)
		now := time.Now()
		if violated {
			p.ViolationsCount++
			p.LastViolationAt = &now
			if s.Metrics != nil {
				s.Metrics.RecordPolicyViolation(serverID)
			}
			if p.AutoRemovalEnabled && p.ViolationsCount >= p.MaxViolationsBeforeRm {
				p.ManuallyRemoved = true
			}
		} else if p.ViolationsCount > 0 {
			p.ViolationsCount = 0
		}
	})
}

func violatesAny(p *model.ServerPolicy, sample model.MetricSample) bool {
	if p.MaxResponseTimeMs != nil && sample.EffectiveLatency() > *p.MaxResponseTimeMs {
		return true
	}
	if p.MaxErrorRatePct != nil && sample.ErrorRatePct > *p.MaxErrorRatePct {
		return true
	}
	if p.MinSuccessRatePct != nil && sample.SuccessRatePct < *p.MinSuccessRatePct {
		return true
	}
	if p.MaxTimeoutRatePct != nil && sample.TimeoutRatePct > *p.MaxTimeoutRatePct {
		return true
	}
	if p.MinUptimePct != nil && sample.UptimePct < *p.MinUptimePct {
		return true
	}
	return false
}
