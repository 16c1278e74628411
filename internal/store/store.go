// Package store is the single typed boundary onto the shared-state KV store
// (Redis). It never returns an error to a degree that crashes a caller: every
// operation logs and returns an absent/zero/false result on failure, per
// spec §4.1's "no method throws to the caller" contract.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/model"
)

// TTLs bundles the per-category TTLs from spec §4.1.
type TTLs struct {
	Metrics  time.Duration
	Weights  time.Duration
	Proxy    time.Duration
	Instance time.Duration
	Generic  time.Duration
}

// Store is the shared-state façade consumed by every other component.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    TTLs
	log    *logrus.Entry
}

// New builds a Store from a redis.Client already configured by the caller
// (address, password, db selection live in internal/config).
func New(rdb *redis.Client, prefix string, ttl TTLs, log *logrus.Entry) *Store {
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl, log: log.WithField("component", "store")}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		if k != "" {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *Store) warn(op string, err error) {
	s.log.WithError(err).WithField("op", op).Warn("shared-state store operation failed, degrading")
}

// --- metrics ---

// PutMetric stores the latest sample for a server, TTL'd per spec §4.1.
func (s *Store) PutMetric(ctx context.Context, serverID string, sample model.MetricSample) {
	data, err := json.Marshal(sample)
	if err != nil {
		s.warn("put_metric.marshal", err)
		return
	}
	if err := s.rdb.Set(ctx, s.key("metrics", serverID), data, s.ttl.Metrics).Err(); err != nil {
		s.warn("put_metric", err)
	}
}

// GetMetric returns the latest hot-store sample for a server, or false if
// absent or undecodable.
func (s *Store) GetMetric(ctx context.Context, serverID string) (model.MetricSample, bool) {
	raw, err := s.rdb.Get(ctx, s.key("metrics", serverID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.warn("get_metric", err)
		}
		return model.MetricSample{}, false
	}
	var sample model.MetricSample
	if err := json.Unmarshal(raw, &sample); err != nil {
		s.warn("get_metric.unmarshal", err)
		return model.MetricSample{}, false
	}
	return sample, true
}

// ScanAllMetrics prefix-scans every metrics:* key into a server-id -> sample
// map. Best-effort: a key that fails to decode is skipped, not fatal.
func (s *Store) ScanAllMetrics(ctx context.Context) map[string]model.MetricSample {
	out := map[string]model.MetricSample{}
	pattern := s.key("metrics", "*")
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var sample model.MetricSample
		if err := json.Unmarshal(raw, &sample); err != nil {
			continue
		}
		out[sample.ServerID] = sample
	}
	if err := iter.Err(); err != nil {
		s.warn("scan_all_metrics", err)
	}
	return out
}

// CleanupExpiredMetrics scans metric keys and drops any with no remaining
// TTL (defensive sweep; Redis's own expiry normally handles this).
func (s *Store) CleanupExpiredMetrics(ctx context.Context) int {
	removed := 0
	pattern := s.key("metrics", "*")
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		ttl, err := s.rdb.TTL(ctx, k).Result()
		if err != nil {
			continue
		}
		if ttl <= 0 {
			if err := s.rdb.Del(ctx, k).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		s.warn("cleanup_expired_metrics", err)
	}
	return removed
}

// --- weights ---

// PutWeights publishes one cycle's combined allocation list and records the
// publish timestamp, per spec §4.5's ordering guarantee (weights precede
// proxy-config).
func (s *Store) PutWeights(ctx context.Context, allocations []model.WeightAllocation) {
	data, err := json.Marshal(allocations)
	if err != nil {
		s.warn("put_weights.marshal", err)
		return
	}
	now := time.Now()
	if err := s.rdb.Set(ctx, s.key("weights", "current"), data, s.ttl.Weights).Err(); err != nil {
		s.warn("put_weights", err)
		return
	}
	if err := s.rdb.Set(ctx, s.key("weights", "last-update"), now.Format(time.RFC3339Nano), s.ttl.Weights).Err(); err != nil {
		s.warn("put_weights.timestamp", err)
	}
}

// GetWeights returns the last published allocation list.
func (s *Store) GetWeights(ctx context.Context) ([]model.WeightAllocation, bool) {
	raw, err := s.rdb.Get(ctx, s.key("weights", "current")).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.warn("get_weights", err)
		}
		return nil, false
	}
	var allocations []model.WeightAllocation
	if err := json.Unmarshal(raw, &allocations); err != nil {
		s.warn("get_weights.unmarshal", err)
		return nil, false
	}
	return allocations, true
}

// GetLastWeightTime returns the timestamp of the last weights publish.
func (s *Store) GetLastWeightTime(ctx context.Context) (time.Time, bool) {
	return s.getTimestamp(ctx, s.key("weights", "last-update"))
}

// --- proxy config ---

// PutProxyConfig publishes the rendered config blob and its timestamp.
func (s *Store) PutProxyConfig(ctx context.Context, content string) {
	now := time.Now()
	if err := s.rdb.Set(ctx, s.key("nginx", "current-config"), content, s.ttl.Proxy).Err(); err != nil {
		s.warn("put_proxy_config", err)
		return
	}
	if err := s.rdb.Set(ctx, s.key("nginx", "last-update"), now.Format(time.RFC3339Nano), s.ttl.Proxy).Err(); err != nil {
		s.warn("put_proxy_config.timestamp", err)
	}
}

// GetProxyConfig returns the latest published config blob.
func (s *Store) GetProxyConfig(ctx context.Context) (string, bool) {
	content, err := s.rdb.Get(ctx, s.key("nginx", "current-config")).Result()
	if err != nil {
		if err != redis.Nil {
			s.warn("get_proxy_config", err)
		}
		return "", false
	}
	return content, true
}

// GetLastProxyUpdate returns the timestamp of the last published config.
func (s *Store) GetLastProxyUpdate(ctx context.Context) (time.Time, bool) {
	return s.getTimestamp(ctx, s.key("nginx", "last-update"))
}

func (s *Store) getTimestamp(ctx context.Context, key string) (time.Time, bool) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.warn("get_timestamp", err)
		}
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.warn("get_timestamp.parse", err)
		return time.Time{}, false
	}
	return t, true
}

// --- instance heartbeats ---

// Heartbeat records this instance as active with a short TTL.
func (s *Store) Heartbeat(ctx context.Context, instanceID string) {
	hb := model.InstanceHeartbeat{InstanceID: instanceID, LastSeen: time.Now(), Status: "active"}
	data, err := json.Marshal(hb)
	if err != nil {
		s.warn("heartbeat.marshal", err)
		return
	}
	if err := s.rdb.Set(ctx, s.key("instance", instanceID), data, s.ttl.Instance).Err(); err != nil {
		s.warn("heartbeat", err)
	}
}

// ListActiveInstances returns every unexpired instance heartbeat.
func (s *Store) ListActiveInstances(ctx context.Context) []model.InstanceHeartbeat {
	var out []model.InstanceHeartbeat
	pattern := s.key("instance", "*")
	iter := s.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var hb model.InstanceHeartbeat
		if err := json.Unmarshal(raw, &hb); err != nil {
			continue
		}
		out = append(out, hb)
	}
	if err := iter.Err(); err != nil {
		s.warn("list_active_instances", err)
	}
	return out
}

// --- generic config ---

// PutConfig stores an arbitrary admin-managed config value (spec §4.1's
// config:<k> namespace — used for published WeightFactors, for example).
func (s *Store) PutConfig(ctx context.Context, k string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.warn("put_config.marshal", err)
		return
	}
	if err := s.rdb.Set(ctx, s.key("config", k), data, s.ttl.Generic).Err(); err != nil {
		s.warn("put_config", err)
	}
}

// GetConfig decodes the generic config value named k into out.
func (s *Store) GetConfig(ctx context.Context, k string, out any) bool {
	raw, err := s.rdb.Get(ctx, s.key("config", k)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.warn("get_config", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.warn("get_config.unmarshal", err)
		return false
	}
	return true
}

// --- locks ---

// TryAcquireLock attempts to take a named advisory lock via SETNX, scoped to
// ttl. Returns false on contention or any store failure.
func (s *Store) TryAcquireLock(ctx context.Context, name, instanceID string, ttl time.Duration) bool {
	ok, err := s.rdb.SetNX(ctx, s.key("lock", name), instanceID, ttl).Result()
	if err != nil {
		s.warn("try_acquire_lock", err)
		return false
	}
	return ok
}

// releaseLockScript deletes a lock key only if its value matches the caller,
// so a non-owner's release is a no-op (P6) without a racy GET-then-DEL.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// ReleaseLock releases name only if it is currently held by instanceID.
func (s *Store) ReleaseLock(ctx context.Context, name, instanceID string) {
	if err := releaseLockScript.Run(ctx, s.rdb, []string{s.key("lock", name)}, instanceID).Err(); err != nil && err != redis.Nil {
		s.warn("release_lock", err)
	}
}

// Ping is used by health checks / startup wiring; errors are returned since
// this is a boot-time check, not a periodic-cycle operation.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}
