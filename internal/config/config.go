// Package config loads and validates process configuration: pool membership,
// store/cold-store connection info, intervals, TTLs and the reload command.
// It follows the teacher's own load order — YAML file, then environment
// overlay, then validation — generalized from a single backend list to the
// full surface spec §6 names.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"github.com/archway-network/lambo/internal/model"
)

// Config holds all configuration for the control plane.
type Config struct {
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID"`

	Pools PoolsConfig `yaml:"pools"`

	Store     StoreConfig     `yaml:"store"`
	ColdStore ColdStoreConfig `yaml:"cold_store"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Admin     AdminConfig     `yaml:"admin"`
	Intervals IntervalsConfig `yaml:"intervals"`

	EWMAAlpha     float64              `yaml:"ewma_alpha" env:"EWMA_ALPHA"`
	WeightFactors model.WeightFactors  `yaml:"weight_factors"`
}

// PoolsConfig lists the statically-configured backends per pool.
type PoolsConfig struct {
	Incoming []model.ServerDescriptor `yaml:"incoming"`
	Outgoing []model.ServerDescriptor `yaml:"outgoing"`
}

// StoreConfig configures the Redis-backed shared-state store (C1).
type StoreConfig struct {
	Addr      string `yaml:"addr" env:"STORE_ADDR"`
	Password  string `yaml:"password" env:"STORE_PASSWORD"`
	DB        int    `yaml:"db" env:"STORE_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"STORE_KEY_PREFIX"`

	MetricsTTL   time.Duration `yaml:"metrics_ttl"`
	WeightsTTL   time.Duration `yaml:"weights_ttl"`
	ProxyTTL     time.Duration `yaml:"proxy_ttl"`
	InstanceTTL  time.Duration `yaml:"instance_ttl"`
	GenericTTL   time.Duration `yaml:"generic_ttl"`
}

// ColdStoreConfig configures the durable metric/policy backup (spec's cold store).
type ColdStoreConfig struct {
	Driver string `yaml:"driver" env:"COLDSTORE_DRIVER"` // "postgres" or "sqlite"
	DSN    string `yaml:"dsn" env:"COLDSTORE_DSN"`

	RetentionDays int `yaml:"retention_days"`
}

// ProxyConfig configures the materialized proxy config file and reload.
type ProxyConfig struct {
	ConfigDir     string   `yaml:"config_dir" env:"PROXY_CONFIG_DIR"`
	ConfigFile    string   `yaml:"config_file" env:"PROXY_CONFIG_FILE"`
	BackupOnWrite bool     `yaml:"backup_on_write"`
	ReloadCommand []string `yaml:"reload_command"`
}

// AdminConfig configures the admin/ingest HTTP surface (C9).
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"ADMIN_LISTEN_ADDR"`
}

// IntervalsConfig configures the scheduler's periodic tasks (C8).
type IntervalsConfig struct {
	WeightCycle     time.Duration `yaml:"weight_cycle"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
	DriftReconcile  time.Duration `yaml:"drift_reconcile"`
	HotCleanup      time.Duration `yaml:"hot_cleanup"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	CycleFreshness  time.Duration `yaml:"cycle_freshness"`
}

// Defaults returns a Config with every spec-mandated default populated.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Addr:        "127.0.0.1:6379",
			KeyPrefix:   "",
			MetricsTTL:  600 * time.Second,
			WeightsTTL:  300 * time.Second,
			ProxyTTL:    1800 * time.Second,
			InstanceTTL: 60 * time.Second,
			GenericTTL:  3600 * time.Second,
		},
		ColdStore: ColdStoreConfig{
			Driver:        "sqlite",
			DSN:           "lambo.db",
			RetentionDays: 7,
		},
		Proxy: ProxyConfig{
			ConfigDir:     ".",
			ConfigFile:    "lambo.conf",
			BackupOnWrite: true,
			ReloadCommand: []string{"true"},
		},
		Admin: AdminConfig{
			ListenAddr: ":8080",
		},
		Intervals: IntervalsConfig{
			WeightCycle:    60 * time.Second,
			Heartbeat:      30 * time.Second,
			DriftReconcile: 10 * time.Second,
			HotCleanup:     60 * time.Second,
			LockTTL:        30 * time.Second,
			CycleFreshness: 5 * time.Minute,
		},
		EWMAAlpha:     0.3,
		WeightFactors: model.BalancedFactors(),
	}
}

// Load reads configPath (if present), overlays environment variables, and
// validates the result. Mirrors the teacher's NewConfig three-step flow.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to open config file %s: %w", configPath, err)
			}
		} else {
			defer file.Close()
			d := yaml.NewDecoder(file)
			if err := d.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = generateInstanceID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs startup validation. A failure here is one of the two
// fatal-to-the-process error paths spec §7 allows.
func (c *Config) Validate() error {
	if len(c.Pools.Incoming) == 0 && len(c.Pools.Outgoing) == 0 {
		return fmt.Errorf("at least one pool must have a configured server")
	}
	seen := map[string]bool{}
	for _, pool := range [][]model.ServerDescriptor{c.Pools.Incoming, c.Pools.Outgoing} {
		for _, s := range pool {
			if s.ID == "" {
				return fmt.Errorf("server id must not be empty")
			}
			if seen[s.ID] {
				return fmt.Errorf("duplicate server id %q", s.ID)
			}
			seen[s.ID] = true
			if s.Host == "" {
				return fmt.Errorf("server %q: host must not be empty", s.ID)
			}
		}
	}
	if err := c.WeightFactors.Validate(); err != nil {
		return err
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("ewma_alpha must be in (0,1], got %v", c.EWMAAlpha)
	}
	if len(c.Proxy.ReloadCommand) == 0 || c.Proxy.ReloadCommand[0] == "" {
		return fmt.Errorf("proxy.reload_command must not be empty")
	}
	if c.ColdStore.Driver != "postgres" && c.ColdStore.Driver != "sqlite" {
		return fmt.Errorf("cold_store.driver must be postgres or sqlite, got %q", c.ColdStore.Driver)
	}
	return nil
}

// ServersByPool returns the registry seed data keyed by pool.
func (c *Config) ServersByPool() map[model.Pool][]model.ServerDescriptor {
	return map[model.Pool][]model.ServerDescriptor{
		model.PoolIncoming: c.Pools.Incoming,
		model.PoolOutgoing: c.Pools.Outgoing,
	}
}
