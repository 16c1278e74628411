package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/archway-network/lambo/internal/model"
)

func TestDefaultsPassValidationWithOneServerAdded(t *testing.T) {
	cfg := Defaults()
	cfg.Pools.Incoming = []model.ServerDescriptor{{ID: "a", Host: "10.0.0.1", Port: "8080", Enabled: true}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsEmptyPools(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for config with no servers in either pool")
	}
}

func TestValidateRejectsDuplicateServerID(t *testing.T) {
	cfg := Defaults()
	cfg.Pools.Incoming = []model.ServerDescriptor{{ID: "dup", Host: "10.0.0.1"}}
	cfg.Pools.Outgoing = []model.ServerDescriptor{{ID: "dup", Host: "10.0.0.2"}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate server id across pools")
	}
}

func TestValidateRejectsEmptyHost(t *testing.T) {
	cfg := Defaults()
	cfg.Pools.Incoming = []model.ServerDescriptor{{ID: "a", Host: ""}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for server with empty host")
	}
}

func TestValidateRejectsBadEWMAAlpha(t *testing.T) {
	cfg := Defaults()
	cfg.Pools.Incoming = []model.ServerDescriptor{{ID: "a", Host: "10.0.0.1"}}
	cfg.EWMAAlpha = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ewma_alpha <= 0")
	}
}

func TestValidateRejectsUnknownColdStoreDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Pools.Incoming = []model.ServerDescriptor{{ID: "a", Host: "10.0.0.1"}}
	cfg.ColdStore.Driver = "mysql"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported cold store driver")
	}
}

func TestLoadWithEmptyPathSkipsFileAndFailsOnEmptyPools(t *testing.T) {
	// Load("") skips the file-read step entirely and validates bare
	// defaults, which have no servers configured in either pool.
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for defaults with no configured servers")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lambo.yaml")
	content := `
instance_id: test-instance
pools:
  incoming:
    - id: backend-a
      host: 10.0.0.1
      port: 8080
      enabled: true
  outgoing: []
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InstanceID != "test-instance" {
		t.Fatalf("expected instance_id from file to survive, got %q", cfg.InstanceID)
	}
	if len(cfg.Pools.Incoming) != 1 || cfg.Pools.Incoming[0].ID != "backend-a" {
		t.Fatalf("unexpected incoming pool: %+v", cfg.Pools.Incoming)
	}
	// Defaults not overridden by the file should survive the decode.
	if cfg.Store.Addr != "127.0.0.1:6379" {
		t.Fatalf("expected default store addr to survive, got %q", cfg.Store.Addr)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	// No servers configured anywhere, so this still fails validation, but it
	// must fail there and not at the file-open step.
	if err == nil {
		t.Fatal("expected validation error, not a file-not-found error")
	}
	if cfg != nil {
		t.Fatal("expected nil config on validation failure")
	}
}

func TestServersByPoolMapsBothPools(t *testing.T) {
	cfg := Defaults()
	cfg.Pools.Incoming = []model.ServerDescriptor{{ID: "in-1", Host: "10.0.0.1"}}
	cfg.Pools.Outgoing = []model.ServerDescriptor{{ID: "out-1", Host: "10.0.0.2"}}

	byPool := cfg.ServersByPool()
	if len(byPool[model.PoolIncoming]) != 1 || byPool[model.PoolIncoming][0].ID != "in-1" {
		t.Fatalf("unexpected incoming servers: %+v", byPool[model.PoolIncoming])
	}
	if len(byPool[model.PoolOutgoing]) != 1 || byPool[model.PoolOutgoing][0].ID != "out-1" {
		t.Fatalf("unexpected outgoing servers: %+v", byPool[model.PoolOutgoing])
	}
}
