// Package nginxconfig implements C6: renders the dual-upstream proxy config
// text artifact from a cycle's weight allocations, validates it, writes it
// atomically to disk, publishes it to the shared store, and triggers the
// external proxy's reload command. The reverse proxy itself runs out of
// process — this package only ever produces and ships text, never serves
// traffic (spec §1's explicit scope boundary).
package nginxconfig

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/model"
)

const (
	incomingBasePort = 8081
	outgoingBasePort = 9081
	reloadTimeout    = 30 * time.Second
)

// Store is the subset of internal/store's Store the materializer needs.
type Store interface {
	PutProxyConfig(ctx context.Context, content string)
}

// MetricsRecorder is the optional Prometheus hook (satisfied by
// *internal/obs.Metrics); nil records nothing.
type MetricsRecorder interface {
	RecordReload(success bool)
}

// Options configures the materializer from internal/config.ProxyConfig.
type Options struct {
	ConfigDir     string
	ConfigFile    string
	BackupOnWrite bool
	ReloadCommand []string
}

// Materializer owns rendering, validation, atomic write and reload for the
// proxy config artifact.
type Materializer struct {
	opts  Options
	store Store
	log   *logrus.Entry

	mu         sync.Mutex
	lastReload model.ReloadOutcome
	lastWrite  string

	Metrics MetricsRecorder
}

// New builds a Materializer.
func New(opts Options, store Store, log *logrus.Entry) *Materializer {
	return &Materializer{opts: opts, store: store, log: log.WithField("component", "nginxconfig")}
}

// Render builds the text artifact from one cycle's allocations (spec §4.6).
func Render(incoming, outgoing []model.WeightAllocation, now time.Time) (string, error) {
	var b strings.Builder

	activeIncoming := active(incoming)
	activeOutgoing := active(outgoing)

	fmt.Fprintf(&b, "# lambo proxy config — generated %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# incoming: %d active / %d total, outgoing: %d active / %d total\n\n", len(activeIncoming), len(incoming), len(activeOutgoing), len(outgoing))

	incomingPorts := writeUpstream(&b, "upstream_incoming", activeIncoming, incomingBasePort)
	b.WriteString("\n")
	outgoingPorts := writeUpstream(&b, "upstream_outgoing", activeOutgoing, outgoingBasePort)
	b.WriteString("\n")

	writeServerBlocks(&b, activeIncoming, incomingPorts)
	writeServerBlocks(&b, activeOutgoing, outgoingPorts)

	content := b.String()
	if err := Validate(content); err != nil {
		return "", err
	}
	return content, nil
}

// active returns allocations with a positive weight, sorted by server id for
// deterministic port assignment and output.
func active(allocations []model.WeightAllocation) []model.WeightAllocation {
	out := make([]model.WeightAllocation, 0, len(allocations))
	for _, a := range allocations {
		if a.Weight > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// writeUpstream emits one upstream block and returns the local port assigned
// to each server id, sequential starting at basePort. An empty pool gets the
// placeholder backend from spec §4.6 so the rendered config still parses.
func writeUpstream(b *strings.Builder, name string, allocations []model.WeightAllocation, basePort int) map[string]int {
	fmt.Fprintf(b, "upstream %s {\n", name)
	ports := make(map[string]int, len(allocations))
	if len(allocations) == 0 {
		fmt.Fprintf(b, "    server 127.0.0.1:65535; # placeholder, no active backends\n")
		b.WriteString("}\n")
		return ports
	}
	for i, a := range allocations {
		port := basePort + i
		ports[a.ServerID] = port
		fmt.Fprintf(b, "    server 127.0.0.1:%d weight=%d; # %s\n", port, a.Weight, a.ServerID)
	}
	b.WriteString("}\n")
	return ports
}

// writeServerBlocks emits one local proxy server block per active allocation.
func writeServerBlocks(b *strings.Builder, allocations []model.WeightAllocation, ports map[string]int) {
	for _, a := range allocations {
		port, ok := ports[a.ServerID]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "server {\n")
		fmt.Fprintf(b, "    listen 127.0.0.1:%d;\n", port)
		fmt.Fprintf(b, "    location / {\n")
		fmt.Fprintf(b, "        proxy_pass https://%s$request_uri;\n", a.Address)
		fmt.Fprintf(b, "        proxy_set_header X-Real-IP $remote_addr;\n")
		fmt.Fprintf(b, "        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
		fmt.Fprintf(b, "        proxy_set_header X-Forwarded-Proto $scheme;\n")
		fmt.Fprintf(b, "        proxy_connect_timeout 30s;\n")
		fmt.Fprintf(b, "        proxy_send_timeout 30s;\n")
		fmt.Fprintf(b, "        proxy_read_timeout 30s;\n")
		fmt.Fprintf(b, "    }\n")
		fmt.Fprintf(b, "}\n")
	}
}

// Validate implements spec §4.6's render checks: non-empty, balanced braces,
// both upstream directives present (P7).
func Validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("rendered config is empty")
	}
	if strings.Count(content, "{") != strings.Count(content, "}") {
		return fmt.Errorf("rendered config has unbalanced braces")
	}
	if !strings.Contains(content, "upstream upstream_incoming") {
		return fmt.Errorf("rendered config is missing upstream_incoming")
	}
	if !strings.Contains(content, "upstream upstream_outgoing") {
		return fmt.Errorf("rendered config is missing upstream_outgoing")
	}
	return nil
}

// Materialize implements the full C6 apply path for one cycle's allocations:
// render, validate, atomic write, publish, reload.
func (m *Materializer) Materialize(ctx context.Context, incoming, outgoing []model.WeightAllocation) error {
	content, err := Render(incoming, outgoing, time.Now())
	if err != nil {
		return fmt.Errorf("render proxy config: %w", err)
	}
	return m.apply(ctx, content, true)
}

// ApplyExternal writes and reloads a config blob pulled from the shared
// store (C7's drift-reconcile path) without re-rendering or re-publishing —
// the content already came from whichever instance authored this cycle.
func (m *Materializer) ApplyExternal(ctx context.Context, content string) error {
	if err := Validate(content); err != nil {
		return fmt.Errorf("validate externally-pulled proxy config: %w", err)
	}
	return m.apply(ctx, content, false)
}

func (m *Materializer) apply(ctx context.Context, content string, publish bool) error {
	path := filepath.Join(m.opts.ConfigDir, m.opts.ConfigFile)
	if err := m.writeAtomic(path, content); err != nil {
		return fmt.Errorf("write proxy config: %w", err)
	}

	if publish {
		m.store.PutProxyConfig(ctx, content)
	}

	outcome := m.reload(ctx)

	m.mu.Lock()
	if outcome.Success {
		m.lastWrite = content
	}
	m.lastReload = outcome
	m.mu.Unlock()

	if m.Metrics != nil {
		m.Metrics.RecordReload(outcome.Success)
	}
	if !outcome.Success {
		m.log.WithField("exit_code", outcome.ExitCode).WithField("stderr", outcome.Stderr).
			Warn("proxy reload failed; config file was written, prior last-applied content kept")
	}
	return nil
}

func (m *Materializer) writeAtomic(path, content string) error {
	if m.opts.BackupOnWrite {
		if prior, err := os.ReadFile(path); err == nil {
			backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format("20060102T150405"))
			if err := os.WriteFile(backupPath, prior, 0o644); err != nil {
				m.log.WithError(err).Warn("failed to write config backup, continuing")
			}
		}
	}

	tmp, err := os.CreateTemp(m.opts.ConfigDir, ".lambo-config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// reload invokes the configured reload command with a bounded timeout. A
// non-zero exit or a launch failure is recorded, never returned as an error —
// the write already succeeded and is not rolled back (spec §4.6).
func (m *Materializer) reload(ctx context.Context) model.ReloadOutcome {
	reloadCtx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()

	cmd := exec.CommandContext(reloadCtx, m.opts.ReloadCommand[0], m.opts.ReloadCommand[1:]...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	now := time.Now()
	err := cmd.Run()
	outcome := model.ReloadOutcome{At: now, Stderr: stderr.String()}
	if err != nil {
		outcome.Success = false
		if exitErr, ok := err.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.ExitCode = -1
			outcome.Stderr = err.Error()
		}
		return outcome
	}
	outcome.Success = true
	return outcome
}

// LastReload returns the most recently recorded reload outcome, for C9's
// GET /api/status.
func (m *Materializer) LastReload() model.ReloadOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReload
}

// LastContent returns the most recently written config content whose reload
// succeeded, used by C7 to decide whether a pulled blob differs from what was
// last applied. The file on disk is not read.
func (m *Materializer) LastContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWrite
}
