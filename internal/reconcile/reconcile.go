// Package reconcile implements C7: an independent drift reconciler that
// pulls a newer proxy-config artifact published by whichever instance held
// the weight-calculation lock last cycle, and a supplemental filesystem
// watch that records out-of-band edits of the config file for observability.
// A recorded edit does not change what the next poll compares or applies.
package reconcile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/model"
)

// Store is the subset of internal/store's Store the reconciler needs.
type Store interface {
	GetProxyConfig(ctx context.Context) (string, bool)
	GetLastProxyUpdate(ctx context.Context) (time.Time, bool)
}

// Applier is C6's apply path: validate + write + reload a pulled blob.
type Applier interface {
	ApplyExternal(ctx context.Context, content string) error
	LastContent() string
}

// Reconciler polls the shared store for a newer published config and keeps
// the local file synchronized, idempotently (spec §4.8: no lock needed).
type Reconciler struct {
	store      Store
	applier    Applier
	configPath string
	log        *logrus.Entry

	mu           sync.Mutex
	lastApplied  time.Time
	haveApplied  bool
	lastOutcome  string
	syncCount    int
}

// New builds a Reconciler. configPath is the rendered config file's path on
// disk, watched for out-of-band edits.
func New(store Store, applier Applier, configPath string, log *logrus.Entry) *Reconciler {
	return &Reconciler{store: store, applier: applier, configPath: configPath, log: log.WithField("component", "reconcile")}
}

// Run drives the periodic poll loop plus the supplemental fsnotify watch,
// exiting cleanly when ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, period time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.WithError(err).Warn("failed to start config file watcher, continuing without it")
		return r.pollLoop(ctx, period, nil)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.configPath)
	if err := watcher.Add(dir); err != nil {
		r.log.WithError(err).WithField("dir", dir).Warn("failed to watch config directory, continuing without it")
		watcher.Close()
		return r.pollLoop(ctx, period, nil)
	}

	return r.pollLoop(ctx, period, watcher)
}

func (r *Reconciler) pollLoop(ctx context.Context, period time.Duration, watcher *fsnotify.Watcher) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sync(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Name == r.configPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				r.noteExternalEdit()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.log.WithError(err).Warn("config file watcher error")
		}
	}
}

// Sync implements spec §4.8's single poll: pull the last-update timestamp,
// and if strictly newer than what this instance has applied, pull and apply
// the blob (only if its content differs from the applier's LastContent; the
// file on disk is not read).
func (r *Reconciler) Sync(ctx context.Context) model.ReloadOutcome {
	remoteTime, ok := r.store.GetLastProxyUpdate(ctx)
	if !ok {
		return model.ReloadOutcome{}
	}

	r.mu.Lock()
	newer := !r.haveApplied || remoteTime.After(r.lastApplied)
	r.mu.Unlock()
	if !newer {
		return model.ReloadOutcome{}
	}

	content, ok := r.store.GetProxyConfig(ctx)
	if !ok {
		return model.ReloadOutcome{}
	}

	if content == r.applier.LastContent() {
		r.markApplied(remoteTime)
		return model.ReloadOutcome{}
	}

	if err := r.applier.ApplyExternal(ctx, content); err != nil {
		r.log.WithError(err).Warn("drift reconcile: failed to apply pulled config")
		return model.ReloadOutcome{Success: false, At: time.Now(), Stderr: err.Error()}
	}

	r.markApplied(remoteTime)
	r.mu.Lock()
	r.syncCount++
	r.mu.Unlock()
	return model.ReloadOutcome{Success: true, At: time.Now()}
}

func (r *Reconciler) markApplied(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastApplied = t
	r.haveApplied = true
}

// noteExternalEdit records that the file on disk changed outside of this
// process's own write path, as a note returned by LastExternalEditNote. It
// does not re-render or re-read the file: the next poll still compares
// against the applier's LastContent, so an externally-made edit is surfaced
// for observability only, not acted on.
func (r *Reconciler) noteExternalEdit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastOutcome = "external edit detected at " + time.Now().Format(time.RFC3339)
}

// SyncCount returns how many times this reconciler has applied a pulled
// config, for tests and observability.
func (r *Reconciler) SyncCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncCount
}

// LastExternalEditNote reports the most recent out-of-band file edit this
// reconciler's filesystem watcher observed, if any (empty if none yet).
func (r *Reconciler) LastExternalEditNote() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOutcome
}
