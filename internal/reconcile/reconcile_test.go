package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	content   string
	hasConfig bool
	updated   time.Time
	hasTime   bool
}

func (s *fakeStore) GetProxyConfig(context.Context) (string, bool) { return s.content, s.hasConfig }

func (s *fakeStore) GetLastProxyUpdate(context.Context) (time.Time, bool) { return s.updated, s.hasTime }

type fakeApplier struct {
	applied     []string
	lastContent string
	err         error
}

func (a *fakeApplier) ApplyExternal(_ context.Context, content string) error {
	if a.err != nil {
		return a.err
	}
	a.applied = append(a.applied, content)
	a.lastContent = content
	return nil
}

func (a *fakeApplier) LastContent() string { return a.lastContent }

func newReconciler(store *fakeStore, applier *fakeApplier) *Reconciler {
	return New(store, applier, "/tmp/lambo.conf", logrus.NewEntry(logrus.New()))
}

func TestSyncNoOpWhenNoRemoteTimestamp(t *testing.T) {
	store := &fakeStore{}
	applier := &fakeApplier{}
	r := newReconciler(store, applier)

	r.Sync(context.Background())
	require.Empty(t, applier.applied)
}

func TestSyncAppliesNewerContentOnFirstPoll(t *testing.T) {
	store := &fakeStore{content: "new-config", hasConfig: true, updated: time.Now(), hasTime: true}
	applier := &fakeApplier{}
	r := newReconciler(store, applier)

	outcome := r.Sync(context.Background())
	require.True(t, outcome.Success)
	require.Equal(t, []string{"new-config"}, applier.applied)
	require.Equal(t, 1, r.SyncCount())
}

func TestSyncSkipsWhenNotStrictlyNewer(t *testing.T) {
	now := time.Now()
	store := &fakeStore{content: "cfg", hasConfig: true, updated: now, hasTime: true}
	applier := &fakeApplier{}
	r := newReconciler(store, applier)

	r.Sync(context.Background())
	require.Equal(t, 1, len(applier.applied))

	// Same timestamp again: must not re-apply.
	r.Sync(context.Background())
	require.Equal(t, 1, len(applier.applied))
}

func TestSyncSkipsWhenContentUnchangedEvenIfTimestampAdvances(t *testing.T) {
	store := &fakeStore{content: "cfg", hasConfig: true, updated: time.Now(), hasTime: true}
	applier := &fakeApplier{lastContent: "cfg"}
	r := newReconciler(store, applier)

	r.Sync(context.Background())
	require.Empty(t, applier.applied, "identical content must not trigger a redundant apply")
}

func TestSyncAppliesAgainWhenTimestampAndContentBothAdvance(t *testing.T) {
	store := &fakeStore{content: "v1", hasConfig: true, updated: time.Now(), hasTime: true}
	applier := &fakeApplier{}
	r := newReconciler(store, applier)
	r.Sync(context.Background())

	store.content = "v2"
	store.updated = store.updated.Add(time.Second)
	r.Sync(context.Background())

	require.Equal(t, []string{"v1", "v2"}, applier.applied)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	store := &fakeStore{}
	applier := &fakeApplier{}
	r := newReconciler(store, applier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Hour) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on cancellation")
	}
}
