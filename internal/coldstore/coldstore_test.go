package coldstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archway-network/lambo/internal/model"
)

func openTest(t *testing.T) *ColdStore {
	t.Helper()
	cs, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestInsertAndNewest(t *testing.T) {
	cs := openTest(t)

	older := model.MetricSample{ServerID: "s1", AvgResponseTimeMs: 100, CreatedAt: time.Now().Add(-time.Hour)}
	newer := model.MetricSample{ServerID: "s1", AvgResponseTimeMs: 50, CreatedAt: time.Now()}

	require.NoError(t, cs.Insert(older))
	require.NoError(t, cs.Insert(newer))

	got, ok, err := cs.Newest("s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 50.0, got.AvgResponseTimeMs)
}

func TestNewestAbsent(t *testing.T) {
	cs := openTest(t)
	_, ok, err := cs.Newest("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPrune(t *testing.T) {
	cs := openTest(t)
	old := model.MetricSample{ServerID: "s1", CreatedAt: time.Now().Add(-10 * 24 * time.Hour)}
	recent := model.MetricSample{ServerID: "s1", CreatedAt: time.Now()}
	require.NoError(t, cs.Insert(old))
	require.NoError(t, cs.Insert(recent))

	n, err := cs.Prune(time.Now().Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestPolicyUpsertAndGet(t *testing.T) {
	cs := openTest(t)
	p := model.DefaultServerPolicy("s1", time.Now())
	require.NoError(t, cs.UpsertPolicy(p))

	got, ok, err := cs.GetPolicy("s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", got.ServerID)
}
