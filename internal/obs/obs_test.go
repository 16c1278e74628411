package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/archway-network/lambo/internal/model"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRecordIngestLabelsByOutcome(t *testing.T) {
	m := newTestMetrics()
	m.RecordIngest(true)
	m.RecordIngest(false)
	m.RecordIngest(false)

	require.Equal(t, float64(1), counterValue(t, m.ingestTotal.WithLabelValues("accepted")))
	require.Equal(t, float64(2), counterValue(t, m.ingestTotal.WithLabelValues("rejected")))
}

func TestRecordCycleClassifiesSkippedAndError(t *testing.T) {
	m := newTestMetrics()
	m.RecordCycle(false, "", 10*time.Millisecond)
	m.RecordCycle(true, "boom", 10*time.Millisecond)
	m.RecordCycle(true, "", 10*time.Millisecond)

	require.Equal(t, float64(1), counterValue(t, m.cycleTotal.WithLabelValues("skipped")))
	require.Equal(t, float64(1), counterValue(t, m.cycleTotal.WithLabelValues("error")))
	require.Equal(t, float64(1), counterValue(t, m.cycleTotal.WithLabelValues("ok")))
}

func TestRecordPoolWeightSetsGaugePerPool(t *testing.T) {
	m := newTestMetrics()
	m.RecordPoolWeight(model.PoolIncoming, 100)
	m.RecordPoolWeight(model.PoolOutgoing, 0)

	require.Equal(t, float64(100), gaugeValue(t, m.poolActiveWeight.WithLabelValues("incoming")))
	require.Equal(t, float64(0), gaugeValue(t, m.poolActiveWeight.WithLabelValues("outgoing")))
}

func TestSetActiveInstances(t *testing.T) {
	m := newTestMetrics()
	m.SetActiveInstances(3)
	require.Equal(t, float64(3), gaugeValue(t, m.activeInstances))
}

func TestRecordPolicyViolationAndReload(t *testing.T) {
	m := newTestMetrics()
	m.RecordPolicyViolation("server-a")
	m.RecordPolicyViolation("server-a")
	m.RecordReload(true)
	m.RecordReload(false)

	require.Equal(t, float64(2), counterValue(t, m.policyViolations.WithLabelValues("server-a")))
	require.Equal(t, float64(1), counterValue(t, m.reloadTotal.WithLabelValues("accepted")))
	require.Equal(t, float64(1), counterValue(t, m.reloadTotal.WithLabelValues("rejected")))
}
