// Package obs holds process-wide observability: a structured logrus logger
// builder and the Prometheus collectors every other component records
// against through small, locally-duck-typed recorder interfaces (the same
// dependency-inversion shape used throughout internal/* — Metrics is never
// imported by name, its methods just happen to satisfy each package's own
// MetricsRecorder interface).
package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/model"
)

// NewLogger builds the process-wide logger: JSON fields in production, a
// human-readable text formatter otherwise.
func NewLogger(jsonOutput bool, level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(level)
	if jsonOutput {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Metrics bundles every Prometheus series the control plane exports.
type Metrics struct {
	cycleDuration    *prometheus.HistogramVec
	cycleTotal       *prometheus.CounterVec
	poolActiveWeight *prometheus.GaugeVec
	ingestTotal      *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
	reloadTotal      *prometheus.CounterVec
	activeInstances  prometheus.Gauge
}

// NewMetrics registers every collector against reg (pass
// prometheus.DefaultRegisterer in production, a fresh prometheus.NewRegistry
// in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lambo_cycle_duration_seconds",
			Help:    "Duration of one weight-calculation cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"leader"}),
		cycleTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lambo_cycle_total",
			Help: "Weight-calculation cycles, partitioned by outcome.",
		}, []string{"result"}),
		poolActiveWeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lambo_pool_active_weight_sum",
			Help: "Sum of active (weight>0) allocations' weight per pool; should read 100.",
		}, []string{"pool"}),
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lambo_ingest_total",
			Help: "Metric ingest submissions, partitioned by outcome.",
		}, []string{"result"}),
		policyViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lambo_policy_violations_total",
			Help: "Threshold violations observed per server.",
		}, []string{"server_id"}),
		reloadTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lambo_reload_total",
			Help: "Proxy reload command invocations, partitioned by outcome.",
		}, []string{"result"}),
		activeInstances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lambo_active_instances",
			Help: "Number of control-plane instances with an unexpired heartbeat.",
		}),
	}
}

// RecordIngest implements internal/ingest's MetricsRecorder.
func (m *Metrics) RecordIngest(accepted bool) {
	m.ingestTotal.WithLabelValues(resultLabel(accepted)).Inc()
}

// RecordPolicyViolation implements internal/policy's MetricsRecorder.
func (m *Metrics) RecordPolicyViolation(serverID string) {
	m.policyViolations.WithLabelValues(serverID).Inc()
}

// RecordCycle implements internal/coordinator's MetricsRecorder.
func (m *Metrics) RecordCycle(leader bool, errMsg string, duration time.Duration) {
	m.cycleDuration.WithLabelValues(boolLabel(leader)).Observe(duration.Seconds())
	result := "ok"
	switch {
	case !leader:
		result = "skipped"
	case errMsg != "":
		result = "error"
	}
	m.cycleTotal.WithLabelValues(result).Inc()
}

// RecordPoolWeight implements internal/coordinator's MetricsRecorder.
func (m *Metrics) RecordPoolWeight(pool model.Pool, sum int) {
	m.poolActiveWeight.WithLabelValues(string(pool)).Set(float64(sum))
}

// RecordReload implements internal/nginxconfig's MetricsRecorder.
func (m *Metrics) RecordReload(success bool) {
	m.reloadTotal.WithLabelValues(resultLabel(success)).Inc()
}

// SetActiveInstances implements internal/api's gauge refresh on GET /api/status.
func (m *Metrics) SetActiveInstances(n int) {
	m.activeInstances.Set(float64(n))
}

func resultLabel(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
