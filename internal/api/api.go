// Package api implements C9: the gin-based admin/ingest HTTP surface, the
// only inbound transport the control plane exposes (spec.md §6).
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/archway-network/lambo/internal/ingest"
	"github.com/archway-network/lambo/internal/model"
	"github.com/archway-network/lambo/internal/policy"
)

// Ingestor is C2's entrypoint.
type Ingestor interface {
	Submit(ctx context.Context, serverID string, sample model.MetricSample) (ingest.Result, error)
}

// PolicyStore is C4's administration surface.
type PolicyStore interface {
	Get(serverID string) (model.ServerPolicy, bool)
	CreateDefaultIfAbsent(serverID string) (model.ServerPolicy, error)
	SetFixedWeight(serverID string, w int) (model.ServerPolicy, error)
	EnableDynamic(serverID string) (model.ServerPolicy, error)
	SetThresholds(serverID string, t policy.ThresholdLimits) (model.ServerPolicy, error)
	EnableAutoRemoval(serverID string, maxViolations int) (model.ServerPolicy, error)
	DisableAutoRemoval(serverID string) (model.ServerPolicy, error)
	ManuallyRemove(serverID string) (model.ServerPolicy, error)
	Reenable(serverID string) (model.ServerPolicy, error)
	ResetAll() error
}

// FactorsManager is internal/factors's administration surface.
type FactorsManager interface {
	Get() model.WeightFactors
	Set(ctx context.Context, f model.WeightFactors) (model.WeightFactors, error)
	Normalize(ctx context.Context) model.WeightFactors
	Reset(ctx context.Context) model.WeightFactors
	Preset(ctx context.Context, name string) (model.WeightFactors, error)
}

// Registry is internal/registry's administration surface.
type Registry interface {
	Servers(pool model.Pool) []model.ServerDescriptor
	All() []model.ServerDescriptor
	Get(id string) (model.ServerDescriptor, bool)
	Add(s model.ServerDescriptor) error
	Remove(pool model.Pool, id string)
	Toggle(pool model.Pool, id string) (bool, error)
}

// CoordinatorStatus exposes the coordinator's last cycle for GET /api/status.
type CoordinatorStatus interface {
	LastResult() (model.CycleResult, bool)
}

// Reconciler exposes a forced out-of-band sync for POST /api/sync.
type Reconciler interface {
	Sync(ctx context.Context) model.ReloadOutcome
}

// ReloadStatus exposes the materializer's last reload for GET /api/status.
type ReloadStatus interface {
	LastReload() model.ReloadOutcome
}

// InstanceLister lists fleet membership for GET /api/status.
type InstanceLister interface {
	ListActiveInstances(ctx context.Context) []model.InstanceHeartbeat
}

// ActiveInstanceGauge is the optional Prometheus hook refreshed on every
// GET /api/status (satisfied by *internal/obs.Metrics).
type ActiveInstanceGauge interface {
	SetActiveInstances(n int)
}

// Deps bundles every dependency the router needs. All fields are required
// except Gatherer and Metrics.
type Deps struct {
	Ingest      Ingestor
	Policies    PolicyStore
	Factors     FactorsManager
	Registry    Registry
	Coordinator CoordinatorStatus
	Reconciler  Reconciler
	Reload      ReloadStatus
	Instances   InstanceLister
	Recompute   chan<- struct{}
	Gatherer    prometheus.Gatherer
	Metrics     ActiveInstanceGauge
	Log         *logrus.Entry
}

// NewRouter builds the gin engine with every spec.md §4.10 route mounted.
func NewRouter(d Deps) *gin.Engine {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	log := d.Log.WithField("component", "api")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	h := &handlers{Deps: d}

	api := r.Group("/api")
	{
		api.POST("/metrics/server/:serverId", h.ingestMetric)

		api.GET("/policy/:serverId", h.getPolicy)
		api.PATCH("/policy/:serverId", h.patchPolicy)
		api.POST("/policy/:serverId/fixed-weight", h.setFixedWeight)
		api.POST("/policy/:serverId/dynamic", h.enableDynamic)
		api.POST("/policy/:serverId/thresholds", h.setThresholds)
		api.POST("/policy/:serverId/auto-removal", h.setAutoRemoval)
		api.POST("/policy/:serverId/remove", h.removeServer)
		api.POST("/policy/:serverId/reenable", h.reenableServer)
		api.POST("/policy/reset", h.resetPolicies)

		api.GET("/factors", h.getFactors)
		api.PUT("/factors", h.putFactors)
		api.POST("/factors/normalize", h.normalizeFactors)
		api.POST("/factors/reset", h.resetFactors)
		api.POST("/factors/preset/:name", h.presetFactors)

		api.POST("/servers/:pool", h.addServer)
		api.DELETE("/servers/:pool/:id", h.removeFromRegistry)
		api.POST("/servers/:pool/:id/toggle", h.toggleServer)

		api.POST("/weights/recalculate", h.recalculate)
		api.POST("/sync", h.sync)
		api.GET("/status", h.status)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	return r
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("handled request")
	}
}

func errorResponse(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"status": "error", "message": err.Error()})
}

func okResponse(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
