package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/archway-network/lambo/internal/model"
	"github.com/archway-network/lambo/internal/policy"
)

type handlers struct {
	Deps
}

// ingestMetric implements POST /api/metrics/server/:serverId, mapping C2's
// ingest.Result onto spec.md §6's exact response shape.
func (h *handlers) ingestMetric(c *gin.Context) {
	serverID := c.Param("serverId")
	var sample model.MetricSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	result, err := h.Ingest.Submit(c.Request.Context(), serverID, sample)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}

	if !result.Accepted {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":   "error",
			"message":  result.Reason,
			"serverId": result.ServerID,
		})
		return
	}

	okResponse(c, gin.H{
		"status":         "ok",
		"message":        "metric accepted",
		"serverId":       result.ServerID,
		"timestamp":      result.Timestamp,
		"instantLatency": result.InstantLatencyMs,
		"ewmaLatency":    result.EwmaLatencyMs,
	})
}

func (h *handlers) getPolicy(c *gin.Context) {
	serverID := c.Param("serverId")
	p, ok := h.Policies.Get(serverID)
	if !ok {
		created, err := h.Policies.CreateDefaultIfAbsent(serverID)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, err)
			return
		}
		p = created
	}
	okResponse(c, p)
}

type patchPolicyRequest struct {
	DynamicWeightEnabled *bool `json:"dynamic_weight_enabled"`
	FixedWeight          *int  `json:"fixed_weight"`
}

func (h *handlers) patchPolicy(c *gin.Context) {
	serverID := c.Param("serverId")
	var req patchPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	var (
		p   model.ServerPolicy
		err error
	)
	switch {
	case req.FixedWeight != nil:
		p, err = h.Policies.SetFixedWeight(serverID, *req.FixedWeight)
	case req.DynamicWeightEnabled != nil && *req.DynamicWeightEnabled:
		p, err = h.Policies.EnableDynamic(serverID)
	default:
		if existing, ok := h.Policies.Get(serverID); ok {
			p = existing
		} else {
			p, err = h.Policies.CreateDefaultIfAbsent(serverID)
		}
	}
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, p)
}

type fixedWeightRequest struct {
	Weight int `json:"weight" binding:"required"`
}

func (h *handlers) setFixedWeight(c *gin.Context) {
	var req fixedWeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	p, err := h.Policies.SetFixedWeight(c.Param("serverId"), req.Weight)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, p)
}

func (h *handlers) enableDynamic(c *gin.Context) {
	p, err := h.Policies.EnableDynamic(c.Param("serverId"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, p)
}

type thresholdsRequest struct {
	MaxResponseTimeMs *float64 `json:"max_response_time_ms"`
	MaxErrorRatePct   *float64 `json:"max_error_rate_pct"`
	MinSuccessRatePct *float64 `json:"min_success_rate_pct"`
	MaxTimeoutRatePct *float64 `json:"max_timeout_rate_pct"`
	MinUptimePct      *float64 `json:"min_uptime_pct"`
}

func (h *handlers) setThresholds(c *gin.Context) {
	var req thresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	p, err := h.Policies.SetThresholds(c.Param("serverId"), policy.ThresholdLimits{
		MaxResponseTimeMs: req.MaxResponseTimeMs,
		MaxErrorRatePct:   req.MaxErrorRatePct,
		MinSuccessRatePct: req.MinSuccessRatePct,
		MaxTimeoutRatePct: req.MaxTimeoutRatePct,
		MinUptimePct:      req.MinUptimePct,
	})
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, p)
}

type autoRemovalRequest struct {
	Enabled       bool `json:"enabled"`
	MaxViolations int  `json:"max_violations"`
}

func (h *handlers) setAutoRemoval(c *gin.Context) {
	var req autoRemovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	var (
		p   model.ServerPolicy
		err error
	)
	if req.Enabled {
		p, err = h.Policies.EnableAutoRemoval(c.Param("serverId"), req.MaxViolations)
	} else {
		p, err = h.Policies.DisableAutoRemoval(c.Param("serverId"))
	}
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, p)
}

func (h *handlers) removeServer(c *gin.Context) {
	p, err := h.Policies.ManuallyRemove(c.Param("serverId"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, p)
}

func (h *handlers) reenableServer(c *gin.Context) {
	p, err := h.Policies.Reenable(c.Param("serverId"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, p)
}

func (h *handlers) resetPolicies(c *gin.Context) {
	if err := h.Policies.ResetAll(); err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	okResponse(c, gin.H{"status": "ok", "message": "all policies reset"})
}

func (h *handlers) getFactors(c *gin.Context) {
	okResponse(c, h.Factors.Get())
}

func (h *handlers) putFactors(c *gin.Context) {
	var f model.WeightFactors
	if err := c.ShouldBindJSON(&f); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	updated, err := h.Factors.Set(c.Request.Context(), f)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, updated)
}

func (h *handlers) normalizeFactors(c *gin.Context) {
	okResponse(c, h.Factors.Normalize(c.Request.Context()))
}

func (h *handlers) resetFactors(c *gin.Context) {
	okResponse(c, h.Factors.Reset(c.Request.Context()))
}

func (h *handlers) presetFactors(c *gin.Context) {
	f, err := h.Factors.Preset(c.Request.Context(), c.Param("name"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, f)
}

func (h *handlers) addServer(c *gin.Context) {
	pool := model.Pool(c.Param("pool"))
	var s model.ServerDescriptor
	if err := c.ShouldBindJSON(&s); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	s.Pool = pool
	if err := h.Registry.Add(s); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, s)
}

func (h *handlers) removeFromRegistry(c *gin.Context) {
	pool := model.Pool(c.Param("pool"))
	h.Registry.Remove(pool, c.Param("id"))
	okResponse(c, gin.H{"status": "ok", "message": "server removed"})
}

func (h *handlers) toggleServer(c *gin.Context) {
	pool := model.Pool(c.Param("pool"))
	enabled, err := h.Registry.Toggle(pool, c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	okResponse(c, gin.H{"status": "ok", "enabled": enabled})
}

// recalculate implements POST /api/weights/recalculate: a non-blocking send
// on the same inputs-ready channel C2 uses (spec.md §4.10).
func (h *handlers) recalculate(c *gin.Context) {
	select {
	case h.Recompute <- struct{}{}:
	default:
	}
	okResponse(c, gin.H{"status": "ok", "message": "recalculation requested"})
}

func (h *handlers) sync(c *gin.Context) {
	outcome := h.Reconciler.Sync(c.Request.Context())
	okResponse(c, outcome)
}

func (h *handlers) status(c *gin.Context) {
	instances := h.Instances.ListActiveInstances(c.Request.Context())
	if h.Metrics != nil {
		h.Metrics.SetActiveInstances(len(instances))
	}

	cycle, haveCycle := h.Coordinator.LastResult()
	resp := gin.H{
		"instances":   instances,
		"lastReload":  h.Reload.LastReload(),
		"hasCycle":    haveCycle,
		"syncedPools": model.Pools,
	}
	if haveCycle {
		resp["lastCycle"] = cycle
	}
	okResponse(c, resp)
}
