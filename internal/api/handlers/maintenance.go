package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dramac/livechat-service/internal/api/dto"
	"github.com/dramac/livechat-service/internal/api/middleware"
	"github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/services/routing"
	"github.com/dramac/livechat-service/internal/services/sweeper"
)

// Sweeper runs the reconciliation passes of one tenant.
type Sweeper interface {
	SweepMissed(ctx context.Context, tenantID string, threshold time.Duration) (*sweeper.Result, error)
	SweepStale(ctx context.Context, tenantID string, window time.Duration) (*sweeper.Result, error)
	ReconcileLoads(ctx context.Context, tenantID string, immediate bool) (*sweeper.Result, error)
}

// MaintenanceHandler exposes on-demand sweeper and rebalance runs.
type MaintenanceHandler struct {
	sweeper  Sweeper
	balancer routing.Balancer
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(s Sweeper, balancer routing.Balancer) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper:  s,
		balancer: balancer,
	}
}

// Sweep handles POST /tenants/{tenantId}/maintenance/sweep
// @Summary Run the missed and stale sweeps
// @Description Marks pending conversations past the threshold as missed and closes inactive ones. Zero overrides use the configured values.
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param request body dto.SweepRequest false "Threshold overrides"
// @Success 200 {object} dto.SweepResponse
// @Failure 400 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/maintenance/sweep [post]
func (h *MaintenanceHandler) Sweep(c *gin.Context) {
	var req dto.SweepRequest
	if !bindOptional(c, &req) {
		return
	}
	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(c)

	missed, err := h.sweeper.SweepMissed(ctx, tenantID, time.Duration(req.MissedThresholdMinutes)*time.Minute)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	stale, err := h.sweeper.SweepStale(ctx, tenantID, time.Duration(req.StaleHours)*time.Hour)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SweepResponse{Missed: passResult(missed), Stale: passResult(stale)})
}

// Reconcile handles POST /tenants/{tenantId}/maintenance/reconcile
// @Summary Reconcile agent loads
// @Description Heals agent chat counters from the active conversations. Without immediate a mismatch must be seen on two passes.
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param request body dto.ReconcileRequest false "Options"
// @Success 200 {object} dto.ReconcileResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/maintenance/reconcile [post]
func (h *MaintenanceHandler) Reconcile(c *gin.Context) {
	var req dto.ReconcileRequest
	if !bindOptional(c, &req) {
		return
	}
	result, err := h.sweeper.ReconcileLoads(c.Request.Context(), middleware.GetTenantID(c), req.Immediate)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ReconcileResponse{Loads: passResult(result)})
}

// Rebalance handles POST /tenants/{tenantId}/maintenance/rebalance
// @Summary Rebalance the waiting queue
// @Description Routes waiting conversations oldest first
// @Tags Maintenance
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} dto.RebalanceResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/maintenance/rebalance [post]
func (h *MaintenanceHandler) Rebalance(c *gin.Context) {
	result, err := h.balancer.Rebalance(c.Request.Context(), middleware.GetTenantID(c))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RebalanceResponse{
		Scanned:  result.Scanned,
		Assigned: result.Assigned,
		Waiting:  result.Waiting,
	})
}

func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return false
	}
	return true
}

func passResult(r *sweeper.Result) dto.PassResult {
	if r == nil {
		return dto.PassResult{}
	}
	return dto.PassResult{Scanned: r.Scanned, Changed: r.Changed, Skipped: r.Skipped}
}
