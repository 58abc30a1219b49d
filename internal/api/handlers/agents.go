package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dramac/livechat-service/internal/api/dto"
	"github.com/dramac/livechat-service/internal/api/middleware"
	"github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/services/chat"
	"github.com/dramac/livechat-service/internal/services/realtime"
)

// AgentsHandler handles agent status and presence endpoints.
type AgentsHandler struct {
	chat     *chat.Service
	presence *realtime.Registry
}

// NewAgentsHandler creates a new AgentsHandler.
func NewAgentsHandler(chatService *chat.Service, presence *realtime.Registry) *AgentsHandler {
	return &AgentsHandler{
		chat:     chatService,
		presence: presence,
	}
}

// SetStatus handles PUT /tenants/{tenantId}/agents/{agentId}/status
// @Summary Set agent status
// @Description Persists an agent status. Going offline requeues the agent's active conversations; going online triggers a rebalance.
// @Tags Agents
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param agentId path string true "Agent ID"
// @Param request body dto.AgentStatusRequest true "Status"
// @Success 200 {object} dto.AgentStatusResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/agents/{agentId}/status [put]
func (h *AgentsHandler) SetStatus(c *gin.Context) {
	var req dto.AgentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}
	tc := middleware.GetTenantContext(c)
	result, err := h.chat.SetAgentStatus(c.Request.Context(), tc.TenantID, tc.AgentID, req.Status)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AgentStatusResponse{
		Agent:    result.Agent,
		Changed:  result.Changed,
		Requeued: result.Requeued,
	})
}

// Presence handles GET /tenants/{tenantId}/agents/presence
// @Summary List agent presence
// @Description Returns the advisory presence set of the tenant ordered by agent id
// @Tags Agents
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} dto.PresenceResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/agents/presence [get]
func (h *AgentsHandler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, dto.PresenceResponse{Agents: h.presence.Snapshot(middleware.GetTenantID(c))})
}
