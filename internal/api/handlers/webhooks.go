package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dramac/livechat-service/internal/api/dto"
	"github.com/dramac/livechat-service/internal/api/middleware"
	"github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/services/chat"
)

// WebhooksHandler receives callbacks from the external messaging channel.
type WebhooksHandler struct {
	chat *chat.Service
}

// NewWebhooksHandler creates a new WebhooksHandler.
func NewWebhooksHandler(chatService *chat.Service) *WebhooksHandler {
	return &WebhooksHandler{chat: chatService}
}

// Inbound handles POST /tenants/{tenantId}/webhooks/channel/inbound
// @Summary Receive an inbound channel message
// @Description Threads the message onto the contact's latest conversation or opens a new one. Redelivered messages are answered with the stored copy.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param X-Webhook-Token header string false "Channel webhook token"
// @Param request body dto.InboundWebhookRequest true "Inbound message"
// @Success 202 {object} dto.MessageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /api/v1/livechat/tenants/{tenantId}/webhooks/channel/inbound [post]
func (h *WebhooksHandler) Inbound(c *gin.Context) {
	var req dto.InboundWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	visitorID := req.VisitorID
	if visitorID == "" {
		visitorID = req.Contact
	}
	msg, err := h.chat.IngestInbound(c.Request.Context(), middleware.GetTenantID(c), chat.InboundInput{
		Contact:      req.Contact,
		VisitorID:    visitorID,
		DepartmentID: req.DepartmentID,
		Message:      messageInput(visitorID, &req.MessageRequest),
		Hints: models.RoutingHints{
			DepartmentID:   req.DepartmentID,
			DetectedIntent: req.DetectedIntent,
		},
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.MessageResponse{Message: msg})
}

// Status handles POST /tenants/{tenantId}/webhooks/channel/status
// @Summary Receive a delivery status
// @Description Applies a delivery status reported by the channel. Status only moves forward; stale reports change nothing.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param X-Webhook-Token header string false "Channel webhook token"
// @Param request body dto.StatusWebhookRequest true "Status report"
// @Success 200 {object} dto.MessageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/v1/livechat/tenants/{tenantId}/webhooks/channel/status [post]
func (h *WebhooksHandler) Status(c *gin.Context) {
	var req dto.StatusWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}
	msg, err := h.chat.ReconcileStatus(c.Request.Context(), middleware.GetTenantID(c), req.ExternalMessageID, req.Status, req.Error)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MessageResponse{Message: msg})
}
