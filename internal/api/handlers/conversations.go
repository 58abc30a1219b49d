package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dramac/livechat-service/internal/api/dto"
	"github.com/dramac/livechat-service/internal/api/middleware"
	"github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/services/chat"
	"github.com/dramac/livechat-service/internal/services/conversation"
)

// ConversationsHandler handles conversation lifecycle endpoints.
type ConversationsHandler struct {
	conversations *conversation.Service
	chat          *chat.Service
}

// NewConversationsHandler creates a new ConversationsHandler.
func NewConversationsHandler(conversations *conversation.Service, chatService *chat.Service) *ConversationsHandler {
	return &ConversationsHandler{
		conversations: conversations,
		chat:          chatService,
	}
}

// ListConversationsRequest represents the query parameters for listing conversations.
type ListConversationsRequest struct {
	Status string `form:"status"`
	Limit  int64  `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int64  `form:"offset" binding:"omitempty,min=0"`
}

// CreateConversation handles POST /tenants/{tenantId}/conversations
// @Summary Open a conversation
// @Description Creates a pending conversation, stores the optional first message and routes it
// @Tags Conversations
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param request body dto.CreateConversationRequest true "Conversation"
// @Success 201 {object} dto.StartConversationResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations [post]
func (h *ConversationsHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	in := chat.StartInput{
		CreateInput: conversation.CreateInput{
			TenantID:        middleware.GetTenantID(c),
			VisitorID:       req.VisitorID,
			DepartmentID:    req.DepartmentID,
			Channel:         req.Channel,
			ExternalContact: req.ExternalContact,
			Priority:        req.Priority,
		},
		Hints: models.RoutingHints{
			DepartmentID:   req.DepartmentID,
			DetectedIntent: req.DetectedIntent,
		},
	}
	if req.Message != nil {
		msg := messageInput(req.VisitorID, req.Message)
		in.Message = &msg
	}

	conv, msg, err := h.chat.StartConversation(c.Request.Context(), in)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.StartConversationResponse{Conversation: conv, Message: msg})
}

// ListConversations handles GET /tenants/{tenantId}/conversations
// @Summary List conversations
// @Description Lists conversations newest first, optionally filtered by a comma separated status list
// @Tags Conversations
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param status query string false "Status filter, e.g. waiting,active"
// @Param limit query int false "Maximum number of conversations" default(50) minimum(1) maximum(200)
// @Param offset query int false "Offset for pagination" default(0) minimum(0)
// @Success 200 {object} dto.ListConversationsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations [get]
func (h *ConversationsHandler) ListConversations(c *gin.Context) {
	var req ListConversationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid query parameters", err.Error()))
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	var statuses []models.ConversationStatus
	for _, s := range strings.Split(req.Status, ",") {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, models.ConversationStatus(s))
		}
	}

	list, err := h.conversations.List(c.Request.Context(), middleware.GetTenantID(c), statuses, req.Limit, req.Offset)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListConversationsResponse{
		Conversations: list,
		Limit:         req.Limit,
		Offset:        req.Offset,
	})
}

// GetConversation handles GET /tenants/{tenantId}/conversations/{conversationId}
// @Summary Get a conversation
// @Tags Conversations
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} dto.ConversationResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId} [get]
func (h *ConversationsHandler) GetConversation(c *gin.Context) {
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Get(c.Request.Context(), tc.TenantID, tc.ConversationID)
	h.respond(c, conv, err)
}

// Assign handles POST /tenants/{tenantId}/conversations/{conversationId}/assign
// @Summary Assign a conversation
// @Description Assigns a pending or waiting conversation to an agent with a free slot
// @Tags Conversations
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param request body dto.AgentRequest true "Agent"
// @Success 200 {object} dto.ConversationResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/assign [post]
func (h *ConversationsHandler) Assign(c *gin.Context) {
	req, ok := bindAgent(c, true)
	if !ok {
		return
	}
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Assign(c.Request.Context(), tc.TenantID, tc.ConversationID, req.AgentID)
	h.respond(c, conv, err)
}

// Transfer handles POST /tenants/{tenantId}/conversations/{conversationId}/transfer
// @Summary Transfer a conversation
// @Description Moves an active conversation to another agent
// @Tags Conversations
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param request body dto.AgentRequest true "Target agent"
// @Success 200 {object} dto.ConversationResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/transfer [post]
func (h *ConversationsHandler) Transfer(c *gin.Context) {
	req, ok := bindAgent(c, true)
	if !ok {
		return
	}
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Transfer(c.Request.Context(), tc.TenantID, tc.ConversationID, req.AgentID)
	h.respond(c, conv, err)
}

// Reopen handles POST /tenants/{tenantId}/conversations/{conversationId}/reopen
// @Summary Reopen a conversation
// @Description Reopens a resolved, closed or missed conversation, optionally for a given agent
// @Tags Conversations
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param request body dto.AgentRequest false "Agent"
// @Success 200 {object} dto.ConversationResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/reopen [post]
func (h *ConversationsHandler) Reopen(c *gin.Context) {
	req, ok := bindAgent(c, false)
	if !ok {
		return
	}
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Reopen(c.Request.Context(), tc.TenantID, tc.ConversationID, req.AgentID)
	h.respond(c, conv, err)
}

// Requeue handles POST /tenants/{tenantId}/conversations/{conversationId}/requeue
// @Summary Requeue a conversation
// @Description Releases the assignee of an active conversation and puts it back in the waiting queue
// @Tags Conversations
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} dto.ConversationResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/requeue [post]
func (h *ConversationsHandler) Requeue(c *gin.Context) {
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Requeue(c.Request.Context(), tc.TenantID, tc.ConversationID)
	h.respond(c, conv, err)
}

// Resolve handles POST /tenants/{tenantId}/conversations/{conversationId}/resolve
// @Summary Resolve a conversation
// @Tags Conversations
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} dto.ConversationResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/resolve [post]
func (h *ConversationsHandler) Resolve(c *gin.Context) {
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Resolve(c.Request.Context(), tc.TenantID, tc.ConversationID)
	h.respond(c, conv, err)
}

// Close handles POST /tenants/{tenantId}/conversations/{conversationId}/close
// @Summary Close a conversation
// @Tags Conversations
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Success 200 {object} dto.ConversationResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/close [post]
func (h *ConversationsHandler) Close(c *gin.Context) {
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Close(c.Request.Context(), tc.TenantID, tc.ConversationID)
	h.respond(c, conv, err)
}

// Rate handles POST /tenants/{tenantId}/conversations/{conversationId}/rate
// @Summary Rate a conversation
// @Description Stores the visitor rating of a resolved or closed conversation
// @Tags Conversations
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param request body dto.RateRequest true "Rating"
// @Success 200 {object} dto.ConversationResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/rate [post]
func (h *ConversationsHandler) Rate(c *gin.Context) {
	var req dto.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}
	tc := middleware.GetTenantContext(c)
	conv, err := h.conversations.Rate(c.Request.Context(), tc.TenantID, tc.ConversationID, req.Score, req.Comment)
	h.respond(c, conv, err)
}

func (h *ConversationsHandler) respond(c *gin.Context, conv *models.Conversation, err error) {
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ConversationResponse{Conversation: conv})
}

func bindAgent(c *gin.Context, required bool) (*dto.AgentRequest, bool) {
	var req dto.AgentRequest
	if !bindOptional(c, &req) {
		return nil, false
	}
	if required && req.AgentID == "" {
		middleware.HandleError(c, errors.NewValidationError("agent id is required", ""))
		return nil, false
	}
	return &req, true
}

func messageInput(senderID string, req *dto.MessageRequest) chat.MessageInput {
	return chat.MessageInput{
		SenderID:          senderID,
		ContentType:       req.ContentType,
		Content:           req.Content,
		Media:             req.Media,
		Template:          req.Template,
		ExternalMessageID: req.ExternalMessageID,
	}
}
