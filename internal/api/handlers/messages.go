package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/api/dto"
	"github.com/dramac/livechat-service/internal/api/middleware"
	"github.com/dramac/livechat-service/internal/api/sse"
	"github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/services/chat"
	"github.com/dramac/livechat-service/internal/services/realtime"
)

const (
	// DefaultKeepAlive is the interval of SSE keep-alive comments.
	DefaultKeepAlive = 15 * time.Second
	// reconnectDelay is advertised to SSE clients.
	reconnectDelay = 2 * time.Second
)

// MessagesHandler handles message, receipt and event stream endpoints.
type MessagesHandler struct {
	chat      *chat.Service
	hub       *realtime.Hub
	keepAlive time.Duration
	logger    zerolog.Logger
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(chatService *chat.Service, hub *realtime.Hub, keepAlive time.Duration, logger zerolog.Logger) *MessagesHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &MessagesHandler{
		chat:      chatService,
		hub:       hub,
		keepAlive: keepAlive,
		logger:    logger.With().Str("component", "messages-handler").Logger(),
	}
}

// ListMessagesRequest represents the query parameters for listing messages.
type ListMessagesRequest struct {
	After  int64  `form:"after" binding:"omitempty,min=0"`
	Limit  int64  `form:"limit" binding:"omitempty,min=1,max=500"`
	Viewer string `form:"viewer" binding:"omitempty,oneof=visitor agent"`
}

// ListMessages handles GET /tenants/{tenantId}/conversations/{conversationId}/messages
// @Summary List messages
// @Description Lists messages in order after the given seq cursor. Visitors do not see internal notes.
// @Tags Messages
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param after query int false "Return messages with seq greater than this" default(0)
// @Param limit query int false "Maximum number of messages" default(50) minimum(1) maximum(500)
// @Param viewer query string false "visitor or agent" default(agent)
// @Success 200 {object} dto.ListMessagesResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/messages [get]
func (h *MessagesHandler) ListMessages(c *gin.Context) {
	var req ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid query parameters", err.Error()))
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	tc := middleware.GetTenantContext(c)
	page, err := h.chat.ListMessages(c.Request.Context(), tc.TenantID, tc.ConversationID, req.After, req.Limit, req.Viewer == "visitor")
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListMessagesResponse{Messages: page.Messages, NextCursor: page.NextCursor})
}

// PostMessage handles POST /tenants/{tenantId}/conversations/{conversationId}/messages
// @Summary Post a message
// @Description Posts a visitor or agent message. Visitor messages reopen finished conversations; agent messages other than notes require the assignment.
// @Tags Messages
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param request body dto.PostMessageRequest true "Message"
// @Success 201 {object} dto.MessageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/messages [post]
func (h *MessagesHandler) PostMessage(c *gin.Context) {
	var req dto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}

	tc := middleware.GetTenantContext(c)
	in := messageInput(req.SenderID, &req.MessageRequest)

	var (
		msg *models.Message
		err error
	)
	if req.SenderType == models.SenderAgent {
		msg, err = h.chat.PostAgentMessage(c.Request.Context(), tc.TenantID, tc.ConversationID, req.SenderID, in)
	} else {
		msg, err = h.chat.PostVisitorMessage(c.Request.Context(), tc.TenantID, tc.ConversationID, in)
	}
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.MessageResponse{Message: msg})
}

// MarkRead handles POST /tenants/{tenantId}/conversations/{conversationId}/read
// @Summary Send a read receipt
// @Description Zeroes the reader's unread counter and marks the other side's messages read up to uptoSeq
// @Tags Messages
// @Accept json
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param request body dto.ReadRequest true "Receipt"
// @Success 200 {object} dto.ReadReceiptResponse
// @Failure 400 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/read [post]
func (h *MessagesHandler) MarkRead(c *gin.Context) {
	var req dto.ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}
	tc := middleware.GetTenantContext(c)
	receipt, err := h.chat.MarkRead(c.Request.Context(), tc.TenantID, tc.ConversationID, req.Reader, req.UptoSeq)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ReadReceiptResponse{Conversation: receipt.Conversation, Updated: receipt.Updated})
}

// Typing handles POST /tenants/{tenantId}/conversations/{conversationId}/typing
// @Summary Publish a typing indicator
// @Tags Messages
// @Accept json
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param request body dto.TypingRequest true "Typing state"
// @Success 204
// @Failure 400 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/typing [post]
func (h *MessagesHandler) Typing(c *gin.Context) {
	var req dto.TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, errors.NewValidationError("invalid request body", err.Error()))
		return
	}
	tc := middleware.GetTenantContext(c)
	if err := h.chat.Typing(c.Request.Context(), tc.TenantID, tc.ConversationID, req.ParticipantID, req.ParticipantType, req.Typing); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Events handles GET /tenants/{tenantId}/conversations/{conversationId}/events
// @Summary Stream conversation events
// @Description Server-Sent Events stream of messages, status changes and typing. With a Last-Event-ID header or after query the stored messages past the cursor are replayed first. Message events carry their seq as event id.
// @Tags Messages
// @Produce text/event-stream
// @Param tenantId path string true "Tenant ID"
// @Param conversationId path string true "Conversation ID"
// @Param after query int false "Replay cursor"
// @Param viewer query string false "visitor or agent" default(agent)
// @Param Last-Event-ID header string false "Replay cursor on reconnect"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/conversations/{conversationId}/events [get]
func (h *MessagesHandler) Events(c *gin.Context) {
	tc := middleware.GetTenantContext(c)
	ctx := c.Request.Context()

	opts, err := subscribeOptions(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	if _, err := h.chat.Conversation(ctx, tc.TenantID, tc.ConversationID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	sub, err := h.hub.SubscribeConversation(ctx, tc.TenantID, tc.ConversationID, opts)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	defer sub.Close()
	sub.Ack(opts.AfterSeq)

	w, err := sse.NewWriter(c.Writer)
	if err != nil {
		middleware.HandleError(c, errors.NewInternalError("streaming not supported", err))
		return
	}
	logger := h.logger.With().Str("tenantId", tc.TenantID).Str("conversationId", tc.ConversationID).Logger()
	if err := w.WriteRetry(reconnectDelay); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteComment("ping"); err != nil {
				return
			}
		case event, ok := <-sub.Events():
			if !ok {
				h.endStream(w, sub, logger)
				return
			}
			id := ""
			if event.Type == models.EventMessageCreated && event.Seq > 0 {
				id = strconv.FormatInt(event.Seq, 10)
			}
			if err := w.WriteJSON(id, string(event.Type), event); err != nil {
				logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
			if id != "" {
				sub.Ack(event.Seq)
			}
		}
	}
}

func (h *MessagesHandler) endStream(w *sse.Writer, sub *realtime.Subscription, logger zerolog.Logger) {
	err := sub.Err()
	switch {
	case err == nil:
		return
	case stderrors.Is(err, realtime.ErrLagging):
		logger.Warn().Int64("cursor", sub.Acked()).Msg("event stream subscriber lagging")
		_ = w.WriteError("LAGGING", "subscriber lagging behind, reconnect with cursor", sub.Acked())
	default:
		_ = w.WriteError("STREAM_CLOSED", err.Error(), sub.Acked())
	}
}

// subscribeOptions reads the replay cursor from Last-Event-ID or after.
func subscribeOptions(c *gin.Context) (realtime.SubscribeOptions, error) {
	opts := realtime.SubscribeOptions{Visitor: c.Query("viewer") == "visitor"}

	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("after")
	}
	if raw == "" {
		return opts, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return opts, errors.NewValidationError("invalid event cursor", raw)
	}
	opts.Replay = true
	opts.AfterSeq = after
	return opts, nil
}
