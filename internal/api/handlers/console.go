package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/api/middleware"
	"github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/services/chat"
	"github.com/dramac/livechat-service/internal/services/realtime"
)

// Console frame types.
const (
	FrameHeartbeat = "heartbeat"
	FrameStatus    = "status"
	FrameTyping    = "typing"
	FrameWatch     = "watch"
	FrameUnwatch   = "unwatch"
	FrameEvent     = "event"
	FrameAck       = "ack"
	FrameError     = "error"
)

const (
	consoleWriteWait  = 10 * time.Second
	consolePongWait   = 60 * time.Second
	consolePingPeriod = consolePongWait * 9 / 10
	consoleReadLimit  = 64 * 1024
	consoleSendBuffer = 64
)

// ConsoleFrame is one JSON frame on the agent console socket.
type ConsoleFrame struct {
	Type           string             `json:"type"`
	ID             string             `json:"id,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
	Status         models.AgentStatus `json:"status,omitempty"`
	Typing         bool               `json:"typing,omitempty"`
	Event          *models.Event      `json:"event,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// ConsoleHandler serves the agent console websocket. The socket carries the
// tenant presence stream and the events of the conversations the agent
// watches; the agent sends heartbeats, status changes and typing.
type ConsoleHandler struct {
	chat     *chat.Service
	hub      *realtime.Hub
	presence *realtime.Registry
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewConsoleHandler creates a new ConsoleHandler.
func NewConsoleHandler(chatService *chat.Service, hub *realtime.Hub, presence *realtime.Registry, allowedOrigins []string, logger zerolog.Logger) *ConsoleHandler {
	return &ConsoleHandler{
		chat:     chatService,
		hub:      hub,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With().Str("component", "console").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Console handles GET /tenants/{tenantId}/agents/{agentId}/console
// @Summary Agent console websocket
// @Description Upgrades to a websocket carrying presence and watched conversation events
// @Tags Agents
// @Param tenantId path string true "Tenant ID"
// @Param agentId path string true "Agent ID"
// @Success 101 {string} string "switching protocols"
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/livechat/tenants/{tenantId}/agents/{agentId}/console [get]
func (h *ConsoleHandler) Console(c *gin.Context) {
	tc := middleware.GetTenantContext(c)
	if tc.AgentID == "" {
		middleware.HandleError(c, errors.NewValidationError("agent id is required", ""))
		return
	}
	// The heartbeat also proves the agent exists before the upgrade.
	if _, err := h.chat.Heartbeat(c.Request.Context(), tc.TenantID, tc.AgentID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("agentId", tc.AgentID).Msg("console upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	s := &consoleSession{
		handler:  h,
		tenantID: tc.TenantID,
		agentID:  tc.AgentID,
		conn:     conn,
		send:     make(chan *ConsoleFrame, consoleSendBuffer),
		watching: make(map[string]*realtime.Subscription),
		ctx:      ctx,
		cancel:   cancel,
		logger:   h.logger.With().Str("tenantId", tc.TenantID).Str("agentId", tc.AgentID).Logger(),
	}
	s.run()
}

type consoleSession struct {
	handler  *ConsoleHandler
	tenantID string
	agentID  string
	conn     *websocket.Conn
	send     chan *ConsoleFrame

	mu       sync.Mutex
	watching map[string]*realtime.Subscription
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func (s *consoleSession) run() {
	defer s.close()

	presence, err := s.handler.presence.Subscribe(s.ctx, s.tenantID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to subscribe to presence")
		return
	}
	s.forward(presence)

	go s.writeLoop()
	s.readLoop()
}

func (s *consoleSession) close() {
	s.cancel()
	s.mu.Lock()
	for id, sub := range s.watching {
		sub.Close()
		delete(s.watching, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	_ = s.conn.Close()
	s.logger.Debug().Msg("console closed")
}

// forward copies subscription events to the socket until the subscription
// or the session ends.
func (s *consoleSession) forward(sub *realtime.Subscription) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		for event := range sub.Events() {
			if !s.push(&ConsoleFrame{Type: FrameEvent, ConversationID: event.ConversationID, Event: event}) {
				return
			}
			if event.Seq > 0 {
				sub.Ack(event.Seq)
			}
		}
		if err := sub.Err(); err != nil && s.ctx.Err() == nil {
			s.push(&ConsoleFrame{Type: FrameError, Error: err.Error()})
		}
	}()
}

func (s *consoleSession) push(frame *ConsoleFrame) bool {
	select {
	case s.send <- frame:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *consoleSession) writeLoop() {
	ticker := time.NewTicker(consolePingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()
	defer s.cancel()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(consoleWriteWait))
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Debug().Err(err).Msg("console write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *consoleSession) readLoop() {
	s.conn.SetReadLimit(consoleReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(consolePongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(consolePongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("console read failed")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(consolePongWait))

		var frame ConsoleFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.push(&ConsoleFrame{Type: FrameError, Error: "invalid frame"})
			continue
		}
		reply := &ConsoleFrame{Type: FrameAck, ID: frame.ID}
		if err := s.handle(&frame); err != nil {
			reply = &ConsoleFrame{Type: FrameError, ID: frame.ID, Error: err.Error()}
		}
		if !s.push(reply) {
			return
		}
	}
}

func (s *consoleSession) handle(frame *ConsoleFrame) error {
	switch frame.Type {
	case FrameHeartbeat:
		_, err := s.handler.chat.Heartbeat(s.ctx, s.tenantID, s.agentID)
		return err
	case FrameStatus:
		_, err := s.handler.chat.SetAgentStatus(s.ctx, s.tenantID, s.agentID, frame.Status)
		return err
	case FrameTyping:
		return s.handler.chat.Typing(s.ctx, s.tenantID, frame.ConversationID, s.agentID, models.SenderAgent, frame.Typing)
	case FrameWatch:
		return s.watch(frame.ConversationID)
	case FrameUnwatch:
		s.mu.Lock()
		if sub, ok := s.watching[frame.ConversationID]; ok {
			sub.Close()
			delete(s.watching, frame.ConversationID)
		}
		s.mu.Unlock()
		return nil
	default:
		return errors.NewValidationError("unknown frame type", frame.Type)
	}
}

func (s *consoleSession) watch(conversationID string) error {
	if conversationID == "" {
		return errors.NewValidationError("conversation id is required", "")
	}
	if _, err := s.handler.chat.Conversation(s.ctx, s.tenantID, conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watching[conversationID]; ok {
		return nil
	}
	sub, err := s.handler.hub.SubscribeConversation(s.ctx, s.tenantID, conversationID, realtime.SubscribeOptions{})
	if err != nil {
		return err
	}
	s.watching[conversationID] = sub
	s.forward(sub)
	return nil
}
