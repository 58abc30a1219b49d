package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "request_id"
	requestLogKey   = "logger"
	requestIDHeader = "X-Request-ID"
)

// LoggingMiddleware handles request logging.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware with the global logger.
func NewLoggingMiddleware() *LoggingMiddleware {
	return NewLoggingMiddlewareWithLogger(log.Logger)
}

// NewLoggingMiddlewareWithLogger creates a new LoggingMiddleware with a custom logger.
func NewLoggingMiddlewareWithLogger(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Logger returns a gin middleware that logs completed requests. Streams are
// logged when they end; probes only at debug level.
func (m *LoggingMiddleware) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		logger := GetRequestLogger(c)
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case isProbe(c.FullPath()):
			event = logger.Debug()
		default:
			event = logger.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("request completed")
	}
}

// RequestLogger assigns a request id and a logger carrying the addressed
// tenant, conversation and agent. The logger is also attached to the request
// context for zerolog.Ctx.
func (m *LoggingMiddleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		lc := m.logger.With().Str("request_id", requestID)
		for _, p := range []struct{ param, field string }{
			{"tenantId", "tenant_id"},
			{"conversationId", "conversation_id"},
			{"agentId", "agent_id"},
		} {
			if v := c.Param(p.param); v != "" {
				lc = lc.Str(p.field, v)
			}
		}
		requestLogger := lc.Logger()

		c.Set(requestLogKey, requestLogger)
		c.Request = c.Request.WithContext(requestLogger.WithContext(c.Request.Context()))

		c.Next()
	}
}

func isProbe(route string) bool {
	return strings.HasSuffix(route, "/health") || strings.HasSuffix(route, "/ready") || strings.HasSuffix(route, "/live")
}

// GetRequestLogger retrieves the request-scoped logger from context.
func GetRequestLogger(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(requestLogKey); ok {
		if logger, ok := v.(zerolog.Logger); ok {
			return &logger
		}
	}
	return &log.Logger
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(c *gin.Context) string {
	if requestID, ok := c.Get(requestIDKey); ok {
		return requestID.(string)
	}
	return ""
}
