// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates Bearer API keys and channel webhook tokens.
type AuthMiddleware struct {
	apiKeys      []string
	webhookToken string
}

// NewAuthMiddleware creates a new AuthMiddleware. With no API keys any
// non-empty Bearer token is accepted.
func NewAuthMiddleware(apiKeys []string, webhookToken string) *AuthMiddleware {
	return &AuthMiddleware{
		apiKeys:      apiKeys,
		webhookToken: webhookToken,
	}
}

// Authenticate returns a gin middleware that validates the Bearer token.
// It stores the token in the context for downstream handlers.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, reason := bearerToken(c)
		if reason == "" && !m.allowed(token) {
			reason = "invalid token"
		}
		if reason != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: reason,
			})
			return
		}

		c.Set("auth_token", token)
		c.Next()
	}
}

// Webhook returns a gin middleware that checks the X-Webhook-Token header
// of channel callbacks. It passes everything when no token is configured.
func (m *AuthMiddleware) Webhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.webhookToken == "" {
			c.Next()
			return
		}
		if !equal(c.GetHeader("X-Webhook-Token"), m.webhookToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "invalid webhook token",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func (m *AuthMiddleware) allowed(token string) bool {
	if len(m.apiKeys) == 0 {
		return true
	}
	for _, key := range m.apiKeys {
		if equal(token, key) {
			return true
		}
	}
	return false
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GetToken retrieves the auth token from the gin context.
func GetToken(c *gin.Context) string {
	if token, exists := c.Get("auth_token"); exists {
		return token.(string)
	}
	return ""
}
