package middleware

import (
	"github.com/gin-gonic/gin"

	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
)

const (
	tenantKey = "tenant_id"

	maxTenantIDLength = 64
)

// TenantMiddleware scopes every request below /tenants/:tenantId.
type TenantMiddleware struct{}

// NewTenantMiddleware creates a new TenantMiddleware.
func NewTenantMiddleware() *TenantMiddleware {
	return &TenantMiddleware{}
}

// ExtractTenant validates the tenantId path parameter and stores it in the
// context. Tenant ids form cache keys and sequence ids, so they are limited
// to letters, digits, '-', '_' and '.'.
func (m *TenantMiddleware) ExtractTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.Param("tenantId")
		if !validTenantID(tenantID) {
			HandleError(c, domainerrors.NewValidationError("invalid tenant id", tenantID))
			return
		}
		c.Set(tenantKey, tenantID)
		c.Next()
	}
}

func validTenantID(id string) bool {
	if id == "" || len(id) > maxTenantIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// GetTenantID retrieves the tenant ID from the gin context.
func GetTenantID(c *gin.Context) string {
	if tenantID, ok := c.Get(tenantKey); ok {
		return tenantID.(string)
	}
	return c.Param("tenantId")
}

// TenantContext holds the ids addressed by a tenant-scoped route.
type TenantContext struct {
	TenantID       string
	ConversationID string
	AgentID        string
}

// GetTenantContext extracts the full tenant context from the request.
func GetTenantContext(c *gin.Context) *TenantContext {
	return &TenantContext{
		TenantID:       GetTenantID(c),
		ConversationID: c.Param("conversationId"),
		AgentID:        c.Param("agentId"),
	}
}
