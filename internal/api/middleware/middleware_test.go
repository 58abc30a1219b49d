package middleware_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dramac/livechat-service/internal/api/middleware"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/testutils"
)

func TestAuthenticate(t *testing.T) {
	router := testutils.SetupTestRouter()
	auth := middleware.NewAuthMiddleware([]string{"k1", "k2"}, "")
	router.GET("/p", auth.Authenticate(), func(c *gin.Context) {
		c.String(http.StatusOK, middleware.GetToken(c))
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic k1", http.StatusUnauthorized},
		{"empty token", "Bearer  ", http.StatusUnauthorized},
		{"unknown key", "Bearer k3", http.StatusUnauthorized},
		{"first key", "Bearer k1", http.StatusOK},
		{"second key lowercase scheme", "bearer k2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := testutils.PerformRequest(router, http.MethodGet, "/p", nil, headers)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAuthenticate_NoKeysAcceptsAnyToken(t *testing.T) {
	router := testutils.SetupTestRouter()
	router.GET("/p", middleware.NewAuthMiddleware(nil, "").Authenticate(), func(c *gin.Context) {
		c.String(http.StatusOK, middleware.GetToken(c))
	})

	w := testutils.PerformRequest(router, http.MethodGet, "/p", nil, map[string]string{"Authorization": "Bearer dev"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev", w.Body.String())
}

func TestWebhook(t *testing.T) {
	router := testutils.SetupTestRouter()
	router.POST("/hook", middleware.NewAuthMiddleware(nil, "secret").Webhook(), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	open := testutils.SetupTestRouter()
	open.POST("/hook", middleware.NewAuthMiddleware(nil, "").Webhook(), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	assert.Equal(t, http.StatusUnauthorized, testutils.PerformRequest(router, http.MethodPost, "/hook", nil, nil).Code)
	assert.Equal(t, http.StatusAccepted, testutils.PerformRequest(router, http.MethodPost, "/hook", nil, map[string]string{"X-Webhook-Token": "secret"}).Code)
	assert.Equal(t, http.StatusAccepted, testutils.PerformRequest(open, http.MethodPost, "/hook", nil, nil).Code)
}

func TestExtractTenant(t *testing.T) {
	router := testutils.SetupTestRouter()
	router.GET("/tenants/:tenantId/x", middleware.NewTenantMiddleware().ExtractTenant(), func(c *gin.Context) {
		c.String(http.StatusOK, middleware.GetTenantID(c))
	})

	w := testutils.PerformRequest(router, http.MethodGet, "/tenants/acme-eu.1/x", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme-eu.1", w.Body.String())

	w = testutils.PerformRequest(router, http.MethodGet, "/tenants/acme:eu/x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp middleware.ErrorResponse
	testutils.ParseJSONResponse(t, w, &resp)
	assert.Equal(t, domainerrors.ErrCodeValidation, resp.Code)
}

func TestCORS_Preflight(t *testing.T) {
	router := testutils.SetupTestRouter()
	router.Use(middleware.NewCORSMiddleware(middleware.DefaultCORSConfig([]string{"https://app.example"})))
	router.GET("/p", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := testutils.PerformRequest(router, http.MethodOptions, "/p", nil, map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")

	w = testutils.PerformRequest(router, http.MethodGet, "/p", nil, map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", domainerrors.NewNotFoundError("conversation", "c1"), http.StatusNotFound, domainerrors.ErrCodeNotFound},
		{"wrapped transition", fmt.Errorf("assign: %w", domainerrors.NewInvalidTransitionError("assign", "closed")), http.StatusUnprocessableEntity, domainerrors.ErrCodeInvalidTransition},
		{"conflict", domainerrors.NewConflictError("version mismatch", "c1"), http.StatusConflict, domainerrors.ErrCodeConflict},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, domainerrors.ErrCodeTimeout},
		{"plain", assert.AnError, http.StatusInternalServerError, domainerrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testutils.SetupTestRouter()
			router.GET("/e", func(c *gin.Context) { middleware.HandleError(c, tt.err) })

			w := testutils.PerformRequest(router, http.MethodGet, "/e", nil, nil)

			assert.Equal(t, tt.status, w.Code)
			var resp middleware.ErrorResponse
			testutils.ParseJSONResponse(t, w, &resp)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestRequestLoggerAndRecovery(t *testing.T) {
	router := testutils.SetupTestRouter()
	logging := middleware.NewLoggingMiddlewareWithLogger(zerolog.Nop())
	router.Use(logging.RequestLogger(), logging.Logger(), middleware.NewErrorMiddleware().Recovery())
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, middleware.GetRequestID(c)) })
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := testutils.PerformRequest(router, http.MethodGet, "/ok", nil, map[string]string{"X-Request-ID": "req-1"})
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = testutils.PerformRequest(router, http.MethodGet, "/ok", nil, nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = testutils.PerformRequest(router, http.MethodGet, "/boom", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleError_LogsWithRequestLogger(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	router := testutils.SetupTestRouter()
	logging := middleware.NewLoggingMiddlewareWithLogger(zerolog.New(&buf))
	router.Use(logging.RequestLogger())
	router.GET("/tenants/:tenantId/fail", func(c *gin.Context) {
		middleware.HandleError(c, domainerrors.NewPersistenceError("write", fmt.Errorf("disk full")))
	})

	// Act
	w := testutils.PerformRequest(router, http.MethodGet, "/tenants/acme/fail", nil, map[string]string{"X-Request-ID": "req-9"})

	// Assert
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-9"`)
	assert.Contains(t, out, `"tenant_id":"acme"`)
	assert.Contains(t, out, `"message":"request failed"`)
}

func TestGetRequestLogger_FallsBackToGlobal(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	assert.NotNil(t, middleware.GetRequestLogger(c))
}
