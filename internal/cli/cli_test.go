package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/api/dto"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]interface{}
}

func newServer(t *testing.T, status int, response interface{}) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSweepCmd(t *testing.T) {
	// Arrange
	srv, rec := newServer(t, http.StatusOK, dto.SweepResponse{
		Missed: dto.PassResult{Scanned: 3, Changed: 2},
		Stale:  dto.PassResult{Scanned: 1, Skipped: 1},
	})

	// Act
	out, err := run(t, "sweep", "--server", srv.URL, "--api-key", "k1", "-t", "acme", "--missed-minutes", "7")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/livechat/tenants/acme/maintenance/sweep", rec.path)
	assert.Equal(t, "Bearer k1", rec.auth)
	assert.Equal(t, float64(7), rec.body["missedThresholdMinutes"])
	assert.Contains(t, out, "missed: scanned=3 changed=2 skipped=0")
	assert.Contains(t, out, "stale: scanned=1 changed=0 skipped=1")
}

func TestReconcileCmd(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, dto.ReconcileResponse{Loads: dto.PassResult{Scanned: 4, Changed: 1}})

	out, err := run(t, "reconcile", "--server", srv.URL, "-t", "acme", "--immediate")

	require.NoError(t, err)
	assert.Equal(t, "/api/v1/livechat/tenants/acme/maintenance/reconcile", rec.path)
	assert.Equal(t, true, rec.body["immediate"])
	assert.Contains(t, out, "loads: scanned=4 changed=1")
}

func TestRebalanceCmd_ServerError(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "invalid API key"})

	_, err := run(t, "rebalance", "--server", srv.URL, "-t", "acme")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
	assert.Contains(t, err.Error(), "401")
}

func TestTenantRequired(t *testing.T) {
	_, err := run(t, "sweep", "--server", "http://127.0.0.1:1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tenant is required")
}

func TestHealthCmd_PrintsUnhealthyComponents(t *testing.T) {
	srv, rec := newServer(t, http.StatusServiceUnavailable, map[string]interface{}{
		"status":      "unhealthy",
		"components":  map[string]string{"cache": "unhealthy"},
		"queueLength": 2,
	})

	out, err := run(t, "health", "--server", srv.URL)

	assert.Error(t, err)
	assert.Equal(t, "/api/v1/livechat/health", rec.path)
	assert.Contains(t, out, "Status:  unhealthy")
	assert.Contains(t, out, "Queue:   2")
	assert.Contains(t, out, "cache")
}
