package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telarch/telarch/pkg/api/handlers"
	"github.com/telarch/telarch/pkg/metrics"
)

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestLiveness(t *testing.T) {
	h := NewRouter(Dependencies{})
	rec, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestDependencies(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		h := NewRouter(Dependencies{
			Checks: []handlers.NamedCheck{
				{Name: "database", Check: func(ctx context.Context) error { return nil }},
				{Name: "bucket", Check: func(ctx context.Context) error { return nil }},
			},
		})
		rec, body := get(t, h, "/healthz/deps")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", body["status"])
		assert.Len(t, body["data"], 2)
	})

	t.Run("one failing dependency turns 503", func(t *testing.T) {
		h := NewRouter(Dependencies{
			Checks: []handlers.NamedCheck{
				{Name: "database", Check: func(ctx context.Context) error { return nil }},
				{Name: "broker", Check: func(ctx context.Context) error { return fmt.Errorf("connection refused") }},
			},
		})
		rec, body := get(t, h, "/healthz/deps")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", body["status"])

		results := body["data"].([]interface{})
		broker := results[1].(map[string]interface{})
		assert.Equal(t, "unhealthy", broker["status"])
		assert.Contains(t, broker["error"], "connection refused")
	})
}

func TestStatus(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		h := NewRouter(Dependencies{
			Status: func(ctx context.Context) (interface{}, error) {
				return map[string]interface{}{"version": "1.0.0"}, nil
			},
		})
		rec, body := get(t, h, "/status")
		assert.Equal(t, http.StatusOK, rec.Code)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "1.0.0", data["version"])
	})

	t.Run("snapshot failure", func(t *testing.T) {
		h := NewRouter(Dependencies{
			Status: func(ctx context.Context) (interface{}, error) {
				return nil, fmt.Errorf("store unavailable")
			},
		})
		rec, body := get(t, h, "/status")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "error", body["status"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.InitRegistry()
	h := NewRouter(Dependencies{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigDefaults(t *testing.T) {
	cfg := APIConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.IsEnabled())

	disabled := false
	cfg.Enabled = &disabled
	assert.False(t, cfg.IsEnabled())
}
