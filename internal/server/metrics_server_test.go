package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/groove/internal/health"
	"github.com/devrev/groove/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetricsServerRoutes(t *testing.T) {
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry("node-1", reg)
	hc := health.NewHealthChecker(&health.HealthCheckConfig{NodeID: "node-1", DataDir: dir}, zap.NewNop())
	s := NewMetricsServer(&MetricsServerConfig{DataDir: dir, Gatherer: reg}, m, hc, zap.NewNop())

	m.RecordCacheHit()
	s.updateSystemMetrics()

	get := func(path string) (int, string) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		body, err := io.ReadAll(rec.Result().Body)
		require.NoError(t, err)
		return rec.Code, string(body)
	}

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `groove_cache_hits_total{node_id="node-1"} 1`)
	assert.Contains(t, body, "groove_system_disk_available_bytes")

	code, _ = get("/health")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	hc.RunChecks()
	if hc.GetStatus().Status != health.NodeStatusUnhealthy {
		code, _ = get("/ready")
		assert.Equal(t, http.StatusOK, code)
	}
}
