package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/terrain-streamer/internal/logging"
)

func TestMain(m *testing.M) {
	logging.GetLoggerManager().Disable()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newRouter(registry *prometheus.Registry) (*gin.Engine, *PrometheusMiddleware) {
	r := gin.New()
	r.Use(NewRequestLogger("/metrics").Handler())
	pm := NewPrometheusMiddleware("test", registry)
	r.Use(pm.Handler())
	pm.RegisterMetricsEndpoint(r, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/fail", func(c *gin.Context) { c.String(http.StatusBadRequest, "bad") })
	return r, pm
}

func TestRequestLoggerSetsTraceHeader(t *testing.T) {
	r, _ := newRouter(prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}

func TestPrometheusMiddlewareCountsErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	r, pm := newRouter(registry)

	for _, path := range []string{"/ok", "/fail", "/fail", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.reqErrors.WithLabelValues("GET", "/fail", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reqErrors.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.reqInflight))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_request_duration_seconds")
}
