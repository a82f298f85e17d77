package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/loremaster/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_Middleware(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	m := NewHTTPMetrics(tt.Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/api/v1/sessions/:id/input", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"narration": "..."})
	})
	e.GET("/api/v1/lore/:kind/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})
	e.GET("/boom", func(c echo.Context) error { return errors.New("boom") })

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api/v1/sessions/abc/input"},
		{http.MethodPost, "/api/v1/sessions/xyz/input"},
		{http.MethodGet, "/api/v1/lore/universe/u-1"},
		{http.MethodGet, "/boom"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	rm, err := tt.Collect(context.Background())
	require.NoError(t, err)

	counts := map[string]int64{}
	statuses := map[string]int64{}
	var sawLatency bool
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "loremaster.http.requests_total":
				sum, ok := met.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					area, _ := dp.Attributes.Value(attribute.Key("area"))
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					counts[area.AsString()] += dp.Value
					statuses[route.AsString()] = status.AsInt64()
				}
			case "loremaster.http.request_duration_seconds":
				sawLatency = true
			}
		}
	}

	assert.Equal(t, map[string]int64{"system": 2, "session": 2, "lore": 1}, counts)
	assert.Equal(t, int64(http.StatusOK), statuses["/api/v1/sessions/:id/input"])
	assert.Equal(t, int64(http.StatusNotFound), statuses["/api/v1/lore/:kind/:id"])
	assert.Equal(t, int64(http.StatusInternalServerError), statuses["/boom"])
	assert.True(t, sawLatency)
}

func TestRouteLabels(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/api/v1/lore/:kind", routeLabel("/api/v1/lore/:kind"))
	assert.Equal(t, "session", areaOf("/api/v1/sessions/:id/mode"))
	assert.Equal(t, "lore", areaOf("/api/v1/lore/import"))
	assert.Equal(t, "system", areaOf("/metrics"))
}
