package http

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/loremaster/internal/http"

// HTTPMetrics records request counts, latencies and in-flight requests per
// route.
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil. Instruments that fail to register are skipped.
func NewHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{}

	var err error
	m.requests, err = meter.Int64Counter(
		"loremaster.http.requests_total",
		metric.WithDescription("HTTP requests by API area, route, method and status."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	// Session input waits on retrieval and generation, hence the long tail.
	m.latency, err = meter.Float64Histogram(
		"loremaster.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by API area, route, method and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create latency histogram", zap.Error(err))
	}

	m.inFlight, err = meter.Int64UpDownCounter(
		"loremaster.http.in_flight_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create in-flight counter", zap.Error(err))
	}
	return m
}

// Middleware records one observation per request.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Let echo write the error so the status is final.
				c.Error(err)
			}

			route := routeLabel(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("area", areaOf(route)),
				attribute.String("route", route),
				attribute.String("method", c.Request().Method),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return nil
		}
	}
}

// routeLabel maps the matched route to a metric label. Echo reports the
// route pattern (/api/v1/lore/:kind/:id), not the request path, so ids never
// reach the label. Unmatched requests share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// areaOf groups routes into session, lore and system traffic.
func areaOf(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/v1/sessions"):
		return "session"
	case strings.HasPrefix(route, "/api/v1/lore"):
		return "lore"
	default:
		return "system"
	}
}
