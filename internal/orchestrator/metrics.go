package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/loremaster/internal/orchestrator"

// turnMetrics records per-call counters and latencies.
type turnMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	switches metric.Int64Counter
}

func newTurnMetrics(logger *zap.Logger) *turnMetrics {
	meter := otel.Meter(instrumentationName)
	m := &turnMetrics{}

	var err error
	m.calls, err = meter.Int64Counter(
		"loremaster.orchestrator.calls_total",
		metric.WithDescription("Orchestrator calls labeled by operation, mode and outcome."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create calls counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"loremaster.orchestrator.duration_seconds",
		metric.WithDescription("Orchestrator call duration including handler and persistence time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.switches, err = meter.Int64Counter(
		"loremaster.orchestrator.mode_switches_total",
		metric.WithDescription("Mode switches labeled by source and target mode."),
		metric.WithUnit("{switch}"),
	)
	if err != nil {
		logger.Warn("failed to create mode switch counter", zap.Error(err))
	}
	return m
}

func (m *turnMetrics) record(ctx context.Context, op, mode, outcome string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

func (m *turnMetrics) recordSwitch(ctx context.Context, from, to string) {
	if m.switches != nil {
		m.switches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		))
	}
}
