package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/loremaster/internal/embeddings"

// Operation names used as the "op" attribute.
const (
	opPassages = "passages"
	opQuery    = "query"
)

// Metrics records latency, batch width and failures of embedding calls,
// labelled by model and op.
type Metrics struct {
	latency metric.Float64Histogram
	texts   metric.Int64Histogram
	failed  metric.Int64Counter
}

// NewMetrics builds the instruments on meter, or on the global meter when
// meter is nil. Instruments that fail to build are skipped and logged.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("embedding instrument unavailable", zap.String("instrument", name), zap.Error(err))
		}
	}

	var (
		m   Metrics
		err error
	)
	m.latency, err = meter.Float64Histogram("loremaster.embedding.duration_seconds",
		metric.WithDescription("Time spent embedding lore chunks or queries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	warn("duration", err)
	m.texts, err = meter.Int64Histogram("loremaster.embedding.batch_size",
		metric.WithDescription("Texts per embedding call; one entity produces one batch"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64),
	)
	warn("batch_size", err)
	m.failed, err = meter.Int64Counter("loremaster.embedding.errors_total",
		metric.WithDescription("Failed embedding calls"),
		metric.WithUnit("{error}"),
	)
	warn("errors", err)
	return &m
}

// Record notes one call of op against model.
func (m *Metrics) Record(ctx context.Context, model, op string, took time.Duration, n int, err error) {
	attrs := metric.WithAttributeSet(attribute.NewSet(
		attribute.String("model", model),
		attribute.String("op", op),
	))
	if m.latency != nil {
		m.latency.Record(ctx, took.Seconds(), attrs)
	}
	if m.texts != nil && n > 0 {
		m.texts.Record(ctx, int64(n), attrs)
	}
	if m.failed != nil && err != nil {
		m.failed.Add(ctx, 1, attrs)
	}
}

// Instrumented records metrics for every call to the wrapped provider.
type Instrumented struct {
	next    Provider
	model   string
	metrics *Metrics
	logger  *zap.Logger
}

// NewInstrumented wraps next.
func NewInstrumented(next Provider, model string, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{next: next, model: model, metrics: NewMetrics(nil, logger), logger: logger}
}

func (i *Instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}
	start := time.Now()
	v, err := i.next.EmbedDocuments(ctx, texts)
	i.metrics.Record(ctx, i.model, opPassages, time.Since(start), len(texts), err)
	if err != nil {
		i.logger.Debug("embedding chunks failed", zap.String("model", i.model), zap.Int("count", len(texts)), zap.Error(err))
	}
	return v, err
}

func (i *Instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	start := time.Now()
	v, err := i.next.EmbedQuery(ctx, text)
	i.metrics.Record(ctx, i.model, opQuery, time.Since(start), 1, err)
	return v, err
}

func (i *Instrumented) Dimension() int { return i.next.Dimension() }

func (i *Instrumented) Close() error { return i.next.Close() }
