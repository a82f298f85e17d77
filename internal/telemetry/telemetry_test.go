package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{}, "test")
	require.NoError(t, err)

	h := tel.Health()
	assert.False(t, h.Enabled)
	assert.True(t, h.Healthy)
	assert.False(t, h.Degraded)

	// No-op providers still hand out usable tracers and meters.
	_, span := tel.Tracer("x").Start(context.Background(), "noop")
	span.End()
	_, err = tel.Meter("x").Int64Counter("noop")
	assert.NoError(t, err)

	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{Enabled: true}, "test")
	assert.ErrorContains(t, err, "telemetry.endpoint must be set")
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, HealthStatus{}, tel.Health())
}

func TestSetDegraded(t *testing.T) {
	tel := &Telemetry{}
	tel.healthy.Store(true)
	tel.setDegraded("exporter: %s", "refused")
	h := tel.Health()
	assert.True(t, h.Degraded)
	assert.Equal(t, []string{"exporter: refused"}, h.Problems)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.local:4318", stripScheme("https://otel.local:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "root:AlwaysOffSampler")
	assert.Contains(t, newSampler(0.25).Description(), "root:TraceIDRatioBased")
}

func TestTestTelemetry(t *testing.T) {
	ctx := context.Background()
	tt := NewTestTelemetry()

	_, span := tt.Tracer("test").Start(ctx, "rag.RetrieveLore")
	span.SetAttributes(attribute.Int("hits", 3))
	span.End()

	assert.NotNil(t, tt.LoggerProvider())
	require.NotNil(t, tt.SpanByName("rag.RetrieveLore"))
	v, ok := tt.SpanAttribute("rag.RetrieveLore", "hits")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())

	counter, err := tt.Meter("test").Int64Counter("loremaster.test.calls_total")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	names, err := tt.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "loremaster.test.calls_total")
}
