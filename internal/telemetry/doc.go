// Package telemetry sets up OpenTelemetry tracing and metrics for loremaster.
//
// Spans cover each orchestrator call, retrieval, indexing and generation
// request. Metrics are exported over OTLP alongside the Prometheus endpoint
// served by the HTTP API.
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// When telemetry is disabled New returns an instance whose Tracer and Meter
// fall back to the global no-op providers. Exporter setup failures mark the
// instance degraded instead of failing startup.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
