// Package logging builds the process logger.
//
// A logger writes to stdout and, when configured, to a rotating file and to
// an OpenTelemetry log provider. The stdout and file outputs redact
// sensitive keys such as api_key and password, and values that look like
// bearer tokens or provider keys.
//
// Request scoped values travel in the context:
//
//	ctx = logging.WithSessionID(ctx, "table-1")
//	logger.Info("turn", append(logging.ContextFields(ctx), zap.Int("turn", 3))...)
//
// ContextFields adds trace_id and span_id when the context carries a
// sampled OpenTelemetry span.
package logging
