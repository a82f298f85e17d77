package generation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("loremaster.generation")

// Limited rate limits and traces calls to the wrapped oracle. Callers block
// on the limiter until a token is available or ctx is done.
type Limited struct {
	next     Oracle
	limiter  *rate.Limiter
	provider string
}

// NewLimited wraps next. A non-positive perSecond disables limiting.
func NewLimited(next Oracle, perSecond float64, burst int, provider string) *Limited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst), provider: provider}
}

func (l *Limited) Generate(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "Oracle.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", l.provider),
		attribute.Float64("temperature", req.Temperature),
		attribute.Bool("json", req.JSON),
	)

	if err := l.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	out, err := l.next.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("response_length", len(out)))
	return out, nil
}

func (l *Limited) Close() error { return l.next.Close() }
