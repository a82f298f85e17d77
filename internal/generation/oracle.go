// Package generation provides the text generation oracle used by the mode
// handlers.
//
// Providers wrap langchaingo (OpenAI-compatible APIs and Ollama), the
// Anthropic SDK and the Gemini SDK behind a single Oracle interface. Every
// oracle built by NewOracle is rate limited and traced.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig is returned for unusable provider configuration.
	ErrInvalidConfig = errors.New("invalid generation config")

	// ErrEmptyResponse is returned when a provider answers with no text.
	ErrEmptyResponse = errors.New("empty generation response")

	// ErrGenerationFailed wraps provider errors.
	ErrGenerationFailed = errors.New("generation failed")
)

// Request is a single generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64

	// JSON asks the provider for a single JSON object.
	JSON bool

	// MaxTokens overrides the provider default when positive.
	MaxTokens int
}

// Oracle generates text from instructions and context.
type Oracle interface {
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

// jsonInstruction is appended to the system prompt for providers without a
// native JSON mode.
const jsonInstruction = "\n\nRespond with a single JSON object and nothing else."

// NewOracle creates the oracle selected by cfg.Generation.
func NewOracle(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Oracle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := cfg.Generation

	var (
		o   Oracle
		err error
	)
	switch g.Provider {
	case "openai", "ollama", "":
		backend := g.Provider
		if backend == "" {
			backend = "ollama"
		}
		o, err = NewLangChainOracle(LangChainConfig{
			Backend:   backend,
			Model:     g.Model,
			BaseURL:   g.BaseURL,
			APIKey:    g.APIKey.Value(),
			MaxTokens: g.MaxTokens,
		})
	case "anthropic":
		o, err = NewAnthropicOracle(AnthropicConfig{
			Model:     g.Model,
			BaseURL:   g.BaseURL,
			APIKey:    g.APIKey.Value(),
			MaxTokens: g.MaxTokens,
		})
	case "gemini":
		o, err = NewGeminiOracle(ctx, GeminiConfig{
			Model:     g.Model,
			APIKey:    g.APIKey.Value(),
			MaxTokens: g.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, g.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s oracle: %w", g.Provider, err)
	}

	logger.Info("generation oracle ready",
		zap.String("provider", g.Provider),
		zap.String("model", g.Model),
		zap.Float64("rate_limit", g.RateLimit),
	)
	return NewLimited(o, g.RateLimit, g.Burst, g.Provider), nil
}
