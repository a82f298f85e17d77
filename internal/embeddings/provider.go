// Package embeddings turns text into fixed-dimension vectors.
//
// Providers: FastEmbed (local ONNX, requires CGO), OpenAI-compatible and
// Ollama endpoints through langchaingo, and a deterministic hashing embedder
// for offline use and tests. Every provider short-circuits empty input with
// ErrEmptyInput before touching the model.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings.
//
// EmbedDocuments preserves input order: output i is the embedding of texts[i].
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// checkTexts rejects empty batches and batches containing empty strings.
func checkTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrEmptyInput, i)
		}
	}
	return nil
}

// NewProvider creates the provider selected by cfg.Embeddings.Provider and
// wraps it with metrics and, when cache_ttl is positive, a result cache.
func NewProvider(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ec := cfg.Embeddings

	var (
		p   Provider
		err error
	)
	switch ec.Provider {
	case "fastembed", "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    ec.Model,
			CacheDir: ec.CacheDir,
		})
	case "openai", "ollama":
		p, err = NewLangChainProvider(LangChainConfig{
			Backend:   ec.Provider,
			Model:     ec.Model,
			BaseURL:   ec.BaseURL,
			APIKey:    ec.APIKey.Value(),
			Dimension: cfg.VectorStore.VectorSize,
		})
	case "hash":
		p = NewHashProvider(cfg.VectorStore.VectorSize)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, ec.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s embeddings: %w", ec.Provider, err)
	}

	if p.Dimension() != cfg.VectorStore.VectorSize {
		_ = p.Close()
		return nil, fmt.Errorf("%w: model %q produces %d dimensions, vectorstore.vector_size is %d",
			ErrInvalidConfig, ec.Model, p.Dimension(), cfg.VectorStore.VectorSize)
	}

	p = NewInstrumented(p, ec.Provider+":"+ec.Model, logger)
	if ttl := ec.CacheTTL.Duration(); ttl > 0 {
		p = NewCached(p, ttl)
	}

	logger.Info("embedding provider ready",
		zap.String("provider", ec.Provider),
		zap.String("model", ec.Model),
		zap.Int("dimension", p.Dimension()),
	)
	return p, nil
}
