package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainConfig configures a remote embedding endpoint.
type LangChainConfig struct {
	// Backend is "openai" (any OpenAI-compatible API, including TEI) or "ollama".
	Backend string
	Model   string
	BaseURL string
	APIKey  string

	// Dimension is the output size of Model. Remote APIs do not report it.
	Dimension int
}

// LangChainProvider embeds text through langchaingo.
type LangChainProvider struct {
	embedder  *embeddings.EmbedderImpl
	dimension int
}

// NewLangChainProvider builds the langchaingo client for cfg.Backend.
func NewLangChainProvider(cfg LangChainConfig) (*LangChainProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	var client embeddings.EmbedderClient
	switch cfg.Backend {
	case "openai":
		// langchaingo requires a token; TEI and local gateways accept any value.
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "placeholder"
		}
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithToken(apiKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		client = llm

	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating Ollama client: %w", err)
		}
		client = llm

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &LangChainProvider{embedder: embedder, dimension: cfg.Dimension}, nil
}

// EmbedDocuments embeds texts in one batched request.
func (p *LangChainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query.
func (p *LangChainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the configured output dimension.
func (p *LangChainProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the clients are HTTP based.
func (p *LangChainProvider) Close() error {
	return nil
}
