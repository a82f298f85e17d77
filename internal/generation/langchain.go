package generation

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChainConfig configures a langchaingo chat model.
type LangChainConfig struct {
	// Backend is "openai" (any OpenAI-compatible API) or "ollama".
	Backend   string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

// LangChainOracle generates text through a langchaingo llms.Model.
type LangChainOracle struct {
	llm       llms.Model
	maxTokens int
}

// NewLangChainOracle builds the langchaingo client for cfg.Backend.
func NewLangChainOracle(cfg LangChainConfig) (*LangChainOracle, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	var llm llms.Model
	switch cfg.Backend {
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: openai requires api_key or base_url", ErrInvalidConfig)
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "placeholder"
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		llm = client

	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating Ollama client: %w", err)
		}
		llm = client

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}

	return &LangChainOracle{llm: llm, maxTokens: cfg.MaxTokens}, nil
}

// Generate sends the system and user prompts as a two-message chat. These
// clients have no JSON response mode, so JSON requests extend the system
// prompt instead.
func (o *LangChainOracle) Generate(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.JSON {
		system += jsonInstruction
	}
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt),
	}

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if n := pickMaxTokens(req.MaxTokens, o.maxTokens); n > 0 {
		opts = append(opts, llms.WithMaxTokens(n))
	}

	resp, err := o.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// Close is a no-op; the clients are HTTP based.
func (o *LangChainOracle) Close() error { return nil }

func pickMaxTokens(request, fallback int) int {
	if request > 0 {
		return request
	}
	return fallback
}
