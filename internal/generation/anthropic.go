package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 2048
)

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

// AnthropicOracle generates text with the Anthropic Messages API.
type AnthropicOracle struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicOracle creates an Anthropic oracle. An API key is required.
func NewAnthropicOracle(cfg AnthropicConfig) (*AnthropicOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key required", ErrInvalidConfig)
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicOracle{client: &client, model: model, maxTokens: maxTokens}, nil
}

// Generate sends one user message. The Messages API has no JSON mode, so
// JSON requests extend the system prompt instead.
func (o *AnthropicOracle) Generate(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.JSON {
		system += jsonInstruction
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(o.model),
		MaxTokens:   int64(pickMaxTokens(req.MaxTokens, o.maxTokens)),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := o.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (o *AnthropicOracle) Close() error { return nil }
