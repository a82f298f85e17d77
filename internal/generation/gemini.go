package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	Model     string
	APIKey    string
	MaxTokens int
}

// GeminiOracle generates text with Google Gemini.
type GeminiOracle struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiOracle creates a Gemini oracle. An API key is required.
func NewGeminiOracle(ctx context.Context, cfg GeminiConfig) (*GeminiOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key required", ErrInvalidConfig)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiOracle{client: client, model: model, maxTokens: cfg.MaxTokens}, nil
}

func (o *GeminiOracle) Generate(ctx context.Context, req Request) (string, error) {
	model := o.client.GenerativeModel(o.model)
	model.SetTemperature(float32(req.Temperature))
	if n := pickMaxTokens(req.MaxTokens, o.maxTokens); n > 0 {
		model.SetMaxOutputTokens(int32(n))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (o *GeminiOracle) Close() error {
	return o.client.Close()
}
