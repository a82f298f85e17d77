//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// passageBatch is how many chunks go through the ONNX session at once.
const passageBatch = 256

// onnxModels maps model names onto fastembed's identifiers.
var onnxModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FastEmbedProvider embeds lore locally with an ONNX model. Documents use
// the passage prefix and queries the query prefix, which BGE models expect.
type FastEmbedProvider struct {
	mu    sync.RWMutex
	flag  *fastembed.FlagEmbedding
	dim   int
	model string
}

// NewFastEmbedProvider loads cfg.Model, downloading it into the cache on
// first use.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	dim, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	quiet := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                onnxModels[cfg.Model],
		CacheDir:             cfg.CacheDir,
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.Model, err)
	}
	return &FastEmbedProvider{flag: flag, dim: dim, model: cfg.Model}, nil
}

func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts(texts); err != nil {
		return nil, err
	}
	return p.run(ctx, func(f *fastembed.FlagEmbedding) ([][]float32, error) {
		return f.PassageEmbed(texts, passageBatch)
	})
}

func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrEmptyInput)
	}
	out, err := p.run(ctx, func(f *fastembed.FlagEmbedding) ([][]float32, error) {
		v, err := f.QueryEmbed(text)
		return [][]float32{v}, err
	})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *FastEmbedProvider) run(ctx context.Context, fn func(*fastembed.FlagEmbedding) ([][]float32, error)) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.flag == nil {
		return nil, fmt.Errorf("%w: %s provider is closed", ErrEmbeddingFailed, p.model)
	}
	out, err := fn(p.flag)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingFailed, p.model, err)
	}
	return out, nil
}

func (p *FastEmbedProvider) Dimension() int { return p.dim }

// Close releases the ONNX session. Later calls fail with ErrEmbeddingFailed.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag == nil {
		return nil
	}
	err := p.flag.Destroy()
	p.flag = nil
	return err
}
