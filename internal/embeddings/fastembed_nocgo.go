//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable means the binary was built without CGO, which the
// ONNX runtime needs.
var ErrFastEmbedNotAvailable = errors.New("fastembed: built without CGO; choose the openai, ollama or hash provider")

// FastEmbedProvider is unusable in builds without CGO.
type FastEmbedProvider struct{}

// NewFastEmbedProvider validates cfg and then reports that local models are
// unavailable.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	if _, err := cfg.resolve(); err != nil {
		return nil, err
	}
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }
