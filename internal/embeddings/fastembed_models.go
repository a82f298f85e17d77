package embeddings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FastEmbedConfig selects a local ONNX model.
type FastEmbedConfig struct {
	// Model is a Hugging Face model name. Empty means BAAI/bge-small-en-v1.5.
	Model string
	// CacheDir holds downloaded model files. A leading ~ is expanded.
	CacheDir string
	// MaxLength caps the token sequence per input.
	MaxLength int
}

const (
	defaultFastEmbedModel = "BAAI/bge-small-en-v1.5"
	defaultMaxLength      = 512
)

// localModels lists the models the local embedder can load with their
// output width. Lore chunks are short, so the small models are the default.
var localModels = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// resolve fills defaults and validates the model name. It returns the
// model dimension.
func (c *FastEmbedConfig) resolve() (int, error) {
	if c.Model == "" {
		c.Model = defaultFastEmbedModel
	}
	dim, ok := localModels[c.Model]
	if !ok {
		return 0, fmt.Errorf("%w: no local model named %q", ErrInvalidConfig, c.Model)
	}
	if c.MaxLength <= 0 {
		c.MaxLength = defaultMaxLength
	}
	switch {
	case c.CacheDir == "":
		c.CacheDir = filepath.Join(".", "local_cache")
	case strings.HasPrefix(c.CacheDir, "~"):
		home, err := os.UserHomeDir()
		if err != nil {
			return 0, fmt.Errorf("model cache dir: %w", err)
		}
		c.CacheDir = filepath.Join(home, strings.TrimPrefix(c.CacheDir, "~"))
	}
	return dim, nil
}
