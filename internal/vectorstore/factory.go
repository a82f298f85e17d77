package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/loremaster/internal/config"
	"go.uber.org/zap"
)

// NewIndex creates the Index selected by cfg.VectorStore.Provider:
//   - "chromem" (default): embedded persistent index, no external services
//   - "qdrant": remote Qdrant over gRPC
//   - "pgvector": Postgres with the pgvector extension
//   - "memory": in-process, non-persistent
func NewIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Index, error) {
	vs := cfg.VectorStore

	var (
		idx Index
		err error
	)
	switch vs.Provider {
	case "chromem", "":
		idx, err = NewChromemIndex(ChromemConfig{
			Path:       vs.ChromemPath,
			Compress:   vs.ChromemCompress,
			VectorSize: vs.VectorSize,
		}, logger)

	case "qdrant":
		idx, err = NewQdrantIndex(ctx, QdrantConfig{
			Host:       vs.QdrantHost,
			Port:       vs.QdrantPort,
			UseTLS:     vs.QdrantUseTLS,
			VectorSize: uint64(vs.VectorSize),
		}, logger)

	case "pgvector":
		idx, err = NewPGVectorIndex(ctx, PGVectorConfig{
			DSN:        vs.PGVectorDSN.Value(),
			VectorSize: vs.VectorSize,
		}, logger)

	case "memory":
		idx = NewMemoryIndex()

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: chromem, qdrant, pgvector, memory)",
			ErrInvalidConfig, vs.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s index: %w", vs.Provider, err)
	}
	return idx, nil
}
