package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/loremaster/internal/lore"
	"github.com/fyrsmithlabs/loremaster/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("loremaster.rag")

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Indexer writes entity chunks into the vector index.
type Indexer struct {
	embedder Embedder
	index    vectorstore.Index
	logger   *zap.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(embedder Embedder, index vectorstore.Index, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{embedder: embedder, index: index, logger: logger}
}

// IndexEntity embeds and upserts the chunks of e in one batch and returns
// how many were written.
func (x *Indexer) IndexEntity(ctx context.Context, e lore.Entity) (int, error) {
	chunks := Compose(e)
	if len(chunks) == 0 {
		return 0, nil
	}

	ctx, span := tracer.Start(ctx, "Indexer.IndexEntity")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity_type", string(e.Kind())),
		attribute.Int("chunks", len(chunks)),
	)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := x.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("embedding %s %s: %w", e.Kind(), e.Base().ID, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding %s %s: got %d vectors for %d chunks", e.Kind(), e.Base().ID, len(vectors), len(chunks))
	}

	byCollection := make(map[string][]vectorstore.Record)
	for i, c := range chunks {
		byCollection[c.Collection] = append(byCollection[c.Collection], vectorstore.Record{
			ID:       c.ID,
			Vector:   vectors[i],
			Document: c.Text,
			Metadata: c.Metadata,
		})
	}
	for collection, records := range byCollection {
		if err := x.index.Upsert(ctx, collection, records); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("upserting %s %s: %w", e.Kind(), e.Base().ID, err)
		}
	}

	x.logger.Debug("entity indexed",
		zap.String("entity_type", string(e.Kind())),
		zap.String("entity_id", e.Base().ID),
		zap.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}

// RemoveEntity deletes every chunk of the entity. Lookup failures fall back
// to an entity_id-only lookup narrowed by chunk id prefix; if that fails too
// the removal is logged and skipped.
func (x *Indexer) RemoveEntity(ctx context.Context, kind lore.Kind, id string) error {
	ctx, span := tracer.Start(ctx, "Indexer.RemoveEntity")
	defer span.End()
	span.SetAttributes(attribute.String("entity_type", string(kind)))

	collection := CollectionFor(kind)
	ids, err := x.index.Get(ctx, collection, vectorstore.Filter{
		MetaEntityType: string(kind),
		MetaEntityID:   id,
	})
	if err != nil {
		x.logger.Debug("two-key chunk lookup failed, falling back to prefix match",
			zap.String("entity_id", id), zap.Error(err))
		ids, err = x.removalFallback(ctx, collection, kind, id)
	}
	if err != nil {
		span.RecordError(err)
		x.logger.Warn("could not look up chunks for removal",
			zap.String("entity_type", string(kind)), zap.String("entity_id", id), zap.Error(err))
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	if err := x.index.Delete(ctx, collection, ids); err != nil {
		span.RecordError(err)
		x.logger.Warn("deleting chunks failed",
			zap.String("entity_type", string(kind)), zap.String("entity_id", id), zap.Error(err))
		return nil
	}
	span.SetAttributes(attribute.Int("removed", len(ids)))
	return nil
}

func (x *Indexer) removalFallback(ctx context.Context, collection string, kind lore.Kind, id string) ([]string, error) {
	candidates, err := x.index.Get(ctx, collection, vectorstore.Filter{MetaEntityID: id})
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("%s_%s_", kind, id)
	var ids []string
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			ids = append(ids, c)
		}
	}
	return ids, nil
}

// ReindexEntity removes then indexes e. The two steps are not atomic.
func (x *Indexer) ReindexEntity(ctx context.Context, e lore.Entity) (int, error) {
	if err := x.RemoveEntity(ctx, e.Kind(), e.Base().ID); err != nil {
		return 0, err
	}
	return x.IndexEntity(ctx, e)
}

// ReindexAll reindexes every indexable entity and returns the number of
// chunks written. It stops at the first error.
func (x *Indexer) ReindexAll(ctx context.Context, entities []lore.Entity) (int, error) {
	total := 0
	for _, e := range entities {
		if !e.Kind().Indexable() {
			continue
		}
		n, err := x.ReindexEntity(ctx, e)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

var _ lore.Indexer = (*Indexer)(nil)
