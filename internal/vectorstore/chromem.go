package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("loremaster.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.local/share/loremaster/index"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the embedding dimension. Used to build the probe vector
	// for Get; must match the embedder.
	// Default: 384 (bge-small-en-v1.5)
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/loremaster/index"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index on chromem-go, an embedded pure-Go vector
// database persisted to gob files.
//
// Records always arrive with their vectors, so the collection embedding
// function is never called for writes. It still has to be supplied: chromem
// falls back to its OpenAI embedder for persisted collections created with a
// nil function.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// dims tracks the observed dimension per collection.
	dims sync.Map
}

// NewChromemIndex opens (or creates) a persistent chromem database.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	expandedPath, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("chromem index initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemIndex{db: db, config: config, logger: logger}, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc refuses to embed: every write and query carries a vector.
func embeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("chromem index does not embed text; supply vectors")
}

// Upsert writes records. chromem keys documents by id, so a repeated id
// replaces the stored document.
func (s *ChromemIndex) Upsert(ctx context.Context, collectionName string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("record_count", len(records)),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		span.RecordError(err)
		return err
	}

	collection, err := s.db.GetOrCreateCollection(collectionName, nil, embeddingFunc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting/creating collection %s: %w", collectionName, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Document,
			Metadata:  copyMetadata(r.Metadata),
			Embedding: r.Vector,
		}
	}

	// Concurrency of 1: embeddings are already present.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}
	s.dims.Store(collectionName, len(records[0].Vector))

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records into chromem",
		zap.String("collection", collectionName),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query returns up to k nearest records matching filter.
func (s *ChromemIndex) Query(ctx context.Context, collectionName string, vector []float32, k int, filter Filter) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("k", k),
		attribute.String("filter", filter.String()),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	results, err := s.query(ctx, collectionName, vector, k, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Document: r.Content,
			Metadata: copyMetadata(r.Metadata),
			Distance: cosineToDistance(r.Similarity),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// query runs a chromem embedding query, capping k at the collection size.
func (s *ChromemIndex) query(ctx context.Context, collectionName string, vector []float32, k int, filter Filter) ([]chromem.Result, error) {
	collection := s.db.GetCollection(collectionName, embeddingFunc)
	if collection == nil {
		return nil, nil
	}

	// chromem requires nResults <= doc count.
	docCount := collection.Count()
	if docCount == 0 {
		return nil, nil
	}
	if k > docCount {
		k = docCount
	}

	var where map[string]string
	if len(filter) > 0 {
		where = map[string]string(filter)
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collectionName, err)
	}
	return results, nil
}

// Delete removes records by id.
func (s *ChromemIndex) Delete(ctx context.Context, collectionName string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Delete")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	collection := s.db.GetCollection(collectionName, embeddingFunc)
	if collection == nil {
		span.SetStatus(codes.Ok, "collection absent")
		return nil
	}

	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d documents from %s: %w", len(ids), collectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("deleted records from chromem",
		zap.String("collection", collectionName),
		zap.Int("count", len(ids)),
	)
	return nil
}

// Get returns the ids of records matching filter.
//
// chromem has no listing API, so Get queries with a unit probe vector and
// nResults equal to the collection size: every filtered document is returned
// regardless of its distance to the probe.
func (s *ChromemIndex) Get(ctx context.Context, collectionName string, filter Filter) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Get")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.String("filter", filter.String()),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, fmt.Errorf("%w: get requires at least one condition", ErrInvalidFilter)
	}

	collection := s.db.GetCollection(collectionName, embeddingFunc)
	if collection == nil {
		return nil, nil
	}

	results, err := s.query(ctx, collectionName, s.probe(collectionName), collection.Count(), filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}

	span.SetAttributes(attribute.Int("results_count", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// probe returns the first basis vector in the collection's dimension.
func (s *ChromemIndex) probe(collectionName string) []float32 {
	dim := s.config.VectorSize
	if v, ok := s.dims.Load(collectionName); ok {
		dim = v.(int)
	}
	p := make([]float32, dim)
	p[0] = 1
	return p
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemIndex) Close() error {
	return nil
}

var _ Index = (*ChromemIndex)(nil)
