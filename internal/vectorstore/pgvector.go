package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var pgTracer = otel.Tracer("loremaster.vectorstore.pgvector")

// PGVectorConfig configures the Postgres + pgvector index.
type PGVectorConfig struct {
	// DSN is the Postgres connection string.
	DSN string

	// Table holds the chunks of every collection.
	// Default: "lore_chunks"
	Table string

	// VectorSize is the fixed dimension of the embedding column.
	// Default: 384
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *PGVectorConfig) ApplyDefaults() {
	if c.Table == "" {
		c.Table = "lore_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *PGVectorConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: pgvector dsn is required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(c.Table); err != nil {
		return fmt.Errorf("%w: table: %v", ErrInvalidConfig, err)
	}
	return nil
}

// pgChunk is the row model. Collections share one table keyed by
// (collection, id).
type pgChunk struct {
	Collection string          `gorm:"primaryKey;type:text"`
	ID         string          `gorm:"primaryKey;type:text"`
	Document   string          `gorm:"type:text"`
	Metadata   datatypes.JSON  `gorm:"type:jsonb"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime"`
}

// PGVectorIndex implements Index on Postgres with the pgvector extension.
// Distances are squared L2 (power(embedding <-> q, 2)).
type PGVectorIndex struct {
	db     *gorm.DB
	config PGVectorConfig
	logger *zap.Logger
}

// NewPGVectorIndex connects to Postgres and migrates the chunk table.
func NewPGVectorIndex(ctx context.Context, config PGVectorConfig, logger *zap.Logger) (*PGVectorIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	db, err := gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return NewPGVectorIndexFromDB(ctx, db, config, logger)
}

// NewPGVectorIndexFromDB wraps an open gorm connection.
func NewPGVectorIndexFromDB(ctx context.Context, db *gorm.DB, config PGVectorConfig, logger *zap.Logger) (*PGVectorIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	idx := &PGVectorIndex{db: db, config: config, logger: logger}
	if err := idx.migrate(ctx); err != nil {
		return nil, err
	}

	logger.Info("pgvector index initialized",
		zap.String("table", config.Table),
		zap.Int("vector_size", config.VectorSize),
	)
	return idx, nil
}

func (p *PGVectorIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			document TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding VECTOR(%d) NOT NULL,
			updated_at TIMESTAMPTZ,
			PRIMARY KEY (collection, id)
		)`, p.config.Table, p.config.VectorSize),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING GIN (metadata)`,
			p.config.Table, p.config.Table),
	}
	for _, stmt := range stmts {
		if err := p.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrating pgvector table: %w", err)
		}
	}
	return nil
}

func (p *PGVectorIndex) table(ctx context.Context) *gorm.DB {
	return p.db.WithContext(ctx).Table(p.config.Table)
}

func applyFilter(q *gorm.DB, filter Filter) *gorm.DB {
	for _, k := range filter.Keys() {
		q = q.Where("metadata->>? = ?", k, filter[k])
	}
	return q
}

// Upsert inserts records or overwrites them on (collection, id) conflict.
func (p *PGVectorIndex) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := pgTracer.Start(ctx, "PGVectorIndex.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	if len(records[0].Vector) != p.config.VectorSize {
		return fmt.Errorf("%w: column holds %d dimensions, got %d",
			ErrDimensionMismatch, p.config.VectorSize, len(records[0].Vector))
	}

	rows := make([]pgChunk, len(records))
	for i, r := range records {
		meta, err := json.Marshal(copyMetadata(r.Metadata))
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		rows[i] = pgChunk{
			Collection: collection,
			ID:         r.ID,
			Document:   r.Document,
			Metadata:   datatypes.JSON(meta),
			Embedding:  pgvector.NewVector(r.Vector),
		}
	}

	err := p.table(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting into %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns the k nearest records matching filter.
func (p *PGVectorIndex) Query(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Hit, error) {
	ctx, span := pgTracer.Start(ctx, "PGVectorIndex.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
		attribute.String("filter", filter.String()),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	type scored struct {
		ID       string
		Document string
		Metadata datatypes.JSON
		Distance float64
	}
	var rows []scored

	q := p.table(ctx).
		Select("id, document, metadata, power(embedding <-> ?, 2) AS distance", pgvector.NewVector(vector)).
		Where("collection = ?", collection)
	err := applyFilter(q, filter).
		Order("distance").
		Order("id").
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		meta := map[string]string{}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &meta); err != nil {
				p.logger.Warn("skipping chunk with unreadable metadata",
					zap.String("collection", collection),
					zap.String("id", r.ID),
					zap.Error(err))
				continue
			}
		}
		hits = append(hits, Hit{
			ID:       r.ID,
			Document: r.Document,
			Metadata: meta,
			Distance: float32(r.Distance),
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Delete removes records by id.
func (p *PGVectorIndex) Delete(ctx context.Context, collection string, ids []string) error {
	ctx, span := pgTracer.Start(ctx, "PGVectorIndex.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	err := p.table(ctx).
		Where("collection = ? AND id IN ?", collection, ids).
		Delete(&pgChunk{}).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Get returns the ids of records matching filter.
func (p *PGVectorIndex) Get(ctx context.Context, collection string, filter Filter) ([]string, error) {
	ctx, span := pgTracer.Start(ctx, "PGVectorIndex.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("filter", filter.String()),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	var ids []string
	q := p.table(ctx).Where("collection = ?", collection)
	if err := applyFilter(q, filter).Order("id").Pluck("id", &ids).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Close closes the underlying connection pool.
func (p *PGVectorIndex) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Index = (*PGVectorIndex)(nil)
