package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("loremaster.vectorstore.qdrant")

// Reserved payload keys. Chunk metadata must not use them.
const (
	payloadID       = "id"
	payloadDocument = "document"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT HTTP REST port).
	// Default: 6334
	Port int

	// VectorSize is the dimensionality of embeddings. MUST match the
	// embedder output dimensions.
	VectorSize uint64

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry.
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// ScrollLimit caps the number of ids returned by Get.
	// Default: 10000
	ScrollLimit uint32
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.ScrollLimit == 0 {
		c.ScrollLimit = 10000
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantIndex implements Index on Qdrant's native gRPC client.
//
// Qdrant point ids must be UUIDs or integers, so chunk ids are mapped to a
// name-based UUID (SHA-1 of collection/id) and the original id is kept in
// the "id" payload field. Collections use cosine distance; scores are
// converted to squared L2.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// collections caches collection existence.
	collections sync.Map
}

// NewQdrantIndex connects to Qdrant and performs a health check.
func NewQdrantIndex(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	idx := &QdrantIndex{client: client, config: config, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	logger.Info("qdrant index initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return idx, nil
}

// retry retries an operation with exponential backoff on transient errors.
func (q *QdrantIndex) retry(ctx context.Context, operationName string, operation func() error) error {
	backoff := q.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		if attempt == q.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, q.config.MaxRetries, err)
		}

		q.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// pointID derives the stable Qdrant point id of a chunk.
func pointID(collection, id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+"/"+id)).String())
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toQdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(filter))
	for _, k := range filter.Keys() {
		conds = append(conds, keywordCondition(k, filter[k]))
	}
	return &qdrant.Filter{Must: conds}
}

// exists reports whether a collection exists.
func (q *QdrantIndex) exists(ctx context.Context, collection string) (bool, error) {
	if _, ok := q.collections.Load(collection); ok {
		return true, nil
	}

	var exists bool
	err := q.retry(ctx, "collection_exists", func() error {
		info, err := q.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if exists {
		q.collections.Store(collection, true)
	}
	return exists, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, collection string) error {
	exists, err := q.exists(ctx, collection)
	if err != nil || exists {
		return err
	}

	err = q.retry(ctx, "create_collection", func() error {
		return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	q.collections.Store(collection, true)
	q.logger.Info("created qdrant collection", zap.String("collection", collection))
	return nil
}

// Upsert writes records, creating the collection on first use.
func (q *QdrantIndex) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
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
	if uint64(len(records[0].Vector)) != q.config.VectorSize {
		return fmt.Errorf("%w: collection holds %d dimensions, got %d",
			ErrDimensionMismatch, q.config.VectorSize, len(records[0].Vector))
	}
	if err := q.ensureCollection(ctx, collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*qdrant.Value, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		payload[payloadID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: r.ID}}
		payload[payloadDocument] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: r.Document}}

		points[i] = &qdrant.PointStruct{
			Id:      pointID(collection, r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	err := q.retry(ctx, "upsert", func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns the k nearest records matching filter.
func (q *QdrantIndex) Query(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Hit, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Query")
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
	exists, err := q.exists(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var results []*qdrant.ScoredPoint
	err = q.retry(ctx, "search", func() error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         toQdrantFilter(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	hits := make([]Hit, len(results))
	for i, point := range results {
		id, doc, meta := splitPayload(point.Payload)
		hits[i] = Hit{
			ID:       id,
			Document: doc,
			Metadata: meta,
			Distance: cosineToDistance(point.Score),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// splitPayload separates the reserved fields from chunk metadata.
func splitPayload(payload map[string]*qdrant.Value) (id, document string, metadata map[string]string) {
	metadata = make(map[string]string, len(payload))
	for k, v := range payload {
		var s string
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			s = val.StringValue
		case *qdrant.Value_IntegerValue:
			s = fmt.Sprintf("%d", val.IntegerValue)
		case *qdrant.Value_DoubleValue:
			s = fmt.Sprintf("%g", val.DoubleValue)
		case *qdrant.Value_BoolValue:
			s = fmt.Sprintf("%t", val.BoolValue)
		default:
			continue
		}
		switch k {
		case payloadID:
			id = s
		case payloadDocument:
			document = s
		default:
			metadata[k] = s
		}
	}
	return id, document, metadata
}

// Delete removes records by their original ids.
func (q *QdrantIndex) Delete(ctx context.Context, collection string, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Delete")
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
	exists, err := q.exists(ctx, collection)
	if err != nil || !exists {
		return err
	}

	err = q.retry(ctx, "delete", func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{{
							ConditionOneOf: &qdrant.Condition_Field{
								Field: &qdrant.FieldCondition{
									Key: payloadID,
									Match: &qdrant.Match{
										MatchValue: &qdrant.Match_Keywords{
											Keywords: &qdrant.RepeatedStrings{Strings: ids},
										},
									},
								},
							},
						}},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Get returns the ids of records matching filter, up to ScrollLimit.
func (q *QdrantIndex) Get(ctx context.Context, collection string, filter Filter) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("filter", filter.String()),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	exists, err := q.exists(ctx, collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	var points []*qdrant.RetrievedPoint
	err = q.retry(ctx, "scroll", func() error {
		res, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         toQdrantFilter(filter),
			Limit:          qdrant.PtrOf(q.config.ScrollLimit),
			WithPayload:    qdrant.NewWithPayloadInclude(payloadID),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scrolling %s: %w", collection, err)
	}

	ids := make([]string, 0, len(points))
	for _, p := range points {
		if id, _, _ := splitPayload(p.Payload); id != "" {
			ids = append(ids, id)
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(ids)))
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

var _ Index = (*QdrantIndex)(nil)
