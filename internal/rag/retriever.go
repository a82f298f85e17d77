package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/loremaster/internal/vectorstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ErrRetrieval wraps embedding and index failures during retrieval.
var ErrRetrieval = errors.New("retrieval failed")

// RetrievedChunk is one search hit. Score is in (0, 1], higher is closer.
type RetrievedChunk struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// LoreFilter scopes a lore query. Empty fields do not filter.
type LoreFilter struct {
	UniverseID string
	CampaignID string
}

// Query is a retrieval request.
type Query struct {
	Text     string
	Limit    int
	MinScore float64
}

// Retriever runs filtered nearest-neighbor searches over the index.
type Retriever struct {
	embedder Embedder
	index    vectorstore.Index
	logger   *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder Embedder, index vectorstore.Index, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Score converts a squared L2 distance into a relevance score.
func Score(distance float32) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + float64(distance))
}

// RetrieveLore searches the lore collection within f.
func (r *Retriever) RetrieveLore(ctx context.Context, q Query, f LoreFilter) ([]RetrievedChunk, error) {
	filter := vectorstore.Filter{}
	if f.UniverseID != "" {
		filter[MetaUniverseID] = f.UniverseID
	}
	if f.CampaignID != "" {
		filter[MetaCampaignID] = f.CampaignID
	}
	return r.retrieve(ctx, CollectionLore, q, filter)
}

// RetrieveRules searches the rules collection, restricted to one rule
// system when ruleSystemID is set.
func (r *Retriever) RetrieveRules(ctx context.Context, q Query, ruleSystemID string) ([]RetrievedChunk, error) {
	filter := vectorstore.Filter{}
	if ruleSystemID != "" {
		filter[MetaRuleSystem] = ruleSystemID
	}
	return r.retrieve(ctx, CollectionRules, q, filter)
}

func (r *Retriever) retrieve(ctx context.Context, collection string, q Query, filter vectorstore.Filter) ([]RetrievedChunk, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
		attribute.String("filter", filter.String()),
	)

	vector, err := r.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: embedding query: %v", ErrRetrieval, err)
	}

	hits, err := r.index.Query(ctx, collection, vector, limit, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying %s: %v", ErrRetrieval, collection, err)
	}

	chunks := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		score := Score(h.Distance)
		if score < q.MinScore {
			continue
		}
		chunks = append(chunks, RetrievedChunk{ID: h.ID, Text: h.Document, Metadata: h.Metadata, Score: score})
	}
	span.SetAttributes(attribute.Int("results", len(chunks)))
	r.logger.Debug("retrieved context",
		zap.String("collection", collection),
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(chunks)),
	)
	return chunks, nil
}
