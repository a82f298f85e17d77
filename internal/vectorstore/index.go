// Package vectorstore provides the vector index used by the retrieval
// pipeline: named collections of (id, vector, document, metadata) records
// searchable by nearest neighbor under AND-ed metadata equality filters.
//
// Every backend reports distances on one scale so callers can convert them
// to relevance scores without knowing which backend answered: squared L2
// distance, which for unit-length vectors equals 2*(1-cosine similarity).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig is returned when an index configuration is invalid.
	ErrInvalidConfig = errors.New("invalid vector index configuration")

	// ErrInvalidCollectionName is returned for names outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidFilter is returned when a backend cannot evaluate a filter.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrDimensionMismatch is returned when vector lengths disagree.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Record is one indexed chunk.
type Record struct {
	ID       string
	Vector   []float32
	Document string
	Metadata map[string]string
}

// Hit is one nearest-neighbor match. Nearer hits have smaller distances.
type Hit struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float32
}

// Filter is a conjunction of metadata equality conditions. An empty filter
// matches every record.
type Filter map[string]string

// Matches reports whether metadata satisfies every condition of f.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// Keys returns the filter keys in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the filter deterministically, for logs and span attributes.
func (f Filter) String() string {
	parts := make([]string, 0, len(f))
	for _, k := range f.Keys() {
		parts = append(parts, k+"="+f[k])
	}
	return strings.Join(parts, ",")
}

// Index is a collection-oriented vector index.
//
// Upsert overwrites records with the same id. Query returns at most k hits,
// nearest first; querying a collection that does not exist yet returns no
// hits. Delete ignores unknown ids. Get returns the ids of every record
// matching the filter.
type Index interface {
	Upsert(ctx context.Context, collection string, records []Record) error
	Query(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Hit, error)
	Delete(ctx context.Context, collection string, ids []string) error
	Get(ctx context.Context, collection string, filter Filter) ([]string, error)
	Close() error
}

// ValidateCollectionName validates a collection name.
// Pattern: ^[a-z0-9_]{1,64}$
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// validateRecords checks a batch before it is written.
func validateRecords(records []Record) error {
	dim := -1
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record at index %d has empty id", i)
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %q has empty vector", r.ID)
		}
		if dim >= 0 && len(r.Vector) != dim {
			return fmt.Errorf("%w: record %q has %d dimensions, batch has %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
		dim = len(r.Vector)
	}
	return nil
}

// cosineToDistance maps a cosine similarity to the squared L2 distance of
// the equivalent unit vectors.
func cosineToDistance(similarity float32) float32 {
	d := 2 * (1 - similarity)
	if d < 0 {
		return 0
	}
	return d
}

// copyMetadata returns an independent copy of m.
func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
