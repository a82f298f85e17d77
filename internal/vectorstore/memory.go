package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force in-process index. It computes exact squared
// L2 distances and is used for tests and single-process development.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]map[string]Record)}
}

// Upsert stores records, replacing any with the same id.
func (m *MemoryIndex) Upsert(_ context.Context, collection string, records []Record) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]Record)
		m.collections[collection] = docs
	}
	for _, r := range docs {
		if len(r.Vector) != len(records[0].Vector) {
			return fmt.Errorf("%w: collection %s holds %d dimensions, got %d",
				ErrDimensionMismatch, collection, len(r.Vector), len(records[0].Vector))
		}
		break
	}
	for _, r := range records {
		docs[r.ID] = Record{
			ID:       r.ID,
			Vector:   append([]float32(nil), r.Vector...),
			Document: r.Document,
			Metadata: copyMetadata(r.Metadata),
		}
	}
	return nil
}

// Query returns the k nearest records matching filter. Ties are broken by id
// so results are deterministic.
func (m *MemoryIndex) Query(_ context.Context, collection string, vector []float32, k int, filter Filter) ([]Hit, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.collections[collection]
	hits := make([]Hit, 0, len(docs))
	for _, r := range docs {
		if !filter.Matches(r.Metadata) {
			continue
		}
		d, err := squaredL2(vector, r.Vector)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			ID:       r.ID,
			Document: r.Document,
			Metadata: copyMetadata(r.Metadata),
			Distance: d,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes records by id.
func (m *MemoryIndex) Delete(_ context.Context, collection string, ids []string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.collections[collection]
	for _, id := range ids {
		delete(docs, id)
	}
	return nil
}

// Get returns the ids of records matching filter, sorted.
func (m *MemoryIndex) Get(_ context.Context, collection string, filter Filter) ([]string, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, r := range m.collections[collection] {
		if filter.Matches(r.Metadata) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of records in a collection.
func (m *MemoryIndex) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Close is a no-op.
func (m *MemoryIndex) Close() error {
	return nil
}

func squaredL2(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: query has %d dimensions, record has %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum, nil
}

var _ Index = (*MemoryIndex)(nil)
