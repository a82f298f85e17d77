package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		{ID: "character_1_0", Vector: []float32{1, 0, 0}, Document: "Character: Aria",
			Metadata: map[string]string{"entity_type": "character", "entity_id": "1", "universe_id": "u1"}},
		{ID: "location_2_0", Vector: []float32{0, 1, 0}, Document: "Location: Harbor",
			Metadata: map[string]string{"entity_type": "location", "entity_id": "2", "universe_id": "u1"}},
		{ID: "location_3_0", Vector: []float32{0, 0, 1}, Document: "Location: Spire",
			Metadata: map[string]string{"entity_type": "location", "entity_id": "3", "universe_id": "u2"}},
	}
}

func TestMemoryIndex_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "lore", sampleRecords()))

	hits, err := idx.Query(ctx, "lore", []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "character_1_0", hits[0].ID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	assert.InDelta(t, 2, hits[1].Distance, 1e-6)
	assert.Equal(t, "location_2_0", hits[1].ID, "ties broken by id")
}

func TestMemoryIndex_QueryFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "lore", sampleRecords()))

	hits, err := idx.Query(ctx, "lore", []float32{1, 0, 0}, 10, Filter{"universe_id": "u1"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = idx.Query(ctx, "lore", []float32{1, 0, 0}, 10, Filter{"universe_id": "u1", "entity_type": "location"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "location_2_0", hits[0].ID)

	hits, err = idx.Query(ctx, "lore", []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryIndex_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "lore", sampleRecords()))

	updated := sampleRecords()[0]
	updated.Document = "Character: Aria the Bold"
	require.NoError(t, idx.Upsert(ctx, "lore", []Record{updated}))

	assert.Equal(t, 3, idx.Count("lore"))
	hits, err := idx.Query(ctx, "lore", []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "Character: Aria the Bold", hits[0].Document)
}

func TestMemoryIndex_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "lore", sampleRecords()))

	ids, err := idx.Get(ctx, "lore", Filter{"entity_type": "location"})
	require.NoError(t, err)
	assert.Equal(t, []string{"location_2_0", "location_3_0"}, ids)

	require.NoError(t, idx.Delete(ctx, "lore", ids))
	require.NoError(t, idx.Delete(ctx, "lore", []string{"missing"}))
	assert.Equal(t, 1, idx.Count("lore"))
}

func TestMemoryIndex_MissingCollection(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	hits, err := idx.Query(ctx, "rules", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	ids, err := idx.Get(ctx, "rules", Filter{"entity_id": "x"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryIndex_Validation(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	err := idx.Upsert(ctx, "Bad-Name", sampleRecords())
	assert.ErrorIs(t, err, ErrInvalidCollectionName)

	err = idx.Upsert(ctx, "lore", []Record{{ID: "", Vector: []float32{1}}})
	assert.Error(t, err)

	err = idx.Upsert(ctx, "lore", []Record{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{1, 0, 0}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, idx.Upsert(ctx, "lore", sampleRecords()))
	err = idx.Upsert(ctx, "lore", []Record{{ID: "c", Vector: []float32{1, 0}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Query(ctx, "lore", []float32{1, 0, 0}, 0, nil)
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	f := Filter{"universe_id": "u1", "campaign_id": "c1"}

	assert.True(t, f.Matches(map[string]string{"universe_id": "u1", "campaign_id": "c1", "name": "x"}))
	assert.False(t, f.Matches(map[string]string{"universe_id": "u1"}))
	assert.True(t, Filter(nil).Matches(nil))
	assert.Equal(t, "campaign_id=c1,universe_id=u1", f.String())
}

func TestCosineToDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineToDistance(1), 1e-6)
	assert.InDelta(t, 2, cosineToDistance(0), 1e-6)
	assert.InDelta(t, 0, cosineToDistance(1.0000001), 1e-6)
}
