package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexSearchOrdersByDistance(t *testing.T) {
	idx := NewMemoryIndex("v1")
	idx.Insert("c1", "d1", "v1", []float32{1, 0, 0})
	idx.Insert("c2", "d1", "v1", []float32{0.9, 0.1, 0})
	idx.Insert("c3", "d2", "v1", []float32{0, 1, 0})
	require.Equal(t, 3, idx.Len())

	matches, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "c1", matches[0].ChunkID)
	assert.Equal(t, "c2", matches[1].ChunkID)
	assert.Equal(t, "c3", matches[2].ChunkID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i].Distance, matches[i-1].Distance)
	}
}

func TestMemoryIndexNeverReturnsMoreThanCorpus(t *testing.T) {
	idx := NewMemoryIndex("v1")
	idx.Insert("c1", "d1", "v1", []float32{1, 0})
	idx.Insert("c2", "d1", "v1", []float32{0, 1})

	matches, err := idx.Search(context.Background(), []float32{1, 1}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMemoryIndexFiltersByDocumentAndVersion(t *testing.T) {
	idx := NewMemoryIndex("v1")
	idx.Insert("c1", "d1", "v1", []float32{1, 0})
	idx.Insert("c2", "d2", "v1", []float32{1, 0})
	idx.Insert("c3", "d1", "v0", []float32{1, 0})

	matches, err := idx.Search(context.Background(), []float32{1, 0}, 10, []string{"d1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "c1", matches[0].ChunkID)
}

func TestMemoryIndexDocumentIDsFor(t *testing.T) {
	idx := NewMemoryIndex("v1")
	idx.Insert("c1", "d1", "v1", []float32{1, 0})
	idx.Insert("c2", "d1", "v1", []float32{0, 1})
	idx.Insert("c3", "d2", "v1", []float32{1, 1})

	docs, err := idx.DocumentIDsFor(context.Background(), []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d2"}, docs)
}

func TestToLiteral(t *testing.T) {
	assert.Equal(t, "[1,0.5,-2]", ToLiteral([]float32{1, 0.5, -2}))
	assert.Equal(t, "[]", ToLiteral(nil))
}
