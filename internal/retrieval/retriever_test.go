package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintel/internal/models"
	"docintel/internal/providers"
	"docintel/internal/util"
	"docintel/internal/vector"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	if f.err != nil {
		return nil, providers.ProviderInfo{}, f.err
	}
	out := make([][]float32, len(req.Inputs))
	for i := range out {
		out[i] = f.vec
	}
	return out, providers.ProviderInfo{Name: "fake"}, nil
}

type fakeExtractor struct {
	entities map[string][]string
	err      error
	delay    time.Duration
}

func (f *fakeExtractor) ExtractEntities(ctx context.Context, req providers.ExtractRequest) (map[string][]string, providers.ProviderInfo, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, providers.ProviderInfo{}, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, providers.ProviderInfo{}, f.err
	}
	return f.entities, providers.ProviderInfo{Name: "fake"}, nil
}

type fakeIndex struct {
	inner     *vector.MemoryIndex
	searchErr error
}

func (f *fakeIndex) Search(ctx context.Context, vec []float32, k int, documentIDs []string) ([]vector.Match, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.inner.Search(ctx, vec, k, documentIDs)
}

func (f *fakeIndex) DocumentIDsFor(ctx context.Context, chunkIDs []string) ([]string, error) {
	return f.inner.DocumentIDsFor(ctx, chunkIDs)
}

type fakeStore struct {
	chunks map[string]models.Chunk
}

func (f *fakeStore) GetByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

// buildCorpus seeds an index and store with chunks laid out along axes so
// distances to the query vector (axis 0) are predictable.
func buildCorpus(t *testing.T, specs []struct {
	id, doc  string
	vec      []float32
	entities map[string][]string
}) (*fakeIndex, *fakeStore) {
	t.Helper()
	idx := vector.NewMemoryIndex("v1")
	store := &fakeStore{chunks: map[string]models.Chunk{}}
	for _, s := range specs {
		idx.Insert(s.id, s.doc, "v1", s.vec)
		store.chunks[s.id] = models.Chunk{
			ChunkID:          s.id,
			DocumentID:       s.doc,
			Text:             "text for " + s.id,
			Entities:         s.entities,
			EmbeddingVersion: "v1",
		}
	}
	return &fakeIndex{inner: idx}, store
}

func defaultConfig() Config {
	return Config{
		SemanticTopK: 3,
		ExpandTopK:   5,
		TwoHop:       false,
		EntityPoolK:  15,
		EntityKeep:   2,
		MinChunks:    3,
		MaxChunks:    6,
		PathTimeout:  2 * time.Second,
	}
}

func TestRetrieveNoQueryEntitiesMatchesSemanticOnly(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, nil},
		{"c2", "d1", []float32{0.9, 0.1, 0}, nil},
		{"c3", "d2", []float32{0, 1, 0}, nil},
	})
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)}, &fakeExtractor{entities: map[string][]string{}}, defaultConfig(), nil)

	res, err := r.Retrieve(context.Background(), "a question with no named entities")
	require.NoError(t, err)
	assert.Zero(t, res.EntityCount)
	assert.Equal(t, res.SemanticCount, len(res.Chunks))
	for _, c := range res.Chunks {
		assert.Equal(t, models.SourceSemantic, c.Source)
	}
}

func TestRetrieveMergeHasNoDuplicatesAndIsSorted(t *testing.T) {
	ent := map[string][]string{models.EntityOrganization: {"westdale bank"}}
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, ent},
		{"c2", "d1", []float32{0.8, 0.2, 0}, nil},
		{"c3", "d2", []float32{0.5, 0.5, 0}, ent},
		{"c4", "d2", []float32{0, 1, 0}, nil},
	})
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)},
		&fakeExtractor{entities: map[string][]string{models.EntityOrganization: {"westdale"}}},
		defaultConfig(), nil)

	res, err := r.Retrieve(context.Background(), "What did Westdale report?")
	require.NoError(t, err)

	seen := map[string]bool{}
	for i, c := range res.Chunks {
		assert.False(t, seen[c.ChunkID], "duplicate chunk %s", c.ChunkID)
		seen[c.ChunkID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, c.Distance, res.Chunks[i-1].Distance)
		}
	}
	// c1 is found by both paths and keeps combined provenance.
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "c1", res.Chunks[0].ChunkID)
	assert.Equal(t, models.SourceBoth, res.Chunks[0].Source)
}

func TestRetrieveEntityMatchIsCaseInsensitiveSubstring(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{0.7, 0.3, 0}, map[string][]string{models.EntityOrganization: {"westdale bank corp"}}},
		{"c2", "d1", []float32{0.9, 0.1, 0}, map[string][]string{models.EntityOrganization: {"acme"}}},
	})
	cfg := defaultConfig()
	cfg.SemanticTopK = 1
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)},
		&fakeExtractor{entities: map[string][]string{models.EntityOrganization: {"WESTDALE"}}},
		cfg, nil)

	res, err := r.Retrieve(context.Background(), "Tell me about WESTDALE")
	require.NoError(t, err)
	ids := map[string]string{}
	for _, c := range res.Chunks {
		ids[c.ChunkID] = c.Source
	}
	assert.Contains(t, ids, "c1")
}

func TestRetrieveSmallCorpusNeverPads(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, nil},
		{"c2", "d1", []float32{0, 1, 0}, nil},
	})
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)}, &fakeExtractor{entities: map[string][]string{}}, defaultConfig(), nil)

	res, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 2)
	assert.True(t, res.BelowMinimum)
}

func TestRetrieveIndexErrorFailsWholeQuery(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, nil},
	})
	idx.searchErr = errors.New("connection refused")
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)}, &fakeExtractor{entities: map[string][]string{}}, defaultConfig(), nil)

	_, err := r.Retrieve(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrIndexUnavailable)
}

func TestRetrieveEmbedderFailureIsExtractorUnavailable(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, nil},
	})
	r := NewRetriever(idx, store, &fakeEmbedder{err: errors.New("embedding service down")},
		&fakeExtractor{entities: map[string][]string{}}, defaultConfig(), nil)

	_, err := r.Retrieve(context.Background(), "anything")
	require.Error(t, err)
	// The index was never consulted; losing the embedder is an extractor
	// outage, not an index one.
	assert.ErrorIs(t, err, util.ErrExtractorUnavailable)
	assert.NotErrorIs(t, err, util.ErrIndexUnavailable)
}

func TestRetrieveExtractorFailureDegradesToSemantic(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, nil},
		{"c2", "d1", []float32{0.9, 0.1, 0}, nil},
	})
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)},
		&fakeExtractor{err: errors.New("ner service down")}, defaultConfig(), nil)

	res, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Zero(t, res.EntityCount)
	assert.NotEmpty(t, res.Chunks)
}

func TestRetrieveEntityPathTimeoutDegrades(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, nil},
	})
	cfg := defaultConfig()
	cfg.PathTimeout = 20 * time.Millisecond
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)},
		&fakeExtractor{delay: 500 * time.Millisecond, entities: map[string][]string{models.EntityOther: {"x"}}},
		cfg, nil)

	res, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Zero(t, res.EntityCount)
	assert.NotEmpty(t, res.Chunks)
}

func TestRetrieveEntityKeepCapsEntityPath(t *testing.T) {
	ent := map[string][]string{models.EntityPerson: {"jane doe"}}
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{0.6, 0.4, 0}, ent},
		{"c2", "d1", []float32{0.5, 0.5, 0}, ent},
		{"c3", "d2", []float32{0.4, 0.6, 0}, ent},
		{"c4", "d2", []float32{0.3, 0.7, 0}, ent},
	})
	cfg := defaultConfig()
	cfg.SemanticTopK = 1
	cfg.EntityKeep = 2
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)},
		&fakeExtractor{entities: map[string][]string{models.EntityPerson: {"jane"}}}, cfg, nil)

	res, err := r.Retrieve(context.Background(), "Who is Jane?")
	require.NoError(t, err)
	assert.Equal(t, 2, res.EntityCount)
}

func TestRetrieveTwoHopExpandsWithinHitDocuments(t *testing.T) {
	idx, store := buildCorpus(t, []struct {
		id, doc  string
		vec      []float32
		entities map[string][]string
	}{
		{"c1", "d1", []float32{1, 0, 0}, nil},
		{"c2", "d1", []float32{0.6, 0.4, 0}, nil},
		{"c3", "d1", []float32{0.5, 0.5, 0}, nil},
		{"c4", "d2", []float32{0.95, 0.05, 0}, nil},
	})
	cfg := defaultConfig()
	cfg.SemanticTopK = 1
	cfg.ExpandTopK = 3
	cfg.TwoHop = true
	r := NewRetriever(idx, store, &fakeEmbedder{vec: axis(3, 0)}, &fakeExtractor{entities: map[string][]string{}}, cfg, nil)

	res, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	// First hop lands on d1; expansion stays inside d1 so d2's close
	// chunk never appears.
	for _, c := range res.Chunks {
		assert.Equal(t, "d1", c.DocumentID)
	}
	assert.Equal(t, 3, res.SemanticCount)
}

func TestMergeKeepsMinimumDistanceForDualHits(t *testing.T) {
	sem := []models.RetrievedChunk{{Chunk: models.Chunk{ChunkID: "c1"}, Distance: 0.4, Source: models.SourceSemantic}}
	ent := []models.RetrievedChunk{{Chunk: models.Chunk{ChunkID: "c1"}, Distance: 0.2, Source: models.SourceEntity}}
	merged := mergeChunks(sem, ent, 6)
	require.Len(t, merged, 1)
	assert.Equal(t, 0.2, merged[0].Distance)
	assert.Equal(t, models.SourceBoth, merged[0].Source)
}
