package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"docintel/internal/models"
	"docintel/internal/providers"
	"docintel/internal/util"
	"docintel/internal/vector"
)

// VectorIndex is the nearest-neighbour surface the retriever needs.
// Satisfied by vector.PGIndex and vector.MemoryIndex.
type VectorIndex interface {
	Search(ctx context.Context, vec []float32, k int, documentIDs []string) ([]vector.Match, error)
	DocumentIDsFor(ctx context.Context, chunkIDs []string) ([]string, error)
}

// ChunkStore hydrates matches back into full chunks.
type ChunkStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]models.Chunk, error)
}

type Config struct {
	SemanticTopK   int
	ExpandTopK     int
	TwoHop         bool
	EntityPoolK    int
	EntityKeep     int
	MinChunks      int
	MaxChunks      int
	PathTimeout    time.Duration
	EmbedDimension int
}

// Retriever runs the semantic and entity paths concurrently and merges
// their results into a single distance-ranked context window.
type Retriever struct {
	index     VectorIndex
	store     ChunkStore
	embedder  providers.EmbeddingProvider
	extractor providers.EntityProvider
	cfg       Config
	log       *zap.Logger
}

func NewRetriever(index VectorIndex, store ChunkStore, embedder providers.EmbeddingProvider, extractor providers.EntityProvider, cfg Config, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SemanticTopK <= 0 {
		cfg.SemanticTopK = 3
	}
	if cfg.ExpandTopK <= 0 {
		cfg.ExpandTopK = 5
	}
	if cfg.EntityPoolK <= 0 {
		cfg.EntityPoolK = 15
	}
	if cfg.EntityKeep <= 0 {
		cfg.EntityKeep = 2
	}
	if cfg.MinChunks <= 0 {
		cfg.MinChunks = 3
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 6
	}
	if cfg.PathTimeout <= 0 {
		cfg.PathTimeout = 10 * time.Second
	}
	return &Retriever{index: index, store: store, embedder: embedder, extractor: extractor, cfg: cfg, log: log}
}

// Result carries the merged context window plus per-path counts so
// callers can see how each path contributed.
type Result struct {
	Query         string                  `json:"query"`
	Chunks        []models.RetrievedChunk `json:"chunks"`
	SemanticCount int                     `json:"semantic_count"`
	EntityCount   int                     `json:"entity_count"`
	BelowMinimum  bool                    `json:"below_minimum"`
}

type pathResult struct {
	chunks []models.RetrievedChunk
	err    error
}

// Retrieve embeds the query once, fans out to both paths, and merges.
// A path that times out or loses its extractor degrades to empty; an
// unavailable index fails the whole query.
func (r *Retriever) Retrieve(ctx context.Context, query string) (Result, error) {
	vecs, _, err := r.embedder.Embed(ctx, providers.EmbedRequest{
		Operation: "query_embedding",
		Inputs:    []string{query},
		Dimension: r.cfg.EmbedDimension,
	})
	if err != nil || len(vecs) == 0 {
		// Without a query vector neither path can run; the index itself
		// was never consulted.
		return Result{}, fmt.Errorf("%w: embed query: %v", util.ErrExtractorUnavailable, err)
	}
	qvec := vecs[0]

	semCh := make(chan pathResult, 1)
	entCh := make(chan pathResult, 1)

	go func() {
		pctx, cancel := context.WithTimeout(ctx, r.cfg.PathTimeout)
		defer cancel()
		chunks, err := r.semanticPath(pctx, qvec)
		semCh <- pathResult{chunks: chunks, err: err}
	}()
	go func() {
		pctx, cancel := context.WithTimeout(ctx, r.cfg.PathTimeout)
		defer cancel()
		chunks, err := r.entityPath(pctx, query, qvec)
		entCh <- pathResult{chunks: chunks, err: err}
	}()

	sem := <-semCh
	ent := <-entCh

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	sem = r.settlePath(ctx, "semantic", sem)
	ent = r.settlePath(ctx, "entity", ent)
	if sem.err != nil || ent.err != nil {
		if errors.Is(sem.err, util.ErrIndexUnavailable) || errors.Is(ent.err, util.ErrIndexUnavailable) {
			return Result{}, firstError(sem.err, ent.err)
		}
		if sem.err != nil && ent.err != nil {
			return Result{}, fmt.Errorf("%w: both retrieval paths failed: %v; %v", util.ErrExtractorUnavailable, sem.err, ent.err)
		}
		// One path down, the other carried the query.
		r.log.Warn("retrieval path degraded", zap.Error(firstError(sem.err, ent.err)))
	}

	merged := mergeChunks(sem.chunks, ent.chunks, r.cfg.MaxChunks)
	return Result{
		Query:         query,
		Chunks:        merged,
		SemanticCount: len(sem.chunks),
		EntityCount:   len(ent.chunks),
		BelowMinimum:  len(merged) < r.cfg.MinChunks,
	}, nil
}

// settlePath turns a per-path timeout into an empty degraded result as
// long as the caller's context is still live.
func (r *Retriever) settlePath(parent context.Context, name string, res pathResult) pathResult {
	if res.err == nil {
		return res
	}
	if errors.Is(res.err, context.DeadlineExceeded) && parent.Err() == nil {
		r.log.Warn("retrieval path timed out", zap.String("path", name))
		return pathResult{chunks: nil}
	}
	return pathResult{err: fmt.Errorf("%s path: %w", name, res.err)}
}

func (r *Retriever) semanticPath(ctx context.Context, qvec []float32) ([]models.RetrievedChunk, error) {
	matches, err := r.index.Search(ctx, qvec, r.cfg.SemanticTopK, nil)
	if err != nil {
		return nil, indexErr(err)
	}
	if r.cfg.TwoHop && len(matches) > 0 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ChunkID)
		}
		docIDs, err := r.index.DocumentIDsFor(ctx, ids)
		if err != nil {
			return nil, indexErr(err)
		}
		if len(docIDs) > 0 {
			expanded, err := r.index.Search(ctx, qvec, r.cfg.ExpandTopK, docIDs)
			if err != nil {
				return nil, indexErr(err)
			}
			matches = expanded
		}
	}
	return r.hydrate(ctx, matches, models.SourceSemantic)
}

func (r *Retriever) entityPath(ctx context.Context, query string, qvec []float32) ([]models.RetrievedChunk, error) {
	entities, _, err := r.extractor.ExtractEntities(ctx, providers.ExtractRequest{
		Operation: "query_entities",
		Text:      query,
	})
	if err != nil {
		return nil, fmt.Errorf("extract query entities: %w", err)
	}
	if countValues(entities) == 0 {
		// No entities in the query means the path has nothing to anchor on.
		return nil, nil
	}

	matches, err := r.index.Search(ctx, qvec, r.cfg.EntityPoolK, nil)
	if err != nil {
		return nil, indexErr(err)
	}
	candidates, err := r.hydrate(ctx, matches, models.SourceEntity)
	if err != nil {
		return nil, err
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if entitiesOverlap(entities, c.Entities) {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Distance != kept[j].Distance {
			return kept[i].Distance < kept[j].Distance
		}
		return kept[i].ChunkID < kept[j].ChunkID
	})
	if len(kept) > r.cfg.EntityKeep {
		kept = kept[:r.cfg.EntityKeep]
	}
	return kept, nil
}

func (r *Retriever) hydrate(ctx context.Context, matches []vector.Match, source string) ([]models.RetrievedChunk, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(matches))
	dist := make(map[string]float64, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ChunkID)
		dist[m.ChunkID] = m.Distance
	}
	chunks, err := r.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, indexErr(err)
	}
	byID := make(map[string]models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	out := make([]models.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		c, ok := byID[m.ChunkID]
		if !ok {
			continue
		}
		out = append(out, models.RetrievedChunk{Chunk: c, Distance: dist[m.ChunkID], Source: source})
	}
	return out, nil
}

// mergeChunks dedupes by chunk id, keeping the minimum distance and
// combining provenance, then ranks by ascending distance and truncates.
func mergeChunks(semantic, entity []models.RetrievedChunk, max int) []models.RetrievedChunk {
	byID := make(map[string]models.RetrievedChunk, len(semantic)+len(entity))
	for _, c := range semantic {
		byID[c.ChunkID] = c
	}
	for _, c := range entity {
		prev, seen := byID[c.ChunkID]
		if !seen {
			byID[c.ChunkID] = c
			continue
		}
		if c.Distance < prev.Distance {
			prev.Distance = c.Distance
		}
		prev.Source = models.SourceBoth
		byID[c.ChunkID] = prev
	}

	out := make([]models.RetrievedChunk, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// entitiesOverlap checks same-type values for a case-insensitive
// substring match in either direction.
func entitiesOverlap(query, chunk map[string][]string) bool {
	for typ, qvals := range query {
		cvals, ok := chunk[typ]
		if !ok {
			continue
		}
		for _, q := range qvals {
			ql := strings.ToLower(strings.TrimSpace(q))
			if ql == "" {
				continue
			}
			for _, c := range cvals {
				cl := strings.ToLower(strings.TrimSpace(c))
				if cl == "" {
					continue
				}
				if strings.Contains(cl, ql) || strings.Contains(ql, cl) {
					return true
				}
			}
		}
	}
	return false
}

func countValues(entities map[string][]string) int {
	n := 0
	for _, vals := range entities {
		n += len(vals)
	}
	return n
}

func indexErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", util.ErrIndexUnavailable, err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
