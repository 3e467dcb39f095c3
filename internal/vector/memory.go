package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	chunkID    string
	documentID string
	version    string
	vec        []float32
}

// MemoryIndex is a brute-force in-process index with the same search
// contract as PGIndex. It backs tests and single-node development runs
// where Postgres is not available.
type MemoryIndex struct {
	mu      sync.RWMutex
	version string
	entries []memoryEntry
}

func NewMemoryIndex(embeddingVersion string) *MemoryIndex {
	return &MemoryIndex{version: embeddingVersion}
}

func (x *MemoryIndex) Insert(chunkID, documentID, embeddingVersion string, vec []float32) {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	x.mu.Lock()
	x.entries = append(x.entries, memoryEntry{chunkID: chunkID, documentID: documentID, version: embeddingVersion, vec: cp})
	x.mu.Unlock()
}

func (x *MemoryIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

func (x *MemoryIndex) Search(ctx context.Context, vec []float32, k int, documentIDs []string) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var allowed map[string]struct{}
	if len(documentIDs) > 0 {
		allowed = make(map[string]struct{}, len(documentIDs))
		for _, id := range documentIDs {
			allowed[id] = struct{}{}
		}
	}

	x.mu.RLock()
	matches := make([]Match, 0, len(x.entries))
	for _, e := range x.entries {
		if e.version != x.version {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[e.documentID]; !ok {
				continue
			}
		}
		matches = append(matches, Match{ChunkID: e.chunkID, Distance: cosineDistance(vec, e.vec)})
	}
	x.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (x *MemoryIndex) DocumentIDsFor(ctx context.Context, chunkIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = struct{}{}
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	seen := make(map[string]struct{})
	out := make([]string, 0, len(chunkIDs))
	for _, e := range x.entries {
		if _, ok := want[e.chunkID]; !ok {
			continue
		}
		if _, dup := seen[e.documentID]; dup {
			continue
		}
		seen[e.documentID] = struct{}{}
		out = append(out, e.documentID)
	}
	return out, nil
}

// cosineDistance matches the pgvector <=> operator: 1 - cosine similarity.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
