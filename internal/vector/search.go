package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Match is a single nearest-neighbour hit. Distance is the pgvector
// cosine distance, lower is closer.
type Match struct {
	ChunkID  string
	Distance float64
}

// ToLiteral renders a float32 slice as a pgvector literal like [0.1,0.2].
func ToLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// PGIndex runs nearest-neighbour search against the chunks table.
// Every query is pinned to a single embedding version so vectors from
// different embedding models never compete in the same ranking.
type PGIndex struct {
	pool    *pgxpool.Pool
	version string
}

func NewPGIndex(pool *pgxpool.Pool, embeddingVersion string) *PGIndex {
	return &PGIndex{pool: pool, version: embeddingVersion}
}

// Search returns up to k matches ordered by ascending distance. When
// documentIDs is non-empty the search is restricted to those documents.
func (x *PGIndex) Search(ctx context.Context, vec []float32, k int, documentIDs []string) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	lit := ToLiteral(vec)

	query := `
SELECT chunk_id, embedding <=> $1::vector AS distance
FROM chunks
WHERE embedding IS NOT NULL AND embedding_version = $2`
	args := []any{lit, x.version}
	if len(documentIDs) > 0 {
		query += ` AND document_id = ANY($3)`
		args = append(args, documentIDs)
	}
	query += fmt.Sprintf(` ORDER BY distance ASC LIMIT %d`, k)

	rows, err := x.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ChunkID, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector matches: %w", err)
	}
	return out, nil
}

// DocumentIDsFor maps chunk ids back to their parent documents, used by
// the two-hop document expansion step.
func (x *PGIndex) DocumentIDsFor(ctx context.Context, chunkIDs []string) ([]string, error) {
	if len(chunkIDs) == 0 {
		return []string{}, nil
	}
	rows, err := x.pool.Query(ctx, `
SELECT DISTINCT document_id FROM chunks WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("documents for chunks: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, len(chunkIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document ids: %w", err)
	}
	return out, nil
}
