package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"docintel/internal/models"
	"docintel/internal/vector"
)

type ChunkRecord struct {
	ChunkID          string
	DocumentID       string
	FileHash         string
	PageNumber       int
	Text             string
	Entities         map[string][]string
	Embedding        []float32
	EmbeddingVersion string
}

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) InsertChunks(ctx context.Context, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx insert chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range chunks {
		entities, err := json.Marshal(c.Entities)
		if err != nil {
			return fmt.Errorf("marshal entities for chunk %s: %w", c.ChunkID, err)
		}
		var vec *string
		if len(c.Embedding) > 0 {
			lit := vector.ToLiteral(c.Embedding)
			vec = &lit
		}
		_, err = tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, document_id, file_hash, page_number, text, entities, embedding_version, embedding)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, CASE WHEN $8::text IS NULL THEN NULL ELSE $8::vector END)
ON CONFLICT (chunk_id) DO NOTHING`,
			c.ChunkID, c.DocumentID, c.FileHash, c.PageNumber, c.Text, entities, c.EmbeddingVersion, vec,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (r *ChunkRepo) GetByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return []models.Chunk{}, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, document_id, file_hash, page_number, text, COALESCE(entities, '{}'::jsonb), embedding_version, created_at
FROM chunks
WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chunk, 0, len(ids))
	for rows.Next() {
		var c models.Chunk
		var entities []byte
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.FileHash, &c.PageNumber, &c.Text, &entities, &c.EmbeddingVersion, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(entities, &c.Entities); err != nil {
			return nil, fmt.Errorf("decode entities for chunk %s: %w", c.ChunkID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks by ids: %w", err)
	}
	return out, nil
}
