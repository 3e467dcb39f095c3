package storage

import (
	"context"
	"fmt"

	"docintel/internal/models"
)

type AnswerRepo struct {
	db *DB
}

func NewAnswerRepo(db *DB) *AnswerRepo {
	return &AnswerRepo{db: db}
}

// InsertAnswer writes one immutable record per answered query.
func (r *AnswerRepo) InsertAnswer(ctx context.Context, rec models.AnswerRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO answers (answer_id, question, draft_answer, verified_answer, context_chunk_ids, program_version)
VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.AnswerID, rec.Question, rec.DraftAnswer, rec.VerifiedAnswer, rec.ContextChunkIDs, rec.ProgramVersion)
	if err != nil {
		return fmt.Errorf("insert answer record: %w", err)
	}
	return nil
}

func (r *AnswerRepo) GetAnswersByIDs(ctx context.Context, ids []string) ([]models.AnswerRecord, error) {
	if len(ids) == 0 {
		return []models.AnswerRecord{}, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT answer_id, question, draft_answer, verified_answer, context_chunk_ids, program_version, created_at
FROM answers
WHERE answer_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get answer records by ids: %w", err)
	}
	defer rows.Close()

	out := make([]models.AnswerRecord, 0, len(ids))
	for rows.Next() {
		var rec models.AnswerRecord
		if err := rows.Scan(&rec.AnswerID, &rec.Question, &rec.DraftAnswer, &rec.VerifiedAnswer, &rec.ContextChunkIDs, &rec.ProgramVersion, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer records: %w", err)
	}
	return out, nil
}
