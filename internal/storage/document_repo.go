package storage

import (
	"context"
	"fmt"

	"docintel/internal/models"
	"docintel/internal/util"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) UpsertDocument(ctx context.Context, d models.Document) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO documents (document_id, file_hash, filename, route, pages, status, fail_reason)
VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, NULLIF($7,''))
ON CONFLICT (document_id)
DO UPDATE SET
  file_hash = EXCLUDED.file_hash,
  filename = EXCLUDED.filename,
  route = COALESCE(EXCLUDED.route, documents.route),
  pages = GREATEST(EXCLUDED.pages, documents.pages),
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		d.DocumentID, d.FileHash, d.Filename, d.Route, d.Pages, d.Status, d.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateDocumentStatus(ctx context.Context, documentID, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE document_id=$1`,
		documentID, status, failReason)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

// ExistsByHash is the document-level idempotence check: a hash already in
// the table means the whole document was ingested before.
func (r *DocumentRepo) ExistsByHash(ctx context.Context, fileHash string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM documents WHERE file_hash=$1 AND status='ingested')`, fileHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document hash: %w", err)
	}
	return exists, nil
}

// EnsureNewDocument returns ErrIngestionConflict when the file hash was
// already ingested; re-ingestion of such a document is a no-op.
func (r *DocumentRepo) EnsureNewDocument(ctx context.Context, fileHash string) error {
	exists, err := r.ExistsByHash(ctx, fileHash)
	if err != nil {
		return err
	}
	if exists {
		return util.ErrIngestionConflict
	}
	return nil
}

func (r *DocumentRepo) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT document_id, file_hash, filename, COALESCE(route,''), pages, status, COALESCE(fail_reason,''), created_at, updated_at
FROM documents
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.DocumentID, &d.FileHash, &d.Filename, &d.Route, &d.Pages, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}
