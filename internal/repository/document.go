// Package repository wraps all SQL used throughout the API server and worker.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sealbox/sealbox/internal/model"
)

// ErrNotFound is returned when a row does not exist or is inactive. Callers
// compare with errors.Is.
var ErrNotFound = errors.New("not found")

const documentColumns = `id, owner_id, folder_id, name, access_level, status, sealed, nonce,
	key_version, payload_key, version, parent_version_id, download_count,
	last_accessed_at, effective_date, expiry_date, active, created_at, updated_at`

// DocumentRepository persists document metadata rows.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Create inserts a new document row.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Active = true
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, owner_id, folder_id, name, access_level, status, sealed, nonce,
			key_version, payload_key, version, parent_version_id, download_count,
			effective_date, expiry_date, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0,$13,$14,TRUE,$15,$16)
	`, doc.ID, doc.OwnerID, doc.FolderID, doc.Name, doc.AccessLevel, doc.Status, doc.Sealed,
		doc.Nonce, doc.KeyVersion, doc.PayloadKey, doc.Version, doc.ParentVersionID,
		doc.EffectiveDate, doc.ExpiryDate, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetActive returns an active document by id. Soft-deleted rows behave as if
// they do not exist.
func (r *DocumentRepository) GetActive(ctx context.Context, id string) (*model.Document, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE id=$1 AND active
	`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// ListActive returns every active document. Visibility filtering happens in
// the service layer through the one canonical evaluator, never in SQL.
func (r *DocumentRepository) ListActive(ctx context.Context) ([]*model.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE active ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Touch updates last_accessed_at and, when download is true, bumps
// download_count by one. The increment happens inside the UPDATE so
// concurrent retrievals never under-count.
func (r *DocumentRepository) Touch(ctx context.Context, id string, download bool) error {
	now := time.Now().UTC()
	var err error
	if download {
		_, err = r.pool.Exec(ctx, `
			UPDATE documents
			SET download_count = download_count + 1, last_accessed_at = $1, updated_at = $1
			WHERE id = $2 AND active
		`, now, id)
	} else {
		_, err = r.pool.Exec(ctx, `
			UPDATE documents SET last_accessed_at = $1, updated_at = $1
			WHERE id = $2 AND active
		`, now, id)
	}
	if err != nil {
		return fmt.Errorf("touch document: %w", err)
	}
	return nil
}

// Deactivate soft-deletes the document. The row and its sealed payload stay
// in place; read paths filter on active.
func (r *DocumentRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET active = FALSE, updated_at = $1 WHERE id = $2 AND active
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.FolderID, &doc.Name, &doc.AccessLevel,
		&doc.Status, &doc.Sealed, &doc.Nonce, &doc.KeyVersion, &doc.PayloadKey,
		&doc.Version, &doc.ParentVersionID, &doc.DownloadCount, &doc.LastAccessedAt,
		&doc.EffectiveDate, &doc.ExpiryDate, &doc.Active, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}
