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

// FolderRepository persists the folder hierarchy.
type FolderRepository struct {
	pool *pgxpool.Pool
}

// NewFolderRepository constructs a repository.
func NewFolderRepository(pool *pgxpool.Pool) *FolderRepository {
	return &FolderRepository{pool: pool}
}

// Create inserts a folder. The partial unique index on (name, parent) rejects
// duplicate siblings; cycles cannot form because the parent must already
// exist and folders are never reparented.
func (r *FolderRepository) Create(ctx context.Context, f *model.Folder) error {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	f.Active = true
	_, err := r.pool.Exec(ctx, `
		INSERT INTO folders (id, parent_id, owner_id, name, access_level, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,TRUE,$6,$7)
	`, f.ID, f.ParentID, f.OwnerID, f.Name, f.AccessLevel, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

// GetActive returns an active folder by id.
func (r *FolderRepository) GetActive(ctx context.Context, id string) (*model.Folder, error) {
	var f model.Folder
	row := r.pool.QueryRow(ctx, `
		SELECT id, parent_id, owner_id, name, access_level, active, created_at, updated_at
		FROM folders WHERE id=$1 AND active
	`, id)
	if err := row.Scan(&f.ID, &f.ParentID, &f.OwnerID, &f.Name, &f.AccessLevel,
		&f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select folder: %w", err)
	}
	return &f, nil
}

// Path joins the folder names from root to the given folder.
func (r *FolderRepository) Path(ctx context.Context, id string) (string, error) {
	path := ""
	for id != "" {
		f, err := r.GetActive(ctx, id)
		if err != nil {
			return "", err
		}
		if path == "" {
			path = f.Name
		} else {
			path = f.Name + "/" + path
		}
		if f.ParentID == nil {
			break
		}
		id = *f.ParentID
	}
	return "/" + path, nil
}

// Deactivate soft-deletes a folder.
func (r *FolderRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE folders SET active = FALSE, updated_at = $1 WHERE id = $2 AND active
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
