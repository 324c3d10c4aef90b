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

// GrantRepository persists user grants and role permissions.
type GrantRepository struct {
	pool *pgxpool.Pool
}

// NewGrantRepository constructs a repository.
func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

// UserGrant returns the grant row for (document, user), or ErrNotFound.
// Expired rows are returned as-is; expiry is the evaluator's concern.
func (r *GrantRepository) UserGrant(ctx context.Context, documentID, userID string) (*model.UserGrant, error) {
	var g model.UserGrant
	row := r.pool.QueryRow(ctx, `
		SELECT document_id, user_id, granted_by, can_read, can_download, can_edit,
			can_delete, can_share, expires_at, updated_at
		FROM user_grants WHERE document_id=$1 AND user_id=$2
	`, documentID, userID)
	if err := row.Scan(&g.DocumentID, &g.UserID, &g.GrantedBy, &g.Capabilities.Read,
		&g.Capabilities.Download, &g.Capabilities.Edit, &g.Capabilities.Delete,
		&g.Capabilities.Share, &g.ExpiresAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select user grant: %w", err)
	}
	return &g, nil
}

// UpsertUserGrant creates or replaces the grant for (document, user) in a
// single statement, so concurrent grant and revoke always land on one of the
// two end states.
func (r *GrantRepository) UpsertUserGrant(ctx context.Context, g *model.UserGrant) error {
	g.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_grants (document_id, user_id, granted_by, can_read, can_download,
			can_edit, can_delete, can_share, expires_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (document_id, user_id) DO UPDATE SET
			granted_by = EXCLUDED.granted_by,
			can_read = EXCLUDED.can_read,
			can_download = EXCLUDED.can_download,
			can_edit = EXCLUDED.can_edit,
			can_delete = EXCLUDED.can_delete,
			can_share = EXCLUDED.can_share,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, g.DocumentID, g.UserID, g.GrantedBy, g.Capabilities.Read, g.Capabilities.Download,
		g.Capabilities.Edit, g.Capabilities.Delete, g.Capabilities.Share, g.ExpiresAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert user grant: %w", err)
	}
	return nil
}

// DeleteUserGrant removes the grant row outright. Unlike lazy expiry,
// explicit revocation is destructive.
func (r *GrantRepository) DeleteUserGrant(ctx context.Context, documentID, userID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM user_grants WHERE document_id=$1 AND user_id=$2
	`, documentID, userID)
	if err != nil {
		return fmt.Errorf("delete user grant: %w", err)
	}
	return nil
}

// RolePermissions returns every role permission row for a document.
func (r *GrantRepository) RolePermissions(ctx context.Context, documentID string) ([]model.RolePermission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document_id, role, can_read, can_download, can_edit, can_delete, can_share, updated_at
		FROM role_permissions WHERE document_id=$1
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	defer rows.Close()
	var perms []model.RolePermission
	for rows.Next() {
		var p model.RolePermission
		if err := rows.Scan(&p.DocumentID, &p.Role, &p.Capabilities.Read,
			&p.Capabilities.Download, &p.Capabilities.Edit, &p.Capabilities.Delete,
			&p.Capabilities.Share, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	return perms, nil
}

// UpsertRolePermission creates or replaces the permission row for
// (document, role) in a single statement.
func (r *GrantRepository) UpsertRolePermission(ctx context.Context, p *model.RolePermission) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_permissions (document_id, role, can_read, can_download,
			can_edit, can_delete, can_share, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (document_id, role) DO UPDATE SET
			can_read = EXCLUDED.can_read,
			can_download = EXCLUDED.can_download,
			can_edit = EXCLUDED.can_edit,
			can_delete = EXCLUDED.can_delete,
			can_share = EXCLUDED.can_share,
			updated_at = EXCLUDED.updated_at
	`, p.DocumentID, p.Role, p.Capabilities.Read, p.Capabilities.Download,
		p.Capabilities.Edit, p.Capabilities.Delete, p.Capabilities.Share, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert role permission: %w", err)
	}
	return nil
}
