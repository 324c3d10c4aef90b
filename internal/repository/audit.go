package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sealbox/sealbox/internal/model"
)

// AuditRepository appends to and reads from the access log. There is no
// update or delete method here on purpose: the log is append-only.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository constructs a repository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append inserts one access log entry.
func (r *AuditRepository) Append(ctx context.Context, e *model.AccessLogEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access_log (id, document_id, actor_id, action, success,
			origin, client, detail, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.DocumentID, e.ActorID, e.Action, e.Success,
		e.Context.Origin, e.Context.Client, e.Context.Detail, e.Signature, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append access log: %w", err)
	}
	return nil
}

// ListOlderThan returns entries created before the cutoff, oldest first. The
// archival worker exports these to the archive bucket; the rows themselves
// are never mutated or removed.
func (r *AuditRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.AccessLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, actor_id, action, success, origin, client, detail, signature, created_at
		FROM access_log WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list access log: %w", err)
	}
	defer rows.Close()
	var entries []model.AccessLogEntry
	for rows.Next() {
		var e model.AccessLogEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.ActorID, &e.Action, &e.Success,
			&e.Context.Origin, &e.Context.Client, &e.Context.Detail, &e.Signature, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list access log: %w", err)
	}
	return entries, nil
}
