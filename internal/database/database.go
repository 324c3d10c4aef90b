package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables if needed. Keeping the migration in code
// keeps the stack self-contained so docker-compose can bootstrap everything.
//
// access_log deliberately has no UPDATE or DELETE path anywhere in the
// codebase; the schema is append-only by convention and the service layer
// never exposes a mutation for it.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	parent_id TEXT REFERENCES folders(id),
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	access_level TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_folders_name_parent
	ON folders(name, (COALESCE(parent_id, ''))) WHERE active;

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	folder_id TEXT REFERENCES folders(id),
	name TEXT NOT NULL,
	access_level TEXT NOT NULL,
	status TEXT NOT NULL,
	sealed BOOLEAN NOT NULL,
	nonce BYTEA,
	key_version SMALLINT NOT NULL DEFAULT 1,
	payload_key TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	parent_version_id TEXT REFERENCES documents(id),
	download_count BIGINT NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	effective_date TIMESTAMPTZ,
	expiry_date TIMESTAMPTZ,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT sealed_needs_nonce CHECK (NOT sealed OR octet_length(nonce) = 12)
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id) WHERE active;

CREATE TABLE IF NOT EXISTS role_permissions (
	document_id TEXT NOT NULL REFERENCES documents(id),
	role TEXT NOT NULL,
	can_read BOOLEAN NOT NULL DEFAULT FALSE,
	can_download BOOLEAN NOT NULL DEFAULT FALSE,
	can_edit BOOLEAN NOT NULL DEFAULT FALSE,
	can_delete BOOLEAN NOT NULL DEFAULT FALSE,
	can_share BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, role)
);

CREATE TABLE IF NOT EXISTS user_grants (
	document_id TEXT NOT NULL REFERENCES documents(id),
	user_id TEXT NOT NULL,
	granted_by TEXT NOT NULL,
	can_read BOOLEAN NOT NULL DEFAULT FALSE,
	can_download BOOLEAN NOT NULL DEFAULT FALSE,
	can_edit BOOLEAN NOT NULL DEFAULT FALSE,
	can_delete BOOLEAN NOT NULL DEFAULT FALSE,
	can_share BOOLEAN NOT NULL DEFAULT FALSE,
	expires_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, user_id)
);

CREATE TABLE IF NOT EXISTS access_log (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	actor_id TEXT NOT NULL,
	action TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	origin TEXT NOT NULL DEFAULT '',
	client TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_log_document ON access_log(document_id, created_at);
CREATE INDEX IF NOT EXISTS idx_access_log_created ON access_log(created_at);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
