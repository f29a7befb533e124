package engine

import (
	"context"
	"fmt"
)

// metadataDDL creates the metadata tables on first start. Statements are
// idempotent; branch, membership and migration rows cascade when their
// tenant or branch is deleted.
var metadataDDL = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		tenant_id UUID PRIMARY KEY,
		tenant_name TEXT NOT NULL UNIQUE,
		tenant_description TEXT NOT NULL DEFAULT '',
		default_branch_id UUID,
		last_branch_number INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL DEFAULT '',
		created TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS branches (
		branch_id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants (tenant_id) ON DELETE CASCADE,
		source_branch_id UUID,
		branch_number INTEGER NOT NULL,
		schema_name TEXT NOT NULL UNIQUE,
		branch_name TEXT NOT NULL,
		branch_description TEXT NOT NULL DEFAULT '',
		structure_version INTEGER NOT NULL DEFAULT 0,
		template_version_label TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		created TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, branch_number)
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		tenant_id UUID NOT NULL REFERENCES tenants (tenant_id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		active_branch_id UUID,
		created TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS branch_migrations (
		migration_id UUID PRIMARY KEY,
		branch_id UUID NOT NULL REFERENCES branches (branch_id) ON DELETE CASCADE,
		migration_name TEXT NOT NULL,
		from_version INTEGER NOT NULL,
		to_version INTEGER NOT NULL,
		kind TEXT NOT NULL,
		template_version_label TEXT,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		applied_seq BIGSERIAL
	)`,
}

// ensureMetadataTables creates the metadata tables if they do not exist
func (e *Engine) ensureMetadataTables(ctx context.Context) error {
	for _, stmt := range metadataDDL {
		if _, err := e.db.Pool().Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure metadata tables: %w", err)
		}
	}
	return nil
}
