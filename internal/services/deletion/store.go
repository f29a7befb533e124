package deletion

import (
	"context"
	"fmt"

	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/internal/services/tenant"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// PostgresStore is the pgx-backed Store implementation
type PostgresStore struct {
	db       *database.PostgreSQL
	tenants  *tenant.Service
	branches *branch.Service
	logger   *logger.Logger
}

// NewPostgresStore creates a Store over the metadata database
func NewPostgresStore(db *database.PostgreSQL, tenants *tenant.Service, branches *branch.Service, logger *logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:       db,
		tenants:  tenants,
		branches: branches,
		logger:   logger,
	}
}

// ListBranches implements Store
func (s *PostgresStore) ListBranches(ctx context.Context, tenantID string) ([]*branch.Branch, error) {
	return s.branches.ListByTenant(ctx, tenantID)
}

// DeleteTenant drops every schema and deletes the tenant row in one
// transaction. Postgres DDL is transactional, so a failure anywhere rolls
// back both the drops and the row deletes.
func (s *PostgresStore) DeleteTenant(ctx context.Context, tenantID string, schemas []schema.SafeIdentifier) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range schemas {
		if _, err := tx.Exec(ctx, schema.DropSchemaStatement(id)); err != nil {
			return fmt.Errorf("failed to drop schema %s: %w", id, err)
		}
	}

	if err := s.tenants.DeleteTx(ctx, tx, tenantID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
