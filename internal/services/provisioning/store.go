package provisioning

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

// GetTenant implements Store
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return s.tenants.Get(ctx, tenantID)
}

// GetBranch implements Store
func (s *PostgresStore) GetBranch(ctx context.Context, tenantID, branchID string) (*branch.Branch, error) {
	return s.branches.Get(ctx, tenantID, branchID)
}

// CommitInitialBranch inserts the branch row and sets the tenant's default
// branch in one transaction
func (s *PostgresStore) CommitInitialBranch(ctx context.Context, t *tenant.Tenant, b *branch.Branch) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.branches.InsertTx(ctx, tx, b); err != nil {
		return err
	}
	if err := s.tenants.SetDefaultBranchTx(ctx, tx, t.ID, b.ID, b.BranchNumber, t.Version, b.CreatedBy); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CommitAdditionalBranch inserts the branch row and advances the tenant's
// branch counter in one transaction
func (s *PostgresStore) CommitAdditionalBranch(ctx context.Context, t *tenant.Tenant, b *branch.Branch) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.branches.InsertTx(ctx, tx, b); err != nil {
		return err
	}
	if err := s.tenants.BumpBranchCounterTx(ctx, tx, t.ID, b.BranchNumber, t.Version, b.CreatedBy); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteBranch drops the branch's schema and deletes its row in one
// transaction. Postgres DDL is transactional, so a failed row delete also
// rolls the drop back.
func (s *PostgresStore) DeleteBranch(ctx context.Context, b *branch.Branch) error {
	if err := schema.ValidateSchemaName(b.SchemaName); err != nil {
		return fmt.Errorf("refusing to delete branch: %w", err)
	}
	id, err := schema.Quote(b.SchemaName)
	if err != nil {
		return fmt.Errorf("refusing to delete branch: %w", err)
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schema.DropSchemaStatement(id)); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", b.SchemaName, err)
	}
	if err := s.branches.DeleteTx(ctx, tx, b.TenantID, b.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
