package clone

import (
	"context"
	"fmt"

	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/internal/services/membership"
	"github.com/metahubco/metahub-core/internal/services/tenant"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// PostgresStore is the pgx-backed Store implementation
type PostgresStore struct {
	db          *database.PostgreSQL
	tenants     *tenant.Service
	branches    *branch.Service
	memberships *membership.Service
	logger      *logger.Logger
}

// NewPostgresStore creates a Store over the metadata database
func NewPostgresStore(db *database.PostgreSQL, tenants *tenant.Service, branches *branch.Service, memberships *membership.Service, logger *logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:          db,
		tenants:     tenants,
		branches:    branches,
		memberships: memberships,
		logger:      logger,
	}
}

// LoadSource reads the source tenant with its branches and memberships
func (s *PostgresStore) LoadSource(ctx context.Context, tenantID string) (*SourceTenant, error) {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	branches, err := s.branches.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	memberships, err := s.memberships.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &SourceTenant{
		Tenant:      t,
		Branches:    branches,
		Memberships: memberships,
	}, nil
}

// CommitClone writes the new tenant, its branches and its memberships in a
// single transaction. Branch inserts preserve plan order, so every lineage
// pointer references a row inserted earlier in the same transaction.
func (s *PostgresStore) CommitClone(ctx context.Context, commit *Commit) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.tenants.InsertTx(ctx, tx, commit.Tenant); err != nil {
		return err
	}

	for _, b := range commit.Branches {
		if err := s.branches.InsertTx(ctx, tx, b); err != nil {
			return err
		}
	}

	for _, m := range commit.Memberships {
		if err := s.memberships.InsertTx(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
