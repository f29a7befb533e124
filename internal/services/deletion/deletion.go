// Package deletion removes whole tenants: every branch schema is validated,
// then dropped, and the tenant's metadata row deleted in one transaction.
// It also hosts the out-of-band reconciler that sweeps orphaned schemas left
// behind by a crash inside a clone's compensation window.
package deletion

import (
	"context"

	"github.com/metahubco/metahub-core/internal/cache"
	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// Store is the metadata side of tenant deletion
type Store interface {
	ListBranches(ctx context.Context, tenantID string) ([]*branch.Branch, error)
	// DeleteTenant drops the given schemas and deletes the tenant row in
	// one transaction; branch and membership rows cascade.
	DeleteTenant(ctx context.Context, tenantID string, schemas []schema.SafeIdentifier) error
}

// Service orchestrates tenant deletion
type Service struct {
	store  Store
	cache  cache.Invalidator
	logger *logger.Logger
}

// NewService creates a new tenant deletion service
func NewService(store Store, invalidator cache.Invalidator, logger *logger.Logger) *Service {
	return &Service{
		store:  store,
		cache:  invalidator,
		logger: logger,
	}
}

// DeleteTenant deletes a tenant, all of its branch schemas and all of its
// metadata. Every schema name must pass the full validation set before any
// drop is issued; a single bad name rejects the whole operation. On commit
// the tenant's cached lookups are invalidated so no stale lookup can
// resolve a dropped schema. Authorization is the caller's concern.
func (s *Service) DeleteTenant(ctx context.Context, tenantID, actingUserID string) error {
	branches, err := s.store.ListBranches(ctx, tenantID)
	if err != nil {
		return err
	}

	schemas := make([]schema.SafeIdentifier, 0, len(branches))
	for _, b := range branches {
		if err := schema.ValidateSchemaName(b.SchemaName); err != nil {
			return err
		}
		id, err := schema.Quote(b.SchemaName)
		if err != nil {
			return err
		}
		schemas = append(schemas, id)
	}

	s.logger.Infof("Deleting tenant %s with %d branch schemas (requested by %s)", tenantID, len(schemas), actingUserID)

	if err := s.store.DeleteTenant(ctx, tenantID, schemas); err != nil {
		return err
	}

	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.logger.Warnf("Failed to invalidate cache for tenant %s: %v", tenantID, err)
	}

	return nil
}
