// Package provisioning orchestrates creation and deletion of individual
// branches: the first branch of a new tenant, additional branches cloned
// from a source branch or started empty, and single-branch removal.
package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/metahubco/metahub-core/internal/cache"
	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/internal/services/tenant"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// ErrProvisioningConflict is returned when a second concurrent provisioning
// attempt races an in-flight one for the same tenant. It maps to a
// client-retriable conflict.
var ErrProvisioningConflict = errors.New("branch provisioning already in flight for tenant")

// ErrAlreadyProvisioned is returned when the tenant already has its initial branch
var ErrAlreadyProvisioned = errors.New("tenant already has an initial branch")

// ErrNotProvisioned is returned when an operation requires the tenant's
// initial branch to exist
var ErrNotProvisioned = errors.New("tenant has no initial branch")

// ErrDefaultBranch is returned when deleting the tenant's default branch
var ErrDefaultBranch = errors.New("cannot delete the tenant's default branch")

// SchemaCloner creates physical branch schemas
type SchemaCloner interface {
	Clone(ctx context.Context, source, target schema.SafeIdentifier, opts schema.CloneOptions) error
	CreateEmpty(ctx context.Context, target schema.SafeIdentifier) error
}

// SchemaDestroyer drops physical branch schemas
type SchemaDestroyer interface {
	Drop(ctx context.Context, name string) error
}

// Store is the metadata side of branch provisioning. Each commit method
// runs in one transaction.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error)
	GetBranch(ctx context.Context, tenantID, branchID string) (*branch.Branch, error)
	CommitInitialBranch(ctx context.Context, t *tenant.Tenant, b *branch.Branch) error
	CommitAdditionalBranch(ctx context.Context, t *tenant.Tenant, b *branch.Branch) error
	DeleteBranch(ctx context.Context, b *branch.Branch) error
}

// CreateBranchOptions controls additional-branch creation
type CreateBranchOptions struct {
	Name        string
	Description string
	// SourceBranchID selects the branch to clone from; empty starts an
	// empty branch.
	SourceBranchID string
	// CopyData also copies the source branch's rows, not just structure
	CopyData bool
}

// Service orchestrates branch provisioning
type Service struct {
	store     Store
	cloner    SchemaCloner
	destroyer SchemaDestroyer
	cache     cache.Invalidator
	logger    *logger.Logger
	locks     *tenantLocks
}

// NewService creates a new provisioning service
func NewService(store Store, cloner SchemaCloner, destroyer SchemaDestroyer, invalidator cache.Invalidator, logger *logger.Logger) *Service {
	return &Service{
		store:     store,
		cloner:    cloner,
		destroyer: destroyer,
		cache:     invalidator,
		logger:    logger,
		locks:     newTenantLocks(),
	}
}

// CreateInitialBranch creates branch number 1 for a tenant that has none
// yet: allocate the schema name, create the empty schema, then in one
// metadata transaction insert the branch row and set the tenant's default
// branch. Only one initial-branch creation may be in flight per tenant.
func (s *Service) CreateInitialBranch(ctx context.Context, tenantID, name, description, createdBy string) (*branch.Branch, error) {
	if !s.locks.acquire(tenantID) {
		return nil, ErrProvisioningConflict
	}
	defer s.locks.release(tenantID)

	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.DefaultBranchID != nil {
		return nil, ErrAlreadyProvisioned
	}

	schemaName, err := schema.Allocate(t.ID, 1)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Provisioning initial branch for tenant %s with schema %s", t.ID, schemaName)

	if err := s.cloner.CreateEmpty(ctx, schemaName); err != nil {
		return nil, fmt.Errorf("failed to create initial branch schema: %w", err)
	}

	b := &branch.Branch{
		ID:           uuid.NewString(),
		TenantID:     t.ID,
		BranchNumber: 1,
		SchemaName:   schemaName.String(),
		Name:         name,
		Description:  description,
		CreatedBy:    createdBy,
	}

	if err := s.store.CommitInitialBranch(ctx, t, b); err != nil {
		s.compensateSchema(ctx, schemaName.String())
		return nil, err
	}

	return b, nil
}

// CreateBranch creates an additional branch for an already provisioned
// tenant, cloning a chosen source branch or starting empty. The schema name
// derives from the tenant's next branch number; the metadata transaction
// advances the counter under the tenant's optimistic version check.
func (s *Service) CreateBranch(ctx context.Context, tenantID, createdBy string, opts CreateBranchOptions) (*branch.Branch, error) {
	if !s.locks.acquire(tenantID) {
		return nil, ErrProvisioningConflict
	}
	defer s.locks.release(tenantID)

	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.DefaultBranchID == nil {
		return nil, ErrNotProvisioned
	}

	number := t.LastBranchNumber + 1
	schemaName, err := schema.Allocate(t.ID, number)
	if err != nil {
		return nil, err
	}

	b := &branch.Branch{
		ID:           uuid.NewString(),
		TenantID:     t.ID,
		BranchNumber: number,
		SchemaName:   schemaName.String(),
		Name:         opts.Name,
		Description:  opts.Description,
		CreatedBy:    createdBy,
	}

	if opts.SourceBranchID != "" {
		src, err := s.store.GetBranch(ctx, t.ID, opts.SourceBranchID)
		if err != nil {
			return nil, err
		}
		if err := schema.ValidateSchemaName(src.SchemaName); err != nil {
			return nil, err
		}
		srcSchema, err := schema.Quote(src.SchemaName)
		if err != nil {
			return nil, err
		}

		s.logger.Infof("Creating branch %d for tenant %s from source branch %s", number, t.ID, src.ID)

		cloneOpts := schema.CloneOptions{
			DropTargetIfExists: true,
			CreateTarget:       true,
			CopyData:           opts.CopyData,
		}
		if err := s.cloner.Clone(ctx, srcSchema, schemaName, cloneOpts); err != nil {
			return nil, fmt.Errorf("failed to clone branch schema: %w", err)
		}

		b.SourceBranchID = &src.ID
		b.StructureVersion = src.StructureVersion
		b.TemplateVersionLabel = src.TemplateVersionLabel
	} else {
		s.logger.Infof("Creating empty branch %d for tenant %s", number, t.ID)

		if err := s.cloner.CreateEmpty(ctx, schemaName); err != nil {
			return nil, fmt.Errorf("failed to create branch schema: %w", err)
		}
	}

	if err := s.store.CommitAdditionalBranch(ctx, t, b); err != nil {
		s.compensateSchema(ctx, schemaName.String())
		return nil, err
	}

	return b, nil
}

// DeleteBranch drops one branch's schema and metadata row. The tenant's
// default branch cannot be deleted; every schema name passes the full
// validation set before any drop is issued.
func (s *Service) DeleteBranch(ctx context.Context, tenantID, branchID string) error {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	b, err := s.store.GetBranch(ctx, tenantID, branchID)
	if err != nil {
		return err
	}
	if t.DefaultBranchID != nil && *t.DefaultBranchID == b.ID {
		return ErrDefaultBranch
	}

	if err := schema.ValidateSchemaName(b.SchemaName); err != nil {
		return err
	}

	s.logger.Infof("Deleting branch %s (schema %s) of tenant %s", b.ID, b.SchemaName, t.ID)

	if err := s.store.DeleteBranch(ctx, b); err != nil {
		return err
	}

	if err := s.cache.Invalidate(ctx, tenantID); err != nil {
		s.logger.Warnf("Failed to invalidate cache for tenant %s: %v", tenantID, err)
	}

	return nil
}

// compensateSchema drops a schema created earlier in a failed operation.
// Best-effort: failures are logged and never mask the original error.
func (s *Service) compensateSchema(ctx context.Context, name string) {
	if err := s.destroyer.Drop(ctx, name); err != nil {
		s.logger.Errorf("Compensation drop of schema %s failed: %v", name, err)
	}
}
