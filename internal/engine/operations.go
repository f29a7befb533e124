package engine

import (
	"context"
	"time"

	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/internal/services/clone"
	"github.com/metahubco/metahub-core/internal/services/migration"
	"github.com/metahubco/metahub-core/internal/services/provisioning"
	"github.com/metahubco/metahub-core/internal/services/tenant"
)

// CreateTenant creates a new tenant's metadata row. Its first branch is
// provisioned separately through CreateInitialBranch.
func (e *Engine) CreateTenant(ctx context.Context, name, description, createdBy string) (*tenant.Tenant, error) {
	t, err := e.tenants.Create(ctx, name, description, createdBy)
	e.trackOperation(err)
	return t, err
}

// GetTenant retrieves a tenant by ID
func (e *Engine) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	return e.tenants.Get(ctx, tenantID)
}

// CreateInitialBranch provisions branch number 1 for a tenant
func (e *Engine) CreateInitialBranch(ctx context.Context, tenantID, name, description, createdBy string) (*branch.Branch, error) {
	b, err := e.provisioning.CreateInitialBranch(ctx, tenantID, name, description, createdBy)
	e.trackOperation(err)
	return b, err
}

// CreateBranch creates an additional branch, cloned from a source branch or
// started empty
func (e *Engine) CreateBranch(ctx context.Context, tenantID, createdBy string, opts provisioning.CreateBranchOptions) (*branch.Branch, error) {
	b, err := e.provisioning.CreateBranch(ctx, tenantID, createdBy, opts)
	e.trackOperation(err)
	return b, err
}

// DeleteBranch removes one branch and its schema
func (e *Engine) DeleteBranch(ctx context.Context, tenantID, branchID string) error {
	err := e.provisioning.DeleteBranch(ctx, tenantID, branchID)
	e.trackOperation(err)
	return err
}

// LookupBranchSchema resolves a branch's schema name through the
// process-local cache
func (e *Engine) LookupBranchSchema(ctx context.Context, tenantID, branchID string) (string, error) {
	if name, ok := e.schemaCache.Get(tenantID, branchID); ok {
		return name, nil
	}

	b, err := e.branches.Get(ctx, tenantID, branchID)
	if err != nil {
		return "", err
	}

	e.schemaCache.Put(tenantID, branchID, b.SchemaName)
	return b.SchemaName, nil
}

// CloneTenant clones a tenant into a new one
func (e *Engine) CloneTenant(ctx context.Context, sourceTenantID, actingUserID string, opts clone.Options) (*tenant.Tenant, error) {
	t, err := e.cloning.CloneTenant(ctx, sourceTenantID, actingUserID, opts)
	e.trackOperation(err)
	return t, err
}

// DeleteTenant removes a tenant, all of its branch schemas and its metadata
func (e *Engine) DeleteTenant(ctx context.Context, tenantID, actingUserID string) error {
	err := e.deletion.DeleteTenant(ctx, tenantID, actingUserID)
	e.trackOperation(err)
	return err
}

// PlanMigrations computes a branch's pending structure and template upgrades
func (e *Engine) PlanMigrations(ctx context.Context, branchID string) (*migration.PlanResult, error) {
	p, err := e.migrations.Plan(ctx, branchID)
	e.trackOperation(err)
	return p, err
}

// ApplyMigrations applies a branch's pending migrations
func (e *Engine) ApplyMigrations(ctx context.Context, branchID string, opts migration.ApplyOptions) (*migration.Summary, error) {
	s, err := e.migrations.Apply(ctx, branchID, opts)
	e.trackOperation(err)
	return s, err
}

// ReconcileOrphanSchemas sweeps schemas left behind by a crash inside a
// clone's compensation window
func (e *Engine) ReconcileOrphanSchemas(ctx context.Context, grace time.Duration) ([]string, error) {
	dropped, err := e.reconciler.Sweep(ctx, grace)
	e.trackOperation(err)
	return dropped, err
}
