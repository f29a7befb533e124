// Package clone orchestrates cloning an entire tenant into a new one:
// N sequential physical schema clones followed by one metadata transaction,
// with compensating schema drops when any step after the first clone fails.
// DDL and row DML cannot share one atomic unit across schema boundaries, so
// the two phases are stitched together with an explicit saga.
package clone

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/metahubco/metahub-core/internal/saga"
	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/internal/services/membership"
	"github.com/metahubco/metahub-core/internal/services/tenant"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// ErrSourceNotProvisioned is returned when the source tenant has no default branch
var ErrSourceNotProvisioned = errors.New("source tenant has no default branch")

// CloneFailureError wraps a physical clone failure. By the time it
// propagates, every schema created in the failed operation has been
// compensated (best-effort).
type CloneFailureError struct {
	Schema string
	Err    error
}

func (e *CloneFailureError) Error() string {
	return fmt.Sprintf("failed to clone into schema %s: %v", e.Schema, e.Err)
}

func (e *CloneFailureError) Unwrap() error { return e.Err }

// MetadataCommitError wraps a metadata-transaction failure that occurred
// after all schemas cloned successfully. Compensation is identical to
// CloneFailureError's.
type MetadataCommitError struct {
	Err error
}

func (e *MetadataCommitError) Error() string {
	return fmt.Sprintf("failed to commit clone metadata: %v", e.Err)
}

func (e *MetadataCommitError) Unwrap() error { return e.Err }

// Options controls a tenant clone
type Options struct {
	// Name and Description override the new tenant's fields; empty values
	// derive from the source tenant.
	Name        string
	Description string
	// CopyDefaultBranchOnly clones only the source's default branch
	// instead of every branch.
	CopyDefaultBranchOnly bool
	// CopyAccess also copies non-owner memberships, remapping each
	// member's active branch through the branch-id remapping table.
	CopyAccess bool
}

// SourceTenant is everything the clone needs to know about the source,
// loaded before any physical work. Branches are ordered by branch number.
type SourceTenant struct {
	Tenant      *tenant.Tenant
	Branches    []*branch.Branch
	Memberships []*membership.Membership
}

// Commit is the fully computed metadata of the new tenant, written in one
// transaction.
type Commit struct {
	Tenant      *tenant.Tenant
	Branches    []*branch.Branch
	Memberships []*membership.Membership
}

// Store is the metadata side of tenant cloning
type Store interface {
	LoadSource(ctx context.Context, tenantID string) (*SourceTenant, error)
	CommitClone(ctx context.Context, commit *Commit) error
}

// SchemaCloner physically duplicates schemas
type SchemaCloner interface {
	Clone(ctx context.Context, source, target schema.SafeIdentifier, opts schema.CloneOptions) error
}

// SchemaDestroyer drops schemas created by a failed clone
type SchemaDestroyer interface {
	Drop(ctx context.Context, name string) error
}

// Service orchestrates tenant cloning
type Service struct {
	store     Store
	cloner    SchemaCloner
	destroyer SchemaDestroyer
	logger    *logger.Logger
}

// NewService creates a new tenant cloning service
func NewService(store Store, cloner SchemaCloner, destroyer SchemaDestroyer, logger *logger.Logger) *Service {
	return &Service{
		store:     store,
		cloner:    cloner,
		destroyer: destroyer,
		logger:    logger,
	}
}

type planEntry struct {
	source       *branch.Branch
	sourceSchema schema.SafeIdentifier
	newBranchID  string
	branchNumber int
	schemaName   schema.SafeIdentifier
}

// CloneTenant clones a tenant's branches into a new tenant. On any returned
// error, no metadata references a schema that does not exist and no orphan
// schema survives that is not referenced by committed metadata; orphans from
// a crash between the phases are swept by the out-of-band reconciler.
func (s *Service) CloneTenant(ctx context.Context, sourceTenantID, actingUserID string, opts Options) (*tenant.Tenant, error) {
	src, err := s.store.LoadSource(ctx, sourceTenantID)
	if err != nil {
		return nil, err
	}
	if src.Tenant.DefaultBranchID == nil {
		return nil, ErrSourceNotProvisioned
	}

	selected, err := selectBranches(src, opts.CopyDefaultBranchOnly)
	if err != nil {
		return nil, err
	}

	newTenantID := uuid.NewString()

	// Every name is computed and validated before any physical work; a
	// single invalid name aborts the whole operation untouched.
	plan, err := buildPlan(newTenantID, selected)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Cloning tenant %s into %s (%d branches)", sourceTenantID, newTenantID, len(plan))

	sg := saga.New(s.logger)
	for _, entry := range plan {
		cloneOpts := schema.CloneOptions{
			DropTargetIfExists: true,
			CreateTarget:       true,
			CopyData:           true,
		}
		if err := s.cloner.Clone(ctx, entry.sourceSchema, entry.schemaName, cloneOpts); err != nil {
			sg.Compensate(ctx)
			return nil, &CloneFailureError{Schema: entry.schemaName.String(), Err: err}
		}

		created := entry.schemaName.String()
		sg.Add("drop schema "+created, func(ctx context.Context) error {
			return s.destroyer.Drop(ctx, created)
		})
	}

	commit := buildCommit(src, plan, newTenantID, actingUserID, opts)

	if err := s.store.CommitClone(ctx, commit); err != nil {
		sg.Compensate(ctx)
		return nil, &MetadataCommitError{Err: err}
	}

	s.logger.Infof("Cloned tenant %s into %s", sourceTenantID, newTenantID)
	return commit.Tenant, nil
}

// selectBranches picks the clone set in source branch-number order
func selectBranches(src *SourceTenant, defaultOnly bool) ([]*branch.Branch, error) {
	if !defaultOnly {
		if len(src.Branches) == 0 {
			return nil, fmt.Errorf("source tenant %s has no branches", src.Tenant.ID)
		}
		return src.Branches, nil
	}

	for _, b := range src.Branches {
		if b.ID == *src.Tenant.DefaultBranchID {
			return []*branch.Branch{b}, nil
		}
	}
	return nil, fmt.Errorf("source tenant %s default branch %s not found", src.Tenant.ID, *src.Tenant.DefaultBranchID)
}

// buildPlan computes and validates every target schema name up front. The
// source schema names stored in metadata are re-validated as well before
// they are interpolated into clone DDL.
func buildPlan(newTenantID string, selected []*branch.Branch) ([]planEntry, error) {
	plan := make([]planEntry, 0, len(selected))
	for i, b := range selected {
		if err := schema.ValidateSchemaName(b.SchemaName); err != nil {
			return nil, fmt.Errorf("source branch %s has invalid schema name: %w", b.ID, err)
		}
		sourceSchema, err := schema.Quote(b.SchemaName)
		if err != nil {
			return nil, err
		}

		name, err := schema.Allocate(newTenantID, i+1)
		if err != nil {
			return nil, err
		}

		plan = append(plan, planEntry{
			source:       b,
			sourceSchema: sourceSchema,
			newBranchID:  uuid.NewString(),
			branchNumber: i + 1,
			schemaName:   name,
		})
	}
	return plan, nil
}

// buildCommit assembles the new tenant's metadata with all branch lineage
// remapped through the old-to-new branch-id map. A source branch whose own
// source was excluded from the clone set keeps a nil lineage pointer rather
// than pointing back into the original tenant.
func buildCommit(src *SourceTenant, plan []planEntry, newTenantID, actingUserID string, opts Options) *Commit {
	idMap := make(map[string]string, len(plan))
	for _, entry := range plan {
		idMap[entry.source.ID] = entry.newBranchID
	}

	remap := func(oldID *string) *string {
		if oldID == nil {
			return nil
		}
		if newID, ok := idMap[*oldID]; ok {
			return &newID
		}
		return nil
	}

	branches := make([]*branch.Branch, 0, len(plan))
	for _, entry := range plan {
		branches = append(branches, &branch.Branch{
			ID:                   entry.newBranchID,
			TenantID:             newTenantID,
			SourceBranchID:       remap(entry.source.SourceBranchID),
			BranchNumber:         entry.branchNumber,
			SchemaName:           entry.schemaName.String(),
			Name:                 entry.source.Name,
			Description:          entry.source.Description,
			StructureVersion:     entry.source.StructureVersion,
			TemplateVersionLabel: entry.source.TemplateVersionLabel,
			CreatedBy:            actingUserID,
		})
	}

	defaultBranchID := remap(src.Tenant.DefaultBranchID)

	name := opts.Name
	if name == "" {
		name = src.Tenant.Name + " (clone)"
	}
	description := opts.Description
	if description == "" {
		description = src.Tenant.Description
	}

	newTenant := &tenant.Tenant{
		ID:               newTenantID,
		Name:             name,
		Description:      description,
		DefaultBranchID:  defaultBranchID,
		LastBranchNumber: len(plan),
		Version:          1,
		CreatedBy:        actingUserID,
		UpdatedBy:        actingUserID,
	}

	memberships := []*membership.Membership{{
		TenantID:       newTenantID,
		UserID:         actingUserID,
		Role:           membership.RoleOwner,
		ActiveBranchID: defaultBranchID,
	}}

	if opts.CopyAccess {
		for _, m := range src.Memberships {
			// The acting user already owns the clone; source owners are
			// not carried over.
			if m.UserID == actingUserID || m.Role == membership.RoleOwner {
				continue
			}
			memberships = append(memberships, &membership.Membership{
				TenantID:       newTenantID,
				UserID:         m.UserID,
				Role:           m.Role,
				ActiveBranchID: remap(m.ActiveBranchID),
			})
		}
	}

	return &Commit{
		Tenant:      newTenant,
		Branches:    branches,
		Memberships: memberships,
	}
}
