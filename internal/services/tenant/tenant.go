package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// ErrNotFound is returned when a tenant does not exist
var ErrNotFound = errors.New("tenant not found")

// VersionConflictError reports an optimistic-lock mismatch on a tenant write.
// It carries both versions so the caller can merge or retry; it is never
// retried automatically.
type VersionConflictError struct {
	TenantID string
	Expected int
	Actual   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("tenant %s version conflict: expected %d, actual %d", e.TenantID, e.Expected, e.Actual)
}

// Tenant represents a metahub in the system
type Tenant struct {
	ID               string
	Name             string
	Description      string
	DefaultBranchID  *string
	LastBranchNumber int
	Version          int
	CreatedBy        string
	UpdatedBy        string
	Created          time.Time
	Updated          time.Time
}

// Service handles tenant metadata operations
type Service struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewService creates a new tenant service
func NewService(db *database.PostgreSQL, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

const tenantColumns = `tenant_id, tenant_name, tenant_description, default_branch_id,
	       last_branch_number, version, created_by, updated_by, created, updated`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.DefaultBranchID,
		&t.LastBranchNumber,
		&t.Version,
		&t.CreatedBy,
		&t.UpdatedBy,
		&t.Created,
		&t.Updated,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create creates a new tenant row
func (s *Service) Create(ctx context.Context, name, description, createdBy string) (*Tenant, error) {
	s.logger.Infof("Creating tenant in database with name: %s", name)

	var nameExists bool
	err := s.db.Pool().QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM tenants WHERE tenant_name = $1)", name).Scan(&nameExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check tenant name existence: %w", err)
	}
	if nameExists {
		return nil, errors.New("tenant with this name already exists")
	}

	query := `
		INSERT INTO tenants (tenant_id, tenant_name, tenant_description, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING ` + tenantColumns

	t, err := scanTenant(s.db.Pool().QueryRow(ctx, query, uuid.NewString(), name, description, createdBy))
	if err != nil {
		s.logger.Errorf("Failed to create tenant: %v", err)
		return nil, err
	}

	return t, nil
}

// Get retrieves a tenant by ID
func (s *Service) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE tenant_id = $1`

	t, err := scanTenant(s.db.Pool().QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Errorf("Failed to get tenant: %v", err)
		return nil, err
	}

	return t, nil
}

// InsertTx inserts a fully populated tenant row inside an existing transaction
func (s *Service) InsertTx(ctx context.Context, tx pgx.Tx, t *Tenant) error {
	query := `
		INSERT INTO tenants (tenant_id, tenant_name, tenant_description, default_branch_id,
		                     last_branch_number, version, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		t.ID, t.Name, t.Description, t.DefaultBranchID,
		t.LastBranchNumber, t.Version, t.CreatedBy, t.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// SetDefaultBranchTx sets the tenant's default branch and branch counter
// inside an existing transaction, guarded by the optimistic version column.
func (s *Service) SetDefaultBranchTx(ctx context.Context, tx pgx.Tx, tenantID, branchID string, lastBranchNumber, expectedVersion int, updatedBy string) error {
	query := `
		UPDATE tenants
		SET default_branch_id = $1, last_branch_number = $2, version = version + 1,
		    updated_by = $3, updated = now()
		WHERE tenant_id = $4 AND version = $5
	`
	result, err := tx.Exec(ctx, query, branchID, lastBranchNumber, updatedBy, tenantID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update tenant default branch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return s.versionConflict(ctx, tx, tenantID, expectedVersion)
	}
	return nil
}

// BumpBranchCounterTx advances the tenant's monotonic branch counter inside
// an existing transaction, guarded by the optimistic version column. The
// counter never decreases.
func (s *Service) BumpBranchCounterTx(ctx context.Context, tx pgx.Tx, tenantID string, lastBranchNumber, expectedVersion int, updatedBy string) error {
	query := `
		UPDATE tenants
		SET last_branch_number = GREATEST(last_branch_number, $1), version = version + 1,
		    updated_by = $2, updated = now()
		WHERE tenant_id = $3 AND version = $4
	`
	result, err := tx.Exec(ctx, query, lastBranchNumber, updatedBy, tenantID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update tenant branch counter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return s.versionConflict(ctx, tx, tenantID, expectedVersion)
	}
	return nil
}

// DeleteTx deletes the tenant row inside an existing transaction; branch,
// membership and migration rows cascade at the store level.
func (s *Service) DeleteTx(ctx context.Context, tx pgx.Tx, tenantID string) error {
	result, err := tx.Exec(ctx, "DELETE FROM tenants WHERE tenant_id = $1", tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) versionConflict(ctx context.Context, tx pgx.Tx, tenantID string, expected int) error {
	var actual int
	err := tx.QueryRow(ctx, "SELECT version FROM tenants WHERE tenant_id = $1", tenantID).Scan(&actual)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read tenant version: %w", err)
	}
	return &VersionConflictError{TenantID: tenantID, Expected: expected, Actual: actual}
}
