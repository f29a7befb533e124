package branch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// ErrNotFound is returned when a branch does not exist
var ErrNotFound = errors.New("branch not found")

// Branch represents a branch in the system. A branch row and its physical
// schema exist one-to-one in every committed state; SchemaName is immutable
// once assigned and always matches the deterministic derivation from
// (TenantID, BranchNumber).
type Branch struct {
	ID                   string
	TenantID             string
	SourceBranchID       *string
	BranchNumber         int
	SchemaName           string
	Name                 string
	Description          string
	StructureVersion     int
	TemplateVersionLabel *string
	CreatedBy            string
	Created              time.Time
	Updated              time.Time
}

// Service handles branch metadata operations
type Service struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewService creates a new branch service
func NewService(db *database.PostgreSQL, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

const branchColumns = `branch_id, tenant_id, source_branch_id, branch_number, schema_name,
	       branch_name, branch_description, structure_version, template_version_label,
	       created_by, created, updated`

func scanBranch(row pgx.Row) (*Branch, error) {
	var b Branch
	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.SourceBranchID,
		&b.BranchNumber,
		&b.SchemaName,
		&b.Name,
		&b.Description,
		&b.StructureVersion,
		&b.TemplateVersionLabel,
		&b.CreatedBy,
		&b.Created,
		&b.Updated,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Get retrieves a branch by ID
func (s *Service) Get(ctx context.Context, tenantID, branchID string) (*Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE tenant_id = $1 AND branch_id = $2`

	b, err := scanBranch(s.db.Pool().QueryRow(ctx, query, tenantID, branchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Errorf("Failed to get branch: %v", err)
		return nil, err
	}

	return b, nil
}

// GetByID retrieves a branch by ID alone, without the tenant scope
func (s *Service) GetByID(ctx context.Context, branchID string) (*Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE branch_id = $1`

	b, err := scanBranch(s.db.Pool().QueryRow(ctx, query, branchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Errorf("Failed to get branch: %v", err)
		return nil, err
	}

	return b, nil
}

// ListByTenant retrieves all branches of a tenant ordered by branch number
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]*Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE tenant_id = $1 ORDER BY branch_number`

	rows, err := s.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var branches []*Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read branches: %w", err)
	}

	return branches, nil
}

// InsertTx inserts a branch row inside an existing transaction
func (s *Service) InsertTx(ctx context.Context, tx pgx.Tx, b *Branch) error {
	query := `
		INSERT INTO branches (branch_id, tenant_id, source_branch_id, branch_number, schema_name,
		                      branch_name, branch_description, structure_version, template_version_label, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Exec(ctx, query,
		b.ID, b.TenantID, b.SourceBranchID, b.BranchNumber, b.SchemaName,
		b.Name, b.Description, b.StructureVersion, b.TemplateVersionLabel, b.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to insert branch: %w", err)
	}
	return nil
}

// DeleteTx deletes a branch row inside an existing transaction
func (s *Service) DeleteTx(ctx context.Context, tx pgx.Tx, tenantID, branchID string) error {
	result, err := tx.Exec(ctx, "DELETE FROM branches WHERE tenant_id = $1 AND branch_id = $2", tenantID, branchID)
	if err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVersionsTx records a branch's structure version and template label
// inside an existing transaction, after a migration step commits its DDL.
func (s *Service) SetVersionsTx(ctx context.Context, tx pgx.Tx, branchID string, structureVersion int, templateVersionLabel *string) error {
	query := `
		UPDATE branches
		SET structure_version = $1,
		    template_version_label = COALESCE($2, template_version_label),
		    updated = now()
		WHERE branch_id = $3
	`
	result, err := tx.Exec(ctx, query, structureVersion, templateVersionLabel, branchID)
	if err != nil {
		return fmt.Errorf("failed to update branch versions: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
