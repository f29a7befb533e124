package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// ErrNotFound is returned when a membership does not exist
var ErrNotFound = errors.New("membership not found")

// Membership roles
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Membership ties a user to a tenant. ActiveBranchID, when set, references
// a branch of the same tenant.
type Membership struct {
	TenantID       string
	UserID         string
	Role           string
	ActiveBranchID *string
	Created        time.Time
	Updated        time.Time
}

// Service handles membership metadata operations
type Service struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewService creates a new membership service
func NewService(db *database.PostgreSQL, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a membership by tenant and user
func (s *Service) Get(ctx context.Context, tenantID, userID string) (*Membership, error) {
	query := `
		SELECT tenant_id, user_id, role, active_branch_id, created, updated
		FROM memberships
		WHERE tenant_id = $1 AND user_id = $2
	`

	var m Membership
	err := s.db.Pool().QueryRow(ctx, query, tenantID, userID).Scan(
		&m.TenantID,
		&m.UserID,
		&m.Role,
		&m.ActiveBranchID,
		&m.Created,
		&m.Updated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Errorf("Failed to get membership: %v", err)
		return nil, err
	}

	return &m, nil
}

// ListByTenant retrieves all memberships of a tenant
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]*Membership, error) {
	query := `
		SELECT tenant_id, user_id, role, active_branch_id, created, updated
		FROM memberships
		WHERE tenant_id = $1
		ORDER BY user_id
	`

	rows, err := s.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		var m Membership
		err := rows.Scan(&m.TenantID, &m.UserID, &m.Role, &m.ActiveBranchID, &m.Created, &m.Updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memberships: %w", err)
	}

	return memberships, nil
}

// InsertTx inserts a membership row inside an existing transaction
func (s *Service) InsertTx(ctx context.Context, tx pgx.Tx, m *Membership) error {
	query := `
		INSERT INTO memberships (tenant_id, user_id, role, active_branch_id)
		VALUES ($1, $2, $3, $4)
	`
	_, err := tx.Exec(ctx, query, m.TenantID, m.UserID, m.Role, m.ActiveBranchID)
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return nil
}
