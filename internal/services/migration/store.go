package migration

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// listRecordsQuery orders by the insertion sequence: applied_at alone
// cannot break ties between records committed within one timestamp tick.
const listRecordsQuery = `
	SELECT migration_id, branch_id, migration_name, from_version, to_version, kind, template_version_label, applied_at
	FROM branch_migrations
	WHERE branch_id = $1
	ORDER BY applied_seq
`

// PostgresStore is the pgx-backed migration store
type PostgresStore struct {
	db       *database.PostgreSQL
	branches *branch.Service
	logger   *logger.Logger
}

// NewPostgresStore creates a migration store over the metadata database
func NewPostgresStore(db *database.PostgreSQL, branches *branch.Service, logger *logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:       db,
		branches: branches,
		logger:   logger,
	}
}

// GetBranch retrieves a branch by ID
func (s *PostgresStore) GetBranch(ctx context.Context, branchID string) (*branch.Branch, error) {
	return s.branches.GetByID(ctx, branchID)
}

// HasHistory reports whether a branch has any migration records
func (s *PostgresStore) HasHistory(ctx context.Context, branchID string) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM branch_migrations WHERE branch_id = $1)", branchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check migration history: %w", err)
	}
	return exists, nil
}

// ApplyStep runs one migration step in its own transaction: the statements,
// the branch version bump and the audit record commit or roll back together.
func (s *PostgresStore) ApplyStep(ctx context.Context, step Step) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range step.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply statement: %w", err)
		}
	}

	if err := s.branches.SetVersionsTx(ctx, tx, step.BranchID, step.StructureVersion, step.TemplateVersionLabel); err != nil {
		return err
	}

	if err := s.insertRecordTx(ctx, tx, step.Record); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) insertRecordTx(ctx context.Context, tx pgx.Tx, r *Record) error {
	query := `
		INSERT INTO branch_migrations (migration_id, branch_id, migration_name, from_version, to_version, kind, template_version_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query, r.ID, r.BranchID, r.Name, r.FromVersion, r.ToVersion, r.Kind, r.TemplateVersionLabel)
	if err != nil {
		return fmt.Errorf("failed to insert migration record: %w", err)
	}
	return nil
}

// ListRecords returns a branch's migration records in applied order
func (s *PostgresStore) ListRecords(ctx context.Context, branchID string) ([]*Record, error) {
	rows, err := s.db.Pool().Query(ctx, listRecordsQuery, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(&r.ID, &r.BranchID, &r.Name, &r.FromVersion, &r.ToVersion, &r.Kind, &r.TemplateVersionLabel, &r.AppliedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migration records: %w", err)
	}

	return records, nil
}
