package schema

import (
	"context"
	"fmt"

	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// CloneOptions controls how a schema clone is performed
type CloneOptions struct {
	// DropTargetIfExists drops a pre-existing target schema before cloning,
	// so a failed earlier attempt can never leak into this one.
	DropTargetIfExists bool
	// CreateTarget creates the target schema before copying structure
	CreateTarget bool
	// CopyData copies every table's rows in addition to its structure
	CopyData bool
}

// Cloner physically duplicates one schema's structure, and optionally its
// data, into a new target schema. Schema-level DDL commits independently of
// row-level transactions, so a successful Clone is an irreversible side
// effect: orchestrators must compensate with Destroyer.Drop when a later
// step fails.
type Cloner struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewCloner creates a new schema cloner
func NewCloner(db *database.PostgreSQL, logger *logger.Logger) *Cloner {
	return &Cloner{
		db:     db,
		logger: logger,
	}
}

// Clone copies the source schema into the target schema. Tables are cloned
// with LIKE ... INCLUDING ALL, which carries columns, defaults, constraints
// and indexes; branch schemas contain only tables created by this engine's
// migrations, so table-level cloning is structurally complete.
func (c *Cloner) Clone(ctx context.Context, source, target SafeIdentifier, opts CloneOptions) error {
	if source.IsZero() || target.IsZero() {
		return fmt.Errorf("clone requires validated source and target schema names")
	}

	c.logger.Infof("Cloning schema %s into %s (copyData=%v)", source, target, opts.CopyData)

	pool := c.db.Pool()

	if opts.DropTargetIfExists {
		if _, err := pool.Exec(ctx, DropSchemaStatement(target)); err != nil {
			return fmt.Errorf("failed to drop existing target schema %s: %w", target, err)
		}
	}

	if opts.CreateTarget {
		if _, err := pool.Exec(ctx, createSchemaStatement(target)); err != nil {
			return fmt.Errorf("failed to create target schema %s: %w", target, err)
		}
	}

	tables, err := c.listTables(ctx, source)
	if err != nil {
		return err
	}

	for _, table := range tables {
		if _, err := pool.Exec(ctx, cloneTableStatement(source, target, table)); err != nil {
			return fmt.Errorf("failed to clone table %s.%s: %w", source, table, err)
		}

		if opts.CopyData {
			if _, err := pool.Exec(ctx, copyTableDataStatement(source, target, table)); err != nil {
				return fmt.Errorf("failed to copy data for table %s.%s: %w", source, table, err)
			}
		}
	}

	c.logger.Infof("Cloned schema %s into %s (%d tables)", source, target, len(tables))
	return nil
}

// CreateEmpty creates a new empty schema, clearing any leftover target from
// a previously failed attempt first.
func (c *Cloner) CreateEmpty(ctx context.Context, target SafeIdentifier) error {
	if target.IsZero() {
		return fmt.Errorf("create requires a validated target schema name")
	}

	c.logger.Infof("Creating empty schema %s", target)

	pool := c.db.Pool()
	if _, err := pool.Exec(ctx, DropSchemaStatement(target)); err != nil {
		return fmt.Errorf("failed to drop existing target schema %s: %w", target, err)
	}
	if _, err := pool.Exec(ctx, createSchemaStatement(target)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", target, err)
	}
	return nil
}

// listTables enumerates the base tables of a schema in a stable order.
// Table names read back from the catalog still pass through Quote before
// they are interpolated into DDL.
func (c *Cloner) listTables(ctx context.Context, source SafeIdentifier) ([]SafeIdentifier, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := c.db.Pool().Query(ctx, query, source.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of schema %s: %w", source, err)
	}
	defer rows.Close()

	var tables []SafeIdentifier
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		table, err := Quote(name)
		if err != nil {
			return nil, fmt.Errorf("refusing to clone table with unsafe name: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table list: %w", err)
	}

	return tables, nil
}

func createSchemaStatement(target SafeIdentifier) string {
	return fmt.Sprintf("CREATE SCHEMA %s", target.Quoted())
}

// DropSchemaStatement builds the DROP statement for a validated schema
// name. No other place in the codebase assembles a DROP SCHEMA string.
func DropSchemaStatement(target SafeIdentifier) string {
	return fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", target.Quoted())
}

func cloneTableStatement(source, target, table SafeIdentifier) string {
	return fmt.Sprintf("CREATE TABLE %s.%s (LIKE %s.%s INCLUDING ALL)",
		target.Quoted(), table.Quoted(), source.Quoted(), table.Quoted())
}

func copyTableDataStatement(source, target, table SafeIdentifier) string {
	return fmt.Sprintf("INSERT INTO %s.%s SELECT * FROM %s.%s",
		target.Quoted(), table.Quoted(), source.Quoted(), table.Quoted())
}
