package schema

import (
	"context"
	"fmt"

	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// Destroyer drops tenant schemas. A name is only dropped after it has passed
// the identifier grammar, the tenant schema prefix check and the runtime
// shape check; the three checks are independent and all mandatory.
type Destroyer struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewDestroyer creates a new schema destroyer
func NewDestroyer(db *database.PostgreSQL, logger *logger.Logger) *Destroyer {
	return &Destroyer{
		db:     db,
		logger: logger,
	}
}

// Drop removes a schema and everything in it
func (d *Destroyer) Drop(ctx context.Context, name string) error {
	if err := ValidateSchemaName(name); err != nil {
		return fmt.Errorf("refusing to drop schema: %w", err)
	}

	id, err := Quote(name)
	if err != nil {
		return fmt.Errorf("refusing to drop schema: %w", err)
	}

	d.logger.Infof("Dropping schema %s", name)

	if _, err := d.db.Pool().Exec(ctx, DropSchemaStatement(id)); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", name, err)
	}

	return nil
}
