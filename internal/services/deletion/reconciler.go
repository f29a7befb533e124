package deletion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// SchemaDestroyer drops orphaned schemas
type SchemaDestroyer interface {
	Drop(ctx context.Context, name string) error
}

// Reconciler sweeps physical schemas that match the tenant naming
// convention but are not referenced by any committed branch row. Such
// orphans arise when a process dies between the physical and metadata
// phases of a clone. Postgres does not record schema creation time, so a
// candidate is only dropped after it has stayed orphaned for a full grace
// period across sweeps of the same process.
type Reconciler struct {
	db        *database.PostgreSQL
	destroyer SchemaDestroyer
	logger    *logger.Logger

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

// NewReconciler creates a new orphan schema reconciler
func NewReconciler(db *database.PostgreSQL, destroyer SchemaDestroyer, logger *logger.Logger) *Reconciler {
	return &Reconciler{
		db:        db,
		destroyer: destroyer,
		logger:    logger,
		firstSeen: make(map[string]time.Time),
	}
}

// Sweep finds orphaned tenant schemas and drops those that have remained
// orphaned for at least the grace period. It returns the names dropped.
func (r *Reconciler) Sweep(ctx context.Context, grace time.Duration) ([]string, error) {
	candidates, err := r.listOrphans(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	orphaned := make(map[string]struct{}, len(candidates))
	var dropped []string

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range candidates {
		orphaned[name] = struct{}{}

		seen, ok := r.firstSeen[name]
		if !ok {
			r.firstSeen[name] = now
			continue
		}
		if now.Sub(seen) < grace {
			continue
		}

		r.logger.Warnf("Dropping orphaned schema %s (unreferenced since %s)", name, seen.Format(time.RFC3339))
		if err := r.destroyer.Drop(ctx, name); err != nil {
			r.logger.Errorf("Failed to drop orphaned schema %s: %v", name, err)
			continue
		}
		delete(r.firstSeen, name)
		dropped = append(dropped, name)
	}

	// A schema that reappeared in metadata, or was dropped elsewhere, is
	// no longer a candidate.
	for name := range r.firstSeen {
		if _, still := orphaned[name]; !still {
			delete(r.firstSeen, name)
		}
	}

	return dropped, nil
}

// listOrphans returns schemas matching the naming convention that no branch
// row references
func (r *Reconciler) listOrphans(ctx context.Context) ([]string, error) {
	query := `
		SELECT s.schema_name
		FROM information_schema.schemata s
		LEFT JOIN branches b ON b.schema_name = s.schema_name
		WHERE s.schema_name LIKE 'mhb\_%' AND b.branch_id IS NULL
		ORDER BY s.schema_name
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned schemas: %w", err)
	}
	defer rows.Close()

	var orphans []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan schema name: %w", err)
		}
		// The LIKE filter is coarse; only names matching the full runtime
		// shape are candidates.
		if schema.ValidateSchemaName(name) == nil {
			orphans = append(orphans, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read schema list: %w", err)
	}

	return orphans, nil
}
