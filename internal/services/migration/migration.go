// Package migration tracks and applies per-branch structure and template
// version drift. Structural migrations form an append-only, ordered
// sequence with no down-migrations; every applied step leaves exactly one
// immutable audit record.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// Migration record kinds
const (
	KindBaseline     = "baseline"
	KindIncremental  = "incremental"
	KindTemplateSeed = "template_seed"
)

// CleanupConfirm is the only cleanup mode that runs destructive cleanup
// statements; any other value skips them and performs additive changes only.
const CleanupConfirm = "confirm"

// MigrationStepError reports a single migration step that failed to apply.
// The branch remains at its last successfully recorded version; Apply can
// be retried once the underlying cause is fixed.
type MigrationStepError struct {
	Name        string
	FromVersion int
	ToVersion   int
	Err         error
}

func (e *MigrationStepError) Error() string {
	return fmt.Sprintf("migration %q (%d -> %d) failed: %v", e.Name, e.FromVersion, e.ToVersion, e.Err)
}

func (e *MigrationStepError) Unwrap() error { return e.Err }

// Record is one immutable migration audit row. Records for a branch are
// strictly ordered by insertion and by contiguous version ranges. A
// baseline record persists FromVersion 0 regardless of the branch's actual
// structure version at creation time; the stored value and the displayed
// value are the same.
type Record struct {
	ID                   string
	BranchID             string
	Name                 string
	FromVersion          int
	ToVersion            int
	Kind                 string
	TemplateVersionLabel *string
	AppliedAt            time.Time
}

// StructuralMigration upgrades a branch schema to one structure version
type StructuralMigration struct {
	// Version is the structure version this migration upgrades to
	Version int
	Name    string
	// Statements builds the DDL applied to the branch schema
	Statements func(target schema.SafeIdentifier) []string
	// Cleanup builds destructive statements removing objects this
	// migration supersedes; run only in cleanup mode "confirm".
	Cleanup func(target schema.SafeIdentifier) []string
}

// TemplateSeed applies one labelled generation of template catalog content
type TemplateSeed struct {
	Label      string
	Statements func(target schema.SafeIdentifier) []string
}

// PlanResult is the version drift of one branch
type PlanResult struct {
	BranchID                 string
	StructureVersion         int
	TemplateVersionLabel     *string
	StructureUpgradeRequired bool
	TemplateUpgradeRequired  bool
	PendingStructure         []string
	PendingTemplates         []string
}

// ApplyOptions controls a migration run
type ApplyOptions struct {
	DryRun      bool
	CleanupMode string
}

// AppliedMigration is one entry of an apply summary
type AppliedMigration struct {
	Name        string
	FromVersion int
	ToVersion   int
	Kind        string
}

// Summary reports what an Apply run did, or would do under DryRun
type Summary struct {
	BranchID             string
	Applied              []AppliedMigration
	StructureVersion     int
	TemplateVersionLabel *string
	DryRun               bool
}

// Step is one fully built migration step: the statements to run against
// the branch schema, the versions the branch is left at and the audit
// record. The store commits or rolls back all three together.
type Step struct {
	BranchID             string
	Statements           []string
	StructureVersion     int
	TemplateVersionLabel *string
	Record               *Record
}

// Store is the metadata side of migration runs. ApplyStep runs one step in
// one transaction.
type Store interface {
	GetBranch(ctx context.Context, branchID string) (*branch.Branch, error)
	HasHistory(ctx context.Context, branchID string) (bool, error)
	ApplyStep(ctx context.Context, step Step) error
	ListRecords(ctx context.Context, branchID string) ([]*Record, error)
}

// Service plans and applies branch migrations
type Service struct {
	store  Store
	logger *logger.Logger
}

// NewService creates a new migration service
func NewService(store Store, logger *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Plan computes a branch's version drift without writing anything
func (s *Service) Plan(ctx context.Context, branchID string) (*PlanResult, error) {
	b, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return planFor(b), nil
}

func planFor(b *branch.Branch) *PlanResult {
	pendingStructure := pendingStructural(b.StructureVersion)
	pendingTemplates := pendingSeeds(b.TemplateVersionLabel)

	result := &PlanResult{
		BranchID:                 b.ID,
		StructureVersion:         b.StructureVersion,
		TemplateVersionLabel:     b.TemplateVersionLabel,
		StructureUpgradeRequired: len(pendingStructure) > 0,
		TemplateUpgradeRequired:  len(pendingTemplates) > 0,
	}
	for _, m := range pendingStructure {
		result.PendingStructure = append(result.PendingStructure, m.Name)
	}
	for _, t := range pendingTemplates {
		result.PendingTemplates = append(result.PendingTemplates, t.Label)
	}
	return result
}

// Apply applies every pending structural migration in ascending order, then
// every pending template seed, each step in its own transaction. A step
// failure aborts the remaining plan and leaves the branch at its last
// recorded version; the summary returned alongside the error covers the
// steps that did commit. With DryRun the same delta is computed without
// writing anything.
func (s *Service) Apply(ctx context.Context, branchID string, opts ApplyOptions) (*Summary, error) {
	b, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	if err := schema.ValidateSchemaName(b.SchemaName); err != nil {
		return nil, err
	}
	target, err := schema.Quote(b.SchemaName)
	if err != nil {
		return nil, err
	}

	pendingStructure := pendingStructural(b.StructureVersion)
	pendingTemplates := pendingSeeds(b.TemplateVersionLabel)

	summary := &Summary{
		BranchID:             b.ID,
		StructureVersion:     b.StructureVersion,
		TemplateVersionLabel: b.TemplateVersionLabel,
		DryRun:               opts.DryRun,
	}

	hasHistory, err := s.store.HasHistory(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		current := b.StructureVersion
		for _, m := range pendingStructure {
			summary.Applied = append(summary.Applied, plannedEntry(m, current, hasHistory))
			current = m.Version
			hasHistory = true
		}
		for _, t := range pendingTemplates {
			summary.Applied = append(summary.Applied, AppliedMigration{
				Name: t.Label, FromVersion: current, ToVersion: current, Kind: KindTemplateSeed,
			})
		}
		summary.StructureVersion = current
		if n := len(pendingTemplates); n > 0 {
			label := pendingTemplates[n-1].Label
			summary.TemplateVersionLabel = &label
		}
		return summary, nil
	}

	if len(pendingStructure) > 0 {
		s.logger.Infof("Applying %d structural migrations to branch %s (schema %s)", len(pendingStructure), b.ID, b.SchemaName)
	}

	current := b.StructureVersion
	for _, m := range pendingStructure {
		entry := plannedEntry(m, current, hasHistory)

		if err := s.store.ApplyStep(ctx, structuralStep(b.ID, target, m, entry, opts.CleanupMode)); err != nil {
			return summary, &MigrationStepError{Name: m.Name, FromVersion: entry.FromVersion, ToVersion: entry.ToVersion, Err: err}
		}

		summary.Applied = append(summary.Applied, entry)
		summary.StructureVersion = m.Version
		current = m.Version
		hasHistory = true
	}

	for _, t := range pendingTemplates {
		entry := AppliedMigration{Name: t.Label, FromVersion: current, ToVersion: current, Kind: KindTemplateSeed}

		if err := s.store.ApplyStep(ctx, seedStep(b.ID, target, t, current)); err != nil {
			return summary, &MigrationStepError{Name: t.Label, FromVersion: current, ToVersion: current, Err: err}
		}

		summary.Applied = append(summary.Applied, entry)
		label := t.Label
		summary.TemplateVersionLabel = &label
	}

	return summary, nil
}

func plannedEntry(m StructuralMigration, current int, hasHistory bool) AppliedMigration {
	entry := AppliedMigration{Name: m.Name, FromVersion: current, ToVersion: m.Version, Kind: KindIncremental}
	if !hasHistory {
		// The first record of a branch is its baseline; it persists
		// from_version 0 even when the branch started above zero.
		entry.Kind = KindBaseline
		entry.FromVersion = 0
	}
	return entry
}

// structuralStep builds one structural step: the migration's DDL, its
// cleanup when confirmed, the version bump and the audit record.
func structuralStep(branchID string, target schema.SafeIdentifier, m StructuralMigration, entry AppliedMigration, cleanupMode string) Step {
	statements := m.Statements(target)
	if cleanupMode == CleanupConfirm && m.Cleanup != nil {
		statements = append(statements, m.Cleanup(target)...)
	}

	return Step{
		BranchID:         branchID,
		Statements:       statements,
		StructureVersion: m.Version,
		Record: &Record{
			ID:          uuid.NewString(),
			BranchID:    branchID,
			Name:        entry.Name,
			FromVersion: entry.FromVersion,
			ToVersion:   entry.ToVersion,
			Kind:        entry.Kind,
		},
	}
}

func seedStep(branchID string, target schema.SafeIdentifier, t TemplateSeed, structureVersion int) Step {
	label := t.Label
	return Step{
		BranchID:             branchID,
		Statements:           t.Statements(target),
		StructureVersion:     structureVersion,
		TemplateVersionLabel: &label,
		Record: &Record{
			ID:                   uuid.NewString(),
			BranchID:             branchID,
			Name:                 t.Label,
			FromVersion:          structureVersion,
			ToVersion:            structureVersion,
			Kind:                 KindTemplateSeed,
			TemplateVersionLabel: &label,
		},
	}
}

// ListRecords returns a branch's migration records in applied order
func (s *Service) ListRecords(ctx context.Context, branchID string) ([]*Record, error) {
	return s.store.ListRecords(ctx, branchID)
}
