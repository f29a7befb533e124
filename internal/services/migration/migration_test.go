package migration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestRegistrySequence(t *testing.T) {
	t.Run("structural versions are contiguous from one", func(t *testing.T) {
		require.NotEmpty(t, structuralMigrations)
		for i, m := range structuralMigrations {
			assert.Equal(t, i+1, m.Version, "migration %q out of sequence", m.Name)
			assert.NotEmpty(t, m.Name)
			assert.NotNil(t, m.Statements)
		}
	})

	t.Run("current structure version matches the last entry", func(t *testing.T) {
		last := structuralMigrations[len(structuralMigrations)-1]
		assert.Equal(t, CurrentStructureVersion, last.Version)
	})

	t.Run("current template label matches the last seed", func(t *testing.T) {
		require.NotEmpty(t, templateSeeds)
		assert.Equal(t, CurrentTemplateVersionLabel, templateSeeds[len(templateSeeds)-1].Label)
	})

	t.Run("statements target the quoted branch schema", func(t *testing.T) {
		target, err := schema.Quote("mhb_abc123_b1")
		require.NoError(t, err)

		for _, m := range structuralMigrations {
			for _, stmt := range m.Statements(target) {
				assert.Contains(t, stmt, `"mhb_abc123_b1"`, "migration %q", m.Name)
			}
			if m.Cleanup != nil {
				for _, stmt := range m.Cleanup(target) {
					assert.Contains(t, stmt, `"mhb_abc123_b1"`, "cleanup of %q", m.Name)
				}
			}
		}
		for _, seed := range templateSeeds {
			for _, stmt := range seed.Statements(target) {
				assert.Contains(t, stmt, `"mhb_abc123_b1"`, "seed %q", seed.Label)
			}
		}
	})

	t.Run("seeds are idempotent inserts", func(t *testing.T) {
		target, err := schema.Quote("mhb_abc123_b1")
		require.NoError(t, err)

		for _, seed := range templateSeeds {
			for _, stmt := range seed.Statements(target) {
				assert.True(t, strings.Contains(stmt, "ON CONFLICT DO NOTHING"), "seed %q", seed.Label)
			}
		}
	})
}

func TestPendingStructural(t *testing.T) {
	t.Run("fresh branch gets the full sequence", func(t *testing.T) {
		pending := pendingStructural(0)
		require.Len(t, pending, len(structuralMigrations))
		assert.Equal(t, 1, pending[0].Version)
	})

	t.Run("partially migrated branch gets the remainder", func(t *testing.T) {
		pending := pendingStructural(1)
		require.Len(t, pending, len(structuralMigrations)-1)
		assert.Equal(t, 2, pending[0].Version)
	})

	t.Run("current branch has nothing pending", func(t *testing.T) {
		assert.Empty(t, pendingStructural(CurrentStructureVersion))
	})
}

func TestPendingSeeds(t *testing.T) {
	t.Run("no label gets every generation", func(t *testing.T) {
		pending := pendingSeeds(nil)
		assert.Len(t, pending, len(templateSeeds))
	})

	t.Run("older label gets the later generations", func(t *testing.T) {
		pending := pendingSeeds(strPtr("templates-2025.1"))
		require.Len(t, pending, 1)
		assert.Equal(t, "templates-2025.2", pending[0].Label)
	})

	t.Run("current label has nothing pending", func(t *testing.T) {
		assert.Empty(t, pendingSeeds(strPtr(CurrentTemplateVersionLabel)))
	})

	t.Run("unknown label restarts the idempotent sequence", func(t *testing.T) {
		pending := pendingSeeds(strPtr("templates-2019.1"))
		assert.Len(t, pending, len(templateSeeds))
	})
}

func TestPlanFor(t *testing.T) {
	t.Run("drifted branch reports pending names", func(t *testing.T) {
		result := planFor(&branch.Branch{
			ID:               "b1",
			StructureVersion: 1,
		})

		assert.True(t, result.StructureUpgradeRequired)
		assert.Equal(t, []string{"create_publications", "index_objects_object_key"}, result.PendingStructure)
		assert.True(t, result.TemplateUpgradeRequired)
		assert.Equal(t, []string{"templates-2025.1", "templates-2025.2"}, result.PendingTemplates)
	})

	t.Run("current branch needs nothing", func(t *testing.T) {
		result := planFor(&branch.Branch{
			ID:                   "b1",
			StructureVersion:     CurrentStructureVersion,
			TemplateVersionLabel: strPtr(CurrentTemplateVersionLabel),
		})

		assert.False(t, result.StructureUpgradeRequired)
		assert.False(t, result.TemplateUpgradeRequired)
		assert.Empty(t, result.PendingStructure)
		assert.Empty(t, result.PendingTemplates)
	})
}

func TestPlannedEntry(t *testing.T) {
	m := StructuralMigration{Version: 2, Name: "create_publications"}

	t.Run("first record of a branch is the baseline from version zero", func(t *testing.T) {
		entry := plannedEntry(m, 1, false)

		assert.Equal(t, KindBaseline, entry.Kind)
		assert.Equal(t, 0, entry.FromVersion)
		assert.Equal(t, 2, entry.ToVersion)
	})

	t.Run("subsequent records are incremental from the current version", func(t *testing.T) {
		entry := plannedEntry(m, 1, true)

		assert.Equal(t, KindIncremental, entry.Kind)
		assert.Equal(t, 1, entry.FromVersion)
		assert.Equal(t, 2, entry.ToVersion)
	})
}

type fakeStore struct {
	branch  *branch.Branch
	history bool
	applied []Step
	records []*Record
	// failAt fails the n-th ApplyStep call of the run (1-based); 0 never fails
	failAt int
}

func (f *fakeStore) GetBranch(ctx context.Context, branchID string) (*branch.Branch, error) {
	return f.branch, nil
}

func (f *fakeStore) HasHistory(ctx context.Context, branchID string) (bool, error) {
	return f.history, nil
}

func (f *fakeStore) ApplyStep(ctx context.Context, step Step) error {
	if f.failAt > 0 && len(f.applied)+1 == f.failAt {
		return errors.New("relation already exists")
	}
	f.applied = append(f.applied, step)
	f.records = append(f.records, step.Record)
	f.branch.StructureVersion = step.StructureVersion
	if step.TemplateVersionLabel != nil {
		f.branch.TemplateVersionLabel = step.TemplateVersionLabel
	}
	f.history = true
	return nil
}

func (f *fakeStore) ListRecords(ctx context.Context, branchID string) ([]*Record, error) {
	return f.records, nil
}

func testLogger() *logger.Logger {
	l := logger.New("migration-test", "test")
	l.DisableConsoleOutput()
	return l
}

func freshBranch() *branch.Branch {
	return &branch.Branch{
		ID:           "b1",
		TenantID:     "t1",
		BranchNumber: 1,
		SchemaName:   "mhb_abc123_b1",
		Name:         "main",
	}
}

// assertContiguous checks that every record's range starts where the
// previous structural record ended and that only the first is a baseline.
func assertContiguous(t *testing.T, records []*Record) {
	t.Helper()
	current := 0
	for i, r := range records {
		if i == 0 {
			assert.Equal(t, KindBaseline, r.Kind)
			assert.Equal(t, 0, r.FromVersion)
		} else {
			assert.NotEqual(t, KindBaseline, r.Kind, "record %d", i)
			assert.Equal(t, current, r.FromVersion, "record %d", i)
		}
		assert.GreaterOrEqual(t, r.ToVersion, r.FromVersion, "record %d", i)
		current = r.ToVersion
	}
}

func TestApplyFreshBranch(t *testing.T) {
	store := &fakeStore{branch: freshBranch()}
	svc := NewService(store, testLogger())

	summary, err := svc.Apply(context.Background(), "b1", ApplyOptions{})
	require.NoError(t, err)

	require.Len(t, summary.Applied, len(structuralMigrations)+len(templateSeeds))
	assert.Equal(t, CurrentStructureVersion, summary.StructureVersion)
	require.NotNil(t, summary.TemplateVersionLabel)
	assert.Equal(t, CurrentTemplateVersionLabel, *summary.TemplateVersionLabel)

	assertContiguous(t, store.records)
	assert.Equal(t, KindIncremental, store.records[1].Kind)
	assert.Equal(t, KindTemplateSeed, store.records[len(store.records)-1].Kind)

	assert.Equal(t, CurrentStructureVersion, store.branch.StructureVersion)
	require.NotNil(t, store.branch.TemplateVersionLabel)
	assert.Equal(t, CurrentTemplateVersionLabel, *store.branch.TemplateVersionLabel)
}

func TestApplySecondRunAppliesNothing(t *testing.T) {
	store := &fakeStore{branch: freshBranch()}
	svc := NewService(store, testLogger())

	_, err := svc.Apply(context.Background(), "b1", ApplyOptions{})
	require.NoError(t, err)
	stepsAfterFirst := len(store.applied)

	summary, err := svc.Apply(context.Background(), "b1", ApplyOptions{})
	require.NoError(t, err)

	assert.Empty(t, summary.Applied)
	assert.Equal(t, CurrentStructureVersion, summary.StructureVersion)
	assert.Len(t, store.applied, stepsAfterFirst)
}

func TestApplyStepFailureAbortsAndResumes(t *testing.T) {
	store := &fakeStore{branch: freshBranch(), failAt: 2}
	svc := NewService(store, testLogger())

	summary, err := svc.Apply(context.Background(), "b1", ApplyOptions{})

	var stepErr *MigrationStepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "create_publications", stepErr.Name)
	assert.Equal(t, 1, stepErr.FromVersion)
	assert.Equal(t, 2, stepErr.ToVersion)

	// The baseline step committed before the failure; the branch stays at
	// its last recorded version.
	require.Len(t, summary.Applied, 1)
	assert.Equal(t, 1, summary.StructureVersion)
	assert.Equal(t, 1, store.branch.StructureVersion)

	// Re-running resumes from the recorded version with no second baseline.
	store.failAt = 0
	summary, err = svc.Apply(context.Background(), "b1", ApplyOptions{})
	require.NoError(t, err)

	assert.Equal(t, CurrentStructureVersion, summary.StructureVersion)
	assertContiguous(t, store.records)
	for _, r := range store.records[1:] {
		assert.NotEqual(t, KindBaseline, r.Kind)
	}
}

func TestApplyDryRun(t *testing.T) {
	store := &fakeStore{branch: freshBranch()}
	svc := NewService(store, testLogger())

	summary, err := svc.Apply(context.Background(), "b1", ApplyOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	require.Len(t, summary.Applied, len(structuralMigrations)+len(templateSeeds))
	assert.Equal(t, KindBaseline, summary.Applied[0].Kind)
	assert.Equal(t, CurrentStructureVersion, summary.StructureVersion)

	assert.Empty(t, store.applied)
	assert.Equal(t, 0, store.branch.StructureVersion)
	assert.Nil(t, store.branch.TemplateVersionLabel)
}

func TestApplyCleanupMode(t *testing.T) {
	branchAtTwo := func() *fakeStore {
		b := freshBranch()
		b.StructureVersion = 2
		b.TemplateVersionLabel = strPtr(CurrentTemplateVersionLabel)
		return &fakeStore{branch: b, history: true}
	}

	t.Run("confirm runs destructive cleanup statements", func(t *testing.T) {
		store := branchAtTwo()
		svc := NewService(store, testLogger())

		_, err := svc.Apply(context.Background(), "b1", ApplyOptions{CleanupMode: CleanupConfirm})
		require.NoError(t, err)

		require.Len(t, store.applied, 1)
		joined := strings.Join(store.applied[0].Statements, "\n")
		assert.Contains(t, joined, "DROP INDEX")
	})

	t.Run("any other mode skips them", func(t *testing.T) {
		store := branchAtTwo()
		svc := NewService(store, testLogger())

		_, err := svc.Apply(context.Background(), "b1", ApplyOptions{})
		require.NoError(t, err)

		require.Len(t, store.applied, 1)
		joined := strings.Join(store.applied[0].Statements, "\n")
		assert.NotContains(t, joined, "DROP INDEX")
	})
}

func TestListRecordsQueryOrdersByInsertion(t *testing.T) {
	assert.Contains(t, listRecordsQuery, "ORDER BY applied_seq")
}

func TestMigrationStepError(t *testing.T) {
	cause := errors.New("relation already exists")
	err := &MigrationStepError{Name: "create_objects", FromVersion: 0, ToVersion: 1, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "create_objects")
	assert.Contains(t, err.Error(), "0 -> 1")
}
