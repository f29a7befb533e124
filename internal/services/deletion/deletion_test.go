package deletion

import (
	"context"
	"errors"
	"testing"

	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	branches  []*branch.Branch
	listErr   error
	deleteErr error

	deletedTenant  string
	deletedSchemas []schema.SafeIdentifier
}

func (f *fakeStore) ListBranches(ctx context.Context, tenantID string) ([]*branch.Branch, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.branches, nil
}

func (f *fakeStore) DeleteTenant(ctx context.Context, tenantID string, schemas []schema.SafeIdentifier) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedTenant = tenantID
	f.deletedSchemas = schemas
	return nil
}

type spyInvalidator struct {
	calls []string
	err   error
}

func (s *spyInvalidator) Invalidate(ctx context.Context, tenantID string) error {
	s.calls = append(s.calls, tenantID)
	return s.err
}

func testLogger() *logger.Logger {
	l := logger.New("deletion-test", "test")
	l.DisableConsoleOutput()
	return l
}

func testBranches(schemas ...string) []*branch.Branch {
	branches := make([]*branch.Branch, 0, len(schemas))
	for i, name := range schemas {
		branches = append(branches, &branch.Branch{
			ID:           string(rune('a' + i)),
			TenantID:     "t1",
			BranchNumber: i + 1,
			SchemaName:   name,
		})
	}
	return branches
}

func TestDeleteTenant(t *testing.T) {
	t.Run("drops exactly the tenant's branch schemas in order", func(t *testing.T) {
		store := &fakeStore{branches: testBranches("mhb_abc123_b1", "mhb_abc123_b2", "mhb_abc123_b3")}
		invalidator := &spyInvalidator{}
		svc := NewService(store, invalidator, testLogger())

		err := svc.DeleteTenant(context.Background(), "t1", "u1")
		require.NoError(t, err)

		assert.Equal(t, "t1", store.deletedTenant)
		require.Len(t, store.deletedSchemas, 3)
		for i, want := range []string{"mhb_abc123_b1", "mhb_abc123_b2", "mhb_abc123_b3"} {
			assert.Equal(t, want, store.deletedSchemas[i].String())
		}
		assert.Equal(t, []string{"t1"}, invalidator.calls)
	})

	t.Run("a tenant with no branches still deletes its metadata", func(t *testing.T) {
		store := &fakeStore{}
		svc := NewService(store, &spyInvalidator{}, testLogger())

		require.NoError(t, svc.DeleteTenant(context.Background(), "t1", "u1"))
		assert.Equal(t, "t1", store.deletedTenant)
		assert.Empty(t, store.deletedSchemas)
	})

	t.Run("one bad schema name rejects the whole operation", func(t *testing.T) {
		store := &fakeStore{branches: testBranches("mhb_abc123_b1", `mhb_abc"; DROP SCHEMA public; --`)}
		invalidator := &spyInvalidator{}
		svc := NewService(store, invalidator, testLogger())

		err := svc.DeleteTenant(context.Background(), "t1", "u1")

		var unsafeErr *schema.UnsafeIdentifierError
		require.ErrorAs(t, err, &unsafeErr)
		assert.Empty(t, store.deletedTenant)
		assert.Empty(t, invalidator.calls)
	})

	t.Run("a schema outside the managed namespace rejects the operation", func(t *testing.T) {
		store := &fakeStore{branches: testBranches("public")}
		svc := NewService(store, &spyInvalidator{}, testLogger())

		err := svc.DeleteTenant(context.Background(), "t1", "u1")
		require.Error(t, err)
		assert.Empty(t, store.deletedTenant)
	})

	t.Run("store failure is returned and the cache stays untouched", func(t *testing.T) {
		store := &fakeStore{branches: testBranches("mhb_abc123_b1"), deleteErr: errors.New("db down")}
		invalidator := &spyInvalidator{}
		svc := NewService(store, invalidator, testLogger())

		err := svc.DeleteTenant(context.Background(), "t1", "u1")
		require.Error(t, err)
		assert.Empty(t, invalidator.calls)
	})

	t.Run("succeeds even if cache invalidation fails", func(t *testing.T) {
		store := &fakeStore{branches: testBranches("mhb_abc123_b1")}
		invalidator := &spyInvalidator{err: errors.New("redis down")}
		svc := NewService(store, invalidator, testLogger())

		assert.NoError(t, svc.DeleteTenant(context.Background(), "t1", "u1"))
	})
}
