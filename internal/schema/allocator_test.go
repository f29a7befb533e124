package schema

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	t.Run("derives name from tenant id and branch number", func(t *testing.T) {
		id, err := Allocate("abc123", 1)
		require.NoError(t, err)
		assert.Equal(t, "mhb_abc123_b1", id.String())
	})

	t.Run("strips non-hex characters from tenant id", func(t *testing.T) {
		id, err := Allocate("0e984725-c51c-4bf4-9960-e1c80e27aba0", 3)
		require.NoError(t, err)
		assert.Equal(t, "mhb_0e984725c51c4bf49960e1c80e27aba0_b3", id.String())
	})

	t.Run("is deterministic", func(t *testing.T) {
		first, err := Allocate("deadbeef", 7)
		require.NoError(t, err)
		second, err := Allocate("deadbeef", 7)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("allocated names always validate", func(t *testing.T) {
		for n := 1; n <= 10; n++ {
			id, err := Allocate(uuid.NewString(), n)
			require.NoError(t, err)
			assert.True(t, Validate(id.String()))
			assert.NoError(t, ValidateSchemaName(id.String()))
		}
	})

	t.Run("is injective over distinct tenant and branch pairs", func(t *testing.T) {
		seen := make(map[string]string)
		for i := 0; i < 20; i++ {
			tenantID := uuid.NewString()
			for n := 1; n <= 5; n++ {
				id, err := Allocate(tenantID, n)
				require.NoError(t, err)
				key := fmt.Sprintf("%s/%d", tenantID, n)
				prev, dup := seen[id.String()]
				require.False(t, dup, "schema name %s allocated for both %s and %s", id, prev, key)
				seen[id.String()] = key
			}
		}
	})

	t.Run("rejects tenant id with no hex characters", func(t *testing.T) {
		_, err := Allocate("zzzz", 1)

		var invalidErr *InvalidGeneratedNameError
		require.ErrorAs(t, err, &invalidErr)
		assert.Equal(t, "zzzz", invalidErr.TenantID)
	})

	t.Run("rejects branch number below one", func(t *testing.T) {
		_, err := Allocate("abc123", 0)

		var invalidErr *InvalidGeneratedNameError
		require.ErrorAs(t, err, &invalidErr)
	})
}

func TestValidateSchemaName(t *testing.T) {
	t.Run("accepts allocated shape", func(t *testing.T) {
		assert.NoError(t, ValidateSchemaName("mhb_abc123_b1"))
	})

	t.Run("rejects unsafe characters", func(t *testing.T) {
		err := ValidateSchemaName(`mhb_abc"_b1`)

		var unsafeErr *UnsafeIdentifierError
		require.ErrorAs(t, err, &unsafeErr)
	})

	t.Run("rejects missing prefix", func(t *testing.T) {
		err := ValidateSchemaName("public")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prefix")
	})

	t.Run("rejects prefix without runtime shape", func(t *testing.T) {
		// Passes grammar and prefix, but the token is not hex.
		err := ValidateSchemaName("mhb_xyz_b1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shape")
	})

	t.Run("rejects shape without branch number", func(t *testing.T) {
		err := ValidateSchemaName("mhb_abc123")
		require.Error(t, err)
	})
}
