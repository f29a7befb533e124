package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"a",
		"_",
		"objects",
		"mhb_abc123_b1",
		"snake_case_name",
		"_leading_underscore",
		"a1",
	}
	for _, name := range valid {
		t.Run(name, func(t *testing.T) {
			assert.True(t, Validate(name))
		})
	}

	invalid := []string{
		"",
		"1abc",
		"UPPER",
		"Mixed",
		"with-dash",
		"with space",
		"with.dot",
		`quoted"name`,
		"semi;colon",
		"drop table; --",
		"ünicode",
	}
	for _, name := range invalid {
		t.Run("invalid_"+name, func(t *testing.T) {
			assert.False(t, Validate(name))
		})
	}
}

func TestQuote(t *testing.T) {
	t.Run("valid name round-trips", func(t *testing.T) {
		id, err := Quote("mhb_abc123_b1")
		require.NoError(t, err)
		assert.Equal(t, "mhb_abc123_b1", id.String())
		assert.Equal(t, `"mhb_abc123_b1"`, id.Quoted())
		assert.False(t, id.IsZero())
	})

	t.Run("invalid name fails with UnsafeIdentifierError", func(t *testing.T) {
		id, err := Quote(`x"; DROP SCHEMA public; --`)
		require.Error(t, err)

		var unsafeErr *UnsafeIdentifierError
		require.ErrorAs(t, err, &unsafeErr)
		assert.Equal(t, `x"; DROP SCHEMA public; --`, unsafeErr.Name)
		assert.True(t, id.IsZero())
	})

	t.Run("zero value is unusable", func(t *testing.T) {
		var id SafeIdentifier
		assert.True(t, id.IsZero())
	})
}
