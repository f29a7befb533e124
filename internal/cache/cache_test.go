package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCache(t *testing.T) {
	ctx := context.Background()
	c := NewSchemaCache()

	t.Run("miss on empty cache", func(t *testing.T) {
		_, ok := c.Get("t1", "b1")
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		c.Put("t1", "b1", "mhb_abc_b1")
		c.Put("t1", "b2", "mhb_abc_b2")
		c.Put("t2", "b1", "mhb_def_b1")

		name, ok := c.Get("t1", "b1")
		require.True(t, ok)
		assert.Equal(t, "mhb_abc_b1", name)
	})

	t.Run("invalidate clears one tenant only", func(t *testing.T) {
		require.NoError(t, c.Invalidate(ctx, "t1"))

		_, ok := c.Get("t1", "b1")
		assert.False(t, ok)
		_, ok = c.Get("t1", "b2")
		assert.False(t, ok)

		name, ok := c.Get("t2", "b1")
		require.True(t, ok)
		assert.Equal(t, "mhb_def_b1", name)
	})
}

type spyInvalidator struct {
	calls []string
	err   error
}

func (s *spyInvalidator) Invalidate(ctx context.Context, tenantID string) error {
	s.calls = append(s.calls, tenantID)
	return s.err
}

func TestFanout(t *testing.T) {
	ctx := context.Background()

	t.Run("invalidates through every wrapped invalidator", func(t *testing.T) {
		first := &spyInvalidator{}
		second := &spyInvalidator{}

		err := Fanout(first, second).Invalidate(ctx, "t1")

		require.NoError(t, err)
		assert.Equal(t, []string{"t1"}, first.calls)
		assert.Equal(t, []string{"t1"}, second.calls)
	})

	t.Run("keeps going after a failure and returns the first error", func(t *testing.T) {
		boom := errors.New("redis down")
		first := &spyInvalidator{err: boom}
		second := &spyInvalidator{}

		err := Fanout(first, second).Invalidate(ctx, "t1")

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"t1"}, second.calls)
	})
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Invalidate(context.Background(), "t1"))
}
