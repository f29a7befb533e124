package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/metahubco/metahub-core/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	l := logger.New("saga-test", "test")
	l.DisableConsoleOutput()
	return l
}

func TestCompensateRunsInReverseOrder(t *testing.T) {
	sg := New(testLogger())

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		sg.Add(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	require.Equal(t, 3, sg.Len())

	failures := sg.Compensate(context.Background())

	assert.Empty(t, failures)
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, 0, sg.Len())
}

func TestCompensateContinuesPastFailures(t *testing.T) {
	sg := New(testLogger())

	var ran []string
	sg.Add("first", func(ctx context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	sg.Add("second", func(ctx context.Context) error {
		ran = append(ran, "second")
		return errors.New("drop failed")
	})
	sg.Add("third", func(ctx context.Context) error {
		ran = append(ran, "third")
		return nil
	})

	failures := sg.Compensate(context.Background())

	assert.Len(t, failures, 1)
	assert.Equal(t, []string{"third", "second", "first"}, ran)
}

func TestCompensateOnEmptySagaIsNoop(t *testing.T) {
	sg := New(testLogger())
	assert.Empty(t, sg.Compensate(context.Background()))
}
