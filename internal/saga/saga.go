// Package saga tracks compensating actions for multi-step operations that
// mix transactional row writes with non-transactional DDL. Forward steps
// register a compensation as they succeed; on failure the registered
// compensations run in reverse order, best-effort.
package saga

import (
	"context"

	"github.com/metahubco/metahub-core/pkg/logger"
)

// CompensationFunc undoes one previously completed forward step
type CompensationFunc func(ctx context.Context) error

type step struct {
	name       string
	compensate CompensationFunc
}

// Saga is an explicit stack of compensating actions
type Saga struct {
	logger *logger.Logger
	steps  []step
}

// New creates an empty saga
func New(logger *logger.Logger) *Saga {
	return &Saga{logger: logger}
}

// Add registers a compensation for a forward step that just succeeded
func (s *Saga) Add(name string, fn CompensationFunc) {
	s.steps = append(s.steps, step{name: name, compensate: fn})
}

// Len returns the number of registered compensations
func (s *Saga) Len() int {
	return len(s.steps)
}

// Compensate runs every registered compensation in reverse order. Failures
// are logged and collected but never interrupt the remaining compensations;
// the caller re-raises the original operation error, not these.
func (s *Saga) Compensate(ctx context.Context) []error {
	var failures []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		st := s.steps[i]
		if err := st.compensate(ctx); err != nil {
			if s.logger != nil {
				s.logger.Errorf("Compensation %q failed: %v", st.name, err)
			}
			failures = append(failures, err)
		}
	}
	s.steps = s.steps[:0]
	return failures
}
