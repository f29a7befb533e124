package provisioning

import "sync"

// tenantLocks serializes branch provisioning per tenant within one process.
// A multi-process deployment additionally needs a store-level lock; the
// metadata transaction's optimistic version check on the tenant row covers
// that case by failing the late writer.
type tenantLocks struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{inFlight: make(map[string]struct{})}
}

// acquire reports whether the tenant lock was taken; false means another
// provisioning operation for the same tenant is already in flight.
func (l *tenantLocks) acquire(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inFlight[tenantID]; busy {
		return false
	}
	l.inFlight[tenantID] = struct{}{}
	return true
}

func (l *tenantLocks) release(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, tenantID)
}
