package health

import (
	"sync"
	"time"
)

// Status is the outcome of one or more health checks
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusDegraded:
		return "DEGRADED"
	default:
		return "UNHEALTHY"
	}
}

// CheckFunc is a function that performs a health check
type CheckFunc func() error

// Check represents a single health check result
type Check struct {
	Name        string
	Status      Status
	Message     string
	LastChecked time.Time
}

// Checker manages health checks for a service
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]*Check
	lastHealthy time.Time
}

// NewChecker creates a new health checker
func NewChecker() *Checker {
	return &Checker{
		checks:      make(map[string]*Check),
		lastHealthy: time.Now(),
	}
}

// RunCheck executes a health check and updates the status
func (c *Checker) RunCheck(name string, checkFunc CheckFunc) {
	status := StatusHealthy
	message := "OK"

	if err := checkFunc(); err != nil {
		status = StatusUnhealthy
		message = err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = &Check{
		Name:        name,
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}

	if c.isHealthy() {
		c.lastHealthy = time.Now()
	}
}

// GetOverallStatus returns the overall health status
func (c *Checker) GetOverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.checks) == 0 {
		return StatusHealthy
	}

	unhealthyCount := 0
	for _, check := range c.checks {
		if check.Status == StatusUnhealthy {
			unhealthyCount++
		}
	}

	if unhealthyCount == 0 {
		return StatusHealthy
	} else if unhealthyCount < len(c.checks) {
		return StatusDegraded
	}

	return StatusUnhealthy
}

// GetAllChecks returns all health check results
func (c *Checker) GetAllChecks() []*Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var checks []*Check
	for _, check := range c.checks {
		checkCopy := *check
		checks = append(checks, &checkCopy)
	}

	return checks
}

// GetLastHealthyTime returns the last time all checks were healthy
func (c *Checker) GetLastHealthyTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthy
}

func (c *Checker) isHealthy() bool {
	for _, check := range c.checks {
		if check.Status != StatusHealthy {
			return false
		}
	}
	return true
}
