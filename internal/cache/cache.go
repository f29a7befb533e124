// Package cache holds the process-local and Redis-backed caches of tenant
// schema lookups. The invalidation hook is an injected dependency of every
// service that commits destructive lifecycle changes; downstream catalog
// lookups must never resolve a dropped schema.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/metahubco/metahub-core/pkg/database"
)

// Invalidator clears any cached state for a tenant
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// SchemaCache is a process-local cache of branch-to-schema lookups
type SchemaCache struct {
	mu      sync.RWMutex
	schemas map[string]map[string]string // tenantID -> branchID -> schemaName
}

// NewSchemaCache creates an empty schema cache
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{
		schemas: make(map[string]map[string]string),
	}
}

// Get returns the cached schema name for a branch
func (c *SchemaCache) Get(tenantID, branchID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	branches, ok := c.schemas[tenantID]
	if !ok {
		return "", false
	}
	name, ok := branches[branchID]
	return name, ok
}

// Put stores the schema name for a branch
func (c *SchemaCache) Put(tenantID, branchID, schemaName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	branches, ok := c.schemas[tenantID]
	if !ok {
		branches = make(map[string]string)
		c.schemas[tenantID] = branches
	}
	branches[branchID] = schemaName
}

// Invalidate drops every cached lookup for a tenant
func (c *SchemaCache) Invalidate(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.schemas, tenantID)
	return nil
}

// RedisInvalidator clears shared tenant cache entries in Redis
type RedisInvalidator struct {
	redis *database.Redis
}

// NewRedisInvalidator creates a Redis-backed invalidator
func NewRedisInvalidator(redis *database.Redis) *RedisInvalidator {
	return &RedisInvalidator{redis: redis}
}

// Invalidate deletes the tenant's schema and permission cache keys
func (r *RedisInvalidator) Invalidate(ctx context.Context, tenantID string) error {
	keys := []string{
		fmt.Sprintf("tenant:%s:schemas", tenantID),
		fmt.Sprintf("tenant:%s:permissions", tenantID),
	}
	if err := r.redis.Client().Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate tenant cache keys: %w", err)
	}
	return nil
}

// Noop is an Invalidator that does nothing, for tests and cache-less deployments
type Noop struct{}

// Invalidate implements Invalidator
func (Noop) Invalidate(ctx context.Context, tenantID string) error {
	return nil
}

// Fanout invalidates through every wrapped invalidator, returning the first error
func Fanout(invalidators ...Invalidator) Invalidator {
	return fanout(invalidators)
}

type fanout []Invalidator

func (f fanout) Invalidate(ctx context.Context, tenantID string) error {
	var firstErr error
	for _, inv := range f {
		if err := inv.Invalidate(ctx, tenantID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
