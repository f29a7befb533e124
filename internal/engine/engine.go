// Package engine wires the branch lifecycle services together over one
// metadata database and exposes the caller-facing operations. An HTTP or
// RPC layer consumes the engine as a library; no transport lives here.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/metahubco/metahub-core/internal/cache"
	"github.com/metahubco/metahub-core/internal/schema"
	"github.com/metahubco/metahub-core/internal/services/branch"
	"github.com/metahubco/metahub-core/internal/services/clone"
	"github.com/metahubco/metahub-core/internal/services/deletion"
	"github.com/metahubco/metahub-core/internal/services/membership"
	"github.com/metahubco/metahub-core/internal/services/migration"
	"github.com/metahubco/metahub-core/internal/services/provisioning"
	"github.com/metahubco/metahub-core/internal/services/tenant"
	"github.com/metahubco/metahub-core/pkg/config"
	"github.com/metahubco/metahub-core/pkg/database"
	"github.com/metahubco/metahub-core/pkg/health"
	"github.com/metahubco/metahub-core/pkg/logger"
)

// Engine owns the lifecycle services and their shared resources
type Engine struct {
	config *config.Config
	logger *logger.Logger
	db     *database.PostgreSQL
	redis  *database.Redis
	health *health.Checker

	schemaCache *cache.SchemaCache

	tenants      *tenant.Service
	branches     *branch.Service
	memberships  *membership.Service
	provisioning *provisioning.Service
	cloning      *clone.Service
	deletion     *deletion.Service
	migrations   *migration.Service
	reconciler   *deletion.Reconciler

	state struct {
		sync.Mutex
		isRunning bool
	}
	metrics struct {
		requestsProcessed int64
		errors            int64
	}
}

// NewEngine creates a new engine
func NewEngine(cfg *config.Config, logger *logger.Logger) *Engine {
	return &Engine{
		config: cfg,
		logger: logger,
		health: health.NewChecker(),
	}
}

// Start connects to the metadata database (and Redis when configured),
// bootstraps the metadata tables and constructs the lifecycle services
func (e *Engine) Start(ctx context.Context) error {
	e.state.Lock()
	defer e.state.Unlock()

	if e.state.isRunning {
		return fmt.Errorf("engine is already running")
	}

	db, err := database.New(ctx, database.FromGlobalConfig(e.config))
	if err != nil {
		return fmt.Errorf("failed to connect to metadata database: %w", err)
	}
	e.db = db

	invalidators := []cache.Invalidator{}
	e.schemaCache = cache.NewSchemaCache()
	invalidators = append(invalidators, e.schemaCache)

	if e.config.Get("redis.enabled") == "true" {
		redis, err := database.NewRedis(ctx, database.RedisFromGlobalConfig(e.config))
		if err != nil {
			e.db.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		e.redis = redis
		invalidators = append(invalidators, cache.NewRedisInvalidator(redis))
	}
	invalidator := cache.Fanout(invalidators...)

	if err := e.ensureMetadataTables(ctx); err != nil {
		e.closeConnections()
		return err
	}

	e.tenants = tenant.NewService(e.db, e.logger)
	e.branches = branch.NewService(e.db, e.logger)
	e.memberships = membership.NewService(e.db, e.logger)

	cloner := schema.NewCloner(e.db, e.logger)
	destroyer := schema.NewDestroyer(e.db, e.logger)

	e.provisioning = provisioning.NewService(
		provisioning.NewPostgresStore(e.db, e.tenants, e.branches, e.logger),
		cloner, destroyer, invalidator, e.logger)
	e.cloning = clone.NewService(
		clone.NewPostgresStore(e.db, e.tenants, e.branches, e.memberships, e.logger),
		cloner, destroyer, e.logger)
	e.deletion = deletion.NewService(
		deletion.NewPostgresStore(e.db, e.tenants, e.branches, e.logger),
		invalidator, e.logger)
	e.migrations = migration.NewService(
		migration.NewPostgresStore(e.db, e.branches, e.logger), e.logger)
	e.reconciler = deletion.NewReconciler(e.db, destroyer, e.logger)

	e.state.isRunning = true
	e.logger.Infof("Engine started")
	return nil
}

// Stop closes the engine's connections
func (e *Engine) Stop(ctx context.Context) error {
	e.state.Lock()
	defer e.state.Unlock()

	if !e.state.isRunning {
		return nil
	}

	e.closeConnections()
	e.state.isRunning = false
	e.logger.Infof("Engine stopped")
	return nil
}

func (e *Engine) closeConnections() {
	if e.redis != nil {
		e.redis.Close()
		e.redis = nil
	}
	if e.db != nil {
		e.db.Close()
		e.db = nil
	}
}

// CheckHealth runs the engine's health checks and returns the overall status
func (e *Engine) CheckHealth(ctx context.Context) health.Status {
	e.health.RunCheck("database", func() error {
		if e.db == nil {
			return fmt.Errorf("database not connected")
		}
		return e.db.Ping(ctx)
	})
	if e.redis != nil {
		e.health.RunCheck("redis", func() error {
			return e.redis.Ping(ctx)
		})
	}
	return e.health.GetOverallStatus()
}

// GetMetrics returns the engine's operation counters
func (e *Engine) GetMetrics() map[string]int64 {
	return map[string]int64{
		"requests_processed": atomic.LoadInt64(&e.metrics.requestsProcessed),
		"errors":             atomic.LoadInt64(&e.metrics.errors),
	}
}

func (e *Engine) trackOperation(err error) {
	atomic.AddInt64(&e.metrics.requestsProcessed, 1)
	if err != nil {
		atomic.AddInt64(&e.metrics.errors, 1)
	}
}
