package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metahubco/metahub-core/pkg/config"
)

// PostgreSQL represents a PostgreSQL database connection
type PostgreSQL struct {
	pool *pgxpool.Pool
}

type PostgreSQLConfig struct {
	User              string
	Password          string
	Host              string
	Port              int
	Database          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// New creates a new PostgreSQL instance
func New(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required - must be provided in config or MHB_DATABASE_NAME environment variable")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}

	// Use pgxpool.ParseConfig to handle special characters in passwords
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	// Set connection parameters individually to avoid URL parsing issues
	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	switch cfg.SSLMode {
	case "disable":
		poolConfig.ConnConfig.TLSConfig = nil
	case "require", "prefer":
		// pgx handles the TLS negotiation for these modes
	default:
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// FromGlobalConfig creates a PostgreSQL config from the global configuration
func FromGlobalConfig(cfg *config.Config) PostgreSQLConfig {
	dbName := cfg.Get("database.name")
	if dbName == "" {
		dbName = os.Getenv("MHB_DATABASE_NAME")
	}
	if dbName == "" {
		dbName = "metahub"
	}

	host := cfg.Get("database.host")
	if host == "" {
		host = "localhost"
	}
	user := cfg.Get("database.user")
	if user == "" {
		user = "metahub"
	}
	sslMode := cfg.Get("database.sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return PostgreSQLConfig{
		User:              user,
		Password:          cfg.Get("database.password"),
		Host:              host,
		Port:              cfg.GetInt("database.port", 5432),
		Database:          dbName,
		SSLMode:           sslMode,
		MaxConnections:    int32(cfg.GetInt("database.max_connections", 40)),
		ConnectionTimeout: cfg.GetDuration("database.connection_timeout", 5*time.Second),
	}
}

// Pool returns the underlying connection pool
func (db *PostgreSQL) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database connection is alive
func (db *PostgreSQL) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the database connection
func (db *PostgreSQL) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
