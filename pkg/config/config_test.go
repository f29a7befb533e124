package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metahub.yaml")
	content := `
database:
  host: db.internal
  port: 5433
  name: metahub
redis:
  enabled: true
reconciler:
  grace: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Get("database.host"))
	assert.Equal(t, 5433, cfg.GetInt("database.port", 5432))
	assert.Equal(t, "true", cfg.Get("redis.enabled"))
	assert.Equal(t, 30*time.Minute, cfg.GetDuration("reconciler.grace", time.Hour))
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGetInt(t *testing.T) {
	cfg := New()
	cfg.Update(map[string]string{"database.port": "5432", "database.max_connections": "lots"})

	assert.Equal(t, 5432, cfg.GetInt("database.port", 1))
	assert.Equal(t, 10, cfg.GetInt("database.max_connections", 10))
	assert.Equal(t, 10, cfg.GetInt("missing", 10))
}

func TestGetDuration(t *testing.T) {
	cfg := New()
	cfg.Update(map[string]string{"reconciler.interval": "15m", "reconciler.grace": "soon"})

	assert.Equal(t, 15*time.Minute, cfg.GetDuration("reconciler.interval", time.Hour))
	assert.Equal(t, time.Hour, cfg.GetDuration("reconciler.grace", time.Hour))
	assert.Equal(t, time.Hour, cfg.GetDuration("missing", time.Hour))
}

func TestRequiresRestart(t *testing.T) {
	cfg := New()
	cfg.Update(map[string]string{"database.host": "localhost", "log.level": "info"})
	old := cfg.GetAll()

	cfg.Update(map[string]string{"log.level": "debug"})
	assert.False(t, cfg.RequiresRestart(old))

	cfg.Update(map[string]string{"database.host": "db.internal"})
	assert.True(t, cfg.RequiresRestart(old))
}
