package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config manages service configuration
type Config struct {
	mu     sync.RWMutex
	values map[string]string

	// Define which keys require restart when changed
	restartKeys []string
}

// New creates a new configuration manager
func New() *Config {
	return &Config{
		values: make(map[string]string),
		restartKeys: []string{
			"database.host",
			"database.port",
			"database.name",
			"redis.host",
			"redis.port",
		},
	}
}

// LoadFile loads configuration from a YAML file, flattening nested
// sections into dotted keys ("database.host", "redis.port").
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := New()
	flattened := make(map[string]string)
	flatten("", raw, flattened)
	cfg.Update(flattened)
	return cfg, nil
}

func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = fmt.Sprintf("%v", v)
	}
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetInt retrieves a configuration value as an integer, or the default
// when the key is unset or not a number.
func (c *Config) GetInt(key string, def int) int {
	v := c.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetDuration retrieves a configuration value as a duration, or the default.
func (c *Config) GetDuration(key string, def time.Duration) time.Duration {
	v := c.Get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}

// RequiresRestart checks if any changed keys require a restart
func (c *Config) RequiresRestart(oldConfig map[string]string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.restartKeys {
		if oldConfig[key] != c.values[key] {
			return true
		}
	}

	return false
}

// SetRestartKeys sets which configuration keys require restart when changed
func (c *Config) SetRestartKeys(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartKeys = keys
}
