// Package config handles loading and validating skillbox runtime defaults.
//
// This is the sandbox's own operational profile (timeouts, memory bounds,
// extra environment), not skill metadata: the embedding host's metadata
// loader supplies each skill's allowed-tools spec separately.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/skillbox/sandbox"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

const defaultMaxExecutionSeconds = 300

// Config is the runtime defaults profile applied to every sandbox an
// embedding host creates.
type Config struct {
	ScriptsSubdir       string            `json:"scripts_subdir,omitempty" yaml:"scripts_subdir,omitempty"` // Default: "scripts". Override: SKILLBOX_SCRIPTS_SUBDIR.
	MaxExecutionSeconds int               `json:"max_execution_seconds" yaml:"max_execution_seconds"`       // Default: 300. Override: SKILLBOX_MAX_EXECUTION_SECONDS.
	MaxMemoryMB         int               `json:"max_memory_mb" yaml:"max_memory_mb"`                       // 0 = unlimited. Override: SKILLBOX_MAX_MEMORY_MB.
	NetworkAccess       bool              `json:"network_access" yaml:"network_access"`                     // Advisory only.
	Env                 map[string]string `json:"env,omitempty" yaml:"env,omitempty"`                       // Extra environment for every execution.
}

// Load reads a config file (.yaml/.yml or .json by extension), applies
// environment variable overrides, and validates. An empty path returns the
// defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		switch ext := filepath.Ext(path); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .json)", ext)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.ScriptsSubdir = goutils.Env("SKILLBOX_SCRIPTS_SUBDIR", c.ScriptsSubdir)
	if v := os.Getenv("SKILLBOX_MAX_EXECUTION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxExecutionSeconds = n
		}
	}
	if v := os.Getenv("SKILLBOX_MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxMemoryMB = n
		}
	}
}

// Validate checks field bounds.
func (c *Config) Validate() error {
	if c.MaxExecutionSeconds < 0 {
		return fmt.Errorf("max_execution_seconds must be >= 0, got %d", c.MaxExecutionSeconds)
	}
	if c.MaxMemoryMB < 0 {
		return fmt.Errorf("max_memory_mb must be >= 0, got %d", c.MaxMemoryMB)
	}
	return nil
}

// MaxExecutionTime returns the timeout as a duration. Defaults to 5 minutes.
func (c *Config) MaxExecutionTime() time.Duration {
	if c.MaxExecutionSeconds <= 0 {
		return defaultMaxExecutionSeconds * time.Second
	}
	return time.Duration(c.MaxExecutionSeconds) * time.Second
}

// Constraints converts the profile into sandbox execution constraints.
func (c *Config) Constraints() sandbox.Constraints {
	return sandbox.Constraints{
		MaxExecutionTime: c.MaxExecutionTime(),
		MaxMemoryMB:      c.MaxMemoryMB,
		NetworkAccess:    c.NetworkAccess,
	}
}
