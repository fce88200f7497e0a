// Package config loads the workflow engine's configuration: the HIL
// threshold and auto-approve switch, the classifier confidence
// threshold, the downstream collaborator's base URL and timeout, and
// the storage backend selection. Loaded from YAML with environment
// variable overrides, the way deployment configuration is usually
// layered in this codebase's domain.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved configuration, defaults already applied.
type Config struct {
	HIL struct {
		Threshold      float64 `yaml:"threshold"`
		AutoApprove    bool    `yaml:"auto_approve"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
	} `yaml:"hil"`

	Confidence struct {
		Threshold float64 `yaml:"threshold"`
	} `yaml:"confidence"`

	Downstream struct {
		BaseURL    string `yaml:"base_url"`
		TimeoutMS  int    `yaml:"timeout_ms"`
	} `yaml:"downstream"`

	Storage struct {
		Backend    string `yaml:"backend"` // "embedded" | "shared-cache"
		PathOrURL  string `yaml:"path_or_url"`
	} `yaml:"storage"`
}

// Default returns a Config populated with every §6 default.
func Default() Config {
	var c Config
	c.HIL.Threshold = 5000
	c.HIL.AutoApprove = false
	c.HIL.TimeoutSeconds = 3600
	c.Confidence.Threshold = 0.80
	c.Downstream.TimeoutMS = 60000
	c.Storage.Backend = "embedded"
	c.Storage.PathOrURL = "workflow.db"
	return c
}

// Load reads YAML from path over the defaults, then applies
// WORKFLOW_-prefixed environment variable overrides (e.g.
// WORKFLOW_HIL_THRESHOLD, WORKFLOW_STORAGE_BACKEND). An empty path
// skips the file read and returns defaults with env overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("WORKFLOW_HIL_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HIL.Threshold = f
		}
	}
	if v, ok := os.LookupEnv("WORKFLOW_HIL_AUTO_APPROVE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HIL.AutoApprove = b
		}
	}
	if v, ok := os.LookupEnv("WORKFLOW_HIL_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HIL.TimeoutSeconds = n
		}
	}
	if v, ok := os.LookupEnv("WORKFLOW_CONFIDENCE_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Confidence.Threshold = f
		}
	}
	if v, ok := os.LookupEnv("WORKFLOW_DOWNSTREAM_BASE_URL"); ok {
		cfg.Downstream.BaseURL = v
	}
	if v, ok := os.LookupEnv("WORKFLOW_DOWNSTREAM_TIMEOUT_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Downstream.TimeoutMS = n
		}
	}
	if v, ok := os.LookupEnv("WORKFLOW_STORAGE_BACKEND"); ok {
		cfg.Storage.Backend = v
	}
	if v, ok := os.LookupEnv("WORKFLOW_STORAGE_PATH_OR_URL"); ok {
		cfg.Storage.PathOrURL = v
	}
}

// DownstreamTimeout returns Downstream.TimeoutMS as a time.Duration.
func (c Config) DownstreamTimeout() time.Duration {
	return time.Duration(c.Downstream.TimeoutMS) * time.Millisecond
}

// HILTimeout returns HIL.TimeoutSeconds as a time.Duration.
func (c Config) HILTimeout() time.Duration {
	return time.Duration(c.HIL.TimeoutSeconds) * time.Second
}
