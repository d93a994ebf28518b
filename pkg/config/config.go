// Package config loads the steward configuration and worker manifests from
// YAML files, applies environment variable overrides, and hot-reloads
// manifests through a file watcher.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/gate"
	"github.com/stewardai/steward-oss/pkg/router"
	"github.com/stewardai/steward-oss/pkg/telemetry"
)

// Config is the root configuration for the steward service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Governance GovernanceConfig `yaml:"governance"`
	Routing    RoutingConfig    `yaml:"routing"`
	Engine     EngineConfig     `yaml:"engine"`
	Trust      TrustConfig      `yaml:"trust"`
	Workers    WorkersConfig    `yaml:"workers"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GovernanceConfig selects and tunes the governance collaborator.
type GovernanceConfig struct {
	// Mode is "local" (embedded policy evaluation) or "http" (remote
	// collaborator).
	Mode string `yaml:"mode"`
	// Endpoint is required in http mode.
	Endpoint string `yaml:"endpoint"`
	// PolicyDir holds extra Rego modules loaded in local mode.
	PolicyDir string      `yaml:"policy_dir"`
	Gate      gate.Config `yaml:"gate"`
}

// RoutingConfig tunes the scorer.
type RoutingConfig struct {
	Weights router.Weights `yaml:"weights"`
}

// EngineConfig tunes workflow execution.
type EngineConfig struct {
	DefaultTaskDeadline time.Duration `yaml:"default_task_deadline"`
}

// TrustConfig tunes the trust score manager.
type TrustConfig struct {
	// DecayInterval is how often the weekly decay job runs. Zero disables it.
	DecayInterval time.Duration `yaml:"decay_interval"`
}

// WorkersConfig points at the worker manifest.
type WorkersConfig struct {
	// ManifestPath is a YAML manifest of additional worker descriptors.
	ManifestPath string `yaml:"manifest_path"`
	// WatchManifest enables hot reload of the manifest file.
	WatchManifest bool `yaml:"watch_manifest"`
	// DisableBuiltins skips installing the shipped worker set.
	DisableBuiltins bool `yaml:"disable_builtins"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Governance: GovernanceConfig{
			Mode: "local",
			Gate: gate.DefaultConfig(),
		},
		Routing: RoutingConfig{
			Weights: router.DefaultWeights(),
		},
		Engine: EngineConfig{
			DefaultTaskDeadline: 300 * time.Second,
		},
		Trust: TrustConfig{
			DecayInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path, merges it over defaults, applies environment
// overrides, and validates. An empty path yields the default configuration
// with overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- File path is configured at startup
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("STEWARD_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("STEWARD_GOVERNANCE_MODE"); val != "" {
		cfg.Governance.Mode = val
	}
	if val := os.Getenv("STEWARD_GOVERNANCE_ENDPOINT"); val != "" {
		cfg.Governance.Endpoint = val
	}
	if val := os.Getenv("STEWARD_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := os.Getenv("STEWARD_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("STEWARD_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("STEWARD_WORKER_MANIFEST"); val != "" {
		cfg.Workers.ManifestPath = val
	}
	if val := os.Getenv("STEWARD_APPROVAL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			cfg.Governance.Gate.ApprovalTimeout = d
		}
	}
	if val := os.Getenv("STEWARD_DEFAULT_TASK_DEADLINE"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			cfg.Engine.DefaultTaskDeadline = time.Duration(secs) * time.Second
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("%w: server.address is required", domain.ErrConfigInvalid)
	}

	switch c.Governance.Mode {
	case "local":
	case "http":
		if c.Governance.Endpoint == "" {
			return fmt.Errorf("%w: governance.endpoint is required in http mode", domain.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: governance.mode must be \"local\" or \"http\", got %q", domain.ErrConfigInvalid, c.Governance.Mode)
	}

	if err := c.Governance.Gate.Validate(); err != nil {
		return fmt.Errorf("governance.gate: %w", err)
	}

	if err := c.Routing.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: routing.weights: %w", domain.ErrConfigInvalid, err)
	}

	if c.Engine.DefaultTaskDeadline < 0 {
		return fmt.Errorf("%w: engine.default_task_deadline must not be negative", domain.ErrConfigInvalid)
	}
	return nil
}
