// Package config provides configuration management for Conductor.
// It supports loading configuration from environment variables, files
// (YAML/JSON), and defaults, with a clear precedence order:
// env > file > defaults. Configuration errors surface at load time and
// nowhere else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ferg-cod3s/conductor/internal/ratelimit"
	"github.com/ferg-cod3s/conductor/internal/resource"
	"github.com/ferg-cod3s/conductor/internal/session"
)

// Config represents the complete Conductor configuration.
type Config struct {
	Workspace     WorkspaceConfig     `json:"workspace" yaml:"workspace"`
	Pool          session.Config      `json:"pool" yaml:"pool"`
	Resources     resource.Limits     `json:"resources" yaml:"resources"`
	Delegation    DelegationConfig    `json:"delegation" yaml:"delegation"`
	Provider      ProviderConfig      `json:"provider" yaml:"provider"`
	RateLimit     ratelimit.Config    `json:"rate_limit" yaml:"rate_limit"`
	Persistence   PersistenceConfig   `json:"persistence" yaml:"persistence"`
	Orchestrator  OrchestratorConfig  `json:"orchestrator" yaml:"orchestrator"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// WorkspaceConfig holds workspace isolation configuration.
type WorkspaceConfig struct {
	// Mode is one of git, container, hybrid.
	Mode string `json:"mode" yaml:"mode"`
	// RepoPath is the primary repository agents branch from.
	RepoPath string `json:"repo_path" yaml:"repo_path"`
	// Root is where agent checkouts live.
	Root string `json:"root" yaml:"root"`
	// ContainerImage backs the container and hybrid modes.
	ContainerImage string `json:"container_image" yaml:"container_image"`
}

// DelegationConfig holds delegation engine configuration.
type DelegationConfig struct {
	// Strategy is one of content_based, load_based, expertise_based, hybrid.
	Strategy string `json:"strategy" yaml:"strategy"`
	// DefaultRole receives tasks no rule matches.
	DefaultRole string `json:"default_role" yaml:"default_role"`
}

// ProviderConfig holds AI provider configuration.
type ProviderConfig struct {
	// Kind is one of claude-cli, http.
	Kind string `json:"kind" yaml:"kind"`
	// Binary is the CLI executable for the claude-cli kind.
	Binary string `json:"binary" yaml:"binary"`
	// Endpoint is the API endpoint for the http kind.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// APIKey authenticates the http kind.
	APIKey string `json:"api_key" yaml:"api_key"`
	// Model selects the model for the http kind.
	Model string `json:"model" yaml:"model"`
	// Timeout bounds one provider invocation.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// PersistenceConfig holds status snapshot and coordination sink
// configuration.
type PersistenceConfig struct {
	// Backend is one of file, sqlite, none.
	Backend string `json:"backend" yaml:"backend"`
	// Dir is the base directory for the file backend.
	Dir string `json:"dir" yaml:"dir"`
	// DBPath is the database path for the sqlite backend.
	DBPath string `json:"db_path" yaml:"db_path"`
}

// OrchestratorConfig holds orchestrator pipeline configuration.
type OrchestratorConfig struct {
	MaxIterations int           `json:"max_iterations" yaml:"max_iterations"`
	HistoryLimit  int           `json:"history_limit" yaml:"history_limit"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Sentry  SentryConfig  `json:"sentry" yaml:"sentry"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// SentryConfig holds Sentry error monitoring configuration.
type SentryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	DSN         string  `json:"dsn" yaml:"dsn"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Mode:     "git",
			RepoPath: ".",
		},
		Pool:      session.DefaultConfig(),
		Resources: resource.DefaultLimits(),
		Delegation: DelegationConfig{
			Strategy:    "content_based",
			DefaultRole: "Backend",
		},
		Provider: ProviderConfig{
			Kind:    "claude-cli",
			Binary:  "claude",
			Timeout: 5 * time.Minute,
		},
		RateLimit: ratelimit.DefaultConfig(),
		Persistence: PersistenceConfig{
			Backend: "file",
			Dir:     "./data/status",
			DBPath:  "./data/conductor.db",
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations: 3,
			HistoryLimit:  100,
			Timeout:       5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Port: 9091, Path: "/metrics"},
			Tracing: TracingConfig{Endpoint: "localhost:4317", SampleRate: 1.0},
			Sentry:  SentryConfig{Environment: "development", SampleRate: 1.0},
		},
	}
}

// Load builds the configuration from defaults, an optional file named
// by CONDUCTOR_CONFIG_FILE, and environment overrides, then validates.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := os.Getenv("CONDUCTOR_CONFIG_FILE"); configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML or JSON file over the current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse JSON config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
	return nil
}

// applyEnv applies CONDUCTOR_* environment overrides.
func (c *Config) applyEnv() error {
	if mode := os.Getenv("CONDUCTOR_ISOLATION_MODE"); mode != "" {
		c.Workspace.Mode = mode
	}
	if repo := os.Getenv("CONDUCTOR_REPO_PATH"); repo != "" {
		c.Workspace.RepoPath = repo
	}
	if root := os.Getenv("CONDUCTOR_WORKSPACE_ROOT"); root != "" {
		c.Workspace.Root = root
	}
	if strategy := os.Getenv("CONDUCTOR_DELEGATION_STRATEGY"); strategy != "" {
		c.Delegation.Strategy = strategy
	}
	if role := os.Getenv("CONDUCTOR_DEFAULT_ROLE"); role != "" {
		c.Delegation.DefaultRole = role
	}
	if kind := os.Getenv("CONDUCTOR_PROVIDER"); kind != "" {
		c.Provider.Kind = kind
	}
	if binary := os.Getenv("CONDUCTOR_PROVIDER_BINARY"); binary != "" {
		c.Provider.Binary = binary
	}
	if endpoint := os.Getenv("CONDUCTOR_PROVIDER_ENDPOINT"); endpoint != "" {
		c.Provider.Endpoint = endpoint
	}
	if key := os.Getenv("CONDUCTOR_PROVIDER_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if timeout := os.Getenv("CONDUCTOR_PROVIDER_TIMEOUT"); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid CONDUCTOR_PROVIDER_TIMEOUT: %w", err)
		}
		c.Provider.Timeout = parsed
	}
	if maxSessions := os.Getenv("CONDUCTOR_MAX_SESSIONS_PER_ROLE"); maxSessions != "" {
		parsed, err := strconv.Atoi(maxSessions)
		if err != nil {
			return fmt.Errorf("invalid CONDUCTOR_MAX_SESSIONS_PER_ROLE: %w", err)
		}
		c.Pool.MaxSessionsPerRole = parsed
	}
	if level := os.Getenv("CONDUCTOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("CONDUCTOR_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if enabled := os.Getenv("CONDUCTOR_METRICS_ENABLED"); enabled != "" {
		parsed, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid CONDUCTOR_METRICS_ENABLED: %w", err)
		}
		c.Observability.Metrics.Enabled = parsed
	}
	if port := os.Getenv("CONDUCTOR_METRICS_PORT"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid CONDUCTOR_METRICS_PORT: %w", err)
		}
		c.Observability.Metrics.Port = parsed
	}
	if enabled := os.Getenv("CONDUCTOR_TRACING_ENABLED"); enabled != "" {
		parsed, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid CONDUCTOR_TRACING_ENABLED: %w", err)
		}
		c.Observability.Tracing.Enabled = parsed
	}
	if endpoint := os.Getenv("CONDUCTOR_TRACING_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
	}
	if dsn := os.Getenv("CONDUCTOR_SENTRY_DSN"); dsn != "" {
		c.Observability.Sentry.DSN = dsn
		c.Observability.Sentry.Enabled = true
	}
	return nil
}

// Validate rejects malformed configuration at load time.
func (c *Config) Validate() error {
	switch c.Workspace.Mode {
	case "git", "container", "hybrid", "":
	default:
		return fmt.Errorf("invalid isolation mode: %q", c.Workspace.Mode)
	}
	switch c.Delegation.Strategy {
	case "content_based", "load_based", "expertise_based", "hybrid":
	default:
		return fmt.Errorf("invalid delegation strategy: %q", c.Delegation.Strategy)
	}
	switch c.Provider.Kind {
	case "claude-cli":
	case "http":
		if c.Provider.Endpoint == "" {
			return fmt.Errorf("http provider requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid provider kind: %q", c.Provider.Kind)
	}
	switch c.Persistence.Backend {
	case "file", "sqlite", "none":
	default:
		return fmt.Errorf("invalid persistence backend: %q", c.Persistence.Backend)
	}
	if c.Pool.MaxSessionsPerRole <= 0 {
		return fmt.Errorf("max sessions per role must be positive")
	}
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive")
	}
	return nil
}
