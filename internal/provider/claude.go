package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ferg-cod3s/conductor/internal/identity"
)

// ClaudeCLIConfig configures the Claude command-line driver.
type ClaudeCLIConfig struct {
	// Binary is the CLI executable name or path.
	Binary string `json:"binary" yaml:"binary"`
	// ExtraArgs are appended to every invocation.
	ExtraArgs []string `json:"extra_args" yaml:"extra_args"`
	// SkipPermissions passes the non-interactive permission flag.
	SkipPermissions bool `json:"skip_permissions" yaml:"skip_permissions"`
	// JSONOutput requests structured output when supported.
	JSONOutput bool `json:"json_output" yaml:"json_output"`
}

// DefaultClaudeCLIConfig returns the default CLI configuration.
func DefaultClaudeCLIConfig() ClaudeCLIConfig {
	return ClaudeCLIConfig{
		Binary:          "claude",
		SkipPermissions: true,
	}
}

// ClaudeCLI drives the Claude CLI as an opaque prompt executor. The
// agent's identity env vars are injected into every invocation.
type ClaudeCLI struct {
	cfg ClaudeCLIConfig
}

// NewClaudeCLI builds the CLI driver.
func NewClaudeCLI(cfg ClaudeCLIConfig) *ClaudeCLI {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &ClaudeCLI{cfg: cfg}
}

// ExecutePrompt runs one prompt in the agent's working directory and
// returns the provider's text output.
func (c *ClaudeCLI) ExecutePrompt(ctx context.Context, prompt string, ident identity.AgentIdentity, workdir string) (string, error) {
	args := []string{"-p", prompt}
	if c.cfg.JSONOutput {
		args = append(args, "--output-format", "json")
	}
	if c.cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args, c.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, c.cfg.Binary, args...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), identityEnv(ident)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyCLIError(c.cfg.Binary, err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// HealthCheck probes the CLI with a version query.
func (c *ClaudeCLI) HealthCheck(ctx context.Context, workdir string) (HealthStatus, error) {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, c.cfg.Binary, "--version")
	cmd.Dir = workdir
	output, err := cmd.Output()
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return HealthStatus{Healthy: false, ResponseTimeMS: elapsed, Error: err.Error()}, nil
	}
	return HealthStatus{
		Healthy:        true,
		Version:        strings.TrimSpace(string(output)),
		ResponseTimeMS: elapsed,
	}, nil
}

// Capabilities reports what the CLI driver supports.
func (c *ClaudeCLI) Capabilities() Capabilities {
	return Capabilities{
		SupportsJSONOutput: true,
		MaxContextLength:   200_000,
		SupportedLanguages: []string{"en", "ja", "de", "fr", "es"},
	}
}

// classifyCLIError decides whether a CLI failure is worth retrying.
// Rate limits and network failures are transient; everything else is
// permanent.
func classifyCLIError(binary string, err error, stderr string) error {
	lower := strings.ToLower(stderr)
	transientMarkers := []string{
		"rate limit", "overloaded", "connection reset", "connection refused",
		"timeout", "temporarily unavailable", "503", "502", "529",
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return NewTransientError(binary, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr)))
		}
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// The binary could not be started at all.
		return NewPermanentError(binary, err)
	}
	return NewPermanentError(binary, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr)))
}
