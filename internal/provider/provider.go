// Package provider defines the narrow contract to the AI providers that
// execute prompts, plus CLI and HTTP implementations and a registry for
// dynamic dispatch.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ferg-cod3s/conductor/internal/identity"
)

// HealthStatus reports a provider's availability.
type HealthStatus struct {
	Healthy        bool   `json:"healthy"`
	Version        string `json:"version,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	SupportsJSONOutput bool     `json:"supports_json_output"`
	MaxContextLength   int      `json:"max_context_length"`
	SupportedLanguages []string `json:"supported_languages"`
}

// Executor is the only surface the orchestrator uses to talk to a
// provider.
type Executor interface {
	ExecutePrompt(ctx context.Context, prompt string, ident identity.AgentIdentity, workdir string) (string, error)
	HealthCheck(ctx context.Context, workdir string) (HealthStatus, error)
	Capabilities() Capabilities
}

// Error wraps a provider failure with its retry classification.
type Error struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s error: %v", e.Provider, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable provider failure.
func NewTransientError(provider string, err error) *Error {
	return &Error{Provider: provider, Transient: true, Err: err}
}

// NewPermanentError wraps err as a non-retryable provider failure.
func NewPermanentError(provider string, err error) *Error {
	return &Error{Provider: provider, Transient: false, Err: err}
}

// IsTransient reports whether the error is a retryable provider
// failure.
func IsTransient(err error) bool {
	var providerErr *Error
	return errors.As(err, &providerErr) && providerErr.Transient
}

// ErrUnknownProvider is returned for unregistered provider tags.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry maps provider tags to executors. Swapping providers never
// touches the orchestrator.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds a tag to an executor, replacing any previous binding.
func (r *Registry) Register(tag string, executor Executor) {
	r.mu.Lock()
	r.executors[tag] = executor
	r.mu.Unlock()
}

// Get resolves a tag.
func (r *Registry) Get(tag string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	return executor, nil
}

// Tags lists the registered provider tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.executors))
	for tag := range r.executors {
		tags = append(tags, tag)
	}
	return tags
}

// identityEnv flattens the identity env vars into KEY=VALUE form.
func identityEnv(ident identity.AgentIdentity) []string {
	env := make([]string, 0, len(ident.EnvVars))
	for key, value := range ident.EnvVars {
		env = append(env, key+"="+value)
	}
	return env
}
