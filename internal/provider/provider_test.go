package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/conductor/internal/identity"
)

func testIdentity() identity.AgentIdentity {
	n := 0
	return identity.NewAgentIdentityAt(
		identity.MustDefaultRole(identity.RoleBackend), "/work",
		func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
		func() string { n++; return "fixed" },
	)
}

func TestErrorClassification(t *testing.T) {
	transient := NewTransientError("claude", errors.New("overloaded"))
	permanent := NewPermanentError("claude", errors.New("bad flag"))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(permanent))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.Contains(t, transient.Error(), "transient")
	assert.Contains(t, permanent.Error(), "permanent")
}

func TestClassifyCLIError(t *testing.T) {
	base := errors.New("exit status 1")

	assert.True(t, IsTransient(classifyCLIError("claude", base, "API rate limit reached")))
	assert.True(t, IsTransient(classifyCLIError("claude", base, "upstream returned 503")))
	assert.False(t, IsTransient(classifyCLIError("claude", base, "unknown flag --bogus")))
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	cli := NewClaudeCLI(DefaultClaudeCLIConfig())
	registry.Register("claude-cli", cli)

	got, err := registry.Get("claude-cli")
	require.NoError(t, err)
	assert.Same(t, Executor(cli), got)
	assert.Equal(t, []string{"claude-cli"}, registry.Tags())

	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHTTPProviderExecutePrompt(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"all done"}`))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	out, err := p.ExecutePrompt(context.Background(), "do the thing", testIdentity(), "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "all done", out)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestHTTPProviderStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			p, err := NewHTTPProvider(HTTPConfig{Endpoint: server.URL})
			require.NoError(t, err)

			_, err = p.ExecutePrompt(context.Background(), "x", testIdentity(), "/tmp")
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestHTTPProviderPlainTextResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw output"))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: server.URL})
	require.NoError(t, err)

	out, err := p.ExecutePrompt(context.Background(), "x", testIdentity(), "/tmp")
	require.NoError(t, err)
	assert.Equal(t, "raw output", out)
}

func TestHTTPProviderHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: server.URL})
	require.NoError(t, err)

	status, err := p.HealthCheck(context.Background(), "/tmp")
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}

func TestNewHTTPProviderRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPProvider(HTTPConfig{})
	assert.Error(t, err)
}

func TestClaudeCLICapabilities(t *testing.T) {
	cli := NewClaudeCLI(ClaudeCLIConfig{})
	caps := cli.Capabilities()
	assert.True(t, caps.SupportsJSONOutput)
	assert.NotZero(t, caps.MaxContextLength)
	assert.Equal(t, "claude", cli.cfg.Binary)
}
