package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ferg-cod3s/conductor/internal/identity"
)

// HTTPConfig configures the generic HTTP API driver for custom
// providers.
type HTTPConfig struct {
	Endpoint   string            `json:"endpoint" yaml:"endpoint"`
	APIKey     string            `json:"api_key" yaml:"api_key"`
	Model      string            `json:"model" yaml:"model"`
	Headers    map[string]string `json:"headers" yaml:"headers"`
	MaxContext int               `json:"max_context" yaml:"max_context"`
}

// HTTPProvider drives a custom provider over a JSON HTTP API.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider builds the HTTP driver.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("http provider: endpoint is required")
	}
	if cfg.MaxContext == 0 {
		cfg.MaxContext = 32_000
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{},
	}, nil
}

type promptRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
	AgentID string `json:"agent_id"`
	Workdir string `json:"workdir"`
}

type promptResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// ExecutePrompt posts the prompt and returns the provider's text.
func (p *HTTPProvider) ExecutePrompt(ctx context.Context, prompt string, ident identity.AgentIdentity, workdir string) (string, error) {
	body, err := json.Marshal(promptRequest{
		Prompt:  prompt,
		Model:   p.cfg.Model,
		AgentID: ident.AgentID,
		Workdir: workdir,
	})
	if err != nil {
		return "", NewPermanentError("http", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", NewPermanentError("http", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	for key, value := range p.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Transport failures are network conditions worth one retry.
		return "", NewTransientError("http", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", NewTransientError("http", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", NewTransientError("http", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}
	if resp.StatusCode >= 400 {
		return "", NewPermanentError("http", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var parsed promptResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		// Providers that return plain text are accepted as-is.
		return strings.TrimSpace(string(payload)), nil
	}
	if parsed.Error != "" {
		return "", NewPermanentError("http", errors.New(parsed.Error))
	}
	return parsed.Text, nil
}

// HealthCheck probes the endpoint with a HEAD request.
func (p *HTTPProvider) HealthCheck(ctx context.Context, workdir string) (HealthStatus, error) {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.cfg.Endpoint, nil)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}, nil
	}
	resp, err := p.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return HealthStatus{Healthy: false, ResponseTimeMS: elapsed, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	return HealthStatus{
		Healthy:        resp.StatusCode < 500,
		ResponseTimeMS: elapsed,
	}, nil
}

// Capabilities reports what the HTTP driver supports.
func (p *HTTPProvider) Capabilities() Capabilities {
	return Capabilities{
		SupportsJSONOutput: true,
		MaxContextLength:   p.cfg.MaxContext,
		SupportedLanguages: []string{"en"},
	}
}
