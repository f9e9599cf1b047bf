package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LoggerConfig
	}{
		{
			name: "json format with debug level",
			config: LoggerConfig{
				Level:     "debug",
				Format:    "json",
				AddSource: true,
			},
		},
		{
			name: "text format with info level",
			config: LoggerConfig{
				Level:  "info",
				Format: "text",
			},
		},
		{
			name:   "unknown level falls back to info",
			config: LoggerConfig{Level: "chatty", Format: "json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger := NewLogger(tt.config)
			require.NotNil(t, logger)
			logger.Info("hello")
			assert.Contains(t, buf.String(), "hello")
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestContextFieldsStampedOnRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "info", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), AgentIDKey, "frontend-agent-1")
	ctx = context.WithValue(ctx, SessionIDKey, "sess-9")
	ctx = context.WithValue(ctx, TaskIDKey, "t1")

	logger.InfoContext(ctx, "working")

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record))
	assert.Equal(t, "frontend-agent-1", record["agent_id"])
	assert.Equal(t, "sess-9", record["session_id"])
	assert.Equal(t, "t1", record["task_id"])
}

func TestDomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "info", Format: "json", Output: &buf})

	ctx := context.Background()
	logger.LogDelegation(ctx, "t1", "Frontend", 0.85)
	logger.LogProviderCall(ctx, "claude-cli", true, 1500*time.Millisecond)
	logger.LogTaskExecution(ctx, "t1", true, 2*time.Second)

	out := buf.String()
	assert.Contains(t, out, "task_delegated")
	assert.Contains(t, out, "provider_call")
	assert.Contains(t, out, "task_executed")
}

func TestWithReturnsDerivedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "info", Format: "json", Output: &buf})

	derived := logger.With("role", "QA")
	derived.Info("scoped")

	assert.Contains(t, buf.String(), `"role":"QA"`)
}
