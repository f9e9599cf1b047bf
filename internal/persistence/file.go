package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// ErrUnsafeAgentID indicates an agent id that cannot be used as a file
// name component.
var ErrUnsafeAgentID = errors.New("unsafe agent id")

// FileSink persists records to disk: one pretty-printed JSON status file
// per agent, and an append-only JSON-lines coordination log.
type FileSink struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileSink creates the base directory and returns a sink.
func NewFileSink(baseDir string) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FileSink{baseDir: baseDir}, nil
}

// snapshotPath maps an agent id to its status file. Agent ids are
// minted by the identity package, but they cross a trust boundary on
// the read path, so anything that could navigate the filesystem is
// rejected before joining.
func (f *FileSink) snapshotPath(agentID string) (string, error) {
	if agentID == "" ||
		strings.ContainsAny(agentID, `/\`) ||
		strings.Contains(agentID, "..") {
		return "", fmt.Errorf("%w: %q", ErrUnsafeAgentID, agentID)
	}
	return filepath.Join(f.baseDir, "status-"+agentID+".json"), nil
}

// WriteSnapshot replaces the agent's status file.
func (f *FileSink) WriteSnapshot(ctx context.Context, snapshot schema.StatusSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.snapshotPath(snapshot.AgentID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads an agent's latest status file.
func (f *FileSink) ReadSnapshot(ctx context.Context, agentID string) (schema.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.snapshotPath(agentID)
	if err != nil {
		return schema.StatusSnapshot{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return schema.StatusSnapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snapshot schema.StatusSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return schema.StatusSnapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// WriteMessage appends one coordination message to the log.
func (f *FileSink) WriteMessage(ctx context.Context, message schema.CoordinationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	path := filepath.Join(f.baseDir, "coordination.jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open coordination log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}
