// Package persistence provides the caller-supplied sinks the
// orchestrator writes to: agent status snapshots and coordination
// messages, with file and SQLite backed implementations.
package persistence

import (
	"context"

	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// SnapshotSink receives agent status snapshots after every task.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, snapshot schema.StatusSnapshot) error
}

// MessageSink receives coordination messages.
type MessageSink interface {
	WriteMessage(ctx context.Context, message schema.CoordinationMessage) error
}

// Sink combines both record kinds.
type Sink interface {
	SnapshotSink
	MessageSink
}

// Discard is a Sink that drops every record. Useful in tests and for
// callers that do not persist.
type Discard struct{}

// WriteSnapshot drops the snapshot.
func (Discard) WriteSnapshot(context.Context, schema.StatusSnapshot) error { return nil }

// WriteMessage drops the message.
func (Discard) WriteMessage(context.Context, schema.CoordinationMessage) error { return nil }
