package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/conductor/pkg/schema"
)

func testSnapshot() schema.StatusSnapshot {
	return schema.StatusSnapshot{
		AgentID:   "frontend-agent-1",
		Role:      "Frontend",
		Status:    schema.StatusAvailable,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Workspace: "/work/agents/frontend-agent-1",
		TaskHistory: schema.TaskHistorySummary{
			Total: 2, Successful: 1, Failed: 1,
		},
	}
}

func TestFileSinkSnapshotRoundTrip(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	want := testSnapshot()
	require.NoError(t, sink.WriteSnapshot(ctx, want))

	got, err := sink.ReadSnapshot(ctx, want.AgentID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileSinkSnapshotOverwrite(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := testSnapshot()
	require.NoError(t, sink.WriteSnapshot(ctx, first))

	second := first
	second.Status = schema.StatusWorking
	require.NoError(t, sink.WriteSnapshot(ctx, second))

	got, err := sink.ReadSnapshot(ctx, first.AgentID)
	require.NoError(t, err)
	assert.Equal(t, schema.StateWorking, got.Status.State)
}

func TestFileSinkRejectsUnsafeAgentIDs(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, agentID := range []string{"", "../escape", "a/b", `a\b`, "agent..1"} {
		snapshot := testSnapshot()
		snapshot.AgentID = agentID
		assert.ErrorIs(t, sink.WriteSnapshot(ctx, snapshot), ErrUnsafeAgentID, "agent id %q", agentID)

		_, err := sink.ReadSnapshot(ctx, agentID)
		assert.ErrorIs(t, err, ErrUnsafeAgentID, "agent id %q", agentID)
	}
}

func TestFileSinkAppendsMessages(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.WriteMessage(ctx, schema.CoordinationMessage{
			From: "master", To: "frontend", Kind: schema.MessageTaskAssigned,
			SentAt: time.Now().UTC(),
		}))
	}
}

func TestSQLiteStoreSnapshotRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	want := testSnapshot()
	require.NoError(t, store.WriteSnapshot(ctx, want))

	newer := want
	newer.Status = schema.StatusWorking
	newer.Timestamp = newer.Timestamp.Add(time.Minute)
	require.NoError(t, store.WriteSnapshot(ctx, newer))

	got, err := store.LatestSnapshot(ctx, want.AgentID)
	require.NoError(t, err)
	assert.Equal(t, schema.StateWorking, got.Status.State)
}

func TestSQLiteStoreMessagesByKind(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	assigned := schema.CoordinationMessage{
		From: "master", To: "qa", Kind: schema.MessageTaskAssigned,
		Payload: map[string]any{"task_id": "t1"},
		SentAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	remediation := schema.CoordinationMessage{
		From: "master", To: "backend", Kind: schema.MessageRemediation,
		SentAt: time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	}
	require.NoError(t, store.WriteMessage(ctx, assigned))
	require.NoError(t, store.WriteMessage(ctx, remediation))

	got, err := store.MessagesByKind(ctx, schema.MessageTaskAssigned)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "qa", got[0].To)
	assert.Equal(t, "t1", got[0].Payload["task_id"])
}

func TestSQLiteStoreLatestSnapshotMissing(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.LatestSnapshot(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestDiscardSink(t *testing.T) {
	var sink Sink = Discard{}
	assert.NoError(t, sink.WriteSnapshot(context.Background(), testSnapshot()))
	assert.NoError(t, sink.WriteMessage(context.Background(), schema.CoordinationMessage{}))
}
