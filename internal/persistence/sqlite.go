package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ferg-cod3s/conductor/pkg/schema"
)

// SQLiteStore records status snapshots and coordination messages in
// SQLite so outer tooling can query orchestration history.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the store. The path can be
// ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// For :memory: databases, limit to 1 connection so all goroutines
	// share the same database; the pool would otherwise create separate
	// in-memory databases per connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS status_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			state TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_agent ON status_snapshots(agent_id);

		CREATE TABLE IF NOT EXISTS coordination_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			sent_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_kind ON coordination_messages(kind);
	`)
	return err
}

// WriteSnapshot appends one status snapshot.
func (s *SQLiteStore) WriteSnapshot(ctx context.Context, snapshot schema.StatusSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO status_snapshots (agent_id, role, state, snapshot, created_at) VALUES (?, ?, ?, ?, ?)`,
		snapshot.AgentID, snapshot.Role, string(snapshot.Status.State), string(payload),
		snapshot.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for an agent.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, agentID string) (schema.StatusSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM status_snapshots WHERE agent_id = ? ORDER BY id DESC LIMIT 1`, agentID)

	var payload string
	if err := row.Scan(&payload); err != nil {
		return schema.StatusSnapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	var snapshot schema.StatusSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return schema.StatusSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, nil
}

// WriteMessage appends one coordination message.
func (s *SQLiteStore) WriteMessage(ctx context.Context, message schema.CoordinationMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO coordination_messages (from_agent, to_agent, kind, message, sent_at) VALUES (?, ?, ?, ?, ?)`,
		message.From, message.To, string(message.Kind), string(payload),
		message.SentAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessagesByKind returns every stored message of one kind, oldest first.
func (s *SQLiteStore) MessagesByKind(ctx context.Context, kind schema.MessageKind) ([]schema.CoordinationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message FROM coordination_messages WHERE kind = ? ORDER BY id ASC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []schema.CoordinationMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var message schema.CoordinationMessage
		if err := json.Unmarshal([]byte(payload), &message); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
