// Package store persists background agents, their run history, injected
// messages, long-term memory, and hooks in a single SQLite database. Agent
// records are stored as JSON documents with the columns the scheduler
// queries (status, next run) broken out and indexed.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nightshift-run/nightshift/internal/background"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS background_agents (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	next_run_at INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_status ON background_agents(status, next_run_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name ON background_agents(name);

CREATE TABLE IF NOT EXISTS agent_events (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	run_id      TEXT,
	type        TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_agent ON agent_events(agent_id, created_at DESC);

CREATE TABLE IF NOT EXISTS agent_messages (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_agent ON agent_messages(agent_id, status, created_at);

CREATE TABLE IF NOT EXISTS memory_entries (
	id          TEXT PRIMARY KEY,
	scope_key   TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL,
	tags        TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory_entries(scope_key, created_at DESC);

CREATE TABLE IF NOT EXISTS hooks (
	id          TEXT PRIMARY KEY,
	enabled     INTEGER NOT NULL DEFAULT 1,
	data        TEXT NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. Parent directories are created.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent scheduler and executor writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = fmt.Errorf("not found")

// SaveAgent inserts or replaces an agent record.
func (s *Store) SaveAgent(a *background.Agent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO background_agents (id, name, status, next_run_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		a.ID, a.Name, string(a.Status), a.NextRunAt, a.UpdatedAt, string(data),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("agent name %q already in use", a.Name)
		}
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// AgentByName loads an agent by its unique name.
func (s *Store) AgentByName(name string) (*background.Agent, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM background_agents WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by name: %w", err)
	}
	return decodeAgent(data)
}

// GetAgent loads one agent by id.
func (s *Store) GetAgent(id string) (*background.Agent, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM background_agents WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return decodeAgent(data)
}

// ListAgents returns all agents, newest updates first.
func (s *Store) ListAgents() ([]*background.Agent, error) {
	return s.queryAgents(`SELECT data FROM background_agents ORDER BY updated_at DESC`)
}

// ListByStatus returns agents in the given status.
func (s *Store) ListByStatus(status background.Status) ([]*background.Agent, error) {
	return s.queryAgents(
		`SELECT data FROM background_agents WHERE status = ? ORDER BY updated_at DESC`,
		string(status),
	)
}

// ListDue returns active agents whose next run time has arrived, soonest
// first. This is the scheduler's tick query.
func (s *Store) ListDue(now int64) ([]*background.Agent, error) {
	return s.queryAgents(`
		SELECT data FROM background_agents
		WHERE status = ? AND next_run_at > 0 AND next_run_at <= ?
		ORDER BY next_run_at ASC`,
		string(background.StatusActive), now,
	)
}

// DeleteAgent removes an agent and its events and messages.
func (s *Store) DeleteAgent(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM background_agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if _, err := tx.Exec(`DELETE FROM agent_events WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("delete agent events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM agent_messages WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("delete agent messages: %w", err)
	}
	return tx.Commit()
}

// RecoverStaleRunning resets agents stuck in Running back to Active. Called
// once at startup: a Running row with no live process is a crash leftover.
// The next run time is recomputed so the agent re-enters the schedule.
func (s *Store) RecoverStaleRunning(now int64) (int, error) {
	agents, err := s.ListByStatus(background.StatusRunning)
	if err != nil {
		return 0, err
	}
	for _, a := range agents {
		a.Status = background.StatusActive
		a.NextRunAt = a.Schedule.Next(now)
		if !a.Schedule.Recurring() {
			// A one-shot whose moment passed while we were down still
			// deserves its run.
			if a.NextRunAt == 0 {
				a.NextRunAt = now
			}
		}
		a.UpdatedAt = now
		if err := s.SaveAgent(a); err != nil {
			return 0, err
		}
	}
	return len(agents), nil
}

func (s *Store) queryAgents(query string, args ...any) ([]*background.Agent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var out []*background.Agent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		a, err := decodeAgent(data)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func decodeAgent(data string) (*background.Agent, error) {
	var a background.Agent
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	return &a, nil
}

// AppendEvent adds an event to an agent's run history.
func (s *Store) AppendEvent(e *background.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agent_events (id, agent_id, run_id, type, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, e.RunID, string(e.Type), e.CreatedAt, string(data),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events for an agent, newest first.
func (s *Store) ListEvents(agentID string, limit int) ([]*background.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT data FROM agent_events
		WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*background.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e background.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveMessage inserts or updates an injected message.
func (s *Store) SaveMessage(m *background.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agent_messages (id, agent_id, status, created_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data`,
		m.ID, m.AgentID, string(m.Status), m.CreatedAt, string(data),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent messages for an agent, newest first.
func (s *Store) ListMessages(agentID string, limit int) ([]*background.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryMessages(`
		SELECT data FROM agent_messages
		WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, agentID, limit)
}

// QueuedMessages returns undelivered messages for an agent, oldest first, so
// a run consumes them in arrival order.
func (s *Store) QueuedMessages(agentID string) ([]*background.Message, error) {
	return s.queryMessages(`
		SELECT data FROM agent_messages
		WHERE agent_id = ? AND status = ?
		ORDER BY created_at ASC`, agentID, string(background.MessageQueued))
}

func (s *Store) queryMessages(query string, args ...any) ([]*background.Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*background.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var m background.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MemoryEntry is one persisted long-term memory record.
type MemoryEntry struct {
	ID        string   `json:"id"`
	ScopeKey  string   `json:"scope_key"`
	Title     string   `json:"title,omitempty"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// SaveMemory persists one memory entry. Tags are stored as a JSON array.
func (s *Store) SaveMemory(e *MemoryEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	tags, err := encodeTags(e.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO memory_entries (id, scope_key, title, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ScopeKey, e.Title, e.Content, tags, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// ListMemory returns entries for a scope, newest first.
func (s *Store) ListMemory(scopeKey string, limit int) ([]*MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, scope_key, title, content, tags, created_at FROM memory_entries
		WHERE scope_key = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, scopeKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()

	var out []*MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var tags string
		if err := rows.Scan(&e.ID, &e.ScopeKey, &e.Title, &e.Content, &tags, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteMemory removes one entry from a scope.
func (s *Store) DeleteMemory(scopeKey, id string) error {
	res, err := s.db.Exec(`DELETE FROM memory_entries WHERE scope_key = ? AND id = ?`, scopeKey, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClearMemory removes every entry in a scope and reports how many were
// deleted.
func (s *Store) ClearMemory(scopeKey string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM memory_entries WHERE scope_key = ?`, scopeKey)
	if err != nil {
		return 0, fmt.Errorf("clear memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}
