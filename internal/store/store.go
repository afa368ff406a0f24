// Package store is the SQLite-backed persistence layer for sessions,
// messages, the three-tier memory graph, and the agent's working-memory and
// audit-log state. It mirrors the teacher's database-interface layer
// (FullTextSearch/VectorStore/GraphDB split) but collapses them onto one
// embedded SQLite file via modernc.org/sqlite, since the daemon is
// local-first and carries no external database dependency.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection. modernc.org/sqlite serializes writes
// internally, but the teacher's persistence layer additionally guards every
// call with a mutex to keep WAL checkpointing predictable under concurrent
// agent turns; kept here for the same reason.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path, applies the
// schema, and enables WAL mode.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path reports the absolute filesystem path of the open database file, used
// by the secure-GC re-pad routine to rewrite the file in place.
func (s *Store) Path() (string, error) {
	var file string
	row := s.db.QueryRow(`PRAGMA database_list;`)
	var seq int
	var name string
	if err := row.Scan(&seq, &name, &file); err != nil {
		return "", fmt.Errorf("store: read database_list: %w", err)
	}
	return file, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	agent_id       TEXT NOT NULL,
	label          TEXT,
	model          TEXT NOT NULL,
	system_prompt  TEXT,
	message_count  INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	tool_calls_json TEXT,
	tool_call_id    TEXT,
	name            TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS episodic_memories (
	id                   TEXT PRIMARY KEY,
	full_content         TEXT,
	summary              TEXT,
	key_fact             TEXT,
	tags_json            TEXT,
	category             TEXT,
	importance           REAL NOT NULL DEFAULT 5,
	agent_id             TEXT NOT NULL,
	session_id           TEXT,
	channel_user         TEXT,
	source               TEXT NOT NULL,
	consolidation_state  TEXT NOT NULL DEFAULT 'fresh',
	strength             REAL NOT NULL DEFAULT 1.0,
	embedding            BLOB,
	embedding_model      TEXT,
	inferred_metadata_json TEXT,
	negative_contexts_json TEXT,
	access_count         INTEGER NOT NULL DEFAULT 0,
	last_accessed_at     TEXT,
	created_at           TEXT NOT NULL,
	security_tier        TEXT NOT NULL DEFAULT 'cleartext',
	cleartext_summary    TEXT
);
CREATE INDEX IF NOT EXISTS idx_episodic_agent ON episodic_memories(agent_id);
CREATE INDEX IF NOT EXISTS idx_episodic_state ON episodic_memories(consolidation_state);

CREATE VIRTUAL TABLE IF NOT EXISTS episodic_memories_fts USING fts5(
	id UNINDEXED, full_content, summary, key_fact, tags,
	content='', tokenize='porter unicode61'
);

CREATE TABLE IF NOT EXISTS semantic_memories (
	id                 TEXT PRIMARY KEY,
	subject            TEXT NOT NULL,
	predicate          TEXT NOT NULL,
	object             TEXT NOT NULL,
	full_text          TEXT NOT NULL,
	category           TEXT,
	confidence         REAL NOT NULL DEFAULT 0.5,
	is_user_explicit   INTEGER NOT NULL DEFAULT 0,
	contradiction_of   TEXT,
	scope              TEXT NOT NULL,
	embedding          BLOB,
	embedding_model    TEXT,
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_semantic_spo ON semantic_memories(subject, predicate);

CREATE VIRTUAL TABLE IF NOT EXISTS semantic_memories_fts USING fts5(
	id UNINDEXED, full_text, content='', tokenize='porter unicode61'
);

CREATE TABLE IF NOT EXISTS procedural_memories (
	id            TEXT PRIMARY KEY,
	trigger       TEXT NOT NULL,
	steps_json    TEXT NOT NULL,
	success_rate  REAL NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_edges (
	source_id   TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	edge_type   TEXT NOT NULL,
	weight      REAL NOT NULL DEFAULT 0.5,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id, edge_type)
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON memory_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON memory_edges(target_id);

CREATE TABLE IF NOT EXISTS memory_audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	action      TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	session_id  TEXT,
	details     TEXT,
	at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS working_memory_snapshots (
	agent_id    TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	slots_json  TEXT NOT NULL,
	momentum_json TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (agent_id, session_id)
);

CREATE TABLE IF NOT EXISTS engine_config (
	key    TEXT PRIMARY KEY,
	value  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_files (
	agent_id    TEXT NOT NULL,
	file_name   TEXT NOT NULL,
	content     TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (agent_id, file_name)
);
`

func (s *Store) migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}
