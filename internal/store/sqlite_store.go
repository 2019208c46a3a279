package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/kataras/golog"

	"github.com/kittclouds/agentlog/pkg/clerr"
)

// schema is applied in a single transaction on open. Forward-only: bumping
// CurrentSchemaVersion requires adding a migration step below, never
// editing a prior CREATE TABLE in place.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	first_seen_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id INTEGER NOT NULL REFERENCES agents(id),
	workspace_id INTEGER NOT NULL REFERENCES workspaces(id),
	external_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	source_path TEXT NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	UNIQUE(agent_id, external_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	msg_idx INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	UNIQUE(conversation_id, msg_idx)
);

CREATE TABLE IF NOT EXISTS snippets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id),
	language TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_version (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	params_hash TEXT NOT NULL,
	result_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_mirror USING fts5(
	content,
	content='messages',
	content_rowid='id',
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_mirror_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_mirror(rowid, content) VALUES (new.id, new.content);
END;

CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// SQLiteStore is the durable relational store: agents, workspaces,
// conversations, messages, snippets, plus the messages_mirror FTS5
// consistency-fallback table. Guarded by an RWMutex the way the teacher
// guards its own single-writer-many-readers SQLite handle.
type SQLiteStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	log *golog.Logger
}

// NewSQLiteStore opens (creating if absent) the relational store at path,
// in WAL mode, and runs the forward-only migration gate.
func NewSQLiteStore(path string, log *golog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	return NewSQLiteStoreWithDSN(dsn, log)
}

// NewSQLiteStoreWithDSN opens the store against an arbitrary DSN — used by
// tests to point at ":memory:"-equivalent temp files.
func NewSQLiteStoreWithDSN(dsn string, log *golog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIOWrite, err).WithHint("could not open relational store")
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return clerr.Wrap(clerr.KindSchemaMismatch, err).WithHint("failed to apply relational schema")
	}

	var version int
	err = tx.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(id, version, applied_at) VALUES (1, ?, ?)`,
			CurrentSchemaVersion, time.Now().Unix()); err != nil {
			return clerr.Wrap(clerr.KindIOWrite, err)
		}
	case err != nil:
		return clerr.Wrap(clerr.KindIORead, err)
	case version > CurrentSchemaVersion:
		return clerr.New(clerr.KindSchemaMismatch,
			fmt.Sprintf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)).
			WithHint("upgrade agentlog to a version that understands this data directory")
	case version < CurrentSchemaVersion:
		if s.log != nil {
			s.log.Infof("migrating relational schema %d -> %d", version, CurrentSchemaVersion)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?, applied_at = ? WHERE id = 1`,
			CurrentSchemaVersion, time.Now().Unix()); err != nil {
			return clerr.Wrap(clerr.KindIOWrite, err)
		}
	}

	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertAgent inserts the agent on first sighting; agents are never deleted.
func (s *SQLiteStore) UpsertAgent(slug, displayName string, seenAt int64) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO agents(slug, display_name, first_seen_at) VALUES (?, ?, ?)
		ON CONFLICT(slug) DO NOTHING`, slug, displayName, seenAt)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIOWrite, err)
	}

	a := &Agent{}
	row := s.db.QueryRow(`SELECT id, slug, display_name, first_seen_at FROM agents WHERE slug = ?`, slug)
	if err := row.Scan(&a.ID, &a.Slug, &a.DisplayName, &a.FirstSeenAt); err != nil {
		return nil, clerr.Wrap(clerr.KindIORead, err)
	}
	return a, nil
}

// UpsertWorkspace resolves path to a Workspace row, creating it if absent.
// An empty path resolves to the sentinel UnknownWorkspacePath.
func (s *SQLiteStore) UpsertWorkspace(path, label string) (*Workspace, error) {
	if path == "" {
		path = UnknownWorkspacePath
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO workspaces(path, label) VALUES (?, ?)
		ON CONFLICT(path) DO NOTHING`, path, label)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIOWrite, err)
	}

	w := &Workspace{}
	row := s.db.QueryRow(`SELECT id, path, label FROM workspaces WHERE path = ?`, path)
	if err := row.Scan(&w.ID, &w.Path, &w.Label); err != nil {
		return nil, clerr.Wrap(clerr.KindIORead, err)
	}
	return w, nil
}

// IngestConversation upserts one conversation and its messages atomically.
// Keyed by (agent_id, external_id); messages keyed by (conversation_id,
// msg_idx) with a content_hash tie-break so unchanged rows are skipped.
// Outside full rebuild this never deletes or rewrites a prior message row.
func (s *SQLiteStore) IngestConversation(agentID, workspaceID int64, nc NormalizedConversationInput) (conversationID int64, newMessages int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, clerr.Wrap(clerr.KindIOWrite, err)
	}
	defer tx.Rollback()

	metaJSON := nc.MetadataJSON
	if metaJSON == "" {
		metaJSON = "{}"
	}

	_, err = tx.Exec(`
		INSERT INTO conversations(agent_id, workspace_id, external_id, title, created_at, updated_at, source_path, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, external_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			title = CASE WHEN conversations.title = '' THEN excluded.title ELSE conversations.title END,
			metadata_json = excluded.metadata_json`,
		agentID, workspaceID, nc.ExternalID, nc.Title, nc.CreatedAt, nc.UpdatedAt, nc.SourcePath, metaJSON)
	if err != nil {
		return 0, 0, clerr.Wrap(clerr.KindIOWrite, err)
	}

	var convID int64
	row := tx.QueryRow(`SELECT id FROM conversations WHERE agent_id = ? AND external_id = ?`, agentID, nc.ExternalID)
	if err := row.Scan(&convID); err != nil {
		return 0, 0, clerr.Wrap(clerr.KindIORead, err)
	}

	for _, m := range nc.Messages {
		var existingHash string
		err := tx.QueryRow(`SELECT content_hash FROM messages WHERE conversation_id = ? AND msg_idx = ?`, convID, m.MsgIdx).Scan(&existingHash)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.Exec(`
				INSERT INTO messages(conversation_id, msg_idx, role, content, created_at, content_hash)
				VALUES (?, ?, ?, ?, ?, ?)`,
				convID, m.MsgIdx, string(m.Role), m.Content, m.CreatedAt, m.ContentHash); err != nil {
				return 0, 0, clerr.Wrap(clerr.KindIOWrite, err)
			}
			newMessages++
		case err != nil:
			return 0, 0, clerr.Wrap(clerr.KindIORead, err)
		case existingHash == m.ContentHash:
			// unchanged row, skip per content_hash tie-break
		default:
			if s.log != nil {
				s.log.Warnf("skipping rewrite of existing msg_idx=%d in conversation %d (append-only)", m.MsgIdx, convID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, clerr.Wrap(clerr.KindIOWrite, err)
	}
	return convID, newMessages, nil
}

// NormalizedConversationInput is the store-facing shape the orchestrator
// passes after flattening a connector's NormalizedConversation.
type NormalizedConversationInput struct {
	ExternalID   string
	Title        string
	CreatedAt    int64
	UpdatedAt    int64
	SourcePath   string
	MetadataJSON string
	Messages     []NormalizedMessageInput
}

// NormalizedMessageInput is one message ready for IngestConversation.
type NormalizedMessageInput struct {
	MsgIdx      int
	Role        Role
	Content     string
	CreatedAt   int64
	ContentHash string
}

// TruncateAll truncates every content table as a paired operation with a
// full-text index rebuild. Never touches source log files.
func (s *SQLiteStore) TruncateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM snippets`,
		`DELETE FROM messages`,
		`DELETE FROM conversations`,
		`DELETE FROM workspaces`,
		`DELETE FROM agents`,
		`INSERT INTO messages_mirror(messages_mirror) VALUES('rebuild')`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return clerr.Wrap(clerr.KindIOWrite, err)
		}
	}
	return tx.Commit()
}

// MirrorSearch is the consistency-fallback search path over the relational
// store's messages_mirror FTS5 table, used only when the dedicated
// full-text index is missing, empty, or stale.
func (s *SQLiteStore) MirrorSearch(query string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT m.id, m.conversation_id, m.msg_idx, m.role, m.content, m.created_at, m.content_hash
		FROM messages_mirror mm
		JOIN messages m ON m.id = mm.rowid
		WHERE messages_mirror MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIORead, err).WithHint("mirror query failed, check FTS5 query syntax")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgIdx, &role, &m.Content, &m.CreatedAt, &m.ContentHash); err != nil {
			return nil, clerr.Wrap(clerr.KindIORead, err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages reports the total message row count, used by the query
// engine's stale-index heuristic.
func (s *SQLiteStore) CountMessages() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, clerr.Wrap(clerr.KindIORead, err)
	}
	return n, nil
}

// exportedConversation is the JSON shape Export/Import exchange.
type exportedConversation struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// Export serializes one conversation and its messages to JSON, preserving
// the Export(conversation) -> Import round-trip law (same roles, same
// content_hash per message).
func (s *SQLiteStore) Export(conversationID int64) ([]byte, error) {
	c, msgs, err := s.ConversationMessages(conversationID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(exportedConversation{Conversation: c, Messages: msgs}, "", "  ")
	if err != nil {
		return nil, clerr.Wrap(clerr.KindParse, err)
	}
	return data, nil
}

// ConversationMessages fetches one conversation and its messages ordered by
// msg_idx. Shared by Export and by the read-only CLI projections
// (expand/timeline/context/view), which each slice or reorder this same
// data differently rather than touching the index.
func (s *SQLiteStore) ConversationMessages(conversationID int64) (Conversation, []Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Conversation
	row := s.db.QueryRow(`
		SELECT id, agent_id, workspace_id, external_id, title, created_at, updated_at, source_path, metadata_json
		FROM conversations WHERE id = ?`, conversationID)
	if err := row.Scan(&c.ID, &c.AgentID, &c.WorkspaceID, &c.ExternalID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.SourcePath, &c.MetadataRaw); err != nil {
		if err == sql.ErrNoRows {
			return Conversation{}, nil, clerr.New(clerr.KindNotFound, fmt.Sprintf("conversation %d not found", conversationID))
		}
		return Conversation{}, nil, clerr.Wrap(clerr.KindIORead, err)
	}

	rows, err := s.db.Query(`
		SELECT id, conversation_id, msg_idx, role, content, created_at, content_hash
		FROM messages WHERE conversation_id = ? ORDER BY msg_idx ASC`, conversationID)
	if err != nil {
		return Conversation{}, nil, clerr.Wrap(clerr.KindIORead, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgIdx, &role, &m.Content, &m.CreatedAt, &m.ContentHash); err != nil {
			return Conversation{}, nil, clerr.Wrap(clerr.KindIORead, err)
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, nil, clerr.Wrap(clerr.KindIORead, err)
	}
	return c, msgs, nil
}

// Import replays a previously Exported conversation back into the store
// under the same (agent_id, external_id) key, going through the same
// upsert/tie-break path as live ingestion.
func (s *SQLiteStore) Import(data []byte) (conversationID int64, err error) {
	var ex exportedConversation
	if err := json.Unmarshal(data, &ex); err != nil {
		return 0, clerr.Wrap(clerr.KindParse, err).WithHint("not a valid agentlog export document")
	}

	input := NormalizedConversationInput{
		ExternalID:   ex.Conversation.ExternalID,
		Title:        ex.Conversation.Title,
		CreatedAt:    ex.Conversation.CreatedAt,
		UpdatedAt:    ex.Conversation.UpdatedAt,
		SourcePath:   ex.Conversation.SourcePath,
		MetadataJSON: ex.Conversation.MetadataRaw,
	}
	for _, m := range ex.Messages {
		input.Messages = append(input.Messages, NormalizedMessageInput{
			MsgIdx:      m.MsgIdx,
			Role:        m.Role,
			Content:     m.Content,
			CreatedAt:   m.CreatedAt,
			ContentHash: m.ContentHash,
		})
	}

	convID, _, err := s.IngestConversation(ex.Conversation.AgentID, ex.Conversation.WorkspaceID, input)
	return convID, err
}

// PutIdempotencyRecord stores the result of an `index --full` invocation
// keyed by its idempotency key, for the 24h replay window.
func (s *SQLiteStore) PutIdempotencyRecord(r IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO idempotency_keys(key, params_hash, result_json, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`, r.Key, r.ParamsHash, r.ResultJSON, r.CreatedAt)
	if err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	return nil
}

// LookupIdempotencyRecord returns the stored record for key if it is still
// within the 24h TTL relative to now, and its params_hash matches
// paramsHash. A params_hash mismatch is reported via ok=false, mismatch=true
// so the caller can surface clerr.KindIdempotencyMismatch.
func (s *SQLiteStore) LookupIdempotencyRecord(key, paramsHash string, now time.Time) (rec IdempotencyRecord, ok bool, mismatch bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT key, params_hash, result_json, created_at FROM idempotency_keys WHERE key = ?`, key)
	if err := row.Scan(&rec.Key, &rec.ParamsHash, &rec.ResultJSON, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return IdempotencyRecord{}, false, false, nil
		}
		return IdempotencyRecord{}, false, false, clerr.Wrap(clerr.KindIORead, err)
	}

	const ttl = 24 * time.Hour
	if now.Sub(time.Unix(rec.CreatedAt, 0)) > ttl {
		return IdempotencyRecord{}, false, false, nil
	}
	if rec.ParamsHash != paramsHash {
		return rec, false, true, nil
	}
	return rec, true, false, nil
}
