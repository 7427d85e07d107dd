package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// SQLiteStore is the per-persona embedded database. One instance guards one
// *sql.DB behind a single reentrant-in-spirit lock: write paths take mu.Lock,
// single-statement reads take mu.RLock, matching §4.1/§5.
type SQLiteStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	dsn string
}

var _ Storer = (*SQLiteStore)(nil)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    resource_id TEXT NOT NULL,
    overview TEXT,
    overview_updated_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_resource ON threads(resource_id);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    thread_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    resource_id TEXT,
    created_at INTEGER NOT NULL,
    metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_resource ON messages(resource_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE TABLE IF NOT EXISTS message_embeddings (
    message_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    vector TEXT NOT NULL,
    PRIMARY KEY (message_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS arasuji_entries (
    id TEXT PRIMARY KEY,
    level INTEGER NOT NULL,
    content TEXT NOT NULL,
    source_ids TEXT NOT NULL,
    start_time INTEGER NOT NULL,
    end_time INTEGER NOT NULL,
    source_count INTEGER NOT NULL,
    message_count INTEGER NOT NULL,
    parent_id TEXT,
    is_consolidated INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_arasuji_level ON arasuji_entries(level);
CREATE INDEX IF NOT EXISTS idx_arasuji_end_time ON arasuji_entries(end_time);
CREATE INDEX IF NOT EXISTS idx_arasuji_parent ON arasuji_entries(parent_id);

CREATE TABLE IF NOT EXISTS arasuji_progress (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_processed_message_id TEXT,
    last_processed_at INTEGER
);

CREATE TABLE IF NOT EXISTS memopedia_pages (
    id TEXT PRIMARY KEY,
    parent_id TEXT,
    title TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    keywords TEXT NOT NULL DEFAULT '[]',
    vividness TEXT NOT NULL DEFAULT 'rough',
    is_trunk INTEGER NOT NULL DEFAULT 0,
    is_important INTEGER NOT NULL DEFAULT 0,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memopedia_category ON memopedia_pages(category);
CREATE INDEX IF NOT EXISTS idx_memopedia_deleted ON memopedia_pages(is_deleted);
CREATE INDEX IF NOT EXISTS idx_memopedia_parent ON memopedia_pages(parent_id);

CREATE TABLE IF NOT EXISTS memopedia_edit_history (
    id TEXT PRIMARY KEY,
    page_id TEXT NOT NULL,
    edited_at INTEGER NOT NULL,
    diff_text TEXT NOT NULL,
    ref_start_message_id TEXT,
    ref_end_message_id TEXT,
    edit_type TEXT NOT NULL,
    edit_source TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_memopedia_edit_page ON memopedia_edit_history(page_id, edited_at);

CREATE TABLE IF NOT EXISTS page_state (
    thread_id TEXT NOT NULL,
    page_id TEXT NOT NULL,
    is_open INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (thread_id, page_id)
);
`

// migrations[i] is applied to bring the database from user_version i to
// i+1; each step must be idempotent, since a fresh database and a database
// already at that version can both run it (§4.1: "Migrations are keyed by
// a single integer user_version; each migration step adds tables/columns
// idempotently and bumps the version"). The PRAGMA user_version read at
// open decides which steps, if any, still need to run.
var migrations = []string{
	schema,
	// Normalize the "events" Memopedia category the older routes used to
	// "terms", the category the newer routes and this schema use (spec's
	// Open Question resolution on get_tree's people|events|plans vs.
	// people|terms|plans split).
	`UPDATE memopedia_pages SET category = 'terms' WHERE category = 'events';`,
}

// migrate advances db to len(migrations) by applying whichever steps are
// still pending past its current PRAGMA user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return weaveerr.TransientIO(err, "read schema version")
	}
	for version < len(migrations) {
		if _, err := db.Exec(migrations[version]); err != nil {
			return weaveerr.TransientIO(err, "apply migration %d", version+1)
		}
		version++
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			return weaveerr.TransientIO(err, "bump schema version to %d", version)
		}
	}
	return nil
}

// NewSQLiteStore opens dsn (a file path, or ":memory:") and applies the
// schema and the required PRAGMAs (§4.1: WAL, foreign_keys, busy_timeout).
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "open database %s", dsn)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, weaveerr.TransientIO(err, "apply pragma %q", p)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, dsn: dsn}
	if err := s.InitMemopediaRoots(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot writes a consistent, online copy of the database to destPath
// using SQLite's own VACUUM INTO (the RDBMS online-backup API per §4.1),
// then checkpoints and flips the destination out of WAL mode so the single
// resulting file is safe to archive or hash, matching the destination
// handling in original_source/sai_memory/backup.py's _sqlite_snapshot.
func (s *SQLiteStore) Snapshot(destPath string) error {
	s.mu.RLock()
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	s.mu.RUnlock()
	if err != nil {
		return weaveerr.TransientIO(err, "snapshot database to %s", destPath)
	}

	dst, err := sql.Open("sqlite3", destPath)
	if err != nil {
		return weaveerr.TransientIO(err, "open snapshot %s", destPath)
	}
	defer dst.Close()

	for _, p := range []string{"PRAGMA wal_checkpoint(TRUNCATE)", "PRAGMA journal_mode = DELETE"} {
		if _, err := dst.Exec(p); err != nil {
			return weaveerr.TransientIO(err, "finalize snapshot %s", destPath)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func now() int64 { return time.Now().Unix() }

// =============================================================================
// Threads
// =============================================================================

func (s *SQLiteStore) UpsertThread(t *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO threads (id, resource_id, overview, overview_updated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_id = excluded.resource_id,
			overview = excluded.overview,
			overview_updated_at = excluded.overview_updated_at,
			updated_at = excluded.updated_at
	`, t.ID, t.ResourceID, nullable(t.Overview), t.OverviewUpdated, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return weaveerr.TransientIO(err, "upsert thread %s", t.ID)
	}
	return nil
}

func (s *SQLiteStore) GetThread(id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Thread
	var overview sql.NullString
	var overviewUpdated sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, resource_id, overview, overview_updated_at, created_at, updated_at
		FROM threads WHERE id = ?
	`, id).Scan(&t.ID, &t.ResourceID, &overview, &overviewUpdated, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, weaveerr.NotFound("thread %s", id)
	}
	if err != nil {
		return nil, weaveerr.TransientIO(err, "get thread %s", id)
	}
	t.Overview = overview.String
	t.OverviewUpdated = overviewUpdated.Int64
	return &t, nil
}

func (s *SQLiteStore) DeleteThread(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		return weaveerr.TransientIO(err, "delete thread messages %s", id)
	}
	if _, err := s.db.Exec(`DELETE FROM threads WHERE id = ?`, id); err != nil {
		return weaveerr.TransientIO(err, "delete thread %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListThreads(resourceID string) ([]*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, resource_id, overview, overview_updated_at, created_at, updated_at
		FROM threads WHERE resource_id = ? ORDER BY created_at
	`, resourceID)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list threads for %s", resourceID)
	}
	defer rows.Close()

	var out []*Thread
	for rows.Next() {
		var t Thread
		var overview sql.NullString
		var overviewUpdated sql.NullInt64
		if err := rows.Scan(&t.ID, &t.ResourceID, &overview, &overviewUpdated, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, weaveerr.TransientIO(err, "scan thread")
		}
		t.Overview = overview.String
		t.OverviewUpdated = overviewUpdated.Int64
		out = append(out, &t)
	}
	return out, rows.Err()
}

// =============================================================================
// Messages
// =============================================================================

func (s *SQLiteStore) AppendMessage(m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO messages (id, thread_id, role, content, resource_id, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ThreadID, m.Role, m.Content, nullable(m.ResourceID), m.CreatedAt, nullable(m.Metadata))
	if err != nil {
		return weaveerr.TransientIO(err, "append message %s", m.ID)
	}
	return nil
}

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var resourceID, metadata sql.NullString
	if err := row.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &resourceID, &m.CreatedAt, &metadata); err != nil {
		return nil, err
	}
	m.ResourceID = resourceID.String
	m.Metadata = metadata.String
	return &m, nil
}

func (s *SQLiteStore) GetMessage(id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, thread_id, role, content, resource_id, created_at, metadata
		FROM messages WHERE id = ?
	`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, weaveerr.NotFound("message %s", id)
	}
	if err != nil {
		return nil, weaveerr.TransientIO(err, "get message %s", id)
	}
	return m, nil
}

func (s *SQLiteStore) ListThreadMessages(threadID string, offset, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, thread_id, role, content, resource_id, created_at, metadata
		FROM messages WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, threadID, limit, offset)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list messages for thread %s", threadID)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, weaveerr.TransientIO(err, "scan message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountThreadMessages(threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&n)
	if err != nil {
		return 0, weaveerr.TransientIO(err, "count messages for thread %s", threadID)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateMessageContent(id, content, metadata string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE messages SET content = ?, metadata = ? WHERE id = ?`, content, nullable(metadata), id)
	if err != nil {
		return weaveerr.TransientIO(err, "update message %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return weaveerr.NotFound("message %s", id)
	}
	if _, err := s.db.Exec(`DELETE FROM message_embeddings WHERE message_id = ?`, id); err != nil {
		return weaveerr.TransientIO(err, "clear embeddings for message %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM message_embeddings WHERE message_id = ?`, id); err != nil {
		return weaveerr.TransientIO(err, "delete embeddings for message %s", id)
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		return weaveerr.TransientIO(err, "delete message %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteThreadMessages(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM message_embeddings WHERE message_id IN (SELECT id FROM messages WHERE thread_id = ?)
	`, threadID)
	if err != nil {
		return weaveerr.TransientIO(err, "delete embeddings for thread %s", threadID)
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return weaveerr.TransientIO(err, "delete messages for thread %s", threadID)
	}
	return nil
}

func (s *SQLiteStore) ListMessagesByResource(resourceID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, thread_id, role, content, resource_id, created_at, metadata
		FROM messages WHERE resource_id = ?
		ORDER BY created_at ASC, id ASC
	`, resourceID)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list messages for resource %s", resourceID)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, weaveerr.TransientIO(err, "scan message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListAllMessagesChronological() ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, thread_id, role, content, resource_id, created_at, metadata
		FROM messages ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list all messages")
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, weaveerr.TransientIO(err, "scan message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// Embedding chunks
// =============================================================================

func (s *SQLiteStore) ReplaceMessageEmbeddings(messageID string, chunks []EmbeddingChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return weaveerr.TransientIO(err, "begin tx for embeddings %s", messageID)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM message_embeddings WHERE message_id = ?`, messageID); err != nil {
		return weaveerr.TransientIO(err, "clear embeddings %s", messageID)
	}
	for _, c := range chunks {
		vecJSON, err := json.Marshal(c.Vector)
		if err != nil {
			return weaveerr.Invalid("marshal vector for message %s chunk %d", messageID, c.ChunkIndex)
		}
		_, err = tx.Exec(`
			INSERT INTO message_embeddings (message_id, chunk_index, content, vector)
			VALUES (?, ?, ?, ?)
		`, messageID, c.ChunkIndex, c.Content, string(vecJSON))
		if err != nil {
			return weaveerr.TransientIO(err, "insert embedding %s chunk %d", messageID, c.ChunkIndex)
		}
	}
	if err := tx.Commit(); err != nil {
		return weaveerr.TransientIO(err, "commit embeddings %s", messageID)
	}
	return nil
}

func scanEmbeddingRows(rows *sql.Rows) (map[string][]EmbeddingChunk, error) {
	out := make(map[string][]EmbeddingChunk)
	for rows.Next() {
		var c EmbeddingChunk
		var vecJSON string
		if err := rows.Scan(&c.MessageID, &c.ChunkIndex, &c.Content, &vecJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(vecJSON), &c.Vector); err != nil {
			return nil, fmt.Errorf("decode vector for %s chunk %d: %w", c.MessageID, c.ChunkIndex, err)
		}
		out[c.MessageID] = append(out[c.MessageID], c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMessageEmbeddings(messageID string) ([]EmbeddingChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT message_id, chunk_index, content, vector FROM message_embeddings
		WHERE message_id = ? ORDER BY chunk_index
	`, messageID)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "get embeddings %s", messageID)
	}
	defer rows.Close()

	byMsg, err := scanEmbeddingRows(rows)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "scan embeddings %s", messageID)
	}
	return byMsg[messageID], nil
}

func (s *SQLiteStore) ListEmbeddingsForMessages(messageIDs []string) (map[string][]EmbeddingChunk, error) {
	if len(messageIDs) == 0 {
		return map[string][]EmbeddingChunk{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(messageIDs))
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`
		SELECT message_id, chunk_index, content, vector FROM message_embeddings
		WHERE message_id IN (%s)
	`, strings.Join(placeholders, ","))
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list embeddings for messages")
	}
	defer rows.Close()
	byMsg, err := scanEmbeddingRows(rows)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "scan embeddings")
	}
	return byMsg, nil
}

func (s *SQLiteStore) ListEmbeddingsForThread(threadID string) (map[string][]EmbeddingChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT e.message_id, e.chunk_index, e.content, e.vector
		FROM message_embeddings e
		JOIN messages m ON m.id = e.message_id
		WHERE m.thread_id = ?
	`, threadID)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list embeddings for thread %s", threadID)
	}
	defer rows.Close()
	byMsg, err := scanEmbeddingRows(rows)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "scan embeddings for thread %s", threadID)
	}
	return byMsg, nil
}

func (s *SQLiteStore) ListEmbeddingsForResource(resourceID string) (map[string][]EmbeddingChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT e.message_id, e.chunk_index, e.content, e.vector
		FROM message_embeddings e
		JOIN messages m ON m.id = e.message_id
		WHERE m.resource_id = ?
	`, resourceID)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list embeddings for resource %s", resourceID)
	}
	defer rows.Close()
	byMsg, err := scanEmbeddingRows(rows)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "scan embeddings for resource %s", resourceID)
	}
	return byMsg, nil
}

// =============================================================================
// Chronicle entries
// =============================================================================

func (s *SQLiteStore) CreateChronicleEntry(e *ChronicleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createChronicleEntryLocked(e)
}

func (s *SQLiteStore) createChronicleEntryLocked(e *ChronicleEntry) error {
	srcJSON, err := json.Marshal(e.SourceIDs)
	if err != nil {
		return weaveerr.Invalid("marshal source_ids for entry %s", e.ID)
	}
	_, err = s.db.Exec(`
		INSERT INTO arasuji_entries (id, level, content, source_ids, start_time, end_time,
			source_count, message_count, parent_id, is_consolidated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Level, e.Content, string(srcJSON), e.StartTime, e.EndTime,
		e.SourceCount, e.MessageCount, nullable(e.ParentID), boolToInt(e.IsConsolidated), e.CreatedAt)
	if err != nil {
		return weaveerr.TransientIO(err, "create chronicle entry %s", e.ID)
	}
	return nil
}

func scanChronicleEntry(row interface{ Scan(...any) error }) (*ChronicleEntry, error) {
	var e ChronicleEntry
	var srcJSON string
	var parentID sql.NullString
	var isConsolidated int
	if err := row.Scan(&e.ID, &e.Level, &e.Content, &srcJSON, &e.StartTime, &e.EndTime,
		&e.SourceCount, &e.MessageCount, &parentID, &isConsolidated, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(srcJSON), &e.SourceIDs); err != nil {
		return nil, fmt.Errorf("decode source_ids for entry %s: %w", e.ID, err)
	}
	e.ParentID = parentID.String
	e.IsConsolidated = isConsolidated != 0
	return &e, nil
}

const chronicleSelectCols = `id, level, content, source_ids, start_time, end_time, source_count, message_count, parent_id, is_consolidated, created_at`

func (s *SQLiteStore) GetChronicleEntry(id string) (*ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+chronicleSelectCols+` FROM arasuji_entries WHERE id = ?`, id)
	e, err := scanChronicleEntry(row)
	if err == sql.ErrNoRows {
		return nil, weaveerr.NotFound("chronicle entry %s", id)
	}
	if err != nil {
		return nil, weaveerr.TransientIO(err, "get chronicle entry %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) UpdateChronicleEntry(e *ChronicleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcJSON, err := json.Marshal(e.SourceIDs)
	if err != nil {
		return weaveerr.Invalid("marshal source_ids for entry %s", e.ID)
	}
	res, err := s.db.Exec(`
		UPDATE arasuji_entries SET content = ?, source_ids = ?, start_time = ?, end_time = ?,
			source_count = ?, message_count = ?, parent_id = ?, is_consolidated = ?
		WHERE id = ?
	`, e.Content, string(srcJSON), e.StartTime, e.EndTime, e.SourceCount, e.MessageCount,
		nullable(e.ParentID), boolToInt(e.IsConsolidated), e.ID)
	if err != nil {
		return weaveerr.TransientIO(err, "update chronicle entry %s", e.ID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return weaveerr.NotFound("chronicle entry %s", e.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteChronicleEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM arasuji_entries WHERE id = ?`, id)
	if err != nil {
		return weaveerr.TransientIO(err, "delete chronicle entry %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return weaveerr.NotFound("chronicle entry %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListChronicleEntriesByLevel(level int) ([]*ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+chronicleSelectCols+` FROM arasuji_entries WHERE level = ? ORDER BY start_time`, level)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list chronicle entries level %d", level)
	}
	defer rows.Close()
	return scanChronicleEntries(rows)
}

func scanChronicleEntries(rows *sql.Rows) ([]*ChronicleEntry, error) {
	var out []*ChronicleEntry
	for rows.Next() {
		e, err := scanChronicleEntry(rows)
		if err != nil {
			return nil, weaveerr.TransientIO(err, "scan chronicle entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListUnconsolidatedEntries(level int) ([]*ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+chronicleSelectCols+` FROM arasuji_entries
		WHERE level = ? AND is_consolidated = 0
		ORDER BY start_time
	`, level)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list unconsolidated entries level %d", level)
	}
	defer rows.Close()
	return scanChronicleEntries(rows)
}

func (s *SQLiteStore) FindCoveringEntry(level int, start, end int64, excludeIDs []string) (*ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT ` + chronicleSelectCols + ` FROM arasuji_entries
		WHERE level = ? AND start_time <= ? AND end_time >= ?`
	args := []any{level, start, end}
	if len(excludeIDs) > 0 {
		placeholders := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		q += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ","))
	}
	q += " ORDER BY start_time LIMIT 1"

	row := s.db.QueryRow(q, args...)
	e, err := scanChronicleEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, weaveerr.TransientIO(err, "find covering entry level %d", level)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntriesEndingBefore(level int, end int64, limit int) ([]*ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+chronicleSelectCols+` FROM arasuji_entries
		WHERE level = ? AND end_time <= ?
		ORDER BY end_time DESC
		LIMIT ?
	`, level, end, limit)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list entries ending before %d", end)
	}
	defer rows.Close()
	out, err := scanChronicleEntries(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime < out[j].EndTime })
	return out, nil
}

func (s *SQLiteStore) ListAllEntriesSortedByEndTimeDesc() ([]*ChronicleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + chronicleSelectCols + ` FROM arasuji_entries ORDER BY end_time DESC`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list all chronicle entries")
	}
	defer rows.Close()
	return scanChronicleEntries(rows)
}

func (s *SQLiteStore) CountEntriesByLevel() (map[int]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT level, COUNT(*) FROM arasuji_entries GROUP BY level`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "count entries by level")
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, weaveerr.TransientIO(err, "scan level count")
		}
		out[level] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MaxLevel() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var level sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(level) FROM arasuji_entries`).Scan(&level)
	if err != nil {
		return 0, weaveerr.TransientIO(err, "max chronicle level")
	}
	return int(level.Int64), nil
}

func (s *SQLiteStore) TotalMessageCountCovered() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(message_count) FROM arasuji_entries WHERE level = 1`).Scan(&total)
	if err != nil {
		return 0, weaveerr.TransientIO(err, "total message count covered")
	}
	return int(total.Int64), nil
}

func (s *SQLiteStore) GetChronicleProgress() (*ChronicleProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p ChronicleProgress
	var lastID sql.NullString
	var lastAt sql.NullInt64
	err := s.db.QueryRow(`SELECT last_processed_message_id, last_processed_at FROM arasuji_progress WHERE id = 1`).
		Scan(&lastID, &lastAt)
	if err == sql.ErrNoRows {
		return &ChronicleProgress{}, nil
	}
	if err != nil {
		return nil, weaveerr.TransientIO(err, "get chronicle progress")
	}
	p.LastProcessedMessageID = lastID.String
	p.LastProcessedAt = lastAt.Int64
	return &p, nil
}

func (s *SQLiteStore) SetChronicleProgress(p *ChronicleProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO arasuji_progress (id, last_processed_message_id, last_processed_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_processed_message_id = excluded.last_processed_message_id,
			last_processed_at = excluded.last_processed_at
	`, nullable(p.LastProcessedMessageID), p.LastProcessedAt)
	if err != nil {
		return weaveerr.TransientIO(err, "set chronicle progress")
	}
	return nil
}

// =============================================================================
// Memopedia pages
// =============================================================================

// InitMemopediaRoots seeds the three category roots on first use, matching
// §4.8 ("Three root pages are seeded on first init."). Idempotent.
func (s *SQLiteStore) InitMemopediaRoots() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roots := []struct {
		id       string
		category PageCategory
		title    string
	}{
		{RootPeople, CategoryPeople, "People"},
		{RootTerms, CategoryTerms, "Terms"},
		{RootPlans, CategoryPlans, "Plans"},
	}
	ts := now()
	for _, r := range roots {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO memopedia_pages
				(id, parent_id, title, summary, content, category, keywords, vividness,
				 is_trunk, is_important, is_deleted, created_at, updated_at)
			VALUES (?, NULL, ?, '', '', ?, '[]', 'rough', 1, 0, 0, ?, ?)
		`, r.id, r.title, r.category, ts, ts)
		if err != nil {
			return weaveerr.TransientIO(err, "seed memopedia root %s", r.id)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateMemopediaPage(p *MemopediaPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createMemopediaPageLocked(p)
}

func (s *SQLiteStore) createMemopediaPageLocked(p *MemopediaPage) error {
	kwJSON, err := json.Marshal(p.Keywords)
	if err != nil {
		return weaveerr.Invalid("marshal keywords for page %s", p.ID)
	}
	_, err = s.db.Exec(`
		INSERT INTO memopedia_pages
			(id, parent_id, title, summary, content, category, keywords, vividness,
			 is_trunk, is_important, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, p.ID, nullable(p.ParentID), p.Title, p.Summary, p.Content, p.Category, string(kwJSON),
		p.Vividness, boolToInt(p.IsTrunk), boolToInt(p.IsImportant), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return weaveerr.TransientIO(err, "create memopedia page %s", p.ID)
	}
	return nil
}

func scanMemopediaPage(row interface{ Scan(...any) error }) (*MemopediaPage, error) {
	var p MemopediaPage
	var parentID sql.NullString
	var kwJSON string
	var isTrunk, isImportant, isDeleted int
	if err := row.Scan(&p.ID, &parentID, &p.Title, &p.Summary, &p.Content, &p.Category, &kwJSON,
		&p.Vividness, &isTrunk, &isImportant, &isDeleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ParentID = parentID.String
	if err := json.Unmarshal([]byte(kwJSON), &p.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords for page %s: %w", p.ID, err)
	}
	p.IsTrunk = isTrunk != 0
	p.IsImportant = isImportant != 0
	p.IsDeleted = isDeleted != 0
	return &p, nil
}

const memopediaSelectCols = `id, parent_id, title, summary, content, category, keywords, vividness, is_trunk, is_important, is_deleted, created_at, updated_at`

func (s *SQLiteStore) GetMemopediaPage(id string) (*MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+memopediaSelectCols+` FROM memopedia_pages WHERE id = ? AND is_deleted = 0`, id)
	p, err := scanMemopediaPage(row)
	if err == sql.ErrNoRows {
		return nil, weaveerr.NotFound("memopedia page %s", id)
	}
	if err != nil {
		return nil, weaveerr.TransientIO(err, "get memopedia page %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) UpdateMemopediaPage(p *MemopediaPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kwJSON, err := json.Marshal(p.Keywords)
	if err != nil {
		return weaveerr.Invalid("marshal keywords for page %s", p.ID)
	}
	res, err := s.db.Exec(`
		UPDATE memopedia_pages SET parent_id = ?, title = ?, summary = ?, content = ?,
			keywords = ?, vividness = ?, is_trunk = ?, is_important = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, nullable(p.ParentID), p.Title, p.Summary, p.Content, string(kwJSON), p.Vividness,
		boolToInt(p.IsTrunk), boolToInt(p.IsImportant), p.UpdatedAt, p.ID)
	if err != nil {
		return weaveerr.TransientIO(err, "update memopedia page %s", p.ID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return weaveerr.NotFound("memopedia page %s", p.ID)
	}
	return nil
}

func (s *SQLiteStore) SoftDeleteMemopediaPage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE memopedia_pages SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`, now(), id)
	if err != nil {
		return weaveerr.TransientIO(err, "delete memopedia page %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return weaveerr.NotFound("memopedia page %s", id)
	}
	return nil
}

func (s *SQLiteStore) ListMemopediaChildren(parentID string) ([]*MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+memopediaSelectCols+` FROM memopedia_pages
		WHERE parent_id = ? AND is_deleted = 0
		ORDER BY title
	`, parentID)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list memopedia children of %s", parentID)
	}
	defer rows.Close()
	return scanMemopediaPages(rows)
}

func scanMemopediaPages(rows *sql.Rows) ([]*MemopediaPage, error) {
	var out []*MemopediaPage
	for rows.Next() {
		p, err := scanMemopediaPage(rows)
		if err != nil {
			return nil, weaveerr.TransientIO(err, "scan memopedia page")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindMemopediaPageByTitle(title string, category PageCategory) (*MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+memopediaSelectCols+` FROM memopedia_pages
		WHERE title = ? AND category = ? AND is_deleted = 0
		LIMIT 1
	`, title, category)
	p, err := scanMemopediaPage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, weaveerr.TransientIO(err, "find memopedia page by title %q", title)
	}
	return p, nil
}

func (s *SQLiteStore) SearchMemopediaPages(query string, category PageCategory, limit int) ([]*MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	like := "%" + strings.ToLower(query) + "%"
	q := `
		SELECT ` + memopediaSelectCols + ` FROM memopedia_pages
		WHERE is_deleted = 0
		  AND (LOWER(title) LIKE ? OR LOWER(summary) LIKE ? OR LOWER(content) LIKE ? OR LOWER(keywords) LIKE ?)
	`
	args := []any{like, like, like, like}
	if category != "" {
		q += " AND category = ?"
		args = append(args, category)
	}
	q += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "search memopedia pages")
	}
	defer rows.Close()
	return scanMemopediaPages(rows)
}

func (s *SQLiteStore) ListAllMemopediaPages() ([]*MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + memopediaSelectCols + ` FROM memopedia_pages WHERE is_deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list all memopedia pages")
	}
	defer rows.Close()
	return scanMemopediaPages(rows)
}

func (s *SQLiteStore) ListMemopediaPagesIncludingDeleted() ([]*MemopediaPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + memopediaSelectCols + ` FROM memopedia_pages ORDER BY id`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list all memopedia pages including deleted")
	}
	defer rows.Close()
	return scanMemopediaPages(rows)
}

// =============================================================================
// Memopedia edit history
// =============================================================================

func (s *SQLiteStore) RecordMemopediaEdit(e *MemopediaEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordMemopediaEditLocked(e)
}

func (s *SQLiteStore) recordMemopediaEditLocked(e *MemopediaEdit) error {
	_, err := s.db.Exec(`
		INSERT INTO memopedia_edit_history
			(id, page_id, edited_at, diff_text, ref_start_message_id, ref_end_message_id, edit_type, edit_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.PageID, e.EditedAt, e.DiffText, nullable(e.RefStartMessageID), nullable(e.RefEndMessageID),
		e.EditType, e.EditSource)
	if err != nil {
		return weaveerr.TransientIO(err, "record memopedia edit for page %s", e.PageID)
	}
	return nil
}

func (s *SQLiteStore) ListMemopediaEditHistory(pageID string, limit int) ([]*MemopediaEdit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `
		SELECT id, page_id, edited_at, diff_text, ref_start_message_id, ref_end_message_id, edit_type, edit_source
		FROM memopedia_edit_history WHERE page_id = ? ORDER BY edited_at DESC
	`
	args := []any{pageID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "list edit history for page %s", pageID)
	}
	defer rows.Close()

	var out []*MemopediaEdit
	for rows.Next() {
		var e MemopediaEdit
		var refStart, refEnd sql.NullString
		if err := rows.Scan(&e.ID, &e.PageID, &e.EditedAt, &e.DiffText, &refStart, &refEnd, &e.EditType, &e.EditSource); err != nil {
			return nil, weaveerr.TransientIO(err, "scan memopedia edit")
		}
		e.RefStartMessageID = refStart.String
		e.RefEndMessageID = refEnd.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

// =============================================================================
// Page state
// =============================================================================

func (s *SQLiteStore) SetPageOpen(threadID, pageID string, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO page_state (thread_id, page_id, is_open) VALUES (?, ?, ?)
		ON CONFLICT(thread_id, page_id) DO UPDATE SET is_open = excluded.is_open
	`, threadID, pageID, boolToInt(open))
	if err != nil {
		return weaveerr.TransientIO(err, "set page state %s/%s", threadID, pageID)
	}
	return nil
}

func (s *SQLiteStore) GetOpenPages(threadID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT page_id FROM page_state WHERE thread_id = ? AND is_open = 1`, threadID)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "get open pages for thread %s", threadID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, weaveerr.TransientIO(err, "scan open page id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// =============================================================================
// Export / Import
// =============================================================================

// dump is the full-database JSON representation used by Export/Import,
// grounded on the teacher's own Export/Import full-dump pattern.
type dump struct {
	Threads        []*Thread         `json:"threads"`
	Messages       []*Message        `json:"messages"`
	Chronicle      []*ChronicleEntry `json:"chronicle"`
	MemopediaPages []*MemopediaPage  `json:"memopediaPages"`
	MemopediaEdits []*MemopediaEdit  `json:"memopediaEdits"`
}

func (s *SQLiteStore) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d dump

	rows, err := s.db.Query(`SELECT id, resource_id, overview, overview_updated_at, created_at, updated_at FROM threads`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "export threads")
	}
	for rows.Next() {
		var t Thread
		var overview sql.NullString
		var overviewUpdated sql.NullInt64
		if err := rows.Scan(&t.ID, &t.ResourceID, &overview, &overviewUpdated, &t.CreatedAt, &t.UpdatedAt); err != nil {
			rows.Close()
			return nil, weaveerr.TransientIO(err, "scan thread during export")
		}
		t.Overview = overview.String
		t.OverviewUpdated = overviewUpdated.Int64
		d.Threads = append(d.Threads, &t)
	}
	rows.Close()

	mrows, err := s.db.Query(`SELECT id, thread_id, role, content, resource_id, created_at, metadata FROM messages`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "export messages")
	}
	for mrows.Next() {
		m, err := scanMessage(mrows)
		if err != nil {
			mrows.Close()
			return nil, weaveerr.TransientIO(err, "scan message during export")
		}
		d.Messages = append(d.Messages, m)
	}
	mrows.Close()

	crows, err := s.db.Query(`SELECT ` + chronicleSelectCols + ` FROM arasuji_entries`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "export chronicle entries")
	}
	d.Chronicle, err = scanChronicleEntries(crows)
	if err != nil {
		return nil, err
	}

	prows, err := s.db.Query(`SELECT ` + memopediaSelectCols + ` FROM memopedia_pages`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "export memopedia pages")
	}
	d.MemopediaPages, err = scanMemopediaPages(prows)
	if err != nil {
		return nil, err
	}

	erows, err := s.db.Query(`
		SELECT id, page_id, edited_at, diff_text, ref_start_message_id, ref_end_message_id, edit_type, edit_source
		FROM memopedia_edit_history
	`)
	if err != nil {
		return nil, weaveerr.TransientIO(err, "export memopedia edit history")
	}
	for erows.Next() {
		var e MemopediaEdit
		var refStart, refEnd sql.NullString
		if err := erows.Scan(&e.ID, &e.PageID, &e.EditedAt, &e.DiffText, &refStart, &refEnd, &e.EditType, &e.EditSource); err != nil {
			erows.Close()
			return nil, weaveerr.TransientIO(err, "scan edit history during export")
		}
		e.RefStartMessageID = refStart.String
		e.RefEndMessageID = refEnd.String
		d.MemopediaEdits = append(d.MemopediaEdits, &e)
	}
	erows.Close()

	data, err := json.Marshal(&d)
	if err != nil {
		return nil, weaveerr.Invalid("marshal export dump")
	}
	return data, nil
}

func (s *SQLiteStore) Import(data []byte) error {
	var d dump
	if err := json.Unmarshal(data, &d); err != nil {
		return weaveerr.Invalid("malformed import payload: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range d.Threads {
		if _, err := s.db.Exec(`
			INSERT INTO threads (id, resource_id, overview, overview_updated_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET resource_id=excluded.resource_id, overview=excluded.overview,
				overview_updated_at=excluded.overview_updated_at, updated_at=excluded.updated_at
		`, t.ID, t.ResourceID, nullable(t.Overview), t.OverviewUpdated, t.CreatedAt, t.UpdatedAt); err != nil {
			return weaveerr.TransientIO(err, "import thread %s", t.ID)
		}
	}
	for _, m := range d.Messages {
		if _, err := s.db.Exec(`
			INSERT INTO messages (id, thread_id, role, content, resource_id, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET content=excluded.content, metadata=excluded.metadata
		`, m.ID, m.ThreadID, m.Role, m.Content, nullable(m.ResourceID), m.CreatedAt, nullable(m.Metadata)); err != nil {
			return weaveerr.TransientIO(err, "import message %s", m.ID)
		}
	}
	for _, e := range d.Chronicle {
		srcJSON, _ := json.Marshal(e.SourceIDs)
		if _, err := s.db.Exec(`
			INSERT INTO arasuji_entries (id, level, content, source_ids, start_time, end_time,
				source_count, message_count, parent_id, is_consolidated, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET content=excluded.content, source_ids=excluded.source_ids,
				start_time=excluded.start_time, end_time=excluded.end_time, source_count=excluded.source_count,
				message_count=excluded.message_count, parent_id=excluded.parent_id, is_consolidated=excluded.is_consolidated
		`, e.ID, e.Level, e.Content, string(srcJSON), e.StartTime, e.EndTime, e.SourceCount,
			e.MessageCount, nullable(e.ParentID), boolToInt(e.IsConsolidated), e.CreatedAt); err != nil {
			return weaveerr.TransientIO(err, "import chronicle entry %s", e.ID)
		}
	}

	// Pages sorted so parents import before children (roots have no parent).
	pages := append([]*MemopediaPage(nil), d.MemopediaPages...)
	sort.Slice(pages, func(i, j int) bool { return pages[i].ParentID == "" && pages[j].ParentID != "" })
	for _, p := range pages {
		category := p.Category
		if category == "events" {
			// Legacy dumps used the older get_tree's people|events|plans
			// split; normalize to this schema's people|terms|plans.
			category = CategoryTerms
		}
		kwJSON, _ := json.Marshal(p.Keywords)
		if _, err := s.db.Exec(`
			INSERT INTO memopedia_pages (id, parent_id, title, summary, content, category, keywords,
				vividness, is_trunk, is_important, is_deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title=excluded.title, summary=excluded.summary, content=excluded.content,
				keywords=excluded.keywords, vividness=excluded.vividness, is_trunk=excluded.is_trunk,
				is_important=excluded.is_important, is_deleted=excluded.is_deleted, updated_at=excluded.updated_at
		`, p.ID, nullable(p.ParentID), p.Title, p.Summary, p.Content, category, string(kwJSON),
			p.Vividness, boolToInt(p.IsTrunk), boolToInt(p.IsImportant), boolToInt(p.IsDeleted),
			p.CreatedAt, p.UpdatedAt); err != nil {
			return weaveerr.TransientIO(err, "import memopedia page %s", p.ID)
		}
	}
	for _, e := range d.MemopediaEdits {
		if _, err := s.db.Exec(`
			INSERT OR IGNORE INTO memopedia_edit_history
				(id, page_id, edited_at, diff_text, ref_start_message_id, ref_end_message_id, edit_type, edit_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.PageID, e.EditedAt, e.DiffText, nullable(e.RefStartMessageID), nullable(e.RefEndMessageID),
			e.EditType, e.EditSource); err != nil {
			return weaveerr.TransientIO(err, "import memopedia edit for page %s", e.PageID)
		}
	}
	return nil
}
