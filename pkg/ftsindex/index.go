// Package ftsindex is the dedicated full-text index: a second, independent
// SQLite database (FTS5) under $DATA_DIR/index/, paired with an in-memory
// edge-n-gram prefix trie rebuilt on every reader reload.
package ftsindex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/kataras/golog"

	"github.com/kittclouds/agentlog/pkg/clerr"
)

// title/content hold the Go-normalized token stream (HyphenNormalize'd,
// already lowercased and joiner-split) that CommitDoc builds before insert;
// raw_title/raw_content hold the original display text. unicode61's own
// splitting only has to separate the already-atomic tokens Go hands it, so
// tokenchars is widened to keep joiners and symbol-rich runes intact.
const docsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS docs USING fts5(
	agent UNINDEXED,
	workspace UNINDEXED,
	source_path UNINDEXED,
	msg_idx UNINDEXED,
	created_at UNINDEXED,
	title,
	content,
	raw_title UNINDEXED,
	raw_content UNINDEXED,
	preview UNINDEXED,
	content_hash UNINDEXED,
	tokenize="unicode61 tokenchars '-_+.#@'"
);
`

const schemaHashFileName = "schema.hash"

// Doc is one indexable unit (a message) before tokenization.
type Doc struct {
	Agent       string
	Workspace   string
	SourcePath  string
	MsgIdx      int
	CreatedAt   int64
	Title       string
	Content     string
	ContentHash string
}

// Index is the full-text index adapter: SQLite FTS5 store + in-memory
// prefix trie + debounced reader reload.
type Index struct {
	dir string
	log *golog.Logger

	mu sync.RWMutex
	db *sql.DB

	prefixMaxLen int
	Prefix       *PrefixTrie

	reloadDebounce time.Duration
	reloadTimer    *time.Timer
	reloadMu       sync.Mutex

	pendingCommits int
	batchSize      int
	batchInterval  time.Duration
	lastCommit     time.Time
}

// Options configures an Index.
type Options struct {
	PrefixMaxLen   int
	ReloadDebounce time.Duration
	BatchSize      int
	BatchInterval  time.Duration
}

func defaultOptions() Options {
	return Options{
		PrefixMaxLen:   15,
		ReloadDebounce: 300 * time.Millisecond,
		BatchSize:      200,
		BatchInterval:  2 * time.Second,
	}
}

// Open opens (or recreates on schema mismatch) the index directory dir.
func Open(dir string, log *golog.Logger, opts Options) (*Index, error) {
	d := defaultOptions()
	if opts.PrefixMaxLen > 0 {
		d.PrefixMaxLen = opts.PrefixMaxLen
	}
	if opts.ReloadDebounce > 0 {
		d.ReloadDebounce = opts.ReloadDebounce
	}
	if opts.BatchSize > 0 {
		d.BatchSize = opts.BatchSize
	}
	if opts.BatchInterval > 0 {
		d.BatchInterval = opts.BatchInterval
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, clerr.Wrap(clerr.KindIOWrite, err)
	}

	if mismatched(dir) {
		if log != nil {
			log.Infof("full-text index schema hash mismatch, recreating %s", dir)
		}
		if err := recreate(dir); err != nil {
			return nil, err
		}
	}

	dbPath := filepath.Join(dir, "fts.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIOWrite, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(docsSchema); err != nil {
		db.Close()
		return nil, clerr.Wrap(clerr.KindSchemaMismatch, err)
	}

	if err := writeSchemaHash(dir); err != nil {
		db.Close()
		return nil, err
	}

	idx := &Index{
		dir:            dir,
		log:            log,
		db:             db,
		prefixMaxLen:   d.PrefixMaxLen,
		Prefix:         NewPrefixTrie(d.PrefixMaxLen),
		reloadDebounce: d.ReloadDebounce,
		batchSize:      d.BatchSize,
		batchInterval:  d.BatchInterval,
		lastCommit:     time.Now(),
	}
	if err := idx.reloadPrefixTrie(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func schemaHashPath(dir string) string { return filepath.Join(dir, schemaHashFileName) }

// mismatched reports whether the on-disk marker differs from SchemaHash —
// a cheap stat+read, checked before even opening the (possibly
// incompatible) FTS5 database.
func mismatched(dir string) bool {
	raw, err := os.ReadFile(schemaHashPath(dir))
	if err != nil {
		return false // no marker yet: fresh directory, not a mismatch
	}
	return strings.TrimSpace(string(raw)) != SchemaHash
}

func writeSchemaHash(dir string) error {
	tmp := schemaHashPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, []byte(SchemaHash), 0o644); err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	if err := os.Rename(tmp, schemaHashPath(dir)); err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	return nil
}

func recreate(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return clerr.Wrap(clerr.KindIOWrite, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Close()
}

// TruncateAll empties the index as a paired operation with a relational
// store rebuild.
func (idx *Index) TruncateAll() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, err := idx.db.Exec(`DELETE FROM docs`); err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	idx.Prefix.Reset()
	return nil
}

// CommitDoc inserts one document; each insert is committed on its own. The
// batch count and elapsed-time bounds only decide when a debounced reader
// reload is scheduled, not when rows are committed. Callers issuing many
// docs in a scan pass should call Flush when done rather than relying on
// the timer.
func (idx *Index) CommitDoc(d Doc) error {
	idx.mu.Lock()
	preview := buildPreview(d.Content, 200)
	// The custom tokenizer step: hyphen-normalize and lowercase in Go before
	// insert, rather than leaning on FTS5's own splitting to find "cma" and
	// "es" inside "cma-es". unicode61 only re-joins the tokens Go already cut.
	indexedTitle := strings.Join(HyphenNormalize(d.Title), " ")
	indexedContent := strings.Join(HyphenNormalize(d.Content), " ")
	_, err := idx.db.Exec(`
		INSERT INTO docs(agent, workspace, source_path, msg_idx, created_at, title, content, raw_title, raw_content, preview, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Agent, d.Workspace, d.SourcePath, d.MsgIdx, d.CreatedAt, indexedTitle, indexedContent, d.Title, d.Content, preview, d.ContentHash)
	idx.pendingCommits++
	shouldReload := idx.pendingCommits >= idx.batchSize || time.Since(idx.lastCommit) >= idx.batchInterval
	if shouldReload {
		idx.pendingCommits = 0
		idx.lastCommit = time.Now()
	}
	idx.mu.Unlock()
	if err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}

	var rowID int64
	idx.mu.RLock()
	row := idx.db.QueryRow(`SELECT rowid FROM docs WHERE rowid = last_insert_rowid()`)
	_ = row.Scan(&rowID)
	idx.mu.RUnlock()
	idx.Prefix.IndexDocument(rowID, d.Title+" "+d.Content)

	if shouldReload {
		idx.ScheduleReload()
	}
	return nil
}

// Flush forces a reader reload regardless of the batch timer/count.
func (idx *Index) Flush() error {
	return idx.reloadPrefixTrie()
}

// ScheduleReload debounces reader reloads (~300ms default) so watch-mode
// writes don't thrash the prefix trie rebuild.
func (idx *Index) ScheduleReload() {
	idx.reloadMu.Lock()
	defer idx.reloadMu.Unlock()
	if idx.reloadTimer != nil {
		idx.reloadTimer.Stop()
	}
	idx.reloadTimer = time.AfterFunc(idx.reloadDebounce, func() {
		if err := idx.reloadPrefixTrie(); err != nil && idx.log != nil {
			idx.log.Errorf("prefix trie reload failed: %v", err)
		}
	})
}

// reloadPrefixTrie rebuilds the in-memory trie from the docs table.
func (idx *Index) reloadPrefixTrie() error {
	idx.mu.RLock()
	rows, err := idx.db.Query(`SELECT rowid, raw_title, raw_content FROM docs`)
	idx.mu.RUnlock()
	if err != nil {
		return clerr.Wrap(clerr.KindIORead, err)
	}
	defer rows.Close()

	fresh := NewPrefixTrie(idx.prefixMaxLen)
	for rows.Next() {
		var rowID int64
		var title, content string
		if err := rows.Scan(&rowID, &title, &content); err != nil {
			return clerr.Wrap(clerr.KindIORead, err)
		}
		fresh.IndexDocument(rowID, title+" "+content)
	}
	if err := rows.Err(); err != nil {
		return clerr.Wrap(clerr.KindIORead, err)
	}

	idx.mu.Lock()
	idx.Prefix = fresh
	idx.mu.Unlock()
	return nil
}

// QueryMatch runs an FTS5 MATCH query directly (used by the query engine
// for Exact/Prefix term matching and by the predictive-warm worker;
// Suffix/Substring terms read AllDocs instead). bm25() is lower-is-better,
// so Hit.Score holds its negation: a higher Score means more relevant.
func (idx *Index) QueryMatch(matchExpr string, limit int) ([]Hit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rows, err := idx.db.Query(`
		SELECT rowid, agent, workspace, source_path, msg_idx, created_at, raw_title, raw_content, preview, content_hash, -bm25(docs)
		FROM docs WHERE docs MATCH ? ORDER BY bm25(docs) LIMIT ?`, matchExpr, limit)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIORead, err).WithHint("check FTS5 query syntax")
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.RowID, &h.Agent, &h.Workspace, &h.SourcePath, &h.MsgIdx, &h.CreatedAt, &h.Title, &h.Content, &h.Preview, &h.ContentHash, &h.Score); err != nil {
			return nil, clerr.Wrap(clerr.KindIORead, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RowsByID fetches documents by rowid, used by the query engine to
// materialize prefix-trie lookups into full Hit rows.
func (idx *Index) RowsByID(ids []int64) ([]Hit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	query := fmt.Sprintf(`
		SELECT rowid, agent, workspace, source_path, msg_idx, created_at, raw_title, raw_content, preview, content_hash, 0
		FROM docs WHERE rowid IN (%s)`, strings.Join(placeholders, ","))
	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIORead, err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.RowID, &h.Agent, &h.Workspace, &h.SourcePath, &h.MsgIdx, &h.CreatedAt, &h.Title, &h.Content, &h.Preview, &h.ContentHash, &h.Score); err != nil {
			return nil, clerr.Wrap(clerr.KindIORead, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AllDocs returns up to limit documents in rowid order with no MATCH
// filtering, used by the query engine's suffix/substring path, which FTS5
// cannot express directly and instead prefilters in Go.
func (idx *Index) AllDocs(limit int) ([]Hit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rows, err := idx.db.Query(`
		SELECT rowid, agent, workspace, source_path, msg_idx, created_at, raw_title, raw_content, preview, content_hash
		FROM docs ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindIORead, err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.RowID, &h.Agent, &h.Workspace, &h.SourcePath, &h.MsgIdx, &h.CreatedAt, &h.Title, &h.Content, &h.Preview, &h.ContentHash); err != nil {
			return nil, clerr.Wrap(clerr.KindIORead, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DocCount reports the total indexed document count, used by the query
// engine's stale-index heuristic against the relational store's message
// count.
func (idx *Index) DocCount() (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM docs`).Scan(&n); err != nil {
		return 0, clerr.Wrap(clerr.KindIORead, err)
	}
	return n, nil
}

// Hit is one full-text index result row.
type Hit struct {
	RowID       int64
	Agent       string
	Workspace   string
	SourcePath  string
	MsgIdx      int
	CreatedAt   int64
	Title       string
	Content     string
	Preview     string
	ContentHash string
	Score       float64
}

// buildPreview truncates content to n runes + ellipsis, UTF-8 safe.
func buildPreview(content string, n int) string {
	r := []rune(content)
	if len(r) <= n {
		return content
	}
	return string(r[:n]) + "…"
}
