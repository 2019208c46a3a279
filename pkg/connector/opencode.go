package connector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
)

// OpenCodeConnector adapts .opencode/*.db SQLite files at project-local,
// user-local, and global scopes. Opened strictly read-only; never written.
type OpenCodeConnector struct {
	globalRoot string
	cwd        string
}

func NewOpenCodeConnector(homeDir string) *OpenCodeConnector {
	cwd, _ := os.Getwd()
	return &OpenCodeConnector{
		globalRoot: filepath.Join(homeDir, ".opencode"),
		cwd:        cwd,
	}
}

func (c *OpenCodeConnector) Slug() string        { return "opencode" }
func (c *OpenCodeConnector) DisplayName() string { return "OpenCode" }

func (c *OpenCodeConnector) roots() []string {
	var roots []string
	if c.cwd != "" {
		roots = append(roots, filepath.Join(c.cwd, ".opencode"))
	}
	roots = append(roots, c.globalRoot)
	return roots
}

func (c *OpenCodeConnector) Detect() (DetectionResult, error) {
	var present []string
	for _, root := range c.roots() {
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			present = append(present, root)
		}
	}
	if len(present) == 0 {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: present}, nil
}

func (c *OpenCodeConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	var dbFiles []string
	for _, root := range c.roots() {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".db" {
				dbFiles = append(dbFiles, filepath.Join(root, e.Name()))
			}
		}
	}

	var out []NormalizedConversation
	for _, path := range dbFiles {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		if !sc.allowed(path) {
			continue
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		if !sc.SinceTS.IsZero() && !info.ModTime().After(sc.SinceTS) {
			continue
		}

		convs, err := c.scanDB(path, info.ModTime())
		if err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: err.Error()})
			continue
		}
		out = append(out, convs...)
	}
	return out, nil
}

func (c *OpenCodeConnector) scanDB(path string, mtime interface{ Unix() int64 }) ([]NormalizedConversation, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=1", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, title, created_at, updated_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []NormalizedConversation
	for rows.Next() {
		var id, title string
		var createdAt, updatedAt int64
		if err := rows.Scan(&id, &title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		conv := NormalizedConversation{
			AgentSlug:  c.Slug(),
			ExternalID: id,
			Title:      title,
			SourcePath: path,
			CreatedAt:  timeFromUnix(createdAt),
			UpdatedAt:  timeFromUnix(updatedAt),
			Metadata:   map[string]any{},
		}

		msgRows, err := db.Query(`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`, id)
		if err != nil {
			return nil, err
		}
		for msgRows.Next() {
			var role, content string
			var ts int64
			if err := msgRows.Scan(&role, &content, &ts); err != nil {
				msgRows.Close()
				return nil, err
			}
			conv.Messages = append(conv.Messages, NormalizedMessage{
				Role:      NormalizeRole(role),
				Content:   content,
				Timestamp: timeFromUnix(ts),
			})
		}
		msgRows.Close()

		if len(conv.Messages) > 0 {
			out = append(out, conv)
		}
	}
	return out, rows.Err()
}
