package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/ncruces/go-sqlite3/driver"
)

// CursorConnector adapts the platform app-support state.vscdb SQLite file,
// a single ItemTable key/value store holding JSON-blob conversation history
// under a vendor-specific key. Opened read-only.
type CursorConnector struct {
	dbPath string
}

func cursorStatePath(homeDir string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "Cursor", "User", "globalStorage", "state.vscdb")
	case "windows":
		return filepath.Join(homeDir, "AppData", "Roaming", "Cursor", "User", "globalStorage", "state.vscdb")
	default:
		return filepath.Join(homeDir, ".config", "Cursor", "User", "globalStorage", "state.vscdb")
	}
}

func NewCursorConnector(homeDir string) *CursorConnector {
	return &CursorConnector{dbPath: cursorStatePath(homeDir)}
}

func (c *CursorConnector) Slug() string        { return "cursor" }
func (c *CursorConnector) DisplayName() string { return "Cursor" }

func (c *CursorConnector) Detect() (DetectionResult, error) {
	if _, err := os.Stat(c.dbPath); err != nil {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: []string{c.dbPath}}, nil
}

const cursorChatKey = "workbench.panel.aichat.view.aichat.chatdata"

type cursorChatData struct {
	Tabs []struct {
		TabID  string `json:"tabId"`
		Bubbles []struct {
			Type string `json:"type"` // "user" or "ai"
			Text string `json:"text"`
		} `json:"bubbles"`
	} `json:"tabs"`
}

func (c *CursorConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	info, statErr := os.Stat(c.dbPath)
	if statErr != nil {
		return nil, nil
	}
	if !sc.allowed(c.dbPath) {
		return nil, nil
	}
	if !sc.SinceTS.IsZero() && !info.ModTime().After(sc.SinceTS) {
		return nil, nil
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=1", c.dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: c.dbPath, Reason: err.Error()})
		return nil, nil
	}
	defer db.Close()

	var raw []byte
	row := db.QueryRow(`SELECT value FROM ItemTable WHERE key = ?`, cursorChatKey)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: c.dbPath, Reason: err.Error()})
		return nil, nil
	}

	var data cursorChatData
	if err := json.Unmarshal(raw, &data); err != nil {
		sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: c.dbPath, Reason: fmt.Sprintf("malformed chatdata: %v", err)})
		return nil, nil
	}

	var out []NormalizedConversation
	for _, tab := range data.Tabs {
		conv := NormalizedConversation{
			AgentSlug:  c.Slug(),
			ExternalID: tab.TabID,
			SourcePath: c.dbPath,
			CreatedAt:  info.ModTime(),
			UpdatedAt:  info.ModTime(),
			Metadata:   map[string]any{},
		}
		for _, b := range tab.Bubbles {
			role := RoleAssistant
			if b.Type == "user" {
				role = RoleUser
			}
			conv.Messages = append(conv.Messages, NormalizedMessage{
				Role:      role,
				Content:   b.Text,
				Timestamp: info.ModTime(),
			})
			if conv.Title == "" && role == RoleUser {
				conv.Title = firstLineTruncated(b.Text, 100)
			}
		}
		if len(conv.Messages) > 0 {
			out = append(out, conv)
		}
	}
	return out, nil
}
