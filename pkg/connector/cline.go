package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ClineConnector adapts VS Code globalStorage/saoudrizwan.claude-dev/tasks/<id>/
// per-task directories. Only api_conversation_history.json is read;
// ui_messages.json is not. external_id is the task directory name.
type ClineConnector struct {
	root string
}

func clineStorageRoot(homeDir string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "tasks")
	case "windows":
		return filepath.Join(homeDir, "AppData", "Roaming", "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "tasks")
	default:
		return filepath.Join(homeDir, ".config", "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "tasks")
	}
}

func NewClineConnector(homeDir string) *ClineConnector {
	return &ClineConnector{root: clineStorageRoot(homeDir)}
}

func (c *ClineConnector) Slug() string        { return "cline" }
func (c *ClineConnector) DisplayName() string { return "Cline" }

func (c *ClineConnector) Detect() (DetectionResult, error) {
	info, err := os.Stat(c.root)
	if err != nil || !info.IsDir() {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: []string{c.root}}, nil
}

type clineAPIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Ts      any    `json:"ts"`
}

func (c *ClineConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, nil
	}

	var out []NormalizedConversation
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		if !e.IsDir() {
			continue
		}
		taskDir := filepath.Join(c.root, e.Name())
		histPath := filepath.Join(taskDir, "api_conversation_history.json")
		if !sc.allowed(histPath) && len(sc.PathFilter) > 0 {
			continue
		}
		info, statErr := os.Stat(histPath)
		if statErr != nil {
			continue
		}
		if !sc.SinceTS.IsZero() && !info.ModTime().After(sc.SinceTS) {
			continue
		}

		raw, err := os.ReadFile(histPath)
		if err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: histPath, Reason: err.Error()})
			continue
		}
		var records []clineAPIMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: histPath, Reason: fmt.Sprintf("malformed history: %v", err)})
			continue
		}

		conv := &NormalizedConversation{
			AgentSlug:  c.Slug(),
			ExternalID: e.Name(),
			SourcePath: histPath,
			Metadata:   map[string]any{},
		}
		for _, rec := range records {
			content := FlattenContent(rec.Content)
			ts := ParseTimestamp(rec.Ts)
			if ts.IsZero() {
				ts = info.ModTime()
			}
			msg := NormalizedMessage{Role: NormalizeRole(rec.Role), Content: content, Timestamp: ts}
			conv.Messages = append(conv.Messages, msg)
			if conv.CreatedAt.IsZero() || ts.Before(conv.CreatedAt) {
				conv.CreatedAt = ts
			}
			if ts.After(conv.UpdatedAt) {
				conv.UpdatedAt = ts
			}
			if conv.Title == "" && msg.Role == RoleUser {
				conv.Title = firstLineTruncated(content, 100)
			}
		}
		if len(conv.Messages) == 0 {
			continue
		}
		out = append(out, *conv)
	}
	return out, nil
}
