package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GeminiConnector adapts ~/.gemini/tmp/**/chats/session-*.json: one JSON
// document per session with a "messages" array.
type GeminiConnector struct {
	root string
}

func NewGeminiConnector(homeDir string) *GeminiConnector {
	return &GeminiConnector{root: filepath.Join(homeDir, ".gemini", "tmp")}
}

func (c *GeminiConnector) Slug() string        { return "gemini" }
func (c *GeminiConnector) DisplayName() string { return "Gemini" }

func (c *GeminiConnector) Detect() (DetectionResult, error) {
	info, err := os.Stat(c.root)
	if err != nil || !info.IsDir() {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: []string{c.root}}, nil
}

type geminiSession struct {
	Messages []struct {
		Role      string `json:"role"`
		Content   any    `json:"content"`
		Timestamp any    `json:"timestamp"`
	} `json:"messages"`
	Workspace string `json:"workspace"`
}

func (c *GeminiConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	var files []string
	_ = filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.Contains(path, string(filepath.Separator)+"chats"+string(filepath.Separator)) &&
			strings.HasPrefix(d.Name(), "session-") && strings.HasSuffix(d.Name(), ".json") {
			files = append(files, path)
		}
		return nil
	})

	var out []NormalizedConversation
	for _, path := range files {
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
		raw, err := os.ReadFile(path)
		if err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: err.Error()})
			continue
		}
		var sess geminiSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: fmt.Sprintf("malformed session: %v", err)})
			continue
		}

		conv := &NormalizedConversation{
			AgentSlug:     c.Slug(),
			ExternalID:    filepath.Base(path),
			SourcePath:    path,
			WorkspaceHint: sess.Workspace,
			Metadata:      map[string]any{},
		}
		for _, m := range sess.Messages {
			content := FlattenContent(m.Content)
			ts := ParseTimestamp(m.Timestamp)
			if ts.IsZero() {
				ts = info.ModTime()
			}
			msg := NormalizedMessage{Role: NormalizeRole(m.Role), Content: content, Timestamp: ts}
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
