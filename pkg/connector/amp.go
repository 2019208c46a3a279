package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AmpConnector adapts the VS Code sourcegraph.amp extension's storage plus
// ~/.local/share/amp: JSON caches keyed by thread ID.
type AmpConnector struct {
	roots []string
}

func ampRoots(homeDir string) []string {
	var vscodeStorage string
	switch runtime.GOOS {
	case "darwin":
		vscodeStorage = filepath.Join(homeDir, "Library", "Application Support", "Code", "User", "globalStorage", "sourcegraph.amp")
	case "windows":
		vscodeStorage = filepath.Join(homeDir, "AppData", "Roaming", "Code", "User", "globalStorage", "sourcegraph.amp")
	default:
		vscodeStorage = filepath.Join(homeDir, ".config", "Code", "User", "globalStorage", "sourcegraph.amp")
	}
	return []string{vscodeStorage, filepath.Join(homeDir, ".local", "share", "amp")}
}

func NewAmpConnector(homeDir string) *AmpConnector {
	return &AmpConnector{roots: ampRoots(homeDir)}
}

func (c *AmpConnector) Slug() string        { return "amp" }
func (c *AmpConnector) DisplayName() string { return "Amp" }

func (c *AmpConnector) Detect() (DetectionResult, error) {
	var present []string
	for _, r := range c.roots {
		if info, err := os.Stat(r); err == nil && info.IsDir() {
			present = append(present, r)
		}
	}
	if len(present) == 0 {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: present}, nil
}

type ampThread struct {
	ThreadID string `json:"threadId"`
	Title    string `json:"title"`
	Messages []struct {
		Role      string `json:"role"`
		Content   any    `json:"content"`
		Timestamp any    `json:"timestamp"`
	} `json:"messages"`
}

func (c *AmpConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	var files []string
	for _, root := range c.roots {
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if strings.HasPrefix(d.Name(), "thread-") && strings.HasSuffix(d.Name(), ".json") {
				files = append(files, path)
			}
			return nil
		})
	}

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
		var t ampThread
		if err := json.Unmarshal(raw, &t); err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: fmt.Sprintf("malformed thread cache: %v", err)})
			continue
		}
		if t.ThreadID == "" {
			t.ThreadID = strings.TrimSuffix(filepath.Base(path), ".json")
		}

		conv := NormalizedConversation{
			AgentSlug:  c.Slug(),
			ExternalID: t.ThreadID,
			Title:      t.Title,
			SourcePath: path,
			Metadata:   map[string]any{},
		}
		for _, m := range t.Messages {
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
		out = append(out, conv)
	}
	return out, nil
}
