package connector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ClaudeCodeConnector adapts ~/.claude/projects/**/*.jsonl line-delimited
// JSON, plus ~/.claude.json for workspace/project metadata lookups.
type ClaudeCodeConnector struct {
	projectsRoot string
	configPath   string
}

func NewClaudeCodeConnector(homeDir string) *ClaudeCodeConnector {
	return &ClaudeCodeConnector{
		projectsRoot: filepath.Join(homeDir, ".claude", "projects"),
		configPath:   filepath.Join(homeDir, ".claude.json"),
	}
}

func (c *ClaudeCodeConnector) Slug() string        { return "claude-code" }
func (c *ClaudeCodeConnector) DisplayName() string { return "Claude Code" }

func (c *ClaudeCodeConnector) Detect() (DetectionResult, error) {
	info, err := os.Stat(c.projectsRoot)
	if err != nil || !info.IsDir() {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: []string{c.projectsRoot, c.configPath}}, nil
}

// workspaceLookup reads ~/.claude.json's project map if present; missing or
// malformed config degrades to an empty lookup, never a fatal error.
func (c *ClaudeCodeConnector) workspaceLookup() map[string]string {
	raw, err := os.ReadFile(c.configPath)
	if err != nil {
		return nil
	}
	var doc struct {
		Projects map[string]struct {
			Path string `json:"path"`
		} `json:"projects"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	out := make(map[string]string, len(doc.Projects))
	for k, v := range doc.Projects {
		if v.Path != "" {
			out[k] = v.Path
		} else {
			out[k] = k
		}
	}
	return out
}

type claudeCodeLine struct {
	Role      string `json:"role"`
	Message   *struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"message"`
	Content   any `json:"content"`
	Timestamp any `json:"timestamp"`
}

func (c *ClaudeCodeConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	workspaces := c.workspaceLookup()

	var files []string
	_ = filepath.WalkDir(c.projectsRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".jsonl") {
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

		f, err := os.Open(path)
		if err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: err.Error()})
			continue
		}

		projectDir := filepath.Base(filepath.Dir(path))
		workspacePath := workspaces[projectDir]
		if workspacePath == "" {
			workspacePath = projectDir
		}

		conv := &NormalizedConversation{
			AgentSlug:     c.Slug(),
			ExternalID:    strings.TrimSuffix(filepath.Base(path), ".jsonl"),
			SourcePath:    path,
			WorkspaceHint: workspacePath,
			Metadata:      map[string]any{},
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var rec claudeCodeLine
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: fmt.Sprintf("line %d: %v", lineNo, err)})
				continue
			}
			role, content := rec.Role, rec.Content
			if rec.Message != nil {
				role, content = rec.Message.Role, rec.Message.Content
			}
			flat := FlattenContent(content)
			if flat == "" {
				continue
			}
			ts := ParseTimestamp(rec.Timestamp)
			if ts.IsZero() {
				ts = info.ModTime()
			}
			msg := NormalizedMessage{Role: NormalizeRole(role), Content: flat, Timestamp: ts}
			conv.Messages = append(conv.Messages, msg)
			if conv.CreatedAt.IsZero() || ts.Before(conv.CreatedAt) {
				conv.CreatedAt = ts
			}
			if ts.After(conv.UpdatedAt) {
				conv.UpdatedAt = ts
			}
			if conv.Title == "" && msg.Role == RoleUser {
				conv.Title = firstLineTruncated(flat, 100)
			}
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: err.Error()})
			continue
		}
		if len(conv.Messages) == 0 {
			continue
		}
		out = append(out, *conv)
	}
	return out, nil
}
