package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ChatGPTConnector adapts the platform app-support per-conversation
// directories. v1 envelopes are plaintext JSON and scan normally; v2/v3 are
// encrypted — the connector detects the envelope version, skips the file,
// and emits exactly one diagnostic per skipped file. Decryption is out of
// scope (no keychain-backed key material is available to this process).
type ChatGPTConnector struct {
	root string
}

func chatgptRoot(homeDir string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "com.openai.chat")
	case "windows":
		return filepath.Join(homeDir, "AppData", "Roaming", "ChatGPT")
	default:
		return filepath.Join(homeDir, ".config", "ChatGPT")
	}
}

func NewChatGPTConnector(homeDir string) *ChatGPTConnector {
	return &ChatGPTConnector{root: chatgptRoot(homeDir)}
}

func (c *ChatGPTConnector) Slug() string        { return "chatgpt" }
func (c *ChatGPTConnector) DisplayName() string { return "ChatGPT" }

func (c *ChatGPTConnector) Detect() (DetectionResult, error) {
	info, err := os.Stat(c.root)
	if err != nil || !info.IsDir() {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: []string{c.root}}, nil
}

// envelope identifies a conversation file's version without fully parsing
// it: v1 is a plain JSON object; v2/v3 carry a top-level "envelope_version".
type envelope struct {
	EnvelopeVersion int `json:"envelope_version"`
}

type chatgptConversationV1 struct {
	ID       string `json:"conversation_id"`
	Title    string `json:"title"`
	Messages []struct {
		Role      string `json:"role"`
		Content   any    `json:"content"`
		CreateAt  any    `json:"create_time"`
	} `json:"messages"`
}

func (c *ChatGPTConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	var dirs []string
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, nil
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(c.root, e.Name()))
		}
	}

	var out []NormalizedConversation
	for _, dir := range dirs {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		path := filepath.Join(dir, "conversation.json")
		if !sc.allowed(path) && len(sc.PathFilter) > 0 {
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

		var env envelope
		_ = json.Unmarshal(raw, &env)
		if env.EnvelopeVersion >= 2 {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: fmt.Sprintf("envelope v%d is encrypted, skipping", env.EnvelopeVersion)})
			continue
		}

		var cv chatgptConversationV1
		if err := json.Unmarshal(raw, &cv); err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: fmt.Sprintf("malformed v1 conversation: %v", err)})
			continue
		}
		if cv.ID == "" {
			cv.ID = filepath.Base(dir)
		}

		conv := NormalizedConversation{
			AgentSlug:  c.Slug(),
			ExternalID: cv.ID,
			Title:      cv.Title,
			SourcePath: path,
			Metadata:   map[string]any{},
		}
		for _, m := range cv.Messages {
			content := FlattenContent(m.Content)
			if content == "" {
				continue
			}
			ts := ParseTimestamp(m.CreateAt)
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
