// Package connector defines the capability abstraction that adapts
// heterogeneous coding-agent log formats to one normalized stream, and the
// registry of concrete connectors.
package connector

import (
	"context"
	"strings"
	"time"
)

// Role mirrors store.Role without importing internal/store, keeping
// connectors independent of the relational schema.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// NormalizeRole maps an unrecognized role string to "system".
func NormalizeRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return RoleSystem
	}
}

// NormalizedMessage is one turn, agent-format-agnostic.
type NormalizedMessage struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// NormalizedConversation is a whole session, agent-format-agnostic.
type NormalizedConversation struct {
	AgentSlug     string
	ExternalID    string
	Title         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	WorkspaceHint string
	SourcePath    string
	Metadata      map[string]any
	Messages      []NormalizedMessage
}

// DetectionResult reports whether a connector's source is present and which
// root paths it claims.
type DetectionResult struct {
	Present bool
	Roots   []string
}

// ScanContext bounds one scan pass.
type ScanContext struct {
	// SinceTS restricts emission to conversations whose source mtime
	// exceeds this timestamp. Zero value means "scan everything".
	SinceTS time.Time
	// PathFilter, if non-empty, restricts work to these specific paths
	// (used in watch mode to target only changed files).
	PathFilter []string
	// Diagnostics receives one event per skipped/undecodable record
	// (e.g. an encrypted ChatGPT conversation) without aborting the scan.
	Diagnostics func(Diagnostic)
}

// Diagnostic is a non-fatal event raised during a scan.
type Diagnostic struct {
	AgentSlug string
	Path      string
	Reason    string
}

func (c ScanContext) emit(d Diagnostic) {
	if c.Diagnostics != nil {
		c.Diagnostics(d)
	}
}

// allowed reports whether path passes this context's PathFilter (a watch-mode
// restriction; an empty filter allows everything).
func (c ScanContext) allowed(path string) bool {
	if len(c.PathFilter) == 0 {
		return true
	}
	for _, p := range c.PathFilter {
		if p == path {
			return true
		}
	}
	return false
}

// Connector is a capability: detect presence, then scan for normalized
// conversations. Dispatch is over a flat list of tagged variants owned by
// the orchestrator — no inheritance hierarchy.
type Connector interface {
	// Slug is the stable agent identifier (e.g. "codex", "cline").
	Slug() string
	// DisplayName is a human-readable label for the agent.
	DisplayName() string
	Detect() (DetectionResult, error)
	Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error)
}

// Registry is the orchestrator's flat list of available connectors.
func Registry(homeDir string) []Connector {
	return []Connector{
		NewCodexConnector(homeDir),
		NewClineConnector(homeDir),
		NewGeminiConnector(homeDir),
		NewClaudeCodeConnector(homeDir),
		NewOpenCodeConnector(homeDir),
		NewAmpConnector(homeDir),
		NewCursorConnector(homeDir),
		NewChatGPTConnector(homeDir),
		NewAiderConnector(homeDir),
	}
}

// FlattenContent collapses array-shaped or structured content into plain
// text: textual parts are concatenated with single-newline separators, per
// the connector resilience rules.
func FlattenContent(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := flattenContentBlock(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		return flattenContentBlock(t)
	default:
		return ""
	}
}

func flattenContentBlock(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"text", "content", "value"} {
			if s, ok := t[key].(string); ok {
				return s
			}
		}
		return ""
	default:
		return ""
	}
}

// ParseTimestamp accepts either an epoch number (seconds or milliseconds) or
// an ISO-8601/RFC3339 string, falling back to zero time if neither parses.
func ParseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case float64:
		return epochToTime(t)
	case int64:
		return epochToTime(float64(t))
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

func epochToTime(f float64) time.Time {
	// Heuristic: values above 1e12 are milliseconds, not seconds.
	if f > 1e12 {
		return time.UnixMilli(int64(f))
	}
	return time.Unix(int64(f), 0)
}

// timeFromUnix converts a seconds-or-milliseconds epoch integer the same
// way epochToTime does for float64 payloads from JSON.
func timeFromUnix(v int64) time.Time {
	return epochToTime(float64(v))
}
