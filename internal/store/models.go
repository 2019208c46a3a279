// Package store provides the durable relational store for agentlog.
// Uses ncruces/go-sqlite3/driver, a pure-Go SQLite implementation, so the
// store needs no CGo toolchain.
package store

// Agent is an identified source tool (codex, cline, gemini, ...).
// Created on first sighting; never deleted.
type Agent struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	FirstSeenAt int64  `json:"firstSeenAt"`
}

// Workspace is a project or directory scope inferred from connector
// metadata. May be the sentinel "unknown" workspace.
type Workspace struct {
	ID    int64  `json:"id"`
	Path  string `json:"path"`
	Label string `json:"label"`
}

// UnknownWorkspacePath is used when a connector cannot infer a project scope.
const UnknownWorkspacePath = "unknown"

// Conversation is a session from one agent in one workspace.
// Invariant: (AgentID, ExternalID) is unique.
type Conversation struct {
	ID          int64  `json:"id"`
	AgentID     int64  `json:"agentId"`
	WorkspaceID int64  `json:"workspaceId"`
	ExternalID  string `json:"externalId"`
	Title       string `json:"title"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
	SourcePath  string `json:"sourcePath"`
	MetadataRaw string `json:"metadata"` // opaque JSON object
}

// MaxTitleLen caps the title derived from the first user message.
const MaxTitleLen = 100

// Role enumerates the recognized message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// NormalizeRole maps an unrecognized role string to "system" per the
// connector resilience rules.
func NormalizeRole(raw string) Role {
	switch Role(raw) {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return Role(raw)
	default:
		return RoleSystem
	}
}

// Message is one turn within a conversation.
// Invariant: (ConversationID, MsgIdx) is unique; MsgIdx is dense from 0
// within a conversation.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversationId"`
	MsgIdx         int    `json:"msgIdx"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"createdAt"`
	ContentHash    string `json:"contentHash"`
}

// Snippet is an optional extracted code fragment from a message.
// Derived and rebuildable; never a write target for ingestion itself.
type Snippet struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"messageId"`
	Language  string `json:"language"`
	Text      string `json:"text"`
}

// IdempotencyRecord backs the 24h replay guarantee for `index --full`.
type IdempotencyRecord struct {
	Key        string `json:"key"`
	ParamsHash string `json:"paramsHash"`
	ResultJSON string `json:"result"`
	CreatedAt  int64  `json:"createdAt"`
}

// CurrentSchemaVersion gates migrations at startup.
const CurrentSchemaVersion = 1
