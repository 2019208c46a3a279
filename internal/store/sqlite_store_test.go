package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStoreWithDSN("file:"+t.Name()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIngestConversationIsIdempotentOnRescan(t *testing.T) {
	s := newTestStore(t)

	agent, err := s.UpsertAgent("codex", "Codex", time.Now().Unix())
	require.NoError(t, err)
	ws, err := s.UpsertWorkspace("/repo", "/repo")
	require.NoError(t, err)

	input := NormalizedConversationInput{
		ExternalID: "sess-1",
		Title:      "first session",
		CreatedAt:  100,
		UpdatedAt:  100,
		SourcePath: "/home/u/.codex/sessions/rollout-1.jsonl",
		Messages: []NormalizedMessageInput{
			{MsgIdx: 0, Role: RoleUser, Content: "hello", CreatedAt: 100, ContentHash: "h0"},
			{MsgIdx: 1, Role: RoleAssistant, Content: "hi there", CreatedAt: 101, ContentHash: "h1"},
		},
	}

	convID, newMsgs, err := s.IngestConversation(agent.ID, ws.ID, input)
	require.NoError(t, err)
	require.Equal(t, 2, newMsgs)

	// Re-scanning the same conversation must not duplicate or rewrite rows.
	convID2, newMsgs2, err := s.IngestConversation(agent.ID, ws.ID, input)
	require.NoError(t, err)
	require.Equal(t, convID, convID2)
	require.Equal(t, 0, newMsgs2)

	count, err := s.CountMessages()
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestIngestConversationAppendsNewMessagesOnRescan(t *testing.T) {
	s := newTestStore(t)
	agent, _ := s.UpsertAgent("codex", "Codex", time.Now().Unix())
	ws, _ := s.UpsertWorkspace("/repo", "/repo")

	base := NormalizedConversationInput{
		ExternalID: "sess-2", SourcePath: "/x", CreatedAt: 1, UpdatedAt: 1,
		Messages: []NormalizedMessageInput{{MsgIdx: 0, Role: RoleUser, Content: "one", ContentHash: "h0"}},
	}
	_, n1, err := s.IngestConversation(agent.ID, ws.ID, base)
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	extended := base
	extended.Messages = append(extended.Messages,
		NormalizedMessageInput{MsgIdx: 1, Role: RoleAssistant, Content: "two", ContentHash: "h1"})
	_, n2, err := s.IngestConversation(agent.ID, ws.ID, extended)
	require.NoError(t, err)
	require.Equal(t, 1, n2, "only the new message should be counted")
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	agent, _ := s.UpsertAgent("codex", "Codex", time.Now().Unix())
	ws, _ := s.UpsertWorkspace("/repo", "/repo")

	convID, _, err := s.IngestConversation(agent.ID, ws.ID, NormalizedConversationInput{
		ExternalID: "sess-3", Title: "export me", SourcePath: "/x", CreatedAt: 1, UpdatedAt: 1,
		Messages: []NormalizedMessageInput{
			{MsgIdx: 0, Role: RoleUser, Content: "alpha", ContentHash: "h0"},
			{MsgIdx: 1, Role: RoleAssistant, Content: "beta", ContentHash: "h1"},
		},
	})
	require.NoError(t, err)

	data, err := s.Export(convID)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	s2 := newTestStore(t)
	s2.UpsertAgent("codex", "Codex", time.Now().Unix())
	s2.UpsertWorkspace("/repo", "/repo")

	importedID, err := s2.Import(data)
	require.NoError(t, err)
	require.NotZero(t, importedID)

	reExported, err := s2.Export(importedID)
	require.NoError(t, err)
	require.NotEmpty(t, reExported)
}

func TestTruncateAllClearsContentTables(t *testing.T) {
	s := newTestStore(t)
	agent, _ := s.UpsertAgent("codex", "Codex", time.Now().Unix())
	ws, _ := s.UpsertWorkspace("/repo", "/repo")
	s.IngestConversation(agent.ID, ws.ID, NormalizedConversationInput{
		ExternalID: "sess-4", SourcePath: "/x", CreatedAt: 1, UpdatedAt: 1,
		Messages: []NormalizedMessageInput{{MsgIdx: 0, Role: RoleUser, Content: "gone soon", ContentHash: "h0"}},
	})

	require.NoError(t, s.TruncateAll())

	count, err := s.CountMessages()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestIdempotencyRecordTTLAndMismatch(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.PutIdempotencyRecord(IdempotencyRecord{
		Key: "k1", ParamsHash: "hash-a", ResultJSON: `{"ok":true}`, CreatedAt: now.Unix(),
	}))

	rec, ok, mismatch, err := s.LookupIdempotencyRecord("k1", "hash-a", now)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mismatch)
	require.Equal(t, `{"ok":true}`, rec.ResultJSON)

	_, ok, mismatch, err = s.LookupIdempotencyRecord("k1", "hash-b", now)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, mismatch)

	_, ok, mismatch, err = s.LookupIdempotencyRecord("k1", "hash-a", now.Add(25*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mismatch)
}

func TestUpsertWorkspaceEmptyPathResolvesToSentinel(t *testing.T) {
	s := newTestStore(t)
	ws, err := s.UpsertWorkspace("", "")
	require.NoError(t, err)
	require.Equal(t, UnknownWorkspacePath, ws.Path)
}
