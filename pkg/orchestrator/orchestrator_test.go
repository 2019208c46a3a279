package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/agentlog/internal/config"
	"github.com/kittclouds/agentlog/internal/store"
	"github.com/kittclouds/agentlog/pkg/connector"
	"github.com/kittclouds/agentlog/pkg/ftsindex"
)

type fakeConnector struct {
	slug  string
	convs []connector.NormalizedConversation
}

func (f *fakeConnector) Slug() string        { return f.slug }
func (f *fakeConnector) DisplayName() string { return f.slug }
func (f *fakeConnector) Detect() (connector.DetectionResult, error) {
	return connector.DetectionResult{Present: true}, nil
}
func (f *fakeConnector) Scan(ctx context.Context, sc connector.ScanContext) ([]connector.NormalizedConversation, error) {
	return f.convs, nil
}

func newTestOrchestrator(t *testing.T, fc *fakeConnector) (*Orchestrator, *store.SQLiteStore, *ftsindex.Index) {
	t.Helper()
	st, err := store.NewSQLiteStoreWithDSN("file:"+t.Name()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := ftsindex.Open(t.TempDir(), nil, ftsindex.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	orch := New(st, idx, []connector.Connector{fc}, config.Config{}, nil)
	return orch, st, idx
}

func sampleConnector(extID string, now time.Time) *fakeConnector {
	return &fakeConnector{
		slug: "codex",
		convs: []connector.NormalizedConversation{
			{
				AgentSlug: "codex", ExternalID: extID, Title: "session one",
				CreatedAt: now, UpdatedAt: now, WorkspaceHint: "/repo",
				Messages: []connector.NormalizedMessage{
					{Role: connector.RoleUser, Content: "hello", Timestamp: now},
					{Role: connector.RoleAssistant, Content: "hi there", Timestamp: now},
				},
			},
		},
	}
}

func noopProgress(ProgressEvent) {}

func TestRunFullIngestsConversationsAndMessages(t *testing.T) {
	now := time.Unix(1700000000, 0)
	orch, st, idx := newTestOrchestrator(t, sampleConnector("conv-1", now))

	result, replay, err := orch.RunFull(context.Background(), "", noopProgress)
	require.NoError(t, err)
	require.False(t, replay)
	require.Equal(t, 1, result.ConversationsTotal)
	require.Equal(t, 2, result.MessagesIngested)

	n, err := st.CountMessages()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	docCount, err := idx.DocCount()
	require.NoError(t, err)
	require.Equal(t, 2, docCount)
}

func TestRunFullReplaysIdenticalResultForSameIdempotencyKey(t *testing.T) {
	now := time.Unix(1700000000, 0)
	orch, _, _ := newTestOrchestrator(t, sampleConnector("conv-1", now))

	first, replay, err := orch.RunFull(context.Background(), "fixed-key", noopProgress)
	require.NoError(t, err)
	require.False(t, replay)

	second, replay, err := orch.RunFull(context.Background(), "fixed-key", noopProgress)
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, first, second)
}

func TestRunFullRejectsIdempotencyKeyReuseWithDifferentParams(t *testing.T) {
	now := time.Unix(1700000000, 0)
	orch, _, _ := newTestOrchestrator(t, sampleConnector("conv-1", now))

	_, _, err := orch.RunFull(context.Background(), "shared-key", noopProgress)
	require.NoError(t, err)

	orch.connectors = append(orch.connectors, sampleConnector("conv-2", now))
	_, _, err = orch.RunFull(context.Background(), "shared-key", noopProgress)
	require.Error(t, err)
}

func TestWatchStateRoundTripsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch_state.json")

	ws, err := LoadWatchState(path)
	require.NoError(t, err)
	require.True(t, ws.LastScanFor("codex").IsZero())

	now := time.Unix(1700000000, 0)
	require.NoError(t, ws.Advance("codex", now))

	reloaded, err := LoadWatchState(path)
	require.NoError(t, err)
	require.Equal(t, now.Unix(), reloaded.LastScanFor("codex").Unix())
}

func TestLoadWatchStateMissingFileYieldsEmptyState(t *testing.T) {
	ws, err := LoadWatchState(filepath.Join(t.TempDir(), "does_not_exist.json"))
	require.NoError(t, err)
	require.True(t, ws.LastScanFor("anything").IsZero())
}
