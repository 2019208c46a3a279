package ftsindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(t.TempDir(), nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestCommitDocAndQueryMatch(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.CommitDoc(Doc{
		Agent: "codex", Workspace: "/repo", SourcePath: "/x", MsgIdx: 0,
		Title: "session one", Content: "how do I configure the cma-es optimizer",
		ContentHash: "h0",
	}))
	require.NoError(t, idx.Flush())

	hits, err := idx.QueryMatch(`"optimizer"`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "codex", hits[0].Agent)
}

func TestDocCountTracksCommits(t *testing.T) {
	idx := openTestIndex(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, idx.CommitDoc(Doc{Agent: "codex", Content: "hello world", ContentHash: "h"}))
	}
	require.NoError(t, idx.Flush())

	n, err := idx.DocCount()
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestTruncateAllEmptiesDocsAndPrefixTrie(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.CommitDoc(Doc{Agent: "codex", Content: "hello world", ContentHash: "h"}))
	require.NoError(t, idx.Flush())

	require.NoError(t, idx.TruncateAll())

	n, err := idx.DocCount()
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, idx.Prefix.Lookup("hello"))
}

func TestAllDocsReturnsEveryCommittedDoc(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.CommitDoc(Doc{Agent: "codex", Content: "alpha", ContentHash: "h0"}))
	require.NoError(t, idx.CommitDoc(Doc{Agent: "cline", Content: "beta", ContentHash: "h1"}))
	require.NoError(t, idx.Flush())

	docs, err := idx.AllDocs(10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestReopenWithSameSchemaHashPreservesDocs(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, idx.CommitDoc(Doc{Agent: "codex", Content: "persisted", ContentHash: "h0"}))
	require.NoError(t, idx.Flush())
	require.NoError(t, idx.Close())

	idx2, err := Open(dir, nil, Options{})
	require.NoError(t, err)
	defer idx2.Close()

	n, err := idx2.DocCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
