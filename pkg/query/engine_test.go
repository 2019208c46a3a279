package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/agentlog/internal/config"
	"github.com/kittclouds/agentlog/pkg/ftsindex"
)

func testConfig() config.Config {
	return config.Config{
		FuzzyThreshold:              5,
		CacheShards:                 2,
		CacheShardCap:               16,
		CacheCap:                    64,
		WarmDebounceMS:              50,
		PrefixNgramMaxLen:           15,
		QualityFallbackPenalty:      0.5,
		QualityRegexPenalty:         0.75,
		BalancedRelevanceWeight:     0.6,
		BalancedRecencyHalflifeDays: 30,
	}
}

func newTestEngine(t *testing.T) (*Engine, *ftsindex.Index) {
	t.Helper()
	idx, err := ftsindex.Open(t.TempDir(), nil, ftsindex.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	e := NewEngine(idx, nil, testConfig(), nil)
	t.Cleanup(e.Close)
	return e, idx
}

func TestSearchReturnsRawDisplayContentNotTokenizedStream(t *testing.T) {
	e, idx := newTestEngine(t)
	require.NoError(t, idx.CommitDoc(ftsindex.Doc{
		Agent: "codex", Title: "cma-es session", Content: "how do I configure the cma-es optimizer",
		ContentHash: "h0",
	}))
	require.NoError(t, idx.Flush())

	result, err := e.Search(context.Background(), "optimizer", Filters{}, Paging{}, Options{Rank: RankRelevance})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	require.Equal(t, "how do I configure the cma-es optimizer", result.Hits[0].Content)
	require.Equal(t, "cma-es session", result.Hits[0].Title)
}

func TestSearchPrefixTermMatchesViaTrie(t *testing.T) {
	e, idx := newTestEngine(t)
	require.NoError(t, idx.CommitDoc(ftsindex.Doc{
		Agent: "codex", Title: "", Content: "investigating a flaky concurrency test",
		ContentHash: "h0",
	}))
	require.NoError(t, idx.Flush())

	result, err := e.Search(context.Background(), "concur*", Filters{}, Paging{}, Options{Rank: RankRelevance})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
}

func TestSearchWildcardFallbackTriggersBelowThreshold(t *testing.T) {
	e, idx := newTestEngine(t)
	require.NoError(t, idx.CommitDoc(ftsindex.Doc{
		Agent: "codex", Content: "a one-off mention of zzqxyplorp in passing", ContentHash: "h0",
	}))
	require.NoError(t, idx.Flush())

	result, err := e.Search(context.Background(), "zzqxyplorp", Filters{}, Paging{}, Options{Rank: RankRelevance})
	require.NoError(t, err)
	require.True(t, result.Meta.WildcardFallback)
	require.NotEmpty(t, result.Hits)
}

func TestSearchEmptyQueryReturnsNoHits(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Search(context.Background(), "   ", Filters{}, Paging{}, Options{})
	require.NoError(t, err)
	require.Empty(t, result.Hits)
}

func TestToHitsThreadsMatchOrigin(t *testing.T) {
	origins := map[int64]matchOrigin{1: originExact, 2: originWildcardFallback, 3: originRegex}
	raw := []ftsindex.Hit{{RowID: 1}, {RowID: 2}, {RowID: 3}}

	hits := toHits(raw, origins)

	require.Equal(t, originExact, hits[0].origin)
	require.Equal(t, originWildcardFallback, hits[1].origin)
	require.Equal(t, originRegex, hits[2].origin)
}

func TestRankQualityPenalizesNonExactOrigins(t *testing.T) {
	cfg := testConfig()
	hits := []Hit{
		{ContentHash: "fallback", Score: 1.0, origin: originWildcardFallback},
		{ContentHash: "exact", Score: 1.0, origin: originExact},
		{ContentHash: "regex", Score: 1.0, origin: originRegex},
	}

	rankHits(hits, RankQuality, cfg)

	require.Equal(t, "exact", hits[0].ContentHash)
	require.Equal(t, "regex", hits[1].ContentHash)
	require.Equal(t, "fallback", hits[2].ContentHash)
}

func TestRankRelevanceIgnoresOrigin(t *testing.T) {
	cfg := testConfig()
	hits := []Hit{
		{ContentHash: "low", Score: 0.1, origin: originExact},
		{ContentHash: "high", Score: 0.9, origin: originWildcardFallback},
	}

	rankHits(hits, RankRelevance, cfg)

	require.Equal(t, "high", hits[0].ContentHash)
}
