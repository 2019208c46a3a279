package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixCachePutGetRoundTrip(t *testing.T) {
	c := NewPrefixCache(4, 2, 8)
	entry := CacheEntry{Query: "foo", Hits: []CachedHit{{Hit: Hit{Title: "Foo"}}}}
	c.Put("foo", "", entry)

	got, ok := c.Get("foo", "")
	require.True(t, ok)
	assert.Equal(t, "foo", got.Query)
}

func TestPrefixCacheMissOnDifferentFilterFingerprint(t *testing.T) {
	c := NewPrefixCache(4, 2, 8)
	c.Put("foo", "agent=a", CacheEntry{Query: "foo"})
	_, ok := c.Get("foo", "agent=b")
	assert.False(t, ok)
}

func TestShardEvictsLeastRecentlyUsed(t *testing.T) {
	s := newShard(2)
	s.put("a", CacheEntry{Query: "a"})
	s.put("b", CacheEntry{Query: "b"})
	s.put("c", CacheEntry{Query: "c"}) // evicts "a" since cap is 2

	_, ok := s.get("a")
	assert.False(t, ok)
	_, ok = s.get("b")
	assert.True(t, ok)
	_, ok = s.get("c")
	assert.True(t, ok)
}

func TestIsExtensionOf(t *testing.T) {
	assert.True(t, IsExtensionOf("cma-e", "cma"))
	assert.False(t, IsExtensionOf("cma", "cma-e"))
	assert.False(t, IsExtensionOf("cma", ""))
}

func TestRefineFiltersByBloomThenSubstring(t *testing.T) {
	entry := CacheEntry{
		Hits: []CachedHit{
			NewCachedHit(Hit{Title: "cma-es optimizer"}, []string{"cma-es", "cma", "es", "optimizer"}),
			NewCachedHit(Hit{Title: "unrelated document"}, []string{"unrelated", "document"}),
		},
	}
	refined, ok := Refine(entry, "optimizer", []string{"optimizer"}, 1)
	require.True(t, ok)
	require.Len(t, refined, 1)
	assert.Contains(t, refined[0].LowerTitle, "optimizer")
}

func TestRefineBelowMinResultsSignalsFallthrough(t *testing.T) {
	entry := CacheEntry{Hits: []CachedHit{NewCachedHit(Hit{Title: "foo"}, []string{"foo"})}}
	_, ok := Refine(entry, "nonexistent-term", []string{"nonexistent-term"}, 1)
	assert.False(t, ok)
}
