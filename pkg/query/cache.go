package query

import (
	"container/list"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// CachedHit is a materialized result plus the per-hit Bloom mask and
// pre-lowercased fields needed for incremental prefix-cache refinement.
type CachedHit struct {
	Hit         Hit
	Bloom       uint64
	LowerTitle  string
	LowerContent string
	LowerSnippet string
}

// CacheEntry is one prefix-cache value: materialized hits for a given
// (normalized_query, filter_fingerprint) key.
type CacheEntry struct {
	Query string
	Hits  []CachedHit
}

// bloomMask builds a 64-bit mask with one bit set per distinct token,
// hashed with xxhash and reduced mod 64.
func bloomMask(tokens []string) uint64 {
	var mask uint64
	for _, tok := range tokens {
		h := xxhash.Sum64String(tok)
		mask |= 1 << (h % 64)
	}
	return mask
}

// NewCachedHit builds a CachedHit from a raw Hit, computing its Bloom mask
// over the hyphen-normalized tokens of title+content.
func NewCachedHit(h Hit, tokens []string) CachedHit {
	return CachedHit{
		Hit:          h,
		Bloom:        bloomMask(tokens),
		LowerTitle:   strings.ToLower(h.Title),
		LowerContent: strings.ToLower(h.Content),
		LowerSnippet: strings.ToLower(h.Snippet),
	}
}

// shard is one LRU partition of the prefix cache, guarded by its own mutex
// so a single shard lock is held only for the duration of one lookup/insert.
type shard struct {
	mu       sync.Mutex
	cap      int
	ll       *list.List
	items    map[string]*list.Element
}

type shardEntry struct {
	key   string
	value CacheEntry
}

func newShard(cap int) *shard {
	return &shard{cap: cap, ll: list.New(), items: make(map[string]*list.Element)}
}

func (s *shard) get(key string) (CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return CacheEntry{}, false
	}
	s.ll.MoveToFront(el)
	return el.Value.(*shardEntry).value, true
}

func (s *shard) put(key string, value CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		el.Value.(*shardEntry).value = value
		s.ll.MoveToFront(el)
		return
	}
	el := s.ll.PushFront(&shardEntry{key: key, value: value})
	s.items[key] = el
	if s.ll.Len() > s.cap {
		oldest := s.ll.Back()
		if oldest != nil {
			s.ll.Remove(oldest)
			delete(s.items, oldest.Value.(*shardEntry).key)
		}
	}
}

// PrefixCache is the sharded LRU of recent prefix-query results, the
// centerpiece of interactive latency: 8 shards x 256 entries by default,
// global cap 2048, all overridable via internal/config. When shards x
// per-shard cap exceeds the global cap, each shard's cap is lowered to
// globalCap/numShards.
type PrefixCache struct {
	shards    []*shard
	globalCap int
}

func NewPrefixCache(numShards, shardCap, globalCap int) *PrefixCache {
	if numShards > 0 && globalCap > 0 && numShards*shardCap > globalCap {
		shardCap = globalCap / numShards
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = newShard(shardCap)
	}
	return &PrefixCache{shards: shards, globalCap: globalCap}
}

// cacheKey is (normalized_query, filter_fingerprint).
func cacheKey(normalizedQuery, filterFingerprint string) string {
	return normalizedQuery + "\x00" + filterFingerprint
}

func (c *PrefixCache) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return c.shards[h%uint64(len(c.shards))]
}

// Get looks up a cached entry for (normalizedQuery, filterFingerprint).
func (c *PrefixCache) Get(normalizedQuery, filterFingerprint string) (CacheEntry, bool) {
	key := cacheKey(normalizedQuery, filterFingerprint)
	return c.shardFor(key).get(key)
}

// Put stores hits under (normalizedQuery, filterFingerprint).
func (c *PrefixCache) Put(normalizedQuery, filterFingerprint string, entry CacheEntry) {
	key := cacheKey(normalizedQuery, filterFingerprint)
	c.shardFor(key).put(key, entry)
}

// IsExtensionOf reports whether newQuery is a character-wise extension of
// cachedQuery (i.e. cachedQuery is a prefix of newQuery), the precondition
// for incremental refinement.
func IsExtensionOf(newQuery, cachedQuery string) bool {
	return cachedQuery != "" && strings.HasPrefix(newQuery, cachedQuery)
}

// Refine filters a cached entry's hits against the new, longer query using
// the Bloom mask first (cheap negative filter), then a substring check on
// the lowered content only on a mask hit. Returns the refined hits and
// whether refinement stayed above minResults; if not, the caller should
// fall through to a real index query.
func Refine(entry CacheEntry, newQuery string, newTokens []string, minResults int) ([]CachedHit, bool) {
	needed := bloomMask(newTokens)
	lowered := strings.ToLower(newQuery)

	var out []CachedHit
	for _, ch := range entry.Hits {
		if ch.Bloom&needed != needed {
			continue // mask miss: token set can't contain all new tokens
		}
		if strings.Contains(ch.LowerContent, lowered) || strings.Contains(ch.LowerTitle, lowered) {
			out = append(out, ch)
		}
	}
	return out, len(out) >= minResults
}
