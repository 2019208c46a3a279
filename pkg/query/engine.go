package query

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/coregx/ahocorasick"
	"github.com/google/uuid"
	"github.com/kataras/golog"

	"github.com/kittclouds/agentlog/internal/config"
	"github.com/kittclouds/agentlog/internal/store"
	"github.com/kittclouds/agentlog/pkg/clerr"
	"github.com/kittclouds/agentlog/pkg/ftsindex"
)

// RankMode selects how hits are ordered.
type RankMode string

const (
	RankRecent    RankMode = "recent"
	RankBalanced  RankMode = "balanced"
	RankRelevance RankMode = "relevance"
	RankQuality   RankMode = "quality"
)

// matchOrigin records how a hit was produced, for quality-mode penalties.
type matchOrigin int

const (
	originExact matchOrigin = iota
	originWildcardFallback
	originRegex
)

// Hit is one search result, the shape serialized into the robot envelope.
type Hit struct {
	SourcePath  string
	LineNumber  int
	Agent       string
	Workspace   string
	Title       string
	Score       float64
	Snippet     string
	Content     string
	ContentHash string
	CreatedAt   int64

	origin matchOrigin
}

// Filters compose conjunctively.
type Filters struct {
	Agent     string
	Workspace string
	TimeFrom  int64
	TimeTo    int64
}

func (f Filters) fingerprint() string {
	return fmt.Sprintf("%s|%s|%d|%d", f.Agent, f.Workspace, f.TimeFrom, f.TimeTo)
}

func (f Filters) match(h ftsindex.Hit) bool {
	if f.Agent != "" && h.Agent != f.Agent {
		return false
	}
	if f.Workspace != "" && h.Workspace != f.Workspace {
		return false
	}
	if f.TimeFrom != 0 && h.CreatedAt < f.TimeFrom {
		return false
	}
	if f.TimeTo != 0 && h.CreatedAt > f.TimeTo {
		return false
	}
	return true
}

// Paging selects either limit+offset or an opaque cursor.
type Paging struct {
	Limit  int
	Offset int
	Cursor string
}

// Options bundles ranking mode and a search timeout.
type Options struct {
	Rank    RankMode
	Timeout time.Duration
}

// Meta is the robot-mode `_meta` block.
type Meta struct {
	ElapsedMS        int64
	CacheHit         bool
	WildcardFallback bool
	StaleIndex       bool
	NextCursor       string
	RequestID        string
	IndexSchemaHash  string
	TimeoutTruncated bool
}

// Result is the full search response.
type Result struct {
	Hits []Hit
	Meta Meta
}

// Engine is the query engine. Search runs synchronously on the calling
// goroutine; the engine starts no scheduler goroutine and uses no request
// channels. Its only background work is the debounced warm worker's timer.
type Engine struct {
	idx   *ftsindex.Index
	st    *store.SQLiteStore
	cache *PrefixCache
	cfg   config.Config
	log   *golog.Logger

	warm *warmWorker
}

// NewEngine constructs an Engine over an open index and relational store.
func NewEngine(idx *ftsindex.Index, st *store.SQLiteStore, cfg config.Config, log *golog.Logger) *Engine {
	e := &Engine{
		idx:   idx,
		st:    st,
		cache: NewPrefixCache(cfg.CacheShards, cfg.CacheShardCap, cfg.CacheCap),
		cfg:   cfg,
		log:   log,
	}
	e.warm = newWarmWorker(e, time.Duration(cfg.WarmDebounceMS)*time.Millisecond)
	return e
}

// Close stops the background warm worker.
func (e *Engine) Close() { e.warm.stop() }

// Search is the query engine's single entry point.
func (e *Engine) Search(ctx context.Context, rawQuery string, filters Filters, paging Paging, opts Options) (Result, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if strings.TrimSpace(rawQuery) == "" {
		return Result{Hits: nil, Meta: Meta{ElapsedMS: elapsedMS(start), RequestID: requestID, IndexSchemaHash: ftsindex.SchemaHash}}, nil
	}

	normalizedQuery := strings.ToLower(strings.TrimSpace(rawQuery))
	terms := ParseQuery(rawQuery)
	fp := filters.fingerprint()

	stale, err := e.isStale()
	if err != nil {
		return Result{}, err
	}

	var hits []Hit
	var fromCache bool
	var wildcardFallback bool

	if cached, ok := e.cache.Get(normalizedQuery, fp); ok && !stale {
		fromCache = true
		hits = materialize(cached.Hits)
	} else if entry, ok := e.findExtendableCacheEntry(normalizedQuery, fp); ok && !stale {
		tokens := tokensOf(normalizedQuery)
		refined, enough := Refine(entry, normalizedQuery, tokens, minRefinementResults(paging))
		if enough {
			fromCache = true
			hits = materialize(refined)
		}
	}

	if !fromCache {
		var rawHits []ftsindex.Hit
		var matchOrigins map[int64]matchOrigin
		var err error
		if stale {
			rawHits, err = e.searchMirror(rawQuery, terms)
		} else {
			rawHits, matchOrigins, err = e.searchIndex(terms)
		}
		if err != nil {
			return Result{}, err
		}

		if !stale && len(rawHits) < e.cfg.FuzzyThreshold && !HasWildcard(terms) {
			fuzzyHits, _, ferr := e.searchIndex(ToFuzzy(terms))
			if ferr == nil {
				wildcardFallback = true
				rawHits = mergeDedup(rawHits, fuzzyHits)
				for _, h := range fuzzyHits {
					if _, exists := matchOrigins[h.RowID]; !exists {
						// Tag as the fallback origin, not whatever the
						// fuzzy rewrite classified it as internally: this
						// hit only exists because the original query came
						// up short, which is what quality-mode penalizes.
						matchOrigins[h.RowID] = originWildcardFallback
					}
				}
			}
		}
		rawHits = applyFilters(rawHits, filters)
		rawHits = dedupByContentHash(rawHits)

		hits = toHits(rawHits, matchOrigins)

		if !stale {
			cachedHits := make([]CachedHit, 0, len(hits))
			for _, h := range hits {
				cachedHits = append(cachedHits, NewCachedHit(h, tokensOf(h.Title+" "+h.Content)))
			}
			e.cache.Put(normalizedQuery, fp, CacheEntry{Query: normalizedQuery, Hits: cachedHits})
		}
	}

	rankHits(hits, opts.Rank, e.cfg)

	total := len(hits)
	var nextCursor string
	if paging.Cursor != "" {
		offset, cerr := decodeCursor(paging.Cursor)
		if cerr != nil {
			return Result{}, cerr
		}
		paging.Offset = offset
	}
	limit := paging.Limit
	if limit <= 0 {
		limit = total
	}
	lo, hi := clampRange(paging.Offset, limit, total)
	page := hits[lo:hi]
	if hi < total {
		nextCursor = encodeCursor(hi)
	}

	e.warm.submit(rawQuery)

	select {
	case <-ctx.Done():
		return Result{
			Hits: page,
			Meta: Meta{
				ElapsedMS: elapsedMS(start), CacheHit: fromCache, WildcardFallback: wildcardFallback,
				StaleIndex: stale, NextCursor: nextCursor, RequestID: requestID,
				IndexSchemaHash: ftsindex.SchemaHash, TimeoutTruncated: true,
			},
		}, nil
	default:
	}

	return Result{
		Hits: page,
		Meta: Meta{
			ElapsedMS: elapsedMS(start), CacheHit: fromCache, WildcardFallback: wildcardFallback,
			StaleIndex: stale, NextCursor: nextCursor, RequestID: requestID,
			IndexSchemaHash: ftsindex.SchemaHash,
		},
	}, nil
}

func minRefinementResults(p Paging) int {
	if p.Limit > 0 {
		return p.Limit
	}
	return 1
}

func (e *Engine) findExtendableCacheEntry(normalizedQuery, fp string) (CacheEntry, bool) {
	// Walk shorter prefixes of the query looking for a cached entry to
	// extend, per the prefix-cache-refinement rule.
	for i := len(normalizedQuery) - 1; i > 0; i-- {
		candidate := normalizedQuery[:i]
		if entry, ok := e.cache.Get(candidate, fp); ok {
			return entry, true
		}
	}
	return CacheEntry{}, false
}

func materialize(hits []CachedHit) []Hit {
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Hit)
	}
	return out
}

func tokensOf(s string) []string { return ftsindex.HyphenNormalize(s) }

// isStale applies the heuristic: message counts disagree by more than a
// threshold (10%) between the relational store and the index.
func (e *Engine) isStale() (bool, error) {
	if e.idx == nil {
		return true, nil
	}
	docCount, err := e.idx.DocCount()
	if err != nil {
		return false, err
	}
	if docCount == 0 {
		return true, nil
	}
	if e.st == nil {
		return false, nil
	}
	msgCount, err := e.st.CountMessages()
	if err != nil {
		return false, err
	}
	if msgCount == 0 {
		return false, nil
	}
	diff := math.Abs(float64(msgCount-docCount)) / float64(msgCount)
	return diff > 0.10, nil
}

func (e *Engine) searchIndex(terms []Term) ([]ftsindex.Hit, map[int64]matchOrigin, error) {
	origins := make(map[int64]matchOrigin)

	var ftsHits []ftsindex.Hit
	matchExpr := BuildMatchExpr(termsOfKind(terms, Exact, Prefix))
	if matchExpr != "" {
		hits, err := e.idx.QueryMatch(matchExpr, 500)
		if err != nil {
			return nil, nil, err
		}
		ftsHits = append(ftsHits, hits...)
		for _, h := range hits {
			origins[h.RowID] = originExact
		}
	}

	// The prefix trie is the low-latency path: an in-memory lookup plus a
	// rowid fetch, versus FTS5's bm25-scored MATCH above. Both paths cover
	// Exact/Prefix terms and are merged/deduped, so the trie materializes
	// into real hits rather than only tagging origins for rows FTS5 already
	// found.
	var prefixIDs []int64
	seenPrefixID := make(map[int64]bool)
	for _, t := range terms {
		if t.Kind != Prefix && t.Kind != Exact {
			continue
		}
		for _, id := range e.idx.Prefix.Lookup(strings.ToLower(t.Text)) {
			if !seenPrefixID[id] {
				seenPrefixID[id] = true
				prefixIDs = append(prefixIDs, id)
			}
		}
	}
	if len(prefixIDs) > 0 {
		prefixHits, err := e.idx.RowsByID(prefixIDs)
		if err != nil {
			return nil, nil, err
		}
		for _, h := range prefixHits {
			origins[h.RowID] = originExact
		}
		ftsHits = mergeDedupIndexHits(ftsHits, prefixHits)
	}

	regexHits, err := e.matchSuffixSubstring(terms)
	if err != nil {
		return nil, nil, err
	}
	for _, h := range regexHits {
		if _, exists := origins[h.RowID]; !exists {
			origins[h.RowID] = originRegex
		}
	}
	ftsHits = mergeDedupIndexHits(ftsHits, regexHits)

	return ftsHits, origins, nil
}

// matchSuffixSubstring handles Suffix/Substring terms, which FTS5 MATCH
// cannot express. It scans all docs (bounded) but uses an Aho-Corasick
// automaton built from the literal term texts as a single-pass prefilter
// ahead of the per-term regex check, so the (more expensive) anchored regex
// only runs against docs the automaton already confirmed contain the term.
func (e *Engine) matchSuffixSubstring(terms []Term) ([]ftsindex.Hit, error) {
	type pattern struct {
		substring bool
		lower     string
		re        *regexp.Regexp
	}
	var patterns []pattern
	var literals []string
	for _, t := range terms {
		switch t.Kind {
		case Suffix:
			patterns = append(patterns, pattern{lower: strings.ToLower(t.Text), re: regexp.MustCompile(EscapeRegex(t.Text) + `$`)})
			literals = append(literals, strings.ToLower(t.Text))
		case Substring:
			patterns = append(patterns, pattern{substring: true, lower: strings.ToLower(t.Text)})
			literals = append(literals, strings.ToLower(t.Text))
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(literals).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, clerr.Wrap(clerr.KindUnknown, err)
	}

	all, err := e.idx.AllDocs(5000)
	if err != nil {
		return nil, err
	}

	var out []ftsindex.Hit
	for _, h := range all {
		lc := strings.ToLower(h.Content)
		if len(ac.FindAllOverlapping([]byte(lc))) == 0 {
			continue
		}
		for _, p := range patterns {
			if p.substring {
				if strings.Contains(lc, p.lower) {
					out = append(out, h)
					break
				}
				continue
			}
			if p.re.MatchString(lc) {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

func termsOfKind(terms []Term, kinds ...TermKind) []Term {
	set := make(map[TermKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	var out []Term
	for _, t := range terms {
		if set[t.Kind] {
			out = append(out, t)
		}
	}
	return out
}

func mergeDedupIndexHits(a, b []ftsindex.Hit) []ftsindex.Hit {
	seen := make(map[int64]bool, len(a))
	out := make([]ftsindex.Hit, 0, len(a)+len(b))
	for _, h := range a {
		if !seen[h.RowID] {
			seen[h.RowID] = true
			out = append(out, h)
		}
	}
	for _, h := range b {
		if !seen[h.RowID] {
			seen[h.RowID] = true
			out = append(out, h)
		}
	}
	return out
}

func mergeDedup(a, b []ftsindex.Hit) []ftsindex.Hit { return mergeDedupIndexHits(a, b) }

// searchMirror is the consistency fallback over the relational store's
// messages_mirror FTS5 table, used when the dedicated index is missing,
// empty, or stale.
func (e *Engine) searchMirror(rawQuery string, terms []Term) ([]ftsindex.Hit, error) {
	var exprParts []string
	for _, t := range terms {
		exprParts = append(exprParts, quoteFTS(t.Text))
	}
	msgs, err := e.st.MirrorSearch(strings.Join(exprParts, " "), 500)
	if err != nil {
		return nil, err
	}
	out := make([]ftsindex.Hit, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ftsindex.Hit{
			RowID:       m.ID,
			MsgIdx:      m.MsgIdx,
			Content:     m.Content,
			Preview:     previewOf(m.Content, 200),
			ContentHash: m.ContentHash,
			CreatedAt:   m.CreatedAt,
		})
	}
	return out, nil
}

func applyFilters(hits []ftsindex.Hit, f Filters) []ftsindex.Hit {
	if f.Agent == "" && f.Workspace == "" && f.TimeFrom == 0 && f.TimeTo == 0 {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		if f.match(h) {
			out = append(out, h)
		}
	}
	return out
}

func dedupByContentHash(hits []ftsindex.Hit) []ftsindex.Hit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		if h.ContentHash != "" && seen[h.ContentHash] {
			continue
		}
		if h.ContentHash != "" {
			seen[h.ContentHash] = true
		}
		out = append(out, h)
	}
	return out
}

func toHits(raw []ftsindex.Hit, origins map[int64]matchOrigin) []Hit {
	out := make([]Hit, 0, len(raw))
	for _, h := range raw {
		out = append(out, Hit{
			SourcePath:  h.SourcePath,
			LineNumber:  h.MsgIdx,
			Agent:       h.Agent,
			Workspace:   h.Workspace,
			Title:       h.Title,
			Score:       h.Score,
			Snippet:     h.Preview,
			Content:     h.Content,
			ContentHash: h.ContentHash,
			CreatedAt:   h.CreatedAt,
			origin:      origins[h.RowID],
		})
	}
	return out
}

func rankHits(hits []Hit, mode RankMode, cfg config.Config) {
	now := time.Now().Unix()
	score := func(h Hit) float64 {
		switch mode {
		case RankRecent:
			return float64(h.CreatedAt)
		case RankRelevance:
			return h.Score
		case RankQuality:
			penalty := 1.0
			switch h.origin {
			case originWildcardFallback:
				penalty = cfg.QualityFallbackPenalty
			case originRegex:
				penalty = cfg.QualityRegexPenalty
			}
			return h.Score * penalty
		case RankBalanced:
			ageDays := float64(now-h.CreatedAt) / 86400
			decay := math.Exp(-ageDays / cfg.BalancedRecencyHalflifeDays)
			return cfg.BalancedRelevanceWeight*h.Score + (1-cfg.BalancedRelevanceWeight)*decay
		default:
			return h.Score
		}
	}
	// Higher score first; for RankRecent that's the most recent timestamp.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && score(hits[j]) > score(hits[j-1]); j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func clampRange(offset, limit, total int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}

func elapsedMS(start time.Time) int64 { return time.Since(start).Milliseconds() }

func previewOf(content string, n int) string {
	r := []rune(content)
	if len(r) <= n {
		return content
	}
	return string(r[:n]) + "…"
}

var _ = clerr.KindTimeout // nothing in this package constructs it; a search timeout sets Meta.TimeoutTruncated
