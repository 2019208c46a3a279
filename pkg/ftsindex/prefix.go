package ftsindex

import (
	"sync"

	"github.com/orsinium-labs/stopwords"
)

// No verified third-party trie API is reachable from the retrieval pack:
// derekparker/trie/v3 appears only as an indirect dependency of
// orsinium-labs/stopwords with no call site anywhere in the pack to ground
// an API against, so the edge-n-gram structure below is hand-rolled. See
// DESIGN.md.

var enStopwords = stopwords.MustGet("en")

// trieNode is one node of the in-memory edge-n-gram prefix trie.
type trieNode struct {
	children map[rune]*trieNode
	rowIDs   map[int64]struct{}
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[rune]*trieNode)}
}

// PrefixTrie maps edge n-grams (length 1..maxLen) to the set of FTS5 rowids
// whose title/content contain a token with that prefix. It is never
// persisted — rebuilt from the docs table on every reader reload, per spec.
type PrefixTrie struct {
	mu     sync.RWMutex
	root   *trieNode
	maxLen int
}

func NewPrefixTrie(maxLen int) *PrefixTrie {
	return &PrefixTrie{root: newTrieNode(), maxLen: maxLen}
}

// IndexDocument registers every hyphen-normalized token of text against
// rowID, skipping n-grams derived purely from stopword tokens so the trie
// stays small.
func (t *PrefixTrie) IndexDocument(rowID int64, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tok := range HyphenNormalize(text) {
		if enStopwords.Contains(tok) {
			continue
		}
		for _, gram := range EdgeNgrams(tok, t.maxLen) {
			t.insert(gram, rowID)
		}
	}
}

func (t *PrefixTrie) insert(gram string, rowID int64) {
	node := t.root
	for _, r := range gram {
		child, ok := node.children[r]
		if !ok {
			child = newTrieNode()
			node.children[r] = child
		}
		node = child
	}
	if node.rowIDs == nil {
		node.rowIDs = make(map[int64]struct{})
	}
	node.rowIDs[rowID] = struct{}{}
}

// Lookup returns the set of rowids indexed under the given prefix.
func (t *PrefixTrie) Lookup(prefix string) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.root
	for _, r := range prefix {
		child, ok := node.children[r]
		if !ok {
			return nil
		}
		node = child
	}
	out := make([]int64, 0, len(node.rowIDs))
	for id := range node.rowIDs {
		out = append(out, id)
	}
	return out
}

// Reset discards all entries, used before a full rebuild.
func (t *PrefixTrie) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newTrieNode()
}
