package ftsindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixTrieLookupMonotoneRefinement(t *testing.T) {
	tr := NewPrefixTrie(15)
	tr.IndexDocument(1, "cma-es optimizer walkthrough")

	// Every prefix of an indexed token must return a superset of results
	// for its own longer extensions: lookup("cma") ⊇ lookup("cma-")... here
	// simply that shorter prefixes still find the same document.
	assert.Contains(t, tr.Lookup("c"), int64(1))
	assert.Contains(t, tr.Lookup("cm"), int64(1))
	assert.Contains(t, tr.Lookup("cma"), int64(1))
	assert.Contains(t, tr.Lookup("opt"), int64(1))
}

func TestPrefixTrieSkipsStopwordOnlyTokens(t *testing.T) {
	tr := NewPrefixTrie(15)
	tr.IndexDocument(1, "the")
	assert.Empty(t, tr.Lookup("t"))
}

func TestPrefixTrieLookupUnknownPrefixReturnsEmpty(t *testing.T) {
	tr := NewPrefixTrie(15)
	tr.IndexDocument(1, "hello")
	assert.Empty(t, tr.Lookup("zzz"))
}

func TestPrefixTrieResetClearsEntries(t *testing.T) {
	tr := NewPrefixTrie(15)
	tr.IndexDocument(1, "hello")
	tr.Reset()
	assert.Empty(t, tr.Lookup("h"))
}

func TestPrefixTrieMultipleDocsShareAPrefix(t *testing.T) {
	tr := NewPrefixTrie(15)
	tr.IndexDocument(1, "golang concurrency")
	tr.IndexDocument(2, "golang generics")
	got := tr.Lookup("golang")
	assert.ElementsMatch(t, []int64{1, 2}, got)
}
