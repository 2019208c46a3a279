package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryClassifiesWildcards(t *testing.T) {
	terms := ParseQuery(`cma* *es *cma-es* exact`)
	require.Len(t, terms, 4)
	assert.Equal(t, Term{Kind: Prefix, Text: "cma"}, terms[0])
	assert.Equal(t, Term{Kind: Suffix, Text: "es"}, terms[1])
	assert.Equal(t, Term{Kind: Substring, Text: "cma-es"}, terms[2])
	assert.Equal(t, Term{Kind: Exact, Text: "exact"}, terms[3])
}

func TestParseQueryPreservesQuotedPhrase(t *testing.T) {
	terms := ParseQuery(`"hello world" foo`)
	require.Len(t, terms, 2)
	assert.Equal(t, Term{Kind: Exact, Text: "hello world"}, terms[0])
	assert.Equal(t, Term{Kind: Exact, Text: "foo"}, terms[1])
}

func TestHasWildcard(t *testing.T) {
	assert.False(t, HasWildcard(ParseQuery("exact terms only")))
	assert.True(t, HasWildcard(ParseQuery("cma*")))
}

func TestEscapeRegexEscapesSpecialChars(t *testing.T) {
	escaped := EscapeRegex("c++")
	assert.Equal(t, `c\+\+`, escaped)
}

func TestToFuzzyRewritesAsSubstring(t *testing.T) {
	terms := ToFuzzy(ParseQuery("exact cma*"))
	for _, tm := range terms {
		assert.Equal(t, Substring, tm.Kind)
	}
}

func TestBuildMatchExprSkipsUnrepresentableKinds(t *testing.T) {
	terms := []Term{
		{Kind: Exact, Text: "foo"},
		{Kind: Prefix, Text: "bar"},
		{Kind: Suffix, Text: "baz"},
		{Kind: Substring, Text: "qux"},
	}
	expr := BuildMatchExpr(terms)
	assert.Equal(t, `"foo" "bar"*`, expr)
}
