package ftsindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeSplitsOnHardBoundaries(t *testing.T) {
	got := Tokenize("Hello, world! foo.bar c++ cma-es")
	assert.Equal(t, []string{"hello", "world", "foo.bar", "c++", "cma-es"}, got)
}

func TestHyphenNormalizeSplitsJoiners(t *testing.T) {
	got := HyphenNormalize("cma-es optimizer")
	assert.Contains(t, got, "cma-es")
	assert.Contains(t, got, "cma")
	assert.Contains(t, got, "es")
	assert.Contains(t, got, "optimizer")
}

func TestHyphenNormalizeUnderscore(t *testing.T) {
	got := HyphenNormalize("snake_case_name")
	assert.Contains(t, got, "snake_case_name")
	assert.Contains(t, got, "snake")
	assert.Contains(t, got, "case")
	assert.Contains(t, got, "name")
}

func TestHyphenNormalizeDedups(t *testing.T) {
	got := HyphenNormalize("es-es")
	count := 0
	for _, tok := range got {
		if tok == "es" {
			count++
		}
	}
	assert.Equal(t, 1, count, "es should appear exactly once despite two occurrences")
}

func TestEdgeNgramsBoundedByMaxLen(t *testing.T) {
	got := EdgeNgrams("hello", 3)
	assert.Equal(t, []string{"h", "he", "hel"}, got)
}

func TestEdgeNgramsShorterThanMaxLen(t *testing.T) {
	got := EdgeNgrams("hi", 15)
	assert.Equal(t, []string{"h", "hi"}, got)
}
