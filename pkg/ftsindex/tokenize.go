package ftsindex

import (
	"strings"
	"unicode"
)

// SchemaHash is the full-text index's own independently versioned schema
// identifier. On mismatch at startup, the index directory is recreated.
const SchemaHash = "edge-ngram-preview-v4"

// isJoiner reports whether r is a character that hyphen-normalize treats as
// a soft split point within a token: it both joins and can split, so a
// token built around it is emitted as both the joined form and its parts.
func isJoiner(r rune) bool {
	switch r {
	case '-', '‐', '‑', '‒', '–', '—', '_':
		return true
	default:
		return false
	}
}

// isSymbolRich reports whether r should be preserved inside an atomic token
// (e.g. "c++", "foo.bar") rather than treated as a hard word boundary.
func isSymbolRich(r rune) bool {
	switch r {
	case '+', '.', '#', '@':
		return true
	default:
		return false
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) || isSymbolRich(r)
}

// Tokenize splits text into raw word tokens (lowercased), treating anything
// that isn't a letter, digit, joiner, or symbol-rich rune as a hard
// boundary.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if isWordRune(r) {
			cur.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// HyphenNormalize expands each raw token into the set of index terms:
// the token itself, and — if it contains a joiner — its joiner-split parts
// too, so "cma-es" matches queries "cma-es", "cma", and "es", and
// "snake_case" splits on its underscore the same way.
func HyphenNormalize(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(tok string) {
		if tok != "" && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}

	for _, tok := range Tokenize(text) {
		add(tok)
		if strings.ContainsFunc(tok, isJoiner) {
			var part strings.Builder
			for _, r := range tok {
				if isJoiner(r) {
					add(part.String())
					part.Reset()
					continue
				}
				part.WriteRune(r)
			}
			add(part.String())
		}
	}
	return out
}

// EdgeNgrams returns every prefix of tok from length 1 up to maxLen (or the
// token's full length if shorter), the basis of the in-memory prefix trie.
func EdgeNgrams(tok string, maxLen int) []string {
	r := []rune(tok)
	n := len(r)
	if n > maxLen {
		n = maxLen
	}
	grams := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		grams = append(grams, string(r[:i]))
	}
	return grams
}
