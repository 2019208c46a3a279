package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoleFallsBackToSystem(t *testing.T) {
	assert.Equal(t, RoleUser, NormalizeRole("user"))
	assert.Equal(t, RoleAssistant, NormalizeRole(" Assistant "))
	assert.Equal(t, RoleSystem, NormalizeRole("function_call"))
}

func TestFlattenContentString(t *testing.T) {
	assert.Equal(t, "hello", FlattenContent("hello"))
}

func TestFlattenContentArrayOfBlocks(t *testing.T) {
	blocks := []any{
		map[string]any{"type": "text", "text": "first"},
		map[string]any{"type": "text", "text": "second"},
	}
	assert.Equal(t, "first\nsecond", FlattenContent(blocks))
}

func TestFlattenContentSkipsUnrecognizedBlocks(t *testing.T) {
	blocks := []any{
		map[string]any{"type": "image", "url": "x"},
		map[string]any{"type": "text", "text": "kept"},
	}
	assert.Equal(t, "kept", FlattenContent(blocks))
}

func TestParseTimestampHandlesSecondsAndMillis(t *testing.T) {
	seconds := ParseTimestamp(float64(1700000000))
	millis := ParseTimestamp(float64(1700000000000))
	assert.Equal(t, seconds.Unix(), millis.Unix())
}

func TestParseTimestampHandlesRFC3339(t *testing.T) {
	ts := ParseTimestamp("2024-01-15T10:00:00Z")
	assert.Equal(t, 2024, ts.Year())
}

func TestParseTimestampUnparsableFallsBackToZero(t *testing.T) {
	assert.True(t, ParseTimestamp("not a time").IsZero())
	assert.True(t, ParseTimestamp(nil).IsZero())
}

func TestScanContextPathFilter(t *testing.T) {
	sc := ScanContext{PathFilter: []string{"/a", "/b"}}
	assert.True(t, sc.allowed("/a"))
	assert.False(t, sc.allowed("/c"))

	open := ScanContext{}
	assert.True(t, open.allowed("/anything"))
}

func TestScanContextEmitDiagnostic(t *testing.T) {
	var got Diagnostic
	sc := ScanContext{Diagnostics: func(d Diagnostic) { got = d }}
	sc.emit(Diagnostic{AgentSlug: "chatgpt", Path: "/x", Reason: "encrypted"})
	assert.Equal(t, "chatgpt", got.AgentSlug)
	assert.Equal(t, "encrypted", got.Reason)
}

func TestRegistryListsAllNineConnectors(t *testing.T) {
	reg := Registry("/home/test")
	assert.Len(t, reg, 9)
	slugs := make(map[string]bool, len(reg))
	for _, c := range reg {
		slugs[c.Slug()] = true
	}
	for _, want := range []string{"codex", "cline", "gemini", "claude-code", "opencode", "amp", "cursor", "chatgpt", "aider"} {
		assert.True(t, slugs[want], "missing connector slug %q", want)
	}
}
