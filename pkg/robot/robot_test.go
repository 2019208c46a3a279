package robot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/agentlog/pkg/query"
)

func sampleResult() query.Result {
	return query.Result{
		Hits: []query.Hit{
			{SourcePath: "a.jsonl", LineNumber: 3, Agent: "codex", Title: "t1", Score: 1.5, Content: strings.Repeat("x", 10)},
			{SourcePath: "b.jsonl", LineNumber: 7, Agent: "cline", Title: "t2", Score: 0.9, Content: "short"},
		},
		Meta: query.Meta{ElapsedMS: 12, RequestID: "req-1", IndexSchemaHash: "edge-ngram-preview-v4"},
	}
}

func TestRenderMinimalFieldSet(t *testing.T) {
	out, err := Render(sampleResult(), FieldSet{Preset: "minimal"}, TruncateOptions{}, true)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(out, &env))
	require.Len(t, env.Hits, 2)
	assert.Contains(t, env.Hits[0], "source_path")
	assert.Contains(t, env.Hits[0], "score")
	assert.NotContains(t, env.Hits[0], "content")
	require.NotNil(t, env.Meta)
	assert.Equal(t, "req-1", env.Meta.RequestID)
}

func TestRenderExplicitFieldList(t *testing.T) {
	out, err := Render(sampleResult(), FieldSet{Fields: []string{"content"}}, TruncateOptions{}, false)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Contains(t, env.Hits[0], "content")
	assert.NotContains(t, env.Hits[0], "source_path")
	assert.Nil(t, env.Meta)
}

func TestTruncateUTF8MarksTruncatedFlag(t *testing.T) {
	out, err := Render(sampleResult(), FieldSet{Fields: []string{"content"}}, TruncateOptions{MaxContentLength: 5}, false)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(out, &env))
	assert.Equal(t, "xxxxx", env.Hits[0]["content"])
	assert.Equal(t, true, env.Hits[0]["content_truncated"])
	// second hit's content ("short", 5 runes) fits the limit, so no truncation flag
	assert.NotContains(t, env.Hits[1], "content_truncated")
}

func TestStreamWriteEmitsHeaderThenOneHitPerLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, StreamWrite(&buf, sampleResult(), FieldSet{Preset: "summary"}, TruncateOptions{}))

	scanner := bufio.NewScanner(&buf)
	require.True(t, scanner.Scan())
	var header struct {
		Meta MetaJSON `json:"_meta"`
	}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &header))
	assert.Equal(t, "req-1", header.Meta.RequestID)

	lines := 0
	for scanner.Scan() {
		lines++
		var hit map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &hit))
		assert.Contains(t, hit, "snippet")
	}
	assert.Equal(t, 2, lines)
}

func TestParseFieldSet(t *testing.T) {
	assert.Equal(t, FieldSet{Preset: "minimal"}, ParseFieldSet("minimal"))
	assert.Equal(t, FieldSet{Fields: []string{"agent", "title"}}, ParseFieldSet("agent,title"))
}
