// Package robot serializes query.Result into the robot-mode output
// envelope: field selection, UTF-8-safe content truncation, and the
// newline-delimited streaming format.
package robot

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/kittclouds/agentlog/pkg/pool"
	"github.com/kittclouds/agentlog/pkg/query"
)

// FieldSet selects which fields of a hit are serialized.
type FieldSet struct {
	Preset string   // "minimal", "summary", or "" for all fields
	Fields []string // explicit field list, used when Preset == ""
}

var minimalFields = []string{"source_path", "line_number", "title", "score"}
var summaryFields = []string{"source_path", "line_number", "agent", "workspace", "title", "score", "snippet"}
var allFields = []string{"source_path", "line_number", "agent", "workspace", "title", "score", "snippet", "content"}

func (fs FieldSet) resolve() []string {
	switch fs.Preset {
	case "minimal":
		return minimalFields
	case "summary":
		return summaryFields
	case "":
		if len(fs.Fields) > 0 {
			return fs.Fields
		}
		return allFields
	default:
		return allFields
	}
}

// TruncateOptions bounds content length, UTF-8 safe.
type TruncateOptions struct {
	MaxContentLength int // rune count; 0 means unbounded
}

// Envelope is the robot output envelope's JSON shape.
type Envelope struct {
	Hits []map[string]any `json:"hits"`
	Meta *MetaJSON         `json:"_meta,omitempty"`
}

// MetaJSON mirrors query.Meta's JSON field names from spec.md §6.
type MetaJSON struct {
	ElapsedMS        int64  `json:"elapsed_ms"`
	CacheHit         bool   `json:"cache_hit"`
	WildcardFallback bool   `json:"wildcard_fallback"`
	StaleIndex       bool   `json:"stale_index"`
	NextCursor       string `json:"next_cursor,omitempty"`
	RequestID        string `json:"request_id"`
	IndexSchemaHash  string `json:"index_schema_hash"`
	TimeoutTruncated bool   `json:"timeout_truncated,omitempty"`
}

func metaJSON(m query.Meta) *MetaJSON {
	return &MetaJSON{
		ElapsedMS:        m.ElapsedMS,
		CacheHit:         m.CacheHit,
		WildcardFallback: m.WildcardFallback,
		StaleIndex:       m.StaleIndex,
		NextCursor:       m.NextCursor,
		RequestID:        m.RequestID,
		IndexSchemaHash:  m.IndexSchemaHash,
		TimeoutTruncated: m.TimeoutTruncated,
	}
}

// hitMap assembles one hit into a pooled map per the selected field set and
// truncation options, returning both the map and a release func.
func hitMap(h query.Hit, fields []string, trunc TruncateOptions) (map[string]any, func()) {
	m := pool.GetHitMap()
	content, truncated := truncateUTF8(h.Content, trunc.MaxContentLength)

	for _, f := range fields {
		switch f {
		case "source_path":
			m["source_path"] = h.SourcePath
		case "line_number":
			m["line_number"] = h.LineNumber
		case "agent":
			m["agent"] = h.Agent
		case "workspace":
			m["workspace"] = h.Workspace
		case "title":
			m["title"] = h.Title
		case "score":
			m["score"] = h.Score
		case "snippet":
			m["snippet"] = h.Snippet
		case "content":
			m["content"] = content
			if truncated {
				m["content_truncated"] = true
			}
		}
	}
	return m, func() { pool.PutHitMap(m) }
}

// truncateUTF8 truncates s to at most n runes, reporting whether it did.
func truncateUTF8(s string, n int) (string, bool) {
	if n <= 0 {
		return s, false
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}

// Render builds the full, non-streaming JSON envelope for result.
func Render(result query.Result, fields FieldSet, trunc TruncateOptions, includeMeta bool) ([]byte, error) {
	selected := fields.resolve()
	env := Envelope{Hits: make([]map[string]any, 0, len(result.Hits))}
	releases := make([]func(), 0, len(result.Hits))
	defer func() {
		for _, r := range releases {
			r()
		}
	}()

	for _, h := range result.Hits {
		m, release := hitMap(h, selected, trunc)
		// Copy out of the pooled map before returning it, since the pool
		// may reuse/clear it concurrently once released.
		owned := make(map[string]any, len(m))
		for k, v := range m {
			owned[k] = v
		}
		env.Hits = append(env.Hits, owned)
		releases = append(releases, release)
	}
	if includeMeta {
		env.Meta = metaJSON(result.Meta)
	}
	return json.MarshalIndent(env, "", "  ")
}

// StreamWrite emits the streaming format: one header line carrying _meta,
// then one hit per line.
func StreamWrite(w io.Writer, result query.Result, fields FieldSet, trunc TruncateOptions) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	header, err := json.Marshal(struct {
		Meta MetaJSON `json:"_meta"`
	}{Meta: *metaJSON(result.Meta)})
	if err != nil {
		return err
	}
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	selected := fields.resolve()
	for _, h := range result.Hits {
		m, release := hitMap(h, selected, trunc)
		line, err := json.Marshal(m)
		release()
		if err != nil {
			return err
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// ParseFieldSet parses the --fields flag value ("minimal", "summary", or a
// comma-separated field list).
func ParseFieldSet(raw string) FieldSet {
	switch raw {
	case "", "minimal", "summary":
		return FieldSet{Preset: raw}
	default:
		return FieldSet{Fields: strings.Split(raw, ",")}
	}
}

// ExitCodeHint returns the exit-code summary surfaced in CLI usage text.
func ExitCodeHint() string {
	return "exit codes: 0 success, 2 usage, 3 index_missing, 4 not_found, 5 idempotency_mismatch, 9 unknown, 10 timeout"
}
