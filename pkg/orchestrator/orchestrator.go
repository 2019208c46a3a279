// Package orchestrator drives the connector framework and writes ingested
// conversations to both the relational store and the full-text index. The
// pipeline shape (detect -> scan -> normalize -> ingest) follows the
// teacher's multi-stage scan pipeline, retargeted from narrative/entity
// extraction stages to connector ingestion stages.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kataras/golog"

	"github.com/kittclouds/agentlog/internal/config"
	"github.com/kittclouds/agentlog/internal/store"
	"github.com/kittclouds/agentlog/pkg/clerr"
	"github.com/kittclouds/agentlog/pkg/connector"
	"github.com/kittclouds/agentlog/pkg/ftsindex"
)

// ProgressEvent is one point in the orchestrator's progress stream, which
// the TUI subscribes to.
type ProgressEvent struct {
	Kind       string // "discovering" or "indexing"
	AgentCount int
	Completed  int
	Total      int
	LastSlug   string
}

// Orchestrator wires connectors to the two stores.
type Orchestrator struct {
	store      *store.SQLiteStore
	index      *ftsindex.Index
	connectors []connector.Connector
	cfg        config.Config
	log        *golog.Logger

	watchState *WatchState
}

// New constructs an Orchestrator over the given stores and connector set.
func New(st *store.SQLiteStore, idx *ftsindex.Index, connectors []connector.Connector, cfg config.Config, log *golog.Logger) *Orchestrator {
	return &Orchestrator{store: st, index: idx, connectors: connectors, cfg: cfg, log: log}
}

// contentHash stably hashes normalized message content for dedup on re-scan.
func contentHash(content string) string {
	sum := xxhash.Sum64String(content)
	return fmt.Sprintf("%016x", sum)
}

// FullIngestResult summarizes one `index --full` pass.
type FullIngestResult struct {
	AgentsScanned      int      `json:"agentsScanned"`
	ConversationsTotal int      `json:"conversationsTotal"`
	MessagesIngested   int      `json:"messagesIngested"`
	Diagnostics        []string `json:"diagnostics"`
}

// RunFull truncates both stores, detects all connectors in parallel, scans
// concurrently across detected connectors, then ingests sequentially, one
// transaction per conversation, to preserve ordering and atomicity. Honors an idempotency key: if the same key was used within the
// last 24h with identical effective parameters, returns the prior result.
func (o *Orchestrator) RunFull(ctx context.Context, idempotencyKey string, progress func(ProgressEvent)) (FullIngestResult, bool, error) {
	paramsHash := hashParams(o.cfg, o.connectors)

	if idempotencyKey != "" {
		rec, ok, mismatch, err := o.store.LookupIdempotencyRecord(idempotencyKey, paramsHash, time.Now())
		if err != nil {
			return FullIngestResult{}, false, err
		}
		if mismatch {
			return FullIngestResult{}, false, clerr.New(clerr.KindIdempotencyMismatch,
				"idempotency key reused with different effective parameters").WithHint(rec.Key)
		}
		if ok {
			var prior FullIngestResult
			if err := json.Unmarshal([]byte(rec.ResultJSON), &prior); err == nil {
				return prior, true, nil
			}
		}
	}

	if err := o.store.TruncateAll(); err != nil {
		return FullIngestResult{}, false, err
	}
	if err := o.index.TruncateAll(); err != nil {
		return FullIngestResult{}, false, err
	}

	detected := o.detectAll()
	progress(ProgressEvent{Kind: "discovering", AgentCount: len(detected)})

	scanned := o.scanAll(ctx, detected, ScanOptions{})

	result := FullIngestResult{AgentsScanned: len(detected)}
	completed := 0
	for _, sr := range scanned {
		completed++
		convCount, msgCount, err := o.ingest(sr.Connector, sr.Conversations)
		if err != nil {
			o.logf("warn", "ingest failed for %s: %v", sr.Connector.Slug(), err)
			continue
		}
		result.ConversationsTotal += convCount
		result.MessagesIngested += msgCount
		result.Diagnostics = append(result.Diagnostics, sr.diagnosticStrings()...)
		progress(ProgressEvent{Kind: "indexing", Completed: completed, Total: len(detected), LastSlug: sr.Connector.Slug()})
	}

	if err := o.index.Flush(); err != nil {
		return result, false, err
	}

	if idempotencyKey != "" {
		payload, _ := json.Marshal(result)
		if err := o.store.PutIdempotencyRecord(store.IdempotencyRecord{
			Key: idempotencyKey, ParamsHash: paramsHash, ResultJSON: string(payload), CreatedAt: time.Now().Unix(),
		}); err != nil {
			return result, false, err
		}
	}

	return result, false, nil
}

func hashParams(cfg config.Config, connectors []connector.Connector) string {
	h := sha256.New()
	fmt.Fprintf(h, "%+v", cfg)
	for _, c := range connectors {
		fmt.Fprintf(h, "|%s", c.Slug())
	}
	return hex.EncodeToString(h.Sum(nil))
}

type detection struct {
	Connector connector.Connector
	Result    connector.DetectionResult
}

func (o *Orchestrator) detectAll() []detection {
	var wg sync.WaitGroup
	out := make([]detection, len(o.connectors))
	for i, c := range o.connectors {
		wg.Add(1)
		go func(i int, c connector.Connector) {
			defer wg.Done()
			res, err := c.Detect()
			if err != nil || !res.Present {
				return
			}
			out[i] = detection{Connector: c, Result: res}
		}(i, c)
	}
	wg.Wait()

	var present []detection
	for _, d := range out {
		if d.Connector != nil {
			present = append(present, d)
		}
	}
	return present
}

// ScanOptions narrows a scan pass, used by watch mode for targeted rescans.
type ScanOptions struct {
	SinceBySlug map[string]time.Time
	PathsBySlug map[string][]string
}

type scanResult struct {
	Connector     connector.Connector
	Conversations []connector.NormalizedConversation
	Diagnostics   []connector.Diagnostic
}

func (sr scanResult) diagnosticStrings() []string {
	out := make([]string, 0, len(sr.Diagnostics))
	for _, d := range sr.Diagnostics {
		out = append(out, fmt.Sprintf("%s: %s (%s)", d.AgentSlug, d.Reason, d.Path))
	}
	return out
}

// scanAll fans connector scans out over a bounded worker pool sized to
// available cores, matching the teacher's preference for explicit
// sync-based pools over a dedicated scheduler library.
func (o *Orchestrator) scanAll(ctx context.Context, detected []detection, opts ScanOptions) []scanResult {
	workerCount := runtime.GOMAXPROCS(0)
	if workerCount > len(detected) && len(detected) > 0 {
		workerCount = len(detected)
	}
	if workerCount == 0 {
		return nil
	}

	jobs := make(chan detection, len(detected))
	results := make(chan scanResult, len(detected))
	var wg sync.WaitGroup

	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				var diags []connector.Diagnostic
				sc := connector.ScanContext{
					Diagnostics: func(diag connector.Diagnostic) { diags = append(diags, diag) },
				}
				if ts, ok := opts.SinceBySlug[d.Connector.Slug()]; ok {
					sc.SinceTS = ts
				}
				if paths, ok := opts.PathsBySlug[d.Connector.Slug()]; ok {
					sc.PathFilter = paths
				}
				convs, err := d.Connector.Scan(ctx, sc)
				if err != nil {
					o.logf("warn", "scan error for %s: %v", d.Connector.Slug(), err)
				}
				results <- scanResult{Connector: d.Connector, Conversations: convs, Diagnostics: diags}
			}
		}()
	}
	for _, d := range detected {
		jobs <- d
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []scanResult
	for r := range results {
		out = append(out, r)
	}
	return out
}

// ingest writes one connector's conversations in msg_idx order, sequentially
// per conversation, so ordering and atomicity are preserved.
func (o *Orchestrator) ingest(c connector.Connector, convs []connector.NormalizedConversation) (convCount, msgCount int, err error) {
	for _, nc := range convs {
		agent, err := o.store.UpsertAgent(c.Slug(), c.DisplayName(), nc.CreatedAt.Unix())
		if err != nil {
			return convCount, msgCount, err
		}
		ws, err := o.store.UpsertWorkspace(nc.WorkspaceHint, nc.WorkspaceHint)
		if err != nil {
			return convCount, msgCount, err
		}

		metaJSON, _ := json.Marshal(nc.Metadata)
		input := store.NormalizedConversationInput{
			ExternalID:   nc.ExternalID,
			Title:        nc.Title,
			CreatedAt:    nc.CreatedAt.Unix(),
			UpdatedAt:    nc.UpdatedAt.Unix(),
			SourcePath:   nc.SourcePath,
			MetadataJSON: string(metaJSON),
		}
		for i, m := range nc.Messages {
			input.Messages = append(input.Messages, store.NormalizedMessageInput{
				MsgIdx:      i,
				Role:        store.Role(m.Role),
				Content:     m.Content,
				CreatedAt:   m.Timestamp.Unix(),
				ContentHash: contentHash(m.Content),
			})
		}

		convID, newMsgs, err := o.store.IngestConversation(agent.ID, ws.ID, input)
		if err != nil {
			o.logf("warn", "rolling back conversation %s/%s: %v", c.Slug(), nc.ExternalID, err)
			continue
		}
		convCount++
		msgCount += newMsgs

		for i, m := range nc.Messages {
			doc := ftsindex.Doc{
				Agent:       c.Slug(),
				Workspace:   nc.WorkspaceHint,
				SourcePath:  nc.SourcePath,
				MsgIdx:      i,
				CreatedAt:   m.Timestamp.Unix(),
				Title:       nc.Title,
				Content:     m.Content,
				ContentHash: contentHash(m.Content),
			}
			if err := o.index.CommitDoc(doc); err != nil {
				o.logf("warn", "index commit failed for conversation %d: %v", convID, err)
			}
		}
	}
	return convCount, msgCount, nil
}

func (o *Orchestrator) logf(level, format string, args ...any) {
	if o.log == nil {
		return
	}
	switch level {
	case "warn":
		o.log.Warnf(format, args...)
	case "error":
		o.log.Errorf(format, args...)
	default:
		o.log.Infof(format, args...)
	}
}

// WatchState is the persistent slug -> last-scan-timestamp map driving
// incremental reindex, written atomically via write-to-temp + rename.
type WatchState struct {
	mu   sync.Mutex
	path string
	data map[string]time.Time
}

// LoadWatchState reads watch_state.json if present; a missing file yields
// an empty state, not an error.
func LoadWatchState(path string) (*WatchState, error) {
	ws := &WatchState{path: path, data: make(map[string]time.Time)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ws, nil
		}
		return nil, clerr.Wrap(clerr.KindIORead, err)
	}
	var raw2 map[string]string
	if err := json.Unmarshal(raw, &raw2); err != nil {
		return nil, clerr.Wrap(clerr.KindParse, err).WithHint("watch_state.json is corrupt; delete it to reset incremental state")
	}
	for slug, rfc3339 := range raw2 {
		if ts, err := time.Parse(time.RFC3339, rfc3339); err == nil {
			ws.data[slug] = ts
		}
	}
	return ws, nil
}

// LastScanFor returns the last recorded scan start time for slug (zero
// value if never scanned).
func (ws *WatchState) LastScanFor(slug string) time.Time {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.data[slug]
}

// Advance records scanStart (not the event time, to avoid missing
// concurrent writes) as the new last-scan time for slug, then persists the
// whole map atomically.
func (ws *WatchState) Advance(slug string, scanStart time.Time) error {
	ws.mu.Lock()
	ws.data[slug] = scanStart
	snapshot := make(map[string]string, len(ws.data))
	for k, v := range ws.data {
		snapshot[k] = v.Format(time.RFC3339)
	}
	ws.mu.Unlock()

	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return clerr.Wrap(clerr.KindParse, err)
	}
	tmp := ws.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	if err := os.Rename(tmp, ws.path); err != nil {
		return clerr.Wrap(clerr.KindIOWrite, err)
	}
	return nil
}
