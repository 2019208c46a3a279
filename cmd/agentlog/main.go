// Command agentlog is the minimal dispatcher binding the core data-plane
// operations to a command line: index, search, export, expand, timeline,
// context, view. It deliberately does not implement typo-correction, shell
// completion, or man-page emission — those are out-of-scope CLI-layer
// concerns a richer parser can be dropped in to replace at this boundary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/kataras/golog"

	"github.com/kittclouds/agentlog/internal/config"
	"github.com/kittclouds/agentlog/internal/store"
	"github.com/kittclouds/agentlog/pkg/clerr"
	"github.com/kittclouds/agentlog/pkg/connector"
	"github.com/kittclouds/agentlog/pkg/ftsindex"
	"github.com/kittclouds/agentlog/pkg/orchestrator"
	"github.com/kittclouds/agentlog/pkg/query"
	"github.com/kittclouds/agentlog/pkg/robot"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: agentlog <index|search|export|expand|timeline|context|view> [flags]")
		fmt.Fprintln(os.Stderr, robot.ExitCodeHint())
		return clerr.ExitCode(clerr.KindUsage)
	}

	log := golog.Default
	log.SetLevel("info")

	cfg, err := config.Load("")
	if err != nil {
		log.Errorf("config: %v", err)
		return clerr.ExitCode(clerr.KindUsage)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Errorf("data dir: %v", err)
		return clerr.ExitCode(clerr.KindIOWrite)
	}

	switch args[0] {
	case "index":
		return cmdIndex(args[1:], cfg, log)
	case "search":
		return cmdSearch(args[1:], cfg, log)
	case "export":
		return cmdExport(args[1:], cfg, log)
	case "view":
		// view is the same full-transcript projection as export; the
		// distinct verb exists for readability at call sites that read
		// rather than archive.
		return cmdExport(args[1:], cfg, log)
	case "expand":
		return cmdExpand(args[1:], cfg, log)
	case "timeline":
		return cmdTimeline(args[1:], cfg, log)
	case "context":
		return cmdContext(args[1:], cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return clerr.ExitCode(clerr.KindUsage)
	}
}

func openStore(cfg config.Config, log *golog.Logger) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.RelationalPath(), log)
}

func openIndex(cfg config.Config, log *golog.Logger) (*ftsindex.Index, error) {
	return ftsindex.Open(cfg.IndexDir(), log, ftsindex.Options{
		PrefixMaxLen:   cfg.PrefixNgramMaxLen,
		ReloadDebounce: time.Duration(cfg.ReloadDebounceMS) * time.Millisecond,
	})
}

func cmdIndex(args []string, cfg config.Config, log *golog.Logger) int {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	full := fs.Bool("full", false, "run a full rebuild")
	watch := fs.Bool("watch", false, "run incremental watch mode")
	idempotencyKey := fs.String("idempotency-key", "", "opaque key for the 24h replay guarantee")
	if err := fs.Parse(args); err != nil {
		return clerr.ExitCode(clerr.KindUsage)
	}
	if !*full && !*watch {
		fmt.Fprintln(os.Stderr, "index requires --full or --watch")
		return clerr.ExitCode(clerr.KindUsage)
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Errorf("store: %v", err)
		return clerr.ExitCode(clerr.KindIOWrite)
	}
	defer st.Close()

	idx, err := openIndex(cfg, log)
	if err != nil {
		log.Errorf("index: %v", err)
		return clerr.ExitCode(clerr.KindIndexMissing)
	}
	defer idx.Close()

	homeDir, _ := os.UserHomeDir()
	connectors := connector.Registry(homeDir)
	orch := orchestrator.New(st, idx, connectors, cfg, log)

	progress := func(ev orchestrator.ProgressEvent) {
		switch ev.Kind {
		case "discovering":
			log.Infof("discovering: %d agents detected", ev.AgentCount)
		case "indexing":
			log.Infof("indexing: %d/%d (%s)", ev.Completed, ev.Total, ev.LastSlug)
		}
	}

	ctx := context.Background()
	if *full {
		result, replay, err := orch.RunFull(ctx, *idempotencyKey, progress)
		if err != nil {
			if ce, ok := err.(*clerr.Error); ok {
				log.Errorf("%s", ce.Error())
				return ce.Code
			}
			log.Errorf("index --full: %v", err)
			return clerr.ExitCode(clerr.KindUnknown)
		}
		fmt.Printf("conversations=%d messages=%d idempotent_replay=%v\n",
			result.ConversationsTotal, result.MessagesIngested, replay)
		return 0
	}

	watchState, err := orchestrator.LoadWatchState(cfg.WatchStatePath())
	if err != nil {
		log.Errorf("watch state: %v", err)
		return clerr.ExitCode(clerr.KindIORead)
	}
	if err := orch.RunWatch(ctx, watchState, 0, progress); err != nil {
		log.Errorf("watch: %v", err)
		return clerr.ExitCode(clerr.KindUnknown)
	}
	return 0
}

func cmdSearch(args []string, cfg config.Config, log *golog.Logger) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	rank := fs.String("rank", "relevance", "recent|balanced|relevance|quality")
	limit := fs.Int("limit", 20, "max hits")
	offset := fs.Int("offset", 0, "page offset")
	cursor := fs.String("cursor", "", "opaque pagination cursor")
	agent := fs.String("agent", "", "filter by agent slug")
	workspace := fs.String("workspace", "", "filter by workspace path")
	fields := fs.String("fields", "", "minimal|summary|<comma list>")
	maxContentLength := fs.Int("max-content-length", 0, "truncate content to N runes")
	streaming := fs.Bool("stream", false, "emit streaming (one hit per line) format")
	timeoutMS := fs.Int("timeout-ms", 0, "search timeout in milliseconds")
	if err := fs.Parse(args); err != nil {
		return clerr.ExitCode(clerr.KindUsage)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "search requires a query argument")
		return clerr.ExitCode(clerr.KindUsage)
	}
	rawQuery := fs.Arg(0)

	st, err := openStore(cfg, log)
	if err != nil {
		log.Errorf("store: %v", err)
		return clerr.ExitCode(clerr.KindIOWrite)
	}
	defer st.Close()

	idx, err := openIndex(cfg, log)
	if err != nil {
		log.Errorf("index: %v", err)
		return clerr.ExitCode(clerr.KindIndexMissing)
	}
	defer idx.Close()

	engine := query.NewEngine(idx, st, cfg, log)
	defer engine.Close()

	opts := query.Options{Rank: query.RankMode(*rank)}
	if *timeoutMS > 0 {
		opts.Timeout = time.Duration(*timeoutMS) * time.Millisecond
	}

	result, err := engine.Search(context.Background(), rawQuery,
		query.Filters{Agent: *agent, Workspace: *workspace},
		query.Paging{Limit: *limit, Offset: *offset, Cursor: *cursor}, opts)
	if err != nil {
		if ce, ok := err.(*clerr.Error); ok {
			log.Errorf("%s", ce.Error())
			return ce.Code
		}
		log.Errorf("search: %v", err)
		return clerr.ExitCode(clerr.KindUnknown)
	}

	fieldSet := robot.ParseFieldSet(*fields)
	trunc := robot.TruncateOptions{MaxContentLength: *maxContentLength}

	if *streaming {
		if err := robot.StreamWrite(os.Stdout, result, fieldSet, trunc); err != nil {
			log.Errorf("stream write: %v", err)
			return clerr.ExitCode(clerr.KindUnknown)
		}
		return 0
	}

	out, err := robot.Render(result, fieldSet, trunc, true)
	if err != nil {
		log.Errorf("render: %v", err)
		return clerr.ExitCode(clerr.KindUnknown)
	}
	fmt.Println(string(out))
	return 0
}

func cmdExport(args []string, cfg config.Config, log *golog.Logger) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	id := fs.Int64("conversation-id", 0, "conversation id to export")
	if err := fs.Parse(args); err != nil {
		return clerr.ExitCode(clerr.KindUsage)
	}
	if *id == 0 {
		fmt.Fprintln(os.Stderr, "export requires --conversation-id")
		return clerr.ExitCode(clerr.KindUsage)
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Errorf("store: %v", err)
		return clerr.ExitCode(clerr.KindIOWrite)
	}
	defer st.Close()

	data, err := st.Export(*id)
	if err != nil {
		if ce, ok := err.(*clerr.Error); ok {
			log.Errorf("%s", ce.Error())
			return ce.Code
		}
		log.Errorf("export: %v", err)
		return clerr.ExitCode(clerr.KindUnknown)
	}
	fmt.Println(string(data))
	return 0
}

// cmdExpand backs `expand`: with --message-idx it expands one message to its
// full (untruncated) content; without it, the whole conversation.
func cmdExpand(args []string, cfg config.Config, log *golog.Logger) int {
	fs := flag.NewFlagSet("expand", flag.ContinueOnError)
	id := fs.Int64("conversation-id", 0, "conversation id")
	msgIdx := fs.Int("message-idx", -1, "message index to expand; omit for the whole conversation")
	if err := fs.Parse(args); err != nil {
		return clerr.ExitCode(clerr.KindUsage)
	}
	if *id == 0 {
		fmt.Fprintln(os.Stderr, "expand requires --conversation-id")
		return clerr.ExitCode(clerr.KindUsage)
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Errorf("store: %v", err)
		return clerr.ExitCode(clerr.KindIOWrite)
	}
	defer st.Close()

	c, msgs, err := st.ConversationMessages(*id)
	if err != nil {
		return exitForStoreErr(log, "expand", err)
	}

	if *msgIdx < 0 {
		return printJSON(log, struct {
			Conversation store.Conversation `json:"conversation"`
			Messages     []store.Message    `json:"messages"`
		}{c, msgs})
	}
	for _, m := range msgs {
		if m.MsgIdx == *msgIdx {
			return printJSON(log, m)
		}
	}
	fmt.Fprintf(os.Stderr, "expand: no message at index %d in conversation %d\n", *msgIdx, *id)
	return clerr.ExitCode(clerr.KindNotFound)
}

type timelineEntry struct {
	MsgIdx    int        `json:"msgIdx"`
	Role      store.Role `json:"role"`
	CreatedAt int64      `json:"createdAt"`
	Preview   string     `json:"preview"`
}

// cmdTimeline backs `timeline`: messages ordered by wall-clock arrival
// (CreatedAt) rather than the conversation's own msg_idx sequence, with
// content collapsed to a preview — a skim-friendly projection distinct
// from export's full transcript.
func cmdTimeline(args []string, cfg config.Config, log *golog.Logger) int {
	fs := flag.NewFlagSet("timeline", flag.ContinueOnError)
	id := fs.Int64("conversation-id", 0, "conversation id")
	if err := fs.Parse(args); err != nil {
		return clerr.ExitCode(clerr.KindUsage)
	}
	if *id == 0 {
		fmt.Fprintln(os.Stderr, "timeline requires --conversation-id")
		return clerr.ExitCode(clerr.KindUsage)
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Errorf("store: %v", err)
		return clerr.ExitCode(clerr.KindIOWrite)
	}
	defer st.Close()

	_, msgs, err := st.ConversationMessages(*id)
	if err != nil {
		return exitForStoreErr(log, "timeline", err)
	}

	sorted := make([]store.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt < sorted[j].CreatedAt })

	entries := make([]timelineEntry, 0, len(sorted))
	for _, m := range sorted {
		entries = append(entries, timelineEntry{
			MsgIdx: m.MsgIdx, Role: m.Role, CreatedAt: m.CreatedAt, Preview: truncateRunes(m.Content, 200),
		})
	}
	return printJSON(log, entries)
}

// cmdContext backs `context`: the window of messages surrounding a given
// message index, e.g. for rendering the conversation around a search hit.
func cmdContext(args []string, cfg config.Config, log *golog.Logger) int {
	fs := flag.NewFlagSet("context", flag.ContinueOnError)
	id := fs.Int64("conversation-id", 0, "conversation id")
	msgIdx := fs.Int("message-idx", -1, "center message index")
	window := fs.Int("window", 3, "messages to include on each side of message-idx")
	if err := fs.Parse(args); err != nil {
		return clerr.ExitCode(clerr.KindUsage)
	}
	if *id == 0 || *msgIdx < 0 {
		fmt.Fprintln(os.Stderr, "context requires --conversation-id and --message-idx")
		return clerr.ExitCode(clerr.KindUsage)
	}

	st, err := openStore(cfg, log)
	if err != nil {
		log.Errorf("store: %v", err)
		return clerr.ExitCode(clerr.KindIOWrite)
	}
	defer st.Close()

	_, msgs, err := st.ConversationMessages(*id)
	if err != nil {
		return exitForStoreErr(log, "context", err)
	}

	lo, hi := *msgIdx-*window, *msgIdx+*window
	windowed := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.MsgIdx >= lo && m.MsgIdx <= hi {
			windowed = append(windowed, m)
		}
	}
	return printJSON(log, windowed)
}

func exitForStoreErr(log *golog.Logger, name string, err error) int {
	if ce, ok := err.(*clerr.Error); ok {
		log.Errorf("%s", ce.Error())
		return ce.Code
	}
	log.Errorf("%s: %v", name, err)
	return clerr.ExitCode(clerr.KindUnknown)
}

func printJSON(log *golog.Logger, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Errorf("marshal: %v", err)
		return clerr.ExitCode(clerr.KindUnknown)
	}
	fmt.Println(string(data))
	return 0
}

// truncateRunes truncates s to at most n runes, UTF-8 safe.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
