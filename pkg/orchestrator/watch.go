package orchestrator

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RunWatch establishes filesystem watches on every connector's detected
// roots and drives targeted incremental rescans as events arrive, coalesced
// over a debounce window. Blocks until ctx is cancelled.
func (o *Orchestrator) RunWatch(ctx context.Context, watchState *WatchState, debounce time.Duration, progress func(ProgressEvent)) error {
	o.watchState = watchState
	if debounce <= 0 {
		debounce = time.Duration(o.cfg.WatchDebounceMS) * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	rootToSlugs := make(map[string][]string)
	detected := o.detectAll()
	for _, d := range detected {
		for _, root := range d.Result.Roots {
			if err := watcher.Add(root); err != nil {
				o.logf("warn", "watch add failed for %s (%s): %v", root, d.Connector.Slug(), err)
				continue
			}
			rootToSlugs[root] = append(rootToSlugs[root], d.Connector.Slug())
		}
	}

	pending := make(map[string]map[string]bool) // slug -> set of changed paths
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = make(map[string]map[string]bool)
		o.flushWatchBatch(ctx, detected, batch, progress)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				flush()
				return nil
			}
			for root, slugs := range rootToSlugs {
				if !withinRoot(event.Name, root) {
					continue
				}
				for _, slug := range slugs {
					if pending[slug] == nil {
						pending[slug] = make(map[string]bool)
					}
					pending[slug][event.Name] = true
				}
			}
			if !timerArmed {
				timer.Reset(debounce)
				timerArmed = true
			}
		case <-timer.C:
			timerArmed = false
			flush()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logf("warn", "watch error: %v", err)
		}
	}
}

func withinRoot(path, root string) bool {
	if len(path) < len(root) {
		return false
	}
	return path[:len(root)] == root
}

func (o *Orchestrator) flushWatchBatch(ctx context.Context, detected []detection, pending map[string]map[string]bool, progress func(ProgressEvent)) {
	scanStart := time.Now()

	bySlug := make(map[string]detection, len(detected))
	for _, d := range detected {
		bySlug[d.Connector.Slug()] = d
	}

	opts := ScanOptions{SinceBySlug: map[string]time.Time{}, PathsBySlug: map[string][]string{}}
	var targeted []detection
	for slug, paths := range pending {
		d, ok := bySlug[slug]
		if !ok {
			continue
		}
		targeted = append(targeted, d)
		opts.SinceBySlug[slug] = o.watchState.LastScanFor(slug)
		pathList := make([]string, 0, len(paths))
		for p := range paths {
			pathList = append(pathList, p)
		}
		opts.PathsBySlug[slug] = pathList
	}

	results := o.scanAll(ctx, targeted, opts)
	completed := 0
	for _, sr := range results {
		completed++
		convCount, msgCount, err := o.ingest(sr.Connector, sr.Conversations)
		if err != nil {
			o.logf("warn", "watch ingest failed for %s: %v", sr.Connector.Slug(), err)
			continue
		}
		_ = convCount
		_ = msgCount
		if err := o.watchState.Advance(sr.Connector.Slug(), scanStart); err != nil {
			o.logf("error", "failed to persist watch state for %s: %v", sr.Connector.Slug(), err)
		}
		progress(ProgressEvent{Kind: "indexing", Completed: completed, Total: len(targeted), LastSlug: sr.Connector.Slug()})
	}
	_ = o.index.Flush()
}
