package query

import (
	"context"
	"sync"
	"time"
)

// warmWorker is the background, debounced predictive-warm worker: submit
// records the live query under a mutex and re-arms a debounce timer; when
// the timer fires it issues a 1-document search against the latest query
// purely to load index segments into the OS page cache. A newer query
// supersedes any warm whose timer has not fired yet; a warm search that is
// already running is not cancelled.
type warmWorker struct {
	engine   *Engine
	debounce time.Duration

	mu      sync.Mutex
	pending string
	timer   *time.Timer
	gen     uint64

	closed bool
}

func newWarmWorker(e *Engine, debounce time.Duration) *warmWorker {
	return &warmWorker{engine: e, debounce: debounce}
}

// submit records query as the latest live query, debouncing the actual
// warm issue. Calling submit again before the debounce elapses cancels the
// pending timer and supersedes it.
func (w *warmWorker) submit(query string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = query
	w.gen++
	myGen := w.gen
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.fire(myGen)
	})
}

func (w *warmWorker) fire(gen uint64) {
	w.mu.Lock()
	if w.closed || gen != w.gen {
		w.mu.Unlock()
		return // superseded by a newer query
	}
	q := w.pending
	w.mu.Unlock()

	if q == "" || w.engine.idx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	terms := ParseQuery(q)
	matchExpr := BuildMatchExpr(terms)
	if matchExpr == "" {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}
	_, _ = w.engine.idx.QueryMatch(matchExpr, 1)
}

func (w *warmWorker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
