package docstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// QueryFunc computes the current result set of a live query.
type QueryFunc func(ctx context.Context, q Query) ([]Document, error)

// Hub runs live queries for stores that can only say "something changed".
// Each watcher re-queries in its own goroutine when notified and delivers the
// result if it differs from the last one it delivered.
type Hub struct {
	query QueryFunc
	log   *slog.Logger

	mu       sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64
	closed   atomic.Bool
}

// NewHub returns a hub that evaluates queries with query.
func NewHub(query QueryFunc, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		query:    query,
		log:      log,
		watchers: make(map[uint64]*watcher),
	}
}

// Watch starts a live query. The first snapshot is delivered even when it is
// empty.
func (h *Hub) Watch(ctx context.Context, q Query, fn WatchFunc) (Subscription, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		hub:     h,
		query:   q,
		fn:      fn,
		cancel:  cancel,
		dirty:   make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}

	h.mu.Lock()
	h.nextID++
	w.id = h.nextID
	h.watchers[w.id] = w
	h.mu.Unlock()

	w.dirty <- struct{}{}
	go w.run(ctx)
	return w, nil
}

// Notify marks every live query as stale.
func (h *Hub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		w.mark()
	}
}

// Len returns the number of live queries.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// Close cancels every live query and waits for their goroutines to exit.
func (h *Hub) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.mu.Lock()
	ws := make([]*watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		ws = append(ws, w)
	}
	h.mu.Unlock()
	for _, w := range ws {
		w.Cancel()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.watchers, id)
	h.mu.Unlock()
}

type watcher struct {
	hub   *Hub
	id    uint64
	query Query
	fn    WatchFunc

	cancel    context.CancelFunc
	dirty     chan struct{}
	stopped   chan struct{}
	cancelled atomic.Bool
	once      sync.Once
}

func (w *watcher) mark() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.stopped)
	var (
		last      string
		delivered bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.dirty:
		}
		docs, err := w.hub.query(ctx, w.query)
		if w.cancelled.Load() {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.hub.log.Warn("live query failed", "query", w.query, "error", err)
			w.fn(nil, err)
			continue
		}
		fp := Fingerprint(docs)
		if delivered && fp == last {
			continue
		}
		last, delivered = fp, true
		w.fn(docs, nil)
	}
}

// Cancel stops the watcher and waits for an in-flight callback to return.
func (w *watcher) Cancel() {
	w.once.Do(func() {
		w.cancelled.Store(true)
		w.cancel()
		w.hub.remove(w.id)
		<-w.stopped
	})
}
