// Package supervisor aggregates the review buckets a supervisor watches into
// one de-duplicated, filtered view and runs batch actions over it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
	"github.com/Tiliavir/telesales-timesheet/internal/gateway"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

// Snapshot is the aggregated state of the current view.
type Snapshot struct {
	View       View
	Generation uint64
	// Rows is the union of every bucket, unfiltered.
	Rows []model.SupervisorRow
	// Errors holds the last subscription error per bucket spelling. A
	// bucket with an error keeps its last good rows.
	Errors map[string]error
}

// Aggregator keeps one subscription per review-status spelling of a view and
// recomputes the union whenever any of them changes.
type Aggregator struct {
	gw  *gateway.Gateway
	log *slog.Logger

	mu       sync.Mutex
	gen      uint64
	view     View
	subs     []docstore.Subscription
	buckets  map[string][]model.SupervisorRow
	errs     map[string]error
	pending  map[string]struct{}
	ready    chan struct{}
	openErr  error
	onChange func(Snapshot)
}

// New returns an aggregator reading through gw. onChange, when set, receives
// every recomputed snapshot; it must not call Open or Close.
func New(gw *gateway.Gateway, log *slog.Logger, onChange func(Snapshot)) *Aggregator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{gw: gw, log: log, onChange: onChange}
}

// Open switches to view. Subscriptions of the previous view are cancelled
// before the new ones are opened, and callbacks still in flight for the old
// generation are ignored.
func (a *Aggregator) Open(ctx context.Context, view View) error {
	a.Close()

	spellings := gateway.Spellings(view.Statuses()...)
	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.view = view
	a.buckets = make(map[string][]model.SupervisorRow, len(spellings))
	a.errs = map[string]error{}
	a.pending = make(map[string]struct{}, len(spellings))
	for _, s := range spellings {
		a.pending[s] = struct{}{}
	}
	a.ready = make(chan struct{})
	a.openErr = nil
	a.mu.Unlock()

	subs := make([]docstore.Subscription, len(spellings))
	var g errgroup.Group
	for i, spelling := range spellings {
		g.Go(func() error {
			sub, err := a.gw.WatchBucket(ctx, spelling, func(rows []model.SupervisorRow, err error) {
				a.update(gen, spelling, rows, err)
			})
			if err != nil {
				return fmt.Errorf("open bucket %q: %w", spelling, err)
			}
			subs[i] = sub
			return nil
		})
	}
	err := g.Wait()

	a.mu.Lock()
	stale := gen != a.gen
	switch {
	case stale:
	case err != nil:
		// Release waiters; callbacks of the half-open view are dropped.
		a.gen++
		a.openErr = err
		if len(a.pending) > 0 {
			a.pending = nil
			close(a.ready)
		}
	default:
		a.subs = subs
	}
	a.mu.Unlock()
	if err != nil || stale {
		for _, s := range subs {
			if s != nil {
				s.Cancel()
			}
		}
	}
	if err == nil && !stale {
		metricBucketsOpen.Set(float64(len(spellings)))
	}
	return err
}

// Close cancels every subscription of the current view.
func (a *Aggregator) Close() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
	metricBucketsOpen.Set(0)
}

func (a *Aggregator) update(gen uint64, spelling string, rows []model.SupervisorRow, err error) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	if err != nil {
		a.errs[spelling] = err
		metricBucketErrors.WithLabelValues(spelling).Inc()
		a.log.Warn("review bucket failed", "bucket", spelling, "error", err)
	} else {
		delete(a.errs, spelling)
		a.buckets[spelling] = rows
	}
	if _, ok := a.pending[spelling]; ok {
		delete(a.pending, spelling)
		if len(a.pending) == 0 {
			close(a.ready)
		}
	}
	snap := a.snapshotLocked()
	onChange := a.onChange
	a.mu.Unlock()

	if onChange != nil {
		onChange(snap)
	}
}

func (a *Aggregator) snapshotLocked() Snapshot {
	buckets := make([][]model.SupervisorRow, 0, len(a.buckets))
	for _, s := range gateway.Spellings(a.view.Statuses()...) {
		buckets = append(buckets, a.buckets[s])
	}
	return Snapshot{
		View:       a.view,
		Generation: a.gen,
		Rows:       Union(buckets...),
		Errors:     maps.Clone(a.errs),
	}
}

// Snapshot returns the current aggregated state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Wait blocks until every bucket of the current view has reported once. It
// returns the Open error when the view failed to open.
func (a *Aggregator) Wait(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	ready := a.ready
	a.mu.Unlock()
	if ready == nil {
		return Snapshot{}, errors.New("no view open")
	}
	select {
	case <-ready:
		a.mu.Lock()
		err := a.openErr
		a.mu.Unlock()
		return a.Snapshot(), err
	case <-ctx.Done():
		return a.Snapshot(), ctx.Err()
	}
}

// Rows returns the current view narrowed by f.
func (a *Aggregator) Rows(f Filter) []model.SupervisorRow {
	snap := a.Snapshot()
	return f.Apply(snap.View, snap.Rows)
}

// Stats summarises the current view narrowed by f.
func (a *Aggregator) Stats(f Filter) Stats {
	return ComputeStats(a.Rows(f))
}

// BatchResult lists the rows a batch action completed and joins the errors
// of those it could not.
type BatchResult struct {
	Done []string
	Err  error
}

// Batch applies action to each document in order, continuing past failures.
func Batch(ctx context.Context, name string, docIDs []string, action func(context.Context, string) error) BatchResult {
	var (
		res  BatchResult
		errs []error
	)
	for _, id := range docIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if err := action(ctx, id); err != nil {
			metricBatchRows.WithLabelValues(name, "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		metricBatchRows.WithLabelValues(name, "ok").Inc()
		res.Done = append(res.Done, id)
	}
	res.Err = errors.Join(errs...)
	return res
}

// ApproveAll approves each document in turn.
func (a *Aggregator) ApproveAll(ctx context.Context, docIDs []string, by string) BatchResult {
	return Batch(ctx, "approve", docIDs, func(ctx context.Context, id string) error {
		_, err := a.gw.Approve(ctx, id, by)
		return err
	})
}

// DeleteAll deletes each document in turn.
func (a *Aggregator) DeleteAll(ctx context.Context, docIDs []string) BatchResult {
	return Batch(ctx, "delete", docIDs, a.gw.Delete)
}

// DocIDs lists the document ids of rows.
func DocIDs(rows []model.SupervisorRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.DocID
	}
	return out
}
