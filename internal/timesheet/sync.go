package timesheet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/reconcile"
	"github.com/Tiliavir/telesales-timesheet/internal/storage"
)

// Sync folds the remote entries of period into the local cache, remote
// winning per id. Entries with a local change the remote store has not seen
// are pushed first and keep their local value, unless the remote copy was
// updated after them. An unreachable remote is returned as an error and
// leaves the cache untouched.
func (s *Service) Sync(ctx context.Context, period string) (model.AgentPeriodState, error) {
	remote, err := s.gw.AgentEntries(ctx, s.agent.ID, period)
	if err != nil {
		s.log.Warn("remote sync failed, continuing with local data", "period", period, "error", err)
		st, loadErr := s.store.Load(period)
		if loadErr != nil {
			return st, loadErr
		}
		return st, fmt.Errorf("sync %s: %w", period, err)
	}
	local, err := s.store.Load(period)
	if err != nil {
		return local, err
	}
	f := s.flush(ctx, period, local, remote)
	return s.store.Mutate(period, func(st *model.AgentPeriodState) error {
		var pinned []string
		for _, id := range slices.Concat(st.PendingPush, st.PendingRemove) {
			if !f.dropped[id] {
				pinned = append(pinned, id)
			}
		}
		incoming := reconcile.Exclude(remote, pinned...)
		noteRejection(st, incoming)
		st.Entries = reconcile.Merge(st.Entries, incoming)
		st.PendingPush = slices.DeleteFunc(st.PendingPush, func(id string) bool { return f.dropped[id] })
		settle(st, f.pushed)
		st.PendingRemove = slices.DeleteFunc(st.PendingRemove, func(id string) bool { return f.removed[id] })
		return nil
	})
}

// flushed is what a sync managed to send for the pending ids of a period.
type flushed struct {
	pushed  map[string]time.Time
	removed map[string]bool
	// dropped ids are no longer pending: the remote copy was updated after
	// the local change, or the entry is gone locally.
	dropped map[string]bool
}

func (s *Service) flush(ctx context.Context, period string, local model.AgentPeriodState, remote []model.DayEntry) flushed {
	f := flushed{pushed: map[string]time.Time{}, removed: map[string]bool{}, dropped: map[string]bool{}}
	for _, id := range local.PendingRemove {
		if err := s.gw.Remove(ctx, s.agent.ID, id); err == nil {
			f.removed[id] = true
		}
	}
	for _, id := range local.PendingPush {
		i := local.Find(id)
		if i < 0 {
			f.dropped[id] = true
			continue
		}
		e := local.Entries[i]
		if j := slices.IndexFunc(remote, func(r model.DayEntry) bool { return r.ID == id }); j >= 0 && remote[j].UpdatedAt.After(e.UpdatedAt) {
			s.log.Info("remote copy is newer than the unpushed change", "period", period, "entry", id)
			f.dropped[id] = true
			continue
		}
		if err := s.gw.Push(ctx, s.agent, period, e); err == nil {
			f.pushed[id] = e.UpdatedAt
		}
	}
	if n := len(f.pushed) + len(f.removed); n > 0 {
		s.log.Debug("flushed pending changes", "period", period, "count", n)
	}
	return f
}

// settle clears the pending mark of entries whose pushed version is still
// the local one.
func settle(st *model.AgentPeriodState, pushed map[string]time.Time) {
	st.PendingPush = slices.DeleteFunc(st.PendingPush, func(id string) bool {
		at, ok := pushed[id]
		i := st.Find(id)
		return ok && i >= 0 && st.Entries[i].UpdatedAt.Equal(at)
	})
}

// noteRejection keeps the note of the latest rejection that incoming brings
// in as the period's rejection note.
func noteRejection(st *model.AgentPeriodState, incoming []model.DayEntry) {
	var latest *model.DayEntry
	for i, e := range incoming {
		if e.ReviewStatus != model.ReviewRejected {
			continue
		}
		if j := st.Find(e.ID); j >= 0 && rejected(st.Entries[j]) && st.Entries[j].RejectionNote == e.RejectionNote {
			continue
		}
		if latest == nil || reviewedAt(e).After(reviewedAt(*latest)) {
			latest = &incoming[i]
		}
	}
	if latest != nil {
		st.RejectionNote = latest.RejectionNote
	}
}

func rejected(e model.DayEntry) bool {
	return e.ReviewStatus == model.ReviewRejected || e.Status == model.StatusRejected
}

func reviewedAt(e model.DayEntry) time.Time {
	if e.ReviewedAt == nil {
		return time.Time{}
	}
	return *e.ReviewedAt
}

// record applies bookkeeping to period once a remote call went through. It
// reports false when the state could not be read; the ids then stay pending
// for the next sync.
func (s *Service) record(period string, fn func(*model.AgentPeriodState)) (model.AgentPeriodState, bool, error) {
	st, err := s.store.Mutate(period, func(st *model.AgentPeriodState) error {
		fn(st)
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrPersist) {
		s.log.Warn("recording remote state failed", "period", period, "error", err)
		return st, false, err
	}
	return st, true, err
}

func addID(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func dropID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(x string) bool { return x == id })
}

// Watch streams the reconciled entries of period: the local cache merged with
// every remote snapshot, recomputed whenever either side changes. Entries
// with unpushed local changes show their local value.
func (s *Service) Watch(ctx context.Context, period string, fn func([]model.DayEntry, error)) (docstore.Subscription, error) {
	st, err := s.store.Load(period)
	if err != nil {
		return nil, err
	}
	view := reconcile.NewView(func(entries []model.DayEntry) { fn(entries, nil) })
	setLocal := func(st model.AgentPeriodState) {
		view.SetLocal(st.Entries, slices.Concat(st.PendingPush, st.PendingRemove)...)
	}
	setLocal(st)
	stopLocal, err := s.store.Watch(period, func(st model.AgentPeriodState, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		setLocal(st)
	})
	if err != nil {
		return nil, err
	}
	remote, err := s.gw.WatchAgent(ctx, s.agent.ID, period, func(entries []model.DayEntry, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		view.SetRemote(entries)
	})
	if err != nil {
		stopLocal()
		return nil, err
	}
	return &watch{remote: remote, stopLocal: stopLocal}, nil
}

type watch struct {
	remote    docstore.Subscription
	stopLocal func()
	once      sync.Once
}

func (w *watch) Cancel() {
	w.once.Do(func() {
		w.remote.Cancel()
		w.stopLocal()
	})
}
