// Package timesheet is the agent side of the declaration workflow: it applies
// lifecycle transitions to the local store and mirrors every change to the
// remote store. Local state always wins the moment; the remote copy catches
// up on a best-effort basis.
package timesheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/gateway"
	"github.com/Tiliavir/telesales-timesheet/internal/lifecycle"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/reconcile"
	"github.com/Tiliavir/telesales-timesheet/internal/storage"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

// ErrMissionChange is returned when an agent edit tries to move an entry to
// another mission.
var ErrMissionChange = errors.New("mission and region are set by the operational area")

// Outcome is the result of an agent operation.
type Outcome struct {
	State model.AgentPeriodState
	// Entries are the entries the operation created or changed.
	Entries []model.DayEntry
	// Created is set by AddDay when a new entry was inserted.
	Created bool
	// Warning joins remote mirror failures. The local change stands.
	Warning error
}

// Service runs agent operations for one agent.
type Service struct {
	store      *storage.Store
	gw         *gateway.Gateway
	agent      gateway.Agent
	supervisor string
	log        *slog.Logger
	now        func() time.Time
}

// Options configures a Service.
type Options struct {
	Store   *storage.Store
	Gateway *gateway.Gateway
	Agent   gateway.Agent
	// Supervisor is the reviewer stamped on submissions when the caller
	// does not name one.
	Supervisor string
	Log        *slog.Logger
	Now        func() time.Time
}

// New returns a service for opts.Agent.
func New(opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      opts.Store,
		gw:         opts.Gateway,
		agent:      opts.Agent,
		supervisor: opts.Supervisor,
		log:        log,
		now:        now,
	}
}

// Agent returns the identity the service acts for.
func (s *Service) Agent() gateway.Agent { return s.agent }

// mutate syncs period, applies fn and mirrors the entries fn reports as
// changed. Sync failures become warnings. Changed entries stay pending until
// their push succeeds.
func (s *Service) mutate(ctx context.Context, period string, fn func(*model.AgentPeriodState) ([]model.DayEntry, error)) (Outcome, error) {
	var warnings []error
	if _, err := s.Sync(ctx, period); err != nil {
		if errors.Is(err, storage.ErrCorrupt) || errors.Is(err, storage.ErrPersist) {
			return Outcome{}, err
		}
		warnings = append(warnings, err)
	}
	var changed []model.DayEntry
	st, err := s.store.Mutate(period, func(st *model.AgentPeriodState) error {
		var err error
		changed, err = fn(st)
		for _, e := range changed {
			st.PendingPush = addID(st.PendingPush, e.ID)
		}
		return err
	})
	if err != nil && !errors.Is(err, storage.ErrPersist) {
		return Outcome{State: st}, err
	}
	pushed := make(map[string]time.Time, len(changed))
	for _, e := range changed {
		if perr := s.gw.Push(ctx, s.agent, period, e); perr != nil {
			warnings = append(warnings, perr)
			continue
		}
		pushed[e.ID] = e.UpdatedAt
	}
	if len(pushed) > 0 {
		if next, ok, rerr := s.record(period, func(st *model.AgentPeriodState) { settle(st, pushed) }); ok {
			st, err = next, rerr
		}
	}
	return Outcome{State: st, Entries: changed, Warning: errors.Join(warnings...)}, err
}

// Load returns the local state of period without contacting the remote.
func (s *Service) Load(period string) (model.AgentPeriodState, error) {
	return s.store.Load(period)
}

// Lists is the agent's view of one period.
type Lists struct {
	Period  string
	Working []model.DayEntry
	Archive []model.DayEntry
	Minutes int
}

// List syncs period and splits it into the working list and the archive.
// A sync failure is returned as a warning next to the local lists.
func (s *Service) List(ctx context.Context, period string) (Lists, error) {
	st, err := s.Sync(ctx, period)
	if err != nil && (errors.Is(err, storage.ErrCorrupt) || st.Period == "") {
		return Lists{}, err
	}
	entries := reconcile.Merge(st.Entries, nil)
	out := Lists{
		Period:  period,
		Working: reconcile.WorkingList(entries),
		Archive: reconcile.Archive(entries),
	}
	for _, e := range entries {
		out.Minutes += e.Minutes()
	}
	return out, err
}

// AddDay declares day with the default windows unless it already has an
// entry, in which case the existing entry is returned.
func (s *Service) AddDay(ctx context.Context, day string) (Outcome, error) {
	if _, err := timecalc.ParseDay(day); err != nil {
		return Outcome{}, err
	}
	var created bool
	out, err := s.mutate(ctx, timecalc.PeriodOf(day), func(st *model.AgentPeriodState) ([]model.DayEntry, error) {
		st.Entries, created = storage.EnsureEntryForDay(st.Entries, day, s.now())
		if !created {
			return nil, nil
		}
		return []model.DayEntry{st.Entries[len(st.Entries)-1].Clone()}, nil
	})
	out.Created = created
	if !created {
		for _, e := range out.State.Entries {
			if e.Day == day {
				out.Entries = []model.DayEntry{e}
				break
			}
		}
	}
	return out, err
}

// locate finds the entry with id in the local cache.
func (s *Service) locate(id string) (string, model.DayEntry, error) {
	period, err := s.store.Locate(id)
	if err != nil {
		return "", model.DayEntry{}, err
	}
	st, err := s.store.Load(period)
	if err != nil {
		return "", model.DayEntry{}, err
	}
	i := st.Find(id)
	if i < 0 {
		return "", model.DayEntry{}, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, id)
	}
	return period, st.Entries[i], nil
}

// Duplicate copies an entry to day, or to the next working day when day is
// empty. The copy is a new draft with a new id.
func (s *Service) Duplicate(ctx context.Context, id, day string) (Outcome, error) {
	_, src, err := s.locate(id)
	if err != nil {
		return Outcome{}, err
	}
	dup, err := lifecycle.Duplicate(src, day, s.now())
	if err != nil {
		return Outcome{}, err
	}
	return s.mutate(ctx, timecalc.PeriodOf(dup.Day), func(st *model.AgentPeriodState) ([]model.DayEntry, error) {
		st.Entries = append(st.Entries, dup)
		return []model.DayEntry{dup}, nil
	})
}

// Edit changes the agent-owned fields of a draft entry.
func (s *Service) Edit(ctx context.Context, id string, c gateway.Changes) (Outcome, error) {
	if c.Mission != nil || c.Region != nil {
		return Outcome{}, ErrMissionChange
	}
	if err := c.Validate(); err != nil {
		return Outcome{}, err
	}
	period, _, err := s.locate(id)
	if err != nil {
		return Outcome{}, err
	}
	return s.mutate(ctx, period, func(st *model.AgentPeriodState) ([]model.DayEntry, error) {
		i := st.Find(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, id)
		}
		if err := lifecycle.Edit(&st.Entries[i], c.ApplyEntry, s.now()); err != nil {
			return nil, err
		}
		return []model.DayEntry{st.Entries[i].Clone()}, nil
	})
}

// Delete removes a draft entry locally and remotely.
func (s *Service) Delete(ctx context.Context, id string) (Outcome, error) {
	period, _, err := s.locate(id)
	if err != nil {
		return Outcome{}, err
	}
	var removed model.DayEntry
	out, err := s.mutate(ctx, period, func(st *model.AgentPeriodState) ([]model.DayEntry, error) {
		var err error
		removed, err = lifecycle.Delete(st, id)
		if err != nil {
			return nil, err
		}
		st.PendingPush = dropID(st.PendingPush, id)
		st.PendingRemove = addID(st.PendingRemove, id)
		return nil, nil
	})
	if err != nil && !errors.Is(err, storage.ErrPersist) {
		return out, err
	}
	out.Entries = []model.DayEntry{removed}
	if rerr := s.gw.Remove(ctx, s.agent.ID, id); rerr != nil {
		out.Warning = errors.Join(out.Warning, rerr)
		return out, err
	}
	if next, ok, rerr := s.record(period, func(st *model.AgentPeriodState) {
		st.PendingRemove = dropID(st.PendingRemove, id)
	}); ok {
		out.State, err = next, rerr
	}
	return out, err
}

// Submit sends the given drafts, or every working draft of period when ids is
// empty, for review by supervisor (the configured one when empty).
func (s *Service) Submit(ctx context.Context, period, supervisor string, ids ...string) (Outcome, error) {
	if supervisor == "" {
		supervisor = s.supervisor
	}
	return s.mutate(ctx, period, func(st *model.AgentPeriodState) ([]model.DayEntry, error) {
		return lifecycle.SubmitPeriod(st, supervisor, s.now(), ids...)
	})
}

// Undo returns the period's submitted, undecided entries to Draft.
func (s *Service) Undo(ctx context.Context, period string) (Outcome, error) {
	return s.mutate(ctx, period, func(st *model.AgentPeriodState) ([]model.DayEntry, error) {
		return lifecycle.UndoSubmission(st, s.now())
	})
}

// Revert brings a rejected entry back into the working list as a draft.
func (s *Service) Revert(ctx context.Context, id string) (Outcome, error) {
	period, _, err := s.locate(id)
	if err != nil {
		return Outcome{}, err
	}
	return s.mutate(ctx, period, func(st *model.AgentPeriodState) ([]model.DayEntry, error) {
		i := st.Find(id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", lifecycle.ErrNotFound, id)
		}
		if err := lifecycle.Revert(&st.Entries[i], s.now()); err != nil {
			return nil, err
		}
		return []model.DayEntry{st.Entries[i].Clone()}, nil
	})
}

// OpenDispute raises a claim on an approved entry. Claims act on the remote
// copy, so the remote must be reachable.
func (s *Service) OpenDispute(ctx context.Context, id, note string) (Outcome, error) {
	return s.claim(ctx, id, func(key string) (model.SupervisorRow, error) {
		return s.gw.OpenDispute(ctx, key, note, s.agent.ID)
	})
}

// CancelDispute withdraws the open claim of an entry.
func (s *Service) CancelDispute(ctx context.Context, id string) (Outcome, error) {
	return s.claim(ctx, id, func(key string) (model.SupervisorRow, error) {
		return s.gw.CancelDispute(ctx, key)
	})
}

func (s *Service) claim(ctx context.Context, id string, fn func(key string) (model.SupervisorRow, error)) (Outcome, error) {
	row, err := fn(gateway.DocKey(s.agent.ID, id))
	if err != nil {
		return Outcome{}, err
	}
	period := row.Period
	if period == "" {
		period = timecalc.PeriodOf(row.Day)
	}
	st, err := s.store.Mutate(period, func(st *model.AgentPeriodState) error {
		if i := st.Find(id); i >= 0 {
			st.Entries[i] = row.DayEntry
		} else {
			st.Entries = append(st.Entries, row.DayEntry)
		}
		st.PendingPush = dropID(st.PendingPush, id)
		return nil
	})
	return Outcome{State: st, Entries: []model.DayEntry{row.DayEntry}}, err
}
