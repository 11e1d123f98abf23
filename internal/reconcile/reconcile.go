// Package reconcile merges the local entry cache with the authoritative
// remote entries. Remote wins per id; local entries the remote store has not
// seen yet stay visible.
package reconcile

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

// Merge returns R ∪ {e ∈ L : e.id ∉ ids(R)} ordered by day then id. The
// result does not depend on the order of either input.
func Merge(local, remote []model.DayEntry) []model.DayEntry {
	byID := make(map[string]model.DayEntry, len(local)+len(remote))
	for _, e := range local {
		byID[e.ID] = e
	}
	for _, e := range remote {
		byID[e.ID] = e
	}
	out := make([]model.DayEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e.Clone())
	}
	Sort(out)
	return out
}

// Exclude returns entries without the ones whose id is in ids.
func Exclude(entries []model.DayEntry, ids ...string) []model.DayEntry {
	return slices.DeleteFunc(slices.Clone(entries), func(e model.DayEntry) bool {
		return slices.Contains(ids, e.ID)
	})
}

// Sort orders entries by day ascending, then id.
func Sort(entries []model.DayEntry) {
	slices.SortFunc(entries, func(a, b model.DayEntry) int {
		return cmp.Or(cmp.Compare(a.Day, b.Day), cmp.Compare(a.ID, b.ID))
	})
}

// WorkingList keeps the entries the agent still acts on.
func WorkingList(entries []model.DayEntry) []model.DayEntry {
	return slices.DeleteFunc(slices.Clone(entries), model.DayEntry.Decided)
}

// Archive keeps the entries a supervisor has decided.
func Archive(entries []model.DayEntry) []model.DayEntry {
	return slices.DeleteFunc(slices.Clone(entries), func(e model.DayEntry) bool { return !e.Decided() })
}

// View holds the latest local and remote snapshots and republishes the merged
// list whenever either side changes.
type View struct {
	mu       sync.Mutex
	local    []model.DayEntry
	pinned   []string
	remote   []model.DayEntry
	onChange func([]model.DayEntry)
}

// NewView returns a view that calls onChange with every recomputed list.
// onChange runs under the view lock and must not call back into the view.
func NewView(onChange func([]model.DayEntry)) *View {
	return &View{onChange: onChange}
}

// SetLocal replaces the local snapshot. Pinned ids keep their local value
// over the remote one.
func (v *View) SetLocal(entries []model.DayEntry, pinned ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.local = slices.Clone(entries)
	v.pinned = slices.Clone(pinned)
	v.publish()
}

// SetRemote replaces the remote snapshot.
func (v *View) SetRemote(entries []model.DayEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.remote = slices.Clone(entries)
	v.publish()
}

// Entries returns the current merged list.
func (v *View) Entries() []model.DayEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.merged()
}

func (v *View) merged() []model.DayEntry {
	return Merge(v.local, Exclude(v.remote, v.pinned...))
}

func (v *View) publish() {
	if v.onChange != nil {
		v.onChange(v.merged())
	}
}
