package reconcile_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/reconcile"
)

func entry(id, day string, st model.Status, rs model.ReviewStatus) model.DayEntry {
	return model.DayEntry{ID: id, Day: day, Status: st, ReviewStatus: rs}
}

func ids(entries []model.DayEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestMergeRemoteWins(t *testing.T) {
	local := []model.DayEntry{
		entry("a", "2026-10-02", model.StatusSubmitted, model.ReviewPending),
		entry("b", "2026-10-01", model.StatusDraft, model.ReviewNone),
	}
	remote := []model.DayEntry{
		entry("a", "2026-10-02", model.StatusApproved, model.ReviewApproved),
		entry("c", "2026-10-02", model.StatusSubmitted, model.ReviewPending),
	}
	got := reconcile.Merge(local, remote)
	require.Equal(t, []string{"b", "a", "c"}, ids(got))
	assert.Equal(t, model.ReviewApproved, got[1].ReviewStatus)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	local := []model.DayEntry{
		entry("x", "2026-10-05", model.StatusDraft, model.ReviewNone),
		entry("y", "2026-10-01", model.StatusDraft, model.ReviewNone),
		entry("z", "2026-10-03", model.StatusSubmitted, model.ReviewPending),
	}
	remote := []model.DayEntry{
		entry("z", "2026-10-03", model.StatusDraft, model.ReviewRejected),
		entry("w", "2026-10-03", model.StatusApproved, model.ReviewApproved),
	}
	want := reconcile.Merge(local, remote)

	rl := slices.Clone(local)
	slices.Reverse(rl)
	rr := slices.Clone(remote)
	slices.Reverse(rr)
	assert.Equal(t, want, reconcile.Merge(rl, rr))
	assert.Equal(t, []string{"y", "w", "z", "x"}, ids(want))
}

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, reconcile.Merge(nil, nil))
	local := []model.DayEntry{entry("a", "2026-10-01", model.StatusDraft, model.ReviewNone)}
	assert.Equal(t, []string{"a"}, ids(reconcile.Merge(local, nil)))
}

func TestWorkingListAndArchive(t *testing.T) {
	all := []model.DayEntry{
		entry("draft", "2026-10-01", model.StatusDraft, model.ReviewNone),
		entry("pending", "2026-10-02", model.StatusSubmitted, model.ReviewPending),
		entry("approved", "2026-10-03", model.StatusApproved, model.ReviewApproved),
		entry("rejected", "2026-10-04", model.StatusDraft, model.ReviewRejected),
		entry("legacy", "2026-10-05", model.StatusRejected, model.ReviewNone),
	}
	assert.Equal(t, []string{"draft", "pending"}, ids(reconcile.WorkingList(all)))
	assert.Equal(t, []string{"approved", "rejected", "legacy"}, ids(reconcile.Archive(all)))
	assert.Len(t, all, 5)
}

func TestViewRecomputesOnEachSide(t *testing.T) {
	var seen [][]string
	v := reconcile.NewView(func(entries []model.DayEntry) { seen = append(seen, ids(entries)) })

	v.SetLocal([]model.DayEntry{entry("a", "2026-10-02", model.StatusSubmitted, model.ReviewPending)})
	v.SetRemote([]model.DayEntry{entry("b", "2026-10-01", model.StatusSubmitted, model.ReviewPending)})
	v.SetRemote([]model.DayEntry{entry("a", "2026-10-02", model.StatusApproved, model.ReviewApproved)})

	require.Len(t, seen, 3)
	assert.Equal(t, []string{"a"}, seen[0])
	assert.Equal(t, []string{"b", "a"}, seen[1])
	assert.Equal(t, []string{"a"}, seen[2])
	assert.Equal(t, model.ReviewApproved, v.Entries()[0].ReviewStatus)
}

func TestViewKeepsPinnedLocalEntries(t *testing.T) {
	v := reconcile.NewView(nil)
	v.SetRemote([]model.DayEntry{entry("a", "2026-10-02", model.StatusDraft, model.ReviewNone)})
	v.SetLocal([]model.DayEntry{entry("a", "2026-10-02", model.StatusSubmitted, model.ReviewPending)}, "a")
	assert.Equal(t, model.ReviewPending, v.Entries()[0].ReviewStatus)

	v.SetLocal([]model.DayEntry{entry("a", "2026-10-02", model.StatusSubmitted, model.ReviewPending)})
	assert.Equal(t, model.ReviewNone, v.Entries()[0].ReviewStatus)
}

func TestExclude(t *testing.T) {
	in := []model.DayEntry{entry("a", "2026-10-01", "", ""), entry("b", "2026-10-02", "", ""), entry("c", "2026-10-03", "", "")}
	assert.Equal(t, []string{"a", "c"}, ids(reconcile.Exclude(in, "b", "z")))
	assert.Len(t, in, 3)
}
