package timesheet_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tiliavir/telesales-timesheet/internal/dispute"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore/mocks"
	"github.com/Tiliavir/telesales-timesheet/internal/gateway"
	"github.com/Tiliavir/telesales-timesheet/internal/lifecycle"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/storage"
	"github.com/Tiliavir/telesales-timesheet/internal/timesheet"
)

var agent = gateway.Agent{ID: "u1", Name: "Léa Martin", Email: "lea@example.com", Mission: "M-NORD", Region: "Lille"}

// flakyStore fails every write while down is set. Reads keep working.
type flakyStore struct {
	docstore.Store
	down atomic.Bool
}

var errRemoteDown = errors.New("remote unavailable")

func (f *flakyStore) Put(ctx context.Context, key string, fields map[string]any) (docstore.Document, error) {
	if f.down.Load() {
		return docstore.Document{}, errRemoteDown
	}
	return f.Store.Put(ctx, key, fields)
}

func (f *flakyStore) Patch(ctx context.Context, key string, fields map[string]any) (docstore.Document, error) {
	if f.down.Load() {
		return docstore.Document{}, errRemoteDown
	}
	return f.Store.Patch(ctx, key, fields)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.down.Load() {
		return errRemoteDown
	}
	return f.Store.Delete(ctx, key)
}

type env struct {
	svc    *timesheet.Service
	remote *docstore.Memory
	flaky  *flakyStore
	gw     *gateway.Gateway
	dir    string
	local  *storage.Store
	clock  time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		remote: docstore.NewMemory(nil),
		dir:    t.TempDir(),
		clock:  time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	e.local = storage.New(e.dir, agent.ID)
	e.flaky = &flakyStore{Store: e.remote}
	t.Cleanup(func() { _ = e.remote.Close() })
	e.gw = gateway.New(e.remote, nil)
	e.svc = timesheet.New(timesheet.Options{
		Store:      e.local,
		Gateway:    gateway.New(e.flaky, nil),
		Agent:      agent,
		Supervisor: "Claire",
		Now:        func() time.Time { e.clock = e.clock.Add(time.Minute); return e.clock },
	})
	return e
}

func (e *env) remoteDoc(t *testing.T, id string) docstore.Document {
	t.Helper()
	doc, err := e.remote.Get(context.Background(), gateway.DocKey(agent.ID, id))
	require.NoError(t, err)
	return doc
}

func TestAddDayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	out, err := e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	require.NoError(t, out.Warning)
	require.True(t, out.Created)
	id := out.Entries[0].ID

	out, err = e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, id, out.Entries[0].ID)
	assert.Len(t, out.State.Entries, 1)

	doc := e.remoteDoc(t, id)
	assert.Equal(t, "Draft", doc.Fields["status"])
	assert.Equal(t, "", doc.Fields["reviewStatus"])
	assert.Equal(t, "M-NORD", doc.Fields["mission"])

	_, err = e.svc.AddDay(ctx, "14/10/2026")
	require.Error(t, err)
}

func TestSubmitSurvivesRemoteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Query(gomock.Any(), docstore.Query{"userId": "u1"}).Return([]docstore.Document{}, nil).AnyTimes()
	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(docstore.Document{}, docstore.ErrNotFound).AnyTimes()
	store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return(docstore.Document{}, errors.New("remote unavailable")).AnyTimes()

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	svc := timesheet.New(timesheet.Options{
		Store:      storage.New(t.TempDir(), agent.ID),
		Gateway:    gateway.New(store, log),
		Agent:      agent,
		Supervisor: "Claire",
		Log:        log,
	})
	ctx := context.Background()

	out, err := svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	require.Error(t, out.Warning)

	out, err = svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err, "remote failure is not an error")
	require.Error(t, out.Warning)
	require.Len(t, out.Entries, 1)

	st, err := svc.Load("2026-10")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, st.Entries[0].Status)
	assert.Equal(t, model.ReviewPending, st.Entries[0].ReviewStatus)
	assert.Equal(t, "Claire", st.Entries[0].Supervisor)
	assert.Equal(t, []string{st.Entries[0].ID}, st.PendingPush)
	assert.Contains(t, logs.String(), "level=WARN")
}

func TestSyncFailureFallsBackToLocal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, docstore.ErrClosed).AnyTimes()
	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(docstore.Document{}, docstore.ErrNotFound).AnyTimes()
	store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return(docstore.Document{}, nil).AnyTimes()

	svc := timesheet.New(timesheet.Options{Store: storage.New(t.TempDir(), agent.ID), Gateway: gateway.New(store, nil), Agent: agent})
	ctx := context.Background()

	out, err := svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	require.ErrorIs(t, out.Warning, docstore.ErrClosed)

	lists, err := svc.List(ctx, "2026-10")
	require.ErrorIs(t, err, docstore.ErrClosed)
	assert.Len(t, lists.Working, 1)
}

func TestReviewRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	b, err := e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	idA, idB := a.Entries[0].ID, b.Entries[0].ID

	out, err := e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)
	require.NoError(t, out.Warning)
	require.Len(t, out.Entries, 2)
	assert.Equal(t, "Pending", e.remoteDoc(t, idA).Fields["reviewStatus"])

	_, err = e.svc.Submit(ctx, "2026-10", "", idA)
	require.ErrorIs(t, err, lifecycle.ErrNotDraft)

	_, err = e.gw.Approve(ctx, gateway.DocKey(agent.ID, idA), "Claire")
	require.NoError(t, err)
	_, err = e.gw.Reject(ctx, gateway.DocKey(agent.ID, idB), "pause oubliée", "Claire")
	require.NoError(t, err)

	lists, err := e.svc.List(ctx, "2026-10")
	require.NoError(t, err)
	assert.Empty(t, lists.Working)
	require.Len(t, lists.Archive, 2)
	assert.Equal(t, model.ReviewApproved, lists.Archive[0].ReviewStatus)
	assert.Equal(t, "pause oubliée", lists.Archive[1].RejectionNote)
	assert.Equal(t, 420+420, lists.Minutes)
	st, err := e.svc.Load("2026-10")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, st.Status)
	assert.Equal(t, "pause oubliée", st.RejectionNote)

	created := lists.Archive[1].CreatedAt
	out, err = e.svc.Revert(ctx, idB)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewNone, out.Entries[0].ReviewStatus)
	assert.Equal(t, "Draft", e.remoteDoc(t, idB).Fields["status"])
	assert.Empty(t, out.State.RejectionNote)

	end := "12:30"
	_, err = e.svc.Edit(ctx, idB, gateway.Changes{MorningEnd: &end})
	require.NoError(t, err)

	out, err = e.svc.Submit(ctx, "2026-10", "Marc", idB)
	require.NoError(t, err)
	resubmitted := out.Entries[0]
	assert.Equal(t, created, resubmitted.CreatedAt, "resubmission keeps the creation time")
	assert.True(t, resubmitted.SubmittedAt.After(created))
	assert.Equal(t, "Marc", resubmitted.Supervisor)
	assert.Equal(t, "12:30", e.remoteDoc(t, idB).Fields["morningEnd"])
	assert.Equal(t, "Pending", e.remoteDoc(t, idB).Fields["reviewStatus"])
}

func TestUndoMirrorsDrafts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)

	out, err := e.svc.Undo(ctx, "2026-10")
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, model.StatusDraft, out.State.Status)

	doc := e.remoteDoc(t, a.Entries[0].ID)
	assert.Equal(t, "Draft", doc.Fields["status"])
	assert.Equal(t, "", doc.Fields["reviewStatus"])

	_, err = e.svc.Undo(ctx, "2026-10")
	require.ErrorIs(t, err, lifecycle.ErrNotSubmitted)
}

func TestUndoLeavesDecidedEntries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	_, err = e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)
	_, err = e.gw.Approve(ctx, gateway.DocKey(agent.ID, a.Entries[0].ID), "Claire")
	require.NoError(t, err)

	out, err := e.svc.Undo(ctx, "2026-10")
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, "Approved", e.remoteDoc(t, a.Entries[0].ID).Fields["reviewStatus"])
}

func TestDeleteRemovesRemoteCopy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	id := a.Entries[0].ID

	out, err := e.svc.Delete(ctx, id)
	require.NoError(t, err)
	require.NoError(t, out.Warning)
	assert.Empty(t, out.State.Entries)
	_, err = e.remote.Get(ctx, gateway.DocKey(agent.ID, id))
	require.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = e.svc.Delete(ctx, id)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteRequiresDraft(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)

	_, err = e.svc.Delete(ctx, a.Entries[0].ID)
	require.ErrorIs(t, err, lifecycle.ErrNotDraft)
	e.remoteDoc(t, a.Entries[0].ID)
}

func TestDuplicateAcrossMonths(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-30")
	require.NoError(t, err)
	notes := "salon"
	_, err = e.svc.Edit(ctx, a.Entries[0].ID, gateway.Changes{Notes: &notes})
	require.NoError(t, err)

	out, err := e.svc.Duplicate(ctx, a.Entries[0].ID, "")
	require.NoError(t, err)
	dup := out.Entries[0]
	assert.Equal(t, "2026-11-02", dup.Day)
	assert.Equal(t, "salon", dup.Notes)
	assert.NotEqual(t, a.Entries[0].ID, dup.ID)
	assert.Equal(t, "2026-11", out.State.Period)
	assert.Equal(t, "2026-11", e.remoteDoc(t, dup.ID).Fields["period"])
}

func TestEditRejectsMissionChange(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	m := "M-SUD"
	_, err = e.svc.Edit(ctx, a.Entries[0].ID, gateway.Changes{Mission: &m})
	require.ErrorIs(t, err, timesheet.ErrMissionChange)

	bad := "7h"
	_, err = e.svc.Edit(ctx, a.Entries[0].ID, gateway.Changes{MorningStart: &bad})
	require.Error(t, err)
}

func TestDisputeOpenAndCancel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	id := a.Entries[0].ID

	_, err = e.svc.OpenDispute(ctx, id, "heures manquantes")
	require.ErrorIs(t, err, dispute.ErrNotApproved)

	_, err = e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)
	_, err = e.gw.Approve(ctx, gateway.DocKey(agent.ID, id), "Claire")
	require.NoError(t, err)

	out, err := e.svc.OpenDispute(ctx, id, "heures manquantes")
	require.NoError(t, err)
	assert.True(t, out.Entries[0].HasDispute)
	st, err := e.svc.Load("2026-10")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimOpen, st.Entries[0].ClaimStatus)

	out, err = e.svc.CancelDispute(ctx, id)
	require.NoError(t, err)
	got := out.Entries[0]
	assert.False(t, got.HasDispute)
	assert.Empty(t, got.DisputeNote)
	assert.Nil(t, got.DisputeSubmittedAt)
	assert.Equal(t, model.ClaimNone, got.ClaimStatus)
	assert.Equal(t, model.ReviewApproved, got.ReviewStatus)
}

func TestWatchMergesRemoteSnapshots(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		last []model.DayEntry
	)
	sub, err := e.svc.Watch(ctx, "2026-10", func(entries []model.DayEntry, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		last = entries
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = e.gw.Approve(ctx, gateway.DocKey(agent.ID, a.Entries[0].ID), "Claire")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].ReviewStatus == model.ReviewApproved
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnpushedSubmitSurvivesSync(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	id := a.Entries[0].ID

	e.flaky.down.Store(true)
	out, err := e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)
	require.ErrorIs(t, out.Warning, errRemoteDown)
	assert.Equal(t, []string{id}, out.State.PendingPush)
	assert.Equal(t, "Draft", e.remoteDoc(t, id).Fields["status"])

	e.flaky.down.Store(false)
	lists, err := e.svc.List(ctx, "2026-10")
	require.NoError(t, err)
	require.Len(t, lists.Working, 1)
	assert.Equal(t, model.StatusSubmitted, lists.Working[0].Status)

	st, err := e.svc.Load("2026-10")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, st.Entries[0].Status)
	assert.Empty(t, st.PendingPush)
	doc := e.remoteDoc(t, id)
	assert.Equal(t, "Submitted", doc.Fields["status"])
	assert.Equal(t, "Pending", doc.Fields["reviewStatus"])
}

func TestUnpushedChangeStaysLocalWhileRemoteIsDown(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	id := a.Entries[0].ID

	e.flaky.down.Store(true)
	_, err = e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)

	// Reads still work, so the sync sees the stale Draft copy.
	st, err := e.svc.Sync(ctx, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, st.Entries[0].Status)
	assert.Equal(t, []string{id}, st.PendingPush)
}

func TestNewerRemoteCopyWinsOverUnpushedChange(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	id := a.Entries[0].ID
	key := gateway.DocKey(agent.ID, id)

	e.flaky.down.Store(true)
	notes := "saisie locale"
	_, err = e.svc.Edit(ctx, id, gateway.Changes{Notes: &notes})
	require.NoError(t, err)

	row, err := e.gw.Row(ctx, key)
	require.NoError(t, err)
	row.Notes = "corrigé par Claire"
	row.UpdatedAt = e.clock.Add(time.Hour)
	fields, err := docstore.ToFields(row)
	require.NoError(t, err)
	_, err = e.remote.Put(ctx, key, fields)
	require.NoError(t, err)

	e.flaky.down.Store(false)
	st, err := e.svc.Sync(ctx, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, "corrigé par Claire", st.Entries[0].Notes)
	assert.Empty(t, st.PendingPush)
	assert.Equal(t, "corrigé par Claire", e.remoteDoc(t, id).Fields["notes"])
}

func TestFailedRemoveIsRetriedOnSync(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	id := a.Entries[0].ID

	e.flaky.down.Store(true)
	out, err := e.svc.Delete(ctx, id)
	require.NoError(t, err)
	require.ErrorIs(t, out.Warning, errRemoteDown)
	assert.Equal(t, []string{id}, out.State.PendingRemove)

	st, err := e.svc.Sync(ctx, "2026-10")
	require.NoError(t, err)
	assert.Empty(t, st.Entries, "the remote copy must not bring the entry back")

	e.flaky.down.Store(false)
	st, err = e.svc.Sync(ctx, "2026-10")
	require.NoError(t, err)
	assert.Empty(t, st.Entries)
	assert.Empty(t, st.PendingRemove)
	_, err = e.remote.Get(ctx, gateway.DocKey(agent.ID, id))
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestRejectionNoteFollowsLatestRejection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	b, err := e.svc.AddDay(ctx, "2026-10-14")
	require.NoError(t, err)
	_, err = e.svc.Submit(ctx, "2026-10", "")
	require.NoError(t, err)

	_, err = e.gw.Reject(ctx, gateway.DocKey(agent.ID, a.Entries[0].ID), "pause oubliée", "Claire")
	require.NoError(t, err)
	st, err := e.svc.Sync(ctx, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, "pause oubliée", st.RejectionNote)

	_, err = e.gw.Reject(ctx, gateway.DocKey(agent.ID, b.Entries[0].ID), "horaires incohérents", "Claire")
	require.NoError(t, err)
	st, err = e.svc.Sync(ctx, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, "horaires incohérents", st.RejectionNote)

	// A sync that brings nothing new keeps the note.
	st, err = e.svc.Sync(ctx, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, "horaires incohérents", st.RejectionNote)
}

func TestWatchSeesLocalChanges(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.svc.AddDay(ctx, "2026-10-13")
	require.NoError(t, err)
	id := a.Entries[0].ID

	var (
		mu   sync.Mutex
		last []model.DayEntry
	)
	sub, err := e.svc.Watch(ctx, "2026-10", func(entries []model.DayEntry, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		last = entries
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Cancel()

	e.flaky.down.Store(true)
	notes := "hors ligne"
	_, err = e.svc.Edit(ctx, id, gateway.Changes{Notes: &notes})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Notes == "hors ligne"
	}, 2*time.Second, 10*time.Millisecond)

	// Another process writing the same period file.
	other := storage.New(e.dir, agent.ID)
	_, err = other.Mutate("2026-10", func(st *model.AgentPeriodState) error {
		st.Entries, _ = storage.EnsureEntryForDay(st.Entries, "2026-10-16", e.clock)
		return nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
