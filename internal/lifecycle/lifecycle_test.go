package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/lifecycle"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

var now = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)

func draftState(days ...string) model.AgentPeriodState {
	s := model.NewPeriodState("2026-10")
	for _, d := range days {
		s.Entries = append(s.Entries, model.NewEntry(d, now))
	}
	return s
}

func TestSubmit(t *testing.T) {
	e := model.NewEntry("2026-10-15", now)
	if err := lifecycle.Submit(&e, "Claire", now); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if e.Status != model.StatusSubmitted || e.ReviewStatus != model.ReviewPending {
		t.Errorf("after submit: %q/%q", e.Status, e.ReviewStatus)
	}
	if e.Supervisor != "Claire" || e.SubmittedAt == nil {
		t.Errorf("supervisor=%q submittedAt=%v", e.Supervisor, e.SubmittedAt)
	}
}

func TestSubmitTwiceKeepsShape(t *testing.T) {
	s := draftState("2026-10-15")
	id := s.Entries[0].ID

	if _, err := lifecycle.SubmitPeriod(&s, "Claire", now, id); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := lifecycle.SubmitPeriod(&s, "Claire", now.Add(time.Minute), id)
	if !errors.Is(err, lifecycle.ErrNotDraft) {
		t.Fatalf("second submit err = %v, want ErrNotDraft", err)
	}
	if len(s.Entries) != 1 || s.Entries[0].ID != id {
		t.Fatalf("entries changed: %+v", s.Entries)
	}
	if !s.Entries[0].SubmittedAt.Equal(now) {
		t.Errorf("submittedAt overwritten: %v", s.Entries[0].SubmittedAt)
	}
}

func TestEditRequiresDraft(t *testing.T) {
	e := model.NewEntry("2026-10-15", now)
	if err := lifecycle.Edit(&e, func(e *model.DayEntry) { e.Notes = "ok" }, now); err != nil {
		t.Fatalf("Edit draft: %v", err)
	}
	if e.Notes != "ok" {
		t.Errorf("notes = %q", e.Notes)
	}

	for _, st := range []model.Status{model.StatusSubmitted, model.StatusApproved, model.StatusRejected} {
		e := model.NewEntry("2026-10-15", now)
		e.Status = st
		err := lifecycle.Edit(&e, func(e *model.DayEntry) { e.Notes = "nope" }, now)
		if !errors.Is(err, lifecycle.ErrNotDraft) {
			t.Errorf("Edit on %s: err = %v, want ErrNotDraft", st, err)
		}
		if e.Notes != "" {
			t.Errorf("Edit on %s mutated notes", st)
		}
	}
}

func TestEditCannotTouchLifecycleFields(t *testing.T) {
	e := model.NewEntry("2026-10-15", now)
	id := e.ID
	err := lifecycle.Edit(&e, func(e *model.DayEntry) {
		e.ID = "other"
		e.Status = model.StatusApproved
		e.ReviewStatus = model.ReviewApproved
		e.Project = model.ProjectSAV
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != id || e.Status != model.StatusDraft || e.ReviewStatus != model.ReviewNone {
		t.Errorf("lifecycle fields changed: %q %q %q", e.ID, e.Status, e.ReviewStatus)
	}
	if e.Project != model.ProjectSAV {
		t.Errorf("project = %q", e.Project)
	}
}

func TestApproveRejectRevert(t *testing.T) {
	e := model.NewEntry("2026-10-15", now)
	if err := lifecycle.Approve(&e, "sup", now); !errors.Is(err, lifecycle.ErrNotPending) {
		t.Fatalf("approve draft err = %v", err)
	}
	if err := lifecycle.Submit(&e, "sup", now); err != nil {
		t.Fatal(err)
	}
	rejected := e.Clone()
	if err := lifecycle.Reject(&rejected, "missing afternoon", "sup", now); err != nil {
		t.Fatal(err)
	}
	if rejected.Status != model.StatusDraft || rejected.ReviewStatus != model.ReviewRejected {
		t.Errorf("after reject: %q/%q", rejected.Status, rejected.ReviewStatus)
	}
	if !rejected.Decided() {
		t.Error("rejected entry should be decided")
	}
	if err := lifecycle.Revert(&rejected, now); err != nil {
		t.Fatal(err)
	}
	if rejected.ReviewStatus != model.ReviewNone || rejected.RejectionNote != "" || rejected.Decided() {
		t.Errorf("after revert: %+v", rejected)
	}

	if err := lifecycle.Approve(&e, "sup", now); err != nil {
		t.Fatal(err)
	}
	if e.Status != model.StatusApproved || e.ReviewStatus != model.ReviewApproved || e.ReviewedBy != "sup" {
		t.Errorf("after approve: %+v", e)
	}
	if err := lifecycle.Revert(&e, now); !errors.Is(err, lifecycle.ErrNotRejected) {
		t.Errorf("revert approved err = %v", err)
	}
}

func TestUndoSubmission(t *testing.T) {
	s := draftState("2026-10-14", "2026-10-15", "2026-10-16")
	if _, err := lifecycle.SubmitPeriod(&s, "sup", now); err != nil {
		t.Fatal(err)
	}
	if s.Status != model.StatusSubmitted {
		t.Fatalf("period status = %q", s.Status)
	}
	if err := lifecycle.Approve(&s.Entries[2], "sup", now); err != nil {
		t.Fatal(err)
	}
	s.RejectionNote = "see comments"

	undone, err := lifecycle.UndoSubmission(&s, now)
	if err != nil {
		t.Fatalf("UndoSubmission: %v", err)
	}
	if len(undone) != 2 {
		t.Fatalf("undone = %d, want 2", len(undone))
	}
	if s.RejectionNote != "" || s.Status != model.StatusDraft {
		t.Errorf("period after undo: status=%q note=%q", s.Status, s.RejectionNote)
	}
	if s.Entries[2].ReviewStatus != model.ReviewApproved {
		t.Error("approved entry must be left alone")
	}
	if _, err := lifecycle.UndoSubmission(&s, now); !errors.Is(err, lifecycle.ErrNotSubmitted) {
		t.Errorf("second undo err = %v", err)
	}
}

func TestSubmitPeriodSkipsRejected(t *testing.T) {
	s := draftState("2026-10-14", "2026-10-15")
	s.Entries[0].ReviewStatus = model.ReviewRejected

	out, err := lifecycle.SubmitPeriod(&s, "sup", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != s.Entries[1].ID {
		t.Fatalf("submitted = %+v", out)
	}
}

func TestDelete(t *testing.T) {
	s := draftState("2026-10-14", "2026-10-15")
	id := s.Entries[0].ID
	if _, err := lifecycle.Delete(&s, id); err != nil {
		t.Fatal(err)
	}
	if len(s.Entries) != 1 {
		t.Fatalf("entries = %d", len(s.Entries))
	}
	if err := lifecycle.Submit(&s.Entries[0], "sup", now); err != nil {
		t.Fatal(err)
	}
	if _, err := lifecycle.Delete(&s, s.Entries[0].ID); !errors.Is(err, lifecycle.ErrNotDraft) {
		t.Errorf("delete submitted err = %v", err)
	}
	if _, err := lifecycle.Delete(&s, "missing"); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("delete missing err = %v", err)
	}
}

func TestDuplicate(t *testing.T) {
	src := model.NewEntry("2026-10-16", now)
	src.Project = model.ProjectRelance
	src.IncludeAfternoon = false
	src.Status = model.StatusSubmitted
	src.ReviewStatus = model.ReviewPending

	dup, err := lifecycle.Duplicate(src, "", now)
	if err != nil {
		t.Fatal(err)
	}
	if dup.ID == src.ID {
		t.Error("duplicate must get a new id")
	}
	if dup.Day != "2026-10-19" {
		t.Errorf("day = %q, want next working day 2026-10-19", dup.Day)
	}
	if dup.Project != model.ProjectRelance || dup.IncludeAfternoon {
		t.Errorf("fields not copied: %+v", dup)
	}
	if dup.Status != model.StatusDraft || dup.ReviewStatus != model.ReviewNone {
		t.Errorf("duplicate must be a fresh draft: %q/%q", dup.Status, dup.ReviewStatus)
	}
	if _, err := lifecycle.Duplicate(src, "32/10/2026", now); err == nil {
		t.Error("expected error for malformed day")
	}
}
