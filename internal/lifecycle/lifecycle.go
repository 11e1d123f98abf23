// Package lifecycle implements the entry state machine:
// Draft -> Submitted -> {Approved, Rejected}, with explicit revert and undo.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

var (
	ErrNotDraft     = errors.New("entry is not a draft")
	ErrNotPending   = errors.New("entry is not pending review")
	ErrNotRejected  = errors.New("entry is not rejected")
	ErrNotSubmitted = errors.New("period has no submitted entries")
	ErrNotFound     = errors.New("entry not found")
)

// CanEdit reports whether the owning agent may still change e.
func CanEdit(e model.DayEntry) error {
	if e.Status != model.StatusDraft {
		return fmt.Errorf("%w: %s is %s", ErrNotDraft, e.ID, e.Status)
	}
	return nil
}

// Edit applies fn to a draft entry. Identity, lifecycle and review fields are
// restored after fn runs so an edit can only touch agent-owned fields.
func Edit(e *model.DayEntry, fn func(*model.DayEntry), now time.Time) error {
	if err := CanEdit(*e); err != nil {
		return err
	}
	keep := e.Clone()
	fn(e)
	e.ID = keep.ID
	e.Status = keep.Status
	e.ReviewStatus = keep.ReviewStatus
	e.RejectionNote = keep.RejectionNote
	e.CreatedAt = keep.CreatedAt
	e.SubmittedAt = keep.SubmittedAt
	e.ReviewedAt = keep.ReviewedAt
	e.ReviewedBy = keep.ReviewedBy
	e.HasDispute = keep.HasDispute
	e.DisputeNote = keep.DisputeNote
	e.DisputeSubmittedAt = keep.DisputeSubmittedAt
	e.ClaimStatus = keep.ClaimStatus
	e.ClaimAdminComment = keep.ClaimAdminComment
	e.ClaimHistory = keep.ClaimHistory
	e.UpdatedAt = now
	return nil
}

// Submit moves a draft entry to Submitted/Pending and stamps the reviewer.
func Submit(e *model.DayEntry, supervisor string, now time.Time) error {
	if err := CanEdit(*e); err != nil {
		return err
	}
	e.Status = model.StatusSubmitted
	e.ReviewStatus = model.ReviewPending
	e.Supervisor = supervisor
	e.RejectionNote = ""
	e.SubmittedAt = &now
	e.UpdatedAt = now
	return nil
}

// Approve records a supervisor approval. Legacy and current spellings of
// Pending are the same value once decoded.
func Approve(e *model.DayEntry, by string, now time.Time) error {
	if e.ReviewStatus != model.ReviewPending {
		return fmt.Errorf("%w: %s is %q", ErrNotPending, e.ID, e.ReviewStatus)
	}
	e.Status = model.StatusApproved
	e.ReviewStatus = model.ReviewApproved
	e.RejectionNote = ""
	e.ReviewedBy = by
	e.ReviewedAt = &now
	e.UpdatedAt = now
	return nil
}

// Reject records a supervisor rejection and hands the entry back to the agent
// as a draft.
func Reject(e *model.DayEntry, note, by string, now time.Time) error {
	if e.ReviewStatus != model.ReviewPending {
		return fmt.Errorf("%w: %s is %q", ErrNotPending, e.ID, e.ReviewStatus)
	}
	e.Status = model.StatusDraft
	e.ReviewStatus = model.ReviewRejected
	e.RejectionNote = note
	e.ReviewedBy = by
	e.ReviewedAt = &now
	e.UpdatedAt = now
	return nil
}

// Revert brings a rejected entry back into the agent's working list.
func Revert(e *model.DayEntry, now time.Time) error {
	if e.ReviewStatus != model.ReviewRejected && e.Status != model.StatusRejected {
		return fmt.Errorf("%w: %s", ErrNotRejected, e.ID)
	}
	e.Status = model.StatusDraft
	e.ReviewStatus = model.ReviewNone
	e.RejectionNote = ""
	e.ReviewedAt = nil
	e.ReviewedBy = ""
	e.UpdatedAt = now
	return nil
}

// SubmitPeriod submits the given entries, or every working draft when ids is
// empty. It returns the submitted entries.
func SubmitPeriod(s *model.AgentPeriodState, supervisor string, now time.Time, ids ...string) ([]model.DayEntry, error) {
	var out []model.DayEntry
	if len(ids) == 0 {
		for i := range s.Entries {
			e := &s.Entries[i]
			if e.Status != model.StatusDraft || e.ReviewStatus != model.ReviewNone {
				continue
			}
			if err := Submit(e, supervisor, now); err != nil {
				return nil, err
			}
			out = append(out, e.Clone())
		}
	} else {
		for _, id := range ids {
			i := s.Find(id)
			if i < 0 {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			if err := Submit(&s.Entries[i], supervisor, now); err != nil {
				return nil, err
			}
			out = append(out, s.Entries[i].Clone())
		}
	}
	s.Status = model.CoarseStatus(s.Entries)
	return out, nil
}

// UndoSubmission returns every submitted entry of the period to Draft and
// clears the rejection note. Entries a supervisor already decided are left
// alone.
func UndoSubmission(s *model.AgentPeriodState, now time.Time) ([]model.DayEntry, error) {
	var out []model.DayEntry
	for i := range s.Entries {
		e := &s.Entries[i]
		if e.Status != model.StatusSubmitted || e.ReviewStatus.Decided() {
			continue
		}
		e.Status = model.StatusDraft
		e.ReviewStatus = model.ReviewNone
		e.RejectionNote = ""
		e.SubmittedAt = nil
		e.UpdatedAt = now
		out = append(out, e.Clone())
	}
	if len(out) == 0 {
		return nil, ErrNotSubmitted
	}
	s.RejectionNote = ""
	s.Status = model.CoarseStatus(s.Entries)
	return out, nil
}

// Delete removes a draft entry from the period.
func Delete(s *model.AgentPeriodState, id string) (model.DayEntry, error) {
	i := s.Find(id)
	if i < 0 {
		return model.DayEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := s.Entries[i]
	if err := CanEdit(removed); err != nil {
		return model.DayEntry{}, err
	}
	s.Entries = append(s.Entries[:i], s.Entries[i+1:]...)
	s.Status = model.CoarseStatus(s.Entries)
	return removed, nil
}

// Duplicate copies the agent-owned fields of src into a new draft on day, or
// on the next working day when day is empty. The copy gets a new id.
func Duplicate(src model.DayEntry, day string, now time.Time) (model.DayEntry, error) {
	if day == "" {
		next, err := timecalc.NextWorkingDay(src.Day)
		if err != nil {
			return model.DayEntry{}, err
		}
		day = next
	}
	if _, err := timecalc.ParseDay(day); err != nil {
		return model.DayEntry{}, err
	}
	dup := model.NewEntry(day, now)
	dup.IncludeMorning = src.IncludeMorning
	dup.MorningStart = src.MorningStart
	dup.MorningEnd = src.MorningEnd
	dup.IncludeAfternoon = src.IncludeAfternoon
	dup.AfternoonStart = src.AfternoonStart
	dup.AfternoonEnd = src.AfternoonEnd
	dup.Project = src.Project
	dup.Notes = src.Notes
	dup.Supervisor = src.Supervisor
	return dup, nil
}
