// Package dispute implements the claim sub-workflow an agent can attach to an
// approved entry. It never touches the review state.
package dispute

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

var (
	ErrNotApproved = errors.New("disputes can only be opened on approved entries")
	ErrDisputeOpen = errors.New("entry already has an open dispute")
	ErrNoDispute   = errors.New("entry has no open dispute")
	ErrEmptyNote   = errors.New("dispute note is required")
)

// Claim history actions.
const (
	ActionOpened    = "opened"
	ActionResolved  = "resolved"
	ActionDismissed = "dismissed"
)

// State is the derived dispute sub-state of an entry.
type State string

const (
	StateNone      State = "none"
	StateDisputed  State = "disputed"
	StateResolved  State = "resolved"
	StateDismissed State = "dismissed"
)

// StateOf derives the dispute state from the stored fields.
func StateOf(e model.DayEntry) State {
	switch e.ClaimStatus {
	case model.ClaimOpen:
		return StateDisputed
	case model.ClaimResolved:
		return StateResolved
	case model.ClaimDismissed:
		return StateDismissed
	}
	if e.HasDispute {
		return StateDisputed
	}
	return StateNone
}

// Open raises a dispute on an approved entry.
func Open(e *model.DayEntry, note, actor string, now time.Time) error {
	if e.ReviewStatus != model.ReviewApproved {
		return fmt.Errorf("%w: %s is %q", ErrNotApproved, e.ID, e.ReviewStatus)
	}
	if StateOf(*e) == StateDisputed {
		return fmt.Errorf("%w: %s", ErrDisputeOpen, e.ID)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return ErrEmptyNote
	}
	e.HasDispute = true
	e.DisputeNote = note
	e.DisputeSubmittedAt = &now
	e.ClaimStatus = model.ClaimOpen
	e.ClaimAdminComment = ""
	e.ClaimHistory = append(e.ClaimHistory, event(now, actor, ActionOpened, note))
	e.UpdatedAt = now
	return nil
}

// Cancel withdraws an open dispute and clears every dispute field, history
// included.
func Cancel(e *model.DayEntry, now time.Time) error {
	if StateOf(*e) != StateDisputed {
		return fmt.Errorf("%w: %s", ErrNoDispute, e.ID)
	}
	e.HasDispute = false
	e.DisputeNote = ""
	e.DisputeSubmittedAt = nil
	e.ClaimStatus = model.ClaimNone
	e.ClaimAdminComment = ""
	e.ClaimHistory = nil
	e.UpdatedAt = now
	return nil
}

// Resolve closes an open dispute. accepted selects Resolved over Dismissed.
func Resolve(e *model.DayEntry, comment, actor string, accepted bool, now time.Time) error {
	if StateOf(*e) != StateDisputed {
		return fmt.Errorf("%w: %s", ErrNoDispute, e.ID)
	}
	status, action := model.ClaimResolved, ActionResolved
	if !accepted {
		status, action = model.ClaimDismissed, ActionDismissed
	}
	comment = strings.TrimSpace(comment)
	e.ClaimStatus = status
	e.ClaimAdminComment = comment
	e.ClaimHistory = append(e.ClaimHistory, event(now, actor, action, comment))
	e.UpdatedAt = now
	return nil
}

func event(at time.Time, actor, action, note string) model.ClaimEvent {
	return model.ClaimEvent{
		ID:     ulid.MustNew(ulid.Timestamp(at), rand.Reader).String(),
		At:     at,
		Actor:  actor,
		Action: action,
		Note:   note,
	}
}
