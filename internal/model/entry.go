package model

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

// Default working windows applied to every new entry.
const (
	DefaultMorningStart   = "10:00"
	DefaultMorningEnd     = "13:00"
	DefaultAfternoonStart = "15:00"
	DefaultAfternoonEnd   = "19:00"
)

// Operation codes an entry can be declared against.
const (
	ProjectProspection   = "PROSPECTION"
	ProjectFidelisation  = "FIDELISATION"
	ProjectRelance       = "RELANCE"
	ProjectQualification = "QUALIFICATION"
	ProjectSAV           = "SAV"
	ProjectFormation     = "FORMATION"

	DefaultProject = ProjectProspection
)

// Projects lists the fixed operation codes in display order.
var Projects = []string{
	ProjectProspection,
	ProjectFidelisation,
	ProjectRelance,
	ProjectQualification,
	ProjectSAV,
	ProjectFormation,
}

// ValidProject reports whether code is one of the fixed operation codes.
func ValidProject(code string) bool {
	return slices.Contains(Projects, code)
}

// ClaimEvent is one append-only record in an entry's claim history.
type ClaimEvent struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Note   string    `json:"note,omitempty"`
}

// DayEntry is one declared work day for one agent and one operation.
type DayEntry struct {
	ID               string       `json:"id"`
	Day              string       `json:"day"`
	IncludeMorning   bool         `json:"includeMorning"`
	MorningStart     string       `json:"morningStart"`
	MorningEnd       string       `json:"morningEnd"`
	IncludeAfternoon bool         `json:"includeAfternoon"`
	AfternoonStart   string       `json:"afternoonStart"`
	AfternoonEnd     string       `json:"afternoonEnd"`
	Project          string       `json:"project"`
	Notes            string       `json:"notes"`
	Supervisor       string       `json:"supervisor"`
	Status           Status       `json:"status"`
	ReviewStatus     ReviewStatus `json:"reviewStatus"`
	RejectionNote    string       `json:"rejectionNote,omitempty"`

	HasDispute         bool         `json:"hasDispute,omitempty"`
	DisputeNote        string       `json:"disputeNote,omitempty"`
	DisputeSubmittedAt *time.Time   `json:"disputeSubmittedAt,omitempty"`
	ClaimStatus        ClaimStatus  `json:"claimStatus,omitempty"`
	ClaimAdminComment  string       `json:"claimAdminComment,omitempty"`
	ClaimHistory       []ClaimEvent `json:"claimHistory,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy  string     `json:"reviewedBy,omitempty"`
}

// NewID returns a fresh entry identity.
func NewID() string {
	return uuid.NewString()
}

// NewEntry returns a Draft entry for day hydrated with the default windows
// and operation code.
func NewEntry(day string, now time.Time) DayEntry {
	return DayEntry{
		ID:               NewID(),
		Day:              day,
		IncludeMorning:   true,
		MorningStart:     DefaultMorningStart,
		MorningEnd:       DefaultMorningEnd,
		IncludeAfternoon: true,
		AfternoonStart:   DefaultAfternoonStart,
		AfternoonEnd:     DefaultAfternoonEnd,
		Project:          DefaultProject,
		Status:           StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Minutes returns the worked minutes of the enabled windows.
func (e DayEntry) Minutes() int {
	total := 0
	if e.IncludeMorning {
		total += timecalc.WindowMinutes(e.MorningStart, e.MorningEnd)
	}
	if e.IncludeAfternoon {
		total += timecalc.WindowMinutes(e.AfternoonStart, e.AfternoonEnd)
	}
	return total
}

// Clone returns a deep copy of e.
func (e DayEntry) Clone() DayEntry {
	out := e
	out.DisputeSubmittedAt = cloneTime(e.DisputeSubmittedAt)
	out.SubmittedAt = cloneTime(e.SubmittedAt)
	out.ReviewedAt = cloneTime(e.ReviewedAt)
	if e.ClaimHistory != nil {
		out.ClaimHistory = slices.Clone(e.ClaimHistory)
	}
	return out
}

// Decided reports whether the entry belongs in the archive rather than the
// agent's working list.
func (e DayEntry) Decided() bool {
	return e.ReviewStatus.Decided() || e.Status == StatusRejected
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AgentPeriodState is the local cache unit: one agent's entries for one month.
type AgentPeriodState struct {
	Period        string     `json:"period"`
	Status        Status     `json:"status"`
	RejectionNote string     `json:"rejectionNote,omitempty"`
	Entries       []DayEntry `json:"entries"`

	// PendingPush holds the ids whose latest local change has not reached
	// the remote store yet.
	PendingPush []string `json:"pendingPush,omitempty"`

	// PendingRemove holds the ids deleted locally whose remote copy still
	// has to be removed.
	PendingRemove []string `json:"pendingRemove,omitempty"`
}

// NewPeriodState returns the empty Draft state for period.
func NewPeriodState(period string) AgentPeriodState {
	return AgentPeriodState{Period: period, Status: StatusDraft, Entries: []DayEntry{}}
}

// Clone returns a deep copy of s.
func (s AgentPeriodState) Clone() AgentPeriodState {
	out := s
	out.Entries = make([]DayEntry, len(s.Entries))
	for i, e := range s.Entries {
		out.Entries[i] = e.Clone()
	}
	out.PendingPush = slices.Clone(s.PendingPush)
	out.PendingRemove = slices.Clone(s.PendingRemove)
	return out
}

// Find returns the index of the entry with id, or -1.
func (s AgentPeriodState) Find(id string) int {
	return slices.IndexFunc(s.Entries, func(e DayEntry) bool { return e.ID == id })
}

// CoarseStatus returns the worst status across entries, treating a rejected
// review as Rejected. An empty period is Draft.
func CoarseStatus(entries []DayEntry) Status {
	worst := StatusApproved
	if len(entries) == 0 {
		return StatusDraft
	}
	for _, e := range entries {
		st := e.Status
		switch {
		case e.ReviewStatus == ReviewRejected:
			st = StatusRejected
		case e.ReviewStatus == ReviewApproved:
			st = StatusApproved
		}
		if st.rank() < worst.rank() {
			worst = st
		}
	}
	if worst == "" {
		return StatusDraft
	}
	return worst
}

// SupervisorRow is a DayEntry annotated with its remote provenance.
type SupervisorRow struct {
	DayEntry
	DocID      string `json:"docId"`
	UserID     string `json:"userId"`
	AgentName  string `json:"agentName"`
	AgentEmail string `json:"agentEmail,omitempty"`
	Mission    string `json:"mission,omitempty"`
	Region     string `json:"region,omitempty"`
	Period     string `json:"period,omitempty"`
}

// Clone returns a deep copy of r.
func (r SupervisorRow) Clone() SupervisorRow {
	out := r
	out.DayEntry = r.DayEntry.Clone()
	return out
}
