package model

import "strings"

// Status is the agent-controlled lifecycle state of a DayEntry.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusSubmitted Status = "Submitted"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
)

var knownStatuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected}

// ParseStatus normalizes any casing of a known status to its canonical
// spelling. Unknown values are returned as-is with ok=false.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, k := range knownStatuses {
		if strings.EqualFold(s, string(k)) {
			return k, true
		}
	}
	return Status(s), false
}

// UnmarshalText normalizes legacy spellings while decoding.
func (s *Status) UnmarshalText(b []byte) error {
	*s, _ = ParseStatus(string(b))
	return nil
}

// rank orders statuses from worst to best for the coarse period status.
func (s Status) rank() int {
	switch s {
	case StatusRejected:
		return 0
	case StatusDraft, "":
		return 1
	case StatusSubmitted:
		return 2
	case StatusApproved:
		return 3
	}
	return 1
}

// ReviewStatus is the supervisor-controlled outcome of a DayEntry.
type ReviewStatus string

const (
	ReviewNone     ReviewStatus = ""
	ReviewPending  ReviewStatus = "Pending"
	ReviewApproved ReviewStatus = "Approved"
	ReviewRejected ReviewStatus = "Rejected"
)

var knownReviews = []ReviewStatus{ReviewPending, ReviewApproved, ReviewRejected}

// ParseReviewStatus normalizes any casing of a known review status to its
// canonical spelling. Unknown values are returned as-is with ok=false.
func ParseReviewStatus(s string) (ReviewStatus, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ReviewNone, true
	}
	for _, k := range knownReviews {
		if strings.EqualFold(s, string(k)) {
			return k, true
		}
	}
	return ReviewStatus(s), false
}

// UnmarshalText normalizes legacy spellings while decoding.
func (r *ReviewStatus) UnmarshalText(b []byte) error {
	*r, _ = ParseReviewStatus(string(b))
	return nil
}

// Spellings returns every raw spelling the remote store may hold for r:
// the canonical one written today followed by the legacy lower-case one.
func (r ReviewStatus) Spellings() []string {
	if r == ReviewNone {
		return nil
	}
	canonical := string(r)
	legacy := strings.ToLower(canonical)
	if legacy == canonical {
		return []string{canonical}
	}
	return []string{canonical, legacy}
}

// Decided reports whether a supervisor has ruled on the entry.
func (r ReviewStatus) Decided() bool {
	return r == ReviewApproved || r == ReviewRejected
}

// ClaimStatus is the state of the dispute sub-workflow.
type ClaimStatus string

const (
	ClaimNone      ClaimStatus = ""
	ClaimOpen      ClaimStatus = "Open"
	ClaimResolved  ClaimStatus = "Resolved"
	ClaimDismissed ClaimStatus = "Dismissed"
)

// UnmarshalText normalizes legacy spellings while decoding.
func (c *ClaimStatus) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	for _, k := range []ClaimStatus{ClaimOpen, ClaimResolved, ClaimDismissed} {
		if strings.EqualFold(s, string(k)) {
			*c = k
			return nil
		}
	}
	*c = ClaimStatus(s)
	return nil
}

// StatusLabel returns the French label shown to agents and supervisors for
// the combined lifecycle and review state of an entry.
func StatusLabel(s Status, r ReviewStatus) string {
	switch r {
	case ReviewApproved:
		return "Validé"
	case ReviewRejected:
		return "Refusé"
	case ReviewPending:
		return "En attente"
	}
	switch s {
	case StatusSubmitted:
		return "Soumis"
	case StatusApproved:
		return "Validé"
	case StatusRejected:
		return "Refusé"
	case StatusDraft, "":
		return "Brouillon"
	}
	return string(s)
}
