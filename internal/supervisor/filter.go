package supervisor

import (
	"cmp"
	"slices"
	"strings"

	"github.com/Tiliavir/telesales-timesheet/internal/gateway"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

// View selects which review states a supervisor is looking at.
type View string

const (
	ViewPending View = "pending"
	ViewHistory View = "history"
)

// ParseView accepts "pending" or "history" in any casing.
func ParseView(s string) (View, bool) {
	switch View(strings.ToLower(strings.TrimSpace(s))) {
	case ViewPending:
		return ViewPending, true
	case ViewHistory:
		return ViewHistory, true
	}
	return "", false
}

// Statuses returns the review states the view covers.
func (v View) Statuses() []model.ReviewStatus {
	if v == ViewHistory {
		return []model.ReviewStatus{model.ReviewApproved, model.ReviewRejected}
	}
	return []model.ReviewStatus{model.ReviewPending}
}

// Filter narrows a view. Zero fields do not filter.
type Filter struct {
	Mission string
	Period  string
	// Agent matches a user id or, ignoring case, an agent name.
	Agent           string
	IncludeRejected bool
}

// MissionVisible reports whether a row belongs to mission. Rows without a
// mission are visible to every mission.
func MissionVisible(r model.SupervisorRow, mission string) bool {
	return mission == "" || r.Mission == "" || r.Mission == mission
}

// Match runs the filter pipeline on one row.
func (f Filter) Match(v View, r model.SupervisorRow) bool {
	if !MissionVisible(r, f.Mission) {
		return false
	}
	if !gateway.InPeriod(r, f.Period) {
		return false
	}
	if f.Agent != "" && r.UserID != f.Agent && !strings.EqualFold(r.AgentName, f.Agent) {
		return false
	}
	if v == ViewHistory && !f.IncludeRejected && r.ReviewStatus == model.ReviewRejected {
		return false
	}
	return true
}

// Apply returns the rows that pass f, keeping their order.
func (f Filter) Apply(v View, rows []model.SupervisorRow) []model.SupervisorRow {
	out := make([]model.SupervisorRow, 0, len(rows))
	for _, r := range rows {
		if f.Match(v, r) {
			out = append(out, r)
		}
	}
	return out
}

// Union de-duplicates rows by document id across buckets and orders them by
// day descending, then document id. When buckets disagree the most recently
// updated copy wins.
func Union(buckets ...[]model.SupervisorRow) []model.SupervisorRow {
	byID := map[string]model.SupervisorRow{}
	for _, rows := range buckets {
		for _, r := range rows {
			if cur, ok := byID[r.DocID]; ok && !r.UpdatedAt.After(cur.UpdatedAt) {
				continue
			}
			byID[r.DocID] = r
		}
	}
	out := make([]model.SupervisorRow, 0, len(byID))
	for _, r := range byID {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b model.SupervisorRow) int {
		return cmp.Or(cmp.Compare(b.Day, a.Day), cmp.Compare(a.DocID, b.DocID))
	})
	return out
}
