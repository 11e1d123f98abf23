package supervisor

import (
	"cmp"
	"slices"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

// AgentStats sums one agent's declared time.
type AgentStats struct {
	UserID  string
	Name    string
	Days    int
	Minutes int
}

// Stats summarises a filtered row set.
type Stats struct {
	Rows         int
	ByStatus     map[model.ReviewStatus]int
	Agents       []AgentStats
	TotalMinutes int
}

// ComputeStats counts rows per review state and sums days and minutes per
// agent. Agents are ordered by name, then id.
func ComputeStats(rows []model.SupervisorRow) Stats {
	st := Stats{Rows: len(rows), ByStatus: map[model.ReviewStatus]int{}}
	type acc struct {
		AgentStats
		days map[string]struct{}
	}
	agents := map[string]*acc{}
	for _, r := range rows {
		st.ByStatus[r.ReviewStatus]++
		m := r.Minutes()
		st.TotalMinutes += m
		a, ok := agents[r.UserID]
		if !ok {
			a = &acc{AgentStats: AgentStats{UserID: r.UserID, Name: r.AgentName}, days: map[string]struct{}{}}
			agents[r.UserID] = a
		}
		a.days[r.Day] = struct{}{}
		a.Minutes += m
	}
	for _, a := range agents {
		a.Days = len(a.days)
		st.Agents = append(st.Agents, a.AgentStats)
	}
	slices.SortFunc(st.Agents, func(x, y AgentStats) int {
		return cmp.Or(cmp.Compare(x.Name, y.Name), cmp.Compare(x.UserID, y.UserID))
	})
	return st
}
