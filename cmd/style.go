package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "30", Dark: "45"})
	styleLabel  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "242", Dark: "240"})
	styleValue  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "0", Dark: "15"})
	styleWarn   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "166", Dark: "214"})
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "40"})
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "203"})
	stylePend   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "220"})
)

// badge renders the French status label of an entry, coloured by outcome.
func badge(s model.Status, r model.ReviewStatus) string {
	label := model.StatusLabel(s, r)
	switch {
	case r == model.ReviewApproved || s == model.StatusApproved:
		return styleOK.Render(label)
	case r == model.ReviewRejected || s == model.StatusRejected:
		return styleBad.Render(label)
	case r == model.ReviewPending || s == model.StatusSubmitted:
		return stylePend.Render(label)
	}
	return styleLabel.Render(label)
}
