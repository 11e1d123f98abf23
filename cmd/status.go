package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current period",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	now := time.Now()
	period := timecalc.CurrentPeriod(now)

	ctx := cmd.Context()
	e := loadEnv()
	svc, remote := e.service(ctx)
	defer remote.Close()

	st, err := svc.Sync(ctx, period)
	if st.Period == "" {
		check(err)
	}
	warn(err)

	agent := svc.Agent()
	counts := map[string]int{}
	var minutes int
	today := timecalc.Today(now)
	var todayEntry *model.DayEntry
	for i, en := range st.Entries {
		counts[model.StatusLabel(en.Status, en.ReviewStatus)]++
		minutes += en.Minutes()
		if en.Day == today {
			todayEntry = &st.Entries[i]
		}
	}

	row := func(label, value string) {
		fmt.Printf("  %s %s\n", styleLabel.Render(fmt.Sprintf("%-10s", label+":")), styleValue.Render(value))
	}
	fmt.Println(styleHeader.Render(timecalc.PeriodLabel(period)))
	row("Agent", agent.ID+" "+agent.Name)
	if agent.Mission != "" {
		row("Mission", agent.Mission+" / "+agent.Region)
	}
	fmt.Printf("  %s %s\n", styleLabel.Render(fmt.Sprintf("%-10s", "Status:")), badge(model.CoarseStatus(st.Entries), model.ReviewNone))
	if st.RejectionNote != "" {
		fmt.Printf("  %s %s\n", styleLabel.Render(fmt.Sprintf("%-10s", "Motif:")), styleBad.Render(st.RejectionNote))
	}
	row("Days", fmt.Sprintf("%d", len(st.Entries)))
	row("Total", timecalc.FormatDuration(minutes))
	for _, label := range []string{"Brouillon", "Soumis", "En attente", "Validé", "Refusé"} {
		if n := counts[label]; n > 0 {
			row(label, fmt.Sprintf("%d", n))
		}
	}
	if n := len(st.PendingPush) + len(st.PendingRemove); n > 0 {
		fmt.Println(styleWarn.Render(fmt.Sprintf("%d change(s) not yet sent; they are retried on the next sync.", n)))
	}
	if todayEntry == nil {
		fmt.Println("No entry for today. Run `tst day add` to declare it.")
	} else {
		fmt.Println("Today:")
		printEntries([]model.DayEntry{*todayEntry})
	}
	return nil
}
