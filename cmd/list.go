package cmd

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/reconcile"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

var (
	listPeriod  string
	listArchive bool
	watchPeriod string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the days of a period",
	Long: `List shows the working list of a period: drafts, submitted days and
rejected days awaiting correction. --archive shows approved and rejected days
instead. The remote copy wins over the local cache.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the days of a period as supervisors review them",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	listCmd.Flags().StringVar(&listPeriod, "period", "", "Period YYYY-MM (default: current month)")
	listCmd.Flags().BoolVar(&listArchive, "archive", false, "Show decided days instead of the working list")
	watchCmd.Flags().StringVar(&watchPeriod, "period", "", "Period YYYY-MM (default: current month)")
}

func runList(cmd *cobra.Command, args []string) error {
	period, err := resolvePeriod(listPeriod, time.Now())
	if err != nil {
		usage(err.Error())
	}
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	lists, err := svc.List(ctx, period)
	if lists.Period == "" {
		check(err)
	}
	warn(err)

	fmt.Println(styleHeader.Render(timecalc.PeriodLabel(period)))
	if listArchive {
		printEntries(lists.Archive)
	} else {
		printEntries(lists.Working)
	}
	fmt.Printf("%s %s\n", styleLabel.Render("Total:"), styleValue.Render(timecalc.FormatDuration(lists.Minutes)))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	period, err := resolvePeriod(watchPeriod, time.Now())
	if err != nil {
		usage(err.Error())
	}
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	var mu sync.Mutex
	sub, err := svc.Watch(ctx, period, func(entries []model.DayEntry, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			warn(err)
			return
		}
		fmt.Printf("%s  %s\n", styleHeader.Render(timecalc.PeriodLabel(period)), styleLabel.Render(time.Now().Format("15:04:05")))
		printEntries(reconcile.WorkingList(entries))
	})
	check(err)
	defer sub.Cancel()

	fmt.Fprintln(os.Stderr, "Watching; press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}
