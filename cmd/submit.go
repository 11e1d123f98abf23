package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

var (
	submitPeriod     string
	submitSupervisor string
	undoPeriod       string
	undoYes          bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [id...]",
	Short: "Send draft days for review",
	Long: `Submit sends the given draft days, or every draft of the period when no id
is given, to the supervisor for review. Rejected days are resubmitted by id
or after "tst revert".`,
	RunE: runSubmit,
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Withdraw the period's submitted days that are not decided yet",
	Args:  cobra.NoArgs,
	RunE:  runUndo,
}

var revertCmd = &cobra.Command{
	Use:   "revert <id>",
	Short: "Bring a rejected day back to the working list as a draft",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevert,
}

func init() {
	submitCmd.Flags().StringVar(&submitPeriod, "period", "", "Period YYYY-MM (default: current month)")
	submitCmd.Flags().StringVar(&submitSupervisor, "supervisor", "", "Reviewer (default: agent.supervisor from config)")
	undoCmd.Flags().StringVar(&undoPeriod, "period", "", "Period YYYY-MM (default: current month)")
	undoCmd.Flags().BoolVarP(&undoYes, "yes", "y", false, "Do not ask for confirmation")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	period, err := resolvePeriod(submitPeriod, time.Now())
	if err != nil {
		usage(err.Error())
	}
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.Submit(ctx, period, submitSupervisor, args...)
	check(err)
	if len(out.Entries) == 0 {
		fmt.Printf("Nothing to submit for %s.\n", timecalc.PeriodLabel(period))
		return nil
	}
	fmt.Printf("Submitted %d day(s):\n", len(out.Entries))
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}

func runUndo(cmd *cobra.Command, args []string) error {
	period, err := resolvePeriod(undoPeriod, time.Now())
	if err != nil {
		usage(err.Error())
	}
	if !undoYes && !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Withdraw the submission of %s?", timecalc.PeriodLabel(period))) {
		fmt.Println("Aborted.")
		return nil
	}
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.Undo(ctx, period)
	check(err)
	fmt.Printf("Back to draft (%d):\n", len(out.Entries))
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}

func runRevert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.Revert(ctx, args[0])
	check(err)
	fmt.Println("Reverted to draft:")
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}
