package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

var (
	dupTo     string
	dayRmYes  bool
	dayChange changeFlags
)

var dayCmd = &cobra.Command{
	Use:   "day",
	Short: "Declare and maintain working days",
}

var dayAddCmd = &cobra.Command{
	Use:   "add [YYYY-MM-DD|today|yesterday]",
	Short: "Declare a day with the default morning and afternoon windows",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDayAdd,
}

var dayDupCmd = &cobra.Command{
	Use:   "dup <id>",
	Short: "Copy a day to the next working day, or to --to",
	Args:  cobra.ExactArgs(1),
	RunE:  runDayDup,
}

var dayEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change the windows, operation or comment of a draft day",
	Args:  cobra.ExactArgs(1),
	RunE:  runDayEdit,
}

var dayRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a draft day",
	Args:  cobra.ExactArgs(1),
	RunE:  runDayRm,
}

func init() {
	dayDupCmd.Flags().StringVar(&dupTo, "to", "", "Target day (YYYY-MM-DD); default is the next working day")
	dayChange.register(dayEditCmd, false)
	dayRmCmd.Flags().BoolVarP(&dayRmYes, "yes", "y", false, "Do not ask for confirmation")

	dayCmd.AddCommand(dayAddCmd, dayDupCmd, dayEditCmd, dayRmCmd)
}

func runDayAdd(cmd *cobra.Command, args []string) error {
	var arg string
	if len(args) == 1 {
		arg = args[0]
	}
	day, err := resolveDay(arg, time.Now())
	if err != nil {
		usage(err.Error())
	}

	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.AddDay(ctx, day)
	check(err)
	if out.Created {
		fmt.Println("Added:")
	} else {
		fmt.Println("Already declared:")
	}
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}

func runDayDup(cmd *cobra.Command, args []string) error {
	var to string
	if dupTo != "" {
		d, err := resolveDay(dupTo, time.Now())
		if err != nil {
			usage(err.Error())
		}
		to = d
	}
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.Duplicate(ctx, args[0], to)
	check(err)
	fmt.Println("Duplicated:")
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}

func runDayEdit(cmd *cobra.Command, args []string) error {
	c, err := dayChange.changes(cmd)
	if err != nil {
		usage(err.Error())
	}
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.Edit(ctx, args[0], c)
	check(err)
	fmt.Println("Updated:")
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}

func runDayRm(cmd *cobra.Command, args []string) error {
	if !dayRmYes && !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Delete entry %s?", args[0])) {
		fmt.Println("Aborted.")
		return nil
	}
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.Delete(ctx, args[0])
	check(err)
	fmt.Printf("Deleted %s.\n", args[0])
	warn(out.Warning)
	return nil
}

// printEntries prints one line per entry.
func printEntries(entries []model.DayEntry) {
	if len(entries) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, e := range entries {
		fmt.Println("  " + entryLine(e))
	}
}

func entryLine(e model.DayEntry) string {
	line := fmt.Sprintf("%s  %-11s  %-11s  %s  %-13s  %s  %s",
		timecalc.FormatDayFR(e.Day),
		windowText(e.IncludeMorning, e.MorningStart, e.MorningEnd),
		windowText(e.IncludeAfternoon, e.AfternoonStart, e.AfternoonEnd),
		timecalc.FormatHHMM(e.Minutes()),
		e.Project,
		badge(e.Status, e.ReviewStatus),
		styleLabel.Render(e.ID),
	)
	if e.RejectionNote != "" {
		line += "\n      " + styleBad.Render("Motif: ") + e.RejectionNote
	}
	if e.HasDispute || e.ClaimStatus != model.ClaimNone {
		line += "\n      " + styleWarn.Render("Réclamation: ") + claimText(e)
	}
	return line
}

func windowText(include bool, start, end string) string {
	if !include {
		return "-"
	}
	return start + "-" + end
}

func claimText(e model.DayEntry) string {
	if e.HasDispute {
		return "ouverte – " + e.DisputeNote
	}
	text := string(e.ClaimStatus)
	if e.ClaimAdminComment != "" {
		text += " – " + e.ClaimAdminComment
	}
	return text
}
