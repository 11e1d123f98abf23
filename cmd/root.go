package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "tst",
	Short: "Telesales timesheet – declare, submit and review working days",
	Long: `tst records telesales agents' working days, mirrors them to a shared
document store and lets supervisors review, approve and export them.
Local data lives as JSON files in ~/.tst/ (override with TST_HOME).`,
	SilenceUsage: true,
}

// Execute is the entry point called from main. Interrupts cancel the command
// context so watches and the server shut down cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(dayCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(disputeCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
}

// fail prints err and exits with the storage/remote exit code.
func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}

// usage prints msg and exits with the usage exit code.
func usage(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// warn reports a non-blocking problem, such as a failed remote mirror.
func warn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, styleWarn.Render("Warning:"), err)
	}
}
