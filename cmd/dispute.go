package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var disputeNote string

var disputeCmd = &cobra.Command{
	Use:   "dispute",
	Short: "Contest an approved day",
}

var disputeOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Open a claim on an approved day",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisputeOpen,
}

var disputeCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Withdraw the open claim of a day",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisputeCancel,
}

func init() {
	disputeOpenCmd.Flags().StringVar(&disputeNote, "note", "", "What is wrong with the approved day (required)")
	_ = disputeOpenCmd.MarkFlagRequired("note")

	disputeCmd.AddCommand(disputeOpenCmd, disputeCancelCmd)
}

func runDisputeOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.OpenDispute(ctx, args[0], disputeNote)
	check(err)
	fmt.Println("Claim opened:")
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}

func runDisputeCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, remote := loadEnv().service(ctx)
	defer remote.Close()

	out, err := svc.CancelDispute(ctx, args[0])
	check(err)
	fmt.Println("Claim withdrawn:")
	printEntries(out.Entries)
	warn(out.Warning)
	return nil
}
