package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/supervisor"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
)

var (
	reviewArea     string
	reviewPeriod   string
	reviewAgent    string
	reviewHistory  bool
	reviewRejected bool

	approveAll      bool
	rejectNote      string
	reviewRmYes     bool
	resolveComment  string
	resolveRejected bool
	reviewChange    changeFlags
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Supervisor review of submitted days",
	Long: `Review works on the remote store only. The pending view holds days waiting
for a decision; --history switches to approved days (and rejected ones with
--rejected). --area scopes the view to the mission of an operational area;
days without a mission are visible in every area.`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rows of the current view",
	Args:  cobra.NoArgs,
	RunE:  runReviewList,
}

var reviewWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the current view live",
	Args:  cobra.NoArgs,
	RunE:  runReviewWatch,
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count rows per status and sum days and hours per agent",
	Args:  cobra.NoArgs,
	RunE:  runReviewStats,
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve [docId...]",
	Short: "Approve pending days",
	RunE:  runReviewApprove,
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <docId>",
	Short: "Reject a pending day with a note for the agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewReject,
}

var reviewEditCmd = &cobra.Command{
	Use:   "edit <docId>",
	Short: "Correct the fields of a day",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewEdit,
}

var reviewRmCmd = &cobra.Command{
	Use:   "rm <docId...>",
	Short: "Delete days from the remote store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReviewRm,
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <docId>",
	Short: "Close the open claim of a day",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewResolve,
}

func init() {
	pf := reviewCmd.PersistentFlags()
	pf.StringVar(&reviewArea, "area", "", "Operational area (or mission code) to scope the view to")
	pf.StringVar(&reviewPeriod, "period", "", "Period YYYY-MM (default: all)")
	pf.StringVar(&reviewAgent, "agent", "", "Agent id or name")
	pf.BoolVar(&reviewHistory, "history", false, "Show decided days instead of pending ones")
	pf.BoolVar(&reviewRejected, "rejected", false, "Include rejected days in the history view")

	reviewApproveCmd.Flags().BoolVar(&approveAll, "all", false, "Approve every pending row of the current filter")
	reviewRejectCmd.Flags().StringVar(&rejectNote, "note", "", "Reason shown to the agent (required)")
	_ = reviewRejectCmd.MarkFlagRequired("note")
	reviewChange.register(reviewEditCmd, true)
	reviewRmCmd.Flags().BoolVarP(&reviewRmYes, "yes", "y", false, "Do not ask for confirmation")
	reviewResolveCmd.Flags().StringVar(&resolveComment, "comment", "", "Answer recorded on the claim")
	reviewResolveCmd.Flags().BoolVar(&resolveRejected, "reject-claim", false, "Dismiss the claim instead of accepting it")

	reviewCmd.AddCommand(reviewListCmd, reviewWatchCmd, reviewStatsCmd, reviewApproveCmd,
		reviewRejectCmd, reviewEditCmd, reviewRmCmd, reviewResolveCmd, reviewExportCmd)
}

// reviewView returns the view selected by --history.
func reviewView() supervisor.View {
	if reviewHistory {
		return supervisor.ViewHistory
	}
	return supervisor.ViewPending
}

// reviewFilter builds the filter from the persistent review flags. Area names
// are routed through the config; unknown names are taken as mission codes.
func reviewFilter(e env) supervisor.Filter {
	f := supervisor.Filter{Agent: reviewAgent, IncludeRejected: reviewRejected}
	if reviewPeriod != "" {
		if !timecalc.ValidPeriod(reviewPeriod) {
			usage(fmt.Sprintf("invalid period %q (expected YYYY-MM)", reviewPeriod))
		}
		f.Period = reviewPeriod
	}
	if reviewArea != "" {
		f.Mission = reviewArea
		if a, ok := e.cfg.Area(reviewArea); ok {
			f.Mission = a.Mission
		}
	}
	return f
}

// openView opens an aggregator on view. The returned func releases it.
func openView(ctx context.Context, e env, view supervisor.View, onChange func(supervisor.Snapshot)) (*supervisor.Aggregator, func()) {
	gw, remote := e.gateway(ctx)
	agg := supervisor.New(gw, e.log, onChange)
	if err := agg.Open(ctx, view); err != nil {
		remote.Close()
		fail(err)
	}
	return agg, func() {
		agg.Close()
		remote.Close()
	}
}

// loadView opens view, waits for its first complete snapshot and reports
// bucket errors as warnings.
func loadView(ctx context.Context, e env, view supervisor.View) (*supervisor.Aggregator, func()) {
	agg, closeFn := openView(ctx, e, view, nil)
	snap, err := agg.Wait(ctx)
	if err != nil {
		closeFn()
		fail(err)
	}
	warnBuckets(snap)
	return agg, closeFn
}

func warnBuckets(snap supervisor.Snapshot) {
	keys := make([]string, 0, len(snap.Errors))
	for k := range snap.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		warn(fmt.Errorf("bucket %s: %w", k, snap.Errors[k]))
	}
}

func runReviewList(cmd *cobra.Command, args []string) error {
	e := loadEnv()
	agg, closeFn := loadView(cmd.Context(), e, reviewView())
	defer closeFn()

	printRows(reviewView(), agg.Rows(reviewFilter(e)))
	return nil
}

func runReviewWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e := loadEnv()
	f := reviewFilter(e)
	view := reviewView()

	var mu sync.Mutex
	_, closeFn := openView(ctx, e, view, func(snap supervisor.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Println(styleLabel.Render(time.Now().Format("15:04:05")))
		warnBuckets(snap)
		printRows(view, f.Apply(view, snap.Rows))
	})
	defer closeFn()

	fmt.Fprintln(os.Stderr, "Watching; press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

func runReviewStats(cmd *cobra.Command, args []string) error {
	e := loadEnv()
	agg, closeFn := loadView(cmd.Context(), e, reviewView())
	defer closeFn()

	st := agg.Stats(reviewFilter(e))
	fmt.Println(styleHeader.Render(fmt.Sprintf("%d row(s), %s", st.Rows, timecalc.FormatDuration(st.TotalMinutes))))
	for _, s := range []model.ReviewStatus{model.ReviewPending, model.ReviewApproved, model.ReviewRejected} {
		if n := st.ByStatus[s]; n > 0 {
			fmt.Printf("  %s %d\n", badge(model.StatusDraft, s), n)
		}
	}
	for _, a := range st.Agents {
		fmt.Printf("  %-24s %3d day(s)  %s\n", agentLabel(a.UserID, a.Name), a.Days, timecalc.FormatDuration(a.Minutes))
	}
	return nil
}

func runReviewApprove(cmd *cobra.Command, args []string) error {
	if approveAll == (len(args) > 0) {
		usage("pass document ids or --all")
	}
	ctx := cmd.Context()
	e := loadEnv()

	var (
		agg *supervisor.Aggregator
		ids = args
	)
	if approveAll {
		var closeFn func()
		agg, closeFn = loadView(ctx, e, supervisor.ViewPending)
		defer closeFn()
		ids = supervisor.DocIDs(agg.Rows(reviewFilter(e)))
	} else {
		gw, remote := e.gateway(ctx)
		defer remote.Close()
		agg = supervisor.New(gw, e.log, nil)
	}
	res := agg.ApproveAll(ctx, ids, e.reviewer())
	fmt.Printf("Approved %d of %d.\n", len(res.Done), len(ids))
	if res.Err != nil {
		fail(res.Err)
	}
	return nil
}

func runReviewReject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e := loadEnv()
	gw, remote := e.gateway(ctx)
	defer remote.Close()

	row, err := gw.Reject(ctx, args[0], rejectNote, e.reviewer())
	check(err)
	fmt.Println("Rejected:")
	printRows(supervisor.ViewHistory, []model.SupervisorRow{row})
	return nil
}

func runReviewEdit(cmd *cobra.Command, args []string) error {
	c, err := reviewChange.changes(cmd)
	if err != nil {
		usage(err.Error())
	}
	ctx := cmd.Context()
	gw, remote := loadEnv().gateway(ctx)
	defer remote.Close()

	row, err := gw.Edit(ctx, args[0], c)
	check(err)
	fmt.Println("Updated:")
	printRows(reviewView(), []model.SupervisorRow{row})
	return nil
}

func runReviewRm(cmd *cobra.Command, args []string) error {
	if !reviewRmYes && !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Delete %d document(s) from the remote store?", len(args))) {
		fmt.Println("Aborted.")
		return nil
	}
	ctx := cmd.Context()
	e := loadEnv()
	gw, remote := e.gateway(ctx)
	defer remote.Close()

	res := supervisor.New(gw, e.log, nil).DeleteAll(ctx, args)
	fmt.Printf("Deleted %d of %d.\n", len(res.Done), len(args))
	if res.Err != nil {
		fail(res.Err)
	}
	return nil
}

func runReviewResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e := loadEnv()
	gw, remote := e.gateway(ctx)
	defer remote.Close()

	row, err := gw.ResolveClaim(ctx, args[0], resolveComment, e.reviewer(), !resolveRejected)
	check(err)
	fmt.Println("Claim closed:")
	printRows(supervisor.ViewHistory, []model.SupervisorRow{row})
	return nil
}

// printRows prints supervisor rows, one agent line above each entry line.
func printRows(view supervisor.View, rows []model.SupervisorRow) {
	title := "Pending"
	if view == supervisor.ViewHistory {
		title = "History"
	}
	fmt.Println(styleHeader.Render(fmt.Sprintf("%s (%d)", title, len(rows))))
	for _, r := range rows {
		fmt.Printf("  %s  %s\n", styleValue.Render(agentLabel(r.UserID, r.AgentName)), styleLabel.Render(routing(r)))
		e := r.DayEntry
		e.ID = r.DocID
		fmt.Println("    " + entryLine(e))
	}
}

func agentLabel(id, name string) string {
	if name == "" {
		return id
	}
	return name + " (" + id + ")"
}

func routing(r model.SupervisorRow) string {
	if r.Mission == "" {
		return "sans mission"
	}
	if r.Region == "" {
		return r.Mission
	}
	return r.Mission + " / " + r.Region
}
