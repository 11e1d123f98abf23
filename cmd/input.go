package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/telesales-timesheet/internal/dispute"
	"github.com/Tiliavir/telesales-timesheet/internal/docstore"
	"github.com/Tiliavir/telesales-timesheet/internal/gateway"
	"github.com/Tiliavir/telesales-timesheet/internal/lifecycle"
	"github.com/Tiliavir/telesales-timesheet/internal/model"
	"github.com/Tiliavir/telesales-timesheet/internal/storage"
	"github.com/Tiliavir/telesales-timesheet/internal/timecalc"
	"github.com/Tiliavir/telesales-timesheet/internal/timesheet"
)

// confirm asks a y/N question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "o", "oui":
		return true
	}
	return false
}

// resolvePeriod returns p, or the period containing now when p is empty.
func resolvePeriod(p string, now time.Time) (string, error) {
	if p == "" {
		return timecalc.CurrentPeriod(now), nil
	}
	if !timecalc.ValidPeriod(p) {
		return "", fmt.Errorf("invalid period %q (expected YYYY-MM)", p)
	}
	return p, nil
}

// resolveDay accepts "today", "yesterday" or a YYYY-MM-DD day. Empty means
// today.
func resolveDay(s string, now time.Time) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return timecalc.Today(now), nil
	case "yesterday":
		return timecalc.Today(now.AddDate(0, 0, -1)), nil
	}
	if _, err := timecalc.ParseDay(s); err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// parseWindow parses a half-day window flag: "HH:MM-HH:MM" enables the
// window with those bounds, "off" disables it.
func parseWindow(s string) (include bool, start, end string, err error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "off") {
		return false, "", "", nil
	}
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return false, "", "", fmt.Errorf("invalid window %q (expected HH:MM-HH:MM or off)", s)
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	for _, c := range []string{start, end} {
		if _, err := timecalc.ParseClock(c); err != nil {
			return false, "", "", err
		}
	}
	return true, start, end, nil
}

// changeFlags are the field flags shared by `day edit` and `review edit`.
type changeFlags struct {
	morning   string
	afternoon string
	project   string
	notes     string
	mission   string
	region    string
}

func (f *changeFlags) register(cmd *cobra.Command, routing bool) {
	cmd.Flags().StringVar(&f.morning, "morning", "", `Morning window "HH:MM-HH:MM" or "off"`)
	cmd.Flags().StringVar(&f.afternoon, "afternoon", "", `Afternoon window "HH:MM-HH:MM" or "off"`)
	cmd.Flags().StringVar(&f.project, "project", "", "Operation code: "+strings.Join(model.Projects, ", "))
	cmd.Flags().StringVar(&f.notes, "notes", "", "Free-text comment")
	if routing {
		cmd.Flags().StringVar(&f.mission, "mission", "", "Mission code")
		cmd.Flags().StringVar(&f.region, "region", "", "Region")
	}
}

// changes builds the edit from the flags the user actually set.
func (f *changeFlags) changes(cmd *cobra.Command) (gateway.Changes, error) {
	var c gateway.Changes
	set := cmd.Flags().Changed
	if set("morning") {
		inc, start, end, err := parseWindow(f.morning)
		if err != nil {
			return c, err
		}
		c.IncludeMorning = &inc
		if inc {
			c.MorningStart, c.MorningEnd = &start, &end
		}
	}
	if set("afternoon") {
		inc, start, end, err := parseWindow(f.afternoon)
		if err != nil {
			return c, err
		}
		c.IncludeAfternoon = &inc
		if inc {
			c.AfternoonStart, c.AfternoonEnd = &start, &end
		}
	}
	if set("project") {
		p := strings.ToUpper(strings.TrimSpace(f.project))
		c.Project = &p
	}
	if set("notes") {
		c.Notes = &f.notes
	}
	if set("mission") {
		c.Mission = &f.mission
	}
	if set("region") {
		c.Region = &f.region
	}
	if c.Empty() {
		return c, errors.New("nothing to change: pass at least one field flag")
	}
	return c, c.Validate()
}

// exitCode maps an operation error to the process exit code: 1 for refused
// transitions and unknown ids, 2 for storage and remote failures.
func exitCode(err error) int {
	for _, target := range []error{
		lifecycle.ErrNotDraft, lifecycle.ErrNotPending, lifecycle.ErrNotRejected,
		lifecycle.ErrNotSubmitted, lifecycle.ErrNotFound,
		dispute.ErrNotApproved, dispute.ErrDisputeOpen, dispute.ErrNoDispute, dispute.ErrEmptyNote,
		timesheet.ErrMissionChange, storage.ErrNotFound, docstore.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return 1
		}
	}
	return 2
}

// check exits when err is set, with the code exitCode picks.
func check(err error) {
	if err == nil {
		return
	}
	if exitCode(err) == 1 {
		usage(err.Error())
	}
	fail(err)
}
