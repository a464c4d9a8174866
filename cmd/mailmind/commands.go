package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/coverage"
	"github.com/kiranshivaraju/mailmind/internal/dashboard"
	"github.com/kiranshivaraju/mailmind/internal/mailmind"
	"github.com/kiranshivaraju/mailmind/internal/poller"
	"github.com/kiranshivaraju/mailmind/internal/runs"
	"github.com/kiranshivaraju/mailmind/internal/session"
	"github.com/kiranshivaraju/mailmind/pkg/models"
	"github.com/spf13/cobra"
)

var errNotLoggedIn = errors.New(`not logged in; run "mailmind login <username>" first`)

func loginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Remember the username used for every other command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := session.NormalizeUsername(args[0])
			if err != nil {
				return errors.New("please enter a username")
			}
			if err := a.sessions.Save(cmd.Context(), username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
			return nil
		},
	}
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.sessions.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the stored username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, err := a.username(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), username)
			return nil
		},
	}
}

func accountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List connected mail accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, err := a.username(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := a.backend.ListAccounts(cmd.Context(), username)
			if err != nil && !mailmind.IsNotFound(err) {
				return userError(err, "Failed to load accounts")
			}
			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "No accounts connected")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROVIDER\tEMAIL\tSTATUS")
			for _, acct := range accounts {
				status := "active"
				if !acct.IsActive {
					status = "needs reconnect"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", acct.ID, acct.Provider, acct.Email, status)
			}
			return tw.Flush()
		},
	}
}

func analyzeCmd(a *app) *cobra.Command {
	var (
		accountID int64
		start     string
		end       string
		force     bool
		noWait    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Start an analysis over a date range and follow its progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			username, err := a.username(ctx)
			if err != nil {
				return err
			}
			startDate, err := time.Parse(coverage.DateLayout, start)
			if err != nil {
				return fmt.Errorf("--start must be YYYY-MM-DD, got %q", start)
			}
			endDate, err := time.Parse(coverage.DateLayout, end)
			if err != nil {
				return fmt.Errorf("--end must be YYYY-MM-DD, got %q", end)
			}
			if endDate.Before(startDate) {
				return errors.New("--end must not be before --start")
			}
			accountID, err = a.resolveAccount(ctx, username, accountID)
			if err != nil {
				return err
			}

			ref, err := a.backend.StartAnalysis(ctx, models.StartAnalysisRequest{
				Username:        username,
				AccountID:       accountID,
				StartDate:       models.NewTimestamp(startDate),
				EndDate:         models.NewTimestamp(endDate),
				ForceReanalysis: force,
			})
			if err != nil {
				return userError(err, "Failed to start analysis")
			}
			msg := fmt.Sprintf("Analysis started! Run ID: %d", ref.RunID)
			if force {
				msg += " (re-analyzing existing ranges)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			if noWait {
				return nil
			}
			return a.follow(ctx, cmd.OutOrStdout(), username, accountID, ref.RunID)
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id (default is the first account)")
	cmd.Flags().StringVar(&start, "start", "", "first day to analyze, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day to analyze, YYYY-MM-DD")
	cmd.Flags().BoolVar(&force, "force", false, "re-analyze emails that were already processed")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the run is started")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	return cmd
}

func retryCmd(a *app) *cobra.Command {
	var (
		accountID int64
		noWait    bool
	)

	cmd := &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Retry a failed run and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			username, err := a.username(ctx)
			if err != nil {
				return err
			}
			ref, err := a.backend.RetryRun(ctx, username, runID)
			if err != nil {
				return userError(err, "Failed to retry analysis")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Analysis retry started! Run ID: %d\n", ref.RunID)
			if noWait {
				return nil
			}
			return a.follow(ctx, cmd.OutOrStdout(), username, accountID, ref.RunID)
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account of the run, used to diagnose failures")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the retry is started")

	return cmd
}

func stopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Ask the backend to cancel a running analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			username, err := a.username(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.backend.StopRun(cmd.Context(), username, runID)
			if err != nil {
				return userError(err, "Failed to stop analysis")
			}
			msg := res.Message
			if msg == "" {
				msg = dashboard.MsgAnalysisStopped
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func runsCmd(a *app) *cobra.Command {
	var (
		accountID int64
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show analysis run history, with failure streaks collapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			username, err := a.username(ctx)
			if err != nil {
				return err
			}
			accountID, err = a.resolveAccount(ctx, username, accountID)
			if err != nil {
				return err
			}
			page, err := a.backend.ListRuns(ctx, mailmind.RunsQuery{
				Username:  username,
				AccountID: accountID,
				Limit:     limit,
				Offset:    offset,
			})
			if err != nil {
				return userError(err, "Failed to load analysis runs")
			}

			out := cmd.OutOrStdout()
			entries := runs.Group(page.Runs)
			if len(entries) == 0 {
				fmt.Fprintln(out, "No analysis runs yet")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			if page.HasMore {
				fmt.Fprintf(out, "... %d runs in total; use --offset %d for more\n", page.Total, offset+limit)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id (default is the first account)")
	cmd.Flags().IntVar(&limit, "limit", runs.DefaultPageSize, "runs per page")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	return cmd
}

func coverageCmd(a *app) *cobra.Command {
	var accountID int64

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Show which months have been analyzed and where the gaps are",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			username, err := a.username(ctx)
			if err != nil {
				return err
			}
			accountID, err = a.resolveAccount(ctx, username, accountID)
			if err != nil {
				return err
			}
			ranges, err := a.backend.ProcessedRanges(ctx, username, accountID)
			if err != nil {
				return userError(err, "Failed to load processed ranges")
			}
			gaps, err := a.backend.Gaps(ctx, username, accountID)
			if err != nil {
				a.logger.Debug("gap listing unavailable, deriving from ranges", "error", err)
				gaps = nil
			}
			printCoverage(cmd.OutOrStdout(), coverage.Build(ranges, gaps, a.now()))
			return nil
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account id (default is the first account)")

	return cmd
}

// --- helpers ---

func (a *app) username(ctx context.Context) (string, error) {
	username, err := a.sessions.Load(ctx)
	if errors.Is(err, session.ErrNoUsername) {
		return "", errNotLoggedIn
	}
	return username, err
}

// resolveAccount returns id, or the first account when id is zero.
func (a *app) resolveAccount(ctx context.Context, username string, id int64) (int64, error) {
	if id > 0 {
		return id, nil
	}
	accounts, err := a.backend.ListAccounts(ctx, username)
	if err != nil && !mailmind.IsNotFound(err) {
		return 0, userError(err, "Failed to load accounts")
	}
	if len(accounts) == 0 {
		return 0, errors.New("no email account connected; add one first")
	}
	return accounts[0].ID, nil
}

// follow polls runID until it settles, printing one line per progress event.
func (a *app) follow(ctx context.Context, out io.Writer, username string, accountID, runID int64) error {
	p := poller.New(a.backend, poller.Options{Interval: a.interval, Logger: a.logger})
	req := poller.Request{Username: username, AccountID: accountID, RunID: runID}
	if accountID > 0 {
		req.CheckAccount = func(ctx context.Context, id int64) bool {
			accounts, err := a.backend.ListAccounts(ctx, username)
			if err != nil {
				return true
			}
			for _, acct := range accounts {
				if acct.ID == id {
					return acct.IsActive
				}
			}
			return true
		}
	}

	sess := p.Track(ctx, req, poller.Callbacks{})
	for ev := range sess.Events() {
		fmt.Fprintln(out, progressLine(ev))
	}

	outcome := sess.Wait()
	switch outcome.Result {
	case models.OutcomeCompleted, models.OutcomeCancelled:
		fmt.Fprintln(out, outcome.Message)
		return nil
	case models.OutcomeStopped:
		fmt.Fprintf(out, "Stopped following run %d; it keeps running on the server\n", runID)
		return ctx.Err()
	default:
		return errors.New(outcome.Message)
	}
}

func progressLine(p models.Progress) string {
	if p.TotalEmails != nil && *p.TotalEmails > 0 {
		pct := p.EmailsProcessed * 100 / *p.TotalEmails
		return fmt.Sprintf("run %d %s: %d/%d emails (%d%%)", p.RunID, p.Status, p.EmailsProcessed, *p.TotalEmails, pct)
	}
	return fmt.Sprintf("run %d %s: %d emails", p.RunID, p.Status, p.EmailsProcessed)
}

func printEntry(out io.Writer, e runs.Entry) {
	start, end := e.Span()
	span := formatDay(start) + " .. " + formatDay(end)
	if e.Kind == runs.KindFailedGroup {
		ids := make([]string, len(e.Runs))
		for i, r := range e.Runs {
			ids[i] = "#" + strconv.FormatInt(r.ID, 10)
		}
		fmt.Fprintf(out, "failed x%d  %s  %s\n", len(e.Runs), span, strings.Join(ids, " "))
		return
	}
	r := e.Runs[0]
	line := fmt.Sprintf("#%-6d %-10s %s  %d emails", r.ID, r.Status, span, r.EmailsProcessed)
	if r.ErrorMessage != nil && *r.ErrorMessage != "" {
		line += "  (" + *r.ErrorMessage + ")"
	}
	fmt.Fprintln(out, line)
}

func printCoverage(out io.Writer, v coverage.View) {
	fmt.Fprintf(out, "%d emails over %d analyzed days\n", v.TotalEmails, v.TotalDays)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tCOVERAGE\tDAYS\tEMAILS")
	for _, m := range v.Months {
		fmt.Fprintf(tw, "%s %d\t%d%%\t%d/%d\t%d\n", m.Month, m.Year, m.Coverage, m.ProcessedDays, m.TotalDays, m.Emails)
	}
	tw.Flush()
	if len(v.Gaps) == 0 {
		fmt.Fprintln(out, "No gaps")
		return
	}
	fmt.Fprintln(out, "Gaps:")
	for _, g := range v.Gaps {
		fmt.Fprintf(out, "  %s to %s (%d days)\n", formatDay(g.StartDate), formatDay(g.EndDate), g.Days)
	}
}

func formatDay(t models.Timestamp) string {
	if t.IsZero() {
		return "?"
	}
	return t.Format(coverage.DateLayout)
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("run id must be a positive integer, got %q", s)
	}
	return id, nil
}

// userError prefers the backend's user-facing message.
func userError(err error, fallback string) error {
	return fmt.Errorf("%s: %w", mailmind.UserMessage(err, fallback), err)
}
