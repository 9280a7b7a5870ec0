package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/34n0/ramptest/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	JournalPath string
	RunID       string
}

// RunSummary is the per-run slice of the report output.
type RunSummary struct {
	ID        string `json:"id"`
	Suite     string `json:"suite"`
	StartedAt string `json:"started_at"`
}

// AttemptSummary is the per-attempt slice of the report output.
type AttemptSummary struct {
	Scenario string `json:"scenario"`
	Seq      int    `json:"seq"`
	Phase    string `json:"phase"`
	Status   string `json:"status,omitempty"`
	Pass     bool   `json:"pass"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect recorded harness runs",
		Long: `Read the results journal written by "run --journal".

Without --run, lists recorded runs newest first. With --run, lists every
authentication attempt of that run in execution order.

Examples:
  ramptest report --journal results.db
  ramptest report --journal results.db --run 6df1…
  ramptest report --journal results.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.JournalPath, "journal", "", "SQLite journal path (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show attempts for this run id")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.JournalPath); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.JournalPath))
	}

	journal, err := store.Open(opts.JournalPath)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to open journal", Err: err}
	}
	defer journal.Close()

	if opts.RunID != "" {
		return reportAttempts(opts, cmd, journal)
	}
	return reportRuns(opts, cmd, journal)
}

func reportRuns(opts *ReportOptions, cmd *cobra.Command, journal *store.Store) error {
	runs, err := journal.ListRuns(cmd.Context())
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to read runs", Err: err}
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, RunSummary{
			ID:        run.ID,
			Suite:     run.Suite,
			StartedAt: run.StartedAt.Format(time.RFC3339),
		})
	}

	if opts.Format == "json" {
		return WriteJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: summaries})
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %s  %s\n", s.ID, s.StartedAt, s.Suite)
	}
	return nil
}

func reportAttempts(opts *ReportOptions, cmd *cobra.Command, journal *store.Store) error {
	attempts, err := journal.ReadAttempts(cmd.Context(), opts.RunID)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to read attempts", Err: err}
	}

	summaries := make([]AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		summaries = append(summaries, AttemptSummary{
			Scenario: a.Scenario,
			Seq:      a.Seq,
			Phase:    a.Phase,
			Status:   a.Status,
			Pass:     a.Pass,
		})
	}

	if opts.Format == "json" {
		return WriteJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: summaries})
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintf(w, "No attempts recorded for run %s.\n", opts.RunID)
		return nil
	}
	styles := NewStyles(opts.NoColor)
	for _, a := range summaries {
		mark := styles.Pass.Render("✓")
		if !a.Pass {
			mark = styles.Fail.Render("✗")
		}
		line := fmt.Sprintf("%s %s #%d %s", mark, a.Scenario, a.Seq, a.Phase)
		if a.Status != "" {
			line += " (" + a.Status + ")"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
