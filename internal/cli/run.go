package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/34n0/ramptest/internal/harness"
	"github.com/34n0/ramptest/internal/pamsvc"
	"github.com/34n0/ramptest/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	ConfDir    string
	Service    string
	TallyDir   string
	ModulePath string

	User      string
	Password  string
	FreeTries int

	ScenarioDir string
	Fake        bool
	JournalPath string
}

// ScenarioReport is the per-scenario slice of the run output.
type ScenarioReport struct {
	Name          string   `json:"name"`
	Pass          bool     `json:"pass"`
	Attempts      int      `json:"attempts"`
	Errors        []string `json:"errors,omitempty"`
	CleanupErrors []string `json:"cleanup_errors,omitempty"`
}

// SuiteReport is the overall run output.
type SuiteReport struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run authentication scenarios against the module under test",
		Long: `Run the built-in scenario suite (or a directory of scenario files)
against a rate-limiting PAM module and verify its tally side effects.

The harness writes a throwaway PAM service file per scenario, drives the
authentication phases through it, inspects the tally directory, and cleans
both up afterwards. Running against the real stack needs a binary built with
-tags pam and privileges to write under the config root.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (bad paths, PAM transport unavailable, etc.)

Examples:
  ramptest run --user tester --password secret
  ramptest run --scenarios ./scenarios --fake
  ramptest run --fake --journal results.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfDir, "conf-dir", "/etc/pam.d", "service-config root")
	cmd.Flags().StringVar(&opts.Service, "service", "test-authramp", "PAM service name owned by the harness")
	cmd.Flags().StringVar(&opts.TallyDir, "tally-dir", "/var/run/authramp", "module state directory")
	cmd.Flags().StringVar(&opts.ModulePath, "module", harness.DefaultModulePath, "module reference for generated policies")
	cmd.Flags().StringVar(&opts.User, "user", "user", "account to authenticate")
	cmd.Flags().StringVar(&opts.Password, "password", "", "correct password for the account")
	cmd.Flags().IntVar(&opts.FreeTries, "free-tries", 6, "module lockout threshold, sizes the bounce scenario")
	cmd.Flags().StringVar(&opts.ScenarioDir, "scenarios", "", "directory of scenario files (default: built-in suite)")
	cmd.Flags().BoolVar(&opts.Fake, "fake", false, "run against the in-memory module instead of libpam")
	cmd.Flags().StringVar(&opts.JournalPath, "journal", "", "SQLite journal to record attempts in")

	return cmd
}

func runScenarios(opts *RunOptions, cmd *cobra.Command) error {
	logger := opts.Logger()

	var svc pamsvc.Service
	if opts.Fake {
		svc = pamsvc.NewFake(pamsvc.FakeConfig{
			ConfDir:   opts.ConfDir,
			TallyDir:  opts.TallyDir,
			FreeTries: opts.FreeTries,
			Users:     map[string]string{opts.User: opts.Password},
		})
	} else {
		svc = pamsvc.NewLibPAM()
	}

	var scenarios []harness.Scenario
	if opts.ScenarioDir != "" {
		if _, err := os.Stat(opts.ScenarioDir); os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenario directory not found: %s", opts.ScenarioDir))
		}
		var err error
		scenarios, err = harness.LoadDir(opts.ScenarioDir)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "failed to load scenarios", Err: err}
		}
		if len(scenarios) == 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files in %s", opts.ScenarioDir))
		}
	} else {
		scenarios = harness.BuiltinSuite(opts.User, opts.Password, opts.FreeTries)
	}

	var journal *store.Store
	if opts.JournalPath != "" {
		var err error
		journal, err = store.Open(opts.JournalPath)
		if err != nil {
			return &ExitError{Code: ExitCommandError, Message: "failed to open journal", Err: err}
		}
		defer journal.Close()
	}

	runner, err := harness.NewRunner(harness.Config{
		ConfDir:    opts.ConfDir,
		Service:    opts.Service,
		TallyDir:   opts.TallyDir,
		ModulePath: opts.ModulePath,
		PAM:        svc,
		Journal:    journal,
		Logger:     logger,
	})
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "failed to build runner", Err: err}
	}

	suite := "builtin"
	if opts.ScenarioDir != "" {
		suite = opts.ScenarioDir
	}
	results, err := runner.RunSuite(cmd.Context(), suite, scenarios)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "suite failed to start", Err: err}
	}

	report := SuiteReport{Total: len(results)}
	for _, res := range results {
		report.Scenarios = append(report.Scenarios, ScenarioReport{
			Name:          res.Scenario,
			Pass:          res.Pass,
			Attempts:      len(res.Attempts),
			Errors:        res.Errors,
			CleanupErrors: res.CleanupErrors,
		})
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, report)
	}
	return outputRunText(opts, cmd, report)
}

func outputRunJSON(cmd *cobra.Command, report SuiteReport) error {
	response := CLIResponse{Status: "ok", Data: report}
	if report.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", report.Failed),
		}
	}

	if err := WriteJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", report.Failed))
	}
	return nil
}

func outputRunText(opts *RunOptions, cmd *cobra.Command, report SuiteReport) error {
	w := cmd.OutOrStdout()
	styles := NewStyles(opts.NoColor)

	for _, sc := range report.Scenarios {
		if sc.Pass {
			fmt.Fprintf(w, "%s %s\n", styles.Pass.Render("✓"), sc.Name)
		} else {
			fmt.Fprintf(w, "%s %s\n", styles.Fail.Render("✗"), sc.Name)
			for _, e := range sc.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		for _, e := range sc.CleanupErrors {
			fmt.Fprintf(w, "  %s\n", styles.Dim.Render("cleanup: "+e))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenario Summary: %d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", report.Failed))
	}
	fmt.Fprintf(w, "%s All scenarios passed\n", styles.Pass.Render("✓"))
	return nil
}
