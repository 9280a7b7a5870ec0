package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/34n0/ramptest/internal/harness"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// FileReport is the per-file slice of the validate output.
type FileReport struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario-file>...",
		Short: "Validate scenario files without running them",
		Long: `Validate scenario YAML files against the scenario schema.

Exit codes:
  0 - All files valid
  1 - One or more files invalid
  2 - Command error

Examples:
  ramptest validate scenarios/*.yaml
  ramptest validate scenarios/bounce.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(opts, args, cmd)
		},
	}

	return cmd
}

func validateFiles(opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	styles := NewStyles(opts.NoColor)

	reports := make([]FileReport, 0, len(files))
	invalid := 0
	for _, file := range files {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("file not found: %s", file))
		}

		report := FileReport{File: file, Valid: true}
		if _, err := harness.LoadScenario(file); err != nil {
			report.Valid = false
			report.Error = err.Error()
			invalid++
		}
		reports = append(reports, report)

		if opts.Format != "json" {
			if report.Valid {
				fmt.Fprintf(w, "%s %s\n", styles.Pass.Render("✓"), filepath.Base(file))
			} else {
				fmt.Fprintf(w, "%s %s\n", styles.Fail.Render("✗"), filepath.Base(file))
				fmt.Fprintf(w, "  %s\n", report.Error)
			}
		}
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: reports}
		if invalid > 0 {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    "E_INVALID_SCENARIO",
				Message: fmt.Sprintf("%d file(s) invalid", invalid),
			}
		}
		if err := WriteJSON(w, response); err != nil {
			return err
		}
	}

	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d file(s) invalid", invalid))
	}
	return nil
}
