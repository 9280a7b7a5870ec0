package harness

import "fmt"

// AttemptRecord is one authentication attempt as seen by the runner.
type AttemptRecord struct {
	// Seq is the 1-based attempt number within the scenario.
	Seq int `json:"seq"`

	// Phase names how far the attempt got (driver.Phase.String()).
	Phase string `json:"phase"`

	// Status is the raw status message of the failing phase, empty on
	// success. Preserved verbatim for diagnostic reporting.
	Status string `json:"status,omitempty"`
}

// Result is the outcome of one scenario execution.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is the overall verdict against the scenario's expectations.
	Pass bool `json:"pass"`

	// Attempts lists every attempt in order.
	Attempts []AttemptRecord `json:"attempts"`

	// Errors are assertion and I/O failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// CleanupErrors are non-fatal defects found while releasing resources
	// (session close, tally sweep). They are reported but do not flip the
	// verdict: subsequent scenarios may start dirty, which is why they
	// still must be surfaced.
	CleanupErrors []string `json:"cleanup_errors,omitempty"`
}

// NewResult creates a passing result for the named scenario.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Attempts: []AttemptRecord{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// AddCleanupError records a non-fatal resource-release defect.
func (r *Result) AddCleanupError(format string, args ...any) {
	r.CleanupErrors = append(r.CleanupErrors, fmt.Sprintf(format, args...))
}

// AddAttempt appends an attempt record.
func (r *Result) AddAttempt(seq int, phase, status string) {
	r.Attempts = append(r.Attempts, AttemptRecord{Seq: seq, Phase: phase, Status: status})
}
