package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/34n0/ramptest/internal/driver"
	"github.com/34n0/ramptest/internal/fixture"
	"github.com/34n0/ramptest/internal/pamsvc"
	"github.com/34n0/ramptest/internal/store"
	"github.com/34n0/ramptest/internal/tally"
)

// DefaultModulePath is the module reference written into generated policies.
const DefaultModulePath = "libpam_authramp.so"

// Config assembles a Runner. ConfDir, Service, and TallyDir are the fixed
// paths shared by every scenario; owning them in one place (instead of
// process-wide globals) is what keeps scenarios isolated.
type Config struct {
	// ConfDir is the service-config root (e.g. /etc/pam.d).
	ConfDir string

	// Service is the PAM service name the harness owns.
	Service string

	// TallyDir is the module's state directory (e.g. /var/run/authramp).
	TallyDir string

	// ModulePath overrides DefaultModulePath in generated policies.
	ModulePath string

	// PAM is the authentication service implementation.
	PAM pamsvc.Service

	// Journal, when non-nil, records every attempt.
	Journal *store.Store

	// Logger must not be nil.
	Logger *slog.Logger
}

// Runner executes scenarios sequentially. Scenarios share one configuration
// path, one tally directory, and one authentication service, so execution is
// strictly serial; correctness depends on ordering and on cleanup being
// unconditional, not on locking.
type Runner struct {
	fixture    *fixture.Writer
	tally      *tally.Inspector
	driver     *driver.Driver
	journal    *store.Store
	logger     *slog.Logger
	service    string
	modulePath string
}

// NewRunner validates cfg and builds a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.PAM == nil {
		return nil, errors.New("harness: Config.PAM is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("harness: Config.Logger is required")
	}
	w, err := fixture.NewWriter(cfg.ConfDir, cfg.Service)
	if err != nil {
		return nil, err
	}
	modulePath := cfg.ModulePath
	if modulePath == "" {
		modulePath = DefaultModulePath
	}
	return &Runner{
		fixture:    w,
		tally:      tally.NewInspector(cfg.TallyDir),
		driver:     driver.New(cfg.PAM, cfg.Logger),
		journal:    cfg.Journal,
		logger:     cfg.Logger,
		service:    cfg.Service,
		modulePath: modulePath,
	}, nil
}

// RunSuite executes scenarios in order and returns one result each. When a
// journal is configured, a run row is created and every attempt recorded
// under it. A failing scenario never stops the suite.
func (r *Runner) RunSuite(ctx context.Context, suite string, scenarios []Scenario) ([]*Result, error) {
	var run store.Run
	if r.journal != nil {
		var err error
		run, err = r.journal.BeginRun(ctx, suite)
		if err != nil {
			return nil, fmt.Errorf("harness: begin journal run: %w", err)
		}
	}

	results := make([]*Result, 0, len(scenarios))
	for _, sc := range scenarios {
		results = append(results, r.run(ctx, sc, run.ID))
	}
	return results, nil
}

// Run executes a single scenario without journaling a suite run.
func (r *Runner) Run(ctx context.Context, sc Scenario) *Result {
	return r.run(ctx, sc, "")
}

func (r *Runner) run(ctx context.Context, sc Scenario, runID string) (res *Result) {
	res = NewResult(sc.Name)
	r.logger.Info("scenario starting", "scenario", sc.Name, "user", sc.User)

	// Scoped release: runs after expectations are evaluated, on every exit
	// path, so a failed assertion never leaks fixture or tally state.
	defer r.cleanup(res)

	if err := r.fixture.Write(sc.policy(r.modulePath)); err != nil {
		res.AddError("write configuration: %v", err)
		return res
	}

	var finalOut driver.Outcome
	var finalConv *pamsvc.FixedConversation

	seq := 0
	attempt := func(password string) driver.Outcome {
		seq++
		conv := pamsvc.NewFixedConversation(password)
		out := r.driver.Run(r.service, sc.User, conv)

		status := ""
		if out.Err != nil {
			status = out.Err.Error()
		}
		res.AddAttempt(seq, out.Phase.String(), status)
		if out.CloseErr != nil {
			res.AddCleanupError("attempt %d: close session: %v", seq, out.CloseErr)
		}
		r.journalAttempt(ctx, runID, sc.Name, seq, out)

		finalOut = out
		finalConv = conv
		return out
	}

	for i := 0; i < sc.attemptCount(); i++ {
		attempt(sc.Password)
	}
	if sc.FinalPassword != "" {
		attempt(sc.FinalPassword)
	}

	r.evaluate(res, sc, finalOut, finalConv)
	return res
}

// evaluate checks the scenario's expectations against the final attempt and
// the tally state as it is right now, before cleanup.
func (r *Runner) evaluate(res *Result, sc Scenario, out driver.Outcome, conv *pamsvc.FixedConversation) {
	wantSuccess := sc.Expect.Outcome == "success"
	if out.Success() != wantSuccess {
		res.AddError("expected outcome %s, got phase %s (%v)", sc.Expect.Outcome, out.Phase, out.Err)
	}

	if sc.Expect.TallyExists != nil {
		got := r.tally.Exists(sc.User)
		if got != *sc.Expect.TallyExists {
			res.AddError("expected tally existence %v for user %q, got %v", *sc.Expect.TallyExists, sc.User, got)
		}
	}

	if sc.Expect.TallyCount != nil {
		count, err := r.tally.Count(sc.User)
		if err != nil {
			res.AddError("read tally count: %v", err)
		} else if count != *sc.Expect.TallyCount {
			res.AddError("expected tally count %d for user %q, got %d", *sc.Expect.TallyCount, sc.User, count)
		}
	}

	if sc.Expect.LockedMessage != "" {
		if !containsMessage(conv.Messages(), sc.Expect.LockedMessage) {
			res.AddError("conversation log does not contain %q", sc.Expect.LockedMessage)
		}
	}
}

// cleanup removes the scenario's configuration and sweeps the tally
// directory. A genuine removal failure fails the scenario (the next one
// would run under a stale policy); an already-absent configuration and a
// partial tally sweep are surfaced without flipping the verdict.
func (r *Runner) cleanup(res *Result) {
	existed, err := r.fixture.Remove()
	switch {
	case err != nil:
		res.AddError("remove configuration: %v", err)
	case !existed:
		r.logger.Warn("configuration already absent at cleanup", "scenario", res.Scenario)
	}

	if err := r.tally.Clear(); err != nil {
		res.AddCleanupError("clear tally directory: %v", err)
		r.logger.Error("tally sweep incomplete, next scenario may start dirty",
			"scenario", res.Scenario, "err", err)
	}
}

// journalAttempt records the attempt when a journal run is active.
// Journal trouble is logged, never allowed to fail a scenario.
func (r *Runner) journalAttempt(ctx context.Context, runID, scenario string, seq int, out driver.Outcome) {
	if r.journal == nil || runID == "" {
		return
	}
	status := ""
	if out.Err != nil {
		status = out.Err.Error()
	}
	err := r.journal.WriteAttempt(ctx, store.Attempt{
		RunID:    runID,
		Scenario: scenario,
		Seq:      seq,
		Phase:    out.Phase.String(),
		Status:   status,
		Pass:     out.Success(),
	})
	if err != nil {
		r.logger.Error("journal write failed", "scenario", scenario, "seq", seq, "err", err)
	}
}

func containsMessage(messages []string, substr string) bool {
	for _, m := range messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
