// Package driver performs one phase-gated authentication attempt through a
// PAM service: open, authenticate, account check, close. It never retries;
// retry counting belongs to the module under test and must stay observable
// from the outside.
package driver

import (
	"log/slog"

	"github.com/34n0/ramptest/internal/pamsvc"
)

// Phase identifies how far an attempt got before it stopped.
type Phase int

const (
	// OpenFailed: the session could not be opened at all.
	OpenFailed Phase = iota
	// AuthFailed: credentials were rejected (or the attempt was bounced).
	AuthFailed
	// AcctCheckFailed: credentials passed but the account phase refused.
	AcctCheckFailed
	// Success: all three phases passed.
	Success
)

// String returns the phase name for logs and reports.
func (p Phase) String() string {
	switch p {
	case OpenFailed:
		return "open_failed"
	case AuthFailed:
		return "auth_failed"
	case AcctCheckFailed:
		return "acct_check_failed"
	case Success:
		return "success"
	default:
		return "unknown"
	}
}

// Outcome is the result of one attempt. Err is the raw status of the phase
// that stopped the attempt, preserved for diagnostics; CloseErr records a
// session-close failure, which is orthogonal to the business outcome and
// never overwrites it.
type Outcome struct {
	Phase    Phase
	Err      error
	CloseErr error
}

// Success reports whether all phases passed.
func (o Outcome) Success() bool {
	return o.Phase == Success
}

// Driver runs single authentication attempts against a service.
type Driver struct {
	svc    pamsvc.Service
	logger *slog.Logger
}

// New creates a driver. logger must not be nil; pass a discard handler to
// silence it.
func New(svc pamsvc.Service, logger *slog.Logger) *Driver {
	return &Driver{svc: svc, logger: logger}
}

// Run performs exactly one attempt for user under the named service.
// Each phase runs only if the previous one succeeded; the session is closed
// on every path once it has been opened.
func (d *Driver) Run(service, user string, conv pamsvc.Conversation) Outcome {
	sess, err := d.svc.Open(service, user, conv)
	if err != nil {
		d.logger.Error("session open failed", "service", service, "user", user, "err", err)
		return Outcome{Phase: OpenFailed, Err: err}
	}

	out := Outcome{Phase: Success}

	if err := sess.Authenticate(); err != nil {
		out = Outcome{Phase: AuthFailed, Err: err}
	} else if err := sess.AcctMgmt(); err != nil {
		out = Outcome{Phase: AcctCheckFailed, Err: err}
	}

	if err := sess.Close(out.Err); err != nil {
		// Reportable defect, not fatal: the attempt's verdict stands.
		d.logger.Error("session close failed", "service", service, "user", user, "err", err)
		out.CloseErr = err
	}

	d.logger.Info("attempt finished",
		"service", service,
		"user", user,
		"phase", out.Phase.String(),
	)
	return out
}
