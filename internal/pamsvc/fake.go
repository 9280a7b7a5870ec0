package pamsvc

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/34n0/ramptest/internal/testutil"
)

// Authentication outcomes reported by the fake stack.
var (
	// ErrAuthFailed signals rejected credentials.
	ErrAuthFailed = errors.New("pamsvc: authentication failure")
	// ErrAccountLocked signals the rate limiter tripped and bounced the
	// attempt before credentials were even considered.
	ErrAccountLocked = errors.New("pamsvc: account locked")
)

// FakeConfig configures the in-memory stand-in for the module under test.
type FakeConfig struct {
	// ConfDir is where service files are looked up (the /etc/pam.d analog).
	ConfDir string

	// TallyDir is where per-user failure counters are persisted.
	TallyDir string

	// FreeTries is the number of failures tolerated before lockout.
	FreeTries int

	// BaseDelaySeconds is the delay applied to the first lockout.
	BaseDelaySeconds int

	// RampMultiplier scales the delay growth per additional failure.
	RampMultiplier int

	// Users maps user names to their correct passwords.
	Users map[string]string

	// Clock drives lockout timing. Defaults to the system clock.
	Clock testutil.Clock
}

// Fake emulates the observable contract of a rate-limiting PAM module:
// it honors the service file written by the fixture writer, persists per-user
// tally files in INI form, and bounces attempts once the failure count
// crosses FreeTries. It exists so the harness itself can be tested without
// libpam, root, or a real user database.
type Fake struct {
	cfg FakeConfig
}

// NewFake creates a fake service. Zero-valued knobs get the module's
// defaults (6 free tries, 30s base delay, multiplier 50).
func NewFake(cfg FakeConfig) *Fake {
	if cfg.FreeTries == 0 {
		cfg.FreeTries = 6
	}
	if cfg.BaseDelaySeconds == 0 {
		cfg.BaseDelaySeconds = 30
	}
	if cfg.RampMultiplier == 0 {
		cfg.RampMultiplier = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = testutil.SystemClock{}
	}
	return &Fake{cfg: cfg}
}

// Open loads the named service file and returns a session bound to it.
// A missing service file fails the open, like an unconfigured PAM service.
func (f *Fake) Open(service, user string, conv Conversation) (Session, error) {
	data, err := os.ReadFile(filepath.Join(f.cfg.ConfDir, service))
	if err != nil {
		return nil, fmt.Errorf("open service %q: %w", service, err)
	}
	return &fakeSession{
		fake:    f,
		user:    user,
		conv:    conv,
		tallied: policyTallies(string(data)),
	}, nil
}

// policyTallies reports whether the rendered policy carries the
// lockout-on-failure directive. Parsing only what the fake needs keeps the
// tally file format and directive grammar owned by their respective sides.
func policyTallies(policy string) bool {
	for _, line := range strings.Split(policy, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[0] != "auth" {
			continue
		}
		for _, arg := range fields[3:] {
			if arg == "authfail" {
				return true
			}
		}
	}
	return false
}

type fakeSession struct {
	fake    *Fake
	user    string
	conv    Conversation
	tallied bool
	closed  bool
}

func (s *fakeSession) Authenticate() error {
	cfg := s.fake.cfg

	count, unlock, err := s.readTally()
	if err != nil {
		return err
	}

	// Bounce before looking at credentials once the limiter has tripped.
	if s.tallied && count > cfg.FreeTries {
		now := cfg.Clock.Now()
		if now.Before(unlock) {
			remaining := unlock.Sub(now).Round(time.Second)
			msg := fmt.Sprintf("Account locked! Unlocking in %s.", remaining)
			if _, err := s.conv.Respond(ErrorMsg, msg); err != nil {
				return fmt.Errorf("conversation: %w", err)
			}
			return ErrAccountLocked
		}
	}

	answer, err := s.conv.Respond(PromptEchoOff, "Password: ")
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}

	if want, ok := cfg.Users[s.user]; ok && answer == want {
		return nil
	}

	if s.tallied {
		if err := s.writeTally(count + 1); err != nil {
			return err
		}
	}
	return ErrAuthFailed
}

// AcctMgmt clears the tally, matching the module's behavior of resetting the
// counter once an authenticated account passes the account phase.
func (s *fakeSession) AcctMgmt() error {
	if !s.tallied {
		return nil
	}
	return s.writeTally(0)
}

func (s *fakeSession) Close(last error) error {
	if s.closed {
		return errors.New("pamsvc: session already closed")
	}
	s.closed = true
	return nil
}

func (s *fakeSession) tallyPath() string {
	return filepath.Join(s.fake.cfg.TallyDir, s.user)
}

// readTally loads the persisted counter. A missing file means zero failures.
func (s *fakeSession) readTally() (count int, unlock time.Time, err error) {
	if _, err := os.Stat(s.tallyPath()); os.IsNotExist(err) {
		return 0, time.Time{}, nil
	}
	f, err := ini.Load(s.tallyPath())
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read tally for %q: %w", s.user, err)
	}

	fails := f.Section("Fails")
	count = fails.Key("count").MustInt(0)
	if raw := fails.Key("unlock_instant").String(); raw != "" {
		unlock, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("read tally for %q: bad unlock_instant: %w", s.user, err)
		}
	}
	return count, unlock, nil
}

// writeTally persists the counter in the same INI shape the real module uses,
// so the inspector's count assertions hold against either implementation.
func (s *fakeSession) writeTally(count int) error {
	cfg := s.fake.cfg
	if err := os.MkdirAll(cfg.TallyDir, 0o755); err != nil {
		return fmt.Errorf("create tally dir: %w", err)
	}

	now := cfg.Clock.Now()
	f := ini.Empty()
	fails := f.Section("Fails")
	fails.Key("count").SetValue(fmt.Sprintf("%d", count))
	fails.Key("instant").SetValue(now.Format(time.RFC3339))
	if count > cfg.FreeTries {
		unlock := now.Add(rampDelay(count, cfg))
		fails.Key("unlock_instant").SetValue(unlock.Format(time.RFC3339))
	}

	if err := f.SaveTo(s.tallyPath()); err != nil {
		return fmt.Errorf("write tally for %q: %w", s.user, err)
	}
	return nil
}

// rampDelay reproduces the module's published delay curve:
// multiplier * (fails - free) * ln(fails - free) + base.
func rampDelay(count int, cfg FakeConfig) time.Duration {
	over := float64(count - cfg.FreeTries)
	secs := float64(cfg.RampMultiplier)*over*math.Log(over) + float64(cfg.BaseDelaySeconds)
	return time.Duration(secs) * time.Second
}
