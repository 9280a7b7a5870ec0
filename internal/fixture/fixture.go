// Package fixture materializes PAM service files: it renders an ordered
// policy directive list and writes it under the service-config root so the
// authentication stack loads it for the next attempt.
package fixture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// MaxPathLen is the hard budget for a rendered service path. Names that
// would overflow it are rejected up front rather than truncated silently.
const MaxPathLen = 128

// Phase names a PAM management group.
type Phase string

const (
	PhaseAuth    Phase = "auth"
	PhaseAccount Phase = "account"
)

// Control is the PAM control qualifier for a directive.
type Control string

const (
	ControlRequired   Control = "required"
	ControlSufficient Control = "sufficient"
	// ControlDie aborts the stack on failure, the shape lockout modules
	// use for their authfail hook.
	ControlDie Control = "[default=die]"
)

// Directive is one line of a PAM service file.
type Directive struct {
	Phase      Phase
	Control    Control
	ModulePath string
	Args       []string
}

// Policy is an ordered list of directives; order is semantically relevant
// to the stack, so it is preserved exactly.
type Policy []Directive

// Render produces the service file content. Columns are whitespace-aligned
// for readability; the padding carries no meaning to the stack.
func (p Policy) Render() string {
	var b strings.Builder
	for _, d := range p {
		fmt.Fprintf(&b, "%-12s%-18s%s", d.Phase, d.Control, d.ModulePath)
		for _, arg := range d.Args {
			b.WriteByte(' ')
			b.WriteString(arg)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Writer owns one service file under a fixed config root. One writer maps to
// exactly one path; writing again overwrites the previous content.
type Writer struct {
	dir     string
	service string
}

// NewWriter creates a writer for the named service. The rendered path must
// fit MaxPathLen.
func NewWriter(dir, service string) (*Writer, error) {
	if service == "" {
		return nil, errors.New("fixture: service name must not be empty")
	}
	path := filepath.Join(dir, service)
	if len(path) > MaxPathLen {
		return nil, fmt.Errorf("fixture: service path %q exceeds %d bytes", path, MaxPathLen)
	}
	return &Writer{dir: dir, service: service}, nil
}

// Path returns the service file path this writer owns.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, w.service)
}

// Write renders the policy and creates or truncates the service file with
// the exact rendered bytes.
func (w *Writer) Write(p Policy) error {
	if len(p) == 0 {
		return errors.New("fixture: refusing to write empty policy")
	}
	return w.WriteContent(p.Render())
}

// WriteContent writes raw content to the service file, byte for byte.
func (w *Writer) WriteContent(content string) error {
	if content == "" {
		return errors.New("fixture: refusing to write empty content")
	}
	if err := unix.Access(w.dir, unix.W_OK); err != nil {
		return fmt.Errorf("fixture: config dir %q not writable: %w", w.dir, err)
	}
	if err := os.WriteFile(w.Path(), []byte(content), 0o644); err != nil {
		return fmt.Errorf("fixture: write %q: %w", w.Path(), err)
	}
	return nil
}

// Remove deletes the service file. An already-absent file is not an error;
// existed reports whether anything was actually removed so callers can
// surface the status instead of swallowing it.
func (w *Writer) Remove() (existed bool, err error) {
	if err := os.Remove(w.Path()); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("fixture: remove %q: %w", w.Path(), err)
	}
	return true, nil
}
