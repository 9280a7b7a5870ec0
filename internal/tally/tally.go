// Package tally inspects and resets the module under test's persisted
// lockout state: one counter file per user under a fixed directory. The
// harness never creates these files; it only observes them and sweeps them
// away between scenarios.
package tally

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"
)

// Inspector reads and clears a tally directory.
type Inspector struct {
	dir string
}

// NewInspector creates an inspector over dir. The directory does not have to
// exist yet; the module under test creates it on the first tallied failure.
func NewInspector(dir string) *Inspector {
	return &Inspector{dir: dir}
}

// Dir returns the tally directory path.
func (i *Inspector) Dir() string {
	return i.dir
}

// Path returns the tally file path for user.
func (i *Inspector) Path(user string) string {
	return filepath.Join(i.dir, user)
}

// Exists reports whether a tally file exists for user.
func (i *Inspector) Exists(user string) bool {
	info, err := os.Stat(i.Path(user))
	return err == nil && info.Mode().IsRegular()
}

// Count returns the recorded failure count for user. The file content is
// owned by the module under test; only the [Fails] count key is read, for
// diagnostic assertions.
func (i *Inspector) Count(user string) (int, error) {
	f, err := ini.Load(i.Path(user))
	if err != nil {
		return 0, fmt.Errorf("tally: load %q: %w", i.Path(user), err)
	}

	key, err := f.Section("Fails").GetKey("count")
	if err != nil {
		return 0, fmt.Errorf("tally: %q has no Fails/count: %w", i.Path(user), err)
	}
	count, err := key.Int()
	if err != nil {
		return 0, fmt.Errorf("tally: %q has non-numeric count: %w", i.Path(user), err)
	}
	return count, nil
}

// UnlockHint returns the recorded unlock instant for user, if any. The zero
// time with a nil error means the account is not ramping.
func (i *Inspector) UnlockHint(user string) (time.Time, error) {
	f, err := ini.Load(i.Path(user))
	if err != nil {
		return time.Time{}, fmt.Errorf("tally: load %q: %w", i.Path(user), err)
	}

	raw := f.Section("Fails").Key("unlock_instant").String()
	if raw == "" {
		return time.Time{}, nil
	}
	unlock, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("tally: %q has bad unlock_instant: %w", i.Path(user), err)
	}
	return unlock, nil
}

// Clear removes every regular file in the tally directory. It is a
// best-effort sweep: one failed deletion does not stop the remaining ones,
// and all failures are reported together. A missing directory is a benign
// no-op since the module may not have tallied anything yet.
func (i *Inspector) Clear() error {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("tally: read dir %q: %w", i.dir, err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(i.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("tally: remove %q: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
