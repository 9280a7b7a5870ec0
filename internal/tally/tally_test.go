package tally

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTally(t *testing.T, dir, user, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, user), []byte(content), 0o644))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	insp := NewInspector(dir)

	assert.False(t, insp.Exists("user"))

	writeTally(t, dir, "user", "[Fails]\ncount=1\n")
	assert.True(t, insp.Exists("user"))
	assert.False(t, insp.Exists("other"))
}

func TestExistsMissingDir(t *testing.T) {
	insp := NewInspector(filepath.Join(t.TempDir(), "never-created"))
	assert.False(t, insp.Exists("user"))
}

func TestCount(t *testing.T) {
	dir := t.TempDir()
	insp := NewInspector(dir)

	writeTally(t, dir, "user", "[Fails]\ncount=4\ninstant=2024-05-01T12:00:00Z\n")

	count, err := insp.Count("user")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestCountErrors(t *testing.T) {
	dir := t.TempDir()
	insp := NewInspector(dir)

	_, err := insp.Count("absent")
	assert.Error(t, err)

	writeTally(t, dir, "nosection", "[Other]\nx=1\n")
	_, err = insp.Count("nosection")
	assert.Error(t, err)

	writeTally(t, dir, "garbage", "[Fails]\ncount=many\n")
	_, err = insp.Count("garbage")
	assert.Error(t, err)
}

func TestUnlockHint(t *testing.T) {
	dir := t.TempDir()
	insp := NewInspector(dir)

	writeTally(t, dir, "locked", "[Fails]\ncount=7\nunlock_instant=2024-05-01T12:30:00Z\n")
	unlock, err := insp.UnlockHint("locked")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), unlock.UTC())

	writeTally(t, dir, "free", "[Fails]\ncount=1\n")
	unlock, err = insp.UnlockHint("free")
	require.NoError(t, err)
	assert.True(t, unlock.IsZero())
}

func TestClearRemovesAllFiles(t *testing.T) {
	dir := t.TempDir()
	insp := NewInspector(dir)

	writeTally(t, dir, "alice", "[Fails]\ncount=1\n")
	writeTally(t, dir, "bob", "[Fails]\ncount=2\n")

	require.NoError(t, insp.Clear())
	assert.False(t, insp.Exists("alice"))
	assert.False(t, insp.Exists("bob"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClearSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	insp := NewInspector(dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	writeTally(t, dir, "user", "[Fails]\ncount=1\n")

	require.NoError(t, insp.Clear())
	assert.False(t, insp.Exists("user"))

	info, err := os.Stat(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestClearMissingDirIsNoOp(t *testing.T) {
	insp := NewInspector(filepath.Join(t.TempDir(), "never-created"))
	assert.NoError(t, insp.Clear())
}

func TestClearEmptyDirIsNoOp(t *testing.T) {
	insp := NewInspector(t.TempDir())
	assert.NoError(t, insp.Clear())
}

func TestClearSweepsPastFailures(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	insp := NewInspector(dir)

	// A subdirectory whose contents cannot be touched does not matter, but
	// making the whole dir read-only makes every unlink fail: the sweep
	// must still attempt all of them and report each failure.
	writeTally(t, dir, "alice", "[Fails]\ncount=1\n")
	writeTally(t, dir, "bob", "[Fails]\ncount=2\n")
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err := insp.Clear()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "bob")
}
