package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/34n0/ramptest/internal/pamsvc"
	"github.com/34n0/ramptest/internal/store"
	"github.com/34n0/ramptest/internal/tally"
	"github.com/34n0/ramptest/internal/testutil"
)

const (
	testService  = "test-authramp"
	testUser     = "user"
	testPassword = "secret"
	freeTries    = 2
)

type runnerFixture struct {
	runner   *Runner
	confDir  string
	tallyDir string
}

func newRunnerFixture(t *testing.T, journal *store.Store) *runnerFixture {
	t.Helper()

	confDir := t.TempDir()
	tallyDir := filepath.Join(t.TempDir(), "authramp")

	fake := pamsvc.NewFake(pamsvc.FakeConfig{
		ConfDir:   confDir,
		TallyDir:  tallyDir,
		FreeTries: freeTries,
		Users:     map[string]string{testUser: testPassword},
		Clock:     testutil.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	})

	r, err := NewRunner(Config{
		ConfDir:  confDir,
		Service:  testService,
		TallyDir: tallyDir,
		PAM:      fake,
		Journal:  journal,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return &runnerFixture{runner: r, confDir: confDir, tallyDir: tallyDir}
}

// assertClean checks the hermetic post-conditions: no service file, no tally
// entries for the test user.
func (f *runnerFixture) assertClean(t *testing.T) {
	t.Helper()

	_, err := os.Stat(filepath.Join(f.confDir, testService))
	assert.True(t, os.IsNotExist(err), "service configuration must be removed after the scenario")

	assert.False(t, tally.NewInspector(f.tallyDir).Exists(testUser),
		"tally for the test user must be cleared after the scenario")
}

func suite() map[string]Scenario {
	out := map[string]Scenario{}
	for _, sc := range BuiltinSuite(testUser, testPassword, freeTries) {
		out[sc.Name] = sc
	}
	return out
}

func TestRunValidAuth(t *testing.T) {
	f := newRunnerFixture(t, nil)

	res := f.runner.Run(context.Background(), suite()["valid-auth"])

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "success", res.Attempts[0].Phase)
	f.assertClean(t)
}

func TestRunInvalidAuth(t *testing.T) {
	f := newRunnerFixture(t, nil)

	res := f.runner.Run(context.Background(), suite()["invalid-auth"])

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "auth_failed", res.Attempts[0].Phase)
	assert.NotEmpty(t, res.Attempts[0].Status, "raw status must be preserved for diagnostics")
	f.assertClean(t)
}

func TestRunConsecutiveInvalid(t *testing.T) {
	f := newRunnerFixture(t, nil)

	res := f.runner.Run(context.Background(), suite()["consecutive-invalid"])

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Len(t, res.Attempts, 2)
	f.assertClean(t)
}

func TestRunValidAuthClearsTally(t *testing.T) {
	f := newRunnerFixture(t, nil)

	res := f.runner.Run(context.Background(), suite()["valid-auth-clears-tally"])

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "auth_failed", res.Attempts[0].Phase)
	assert.Equal(t, "success", res.Attempts[1].Phase)
	f.assertClean(t)
}

func TestRunBounceAuth(t *testing.T) {
	f := newRunnerFixture(t, nil)

	res := f.runner.Run(context.Background(), suite()["bounce-auth"])

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	// freeTries+1 failures plus the final correct-credential attempt.
	require.Len(t, res.Attempts, freeTries+2)
	last := res.Attempts[len(res.Attempts)-1]
	assert.Equal(t, "auth_failed", last.Phase,
		"correct credentials must still be rejected once the limiter tripped")
	f.assertClean(t)
}

func TestRunSuiteJournalsAttempts(t *testing.T) {
	journal, err := store.Open(":memory:")
	require.NoError(t, err)
	defer journal.Close()

	f := newRunnerFixture(t, journal)

	ctx := context.Background()
	results, err := f.runner.RunSuite(ctx, "builtin", BuiltinSuite(testUser, testPassword, freeTries))
	require.NoError(t, err)
	require.Len(t, results, 5)

	total := 0
	for _, res := range results {
		assert.True(t, res.Pass, "%s errors: %v", res.Scenario, res.Errors)
		total += len(res.Attempts)
	}

	runs, err := journal.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "builtin", runs[0].Suite)

	attempts, err := journal.ReadAttempts(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, attempts, total)
}

func TestRunFailedAssertionStillCleansUp(t *testing.T) {
	f := newRunnerFixture(t, nil)

	sc := Scenario{
		Name:     "doomed",
		User:     testUser,
		Password: "WRONG",
		Lockout:  true,
		Expect:   Expect{Outcome: "success"},
	}
	res := f.runner.Run(context.Background(), sc)

	assert.False(t, res.Pass)
	assert.NotEmpty(t, res.Errors)
	f.assertClean(t)
}

func TestRunScenariosAreHermetic(t *testing.T) {
	f := newRunnerFixture(t, nil)
	ctx := context.Background()

	// A scenario that leaves a big tally behind...
	angry := Scenario{
		Name:     "angry",
		User:     testUser,
		Password: "WRONG",
		Lockout:  true,
		Attempts: freeTries + 1,
		Expect:   Expect{Outcome: "failure"},
	}
	res := f.runner.Run(ctx, angry)
	require.True(t, res.Pass, "errors: %v", res.Errors)

	// ...must not lock the account for the next one.
	res = f.runner.Run(ctx, suite()["valid-auth"])
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	f.assertClean(t)
}

func TestRunUnwritableConfDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	f := newRunnerFixture(t, nil)
	require.NoError(t, os.Chmod(f.confDir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(f.confDir, 0o700) })

	res := f.runner.Run(context.Background(), suite()["valid-auth"])

	assert.False(t, res.Pass)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "write configuration")
}

func TestNewRunnerValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewRunner(Config{ConfDir: t.TempDir(), Service: "svc", TallyDir: t.TempDir(), Logger: logger})
	assert.Error(t, err, "PAM service is required")

	_, err = NewRunner(Config{ConfDir: t.TempDir(), Service: "svc", TallyDir: t.TempDir(), PAM: pamsvc.NewFake(pamsvc.FakeConfig{})})
	assert.Error(t, err, "logger is required")

	_, err = NewRunner(Config{ConfDir: t.TempDir(), Service: "", TallyDir: t.TempDir(), PAM: pamsvc.NewFake(pamsvc.FakeConfig{}), Logger: logger})
	assert.Error(t, err, "empty service name is rejected")
}
