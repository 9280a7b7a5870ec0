package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHarnessArgs(t *testing.T, extra ...string) []string {
	t.Helper()

	confDir := t.TempDir()
	tallyDir := filepath.Join(t.TempDir(), "authramp")

	args := []string{
		"run", "--fake", "--no-color",
		"--conf-dir", confDir,
		"--tally-dir", tallyDir,
		"--user", "user",
		"--password", "secret",
		"--free-tries", "2",
	}
	return append(args, extra...)
}

func TestRunBuiltinSuitePasses(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Execute(runHarnessArgs(t), &out, &errOut)

	assert.Equal(t, ExitSuccess, code, "stderr: %s", errOut.String())
	assert.Contains(t, out.String(), "Scenario Summary: 5 passed, 0 failed, 5 total")
	assert.Contains(t, out.String(), "All scenarios passed")
}

func TestRunBuiltinSuiteGolden(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Execute(runHarnessArgs(t), &out, &errOut)
	require.Equal(t, ExitSuccess, code, "stderr: %s", errOut.String())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_suite", out.Bytes())
}

func TestRunJSONOutput(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Execute(runHarnessArgs(t, "--format", "json"), &out, &errOut)
	require.Equal(t, ExitSuccess, code, "stderr: %s", errOut.String())

	var resp struct {
		Status string      `json:"status"`
		Data   SuiteReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 5, resp.Data.Passed)
	assert.Equal(t, 0, resp.Data.Failed)
	assert.Len(t, resp.Data.Scenarios, 5)
}

func TestRunFailingScenarioExitsNonZero(t *testing.T) {
	scenarioDir := t.TempDir()
	// Expects success but submits the wrong password.
	doomed := `name: doomed
description: always fails
user: user
password: WRONG
expect:
  outcome: success
`
	require.NoError(t, os.WriteFile(filepath.Join(scenarioDir, "doomed.yaml"), []byte(doomed), 0o644))

	var out, errOut bytes.Buffer
	code := Execute(runHarnessArgs(t, "--scenarios", scenarioDir), &out, &errOut)

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out.String(), "✗ doomed")
	assert.Contains(t, out.String(), "Scenario Summary: 0 passed, 1 failed, 1 total")
}

func TestRunJournalRecordsRun(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "results.db")

	var out, errOut bytes.Buffer
	code := Execute(runHarnessArgs(t, "--journal", journalPath), &out, &errOut)
	require.Equal(t, ExitSuccess, code, "stderr: %s", errOut.String())

	out.Reset()
	code = Execute([]string{"report", "--journal", journalPath, "--no-color"}, &out, &errOut)
	require.Equal(t, ExitSuccess, code, "stderr: %s", errOut.String())
	assert.Contains(t, out.String(), "builtin")
}

func TestRunMissingScenarioDir(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Execute(runHarnessArgs(t, "--scenarios", filepath.Join(t.TempDir(), "nope")), &out, &errOut)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), "scenario directory not found")
}

func TestRunRealTransportUnavailable(t *testing.T) {
	// Without the pam build tag the libpam transport refuses to open, so
	// every scenario fails at the open phase but the harness still cleans
	// up and reports rather than crashing.
	confDir := t.TempDir()
	tallyDir := filepath.Join(t.TempDir(), "authramp")

	var out, errOut bytes.Buffer
	code := Execute([]string{
		"run", "--no-color",
		"--conf-dir", confDir,
		"--tally-dir", tallyDir,
		"--user", "user",
		"--password", "secret",
	}, &out, &errOut)

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out.String(), "Scenario Summary: 0 passed, 5 failed, 5 total")

	entries, err := os.ReadDir(confDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "service files must be cleaned up even when every scenario fails")
}

func TestRunInvalidFormat(t *testing.T) {
	var out, errOut bytes.Buffer

	code := Execute(runHarnessArgs(t, "--format", "xml"), &out, &errOut)
	assert.NotEqual(t, ExitSuccess, code)
	assert.Contains(t, errOut.String(), "invalid format")
}
