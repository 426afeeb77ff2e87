package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testScenario = `name: cli-basic
source: cli-test
steps:
  - op: consume
    channels: [a, b]
    patterns: ["_", "_"]
    k: done
    expect: none
  - op: produce
    channel: a
    data: 1
    expect: none
  - op: produce
    channel: b
    data: 2
    expect: match
`

func writeScenario(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenario), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func runResultFromJSON(t *testing.T, out string) RunResult {
	t.Helper()
	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRunCommand_ExecutesScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := writeScenario(t, dir)
	db := filepath.Join(dir, "rspace.db")

	out, err := execute(t, "run", scenario, "--db", db, "--format", "json")
	require.NoError(t, err)

	result := runResultFromJSON(t, out)
	require.Equal(t, "cli-basic", result.Scenario)
	require.Equal(t, 3, result.Steps)
	require.Equal(t, 1, result.Matches)
	require.True(t, result.Pass)
	require.NotEmpty(t, result.Root)
}

func TestRunCommand_MissingScenario(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "rspace.db")

	_, err := execute(t, "run", filepath.Join(dir, "missing.yaml"), "--db", db)
	require.Error(t, err)
	require.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunThenReplay_Deterministic(t *testing.T) {
	dir := t.TempDir()
	scenario := writeScenario(t, dir)
	db := filepath.Join(dir, "rspace.db")

	out, err := execute(t, "run", scenario, "--db", db, "--format", "json")
	require.NoError(t, err)
	result := runResultFromJSON(t, out)

	out, err = execute(t, "replay", scenario, "--db", db, "--root", result.Root, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.True(t, resp.Data.Deterministic)
	require.Equal(t, result.Root, resp.Data.ReplayedRoot)
	require.Equal(t, 3, resp.Data.Events)
}

func TestReplayCommand_UnknownRoot(t *testing.T) {
	dir := t.TempDir()
	scenario := writeScenario(t, dir)
	db := filepath.Join(dir, "rspace.db")

	// Create the database without the root we ask for.
	_, err := execute(t, "run", scenario, "--db", db)
	require.NoError(t, err)

	bogus := "00000000000000000000000000000000000000000000000000000000000000ff"
	_, err = execute(t, "replay", scenario, "--db", db, "--root", bogus)
	require.Error(t, err)
	require.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspectCommand_ListsRoots(t *testing.T) {
	dir := t.TempDir()
	scenario := writeScenario(t, dir)
	db := filepath.Join(dir, "rspace.db")

	out, err := execute(t, "run", scenario, "--db", db, "--format", "json")
	require.NoError(t, err)
	result := runResultFromJSON(t, out)

	out, err = execute(t, "inspect", "--db", db)
	require.NoError(t, err)
	require.Contains(t, out, result.Root)

	out, err = execute(t, "inspect", "--db", db, "--root", result.Root)
	require.NoError(t, err)
	require.Contains(t, out, "events: 3")
}
