package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drillflow/internal/provenance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `
plans:
  initial:
    instructions:
      - task: daily active users last 7 days
        metrics: [dau]
  drilldown:
    instructions:
      - task: daily active users by channel
decision:
  need_drilldown: true
  reasoning: channel skew
  suggested_dimensions: [channel]
results:
  - match: daily active users
    result:
      status: success
      artifact: {path: /tmp/dau.csv, row_count: 7, columns: [date, dau]}
report: "# Findings\n\n{{len .Results}} results"
`

type cliEnv struct {
	dir      string
	config   string
	storeDir string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(testScript), 0o600))

	storeDir := filepath.Join(dir, "tasks")
	cfg := "collaborators:\n  script: " + scriptPath + "\n" +
		"store:\n  dir: " + storeDir + "\n" +
		"observability:\n  logging:\n    level: error\n  metrics:\n    enabled: false\n"
	configPath := filepath.Join(dir, "drillflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))
	return cliEnv{dir: dir, config: configPath, storeDir: storeDir}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunCommandJSON(t *testing.T) {
	env := newCLIEnv(t)

	stdout, _, err := execute(t, "run", "--config", env.config, "--json", "--no-save", "daily active users last 7 days")
	require.NoError(t, err)

	var report struct {
		TaskID    string `json:"task_id"`
		Report    string `json:"report"`
		Drilldown bool   `json:"drilldown"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.Drilldown)
	assert.Contains(t, report.Report, "2 results")
	assert.NotEmpty(t, report.TaskID)

	entries, err := os.ReadDir(env.storeDir)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestRunPersistsAndTasksCommandsReadBack(t *testing.T) {
	env := newCLIEnv(t)

	stdout, stderr, err := execute(t, "run", "--config", env.config, "--plain", "--task-id", "task-cli", "daily active users last 7 days")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Findings")
	assert.Contains(t, stderr, "daily active users by channel")
	assert.Contains(t, stderr, "■ done")

	stdout, _, err = execute(t, "tasks", "list", "--config", env.config)
	require.NoError(t, err)
	assert.Contains(t, stdout, "task-cli")

	stdout, _, err = execute(t, "tasks", "show", "--config", env.config, "--plain", "task-cli")
	require.NoError(t, err)
	assert.Contains(t, stdout, "# Task intermediate results")

	_, _, err = execute(t, "tasks", "delete", "--config", env.config, "task-cli")
	require.NoError(t, err)

	_, _, err = execute(t, "tasks", "show", "--config", env.config, "task-cli")
	require.Error(t, err)
}

func TestRunRequiresScript(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "drillflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("observability:\n  metrics:\n    enabled: false\n"), 0o600))

	_, _, err := execute(t, "run", "--config", configPath, "--store-dir", filepath.Join(dir, "tasks"), "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no collaborator script")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "Version: "))
}

func TestFormatUpdate(t *testing.T) {
	line := formatUpdate(provenance.ProgressUpdate{
		Type: provenance.UpdateQueryCompleted,
		Content: map[string]any{
			"query_id":          "1.2",
			"instruction":       "count users",
			"status":            "failed",
			"served_from_cache": true,
			"error":             "timeout",
		},
	})
	assert.Contains(t, line, "1.2 count users")
	assert.Contains(t, line, "(cached)")
	assert.Contains(t, line, "timeout")

	assert.Empty(t, formatUpdate(provenance.ProgressUpdate{Type: "unknown"}))
}
