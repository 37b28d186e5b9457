package ports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionText(t *testing.T) {
	assert.Equal(t, "dau last 7 days", Instruction{Task: "  dau last 7 days\n"}.Text())
	assert.Equal(t, `{"task":"","dimensions":["os"]}`, Instruction{Dimensions: []string{"os"}}.Text())
}

func TestInstructionEmpty(t *testing.T) {
	assert.True(t, Instruction{Task: "  "}.Empty())
	assert.False(t, Instruction{Metrics: []string{"dau"}}.Empty())
	assert.False(t, FallbackInstruction("q").Empty())
}

func TestFallbackInstruction(t *testing.T) {
	got := FallbackInstruction("  How many orders?  ")
	assert.Equal(t, "How many orders?", got.Task)
	assert.Equal(t, DefaultTimeRange, got.TimeRange)
}

func TestRunResultUsable(t *testing.T) {
	assert.False(t, RunResult{Status: RunSuccess}.Usable())
	assert.False(t, RunResult{Status: RunSuccess, Output: "  \n"}.Usable())
	assert.True(t, RunResult{Status: RunSuccess, Output: "42"}.Usable())
	assert.True(t, RunResult{Status: RunSuccess, Artifact: &Artifact{}}.Usable())
}

func TestArtifactClone(t *testing.T) {
	var nilArtifact *Artifact
	assert.Nil(t, nilArtifact.Clone())

	a := &Artifact{Path: "x.csv", Columns: []string{"a", "b"}}
	cp := a.Clone()
	cp.Columns[0] = "z"
	assert.Equal(t, "a", a.Columns[0])
}

func TestRunnerFunc(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, instruction string) (RunResult, error) {
		return RunResult{Status: RunSuccess, Output: instruction}, nil
	})
	got, err := runner.RunInstruction(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", got.Output)
}
