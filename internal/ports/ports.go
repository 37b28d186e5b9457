// Package ports declares the contracts between the task-execution engine and
// the collaborators it drives: the planner that proposes instructions, the
// runner that executes one instruction against the analytics backend, the
// decider that chooses whether a drilldown round is needed, and the
// synthesizer that turns every result into the final report.
package ports

import (
	"context"
	"encoding/json"
	"strings"
)

// Stage identifies which planning phase an instruction batch belongs to.
type Stage string

const (
	StageInitial   Stage = "initial"
	StageDrilldown Stage = "drilldown"
)

// DefaultTimeRange is used when a fallback instruction has to be built from
// the raw user question.
const DefaultTimeRange = "last_7_days"

// Instruction is one structured unit of analytical work.
type Instruction struct {
	Task        string   `json:"task" yaml:"task"`
	TimeRange   string   `json:"time_range,omitempty" yaml:"time_range,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Metrics     []string `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Text returns the natural-language text sent to the runner. Instructions
// without a task fall back to their JSON encoding so they still hash and
// execute deterministically.
func (i Instruction) Text() string {
	if task := strings.TrimSpace(i.Task); task != "" {
		return task
	}
	data, err := json.Marshal(i)
	if err != nil {
		return ""
	}
	return string(data)
}

// Empty reports whether the instruction carries no work at all.
func (i Instruction) Empty() bool {
	return strings.TrimSpace(i.Task) == "" &&
		len(i.Dimensions) == 0 &&
		len(i.Metrics) == 0 &&
		strings.TrimSpace(i.Description) == ""
}

// FallbackInstruction wraps a raw user question when the planner proposes
// nothing usable.
func FallbackInstruction(question string) Instruction {
	return Instruction{
		Task:        strings.TrimSpace(question),
		TimeRange:   DefaultTimeRange,
		Description: "run the user question directly",
	}
}

// PlanContext carries what the drilldown planner needs to know about the
// initial round.
type PlanContext struct {
	ResultsDigest       string   `json:"results_digest,omitempty"`
	SuggestedDimensions []string `json:"suggested_dimensions,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
}

// Planner proposes an ordered instruction batch for a stage. planCtx is nil
// for the initial stage.
type Planner interface {
	Plan(ctx context.Context, question string, stage Stage, planCtx *PlanContext) ([]Instruction, error)
}

// RunStatus is the outcome reported by a Runner.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Artifact references the data produced by a successful instruction.
type Artifact struct {
	Path        string   `json:"path" yaml:"path"`
	DownloadURL string   `json:"download_url,omitempty" yaml:"download_url,omitempty"`
	RowCount    int      `json:"row_count" yaml:"row_count"`
	ColumnCount int      `json:"column_count,omitempty" yaml:"column_count,omitempty"`
	Columns     []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Preview     string   `json:"preview,omitempty" yaml:"preview,omitempty"`
}

// Clone returns a deep copy so cached artifacts never alias caller slices.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Columns != nil {
		cp.Columns = append([]string(nil), a.Columns...)
	}
	return &cp
}

// RunResult is what a Runner returns for a single instruction.
type RunResult struct {
	Status    RunStatus `json:"status" yaml:"status"`
	Artifact  *Artifact `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Statement string    `json:"statement,omitempty" yaml:"statement,omitempty"`
	Output    string    `json:"output,omitempty" yaml:"output,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Usable reports whether the result carries any data worth keeping.
func (r RunResult) Usable() bool {
	return r.Artifact != nil || strings.TrimSpace(r.Output) != ""
}

// Runner executes one instruction against the analytics backend. Calls may
// take arbitrarily long; callers bound them through ctx.
type Runner interface {
	RunInstruction(ctx context.Context, instruction string) (RunResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, instruction string) (RunResult, error)

func (f RunnerFunc) RunInstruction(ctx context.Context, instruction string) (RunResult, error) {
	return f(ctx, instruction)
}

// Decision is the drilldown verdict for the initial round.
type Decision struct {
	NeedDrilldown       bool     `json:"need_drilldown"`
	Reasoning           string   `json:"reasoning"`
	SuggestedDimensions []string `json:"suggested_dimensions,omitempty"`
	Confidence          float64  `json:"confidence,omitempty"`
}

// Decider evaluates the initial results. It is consulted at most once per
// task.
type Decider interface {
	Decide(ctx context.Context, question string, initial []QueryOutcome) (Decision, error)
}

// QueryOutcome is the collaborator-facing view of one executed instruction.
type QueryOutcome struct {
	QueryID         string      `json:"query_id"`
	Instruction     string      `json:"instruction"`
	Parameters      Instruction `json:"parameters"`
	Status          string      `json:"status"`
	ServedFromCache bool        `json:"served_from_cache"`
	Artifact        *Artifact   `json:"artifact,omitempty"`
	Statement       string      `json:"statement,omitempty"`
	Output          string      `json:"output,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Synthesizer turns every instruction and result of a task into the final
// report text.
type Synthesizer interface {
	Synthesize(ctx context.Context, instructions []Instruction, results []QueryOutcome) (string, error)
}
