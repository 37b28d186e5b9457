package scripted

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"drillflow/internal/planparse"
	"drillflow/internal/ports"
)

// Planner answers Plan from the script's plans.
type Planner struct {
	script *Script
}

// NewPlanner creates a scripted planner.
func NewPlanner(script *Script) *Planner { return &Planner{script: script} }

func (p *Planner) Plan(ctx context.Context, question string, stage ports.Stage, planCtx *ports.PlanContext) ([]ports.Instruction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plan, ok := p.script.Plans[stage]
	if !ok {
		return nil, nil
	}
	if plan.Error != "" {
		return nil, errors.New(plan.Error)
	}
	instructions := plan.instructions()
	if stage == ports.StageDrilldown && planCtx != nil {
		for i := range instructions {
			if len(instructions[i].Dimensions) == 0 {
				instructions[i].Dimensions = append([]string(nil), planCtx.SuggestedDimensions...)
			}
		}
	}
	return instructions, nil
}

// Decider answers Decide from the script's decision.
type Decider struct {
	script *Script
}

// NewDecider creates a scripted decider.
func NewDecider(script *Script) *Decider { return &Decider{script: script} }

func (d *Decider) Decide(ctx context.Context, question string, initial []ports.QueryOutcome) (ports.Decision, error) {
	if err := ctx.Err(); err != nil {
		return ports.Decision{}, err
	}
	ds := d.script.Decision
	if ds.Error != "" {
		return ports.Decision{}, errors.New(ds.Error)
	}
	if strings.TrimSpace(ds.Text) != "" {
		return planparse.ParseDecision(ds.Text)
	}
	return ports.Decision{
		NeedDrilldown:       ds.NeedDrilldown,
		Reasoning:           ds.Reasoning,
		SuggestedDimensions: append([]string(nil), ds.SuggestedDimensions...),
		Confidence:          ds.Confidence,
	}, nil
}

// Runner answers RunInstruction with the first matching scripted result.
// It counts calls per instruction.
type Runner struct {
	script *Script

	mu    sync.Mutex
	calls map[string]int
}

// NewRunner creates a scripted runner.
func NewRunner(script *Script) *Runner {
	return &Runner{script: script, calls: make(map[string]int)}
}

func (r *Runner) RunInstruction(ctx context.Context, instruction string) (ports.RunResult, error) {
	r.mu.Lock()
	r.calls[instruction]++
	r.mu.Unlock()

	rs := r.match(instruction)
	if rs == nil {
		return ports.RunResult{}, fmt.Errorf("no scripted result for %q", instruction)
	}
	if rs.Delay > 0 {
		timer := time.NewTimer(rs.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ports.RunResult{}, ctx.Err()
		}
	}
	if rs.Error != "" {
		return ports.RunResult{}, errors.New(rs.Error)
	}
	if strings.TrimSpace(rs.Text) != "" {
		return planparse.ParseRunReport(rs.Text), nil
	}
	result := rs.Result
	result.Artifact = result.Artifact.Clone()
	if result.Status == "" {
		result.Status = ports.RunSuccess
	}
	return result, nil
}

func (r *Runner) match(instruction string) *ResultScript {
	lower := strings.ToLower(instruction)
	for i := range r.script.Results {
		if strings.Contains(lower, strings.ToLower(r.script.Results[i].Match)) {
			return &r.script.Results[i]
		}
	}
	return r.script.Default
}

// Calls returns how often instruction reached the runner.
func (r *Runner) Calls(instruction string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[instruction]
}

// TotalCalls returns the number of runner invocations.
func (r *Runner) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

const defaultReport = `# Analysis report

{{range $i, $r := .Results}}## {{inc $i}}. {{$r.Instruction}}
- Status: {{$r.Status}}{{if $r.ServedFromCache}} (cached){{end}}
{{- if $r.Artifact}}
- Data: {{$r.Artifact.Path}} ({{$r.Artifact.RowCount}} rows)
{{- end}}
{{- if $r.Error}}
- Error: {{$r.Error}}
{{- end}}

{{end}}`

// Synthesizer renders the report template over instructions and results.
type Synthesizer struct {
	tmpl *template.Template
}

// NewSynthesizer creates a scripted synthesizer. An empty report template
// falls back to a plain result listing.
func NewSynthesizer(script *Script) (*Synthesizer, error) {
	text := script.Report
	if strings.TrimSpace(text) == "" {
		text = defaultReport
	}
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Synthesizer{tmpl: tmpl}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, instructions []ports.Instruction, results []ports.QueryOutcome) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	err := s.tmpl.Execute(&b, struct {
		Instructions []ports.Instruction
		Results      []ports.QueryOutcome
	}{instructions, results})
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Collaborators bundles the four scripted implementations.
type Collaborators struct {
	Planner     *Planner
	Runner      *Runner
	Decider     *Decider
	Synthesizer *Synthesizer
}

// New builds every scripted collaborator from script.
func New(script *Script) (*Collaborators, error) {
	synth, err := NewSynthesizer(script)
	if err != nil {
		return nil, err
	}
	return &Collaborators{
		Planner:     NewPlanner(script),
		Runner:      NewRunner(script),
		Decider:     NewDecider(script),
		Synthesizer: synth,
	}, nil
}
