// Package progression drives a task through its two rounds: an initial
// batch, a single drilldown decision, an optional drilldown batch, and the
// final synthesis.
package progression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ierrors "drillflow/internal/errors"
	"drillflow/internal/executor"
	"drillflow/internal/logging"
	"drillflow/internal/observability"
	"drillflow/internal/ports"
	"drillflow/internal/provenance"

	"github.com/google/uuid"
)

// Config toggles optional controller behaviour.
type Config struct {
	// ProgressiveAnalysis enables the decision step. When false the task
	// ends after the initial round.
	ProgressiveAnalysis bool `yaml:"progressive_analysis" mapstructure:"progressive_analysis"`
	// SingleResultFastPath renders the report directly when exactly one
	// query ran and succeeded without a drilldown.
	SingleResultFastPath bool `yaml:"single_result_fast_path" mapstructure:"single_result_fast_path"`
}

// DefaultConfig enables progressive analysis.
func DefaultConfig() Config {
	return Config{ProgressiveAnalysis: true}
}

// BatchExecutor runs one instruction batch in the task's open iteration.
type BatchExecutor interface {
	Execute(ctx context.Context, req executor.BatchRequest) ([]executor.Result, error)
}

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Planner     ports.Planner
	Executor    BatchExecutor
	Decider     ports.Decider
	Synthesizer ports.Synthesizer
}

// Controller runs tasks. It holds no per-task state and can run many tasks
// concurrently.
type Controller struct {
	deps    Dependencies
	config  Config
	cache   executor.CacheConfig
	logger  logging.Logger
	tracer  *observability.TracerProvider
	metrics *observability.MetricsCollector
	newID   func() string
	now     func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Controller) { c.logger = logging.OrNop(logger) }
}

// WithTracer sets the tracer for task, plan, decide and synthesize spans.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithMetricsCollector records task-level metrics.
func WithMetricsCollector(metrics *observability.MetricsCollector) Option {
	return func(c *Controller) { c.metrics = metrics }
}

// WithCacheConfig sizes the per-task result cache.
func WithCacheConfig(config executor.CacheConfig) Option {
	return func(c *Controller) { c.cache = config }
}

// WithClock overrides the time source for task durations and the
// per-task cache.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// New creates a controller. Planner, executor, decider and synthesizer are
// all required.
func New(deps Dependencies, config Config, opts ...Option) (*Controller, error) {
	switch {
	case deps.Planner == nil:
		return nil, errors.New("progression: planner is required")
	case deps.Executor == nil:
		return nil, errors.New("progression: executor is required")
	case deps.Decider == nil:
		return nil, errors.New("progression: decider is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("progression: synthesizer is required")
	}
	c := &Controller{
		deps:   deps,
		config: config,
		cache:  executor.DefaultCacheConfig(),
		logger: logging.Nop(),
		tracer: observability.NoopTracer(),
		newID:  newTaskID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newTaskID() string {
	if id, err := uuid.NewV7(); err == nil {
		return "task-" + id.String()
	}
	return "task-" + uuid.NewString()
}

// Request describes one user request.
type Request struct {
	TaskID   string
	Question string
	Observer provenance.Observer
}

// Report is everything a finished task produced.
type Report struct {
	TaskID            string                       `json:"task_id"`
	Question          string                       `json:"question"`
	Report            string                       `json:"report"`
	Decision          *ports.Decision              `json:"decision,omitempty"`
	DecisionSkipped   string                       `json:"decision_skipped,omitempty"`
	Drilldown         bool                         `json:"drilldown"`
	FastPath          bool                         `json:"fast_path"`
	SynthesisFallback bool                         `json:"synthesis_fallback"`
	Instructions      []ports.Instruction          `json:"instructions"`
	Results           []executor.Result            `json:"results"`
	Transitions       []State                      `json:"transitions"`
	Summary           provenance.Summary           `json:"summary"`
	Failures          []string                     `json:"failures,omitempty"`
	Outcomes          []ports.QueryOutcome         `json:"-"`
	Iterations        []provenance.IterationRecord `json:"-"`
}

// NewTask creates the provenance record for req without running it.
func (c *Controller) NewTask(req Request) (*provenance.Task, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errors.New("progression: question is required")
	}
	id := strings.TrimSpace(req.TaskID)
	if id == "" {
		id = c.newID()
	}
	var opts []provenance.Option
	if req.Observer != nil {
		opts = append(opts, provenance.WithObserver(req.Observer))
	}
	return provenance.NewTask(id, question, opts...), nil
}

// Run creates a task for req and drives it to completion.
func (c *Controller) Run(ctx context.Context, req Request) (*Report, error) {
	task, err := c.NewTask(req)
	if err != nil {
		return nil, err
	}
	return c.RunTask(ctx, task)
}

type run struct {
	task   *provenance.Task
	cache  *executor.Cache
	report *Report
	state  State
	logger logging.Logger
}

func (r *run) transition(to State) error {
	if !validTransition(r.state, to) {
		return fmt.Errorf("progression: invalid transition %s -> %s", r.state, to)
	}
	r.logger.Debug("State %s -> %s", r.state, to)
	r.state = to
	r.report.Transitions = append(r.report.Transitions, to)
	return nil
}

// absorb records a recovered failure. A collaborator that already classified
// its error keeps its own kind; the returned kind is the one recorded.
func (r *run) absorb(kind ierrors.FailureKind, stage ports.Stage, err error) ierrors.FailureKind {
	failure := err
	if own := ierrors.KindOf(err); own != "" {
		kind = own
	} else {
		failure = ierrors.NewFailure(kind, string(stage), err)
	}
	r.report.Failures = append(r.report.Failures, failure.Error())
	r.logger.Warn("%v", failure)
	return kind
}

// RunTask drives a task created by NewTask. The task always completes and
// always yields a report; the returned error is reserved for controller
// invariant violations.
func (c *Controller) RunTask(ctx context.Context, task *provenance.Task) (*Report, error) {
	if task == nil {
		return nil, errors.New("progression: task is required")
	}
	ctx = observability.ContextWithTaskID(ctx, task.ID())
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanTaskRun)
	started := c.now()
	c.metrics.TaskStarted(ctx)

	r := &run{
		task:   task,
		cache:  executor.NewCache(c.cache, executor.WithCacheClock(c.now)),
		report: &Report{TaskID: task.ID(), Question: task.Question()},
		logger: logging.FromContext(ctx, c.logger),
	}
	r.logger.Info("Task %s started: %s", task.ID(), task.Question())

	err := c.drive(ctx, r)
	r.cache.Purge()

	iterations := len(task.Iterations())
	c.metrics.TaskFinished(ctx, iterations, c.now().Sub(started))
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	r.report.Summary = task.Summary()
	r.logger.Info("Task %s done: %d queries, %d successful, %d from cache",
		task.ID(), r.report.Summary.TotalQueries, r.report.Summary.SuccessfulQueries, r.report.Summary.CachedQueries)
	return r.report, nil
}

func (c *Controller) drive(ctx context.Context, r *run) error {
	question := r.task.Question()

	// Initial round.
	if err := r.transition(StateInitialRunning); err != nil {
		return err
	}
	instructions := c.plan(ctx, r, ports.StageInitial, nil)
	if len(instructions) == 0 {
		instructions = []ports.Instruction{ports.FallbackInstruction(question)}
	}
	initial, err := c.runIteration(ctx, r, provenance.KindInitial, "Initial analysis", question, instructions)
	if err != nil {
		return err
	}

	// Decision.
	if err := r.transition(StateAwaitingDecision); err != nil {
		return err
	}
	drilldown := c.decide(ctx, r, initial)

	// Drilldown round, at most once.
	if drilldown != nil {
		planCtx := &ports.PlanContext{
			ResultsDigest:       ResultsDigest(executor.Outcomes(initial)),
			SuggestedDimensions: drilldown.SuggestedDimensions,
			Reasoning:           drilldown.Reasoning,
		}
		next := c.plan(ctx, r, ports.StageDrilldown, planCtx)
		if len(next) == 0 {
			r.logger.Info("Drilldown planner proposed nothing, skipping drilldown")
		} else {
			if err := r.transition(StateDrilldownRunning); err != nil {
				return err
			}
			description := "Drill down"
			if len(drilldown.SuggestedDimensions) > 0 {
				description += " by " + strings.Join(drilldown.SuggestedDimensions, ", ")
			}
			if _, err := c.runIteration(ctx, r, provenance.KindDrilldown, "Drilldown analysis", description, next); err != nil {
				return err
			}
			r.report.Drilldown = true
		}
	}

	// Synthesis.
	if err := r.transition(StateSynthesizing); err != nil {
		return err
	}
	if err := r.task.Complete(); err != nil {
		return fmt.Errorf("progression: complete task: %w", err)
	}
	c.synthesize(ctx, r)

	return r.transition(StateDone)
}

// plan asks the planner for a batch. Failures are absorbed and yield nil.
func (c *Controller) plan(ctx context.Context, r *run, stage ports.Stage, planCtx *ports.PlanContext) []ports.Instruction {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanPlan, observability.IterationAttrs(0, string(stage))...)
	instructions, err := c.deps.Planner.Plan(ctx, r.task.Question(), stage, planCtx)
	observability.EndSpan(span, err)

	var usable []ports.Instruction
	for _, instruction := range instructions {
		if !instruction.Empty() {
			usable = append(usable, instruction)
		}
	}

	switch {
	case err != nil:
		kind := r.absorb(ierrors.PlanningFailure, stage, err)
		c.metrics.RecordCollaboratorFailure(ctx, "planner", string(kind))
		return nil
	case len(usable) == 0 && stage == ports.StageInitial:
		r.absorb(ierrors.PlanningFailure, stage, ierrors.ErrEmptyPlan)
		return nil
	}
	return usable
}

func (c *Controller) runIteration(ctx context.Context, r *run, kind provenance.IterationKind, name, description string, instructions []ports.Instruction) ([]executor.Result, error) {
	if _, err := r.task.OpenIteration(kind, name, description); err != nil {
		return nil, fmt.Errorf("progression: %w", err)
	}
	results, err := c.deps.Executor.Execute(ctx, executor.BatchRequest{
		Task:         r.task,
		Cache:        r.cache,
		Instructions: instructions,
	})
	if _, closeErr := r.task.CloseCurrentIteration(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("progression: %s iteration: %w", kind, err)
	}
	r.report.Instructions = append(r.report.Instructions, instructions...)
	r.report.Results = append(r.report.Results, results...)
	return results, nil
}

// decide consults the decider once and returns the decision when a
// drilldown is wanted.
func (c *Controller) decide(ctx context.Context, r *run, initial []executor.Result) *ports.Decision {
	successes := 0
	for _, result := range initial {
		if result.Record.Status == provenance.StatusSuccess {
			successes++
		}
	}
	switch {
	case successes == 0:
		r.report.DecisionSkipped = "no successful queries in the initial round"
	case !c.config.ProgressiveAnalysis:
		r.report.DecisionSkipped = "progressive analysis disabled"
	}
	if r.report.DecisionSkipped != "" {
		r.logger.Info("Skipping drilldown decision: %s", r.report.DecisionSkipped)
		r.task.Note(provenance.UpdateDecisionMade, map[string]any{
			"need_drilldown": false,
			"skipped":        r.report.DecisionSkipped,
		})
		return nil
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanDecide)
	decision, err := c.deps.Decider.Decide(ctx, r.task.Question(), executor.Outcomes(initial))
	observability.EndSpan(span, err)
	if err != nil {
		kind := r.absorb(ierrors.DecisionFailure, ports.StageInitial, err)
		c.metrics.RecordCollaboratorFailure(ctx, "decider", string(kind))
		decision = ports.Decision{NeedDrilldown: false, Reasoning: "decision failed: " + err.Error()}
	}

	r.report.Decision = &decision
	c.metrics.RecordDecision(ctx, decision.NeedDrilldown)
	r.task.Note(provenance.UpdateDecisionMade, map[string]any{
		"need_drilldown":       decision.NeedDrilldown,
		"reasoning":            decision.Reasoning,
		"suggested_dimensions": decision.SuggestedDimensions,
		"confidence":           decision.Confidence,
	})
	r.logger.Info("Drilldown decision: need=%t confidence=%.2f dimensions=%v", decision.NeedDrilldown, decision.Confidence, decision.SuggestedDimensions)

	if !decision.NeedDrilldown {
		return nil
	}
	return &decision
}

func (c *Controller) synthesize(ctx context.Context, r *run) {
	outcomes := executor.Outcomes(r.report.Results)
	r.report.Outcomes = outcomes
	r.report.Iterations = r.task.Iterations()

	if c.config.SingleResultFastPath && !r.report.Drilldown &&
		len(outcomes) == 1 && outcomes[0].Status == string(provenance.StatusSuccess) {
		r.report.FastPath = true
		r.report.Report = SingleResultReport(r.task.Question(), outcomes[0])
		return
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanSynthesize)
	text, err := c.deps.Synthesizer.Synthesize(ctx, r.report.Instructions, outcomes)
	observability.EndSpan(span, err)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("synthesizer returned an empty report")
	}
	if err != nil {
		kind := r.absorb(ierrors.SynthesisFailure, "", err)
		c.metrics.RecordCollaboratorFailure(ctx, "synthesizer", string(kind))
		r.report.SynthesisFallback = true
		r.report.Report = FallbackReport(r.task.Question(), r.task.Summary(), outcomes, err)
		return
	}
	r.report.Report = text
}
