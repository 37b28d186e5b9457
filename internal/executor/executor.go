// Package executor runs instruction batches for the open iteration of a
// task. Work is bounded by a worker limit, identical instructions are
// deduplicated through a task-scoped cache, and results come back in the
// caller's order whatever order they completed in.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ierrors "drillflow/internal/errors"
	"drillflow/internal/logging"
	"drillflow/internal/observability"
	"drillflow/internal/ports"
	"drillflow/internal/provenance"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxWorkers bounds concurrent runner calls per batch.
	DefaultMaxWorkers = 6

	cancelledError = "cancelled"
)

// Config controls how a batch is scheduled.
type Config struct {
	MaxWorkers int `yaml:"max_workers" mapstructure:"max_workers"`
	// ExactlyOnce coalesces identical instructions that are in flight at the
	// same time so only one of them reaches the runner.
	ExactlyOnce bool `yaml:"exactly_once" mapstructure:"exactly_once"`
	// RunnerTimeout bounds each runner call. Zero leaves calls unbounded.
	RunnerTimeout time.Duration `yaml:"runner_timeout" mapstructure:"runner_timeout"`
}

// DefaultConfig returns the default scheduling configuration.
func DefaultConfig() Config {
	return Config{MaxWorkers: DefaultMaxWorkers}
}

// BatchRequest is one executor invocation.
type BatchRequest struct {
	Task         *provenance.Task
	Cache        *Cache
	Instructions []ports.Instruction
}

// Result is the outcome of the instruction at Index in the request.
type Result struct {
	Index       int                    `json:"index"`
	Instruction ports.Instruction      `json:"instruction"`
	Record      provenance.QueryRecord `json:"record"`
}

// Outcome returns the collaborator-facing view of the result.
func (r Result) Outcome() ports.QueryOutcome {
	return r.Record.Outcome()
}

// Outcomes converts a result slice, keeping its order.
func Outcomes(results []Result) []ports.QueryOutcome {
	out := make([]ports.QueryOutcome, len(results))
	for i, r := range results {
		out[i] = r.Outcome()
	}
	return out
}

// Executor dispatches instructions to a Runner.
type Executor struct {
	runner  ports.Runner
	config  Config
	retry   ierrors.RetryConfig
	breaker *ierrors.CircuitBreaker
	metrics *Metrics
	tracer  *observability.TracerProvider
	logger  logging.Logger
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(logger) }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Executor) { e.metrics = metrics }
}

// WithTracer sets the tracer used for batch and instruction spans.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithRetry retries transient runner errors.
func WithRetry(config ierrors.RetryConfig) Option {
	return func(e *Executor) { e.retry = config }
}

// WithCircuitBreaker guards the runner with breaker.
func WithCircuitBreaker(breaker *ierrors.CircuitBreaker) Option {
	return func(e *Executor) { e.breaker = breaker }
}

// New creates an executor for runner.
func New(runner ports.Runner, config Config, opts ...Option) (*Executor, error) {
	if runner == nil {
		return nil, errors.New("executor: runner is required")
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultMaxWorkers
	}
	e := &Executor{
		runner: runner,
		config: config,
		retry:  ierrors.DefaultRetryConfig(),
		tracer: observability.NoopTracer(),
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

type workItem struct {
	index       int
	instruction ports.Instruction
	text        string
	hash        string
	query       provenance.QueryID
}

// Execute runs the batch in the task's open iteration. It creates every
// query record up front in input order, then resolves each one exactly
// once. Individual failures are recorded on their records; the returned
// error is reserved for requests that cannot be started at all. Execute
// returns only after every worker has finished.
func (e *Executor) Execute(ctx context.Context, req BatchRequest) ([]Result, error) {
	if req.Task == nil {
		return nil, errors.New("executor: task is required")
	}
	if len(req.Instructions) == 0 {
		return []Result{}, nil
	}
	if req.Cache == nil {
		return nil, errors.New("executor: cache is required")
	}
	iteration, ok := req.Task.CurrentIteration()
	if !ok {
		return nil, fmt.Errorf("executor: %w", provenance.ErrNoOpenIteration)
	}

	ctx = observability.ContextWithTaskID(ctx, req.Task.ID())
	logger := logging.FromContext(ctx, e.logger)

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanBatchExecute,
		append(observability.IterationAttrs(iteration.ID, string(iteration.Kind)),
			observability.BatchAttrs(len(req.Instructions))...)...)
	defer span.End()

	records, err := req.Task.CreateQueries(req.Instructions)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, fmt.Errorf("executor: %w", err)
	}
	items := make([]workItem, len(records))
	for i, record := range records {
		items[i] = workItem{
			index:       i,
			instruction: req.Instructions[i],
			text:        record.Instruction,
			hash:        record.ContentHash,
			query:       record.ID,
		}
	}

	e.metrics.ObserveBatch(len(items))
	logger.Info("Executing %d instructions in iteration %d (max workers %d)", len(items), iteration.ID, e.config.MaxWorkers)

	results := make([]Result, len(items))
	var g errgroup.Group
	g.SetLimit(e.config.MaxWorkers)
	for _, item := range items {
		g.Go(func() error {
			outcome := e.resolve(ctx, req.Cache, item, logger)
			record, err := req.Task.CompleteQuery(item.query, outcome)
			if err != nil {
				logger.Error("Failed to record %s: %v", item.query, err)
				if record, err = req.Task.Query(item.query); err != nil {
					logger.Error("Failed to read back %s: %v", item.query, err)
					record = provenance.QueryRecord{ID: item.query, Instruction: item.text, ContentHash: item.hash, Status: outcome.Status}
				}
			}
			e.metrics.ObserveInstruction(string(record.Status), record.ServedFromCache)
			results[item.index] = Result{
				Index:       item.index,
				Instruction: item.instruction,
				Record:      record,
			}
			return nil
		})
	}
	_ = g.Wait()

	logBatch(logger, iteration.ID, results)
	return results, nil
}

// resolve produces the terminal outcome of one work item.
func (e *Executor) resolve(ctx context.Context, cache *Cache, item workItem, logger logging.Logger) provenance.Outcome {
	if ctx.Err() != nil {
		return cancelledOutcome(0)
	}

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanInstructionRun,
		observability.QueryAttrs(item.query.String(), false)...)
	defer span.End()

	if entry, ok := cache.Get(item.hash); ok {
		e.metrics.IncCacheEvent("hit")
		span.SetAttributes(observability.QueryAttrs(item.query.String(), true)...)
		logger.Debug("Cache hit for %s (source %s)", item.query, entry.Source)
		return entry.outcome()
	}
	e.metrics.IncCacheEvent("miss")

	if !e.config.ExactlyOnce {
		outcome := e.execute(ctx, item)
		e.store(cache, item, outcome)
		span.SetAttributes(observability.StatusAttrs(string(outcome.Status))...)
		return outcome
	}

	ran := false
	value, _, shared := cache.flight.Do(item.hash, func() (any, error) {
		ran = true
		if entry, ok := cache.Get(item.hash); ok {
			return entry.outcome(), nil
		}
		outcome := e.execute(ctx, item)
		e.store(cache, item, outcome)
		return outcome, nil
	})
	outcome := value.(provenance.Outcome)
	if !ran && shared {
		e.metrics.IncCacheEvent("coalesced")
		if outcome.Status == provenance.StatusSuccess {
			outcome.ServedFromCache = true
			outcome.Artifact = outcome.Artifact.Clone()
		} else {
			// Non-success results are never shared; run it ourselves.
			outcome = e.execute(ctx, item)
			e.store(cache, item, outcome)
		}
	}
	span.SetAttributes(observability.StatusAttrs(string(outcome.Status))...)
	return outcome
}

func (e *Executor) store(cache *Cache, item workItem, outcome provenance.Outcome) {
	if outcome.Status != provenance.StatusSuccess || outcome.ServedFromCache {
		return
	}
	stored := cache.Put(item.hash, Entry{
		Status:        outcome.Status,
		Artifact:      outcome.Artifact,
		Statement:     outcome.Statement,
		Output:        outcome.Output,
		ExecutionTime: outcome.ExecutionTime,
		Source:        item.query,
	})
	if stored {
		e.metrics.IncCacheEvent("store")
	}
}

// execute calls the runner for one instruction and classifies the result.
func (e *Executor) execute(ctx context.Context, item workItem) provenance.Outcome {
	if ctx.Err() != nil {
		return cancelledOutcome(0)
	}

	callCtx := ctx
	if e.config.RunnerTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.RunnerTimeout)
		defer cancel()
	}

	e.metrics.IncInFlight()
	start := e.now()
	attempts := 0
	result, err := ierrors.RetryWithResultAndLog(callCtx, e.retry, func(ctx context.Context) (ports.RunResult, error) {
		attempts++
		if attempts > 1 {
			e.metrics.IncRetry()
		}
		return ierrors.ExecuteFunc(e.breaker, ctx, func(ctx context.Context) (ports.RunResult, error) {
			return e.runner.RunInstruction(ctx, item.text)
		})
	}, e.logger)
	elapsed := e.now().Sub(start)
	e.metrics.DecInFlight()

	if ctx.Err() != nil {
		return cancelledOutcome(elapsed)
	}

	outcome := classify(result, err)
	outcome.ExecutionTime = elapsed
	switch outcome.Status {
	case provenance.StatusFailed:
		e.logger.Warn("%v", ierrors.NewFailure(ierrors.ExecutionFailure, "", fmt.Errorf("%s: %s", item.query, outcome.Error)))
	case provenance.StatusPartial:
		e.logger.Debug("%v", ierrors.NewFailure(ierrors.PartialResult, "", fmt.Errorf("%s: %s", item.query, outcome.Error)))
	case provenance.StatusSuccess, provenance.StatusPending:
	}
	e.metrics.ObserveRunner(string(outcome.Status), elapsed)
	return outcome
}

// classify maps a runner response onto a terminal outcome.
func classify(result ports.RunResult, err error) provenance.Outcome {
	if err != nil {
		return provenance.Outcome{
			Status:    provenance.StatusFailed,
			Statement: result.Statement,
			Error:     err.Error(),
		}
	}

	outcome := provenance.Outcome{
		Artifact:  result.Artifact.Clone(),
		Statement: result.Statement,
		Output:    result.Output,
	}
	status, statusErr := provenance.StatusFromRun(result.Status)
	if statusErr != nil {
		outcome.Status = provenance.StatusFailed
		outcome.Error = statusErr.Error()
		return outcome
	}
	outcome.Status = status
	switch status {
	case provenance.StatusSuccess:
		if !result.Usable() {
			outcome.Status = provenance.StatusPartial
			outcome.Error = noUsableData(result.Error)
		}
	case provenance.StatusPartial:
		outcome.Error = noUsableData(result.Error)
	case provenance.StatusFailed:
		outcome.Error = strings.TrimSpace(result.Error)
		if outcome.Error == "" {
			outcome.Error = "runner reported failure"
		}
	}
	return outcome
}

func noUsableData(detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return ierrors.ErrNoUsableData.Error()
	}
	return ierrors.ErrNoUsableData.Error() + ": " + detail
}

func cancelledOutcome(elapsed time.Duration) provenance.Outcome {
	return provenance.Outcome{
		Status:        provenance.StatusFailed,
		Error:         cancelledError,
		ExecutionTime: elapsed,
	}
}

func logBatch(logger logging.Logger, iterationID int, results []Result) {
	var success, partial, failed, cached int
	for _, r := range results {
		switch r.Record.Status {
		case provenance.StatusSuccess:
			success++
		case provenance.StatusPartial:
			partial++
		case provenance.StatusFailed:
			failed++
		case provenance.StatusPending:
		}
		if r.Record.ServedFromCache {
			cached++
		}
	}
	logger.Info("Iteration %d batch done: %d success, %d partial, %d failed, %d from cache",
		iterationID, success, partial, failed, cached)
}
