package main

import (
	"errors"
	"fmt"

	"drillflow/internal/adapters/httprunner"
	"drillflow/internal/adapters/scripted"
	"drillflow/internal/config"
	ierrors "drillflow/internal/errors"
	"drillflow/internal/executor"
	"drillflow/internal/logging"
	"drillflow/internal/ports"
	"drillflow/internal/progression"
	"drillflow/internal/store"
)

// engine is everything a command needs to run tasks.
type engine struct {
	controller *progression.Controller
	store      store.Store
}

// buildEngine wires collaborators, executor, controller and store from the
// loaded configuration.
func (c *CLI) buildEngine() (*engine, error) {
	cfg := c.cfg
	if cfg.Collaborators.Script == "" {
		return nil, errors.New("no collaborator script configured (use --script or collaborators.script)")
	}
	script, err := scripted.Load(config.ExpandHome(cfg.Collaborators.Script))
	if err != nil {
		return nil, err
	}
	collab, err := scripted.New(script)
	if err != nil {
		return nil, err
	}

	var runner ports.Runner = collab.Runner
	if cfg.Collaborators.RunnerURL != "" {
		httpRunner, err := httprunner.New(httprunner.Config{
			URL:     cfg.Collaborators.RunnerURL,
			APIKey:  cfg.Collaborators.RunnerAPIKey,
			Timeout: cfg.Collaborators.RunnerTimeout,
			Breaker: cfg.Breaker,
		}, logging.FromObservabilityWithComponent(c.stack.Logger, "httprunner"))
		if err != nil {
			return nil, err
		}
		runner = httpRunner
	}

	execOpts := []executor.Option{
		executor.WithLogger(logging.FromObservabilityWithComponent(c.stack.Logger, "executor")),
		executor.WithMetrics(executor.DefaultMetrics()),
		executor.WithTracer(c.stack.Tracer),
		executor.WithRetry(cfg.Retry),
	}
	if cfg.Breaker.Enabled {
		breaker := ierrors.NewCircuitBreaker("runner", cfg.Breaker, logging.FromObservabilityWithComponent(c.stack.Logger, "breaker"))
		execOpts = append(execOpts, executor.WithCircuitBreaker(breaker))
	}
	exec, err := executor.New(runner, cfg.Engine.Executor, execOpts...)
	if err != nil {
		return nil, err
	}

	controller, err := progression.New(progression.Dependencies{
		Planner:     collab.Planner,
		Executor:    exec,
		Decider:     collab.Decider,
		Synthesizer: collab.Synthesizer,
	}, cfg.Engine.Progression,
		progression.WithLogger(logging.FromObservabilityWithComponent(c.stack.Logger, "progression")),
		progression.WithTracer(c.stack.Tracer),
		progression.WithMetricsCollector(c.stack.Metrics),
		progression.WithCacheConfig(cfg.Cache),
	)
	if err != nil {
		return nil, err
	}

	st, err := c.openStore()
	if err != nil {
		return nil, err
	}
	return &engine{controller: controller, store: st}, nil
}

func (c *CLI) openStore() (store.Store, error) {
	dir := config.ExpandHome(c.cfg.Store.Dir)
	if dir == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewFileStore(dir, logging.FromObservabilityWithComponent(c.stack.Logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
