package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"drillflow/internal/events"
	"drillflow/internal/logging"
	"drillflow/internal/server"
)

func newServeCommand(cli *CLI) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cli.cfg.Server.Addr = addr
			}
			return cli.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

func (c *CLI) serve(ctx context.Context) error {
	eng, err := c.buildEngine()
	if err != nil {
		return err
	}
	logger := logging.FromObservabilityWithComponent(c.stack.Logger, "serve")

	broadcaster := events.NewBroadcaster(
		events.WithLogger(logging.FromObservabilityWithComponent(c.stack.Logger, "events")),
	)
	manager := server.NewTaskManager(eng.controller, eng.store, broadcaster,
		server.WithManagerLogger(logging.FromObservabilityWithComponent(c.stack.Logger, "tasks")),
		server.WithRunTimeout(c.cfg.Server.RunTimeout),
	)
	srv := server.New(c.cfg.Server, manager,
		server.WithLogger(logging.FromObservabilityWithComponent(c.stack.Logger, "http")),
		server.WithTracer(c.stack.Tracer),
		server.WithVersion(Version),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Received %s, shutting down", sig)
	case <-ctx.Done():
		logger.Info("Context done, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
