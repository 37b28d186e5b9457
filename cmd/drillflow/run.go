package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"drillflow/internal/progression"
	"drillflow/internal/provenance"
	"drillflow/internal/store"
)

type runOptions struct {
	taskID   string
	jsonOut  bool
	plain    bool
	noSave   bool
	quiet    bool
	markdown bool
}

func newRunCommand(cli *CLI) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <question>",
		Short: "Run one analysis task and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question must not be empty")
			}
			return cli.runTask(cmd, question, opts)
		},
	}
	cmd.Flags().StringVar(&opts.taskID, "task-id", "", "Explicit task id (default: generated)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print the report without markdown rendering")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "Do not persist the task snapshot")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	cmd.Flags().BoolVar(&opts.markdown, "provenance", false, "Also print the provenance tree as markdown")
	return cmd
}

func (c *CLI) runTask(cmd *cobra.Command, question string, opts *runOptions) error {
	eng, err := c.buildEngine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var observer provenance.Observer
	if !opts.quiet && !opts.jsonOut {
		observer = newProgressPrinter(cmd.ErrOrStderr()).Observe
	}

	task, err := eng.controller.NewTask(progression.Request{
		TaskID:   opts.taskID,
		Question: question,
		Observer: observer,
	})
	if err != nil {
		return err
	}
	report, err := eng.controller.RunTask(ctx, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("task %s interrupted", task.ID())
		}
		return err
	}

	if !opts.noSave {
		if err := eng.store.Save(store.NewRecord(task, report)); err != nil {
			return fmt.Errorf("save task %s: %w", task.ID(), err)
		}
	}

	if opts.jsonOut {
		return writeJSON(out, report)
	}

	pretty := !opts.plain && isTTY()
	fmt.Fprintln(out, renderOrRaw(report.Report, pretty))
	if opts.markdown {
		fmt.Fprintln(out, renderOrRaw(provenance.RenderMarkdown(task.Snapshot()), pretty))
	}
	for _, failure := range report.Failures {
		fmt.Fprintln(cmd.ErrOrStderr(), gray("note: "+failure))
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
