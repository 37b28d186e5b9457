package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"drillflow/internal/config"
	"drillflow/internal/logging"
	"drillflow/internal/observability"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// DrillflowError formats an error line.
func DrillflowError(msg string) string { return red("error: " + msg) }

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// CLI holds state shared by every subcommand.
type CLI struct {
	configFile string
	logLevel   string
	script     string
	runnerURL  string
	storeDir   string

	cfg   config.Config
	stack *observability.Stack
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "drillflow",
		Short: "Two-phase analytical query workflow engine",
		Long: fmt.Sprintf(`%s

drillflow plans a set of analytical instructions for a question, runs them
concurrently with deduplication and caching, decides whether one drill-down
round is needed, and synthesizes a final report. Every step is recorded in a
task -> iteration -> query provenance tree.

%s
  drillflow run "daily active users last 7 days" --script demo.yaml
  drillflow run "revenue by region" --script plan.yaml --runner-url http://analytics:9000/run
  drillflow serve --script demo.yaml --addr :8080`,
			bold("drillflow "+Version),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return cli.initialize()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return cli.shutdown()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cli.configFile, "config", "c", "", "Config file (default: drillflow.yaml in $HOME/.drillflow or .)")
	flags.StringVar(&cli.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVarP(&cli.script, "script", "s", "", "Scripted collaborator YAML file")
	flags.StringVar(&cli.runnerURL, "runner-url", "", "HTTP endpoint executing instructions")
	flags.StringVar(&cli.storeDir, "store-dir", "", "Directory for task snapshots")

	rootCmd.AddCommand(newRunCommand(cli))
	rootCmd.AddCommand(newServeCommand(cli))
	rootCmd.AddCommand(newTasksCommand(cli))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func (c *CLI) initialize() error {
	var opts []config.Option
	if c.configFile != "" {
		opts = append(opts, config.WithConfigFile(c.configFile))
	}
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Observability.Logging.Level = c.logLevel
	}
	if c.script != "" {
		cfg.Collaborators.Script = c.script
	}
	if c.runnerURL != "" {
		cfg.Collaborators.RunnerURL = c.runnerURL
	}
	if c.storeDir != "" {
		cfg.Store.Dir = c.storeDir
	}
	cfg.Observability.Tracing.ServiceVersion = Version
	if err := cfg.Validate(); err != nil {
		return err
	}

	stack, err := observability.Setup(cfg.Observability)
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}
	logging.SetDefault(stack.Logger)
	c.cfg = cfg
	c.stack = stack

	if meta.ConfigFile != "" {
		logging.NewComponentLogger("cli").Debug("Loaded config from %s", meta.ConfigFile)
	}
	return nil
}

func (c *CLI) shutdown() error {
	if c.stack == nil {
		return nil
	}
	ctx := context.Background()
	var errs []string
	if err := c.stack.Tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.stack.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown observability: %s", strings.Join(errs, "; "))
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", Version)
		},
	}
}
