package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newTasksCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect stored tasks",
	}
	cmd.AddCommand(newTasksListCommand(cli), newTasksShowCommand(cli), newTasksDeleteCommand(cli))
	return cmd
}

func newTasksListCommand(cli *CLI) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			records, err := st.List()
			if err != nil {
				return err
			}
			if jsonOut {
				summaries := make([]any, 0, len(records))
				for _, r := range records {
					summaries = append(summaries, r.Snapshot.Summary)
				}
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tCREATED\tQUERIES\tOK\tQUESTION")
			for _, r := range records {
				s := r.Snapshot.Summary
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.TaskID, r.CreatedAt.Format(time.DateTime), s.TotalQueries, s.SuccessfulQueries, r.Question)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print task summaries as JSON")
	return cmd
}

func newTasksShowCommand(cli *CLI) *cobra.Command {
	var (
		jsonOut bool
		plain   bool
	)
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the provenance of a stored task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			record, err := st.Get(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), record)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderOrRaw(record.Markdown(), !plain && isTTY()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full record as JSON")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print markdown without rendering")
	return cmd
}

func newTasksDeleteCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a stored task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cli.openStore()
			if err != nil {
				return err
			}
			if err := st.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("deleted ")+args[0])
			return nil
		},
	}
}
