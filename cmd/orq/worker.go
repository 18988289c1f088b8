package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/orquestrix/internal/remote"
	"github.com/zulandar/orquestrix/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "List workers, run prompts and read their logs",
	}

	cmd.AddCommand(newWorkerListCmd())
	cmd.AddCommand(newWorkerRunCmd())
	cmd.AddCommand(newWorkerLogsCmd())
	return cmd
}

func newWorkerListCmd() *cobra.Command {
	var (
		configPath string
		projectID  uint
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			var opts worker.ListOpts
			if projectID > 0 {
				opts.ProjectID = &projectID
			}
			workers, err := worker.List(gormDB, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(workers) == 0 {
				fmt.Fprintln(out, "No workers found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROJECT\tMODEL\tTHREAD")
			for _, wk := range workers {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
					wk.ID, truncate(wk.Name, 40), wk.ProjectID, wk.Model, deref(wk.ThreadID))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().UintVar(&projectID, "project", 0, "only workers of this project")
	return cmd
}

func newWorkerRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <worker-id> <prompt...>",
		Short: "Run a prompt on a worker's thread and print the result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runWorkerRun(cmd, configPath, id, strings.Join(args[1:], " "), nil)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runWorkerRun(cmd *cobra.Command, configPath string, workerID uint, prompt string, gw remote.Gateway) error {
	a, err := newApp(configPath, gw)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entry, err := a.workers.RunOnce(ctx, a.db, workerID, prompt)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n\n", deref(entry.RunID), entry.RunStatus)
	fmt.Fprintln(out, entry.Output)
	return nil
}

func newWorkerLogsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "logs <worker-id>",
		Short: "Show a worker's run history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			entries, err := worker.Logs(gormDB, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No runs yet.")
				return nil
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tINPUT\tFILES\tCREATED")
			for _, e := range entries {
				names := make([]string, 0, len(e.Files))
				for _, f := range e.Files {
					names = append(names, f.Filename)
				}
				files := "-"
				if len(names) > 0 {
					files = strings.Join(names, ", ")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.ID, e.RunStatus, truncate(e.Input, 40), files, e.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
	return cmd
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(n), nil
}
