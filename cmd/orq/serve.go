package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/orquestrix/internal/api"
	"github.com/zulandar/orquestrix/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON API server",
		Long:  "Serves the Orquestrix JSON API. When sync.schedule is set, reconciliation pulls also run on that cron schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	a, err := newApp(configPath, nil)
	if err != nil {
		return err
	}
	defer a.log.Sync()
	if port <= 0 {
		port = a.cfg.Server.Port
	}

	var sched *scheduler.Scheduler
	if a.cfg.Sync.Schedule != "" {
		sched, err = scheduler.New(a.cfg.Sync.Schedule, a.db, a.engine, a.log)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(gctx, api.StartOpts{
			Deps: api.Deps{
				DB:           a.db,
				Gateway:      a.gw,
				Actor:        a.actor,
				Engine:       a.engine,
				Assistants:   a.assistants,
				VectorStores: a.vectorStores,
				Files:        a.files,
				Chats:        a.chats,
				Workers:      a.workers,
				ChatModel:    a.cfg.OpenAI.ChatModel,
				WorkerModel:  a.cfg.OpenAI.WorkerModel,
				Log:          a.log,
			},
			Port: port,
			Out:  cmd.OutOrStdout(),
		})
	})
	if sched != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Sync schedule %q, next run %s\n",
			a.cfg.Sync.Schedule, sched.Next(time.Now()).Format("2006-01-02 15:04"))
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	return g.Wait()
}
