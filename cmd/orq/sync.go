package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/orquestrix/internal/reconcile"
	"github.com/zulandar/orquestrix/internal/remote"
)

const (
	syncMemberships = "memberships"
	syncAll         = "all"
)

func newSyncCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sync <assistants|vector_stores|files|memberships|all>",
		Short: "Pull remote resources into the local store",
		Long: `Pulls the named remote collection into the local mirror. Rows are
matched by external id and never deleted. "memberships" refreshes only the
vector store file relations; "all" pulls every kind in order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, configPath, args[0], nil)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSync(cmd *cobra.Command, configPath, kind string, gw remote.Gateway) error {
	kind = strings.ReplaceAll(strings.TrimSpace(kind), "-", "_")
	switch kind {
	case syncMemberships, syncAll:
	default:
		if !validKind(kind) {
			return fmt.Errorf("unknown sync kind %q (want %s, %s or %s)",
				kind, strings.Join(reconcile.Kinds, ", "), syncMemberships, syncAll)
		}
	}

	a, err := newApp(configPath, gw)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if kind == syncMemberships {
		res, err := a.engine.SyncMemberships(ctx, a.db)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "memberships: %d changed across %d stores\n", res.Changed, res.StoresProcessed)
		return nil
	}

	kinds := []string{kind}
	if kind == syncAll {
		kinds = reconcile.Kinds
	}
	for _, k := range kinds {
		res, err := a.engine.Pull(ctx, a.db, k)
		if err != nil {
			return fmt.Errorf("sync %s: %w", k, err)
		}
		fmt.Fprintf(out, "%s: %d added, %d updated\n", k, res.Added, res.Updated)
	}
	return nil
}

func validKind(kind string) bool {
	for _, k := range reconcile.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
