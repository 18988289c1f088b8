package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/orquestrix/internal/chat"
	"github.com/zulandar/orquestrix/internal/remote"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "List chats and send messages",
	}

	cmd.AddCommand(newChatListCmd())
	cmd.AddCommand(newChatSendCmd())
	return cmd
}

func newChatListCmd() *cobra.Command {
	var (
		configPath string
		projectID  uint
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chats, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			var opts chat.ListOpts
			if projectID > 0 {
				opts.ProjectID = &projectID
			}
			chats, err := chat.List(gormDB, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(chats) == 0 {
				fmt.Fprintln(out, "No chats found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMODEL\tCREATED")
			for _, c := range chats {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					c.ID, truncate(c.Title, 40), c.Model, c.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().UintVar(&projectID, "project", 0, "only chats of this project")
	return cmd
}

func newChatSendCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "send <chat-id> <message...>",
		Short: "Send a message to a chat and print the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runChatSend(cmd, configPath, id, strings.Join(args[1:], " "), nil)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runChatSend(cmd *cobra.Command, configPath string, chatID uint, text string, gw remote.Gateway) error {
	a, err := newApp(configPath, gw)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	reply, err := a.chats.Send(ctx, a.db, chatID, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
	return nil
}
