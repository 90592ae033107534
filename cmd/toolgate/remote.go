package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	toolgatesdk "toolgate/sdk/go"
)

// Approvals and sessions only exist inside a running server, so these
// commands go through the admin API.

func remoteClient() (*toolgatesdk.Client, error) {
	key := viper.GetString("api-key")
	token := viper.GetString("token")
	if key == "" && token == "" {
		return nil, fmt.Errorf("--api-key or TOOLGATE_TOKEN is required")
	}
	c := toolgatesdk.New(viper.GetString("url"), key)
	c.BearerToken = token
	return c, nil
}

func withClient(ctx context.Context, fn func(context.Context, *toolgatesdk.Client) error) error {
	c, err := remoteClient()
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

func approvalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "approval", Short: "Review gated tool calls on a running server"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *toolgatesdk.Client) error {
				items, err := c.PendingApprovals(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Tool", "Profile", "Created", "Args"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.ToolName, p.ProfileName, p.CreatedAt, fmt.Sprint(p.Args)})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "approve <id>",
		Short: "Let a pending call run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *toolgatesdk.Client) error {
				res, err := c.Approve(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", res.ID, res.Status)
				return nil
			})
		},
	})
	var reason string
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Deny a pending call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *toolgatesdk.Client) error {
				res, err := c.Reject(ctx, args[0], reason)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", res.ID, res.Status)
				return nil
			})
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "reason reported to the agent")
	cmd.AddCommand(reject)
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Inspect live MCP sessions on a running server"}
	var profileID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List connected sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *toolgatesdk.Client) error {
				items, err := c.Connections(ctx, profileID)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Session", "Profile", "Transport", "Connected"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.SessionID, s.ProfileName, s.Transport, s.ConnectedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&profileID, "profile", "", "only sessions of this profile")
	cmd.AddCommand(list)
	return cmd
}
