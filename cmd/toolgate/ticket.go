package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"toolgate/internal/app"
	"toolgate/internal/domain"
	"toolgate/internal/engine"
)

func ticketCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ticket", Short: "Work with the ticket queue"}
	cmd.PersistentFlags().String("actor", "local-user", "actor identifier")
	cmd.AddCommand(ticketListCmd())
	cmd.AddCommand(ticketCreateCmd())
	cmd.AddCommand(ticketShowCmd())
	cmd.AddCommand(ticketClaimCmd())
	cmd.AddCommand(ticketHeartbeatCmd())
	cmd.AddCommand(ticketUpdateCmd())
	cmd.AddCommand(ticketEventsCmd())
	return cmd
}

func ticketListCmd() *cobra.Command {
	var opts engine.TicketListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets (ready by default, --status all for every ticket)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListTickets(ctx, opts)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Status", "Category", "Priority", "Claimed By", "Lease Until", "Attempts"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Category, t.Priority, deref(t.ClaimedBy), deref(t.LeaseUntil), t.Attempts})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&opts.TargetRoleHint, "role", "", "target role hint filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max rows")
	return cmd
}

func ticketCreateCmd() *cobra.Command {
	var opts engine.TicketCreateOptions
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a ready ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = args[0]
			if opts.RequestedBy == "" {
				opts.RequestedBy, _ = cmd.Flags().GetString("actor")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTicket(ctx, opts)
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "code", "category")
	cmd.Flags().IntVar(&opts.Priority, "priority", engine.DefaultPriority, "priority (1-10)")
	cmd.Flags().StringVar(&opts.TargetRoleHint, "role", "", "target role hint")
	cmd.Flags().BoolVar(&opts.PlanningMode, "planning", false, "planning mode")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringSliceVar(&opts.AcceptanceCriteria, "accept", nil, "acceptance criteria (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Dependencies, "depends-on", nil, "dependency ticket ids (repeatable)")
	cmd.Flags().StringVar(&opts.RequestedBy, "requested-by", "", "requester (defaults to --actor)")
	return cmd
}

func ticketShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
}

func ticketClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a ticket and take its lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.ClaimTicket(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
}

func ticketHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <id>",
		Short: "Extend the lease on a claimed ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Heartbeat(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
}

func ticketUpdateCmd() *cobra.Command {
	var status, title, description, reason, category string
	var priority int
	var accept, links []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update status or fields of a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			opts := engine.TicketUpdateOptions{ID: args[0], ActorID: actor}
			flags := cmd.Flags()
			if flags.Changed("status") {
				opts.Status = &status
			}
			if flags.Changed("title") {
				opts.Title = &title
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("reason") {
				opts.Reason = &reason
			}
			if flags.Changed("category") {
				opts.Category = &category
			}
			if flags.Changed("priority") {
				opts.Priority = &priority
			}
			if flags.Changed("accept") {
				opts.AcceptanceCriteria = accept
			}
			if flags.Changed("link") {
				opts.ArtifactLinks = links
			}
			if err := engine.CheckBlockedReason(status, opts.Reason); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTicket(ctx, opts)
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&reason, "reason", "", "reason (required for blocked)")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (1-10)")
	cmd.Flags().StringSliceVar(&accept, "accept", nil, "replace acceptance criteria")
	cmd.Flags().StringSliceVar(&links, "link", nil, "replace artifact links")
	return cmd
}

func ticketEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show the event log of a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.TicketEvents(ctx, args[0], n)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Actor", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of events")
	return cmd
}

func printTicket(t domain.Ticket) error {
	if jsonOutput() {
		return printJSON(t)
	}
	fmt.Printf("ID:        %s\nTitle:     %s\nStatus:    %s\nCategory:  %s\nPriority:  %d\nAttempts:  %d\n",
		t.ID, t.Title, t.Status, t.Category, t.Priority, t.Attempts)
	if t.ClaimedBy != nil {
		fmt.Printf("Claimed:   %s until %s\n", *t.ClaimedBy, deref(t.LeaseUntil))
	}
	if t.Reason != nil {
		fmt.Printf("Reason:    %s\n", *t.Reason)
	}
	return nil
}
