package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"toolgate/internal/app"
	"toolgate/internal/auth"
	"toolgate/internal/domain"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Read the tool execution log"}
	var limit, offset int
	logs := &cobra.Command{
		Use:   "logs",
		Short: "List executions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListExecutions(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Timestamp", "Tool", "Profile", "Error", "ms", "Tokens", "Result"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.Timestamp, e.ToolName, e.ProfileName, e.IsError, e.DurationMs, e.TokenUsage, e.Result})
				}
				tw.Render()
				return nil
			})
		},
	}
	logs.Flags().IntVar(&limit, "limit", 50, "max rows")
	logs.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.AddCommand(logs)
	cmd.AddCommand(&cobra.Command{
		Use:   "analytics",
		Short: "Aggregate execution statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Repo.ExecutionAnalytics(ctx)
				if err != nil {
					return err
				}
				counts, err := a.Repo.CountTicketsByStatus(ctx)
				if err != nil {
					return err
				}
				return printAnalytics(stats, counts)
			})
		},
	})
	return cmd
}

func printAnalytics(stats domain.Analytics, tickets map[string]int) error {
	if jsonOutput() {
		return printJSON(struct {
			domain.Analytics
			TicketsByStatus map[string]int `json:"tickets_by_status"`
		}{stats, tickets})
	}
	fmt.Printf("Runs: %d  Errors: %d  Success: %.1f%%  Avg: %.1fms  Tokens: %d\n",
		stats.TotalRuns, stats.TotalErrors, stats.SuccessRate, stats.AvgDurationMs, stats.TotalTokens)
	tw := newTable(table.Row{"Tool", "Count", "Errors", "Avg ms", "Tokens"})
	for _, s := range stats.Tools {
		tw.AppendRow(table.Row{s.ToolName, s.Count, s.ErrorCount, fmt.Sprintf("%.1f", s.AvgDurationMs), s.TotalTokens})
	}
	tw.Render()
	if len(tickets) > 0 {
		tt := newTable(table.Row{"Ticket status", "Count"})
		for _, status := range domain.TicketStatuses {
			if n, ok := tickets[status]; ok {
				tt.AppendRow(table.Row{status, n})
			}
		}
		tt.Render()
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Admin JWT helpers"}
	var ttl time.Duration
	var subject string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign an admin token with TOOLGATE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				cfg, err := loadConfig(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				secret = cfg.Server.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("TOOLGATE_JWT_SECRET is required (run toolgate init)")
			}
			token, err := auth.IssueToken(secret, subject, ttl, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	issue.Flags().StringVar(&subject, "subject", domain.DefaultProfileName, "token subject")
	cmd.AddCommand(issue)
	return cmd
}
