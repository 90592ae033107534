package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"toolgate/internal/app"
	"toolgate/internal/domain"
)

// Profile and tool commands edit the workspace store directly. A running
// server keeps its own copy in memory, so stop it first or use the admin API.

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage tenant profiles"}
	cmd.AddCommand(profileListCmd())
	cmd.AddCommand(profileCreateCmd())
	cmd.AddCommand(profileDeleteCmd())
	cmd.AddCommand(profileRegenerateCmd())
	return cmd
}

func profileListCmd() *cobra.Command {
	var showCredentials bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items := a.Gateway.Profiles().List()
				if jsonOutput() {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Enabled", "Gated", "Credential"})
				for _, p := range items {
					enabled, gated := 0, 0
					for name := range p.EnabledTools {
						if p.ToolEnabled(name) {
							enabled++
						}
						if p.NeedsApproval(name) {
							gated++
						}
					}
					cred := maskCredential(p.Credential)
					if showCredentials {
						cred = p.Credential
					}
					tw.AppendRow(table.Row{p.ID, p.Name, enabled, gated, cred})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showCredentials, "show-credentials", false, "print full credentials")
	return cmd
}

func profileCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a profile with every tool enabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Gateway.CreateProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printProfile(p)
			})
		},
	}
}

func profileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Gateway.DeleteProfile(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted profile %s\n", args[0])
				return nil
			})
		},
	}
}

func profileRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <profile-id>",
		Short: "Issue a new credential; the old one stops working",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Gateway.RegenerateCredential(ctx, args[0])
				if err != nil {
					return err
				}
				return printProfile(p)
			})
		},
	}
}

func printProfile(p domain.Profile) error {
	if jsonOutput() {
		return printJSON(p)
	}
	fmt.Printf("ID:         %s\nName:       %s\nCredential: %s\n", p.ID, p.Name, p.Credential)
	return nil
}

func maskCredential(c string) string {
	if len(c) <= 8 {
		return c
	}
	return c[:8] + strings.Repeat("*", 8)
}

func toolCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tool", Short: "Inspect and toggle tools per profile"}
	cmd.PersistentFlags().StringP("profile", "p", domain.DefaultProfileID, "profile id")
	cmd.AddCommand(toolListCmd())
	cmd.AddCommand(toolToggleCmd("enable", true))
	cmd.AddCommand(toolToggleCmd("disable", false))
	cmd.AddCommand(toolApprovalCmd())
	return cmd
}

func toolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tools with their flags for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			profileID, _ := cmd.Flags().GetString("profile")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				states, ok := a.Gateway.ToolStates(profileID)
				if !ok {
					return fmt.Errorf("profile %s not found", profileID)
				}
				if jsonOutput() {
					return printJSON(states)
				}
				tw := newTable(table.Row{"Name", "Category", "Enabled", "Approval", "Description"})
				for _, s := range states {
					tw.AppendRow(table.Row{s.Name, s.Category, s.Enabled, s.RequiresApproval, s.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func toolToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <tool>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a tool for a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profileID, _ := cmd.Flags().GetString("profile")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ok, err := a.Gateway.SetToolEnabled(ctx, profileID, args[0], enabled)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("profile %s or tool %s not found", profileID, args[0])
				}
				fmt.Printf("%s: %s enabled=%t\n", profileID, args[0], enabled)
				return nil
			})
		},
	}
}

func toolApprovalCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "approval <tool>",
		Short: "Require operator approval for a tool (--off to clear)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profileID, _ := cmd.Flags().GetString("profile")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ok, err := a.Gateway.SetToolApproval(ctx, profileID, args[0], !off)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("profile %s or tool %s not found", profileID, args[0])
				}
				fmt.Printf("%s: %s requires_approval=%t\n", profileID, args[0], !off)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "clear the approval requirement")
	return cmd
}

func categoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "category", Short: "Toggle every tool in a category"}
	cmd.PersistentFlags().StringP("profile", "p", domain.DefaultProfileID, "profile id")
	for _, verb := range []string{"enable", "disable"} {
		enabled := verb == "enable"
		cmd.AddCommand(&cobra.Command{
			Use:   verb + " <category>",
			Short: verb + " a category for a profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				profileID, _ := cmd.Flags().GetString("profile")
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					ok, err := a.Gateway.SetCategoryEnabled(ctx, profileID, args[0], enabled)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("profile %s or category %s not found", profileID, args[0])
					}
					fmt.Printf("%s: category %s enabled=%t\n", profileID, args[0], enabled)
					return nil
				})
			},
		})
	}
	return cmd
}
