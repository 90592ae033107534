package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"toolgate/internal/app"
	"toolgate/internal/auth"
	"toolgate/internal/config"
	"toolgate/internal/domain"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Toolgate CLI",
	Long: `Toolgate exposes a catalog of tools to agents over MCP.
Core concepts:
- Profile: a tenant identity with a bearer credential and per-tool enable and approval flags.
- Session: one live MCP connection (SSE, WebSocket or stdio) bound to a profile.
- Approval: a gated tool call waiting for an operator to approve or reject it.
- Ticket: a unit of work in the lease-based queue (claim, heartbeat, update).
- Audit: every tool call is recorded with its duration and usage estimate.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	if workspace == "" {
		workspace = "."
	}
	// A missing .env is fine; values already in the environment win.
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("TOOLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("url", "http://127.0.0.1:8080", "running server URL (approval and session commands)")
	rootCmd.PersistentFlags().String("api-key", "", "admin credential for the running server")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(stdioCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(toolCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default toolgate.yml and a JWT secret into .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			secret, err := auth.NewSecret()
			if err != nil {
				return err
			}
			envPath := filepath.Join(workspace, ".env")
			if err := setEnvValue(envPath, "TOOLGATE_JWT_SECRET", secret); err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			def, _ := a.Gateway.Profiles().Get(domain.DefaultProfileID)
			fmt.Printf("Wrote %s and %s\n", path, envPath)
			fmt.Printf("Default profile %q credential: %s\n", def.Name, def.Credential)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing toolgate.yml")
	return cmd
}

// --- helpers ---

func loadConfig(workspace string) (*config.Config, error) {
	return config.LoadOptional(workspace)
}

func openApp(ctx context.Context, workspace string) (*app.App, error) {
	cfg, err := loadConfig(workspace)
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, app.Options{
		Workspace: workspace,
		Config:    cfg,
		Logger:    log.New(os.Stderr, "toolgate: ", log.LstdFlags),
		Version:   version,
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
