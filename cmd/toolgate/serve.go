package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"toolgate/internal/app"
	"toolgate/internal/domain"
	"toolgate/internal/gateway"
	"toolgate/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var stdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin API and MCP transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				secret := viper.GetString("jwt-secret")
				if secret == "" {
					secret = a.Config.Server.JWTSecret
				}
				if secret == "" {
					a.Logger.Printf("TOOLGATE_JWT_SECRET is not set; bearer login is disabled, use X-Api-Key")
				}
				handler, err := server.New(server.Config{
					App:            a,
					BasePath:       basePath,
					MCPPath:        a.Config.Server.MCPPath,
					AllowedOrigins: a.Config.Server.AllowedOrigins,
					Auth:           server.AuthConfig{JWTSecret: secret, Logger: a.Logger},
					Logger:         a.Logger,
					Version:        version,
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, a.Repo, a.Config.Webhooks, a.Logger)
				if stdio {
					go func() {
						if err := serveStdio(ctx, a); err != nil {
							a.Logger.Printf("stdio: %v", err)
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Fprintf(os.Stderr, "Serving Toolgate on http://%s (admin API at %s, MCP at %s/sse and %s/ws, Swagger UI at %s/docs)\n",
					addr, basePath, a.Config.Server.MCPPath, a.Config.Server.MCPPath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from toolgate.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "admin API base path (default from toolgate.yml)")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "also serve MCP on stdin/stdout as the default profile")
	return cmd
}

func stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP on stdin/stdout as the default profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, serveStdio)
		},
	}
}

// serveStdio binds one session to the default profile for the life of ctx.
// Stdout carries protocol frames only, so logs go to stderr.
func serveStdio(ctx context.Context, a *app.App) error {
	profile, ok := a.Gateway.Profiles().Get(domain.DefaultProfileID)
	if !ok {
		return fmt.Errorf("default profile missing")
	}
	ep := a.Gateway.Connect(profile, gateway.TransportStdio)
	defer ep.Close()
	stdio := mcpserver.NewStdioServer(ep.MCPServer())
	stdio.SetErrorLogger(log.New(os.Stderr, "toolgate stdio: ", log.LstdFlags))
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
