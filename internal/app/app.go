// Package app wires the store, ticket engine, tool registry, approval
// gate, audit sink and gateway for one workspace.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"toolgate/internal/approval"
	"toolgate/internal/audit"
	"toolgate/internal/config"
	"toolgate/internal/db"
	"toolgate/internal/engine"
	"toolgate/internal/events"
	"toolgate/internal/gateway"
	"toolgate/internal/migrate"
	"toolgate/internal/repo"
	"toolgate/internal/tools"
)

type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *log.Logger
	Now       func() time.Time
	Version   string
	// Tools replaces the built-in catalog when non-nil.
	Tools []tools.Tool
}

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Engine    engine.Engine
	Gateway   *gateway.Gateway
	Audit     *audit.Sink
	Logger    *log.Logger
}

// Open brings up every component for opts.Workspace. The caller must Close
// the returned App.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r := repo.Repo{DB: conn}
	eng := engine.New(conn, cfg)
	eng.Now = now

	catalog := opts.Tools
	if catalog == nil {
		catalog = tools.Builtins(tools.BuiltinOptions{
			Root:        workspace,
			Engine:      eng,
			HTTPClient:  &http.Client{Timeout: 30 * time.Second},
			ExecTimeout: 30 * time.Second,
		})
	}
	registry := gateway.NewRegistry()
	for _, t := range catalog {
		if err := registry.Register(t); err != nil {
			conn.Close()
			return nil, err
		}
	}
	registry.Seal()

	profiles := gateway.NewProfileStore(r)
	if err := profiles.Load(ctx, registry.Names()); err != nil {
		conn.Close()
		return nil, err
	}

	sink := audit.NewSink(r, audit.Options{Buffer: cfg.Audit.Buffer, Logger: logger})
	gate := approval.New(approval.Options{
		Timeout:   cfg.Approval.Timeout,
		Logger:    logger,
		Now:       now,
		OnRequest: approvalEvents(conn, logger, now),
	})
	gw := gateway.New(gateway.Options{
		Registry:       registry,
		Profiles:       profiles,
		Gate:           gate,
		Audit:          sink,
		ResultMaxChars: cfg.Audit.ResultMaxChars,
		Logger:         logger,
		Now:            now,
		ServerVersion:  opts.Version,
	})

	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Repo:      r,
		Engine:    eng,
		Gateway:   gw,
		Audit:     sink,
		Logger:    logger,
	}, nil
}

// approvalEvents records each new approval request in the event log so
// webhook subscribers learn about calls waiting for an operator.
func approvalEvents(conn *sql.DB, logger *log.Logger, now func() time.Time) func(approval.Request) {
	w := events.Writer{Now: now}
	return func(r approval.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := w.Append(ctx, conn, events.ApprovalRequested, "approval", r.ID, r.ProfileID, events.EventPayload{
			"tool_name": r.ToolName, "profile_name": r.ProfileName,
		})
		if err != nil {
			logger.Printf("hitl: record request %s: %v", r.ID, err)
		}
	}
}

// Close flushes queued audit records and closes the database.
func (a *App) Close() error {
	a.Audit.Close()
	return a.DB.Close()
}
