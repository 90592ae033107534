package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Approval.Timeout != 5*time.Minute || cfg.Tickets.LeaseDuration != 5*time.Minute || cfg.Tickets.HeartbeatGrace != 2*time.Minute {
		t.Fatalf("unexpected durations %+v %+v", cfg.Approval, cfg.Tickets)
	}
	if cfg.Tickets.MaxAttempts != 3 || cfg.Audit.ResultMaxChars != 500 || cfg.Server.BasePath != "/api" || cfg.Server.MCPPath != "/mcp" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestFromYAMLKeepsUnsetDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("approval:\n  timeout: 30s\ntickets:\n  enforce_claimer: true\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Approval.Timeout != 30*time.Second || !cfg.Tickets.EnforceClaimer {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Tickets.MaxAttempts != 3 || cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"base_path":    "server:\n  base_path: api\n",
		"must differ":  "server:\n  base_path: /x\n  mcp_path: /x\n",
		"timeout":      "approval:\n  timeout: 0s\n",
		"max_attempts": "tickets:\n  max_attempts: 0\n",
		"url":          "webhooks:\n  - events: [ticket.claimed]\n",
	}
	for want, doc := range cases {
		_, err := FromYAML([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%q: expected error containing %q, got %v", doc, want, err)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Audit.Buffer != 256 {
		t.Fatalf("expected defaults, got %+v", cfg.Audit)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "toolgate init") {
		t.Fatalf("expected missing config hint, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "toolgate.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load written default: %v", err)
	}
}
