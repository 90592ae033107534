package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetEnvValueReplacesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OTHER=1\nTOOLGATE_JWT_SECRET=old\n"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := setEnvValue(path, "TOOLGATE_JWT_SECRET", "new"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := setEnvValue(path, "TOOLGATE_ADDR", "127.0.0.1:9000"); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "OTHER=1\nTOOLGATE_JWT_SECRET=new\nTOOLGATE_ADDR=127.0.0.1:9000\n"
	if string(data) != want {
		t.Fatalf("unexpected .env:\n%s", data)
	}
}

func TestSetEnvValueCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := setEnvValue(path, "K", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "K=v\n" {
		t.Fatalf("unexpected .env %q", data)
	}
}

func TestMaskCredential(t *testing.T) {
	if got := maskCredential("mcp-0123456789abcdef"); got != "mcp-0123********" {
		t.Fatalf("mask: %q", got)
	}
	if got := maskCredential("short"); got != "short" {
		t.Fatalf("short mask: %q", got)
	}
}
