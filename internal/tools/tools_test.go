package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"toolgate/internal/config"
	"toolgate/internal/db"
	"toolgate/internal/domain"
	"toolgate/internal/engine"
	"toolgate/internal/migrate"
)

func run(t *testing.T, tool Tool, args map[string]any) Response {
	t.Helper()
	res, err := tool.Execute(context.Background(), Call{Args: args, ProfileID: "p1", ProfileName: "Agent One"})
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", tool.Definition().Name, err)
	}
	return res
}

func TestCalculator(t *testing.T) {
	cases := []struct {
		op   string
		a, b any
		want string
		err  bool
	}{
		{"add", 2.0, 3.0, "5", false},
		{"subtract", 2.0, 3.5, "-1.5", false},
		{"multiply", "4", 2.5, "10", false},
		{"divide", 9.0, 3.0, "3", false},
		{"divide", 1.0, 0.0, "Division by zero", true},
		{"modulo", 1.0, 2.0, "Unknown operation: modulo", true},
	}
	for _, c := range cases {
		res := run(t, Calculator{}, map[string]any{"operation": c.op, "a": c.a, "b": c.b})
		if res.IsError != c.err || res.Text() != c.want {
			t.Fatalf("%s(%v,%v) = %+v, want %q err=%v", c.op, c.a, c.b, res, c.want, c.err)
		}
	}
	if res := run(t, Calculator{}, map[string]any{"operation": "add", "a": 1.0}); !res.IsError {
		t.Fatalf("missing operand should fail")
	}
}

func TestDefinitionSchemaIsObject(t *testing.T) {
	var schema map[string]any
	if err := json.Unmarshal(Calculator{}.Definition().RawSchema(), &schema); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("schema type %v", schema["type"])
	}
	props := schema["properties"].(map[string]any)
	if _, ok := props["operation"]; !ok {
		t.Fatalf("operation property missing")
	}
}

func TestFileToolsStayInRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if res := run(t, ReadFile{Root: root}, map[string]any{"path": "notes.txt"}); res.IsError || res.Text() != "hello" {
		t.Fatalf("read: %+v", res)
	}
	if res := run(t, ReadFile{Root: root}, map[string]any{"path": "../outside.txt"}); !res.IsError || !strings.Contains(res.Text(), "outside the workspace") {
		t.Fatalf("escape should fail: %+v", res)
	}
	if res := run(t, ReadFile{Root: root}, map[string]any{"path": "missing.txt"}); !res.IsError {
		t.Fatalf("missing file should fail")
	}
	res := run(t, ListDirectory{Root: root}, map[string]any{})
	if res.IsError || res.Text() != "notes.txt\nsub/" {
		t.Fatalf("list: %+v", res)
	}
}

func TestFileToolsHideGatewayState(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".toolgate"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{".toolgate/toolgate.db", ".env", "toolgate.yml", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("mcp-secret"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	for _, rel := range []string{".toolgate/toolgate.db", ".env", "toolgate.yml", "./.toolgate/../.env", filepath.Join(root, ".toolgate", "toolgate.db")} {
		res := run(t, ReadFile{Root: root}, map[string]any{"path": rel})
		if !res.IsError || strings.Contains(res.Text(), "mcp-secret") {
			t.Fatalf("%s should be refused: %+v", rel, res)
		}
	}
	if res := run(t, ListDirectory{Root: root}, map[string]any{"path": ".toolgate"}); !res.IsError {
		t.Fatalf("listing the state dir should fail: %+v", res)
	}
	if res := run(t, ListDirectory{Root: root}, map[string]any{}); res.IsError || res.Text() != "notes.txt" {
		t.Fatalf("root listing should hide protected entries: %+v", res)
	}
}

func TestFileToolsDoNotFollowSymlinksOut(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("outside"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "secret-link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, ".toolgate"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, ".toolgate"), filepath.Join(root, "state")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	for _, rel := range []string{"escape/secret.txt", "secret-link"} {
		res := run(t, ReadFile{Root: root}, map[string]any{"path": rel})
		if !res.IsError || !strings.Contains(res.Text(), "outside the workspace") {
			t.Fatalf("%s should be refused: %+v", rel, res)
		}
	}
	if res := run(t, ListDirectory{Root: root}, map[string]any{"path": "escape"}); !res.IsError {
		t.Fatalf("listing through a symlink out of root should fail: %+v", res)
	}
	if res := run(t, ListDirectory{Root: root}, map[string]any{"path": "state"}); !res.IsError || !strings.Contains(res.Text(), "not accessible") {
		t.Fatalf("symlink to the state dir should be refused: %+v", res)
	}
}

func TestExec(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	res := run(t, Exec{Dir: t.TempDir()}, map[string]any{"command": "echo", "args": []any{"hi", "there"}})
	if res.IsError || strings.TrimSpace(res.Text()) != "hi there" {
		t.Fatalf("exec: %+v", res)
	}
	if res := run(t, Exec{}, map[string]any{"command": "definitely-not-a-real-binary"}); !res.IsError {
		t.Fatalf("unknown binary should fail")
	}
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "page body")
	}))
	defer srv.Close()
	if res := run(t, WebFetch{}, map[string]any{"url": srv.URL + "/"}); res.IsError || res.Text() != "page body" {
		t.Fatalf("fetch: %+v", res)
	}
	if res := run(t, WebFetch{}, map[string]any{"url": srv.URL + "/missing"}); !res.IsError || !strings.HasPrefix(res.Text(), "HTTP 404") {
		t.Fatalf("404 should fail: %+v", res)
	}
	if res := run(t, WebFetch{}, map[string]any{"url": "ftp://example.com"}); !res.IsError {
		t.Fatalf("ftp should be rejected")
	}
}

func newTicketEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, config.Default())
}

func decodeTicket(t *testing.T, res Response) domain.Ticket {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool failed: %s", res.Text())
	}
	var ticket domain.Ticket
	if err := json.Unmarshal([]byte(res.Text()), &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	return ticket
}

func TestTicketToolsFlow(t *testing.T) {
	e := newTicketEngine(t)
	byName := map[string]Tool{}
	for _, tool := range TicketTools(e) {
		byName[tool.Definition().Name] = tool
	}
	created := decodeTicket(t, run(t, byName["ticket_create"], map[string]any{
		"title": "Write launch post", "description": "Blog post for launch", "category": "marketing",
		"acceptance_criteria": []any{"reviewed by legal"},
	}))
	if created.RequestedBy != "p1" || created.Priority != 5 || len(created.AcceptanceCriteria) != 1 {
		t.Fatalf("unexpected ticket: %+v", created)
	}

	listRes := run(t, byName["ticket_list"], map[string]any{})
	var listed []domain.Ticket
	if err := json.Unmarshal([]byte(listRes.Text()), &listed); err != nil || len(listed) != 1 {
		t.Fatalf("list: %v %s", err, listRes.Text())
	}

	claimed := decodeTicket(t, run(t, byName["ticket_claim"], map[string]any{"ticket_id": created.ID}))
	if claimed.Status != domain.TicketClaimed || *claimed.ClaimedBy != "p1" {
		t.Fatalf("unexpected claim: %+v", claimed)
	}
	other, err := byName["ticket_claim"].Execute(context.Background(), Call{Args: map[string]any{"ticket_id": created.ID}, ProfileID: "p2"})
	if err != nil || !other.IsError || !strings.Contains(other.Text(), "Status: claimed") {
		t.Fatalf("second claim should conflict: %+v %v", other, err)
	}
	decodeTicket(t, run(t, byName["ticket_heartbeat"], map[string]any{"ticket_id": created.ID}))

	blocked := run(t, byName["ticket_update"], map[string]any{"ticket_id": created.ID, "status": "blocked"})
	if !blocked.IsError || !strings.Contains(blocked.Text(), "reason") {
		t.Fatalf("blocked without reason should fail: %+v", blocked)
	}
	updated := decodeTicket(t, run(t, byName["ticket_update"], map[string]any{
		"ticket_id": created.ID, "status": "blocked", "reason": "waiting for legal",
	}))
	if updated.Status != domain.TicketBlocked || *updated.Reason != "waiting for legal" {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if res := run(t, byName["ticket_claim"], map[string]any{"ticket_id": "nope"}); !res.IsError || res.Text() != "Ticket not found" {
		t.Fatalf("missing ticket: %+v", res)
	}
}

func TestBuiltinsWithoutEngine(t *testing.T) {
	names := map[string]bool{}
	for _, tool := range Builtins(BuiltinOptions{}) {
		names[tool.Definition().Name] = true
	}
	if !names["calculator"] || !names["exec"] || names["ticket_claim"] {
		t.Fatalf("unexpected builtin set: %v", names)
	}
}
