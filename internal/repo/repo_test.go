package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"toolgate/internal/db"
	"toolgate/internal/domain"
	"toolgate/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.MigrateContext(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func TestProfilesRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.LoadProfiles(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on fresh store, got %v", err)
	}
	in := []domain.Profile{{
		ID:               domain.DefaultProfileID,
		Name:             domain.DefaultProfileName,
		Credential:       "mcp-abc",
		EnabledTools:     map[string]bool{"exec": false},
		RequiresApproval: map[string]bool{"exec": true},
	}}
	if err := r.SaveProfiles(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	in[0].Name = "Renamed"
	if err := r.SaveProfiles(ctx, in); err != nil {
		t.Fatalf("save again: %v", err)
	}
	out, err := r.LoadProfiles(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || out[0].Name != "Renamed" || out[0].ToolEnabled("exec") || !out[0].NeedsApproval("exec") {
		t.Fatalf("unexpected profiles %+v", out)
	}
}

func TestExecutionAnalytics(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	rows := []domain.Execution{
		{Timestamp: "2026-01-01T00:00:01.000Z", ToolName: "calculator", DurationMs: 10, TokenUsage: 4},
		{Timestamp: "2026-01-01T00:00:02.000Z", ToolName: "calculator", DurationMs: 30, TokenUsage: 6, IsError: true},
		{Timestamp: "2026-01-01T00:00:03.000Z", ToolName: "exec", DurationMs: 20, TokenUsage: 10},
		{Timestamp: "2026-01-01T00:00:04.000Z", ToolName: "exec", DurationMs: 40, TokenUsage: 0},
	}
	for _, e := range rows {
		e.ProfileName = "Local Admin"
		if err := r.InsertExecution(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	a, err := r.ExecutionAnalytics(ctx)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if a.TotalRuns != 4 || a.TotalErrors != 1 || a.TotalTokens != 20 || a.SuccessRate != 75 || a.AvgDurationMs != 25 {
		t.Fatalf("unexpected totals %+v", a)
	}
	if len(a.Tools) != 2 || a.Tools[0].ToolName != "calculator" || a.Tools[0].ErrorCount != 1 || a.Tools[0].AvgDurationMs != 20 {
		t.Fatalf("unexpected per-tool stats %+v", a.Tools)
	}

	page, err := r.ListExecutions(ctx, 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Timestamp != "2026-01-01T00:00:03.000Z" || !page[1].IsError {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestEmptyAnalytics(t *testing.T) {
	a, err := newTestRepo(t).ExecutionAnalytics(context.Background())
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if a.TotalRuns != 0 || a.SuccessRate != 0 || a.Tools == nil {
		t.Fatalf("unexpected empty analytics %+v", a)
	}
}

func TestClaimIsConditional(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := domain.FormatTime(base)
	ticket := domain.Ticket{
		ID:                 "t1",
		Title:              "ship it",
		Status:             domain.TicketReady,
		Category:           "ops",
		Priority:           5,
		RequestedBy:        "alice",
		CreatedAt:          now,
		UpdatedAt:          now,
		AcceptanceCriteria: []string{},
		Dependencies:       []string{},
		ArtifactLinks:      []string{},
	}
	if err := r.InsertTicket(ctx, nil, ticket); err != nil {
		t.Fatalf("insert: %v", err)
	}
	params := ClaimParams{
		ID:          "t1",
		Actor:       "x",
		Now:         now,
		LeaseUntil:  domain.FormatTime(base.Add(5 * time.Minute)),
		StaleBefore: domain.FormatTime(base.Add(-2 * time.Minute)),
		MaxAttempts: 3,
	}
	ok, err := r.ClaimTicket(ctx, nil, params)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	params.Actor = "y"
	ok, err = r.ClaimTicket(ctx, nil, params)
	if err != nil || ok {
		t.Fatalf("second claim inside lease should not match: ok=%v err=%v", ok, err)
	}
	if ok, _ := r.HeartbeatTicket(ctx, nil, "t1", "y", now, params.LeaseUntil); ok {
		t.Fatalf("heartbeat by non-claimer matched")
	}
	got, err := r.GetTicket(ctx, nil, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TicketClaimed || got.ClaimedBy == nil || *got.ClaimedBy != "x" || got.Attempts != 1 {
		t.Fatalf("unexpected ticket %+v", got)
	}
	if _, err := r.GetTicket(ctx, nil, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTicketsLimits(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := domain.FormatTime(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	for i := 0; i < DefaultTicketLimit+1; i++ {
		err := r.InsertTicket(ctx, nil, domain.Ticket{
			ID:                 fmt.Sprintf("t%03d", i),
			Title:              "task",
			Status:             domain.TicketReady,
			Category:           "ops",
			RequestedBy:        "alice",
			CreatedAt:          now,
			UpdatedAt:          now,
			AcceptanceCriteria: []string{},
			Dependencies:       []string{},
			ArtifactLinks:      []string{},
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	cases := []struct {
		limit int
		want  int
	}{
		{0, DefaultTicketLimit},
		{3, 3},
		{MaxTicketLimit + 1, DefaultTicketLimit + 1},
	}
	for _, c := range cases {
		got, err := r.ListTickets(ctx, TicketFilters{Limit: c.limit})
		if err != nil {
			t.Fatalf("list limit=%d: %v", c.limit, err)
		}
		if len(got) != c.want {
			t.Fatalf("limit=%d: got %d rows, want %d", c.limit, len(got), c.want)
		}
	}
	if got, _ := r.ListTickets(ctx, TicketFilters{Limit: 2}); got[0].ID != "t000" {
		t.Fatalf("ties should keep creation order, first=%s", got[0].ID)
	}
}
