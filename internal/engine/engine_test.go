package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"toolgate/internal/config"
	"toolgate/internal/db"
	"toolgate/internal/domain"
	"toolgate/internal/engine"
	"toolgate/internal/migrate"
	"toolgate/internal/repo"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Clock  *testClock
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default())
	eng.Now = clock.Now
	return testEnv{Engine: eng, Clock: clock, Ctx: context.Background()}
}

func (env testEnv) createTicket(t *testing.T) domain.Ticket {
	t.Helper()
	ticket, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{
		Title:       "Rotate credentials",
		Description: "Rotate the staging database password",
		Category:    "ops",
		RequestedBy: "planner",
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func leaseUntil(t *testing.T, ticket domain.Ticket) time.Time {
	t.Helper()
	if ticket.LeaseUntil == nil {
		t.Fatalf("lease_until not set")
	}
	ts, err := domain.ParseTime(*ticket.LeaseUntil)
	if err != nil {
		t.Fatalf("parse lease_until: %v", err)
	}
	return ts
}

func TestCreateClaimAndConflict(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if ticket.Status != domain.TicketReady || ticket.Attempts != 0 || ticket.Priority != 5 {
		t.Fatalf("unexpected new ticket: %+v", ticket)
	}
	if ticket.ClaimedBy != nil || ticket.LeaseUntil != nil {
		t.Fatalf("new ticket must not carry claim fields")
	}

	claimed, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != domain.TicketClaimed || claimed.Attempts != 1 || *claimed.ClaimedBy != "agent-x" {
		t.Fatalf("unexpected claimed ticket: %+v", claimed)
	}
	if want := env.Clock.Now().Add(5 * time.Minute); !leaseUntil(t, claimed).Equal(want) {
		t.Fatalf("lease_until %v, want %v", leaseUntil(t, claimed), want)
	}

	env.Clock.Advance(time.Minute)
	_, err = env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y")
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) || conflict.Status != domain.TicketClaimed {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err.Error() != "Ticket is currently claimed or not ready. Status: claimed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	after, err := env.Engine.GetTicket(env.Ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *after.ClaimedBy != "agent-x" || after.Attempts != 1 {
		t.Fatalf("losing claim changed ticket: %+v", after)
	}
}

func TestStealAfterLeaseExpiry(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	env.Clock.Advance(5*time.Minute + time.Second)
	stolen, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y")
	if err != nil {
		t.Fatalf("steal: %v", err)
	}
	if *stolen.ClaimedBy != "agent-y" || stolen.Attempts != 2 {
		t.Fatalf("unexpected stolen ticket: %+v", stolen)
	}
}

func TestStealAfterStaleHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Within the lease but past the heartbeat grace window.
	env.Clock.Advance(2*time.Minute + time.Second)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y"); err != nil {
		t.Fatalf("steal on stale heartbeat: %v", err)
	}
}

func TestInProgressIsStealable(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	status := domain.TicketInProgress
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Status: &status, ActorID: "agent-x"}); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y"); err == nil {
		t.Fatalf("fresh in_progress ticket must not be claimable")
	}
	env.Clock.Advance(6 * time.Minute)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y"); err != nil {
		t.Fatalf("steal in_progress: %v", err)
	}
}

func TestHeartbeatExtendsLeaseOnlyForClaimer(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	claimed, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	prev := leaseUntil(t, claimed)
	for i := 0; i < 3; i++ {
		env.Clock.Advance(90 * time.Second)
		hb, err := env.Engine.Heartbeat(env.Ctx, ticket.ID, "agent-x")
		if err != nil {
			t.Fatalf("heartbeat %d: %v", i, err)
		}
		next := leaseUntil(t, hb)
		if !next.After(prev) {
			t.Fatalf("lease did not move forward: %v -> %v", prev, next)
		}
		if hb.Status != domain.TicketClaimed {
			t.Fatalf("heartbeat changed status to %s", hb.Status)
		}
		prev = next
	}
	if _, err := env.Engine.Heartbeat(env.Ctx, ticket.ID, "agent-y"); !errors.Is(err, engine.ErrNotClaimer) {
		t.Fatalf("expected ErrNotClaimer, got %v", err)
	}
	// Heartbeats keep the ticket out of reach of other claimers.
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y"); err == nil {
		t.Fatalf("heartbeating ticket must not be stealable")
	}
}

func TestHeartbeatAfterStealFails(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	env.Clock.Advance(10 * time.Minute)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y"); err != nil {
		t.Fatalf("steal: %v", err)
	}
	if _, err := env.Engine.Heartbeat(env.Ctx, ticket.ID, "agent-x"); !errors.Is(err, engine.ErrNotClaimer) {
		t.Fatalf("stale worker renewed lease: %v", err)
	}
}

func TestMaxAttemptsCancelsTicket(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, fmt.Sprintf("agent-%d", i)); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		env.Clock.Advance(6 * time.Minute)
	}
	_, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-late")
	var maxErr engine.MaxAttemptsError
	if !errors.As(err, &maxErr) || maxErr.Attempts != 3 {
		t.Fatalf("expected max attempts error, got %v", err)
	}
	got, err := env.Engine.GetTicket(env.Ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TicketCanceled || got.Reason == nil || *got.Reason != "Max attempts reached during claim" {
		t.Fatalf("unexpected ticket after exhaustion: %+v", got)
	}
	if got.ClaimedBy != nil || got.LeaseUntil != nil || got.HeartbeatAt != nil || got.ClaimedAt != nil {
		t.Fatalf("canceled ticket kept claim fields")
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-late"); !errors.As(err, &conflict) {
		t.Fatalf("canceled ticket should conflict, got %v", err)
	}
}

func TestExhaustedButLeasedTicketConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Tickets.MaxAttempts = 1
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y"); !errors.As(err, &conflict) {
		t.Fatalf("held lease should conflict, got %v", err)
	}
	got, _ := env.Engine.GetTicket(env.Ctx, ticket.ID)
	if got.Status != domain.TicketClaimed {
		t.Fatalf("ticket should stay claimed, got %s", got.Status)
	}
	env.Clock.Advance(6 * time.Minute)
	var maxErr engine.MaxAttemptsError
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-y"); !errors.As(err, &maxErr) {
		t.Fatalf("lapsed exhausted ticket should be canceled, got %v", err)
	}
	got, _ = env.Engine.GetTicket(env.Ctx, ticket.ID)
	if got.Status != domain.TicketCanceled {
		t.Fatalf("ticket should be canceled, got %s", got.Status)
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, fmt.Sprintf("agent-%d", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)
	wins := 0
	for err := range results {
		var conflict engine.ConflictError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &conflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got, _ := env.Engine.GetTicket(env.Ctx, ticket.ID)
	if got.Attempts != 1 {
		t.Fatalf("attempts %d, want 1", got.Attempts)
	}
}

func TestUpdateClearsClaimAndRejectsClosed(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	status := domain.TicketDone
	links := []string{"https://example.com/pr/1"}
	done, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Status: &status, ArtifactLinks: links, ActorID: "agent-x"})
	if err != nil {
		t.Fatalf("to done: %v", err)
	}
	if done.ClaimedBy != nil || done.LeaseUntil != nil || len(done.ArtifactLinks) != 1 {
		t.Fatalf("unexpected done ticket: %+v", done)
	}
	ready := domain.TicketReady
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Status: &ready}); !errors.Is(err, engine.ErrTicketClosed) {
		t.Fatalf("expected ErrTicketClosed, got %v", err)
	}
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: "missing", Status: &ready}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateRefusesLeaseStatusWithoutClaimer(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	for _, status := range []string{domain.TicketClaimed, domain.TicketInProgress} {
		status := status
		if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Status: &status, ActorID: "agent-x"}); !errors.Is(err, engine.ErrUnclaimed) {
			t.Fatalf("%s: expected ErrUnclaimed, got %v", status, err)
		}
	}
	got, err := env.Engine.GetTicket(env.Ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TicketReady {
		t.Fatalf("refused update changed status to %s", got.Status)
	}
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("ticket should still be claimable: %v", err)
	}
}

func TestUpdateFields(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	title := "Rotate all credentials"
	priority := 9
	category := "code"
	criteria := []string{"new password stored", "old password revoked"}
	got, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{
		ID: ticket.ID, Title: &title, Priority: &priority, Category: &category, AcceptanceCriteria: criteria,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != title || got.Priority != 9 || got.Category != "code" || len(got.AcceptanceCriteria) != 2 || got.Status != domain.TicketReady {
		t.Fatalf("unexpected ticket: %+v", got)
	}
	bad := 11
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Priority: &bad}); err == nil {
		t.Fatalf("expected priority validation error")
	}
}

func TestEnforceClaimerPolicy(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	status := domain.TicketInProgress
	// Off by default: anyone may move the ticket.
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Status: &status, ActorID: "agent-y"}); err != nil {
		t.Fatalf("unenforced update: %v", err)
	}
	env.Engine.Config.Tickets.EnforceClaimer = true
	review := domain.TicketWaitingReview
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Status: &review, ActorID: "agent-y"}); !errors.Is(err, engine.ErrNotClaimer) {
		t.Fatalf("expected ErrNotClaimer, got %v", err)
	}
	if _, err := env.Engine.UpdateTicket(env.Ctx, engine.TicketUpdateOptions{ID: ticket.ID, Status: &review, ActorID: "agent-x"}); err != nil {
		t.Fatalf("claimer update: %v", err)
	}
}

func TestCheckBlockedReason(t *testing.T) {
	if err := engine.CheckBlockedReason(domain.TicketBlocked, nil); err == nil {
		t.Fatalf("blocked without reason should fail")
	}
	empty := "  "
	if err := engine.CheckBlockedReason(domain.TicketBlocked, &empty); err == nil {
		t.Fatalf("blocked with blank reason should fail")
	}
	reason := "waiting on vendor"
	if err := engine.CheckBlockedReason(domain.TicketBlocked, &reason); err != nil {
		t.Fatalf("blocked with reason: %v", err)
	}
	if err := engine.CheckBlockedReason(domain.TicketDone, nil); err != nil {
		t.Fatalf("done needs no reason: %v", err)
	}
}

func TestListDefaultsToReady(t *testing.T) {
	env := newTestEnv(t)
	low, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "low", Category: "ops", Priority: 2, RequestedBy: "p"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.Clock.Advance(time.Second)
	high, err := env.Engine.CreateTicket(env.Ctx, engine.TicketCreateOptions{Title: "high", Category: "code", Priority: 8, RequestedBy: "p", TargetRoleHint: "backend"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimedTicket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, claimedTicket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ready, err := env.Engine.ListTickets(env.Ctx, engine.TicketListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != high.ID || ready[1].ID != low.ID {
		t.Fatalf("unexpected ready list: %+v", ready)
	}
	all, _ := env.Engine.ListTickets(env.Ctx, engine.TicketListOptions{Status: "all"})
	if len(all) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(all))
	}
	byRole, _ := env.Engine.ListTickets(env.Ctx, engine.TicketListOptions{TargetRoleHint: "backend"})
	if len(byRole) != 1 || byRole[0].ID != high.ID {
		t.Fatalf("unexpected role filter result: %+v", byRole)
	}
	byCategory, _ := env.Engine.ListTickets(env.Ctx, engine.TicketListOptions{Status: "all", Category: "ops"})
	if len(byCategory) != 2 {
		t.Fatalf("expected 2 ops tickets, got %d", len(byCategory))
	}
	if _, err := env.Engine.ListTickets(env.Ctx, engine.TicketListOptions{Status: "bogus"}); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.TicketCreateOptions{
		{Title: "", Category: "ops", RequestedBy: "p"},
		{Title: "x", Category: "Communication", RequestedBy: "p"},
		{Title: "x", Category: "ops", RequestedBy: ""},
		{Title: "x", Category: "ops", RequestedBy: "p", Priority: 42},
		{Title: "x", Category: "ops", RequestedBy: "p", Deadline: "tomorrow"},
	}
	for i, opts := range cases {
		if _, err := env.Engine.CreateTicket(env.Ctx, opts); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestTicketEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.createTicket(t)
	if _, err := env.Engine.ClaimTicket(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.Engine.Heartbeat(env.Ctx, ticket.ID, "agent-x"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	evts, err := env.Engine.TicketEvents(env.Ctx, ticket.ID, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	want := []string{"ticket.heartbeat", "ticket.claimed", "ticket.created"}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("events %v, want %v", types, want)
	}
}
