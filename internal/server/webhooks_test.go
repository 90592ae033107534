package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"toolgate/internal/config"
	"toolgate/internal/engine"
	"toolgate/internal/repo"
)

type hookRecorder struct {
	mu      sync.Mutex
	bodies  []webhookEvent
	headers []http.Header
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var evt webhookEvent
	_ = json.Unmarshal(data, &evt)
	h.mu.Lock()
	h.bodies = append(h.bodies, evt)
	h.headers = append(h.headers, r.Header.Clone())
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	ctx := context.Background()
	e := srv.App.Engine
	if _, err := e.CreateTicket(ctx, engine.TicketCreateOptions{Title: "before", Category: "ops", RequestedBy: "tester"}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	disabled := false
	d := newWebhookDispatcher(srv.App.Repo, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"ticket.claimed"}, Secret: "s3cret"},
		{URL: hook.URL, Enabled: &disabled},
	}, nil)
	d.dispatchAll(ctx)
	if len(rec.bodies) != 0 {
		t.Fatalf("events before the first poll must be skipped, got %d", len(rec.bodies))
	}

	ticket, err := e.CreateTicket(ctx, engine.TicketCreateOptions{Title: "after", Category: "ops", RequestedBy: "tester"})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if _, err := e.ClaimTicket(ctx, ticket.ID, "worker"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.bodies) != 1 {
		t.Fatalf("expected one delivery, got %d", len(rec.bodies))
	}
	got := rec.bodies[0]
	if got.Type != "ticket.claimed" || got.EntityID != ticket.ID || got.ActorID != "worker" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	if rec.headers[0].Get("X-Toolgate-Secret") != "s3cret" || rec.headers[0].Get("X-Toolgate-Event") != "ticket.claimed" {
		t.Fatalf("unexpected headers: %v", rec.headers[0])
	}
}

func TestStartWebhooksNeedsAnEnabledHook(t *testing.T) {
	off := false
	if d := StartWebhooks(context.Background(), repo.Repo{}, []config.WebhookConfig{{URL: "http://x", Enabled: &off}, {URL: " "}}, nil); d != nil {
		t.Fatalf("expected nil dispatcher")
	}
}
