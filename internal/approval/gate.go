// Package approval implements the human-in-the-loop gate that holds a tool
// call until an operator approves it, rejects it, or the window expires.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout      = 5 * time.Minute
	DefaultRejectReason = "Rejected by administrator"
	StatusPending       = "PENDING"
	StatusApproved      = "APPROVED"
	StatusRejected      = "REJECTED"
	StatusTimedOut      = "TIMED_OUT"
)

// ErrNotFound is returned when resolving an id that is unknown or already resolved.
var ErrNotFound = errors.New("approval request not found")

// DeniedError is the outcome of an operator rejection.
type DeniedError struct {
	Tool   string
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

// TimeoutError is the outcome when nobody acted within the window.
type TimeoutError struct {
	Tool   string
	Window time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Approval timed out after %ds for tool %q", int(e.Window.Seconds()), e.Tool)
}

// Request is the read-only view of a pending approval.
type Request struct {
	ID          string         `json:"id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args"`
	ProfileID   string         `json:"profile_id"`
	ProfileName string         `json:"profile_name"`
	CreatedAt   time.Time      `json:"created_at"`
}

type outcome struct {
	status string
	err    error
}

type pending struct {
	req   Request
	done  chan outcome
	timer *time.Timer
}

// Handle is returned to the caller that is waiting on a decision.
type Handle struct {
	ID   string
	done <-chan outcome
}

// Wait blocks until the request resolves or ctx ends. A nil error means
// approved. Returning on ctx does not resolve the request.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case o := <-h.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Options struct {
	Timeout time.Duration
	Logger  *log.Logger
	Now     func() time.Time
	// OnRequest, if set, is called after a request is registered.
	OnRequest func(Request)
}

// Gate owns the pending-approval registry. Removal of an entry and delivery
// of its outcome happen under one lock, so the first of approve, reject, or
// timeout wins and the others see ErrNotFound.
type Gate struct {
	mu        sync.Mutex
	pending   map[string]*pending
	timeout   time.Duration
	logger    *log.Logger
	now       func() time.Time
	onRequest func(Request)
}

func New(opts Options) *Gate {
	g := &Gate{
		pending:   map[string]*pending{},
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		now:       opts.Now,
		onRequest: opts.OnRequest,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *Gate) Timeout() time.Duration { return g.timeout }

// Request registers a pending approval and arms its timeout.
func (g *Gate) Request(toolName string, args map[string]any, profileID, profileName string) *Handle {
	p := &pending{
		req: Request{
			ID:          uuid.New().String(),
			ToolName:    toolName,
			Args:        copyArgs(args),
			ProfileID:   profileID,
			ProfileName: profileName,
			CreatedAt:   g.now().UTC(),
		},
		done: make(chan outcome, 1),
	}
	id := p.req.ID
	g.mu.Lock()
	g.pending[id] = p
	p.timer = time.AfterFunc(g.timeout, func() {
		if g.resolve(id, outcome{status: StatusTimedOut, err: &TimeoutError{Tool: toolName, Window: g.timeout}}) {
			g.logger.Printf("hitl: request %s for tool %q timed out", id, toolName)
		}
	})
	g.mu.Unlock()
	g.logger.Printf("hitl: approval required for tool %q (request %s, profile %s)", toolName, id, profileName)
	if g.onRequest != nil {
		g.onRequest(p.req)
	}
	return &Handle{ID: id, done: p.done}
}

// Approve resolves id as approved.
func (g *Gate) Approve(id string) error {
	if !g.resolve(id, outcome{status: StatusApproved}) {
		return ErrNotFound
	}
	g.logger.Printf("hitl: request %s approved", id)
	return nil
}

// Reject resolves id as rejected. An empty reason uses DefaultRejectReason.
func (g *Gate) Reject(id, reason string) error {
	if reason == "" {
		reason = DefaultRejectReason
	}
	g.mu.Lock()
	p, ok := g.pending[id]
	tool := ""
	if ok {
		tool = p.req.ToolName
	}
	g.mu.Unlock()
	if !ok || !g.resolve(id, outcome{status: StatusRejected, err: &DeniedError{Tool: tool, Reason: reason}}) {
		return ErrNotFound
	}
	g.logger.Printf("hitl: request %s rejected: %s", id, reason)
	return nil
}

func (g *Gate) resolve(id string, o outcome) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return false
	}
	delete(g.pending, id)
	p.timer.Stop()
	p.done <- o
	return true
}

// Get returns the pending request with id.
func (g *Gate) Get(id string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return Request{}, false
	}
	return snapshot(p.req), true
}

// List returns pending requests, oldest first.
func (g *Gate) List() []Request {
	g.mu.Lock()
	out := make([]Request, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, snapshot(p.req))
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func snapshot(r Request) Request {
	r.Args = copyArgs(r.Args)
	return r
}

func copyArgs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
