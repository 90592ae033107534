package approval

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(timeout time.Duration) *Gate {
	return New(Options{Timeout: timeout, Logger: log.New(io.Discard, "", 0)})
}

func waitResult(t *testing.T, h *Handle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "handle never resolved")
	return err
}

func TestApproveResolvesHandle(t *testing.T) {
	g := newTestGate(time.Minute)
	h := g.Request("calculator", map[string]any{"a": 1}, "p1", "Agent")
	require.Len(t, g.List(), 1)

	require.NoError(t, g.Approve(h.ID))
	assert.NoError(t, waitResult(t, h))
	assert.Equal(t, 0, g.Len())
	assert.ErrorIs(t, g.Approve(h.ID), ErrNotFound)
	assert.ErrorIs(t, g.Reject(h.ID, "late"), ErrNotFound)
}

func TestRejectUsesDefaultReason(t *testing.T) {
	g := newTestGate(time.Minute)
	h := g.Request("exec", nil, "p1", "Agent")
	require.NoError(t, g.Reject(h.ID, ""))

	err := waitResult(t, h)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, DefaultRejectReason, err.Error())
	assert.Equal(t, "exec", denied.Tool)
}

func TestTimeoutNamesTool(t *testing.T) {
	g := newTestGate(30 * time.Millisecond)
	h := g.Request("calculator", nil, "p1", "Agent")

	err := waitResult(t, h)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, err.Error(), `tool "calculator"`)
	assert.Contains(t, err.Error(), "timed out")
	assert.ErrorIs(t, g.Approve(h.ID), ErrNotFound)
	assert.Empty(t, g.List())
}

func TestTimeoutMessageUsesWindow(t *testing.T) {
	err := &TimeoutError{Tool: "calculator", Window: DefaultTimeout}
	assert.Equal(t, `Approval timed out after 300s for tool "calculator"`, err.Error())
}

func TestOnlyOneResolutionWins(t *testing.T) {
	for i := 0; i < 50; i++ {
		g := newTestGate(time.Millisecond)
		h := g.Request("calculator", nil, "p1", "Agent")
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if g.Approve(h.ID) == nil {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if g.Reject(h.ID, "no") == nil {
				wins.Add(1)
			}
		}()
		wg.Wait()
		err := waitResult(t, h)
		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			assert.Equal(t, int32(0), wins.Load())
		} else {
			assert.Equal(t, int32(1), wins.Load())
		}
		assert.Equal(t, 0, g.Len())
	}
}

func TestListIsSnapshot(t *testing.T) {
	g := newTestGate(time.Minute)
	args := map[string]any{"path": "/etc/hosts"}
	h := g.Request("read_file", args, "p1", "Agent")
	args["path"] = "changed"

	items := g.List()
	require.Len(t, items, 1)
	assert.Equal(t, "/etc/hosts", items[0].Args["path"])
	items[0].Args["path"] = "mutated"

	got, ok := g.Get(h.ID)
	require.True(t, ok)
	assert.Equal(t, "/etc/hosts", got.Args["path"])
	assert.Equal(t, "Agent", got.ProfileName)
}

func TestWaitCancelLeavesRequestPending(t *testing.T) {
	g := newTestGate(time.Minute)
	h := g.Request("calculator", nil, "p1", "Agent")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.Canceled)
	assert.Equal(t, 1, g.Len())
	require.NoError(t, g.Approve(h.ID))
}

func TestOnRequestHook(t *testing.T) {
	var seen []string
	g := New(Options{Timeout: time.Minute, Logger: log.New(io.Discard, "", 0), OnRequest: func(r Request) {
		seen = append(seen, r.ToolName)
	}})
	h := g.Request("web_fetch", nil, "p1", "Agent")
	assert.Equal(t, []string{"web_fetch"}, seen)
	require.NoError(t, g.Approve(h.ID))
}
