package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"toolgate/internal/auth"
	"toolgate/internal/domain"
	"toolgate/internal/gateway"
)

const (
	maxMessageBytes   = 4 << 20
	sseKeepAlive      = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
	sseOutboundBuffer = 64
)

// transports serves protocol sessions over SSE and WebSocket. Each
// connection gets its own endpoint bound to the authenticated profile.
type transports struct {
	gw      *gateway.Gateway
	mcpPath string
	origins []string
	logger  *log.Logger

	mu      sync.Mutex
	streams map[string]*sseStream
}

type sseStream struct {
	ep   *gateway.Endpoint
	out  chan []byte
	done chan struct{}
}

func (s *sseStream) send(msg []byte) {
	select {
	case s.out <- msg:
	case <-s.done:
	}
}

func newTransports(gw *gateway.Gateway, mcpPath string, origins []string, logger *log.Logger) *transports {
	if logger == nil {
		logger = log.Default()
	}
	return &transports{
		gw:      gw,
		mcpPath: mcpPath,
		origins: origins,
		logger:  logger,
		streams: map[string]*sseStream{},
	}
}

func (t *transports) mount(r chi.Router) {
	r.Get(t.mcpPath+"/sse", t.handleSSE)
	r.Post(t.mcpPath+"/message", t.handleMessage)
	r.Get(t.mcpPath+"/ws", t.handleWS)
}

// authenticate writes the 401 or 403 response itself when it fails.
func (t *transports) authenticate(w http.ResponseWriter, r *http.Request) (domain.Profile, bool) {
	p, err := t.gw.Authenticate(r.Header.Get("Authorization"))
	if err == nil {
		return p, true
	}
	var unauth auth.UnauthenticatedError
	if errors.As(err, &unauth) {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil))
		return domain.Profile{}, false
	}
	respondStatusError(w, newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil))
	return domain.Profile{}, false
}

func (t *transports) register(s *sseStream) {
	t.mu.Lock()
	t.streams[s.ep.ID()] = s
	t.mu.Unlock()
}

func (t *transports) unregister(id string) {
	t.mu.Lock()
	delete(t.streams, id)
	t.mu.Unlock()
}

func (t *transports) stream(id string) (*sseStream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	return s, ok
}

func (t *transports) handleSSE(w http.ResponseWriter, r *http.Request) {
	profile, ok := t.authenticate(w, r)
	if !ok {
		return
	}
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ep := t.gw.Connect(profile, gateway.TransportSSE)
	s := &sseStream{ep: ep, out: make(chan []byte, sseOutboundBuffer), done: make(chan struct{})}
	t.register(s)
	defer func() {
		t.unregister(ep.ID())
		close(s.done)
		ep.Close()
	}()

	fmt.Fprintf(w, "event: endpoint\ndata: %s/message?sessionId=%s\n\n", t.mcpPath, ep.ID())
	if err := rc.Flush(); err != nil {
		t.logger.Printf("session: %s flush failed: %v", ep.ID(), err)
		return
	}
	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-s.out:
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (t *transports) handleMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := t.stream(r.URL.Query().Get("sessionId"))
	if !ok {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "Session not found", nil))
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil || !json.Valid(raw) {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid JSON-RPC message", nil))
		return
	}
	w.WriteHeader(http.StatusAccepted)
	io.WriteString(w, "Accepted")

	// The reply travels on the SSE stream; the call outlives this request.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		reply := s.ep.HandleMessage(ctx, raw)
		if reply == nil {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			t.logger.Printf("session: %s encode reply: %v", s.ep.ID(), err)
			return
		}
		s.send(data)
	}()
}

func (t *transports) handleWS(w http.ResponseWriter, r *http.Request) {
	profile, ok := t.authenticate(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: t.origins})
	if err != nil {
		t.logger.Printf("session: websocket accept failed: %v", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	ep := t.gw.Connect(profile, gateway.TransportWebSocket)
	defer ep.Close()

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				t.logger.Printf("session: %s read ended: %v", ep.ID(), err)
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		go t.replyWS(conn, ep, data)
	}
}

func (t *transports) replyWS(conn *websocket.Conn, ep *gateway.Endpoint, raw []byte) {
	reply := ep.HandleMessage(context.Background(), raw)
	if reply == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, reply); err != nil {
		t.logger.Printf("session: %s write failed: %v", ep.ID(), err)
	}
}
