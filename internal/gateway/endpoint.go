package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"toolgate/internal/domain"
	"toolgate/internal/tools"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
	TransportStdio     = "stdio"
)

// JSON-RPC error codes returned by the endpoint pre-check.
const (
	codeInvalidParams = -32602
	codeToolDisabled  = -32000
)

// Endpoint is one protocol session. Its tool set is fixed when it is
// created from the profile's enabled view at that moment.
type Endpoint struct {
	id         string
	gw         *Gateway
	profile    domain.Profile
	info       domain.SessionInfo
	advertised map[string]bool
	mcp        *server.MCPServer
	closeOnce  sync.Once
}

// Connect builds an endpoint for profile and registers the session.
func (g *Gateway) Connect(profile domain.Profile, transport string) *Endpoint {
	e := &Endpoint{
		id:         uuid.New().String(),
		gw:         g,
		profile:    profile.Clone(),
		advertised: map[string]bool{},
	}
	e.mcp = server.NewMCPServer(g.serverName, g.serverVersion, server.WithToolCapabilities(false))
	for _, def := range enabledFor(e.profile, g.registry.Definitions()) {
		e.advertised[def.Name] = true
		e.mcp.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, def.RawSchema()), e.handler(def.Name))
	}
	e.info = domain.SessionInfo{
		SessionID:   e.id,
		ProfileID:   profile.ID,
		ProfileName: profile.Name,
		Transport:   transport,
		ConnectedAt: domain.FormatTime(g.now()),
	}
	g.sessions.Add(e.info)
	g.logger.Printf("session: %s connected over %s as %s (%d tools)", e.id, transport, profile.Name, len(e.advertised))
	return e
}

func (e *Endpoint) ID() string                   { return e.id }
func (e *Endpoint) Info() domain.SessionInfo     { return e.info }
func (e *Endpoint) Profile() domain.Profile      { return e.profile.Clone() }
func (e *Endpoint) MCPServer() *server.MCPServer { return e.mcp }

// Close removes the session from the active view. Calls already
// dispatched, and approvals they wait on, are left to finish on their own.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.gw.sessions.Remove(e.id)
		e.gw.logger.Printf("session: %s disconnected", e.id)
	})
}

func (e *Endpoint) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if msg, disabled := e.disabled(name); disabled {
			return toMCPResult(tools.ErrorResult("%s", msg)), nil
		}
		resp := e.gw.Invoke(context.WithoutCancel(ctx), e.profile, name, req.GetArguments())
		return toMCPResult(resp), nil
	}
}

// disabled reports whether name is off for this session, either because
// it was not advertised or because an operator has since switched it off.
func (e *Endpoint) disabled(name string) (string, bool) {
	msg := fmt.Sprintf("Tool %s is currently disabled by the administrator.", name)
	if !e.advertised[name] {
		return msg, true
	}
	if live, ok := e.gw.profiles.Get(e.profile.ID); ok && !live.ToolEnabled(name) {
		return msg, true
	}
	return "", false
}

type rpcPeek struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

type RPCError struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   RPCErrorBody    `json:"error"`
}

type RPCErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rpcError(id json.RawMessage, code int, msg string) RPCError {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return RPCError{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Error: RPCErrorBody{Code: code, Message: msg}}
}

// HandleMessage processes one JSON-RPC message and returns the reply, or
// nil for notifications. Calls to unknown or disabled tools are rejected
// here as protocol errors before reaching the tool handler.
func (e *Endpoint) HandleMessage(ctx context.Context, raw json.RawMessage) any {
	var peek rpcPeek
	if err := json.Unmarshal(raw, &peek); err == nil && peek.Method == string(mcp.MethodToolsCall) {
		if _, ok := e.gw.registry.Lookup(peek.Params.Name); !ok {
			return rpcError(peek.ID, codeInvalidParams, "Tool not found: "+peek.Params.Name)
		}
		if msg, disabled := e.disabled(peek.Params.Name); disabled {
			return rpcError(peek.ID, codeToolDisabled, msg)
		}
	}
	resp := e.mcp.HandleMessage(ctx, raw)
	if resp == nil {
		return nil
	}
	return resp
}

func toMCPResult(resp tools.Response) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: resp.IsError}
	for _, c := range resp.Content {
		switch c.Type {
		case "image":
			out.Content = append(out.Content, mcp.NewImageContent(c.Data, c.MimeType))
		default:
			out.Content = append(out.Content, mcp.NewTextContent(c.Text))
		}
	}
	if len(out.Content) == 0 {
		out.Content = []mcp.Content{mcp.NewTextContent("")}
	}
	return out
}
