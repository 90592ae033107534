// Package gateway binds profiles to the tool registry. It answers which
// tools a profile may see, runs calls through the approval gate, and
// audits every execution.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"toolgate/internal/approval"
	"toolgate/internal/audit"
	"toolgate/internal/auth"
	"toolgate/internal/domain"
	"toolgate/internal/tools"
)

const (
	hitlPrefix       = "[HITL] "
	binaryOutput     = "Binary/Resource output"
	webTestingSuffix = " (Web Testing)"
)

var ErrToolNotFound = errors.New("tool not found")

// Recorder receives audit records. Record must not block.
type Recorder interface {
	Record(e domain.Execution)
}

type Options struct {
	Registry       *Registry
	Profiles       *ProfileStore
	Gate           *approval.Gate
	Audit          Recorder
	ResultMaxChars int
	Logger         *log.Logger
	Now            func() time.Time
	ServerName     string
	ServerVersion  string
}

type Gateway struct {
	registry       *Registry
	profiles       *ProfileStore
	gate           *approval.Gate
	audit          Recorder
	sessions       *Sessions
	resultMaxChars int
	logger         *log.Logger
	now            func() time.Time
	serverName     string
	serverVersion  string
}

func New(opts Options) *Gateway {
	g := &Gateway{
		registry:       opts.Registry,
		profiles:       opts.Profiles,
		gate:           opts.Gate,
		audit:          opts.Audit,
		sessions:       NewSessions(),
		resultMaxChars: opts.ResultMaxChars,
		logger:         opts.Logger,
		now:            opts.Now,
		serverName:     opts.ServerName,
		serverVersion:  opts.ServerVersion,
	}
	if g.registry == nil {
		g.registry = NewRegistry()
	}
	if g.gate == nil {
		g.gate = approval.New(approval.Options{Logger: opts.Logger})
	}
	if g.resultMaxChars <= 0 {
		g.resultMaxChars = 500
	}
	if g.logger == nil {
		g.logger = log.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.serverName == "" {
		g.serverName = "toolgate"
	}
	if g.serverVersion == "" {
		g.serverVersion = "dev"
	}
	return g
}

func (g *Gateway) Registry() *Registry     { return g.registry }
func (g *Gateway) Profiles() *ProfileStore { return g.profiles }
func (g *Gateway) Gate() *approval.Gate    { return g.gate }
func (g *Gateway) Sessions() *Sessions     { return g.sessions }

// ListEnabled returns the registry filtered by the profile's enable flags.
func (g *Gateway) ListEnabled(profileID string) ([]tools.Definition, bool) {
	p, ok := g.profiles.Get(profileID)
	if !ok {
		return nil, false
	}
	return enabledFor(p, g.registry.Definitions()), true
}

func enabledFor(p domain.Profile, defs []tools.Definition) []tools.Definition {
	out := make([]tools.Definition, 0, len(defs))
	for _, def := range defs {
		if p.ToolEnabled(def.Name) {
			out = append(out, def)
		}
	}
	return out
}

// ToolStates lists every registered tool with the profile's flags.
func (g *Gateway) ToolStates(profileID string) ([]domain.ToolState, bool) {
	p, ok := g.profiles.Get(profileID)
	if !ok {
		return nil, false
	}
	defs := g.registry.Definitions()
	out := make([]domain.ToolState, 0, len(defs))
	for _, def := range defs {
		out = append(out, domain.ToolState{
			Name:             def.Name,
			Description:      def.Description,
			Category:         def.Category,
			Enabled:          p.ToolEnabled(def.Name),
			RequiresApproval: p.NeedsApproval(def.Name),
		})
	}
	return out, true
}

// SetToolEnabled flips one enable flag. It reports false when the profile
// or the tool is unknown.
func (g *Gateway) SetToolEnabled(ctx context.Context, profileID, name string, enabled bool) (bool, error) {
	if _, ok := g.registry.Lookup(name); !ok {
		return false, nil
	}
	return g.profiles.Update(ctx, profileID, func(p *domain.Profile) bool {
		p.EnabledTools[name] = enabled
		return true
	})
}

// SetCategoryEnabled flips every tool in category. It reports false when
// the profile is unknown or no registered tool has that category.
func (g *Gateway) SetCategoryEnabled(ctx context.Context, profileID, category string, enabled bool) (bool, error) {
	var names []string
	for _, def := range g.registry.Definitions() {
		if strings.EqualFold(def.Category, category) {
			names = append(names, def.Name)
		}
	}
	if len(names) == 0 {
		return false, nil
	}
	return g.profiles.Update(ctx, profileID, func(p *domain.Profile) bool {
		for _, name := range names {
			p.EnabledTools[name] = enabled
		}
		return true
	})
}

func (g *Gateway) SetToolApproval(ctx context.Context, profileID, name string, required bool) (bool, error) {
	if _, ok := g.registry.Lookup(name); !ok {
		return false, nil
	}
	return g.profiles.Update(ctx, profileID, func(p *domain.Profile) bool {
		p.RequiresApproval[name] = required
		return true
	})
}

func (g *Gateway) CreateProfile(ctx context.Context, name string) (domain.Profile, error) {
	return g.profiles.Create(ctx, name, g.registry.Names())
}

func (g *Gateway) DeleteProfile(ctx context.Context, id string) error {
	return g.profiles.Delete(ctx, id)
}

// RegenerateCredential rotates the bearer credential. Sessions opened with
// the old credential keep running until they disconnect.
func (g *Gateway) RegenerateCredential(ctx context.Context, id string) (domain.Profile, error) {
	return g.profiles.RegenerateCredential(ctx, id)
}

// Authenticate resolves an Authorization header value to a profile.
func (g *Gateway) Authenticate(authorization string) (domain.Profile, error) {
	token, ok := auth.BearerToken(authorization)
	if !ok {
		return domain.Profile{}, auth.UnauthenticatedError{Reason: "Unauthorized. Provide a valid Bearer token."}
	}
	p, ok := g.profiles.ByCredential(token)
	if !ok {
		return domain.Profile{}, auth.ForbiddenError{Reason: "Forbidden: Invalid Token"}
	}
	return p, nil
}

// Invoke runs a protocol tool call for profile. The enable check happens
// at the endpoint; the approval flag is read from the live profile so a
// newly gated tool is held even on sessions opened before the change.
func (g *Gateway) Invoke(ctx context.Context, profile domain.Profile, name string, args map[string]any) tools.Response {
	tool, ok := g.registry.Lookup(name)
	if !ok {
		return tools.ErrorResult("Tool not found: %s", name)
	}
	needsApproval := profile.NeedsApproval(name)
	if live, ok := g.profiles.Get(profile.ID); ok {
		needsApproval = live.NeedsApproval(name)
	}
	start := g.now()
	if needsApproval {
		h := g.gate.Request(name, args, profile.ID, profile.Name)
		if err := h.Wait(ctx); err != nil {
			resp := tools.ErrorResult("%s%s", hitlPrefix, err.Error())
			g.record(name, args, resp, start, profile.Name)
			return resp
		}
	}
	resp := g.execute(ctx, tool, tools.Call{Args: args, ProfileID: profile.ID, ProfileName: profile.Name})
	g.record(name, args, resp, start, profile.Name)
	return resp
}

// ExecuteDirect runs a tool as profileID for operator testing. It skips
// the enable and approval checks but is still audited.
func (g *Gateway) ExecuteDirect(ctx context.Context, profileID, name string, args map[string]any) (tools.Response, error) {
	p, ok := g.profiles.Get(profileID)
	if !ok {
		return tools.Response{}, ErrProfileNotFound
	}
	tool, ok := g.registry.Lookup(name)
	if !ok {
		return tools.Response{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	start := g.now()
	resp := g.execute(ctx, tool, tools.Call{Args: args, ProfileID: p.ID, ProfileName: p.Name})
	g.record(name, args, resp, start, p.Name+webTestingSuffix)
	return resp, nil
}

func (g *Gateway) execute(ctx context.Context, tool tools.Tool, call tools.Call) (resp tools.Response) {
	name := tool.Definition().Name
	defer func() {
		if r := recover(); r != nil {
			g.logger.Printf("session: tool %s panicked: %v\n%s", name, r, debug.Stack())
			resp = tools.ErrorResult("Error executing tool %s: %v", name, r)
		}
	}()
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	out, err := tool.Execute(ctx, call)
	if err != nil {
		return tools.ErrorResult("Error executing tool %s: %v", name, err)
	}
	if len(out.Content) == 0 {
		out.Content = []tools.Content{{Type: "text", Text: ""}}
	}
	return out
}

func (g *Gateway) record(name string, args map[string]any, resp tools.Response, start time.Time, actor string) {
	if g.audit == nil {
		return
	}
	params, err := json.Marshal(args)
	if err != nil || args == nil {
		params = []byte("{}")
	}
	result := resultText(resp)
	g.audit.Record(domain.Execution{
		Timestamp:   domain.FormatTime(start),
		ToolName:    name,
		Parameters:  string(params),
		Result:      audit.Truncate(result, g.resultMaxChars),
		IsError:     resp.IsError,
		DurationMs:  g.now().Sub(start).Milliseconds(),
		TokenUsage:  audit.EstimateTokens(string(params)) + audit.EstimateTokens(result),
		ProfileName: actor,
	})
}

func resultText(resp tools.Response) string {
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return binaryOutput
	}
	return resp.Content[0].Text
}
