package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"toolgate/internal/domain"
	"toolgate/internal/engine"
	"toolgate/internal/repo"
)

const ticketCategory = "Tickets"

// TicketTools returns the ticket queue tools backed by e. The calling
// profile id is used as the ticket actor.
func TicketTools(e engine.Engine) []Tool {
	return []Tool{
		ticketCreate{e}, ticketList{e}, ticketClaim{e}, ticketHeartbeat{e}, ticketUpdate{e},
	}
}

func ticketFailure(err error) Response {
	var conflict engine.ConflictError
	var exhausted engine.MaxAttemptsError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrorResult("Ticket not found")
	case errors.As(err, &conflict), errors.As(err, &exhausted):
		return ErrorResult("%s", err.Error())
	case errors.Is(err, engine.ErrNotClaimer):
		return ErrorResult("You are not the current claimer of this ticket")
	default:
		return ErrorResult("%s", err.Error())
	}
}

func actorOf(call Call) string {
	if call.ProfileID != "" {
		return call.ProfileID
	}
	return call.ProfileName
}

type ticketCreate struct{ e engine.Engine }

func (ticketCreate) Definition() Definition {
	return Definition{
		Name:        "ticket_create",
		Description: "Create a new work ticket in the shared queue",
		Category:    ticketCategory,
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"title":               {Type: "string", Description: "Short summary"},
				"description":         {Type: "string", Description: "What needs to be done"},
				"category":            {Type: "string", Enum: domain.TicketCategories},
				"priority":            {Type: "number", Description: "1 (lowest) to 10 (highest), default 5"},
				"target_role_hint":    {Type: "string", Description: "Role best suited for the work"},
				"planning_mode":       {Type: "boolean", Description: "Whether the ticket needs a plan before execution"},
				"deadline":            {Type: "string", Description: "RFC3339 deadline"},
				"acceptance_criteria": {Type: "array", Items: &Property{Type: "string"}},
				"dependencies":        {Type: "array", Description: "Ticket ids this ticket depends on", Items: &Property{Type: "string"}},
			},
			Required: []string{"title", "description", "category"},
		},
	}
}

func (t ticketCreate) Execute(ctx context.Context, call Call) (Response, error) {
	title, err := RequireString(call.Args, "title")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	category, err := RequireString(call.Args, "category")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	description, _ := String(call.Args, "description")
	priority, _, err := Int(call.Args, "priority")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	criteria, err := StringList(call.Args, "acceptance_criteria")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	deps, err := StringList(call.Args, "dependencies")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	roleHint, _ := String(call.Args, "target_role_hint")
	deadline, _ := String(call.Args, "deadline")
	ticket, err := t.e.CreateTicket(ctx, engine.TicketCreateOptions{
		Title:              title,
		Description:        description,
		Category:           category,
		Priority:           priority,
		TargetRoleHint:     roleHint,
		PlanningMode:       Bool(call.Args, "planning_mode"),
		Deadline:           deadline,
		AcceptanceCriteria: criteria,
		Dependencies:       deps,
		RequestedBy:        actorOf(call),
	})
	if err != nil {
		return ticketFailure(err), nil
	}
	return JSONResult(ticket), nil
}

type ticketList struct{ e engine.Engine }

func (ticketList) Definition() Definition {
	return Definition{
		Name:        "ticket_list",
		Description: "List tickets. Defaults to ready tickets; pass status \"all\" to see everything",
		Category:    ticketCategory,
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"status":           {Type: "string", Enum: append(append([]string{}, domain.TicketStatuses...), "all")},
				"category":         {Type: "string", Enum: domain.TicketCategories},
				"target_role_hint": {Type: "string"},
				"limit":            {Type: "number", Description: fmt.Sprintf("Max tickets to return (default %d, max %d)", repo.DefaultTicketLimit, repo.MaxTicketLimit)},
			},
		},
	}
}

func (t ticketList) Execute(ctx context.Context, call Call) (Response, error) {
	status, _ := String(call.Args, "status")
	category, _ := String(call.Args, "category")
	roleHint, _ := String(call.Args, "target_role_hint")
	limit, _, err := Int(call.Args, "limit")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	items, err := t.e.ListTickets(ctx, engine.TicketListOptions{Status: status, Category: category, TargetRoleHint: roleHint, Limit: limit})
	if err != nil {
		return ticketFailure(err), nil
	}
	return JSONResult(items), nil
}

type ticketClaim struct{ e engine.Engine }

func (ticketClaim) Definition() Definition {
	return Definition{
		Name:        "ticket_claim",
		Description: "Claim a ready ticket, or take over one whose lease expired",
		Category:    ticketCategory,
		InputSchema: Schema{
			Type:       "object",
			Properties: map[string]Property{"ticket_id": {Type: "string"}},
			Required:   []string{"ticket_id"},
		},
	}
}

func (t ticketClaim) Execute(ctx context.Context, call Call) (Response, error) {
	id, err := RequireString(call.Args, "ticket_id")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	ticket, err := t.e.ClaimTicket(ctx, id, actorOf(call))
	if err != nil {
		return ticketFailure(err), nil
	}
	return JSONResult(ticket), nil
}

type ticketHeartbeat struct{ e engine.Engine }

func (ticketHeartbeat) Definition() Definition {
	return Definition{
		Name:        "ticket_heartbeat",
		Description: "Extend the lease on a ticket you have claimed",
		Category:    ticketCategory,
		InputSchema: Schema{
			Type:       "object",
			Properties: map[string]Property{"ticket_id": {Type: "string"}},
			Required:   []string{"ticket_id"},
		},
	}
}

func (t ticketHeartbeat) Execute(ctx context.Context, call Call) (Response, error) {
	id, err := RequireString(call.Args, "ticket_id")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	ticket, err := t.e.Heartbeat(ctx, id, actorOf(call))
	if err != nil {
		return ticketFailure(err), nil
	}
	return JSONResult(ticket), nil
}

type ticketUpdate struct{ e engine.Engine }

func (ticketUpdate) Definition() Definition {
	return Definition{
		Name:        "ticket_update",
		Description: "Change a ticket's status or fields. Moving to blocked requires a reason",
		Category:    ticketCategory,
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"ticket_id":           {Type: "string"},
				"status":              {Type: "string", Enum: domain.TicketStatuses},
				"title":               {Type: "string"},
				"description":         {Type: "string"},
				"priority":            {Type: "number"},
				"category":            {Type: "string", Enum: domain.TicketCategories},
				"reason":              {Type: "string"},
				"acceptance_criteria": {Type: "array", Items: &Property{Type: "string"}},
				"artifact_links":      {Type: "array", Items: &Property{Type: "string"}},
			},
			Required: []string{"ticket_id"},
		},
	}
}

func optionalString(args map[string]any, name string) *string {
	s, ok := String(args, name)
	if !ok {
		return nil
	}
	return &s
}

func (t ticketUpdate) Execute(ctx context.Context, call Call) (Response, error) {
	id, err := RequireString(call.Args, "ticket_id")
	if err != nil {
		return ErrorResult("%v", err), nil
	}
	opts := engine.TicketUpdateOptions{
		ID:          id,
		Status:      optionalString(call.Args, "status"),
		Title:       optionalString(call.Args, "title"),
		Description: optionalString(call.Args, "description"),
		Category:    optionalString(call.Args, "category"),
		Reason:      optionalString(call.Args, "reason"),
		ActorID:     actorOf(call),
	}
	if opts.Status != nil {
		s := strings.TrimSpace(*opts.Status)
		opts.Status = &s
		if err := engine.CheckBlockedReason(s, opts.Reason); err != nil {
			return ErrorResult("%v", err), nil
		}
	}
	if p, ok, err := Int(call.Args, "priority"); err != nil {
		return ErrorResult("%v", err), nil
	} else if ok {
		opts.Priority = &p
	}
	if opts.AcceptanceCriteria, err = StringList(call.Args, "acceptance_criteria"); err != nil {
		return ErrorResult("%v", err), nil
	}
	if opts.ArtifactLinks, err = StringList(call.Args, "artifact_links"); err != nil {
		return ErrorResult("%v", err), nil
	}
	ticket, err := t.e.UpdateTicket(ctx, opts)
	if err != nil {
		return ticketFailure(err), nil
	}
	return JSONResult(ticket), nil
}
