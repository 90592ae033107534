package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"toolgate/internal/domain"
	"toolgate/internal/engine"
)

type ticketPath struct {
	ID string `path:"id"`
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets",
		Summary:       "Create ticket",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		requestedBy := strings.TrimSpace(input.Body.RequestedBy)
		if requestedBy == "" {
			requestedBy = actorFromContext(ctx)
		}
		t, err := e.CreateTicket(ctx, engine.TicketCreateOptions{
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Category:           input.Body.Category,
			Priority:           input.Body.Priority,
			TargetRoleHint:     input.Body.TargetRoleHint,
			PlanningMode:       input.Body.PlanningMode,
			Deadline:           input.Body.Deadline,
			AcceptanceCriteria: input.Body.AcceptanceCriteria,
			Dependencies:       input.Body.Dependencies,
			RequestedBy:        requestedBy,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List tickets",
		Description: "Status defaults to ready. Pass status=all to list every ticket.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status"`
		Category       string `query:"category"`
		TargetRoleHint string `query:"target_role_hint"`
		Limit          int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Ticket `json:"body"`
	}, error) {
		items, err := e.ListTickets(ctx, engine.TicketListOptions{
			Status:         input.Status,
			Category:       input.Category,
			TargetRoleHint: input.TargetRoleHint,
			Limit:          normalizeLimit(input.Limit, 50, 500),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Ticket{}
		}
		return &struct {
			Body []domain.Ticket `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Get ticket",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ticketPath) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.GetTicket(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/claim",
		Summary:     "Claim ticket",
		Description: "Claims a ready ticket, or steals one whose lease or heartbeat has gone stale.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ClaimTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.ClaimTicket(ctx, input.ID, input.Body.Actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "heartbeat-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/heartbeat",
		Summary:     "Extend the lease on a claimed ticket",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ClaimTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		t, err := e.Heartbeat(ctx, input.ID, input.Body.Actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPatch,
		Path:        "/tickets/{id}",
		Summary:     "Update ticket",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status != nil {
			if err := engine.CheckBlockedReason(*input.Body.Status, input.Body.Reason); err != nil {
				return nil, handleError(err)
			}
		}
		actor := strings.TrimSpace(input.Body.Actor)
		if actor == "" {
			actor = actorFromContext(ctx)
		}
		t, err := e.UpdateTicket(ctx, engine.TicketUpdateOptions{
			ID:                 input.ID,
			Status:             input.Body.Status,
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Priority:           input.Body.Priority,
			Category:           input.Body.Category,
			Reason:             input.Body.Reason,
			AcceptanceCriteria: input.Body.AcceptanceCriteria,
			ArtifactLinks:      input.Body.ArtifactLinks,
			ActorID:            actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ticket-events",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}/events",
		Summary:     "List a ticket's events, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.TicketEvents(ctx, input.ID, normalizeLimit(input.Limit, 50, 500))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
