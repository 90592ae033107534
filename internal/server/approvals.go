package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"toolgate/internal/approval"
	"toolgate/internal/domain"
	"toolgate/internal/gateway"
)

func registerApprovals(api huma.API, gw *gateway.Gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pending-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals",
		Summary:     "List tool calls waiting for approval",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ApprovalResponse `json:"body"`
	}, error) {
		pending := gw.Gate().List()
		out := make([]ApprovalResponse, 0, len(pending))
		for _, r := range pending {
			out = append(out, approvalResponse(r))
		}
		return &struct {
			Body []ApprovalResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-request",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/approve",
		Summary:     "Approve a pending tool call",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		if err := gw.Gate().Approve(input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: ResolveResponse{ID: input.ID, Status: approval.StatusApproved}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-request",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/reject",
		Summary:     "Reject a pending tool call",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *RejectRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		if err := gw.Gate().Reject(input.ID, reason); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: ResolveResponse{ID: input.ID, Status: approval.StatusRejected}}, nil
	})
}

func registerConnections(api huma.API, gw *gateway.Gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "list-connections",
		Method:      http.MethodGet,
		Path:        "/connections",
		Summary:     "List live protocol sessions",
	}, func(ctx context.Context, input *struct {
		ProfileID string `query:"profile_id"`
	}) (*struct {
		Body []domain.SessionInfo `json:"body"`
	}, error) {
		items := gw.Sessions().List()
		if input.ProfileID != "" {
			items = gw.Sessions().ForProfile(input.ProfileID)
		}
		if items == nil {
			items = []domain.SessionInfo{}
		}
		return &struct {
			Body []domain.SessionInfo `json:"body"`
		}{Body: items}, nil
	})
}
