package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"toolgate/internal/domain"
	"toolgate/internal/gateway"
	"toolgate/internal/tools"
)

func registerTools(api huma.API, gw *gateway.Gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List registered tools",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []tools.Definition `json:"body"`
	}, error) {
		return &struct {
			Body []tools.Definition `json:"body"`
		}{Body: gw.Registry().Definitions()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-tool",
		Method:      http.MethodPost,
		Path:        "/tools/{name}/execute",
		Summary:     "Run a tool directly as a profile",
		Description: "Skips the enable and approval checks. The run is audited with a (Web Testing) suffix on the profile name.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string             `path:"name"`
		Body ExecuteToolRequest `json:"body"`
	}) (*struct {
		Body tools.Response `json:"body"`
	}, error) {
		profileID := input.Body.ProfileID
		if profileID == "" {
			profileID = domain.DefaultProfileID
		}
		resp, err := gw.ExecuteDirect(ctx, profileID, input.Name, input.Body.Arguments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body tools.Response `json:"body"`
		}{Body: resp}, nil
	})
}
