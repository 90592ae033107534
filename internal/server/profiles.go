package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"toolgate/internal/domain"
	"toolgate/internal/gateway"
)

type profilePath struct {
	ProfileID string `path:"profile_id"`
}

func registerProfiles(api huma.API, gw *gateway.Gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Profile `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Profile `json:"body"`
		}{Body: gw.Profiles().List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Create profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := gw.CreateProfile(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}",
		Summary:     "Get profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		p, ok := gw.Profiles().Get(input.ProfileID)
		if !ok {
			return nil, handleError(gateway.ErrProfileNotFound)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-profile",
		Method:      http.MethodDelete,
		Path:        "/profiles/{profile_id}",
		Summary:     "Delete profile",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body DeletedResponse `json:"body"`
	}, error) {
		if err := gw.DeleteProfile(ctx, input.ProfileID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedResponse `json:"body"`
		}{Body: DeletedResponse{Deleted: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "regenerate-credential",
		Method:      http.MethodPost,
		Path:        "/profiles/{profile_id}/regenerate",
		Summary:     "Replace the profile's bearer credential",
		Description: "Sessions already connected with the old credential stay open until they disconnect.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		p, err := gw.RegenerateCredential(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profile-tools",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/tools",
		Summary:     "List tools with the profile's flags",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body []domain.ToolState `json:"body"`
	}, error) {
		states, ok := gw.ToolStates(input.ProfileID)
		if !ok {
			return nil, handleError(gateway.ErrProfileNotFound)
		}
		return &struct {
			Body []domain.ToolState `json:"body"`
		}{Body: states}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-tool-enabled",
		Method:      http.MethodPut,
		Path:        "/profiles/{profile_id}/tools/{name}/enabled",
		Summary:     "Enable or disable a tool for a profile",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string        `path:"profile_id"`
		Name      string        `path:"name"`
		Body      ToggleRequest `json:"body"`
	}) (*struct {
		Body SuccessResponse `json:"body"`
	}, error) {
		return toggleResult(gw.SetToolEnabled(ctx, input.ProfileID, input.Name, input.Body.Enabled))
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-tool-approval",
		Method:      http.MethodPut,
		Path:        "/profiles/{profile_id}/tools/{name}/approval",
		Summary:     "Require or waive operator approval for a tool",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string              `path:"profile_id"`
		Name      string              `path:"name"`
		Body      ApprovalFlagRequest `json:"body"`
	}) (*struct {
		Body SuccessResponse `json:"body"`
	}, error) {
		return toggleResult(gw.SetToolApproval(ctx, input.ProfileID, input.Name, input.Body.Required))
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-category-enabled",
		Method:      http.MethodPut,
		Path:        "/profiles/{profile_id}/categories/{category}/enabled",
		Summary:     "Enable or disable every tool in a category",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProfileID string        `path:"profile_id"`
		Category  string        `path:"category"`
		Body      ToggleRequest `json:"body"`
	}) (*struct {
		Body SuccessResponse `json:"body"`
	}, error) {
		return toggleResult(gw.SetCategoryEnabled(ctx, input.ProfileID, input.Category, input.Body.Enabled))
	})
}

// toggleResult turns a false existence result into a 404.
func toggleResult(ok bool, err error) (*struct {
	Body SuccessResponse `json:"body"`
}, error) {
	if err != nil {
		return nil, handleError(err)
	}
	if !ok {
		return nil, newAPIError(http.StatusNotFound, "not_found", "profile or tool not found", nil)
	}
	return &struct {
		Body SuccessResponse `json:"body"`
	}{Body: SuccessResponse{Success: true}}, nil
}
