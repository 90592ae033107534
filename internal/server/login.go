package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"toolgate/internal/auth"
	"toolgate/internal/domain"
	"toolgate/internal/gateway"
)

func registerLogin(api huma.API, gw *gateway.Gateway, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange the admin credential for a JWT",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		cred := strings.TrimSpace(input.Body.Credential)
		if cred == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "credential is required", nil)
		}
		if !adminKeyMatches(gw, cred) {
			return nil, handleError(auth.ForbiddenError{Reason: "invalid credential"})
		}
		now := time.Now().UTC()
		ttl := authCfg.ttl()
		token, err := auth.IssueToken(authCfg.JWTSecret, domain.DefaultProfileName, ttl, now)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, ExpiresAt: domain.FormatTime(now.Add(ttl))}}, nil
	})
}
