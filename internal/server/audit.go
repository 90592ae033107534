package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"toolgate/internal/audit"
	"toolgate/internal/domain"
	"toolgate/internal/repo"
)

func registerAudit(api huma.API, r repo.Repo, sink *audit.Sink) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-logs",
		Method:      http.MethodGet,
		Path:        "/audit/logs",
		Summary:     "List tool executions, newest first",
	}, func(ctx context.Context, input *struct {
		Limit  int `query:"limit" default:"100"`
		Offset int `query:"offset" minimum:"0"`
	}) (*struct {
		Body AuditLogsResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit, 100, 1000)
		items, err := r.ListExecutions(ctx, limit, input.Offset)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Execution{}
		}
		return &struct {
			Body AuditLogsResponse `json:"body"`
		}{Body: AuditLogsResponse{Items: items, Limit: limit, Offset: input.Offset}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-analytics",
		Method:      http.MethodGet,
		Path:        "/audit/analytics",
		Summary:     "Aggregate execution statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AnalyticsResponse `json:"body"`
	}, error) {
		stats, err := r.ExecutionAnalytics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if stats.Tools == nil {
			stats.Tools = []domain.ToolStat{}
		}
		counts, err := r.CountTicketsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		body := AnalyticsResponse{Analytics: stats, TicketsByStatus: counts}
		if sink != nil {
			body.AuditDropped = sink.Dropped()
			body.AuditFailed = sink.Failed()
		}
		return &struct {
			Body AnalyticsResponse `json:"body"`
		}{Body: body}, nil
	})
}
