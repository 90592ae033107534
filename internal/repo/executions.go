package repo

import (
	"context"

	"toolgate/internal/domain"
)

func (r Repo) InsertExecution(ctx context.Context, e domain.Execution) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tool_executions(timestamp,tool_name,parameters,result,is_error,duration_ms,token_usage,profile_name)
VALUES (?,?,?,?,?,?,?,?)`,
		e.Timestamp, e.ToolName, e.Parameters, e.Result, boolInt(e.IsError), e.DurationMs, e.TokenUsage, e.ProfileName)
	return err
}

// ListExecutions pages through the audit log, newest first.
func (r Repo) ListExecutions(ctx context.Context, limit, offset int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,timestamp,tool_name,parameters,result,is_error,duration_ms,token_usage,profile_name
FROM tool_executions ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Execution{}
	for rows.Next() {
		var e domain.Execution
		var isErr int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ToolName, &e.Parameters, &e.Result, &isErr, &e.DurationMs, &e.TokenUsage, &e.ProfileName); err != nil {
			return nil, err
		}
		e.IsError = isErr != 0
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ExecutionAnalytics(ctx context.Context) (domain.Analytics, error) {
	var a domain.Analytics
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(is_error),0), COALESCE(AVG(duration_ms),0), COALESCE(SUM(token_usage),0)
FROM tool_executions`).Scan(&a.TotalRuns, &a.TotalErrors, &a.AvgDurationMs, &a.TotalTokens)
	if err != nil {
		return a, err
	}
	if a.TotalRuns > 0 {
		a.SuccessRate = float64(a.TotalRuns-a.TotalErrors) / float64(a.TotalRuns) * 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT tool_name, COUNT(*), COALESCE(SUM(is_error),0), COALESCE(AVG(duration_ms),0), COALESCE(SUM(token_usage),0)
FROM tool_executions GROUP BY tool_name ORDER BY COUNT(*) DESC, tool_name ASC`)
	if err != nil {
		return a, err
	}
	defer rows.Close()
	a.Tools = []domain.ToolStat{}
	for rows.Next() {
		var s domain.ToolStat
		if err := rows.Scan(&s.ToolName, &s.Count, &s.ErrorCount, &s.AvgDurationMs, &s.TotalTokens); err != nil {
			return a, err
		}
		a.Tools = append(a.Tools, s)
	}
	return a, rows.Err()
}
