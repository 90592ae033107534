package server

import (
	"toolgate/internal/approval"
	"toolgate/internal/domain"
)

// Request payloads

type CreateProfileRequest struct {
	Name string `json:"name" minLength:"1"`
}

type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type ApprovalFlagRequest struct {
	Required bool `json:"required"`
}

type ExecuteToolRequest struct {
	ProfileID string         `json:"profile_id,omitempty" doc:"Profile to run as; defaults to the default profile"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type LoginRequest struct {
	Credential string `json:"credential"`
}

type CreateTicketRequest struct {
	Title              string   `json:"title" minLength:"1"`
	Description        string   `json:"description,omitempty"`
	Category           string   `json:"category" enum:"marketing,finance,code,legal,sales,ops"`
	Priority           int      `json:"priority,omitempty" minimum:"1" maximum:"10"`
	TargetRoleHint     string   `json:"target_role_hint,omitempty"`
	PlanningMode       bool     `json:"planning_mode,omitempty"`
	Deadline           string   `json:"deadline,omitempty" format:"date-time"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
	RequestedBy        string   `json:"requested_by,omitempty"`
}

type ClaimTicketRequest struct {
	Actor string `json:"actor" minLength:"1"`
}

type UpdateTicketRequest struct {
	Status             *string  `json:"status,omitempty" enum:"new,ready,claimed,in_progress,waiting_review,blocked,done,canceled"`
	Title              *string  `json:"title,omitempty"`
	Description        *string  `json:"description,omitempty"`
	Priority           *int     `json:"priority,omitempty"`
	Category           *string  `json:"category,omitempty" enum:"marketing,finance,code,legal,sales,ops"`
	Reason             *string  `json:"reason,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	ArtifactLinks      []string `json:"artifact_links,omitempty"`
	Actor              string   `json:"actor,omitempty"`
}

// Response payloads

type SuccessResponse struct {
	Success bool `json:"success"`
}

type DeletedResponse struct {
	Deleted bool `json:"deleted"`
}

type ApprovalResponse struct {
	ID          string         `json:"id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args"`
	ProfileID   string         `json:"profile_id"`
	ProfileName string         `json:"profile_name"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type ResolveResponse struct {
	ID     string `json:"id"`
	Status string `json:"status" enum:"APPROVED,REJECTED"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type AuditLogsResponse struct {
	Items  []domain.Execution `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func approvalResponse(r approval.Request) ApprovalResponse {
	args := r.Args
	if args == nil {
		args = map[string]any{}
	}
	return ApprovalResponse{
		ID:          r.ID,
		ToolName:    r.ToolName,
		Args:        args,
		ProfileID:   r.ProfileID,
		ProfileName: r.ProfileName,
		CreatedAt:   domain.FormatTime(r.CreatedAt),
	}
}

// AnalyticsResponse extends execution statistics with queue and audit
// pipeline counters.
type AnalyticsResponse struct {
	domain.Analytics
	TicketsByStatus map[string]int `json:"tickets_by_status"`
	AuditDropped    int64          `json:"audit_dropped"`
	AuditFailed     int64          `json:"audit_failed"`
}
