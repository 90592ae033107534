package domain

import "time"

// TimestampLayout is fixed width so stored timestamps compare correctly as strings.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in UTC using TimestampLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTime parses a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// DefaultProfileID is the reserved administrative profile. It cannot be deleted.
const DefaultProfileID = "default"

const DefaultProfileName = "Local Admin"

type Profile struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Credential       string          `json:"credential"`
	EnabledTools     map[string]bool `json:"enabled_tools"`
	RequiresApproval map[string]bool `json:"requires_approval"`
}

// ToolEnabled reports the enable flag for name. Tools missing from the map are enabled.
func (p Profile) ToolEnabled(name string) bool {
	enabled, ok := p.EnabledTools[name]
	return !ok || enabled
}

// NeedsApproval reports whether calls to name must pass the approval gate.
func (p Profile) NeedsApproval(name string) bool {
	return p.RequiresApproval[name]
}

// Clone returns a deep copy so callers never share the flag maps.
func (p Profile) Clone() Profile {
	out := p
	out.EnabledTools = make(map[string]bool, len(p.EnabledTools))
	for k, v := range p.EnabledTools {
		out.EnabledTools[k] = v
	}
	out.RequiresApproval = make(map[string]bool, len(p.RequiresApproval))
	for k, v := range p.RequiresApproval {
		out.RequiresApproval[k] = v
	}
	return out
}

// ToolState is one row of the per-profile tool view.
type ToolState struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	Enabled          bool   `json:"enabled"`
	RequiresApproval bool   `json:"requires_approval"`
}

// SessionInfo describes one live protocol connection.
type SessionInfo struct {
	SessionID   string `json:"session_id"`
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name"`
	Transport   string `json:"transport" enum:"sse,websocket,stdio"`
	ConnectedAt string `json:"connected_at" format:"date-time"`
}

const (
	TicketNew           = "new"
	TicketReady         = "ready"
	TicketClaimed       = "claimed"
	TicketInProgress    = "in_progress"
	TicketWaitingReview = "waiting_review"
	TicketBlocked       = "blocked"
	TicketDone          = "done"
	TicketCanceled      = "canceled"
)

var TicketStatuses = []string{
	TicketNew, TicketReady, TicketClaimed, TicketInProgress,
	TicketWaitingReview, TicketBlocked, TicketDone, TicketCanceled,
}

var TicketCategories = []string{"marketing", "finance", "code", "legal", "sales", "ops"}

func ValidTicketStatus(s string) bool {
	return contains(TicketStatuses, s)
}

func ValidTicketCategory(s string) bool {
	return contains(TicketCategories, s)
}

// TerminalTicketStatus reports statuses a ticket never leaves.
func TerminalTicketStatus(s string) bool {
	return s == TicketDone || s == TicketCanceled
}

// UnclaimedTicketStatus reports statuses in which no claim fields may be set.
func UnclaimedTicketStatus(s string) bool {
	return s == TicketNew || s == TicketReady || TerminalTicketStatus(s)
}

type Ticket struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Status             string   `json:"status" enum:"new,ready,claimed,in_progress,waiting_review,blocked,done,canceled"`
	Category           string   `json:"category" enum:"marketing,finance,code,legal,sales,ops"`
	Priority           int      `json:"priority"`
	TargetRoleHint     *string  `json:"target_role_hint,omitempty"`
	PlanningMode       bool     `json:"planning_mode"`
	Deadline           *string  `json:"deadline,omitempty" format:"date-time"`
	RequestedBy        string   `json:"requested_by"`
	ClaimedBy          *string  `json:"claimed_by,omitempty"`
	ClaimedAt          *string  `json:"claimed_at,omitempty" format:"date-time"`
	LeaseUntil         *string  `json:"lease_until,omitempty" format:"date-time"`
	HeartbeatAt        *string  `json:"heartbeat_at,omitempty" format:"date-time"`
	Attempts           int      `json:"attempts"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Dependencies       []string `json:"dependencies"`
	ArtifactLinks      []string `json:"artifact_links"`
	Reason             *string  `json:"reason,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// Execution is one audited tool call.
type Execution struct {
	ID          int64  `json:"id"`
	Timestamp   string `json:"timestamp" format:"date-time"`
	ToolName    string `json:"tool_name"`
	Parameters  string `json:"parameters"`
	Result      string `json:"result"`
	IsError     bool   `json:"is_error"`
	DurationMs  int64  `json:"duration_ms"`
	TokenUsage  int    `json:"token_usage"`
	ProfileName string `json:"profile_name"`
}

type ToolStat struct {
	ToolName      string  `json:"tool_name"`
	Count         int     `json:"count"`
	ErrorCount    int     `json:"error_count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalTokens   int     `json:"total_tokens"`
}

type Analytics struct {
	TotalRuns     int        `json:"total_runs"`
	TotalErrors   int        `json:"total_errors"`
	SuccessRate   float64    `json:"success_rate"`
	AvgDurationMs float64    `json:"avg_duration_ms"`
	TotalTokens   int        `json:"total_tokens"`
	Tools         []ToolStat `json:"tools"`
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
