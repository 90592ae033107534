package toolgatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Toolgate admin API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		APIKey:   apiKey,
		Timeout:  10 * time.Second,
	}
}

// Profile is a tenant identity with its tool flags.
type Profile struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Credential       string          `json:"credential"`
	EnabledTools     map[string]bool `json:"enabled_tools"`
	RequiresApproval map[string]bool `json:"requires_approval"`
}

// PendingApproval is a tool call waiting for an operator.
type PendingApproval struct {
	ID          string         `json:"id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args"`
	ProfileID   string         `json:"profile_id"`
	ProfileName string         `json:"profile_name"`
	CreatedAt   string         `json:"created_at"`
}

type Resolution struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Session is a live protocol connection.
type Session struct {
	SessionID   string `json:"session_id"`
	ProfileID   string `json:"profile_id"`
	ProfileName string `json:"profile_name"`
	Transport   string `json:"transport"`
	ConnectedAt string `json:"connected_at"`
}

// Ticket represents the API ticket model (partial).
type Ticket struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Category   string  `json:"category"`
	Priority   int     `json:"priority"`
	ClaimedBy  *string `json:"claimed_by,omitempty"`
	LeaseUntil *string `json:"lease_until,omitempty"`
	Attempts   int     `json:"attempts"`
}

type ToolStat struct {
	ToolName      string  `json:"tool_name"`
	Count         int     `json:"count"`
	ErrorCount    int     `json:"error_count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalTokens   int     `json:"total_tokens"`
}

type Analytics struct {
	TotalRuns       int            `json:"total_runs"`
	TotalErrors     int            `json:"total_errors"`
	SuccessRate     float64        `json:"success_rate"`
	AvgDurationMs   float64        `json:"avg_duration_ms"`
	TotalTokens     int            `json:"total_tokens"`
	Tools           []ToolStat     `json:"tools"`
	TicketsByStatus map[string]int `json:"tickets_by_status"`
	AuditDropped    int64          `json:"audit_dropped"`
	AuditFailed     int64          `json:"audit_failed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Profiles lists every profile.
func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var resp []Profile
	err := c.do(ctx, http.MethodGet, "profiles", nil, &resp)
	return resp, err
}

// PendingApprovals lists tool calls waiting for a decision.
func (c *Client) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	var resp []PendingApproval
	err := c.do(ctx, http.MethodGet, "approvals", nil, &resp)
	return resp, err
}

// Approve lets a pending call run.
func (c *Client) Approve(ctx context.Context, id string) (Resolution, error) {
	var resp Resolution
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("approvals/%s/approve", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Reject denies a pending call. An empty reason uses the server default.
func (c *Client) Reject(ctx context.Context, id, reason string) (Resolution, error) {
	var resp Resolution
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("approvals/%s/reject", url.PathEscape(id)), body, &resp)
	return resp, err
}

// Connections lists live sessions, optionally for one profile.
func (c *Client) Connections(ctx context.Context, profileID string) ([]Session, error) {
	endpoint := "connections"
	if profileID != "" {
		endpoint += "?profile_id=" + url.QueryEscape(profileID)
	}
	var resp []Session
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Tickets lists tickets with the given status ("" means ready, "all" means any).
func (c *Client) Tickets(ctx context.Context, status string) ([]Ticket, error) {
	endpoint := "tickets"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Ticket
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Analytics returns aggregate execution statistics.
func (c *Client) Analytics(ctx context.Context) (Analytics, error) {
	var resp Analytics
	err := c.do(ctx, http.MethodGet, "audit/analytics", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
