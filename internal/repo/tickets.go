package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"toolgate/internal/domain"
)

const ticketColumns = `id,title,description,status,category,priority,target_role_hint,planning_mode,deadline,requested_by,
claimed_by,claimed_at,lease_until,heartbeat_at,attempts,created_at,updated_at,acceptance_criteria,dependencies,artifact_links,reason`

// ListTickets returns at most DefaultTicketLimit rows unless a limit is
// given, and never more than MaxTicketLimit.
const (
	DefaultTicketLimit = 100
	MaxTicketLimit     = 500
)

// claimableCond is the steal rule. Arguments: now, staleBefore.
const claimableCond = `(status='ready' OR (status IN ('claimed','in_progress') AND (lease_until < ? OR heartbeat_at < ?)))`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var t domain.Ticket
	var roleHint, deadline, claimedBy, claimedAt, leaseUntil, heartbeatAt, reason sql.NullString
	var planning int
	var criteria, deps, links string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Category, &t.Priority, &roleHint, &planning, &deadline, &t.RequestedBy,
		&claimedBy, &claimedAt, &leaseUntil, &heartbeatAt, &t.Attempts, &t.CreatedAt, &t.UpdatedAt, &criteria, &deps, &links, &reason)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.TargetRoleHint = stringPtr(roleHint)
	t.PlanningMode = planning != 0
	t.Deadline = stringPtr(deadline)
	t.ClaimedBy = stringPtr(claimedBy)
	t.ClaimedAt = stringPtr(claimedAt)
	t.LeaseUntil = stringPtr(leaseUntil)
	t.HeartbeatAt = stringPtr(heartbeatAt)
	t.Reason = stringPtr(reason)
	t.AcceptanceCriteria = fromJSONArray(criteria)
	t.Dependencies = fromJSONArray(deps)
	t.ArtifactLinks = fromJSONArray(links)
	return t, nil
}

func (r Repo) InsertTicket(ctx context.Context, q Querier, t domain.Ticket) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO tickets(`+ticketColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.Status, t.Category, t.Priority, nullableStringPtr(t.TargetRoleHint), boolInt(t.PlanningMode),
		nullableStringPtr(t.Deadline), t.RequestedBy, nullableStringPtr(t.ClaimedBy), nullableStringPtr(t.ClaimedAt),
		nullableStringPtr(t.LeaseUntil), nullableStringPtr(t.HeartbeatAt), t.Attempts, t.CreatedAt, t.UpdatedAt,
		toJSONArray(t.AcceptanceCriteria), toJSONArray(t.Dependencies), toJSONArray(t.ArtifactLinks), nullableStringPtr(t.Reason))
	return err
}

func (r Repo) GetTicket(ctx context.Context, q Querier, id string) (domain.Ticket, error) {
	return scanTicket(r.q(q).QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id))
}

type TicketFilters struct {
	// Status filters by exact status. Empty means any status.
	Status         string
	Category       string
	TargetRoleHint string
	Limit          int
}

// ListTickets orders by priority (highest first) then age.
func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.TargetRoleHint != "" {
		clauses = append(clauses, "target_role_hint=?")
		args = append(args, f.TargetRoleHint)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultTicketLimit
	}
	if limit > MaxTicketLimit {
		limit = MaxTicketLimit
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY priority DESC, created_at ASC, id ASC LIMIT ?`,
		ticketColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

type ClaimParams struct {
	ID          string
	Actor       string
	Now         string
	LeaseUntil  string
	StaleBefore string
	MaxAttempts int
}

// ClaimTicket performs the claim as one conditional UPDATE. It reports
// whether the row matched; zero means the ticket is missing, not
// claimable, or out of attempts.
func (r Repo) ClaimTicket(ctx context.Context, q Querier, p ClaimParams) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE tickets SET status='claimed', claimed_by=?, claimed_at=?, lease_until=?, heartbeat_at=?,
attempts=attempts+1, updated_at=?
WHERE id=? AND attempts < ? AND `+claimableCond,
		p.Actor, p.Now, p.LeaseUntil, p.Now, p.Now, p.ID, p.MaxAttempts, p.Now, p.StaleBefore)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CancelExhaustedTicket cancels a claimable ticket whose attempts reached max.
func (r Repo) CancelExhaustedTicket(ctx context.Context, q Querier, p ClaimParams, reason string) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE tickets SET status='canceled', reason=?, claimed_by=NULL, claimed_at=NULL,
lease_until=NULL, heartbeat_at=NULL, updated_at=?
WHERE id=? AND attempts >= ? AND `+claimableCond,
		reason, p.Now, p.ID, p.MaxAttempts, p.Now, p.StaleBefore)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// HeartbeatTicket refreshes heartbeat_at and extends lease_until only for
// the current claimer. lease_until never moves backwards.
func (r Repo) HeartbeatTicket(ctx context.Context, q Querier, id, actor, now, leaseUntil string) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE tickets SET heartbeat_at=?,
lease_until=CASE WHEN lease_until IS NULL OR lease_until < ? THEN ? ELSE lease_until END, updated_at=?
WHERE id=? AND claimed_by=? AND status NOT IN ('new','ready','done','canceled')`,
		now, leaseUntil, leaseUntil, now, id, actor)
	if err != nil {
		return false, err
	}
	return affected(res)
}

type TicketChanges struct {
	Status             *string
	Title              *string
	Description        *string
	Priority           *int
	Category           *string
	Reason             *string
	AcceptanceCriteria []string
	ArtifactLinks      []string
	ClearClaim         bool
	// RequireClaimer restricts the update to rows claimed by this actor.
	RequireClaimer string
	UpdatedAt      string
}

// UpdateTicket applies changes to a non-terminal ticket in one statement.
func (r Repo) UpdateTicket(ctx context.Context, q Querier, id string, c TicketChanges) (bool, error) {
	sets := []string{"updated_at=?"}
	args := []any{c.UpdatedAt}
	if c.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, *c.Status)
	}
	if c.Title != nil {
		sets = append(sets, "title=?")
		args = append(args, *c.Title)
	}
	if c.Description != nil {
		sets = append(sets, "description=?")
		args = append(args, *c.Description)
	}
	if c.Priority != nil {
		sets = append(sets, "priority=?")
		args = append(args, *c.Priority)
	}
	if c.Category != nil {
		sets = append(sets, "category=?")
		args = append(args, *c.Category)
	}
	if c.Reason != nil {
		sets = append(sets, "reason=?")
		args = append(args, nullableStringPtr(c.Reason))
	}
	if c.AcceptanceCriteria != nil {
		sets = append(sets, "acceptance_criteria=?")
		args = append(args, toJSONArray(c.AcceptanceCriteria))
	}
	if c.ArtifactLinks != nil {
		sets = append(sets, "artifact_links=?")
		args = append(args, toJSONArray(c.ArtifactLinks))
	}
	if c.ClearClaim {
		sets = append(sets, "claimed_by=NULL", "claimed_at=NULL", "lease_until=NULL", "heartbeat_at=NULL")
	}
	where := "id=? AND status NOT IN ('done','canceled')"
	args = append(args, id)
	if c.RequireClaimer != "" {
		where += " AND claimed_by=?"
		args = append(args, c.RequireClaimer)
	}
	res, err := r.q(q).ExecContext(ctx, fmt.Sprintf(`UPDATE tickets SET %s WHERE %s`, strings.Join(sets, ", "), where), args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) CountTicketsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
