package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"toolgate/internal/config"
	"toolgate/internal/domain"
	"toolgate/internal/events"
	"toolgate/internal/repo"
)

const (
	DefaultLeaseDuration  = 5 * time.Minute
	DefaultHeartbeatGrace = 2 * time.Minute
	DefaultMaxAttempts    = 3
	DefaultPriority       = 5

	maxAttemptsReason = "Max attempts reached during claim"
)

var (
	// ErrNotClaimer is returned when the actor does not hold the ticket's claim.
	ErrNotClaimer = errors.New("actor is not the current claimer")
	// ErrTicketClosed is returned when updating a done or canceled ticket.
	ErrTicketClosed = errors.New("ticket is closed")
	// ErrUnclaimed is returned when moving a ticket nobody holds into a
	// claimed status. Such a row could never be claimed or stolen.
	ErrUnclaimed = errors.New("ticket has no claimer; claim it before moving it to claimed or in_progress")
)

// ConflictError reports a claim against a ticket that is not claimable.
type ConflictError struct {
	Status string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("Ticket is currently claimed or not ready. Status: %s", e.Status)
}

// MaxAttemptsError reports a claim that exhausted the ticket; the ticket
// has been canceled.
type MaxAttemptsError struct {
	Attempts int
}

func (e MaxAttemptsError) Error() string {
	return fmt.Sprintf("ticket canceled: max attempts (%d) reached", e.Attempts)
}

// Engine is the lease-based ticket queue.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) leaseDuration() time.Duration {
	if e.Config != nil && e.Config.Tickets.LeaseDuration > 0 {
		return e.Config.Tickets.LeaseDuration
	}
	return DefaultLeaseDuration
}

func (e Engine) heartbeatGrace() time.Duration {
	if e.Config != nil && e.Config.Tickets.HeartbeatGrace > 0 {
		return e.Config.Tickets.HeartbeatGrace
	}
	return DefaultHeartbeatGrace
}

func (e Engine) maxAttempts() int {
	if e.Config != nil && e.Config.Tickets.MaxAttempts > 0 {
		return e.Config.Tickets.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (e Engine) enforceClaimer() bool {
	return e.Config != nil && e.Config.Tickets.EnforceClaimer
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type TicketCreateOptions struct {
	Title              string
	Description        string
	Category           string
	Priority           int
	TargetRoleHint     string
	PlanningMode       bool
	Deadline           string
	AcceptanceCriteria []string
	Dependencies       []string
	RequestedBy        string
}

func (e Engine) CreateTicket(ctx context.Context, opts TicketCreateOptions) (domain.Ticket, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Ticket{}, errors.New("title is required")
	}
	if !domain.ValidTicketCategory(opts.Category) {
		return domain.Ticket{}, fmt.Errorf("invalid category %q (expected one of %s)", opts.Category, strings.Join(domain.TicketCategories, ", "))
	}
	requestedBy := strings.TrimSpace(opts.RequestedBy)
	if requestedBy == "" {
		return domain.Ticket{}, errors.New("requested_by is required")
	}
	priority := opts.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if err := validatePriority(priority); err != nil {
		return domain.Ticket{}, err
	}
	var deadline *string
	if d := strings.TrimSpace(opts.Deadline); d != "" {
		ts, err := time.Parse(time.RFC3339, d)
		if err != nil {
			return domain.Ticket{}, fmt.Errorf("invalid deadline %q: %w", d, err)
		}
		formatted := domain.FormatTime(ts)
		deadline = &formatted
	}
	var roleHint *string
	if h := strings.TrimSpace(opts.TargetRoleHint); h != "" {
		roleHint = &h
	}
	now := domain.FormatTime(e.now())
	t := domain.Ticket{
		ID:                 uuid.New().String(),
		Title:              title,
		Description:        opts.Description,
		Status:             domain.TicketReady,
		Category:           opts.Category,
		Priority:           priority,
		TargetRoleHint:     roleHint,
		PlanningMode:       opts.PlanningMode,
		Deadline:           deadline,
		RequestedBy:        requestedBy,
		Attempts:           0,
		CreatedAt:          now,
		UpdatedAt:          now,
		AcceptanceCriteria: nonNil(opts.AcceptanceCriteria),
		Dependencies:       nonNil(opts.Dependencies),
		ArtifactLinks:      []string{},
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTicket(ctx, tx, t); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		return e.events().Append(ctx, tx, events.TicketCreated, "ticket", t.ID, requestedBy, events.EventPayload{
			"title": t.Title, "category": t.Category, "priority": t.Priority,
		})
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

func (e Engine) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	return e.Repo.GetTicket(ctx, nil, id)
}

type TicketListOptions struct {
	// Status defaults to ready. "all" disables the status filter.
	Status         string
	Category       string
	TargetRoleHint string
	Limit          int
}

func (e Engine) ListTickets(ctx context.Context, opts TicketListOptions) ([]domain.Ticket, error) {
	status := strings.TrimSpace(opts.Status)
	switch status {
	case "":
		status = domain.TicketReady
	case "all":
		status = ""
	default:
		if !domain.ValidTicketStatus(status) {
			return nil, fmt.Errorf("invalid status filter %q", status)
		}
	}
	return e.Repo.ListTickets(ctx, repo.TicketFilters{
		Status:         status,
		Category:       opts.Category,
		TargetRoleHint: opts.TargetRoleHint,
		Limit:          opts.Limit,
	})
}

func claimable(t domain.Ticket, now, staleBefore string) bool {
	switch t.Status {
	case domain.TicketReady:
		return true
	case domain.TicketClaimed, domain.TicketInProgress:
		if t.LeaseUntil != nil && *t.LeaseUntil < now {
			return true
		}
		return t.HeartbeatAt != nil && *t.HeartbeatAt < staleBefore
	default:
		return false
	}
}

// ClaimTicket claims id for actor. Exactly one of several concurrent
// claimers succeeds; the rest get ConflictError.
func (e Engine) ClaimTicket(ctx context.Context, id, actor string) (domain.Ticket, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.Ticket{}, errors.New("actor is required")
	}
	now := e.now()
	p := repo.ClaimParams{
		ID:          id,
		Actor:       actor,
		Now:         domain.FormatTime(now),
		LeaseUntil:  domain.FormatTime(now.Add(e.leaseDuration())),
		StaleBefore: domain.FormatTime(now.Add(-e.heartbeatGrace())),
		MaxAttempts: e.maxAttempts(),
	}
	var claimed domain.Ticket
	var claimErr error
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.ClaimTicket(ctx, tx, p)
		if err != nil {
			return fmt.Errorf("claim ticket: %w", err)
		}
		if ok {
			claimed, err = e.Repo.GetTicket(ctx, tx, id)
			if err != nil {
				return err
			}
			return e.events().Append(ctx, tx, events.TicketClaimed, "ticket", id, actor, events.EventPayload{
				"attempts": claimed.Attempts, "lease_until": p.LeaseUntil,
			})
		}
		current, err := e.Repo.GetTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		if !claimable(current, p.Now, p.StaleBefore) || current.Attempts < p.MaxAttempts {
			claimErr = ConflictError{Status: current.Status}
			return nil
		}
		canceled, err := e.Repo.CancelExhaustedTicket(ctx, tx, p, maxAttemptsReason)
		if err != nil {
			return fmt.Errorf("cancel ticket: %w", err)
		}
		if !canceled {
			claimErr = ConflictError{Status: current.Status}
			return nil
		}
		claimErr = MaxAttemptsError{Attempts: current.Attempts}
		return e.events().Append(ctx, tx, events.TicketCanceled, "ticket", id, actor, events.EventPayload{
			"reason": maxAttemptsReason, "attempts": current.Attempts,
		})
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	if claimErr != nil {
		return domain.Ticket{}, claimErr
	}
	return claimed, nil
}

// Heartbeat extends the lease held by actor. It fails with ErrNotClaimer
// for anyone else and never changes the ticket status.
func (e Engine) Heartbeat(ctx context.Context, id, actor string) (domain.Ticket, error) {
	now := e.now()
	nowStr := domain.FormatTime(now)
	leaseUntil := domain.FormatTime(now.Add(e.leaseDuration()))
	var out domain.Ticket
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.HeartbeatTicket(ctx, tx, id, actor, nowStr, leaseUntil)
		if err != nil {
			return fmt.Errorf("heartbeat ticket: %w", err)
		}
		if !ok {
			if _, err := e.Repo.GetTicket(ctx, tx, id); err != nil {
				return err
			}
			return ErrNotClaimer
		}
		out, err = e.Repo.GetTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		return e.events().Append(ctx, tx, events.TicketHeartbeat, "ticket", id, actor, events.EventPayload{"lease_until": out.LeaseUntil})
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return out, nil
}

type TicketUpdateOptions struct {
	ID                 string
	Status             *string
	Title              *string
	Description        *string
	Priority           *int
	Category           *string
	Reason             *string
	AcceptanceCriteria []string
	ArtifactLinks      []string
	ActorID            string
}

// CheckBlockedReason enforces that a move to blocked carries a reason.
func CheckBlockedReason(status string, reason *string) error {
	if status == domain.TicketBlocked && (reason == nil || strings.TrimSpace(*reason) == "") {
		return errors.New("reason is required when status is blocked")
	}
	return nil
}

// leaseStatus reports statuses the steal rule reads lease fields for.
func leaseStatus(status string) bool {
	return status == domain.TicketClaimed || status == domain.TicketInProgress
}

// claimerGuarded lists statuses only the claimer may move a ticket into
// when claimer enforcement is on.
func claimerGuarded(status string) bool {
	switch status {
	case domain.TicketInProgress, domain.TicketWaitingReview, domain.TicketBlocked, domain.TicketDone:
		return true
	}
	return false
}

func (e Engine) UpdateTicket(ctx context.Context, opts TicketUpdateOptions) (domain.Ticket, error) {
	changes := repo.TicketChanges{
		Title:              opts.Title,
		Description:        opts.Description,
		Reason:             opts.Reason,
		AcceptanceCriteria: opts.AcceptanceCriteria,
		ArtifactLinks:      opts.ArtifactLinks,
		UpdatedAt:          domain.FormatTime(e.now()),
	}
	payload := events.EventPayload{}
	if opts.Status != nil {
		status := *opts.Status
		if !domain.ValidTicketStatus(status) {
			return domain.Ticket{}, fmt.Errorf("invalid status %q", status)
		}
		changes.Status = &status
		changes.ClearClaim = domain.UnclaimedTicketStatus(status)
		if e.enforceClaimer() && claimerGuarded(status) {
			if strings.TrimSpace(opts.ActorID) == "" {
				return domain.Ticket{}, ErrNotClaimer
			}
			changes.RequireClaimer = opts.ActorID
		}
		payload["status"] = status
	}
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return domain.Ticket{}, errors.New("title must not be empty")
	}
	if opts.Priority != nil {
		if err := validatePriority(*opts.Priority); err != nil {
			return domain.Ticket{}, err
		}
		changes.Priority = opts.Priority
	}
	if opts.Category != nil {
		if !domain.ValidTicketCategory(*opts.Category) {
			return domain.Ticket{}, fmt.Errorf("invalid category %q", *opts.Category)
		}
		changes.Category = opts.Category
	}
	if opts.Reason != nil {
		payload["reason"] = *opts.Reason
	}
	var out domain.Ticket
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if changes.Status != nil && leaseStatus(*changes.Status) {
			current, err := e.Repo.GetTicket(ctx, tx, opts.ID)
			if err != nil {
				return err
			}
			if current.ClaimedBy == nil && !domain.TerminalTicketStatus(current.Status) {
				return ErrUnclaimed
			}
		}
		ok, err := e.Repo.UpdateTicket(ctx, tx, opts.ID, changes)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		current, err := e.Repo.GetTicket(ctx, tx, opts.ID)
		if err != nil {
			return err
		}
		if !ok {
			if domain.TerminalTicketStatus(current.Status) {
				return ErrTicketClosed
			}
			return ErrNotClaimer
		}
		out = current
		evt := events.TicketUpdated
		if current.Status == domain.TicketCanceled {
			evt = events.TicketCanceled
		}
		return e.events().Append(ctx, tx, evt, "ticket", opts.ID, opts.ActorID, payload)
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return out, nil
}

func (e Engine) TicketEvents(ctx context.Context, id string, limit int) ([]domain.Event, error) {
	if _, err := e.Repo.GetTicket(ctx, nil, id); err != nil {
		return nil, err
	}
	return e.Repo.EntityEvents(ctx, "ticket", id, limit)
}

func validatePriority(p int) error {
	if p < 1 || p > 10 {
		return fmt.Errorf("invalid priority %d (expected 1-10)", p)
	}
	return nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
