package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/repository"
)

// MinRejectionNotes is the minimum trimmed length of rejection notes.
const MinRejectionNotes = 10

// Policy holds the per-kind timing configuration. Each kind is configured
// independently.
type Policy struct {
	// TTL is the offset from creation to expiry. Zero means no expiry.
	TTL time.Duration
	// StaleAfter is how long a request may sit without escalation.
	StaleAfter time.Duration
}

// OpenInput describes a new approval request.
type OpenInput struct {
	Kind          domain.ApprovalKind
	SubjectID     string
	SubjectName   string
	SiteID        string
	RequesterID   string
	Quantity      decimal.Decimal
	ReferenceDate time.Time
	Notes         string
}

// TransitionInput describes a requested state change.
type TransitionInput struct {
	RequestID string
	Target    domain.ApprovalState
	Actor     domain.Actor
	Notes     string
	Signature []byte
}

// Engine enforces the approval state machines. It is the only code path that
// changes an approval request's state.
type Engine struct {
	approvals repository.ApprovalRepository
	policies  map[domain.ApprovalKind]Policy
	logger    *zap.Logger

	TimeNow func() time.Time
}

// NewEngine constructs the engine.
func NewEngine(approvals repository.ApprovalRepository, policies map[domain.ApprovalKind]Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		approvals: approvals,
		policies:  policies,
		logger:    logger,
		TimeNow:   time.Now,
	}
}

// Policy returns the configured policy of a kind.
func (e *Engine) Policy(kind domain.ApprovalKind) Policy {
	return e.policies[kind]
}

// Get loads a request, mapping a missing row to ErrNotFound.
func (e *Engine) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	req, err := e.approvals.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// PendingFor lists open, unexpired requests whose current state the role can
// advance. filter narrows kind and site; its state set is ignored.
func (e *Engine) PendingFor(ctx context.Context, role domain.Role, filter repository.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	limit := filter.Limit
	filter.States = domain.NonTerminalStates
	filter.Limit = 0
	open, err := e.approvals.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list open approvals: %w", err)
	}
	now := e.TimeNow()
	out := make([]domain.ApprovalRequest, 0, len(open))
	for _, req := range open {
		if req.Expired(now) || !CanAdvance(role, req.Kind, req.State) {
			continue
		}
		out = append(out, req)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Open creates a request in its kind's initial state.
func (e *Engine) Open(ctx context.Context, input OpenInput) (*events.Event, error) {
	machine, ok := MachineFor(input.Kind)
	if !ok {
		return nil, ErrUnknownKind
	}
	now := e.TimeNow()
	req := &domain.ApprovalRequest{
		Kind:             input.Kind,
		SubjectID:        input.SubjectID,
		SubjectName:      strings.TrimSpace(input.SubjectName),
		SiteID:           input.SiteID,
		RequesterID:      input.RequesterID,
		State:            machine.Initial,
		Quantity:         input.Quantity,
		ReferenceDate:    input.ReferenceDate,
		Notes:            strings.TrimSpace(input.Notes),
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if req.ReferenceDate.IsZero() {
		req.ReferenceDate = now
	}
	if ttl := e.policies[input.Kind].TTL; ttl > 0 {
		req.ExpiresAt = now.Add(ttl)
	} else {
		req.ExpiresAt = now.AddDate(100, 0, 0)
	}
	if err := e.approvals.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}
	e.logger.Info("approval request opened",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("site_id", req.SiteID))

	return &events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventApprovalCreated,
		Request:   *req,
		Actor:     domain.Actor{UserID: input.RequesterID},
		Timestamp: now,
	}, nil
}

// Transition applies a guarded state change. The returned error is one of the
// package's outcome errors or an infrastructure failure.
func (e *Engine) Transition(ctx context.Context, input TransitionInput) (*events.Event, error) {
	req, err := e.Get(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	now := e.TimeNow()
	if err := e.check(req, input, now); err != nil {
		return nil, err
	}

	resolver := input.Actor.UserID
	update := repository.TransitionUpdate{
		ID:        req.ID,
		Expected:  req.State,
		Target:    input.Target,
		Notes:     strings.TrimSpace(input.Notes),
		Signature: input.Signature,
		At:        now,
	}
	if input.Target.Terminal() {
		update.ResolverID = &resolver
	}
	applied, err := e.approvals.Transition(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("transition approval request: %w", err)
	}
	if !applied {
		return nil, e.lostRace(ctx, req.ID, input.Target)
	}

	from := req.State
	req.State = input.Target
	req.LastTransitionAt = now
	if update.Notes != "" {
		req.Notes = update.Notes
	}
	if update.ResolverID != nil {
		req.ResolverID = update.ResolverID
	}
	if input.Signature != nil {
		req.Signature = input.Signature
	}

	e.logger.Info("approval request transitioned",
		zap.String("request_id", req.ID),
		zap.String("from", string(from)),
		zap.String("to", string(req.State)),
		zap.String("actor", input.Actor.UserID))

	return &events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventApprovalTransitioned,
		Request:   *req,
		Actor:     input.Actor,
		Timestamp: now,
		Payload:   events.TransitionedPayload{From: from, To: req.State, Notes: update.Notes},
	}, nil
}

func (e *Engine) check(req *domain.ApprovalRequest, input TransitionInput, now time.Time) error {
	if req.State.Terminal() {
		return ErrAlreadyResolved
	}
	if req.Expired(now) {
		return ErrExpired
	}
	machine, ok := MachineFor(req.Kind)
	if !ok {
		return ErrUnknownKind
	}
	capability, ok := machine.Edge(req.State, input.Target)
	if !ok {
		// An actor that could never enter the target is told so, whatever
		// the current state.
		if guards := machine.GuardsInto(input.Target); len(guards) > 0 && !allowedAny(input.Actor.Role, guards) {
			return ErrForbidden
		}
		return ErrInvalidTransition
	}
	if !Allowed(input.Actor.Role, capability) {
		return ErrForbidden
	}
	switch input.Target {
	case domain.ApprovalStateRejected:
		if len([]rune(strings.TrimSpace(input.Notes))) < MinRejectionNotes {
			return ErrNotesRequired
		}
	case domain.ApprovalStateApproved:
		if len(input.Signature) == 0 {
			return ErrSignatureRequired
		}
	}
	return nil
}

func allowedAny(role domain.Role, capabilities []Capability) bool {
	for _, c := range capabilities {
		if Allowed(role, c) {
			return true
		}
	}
	return false
}

// lostRace classifies a conditional update that matched no row: another
// writer moved the request between our read and our write.
func (e *Engine) lostRace(ctx context.Context, id string, target domain.ApprovalState) error {
	current, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.State.Terminal() || current.State == target {
		return ErrAlreadyResolved
	}
	return ErrInvalidTransition
}

// ExpireOverdue cancels open requests whose expiry has passed and returns one
// expiry event per cancelled request.
func (e *Engine) ExpireOverdue(ctx context.Context, limit int) ([]events.Event, error) {
	now := e.TimeNow()
	overdue, err := e.approvals.ListWithFilter(ctx, repository.ApprovalFilter{
		States:        domain.NonTerminalStates,
		ExpiresBefore: &now,
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue approvals: %w", err)
	}

	var out []events.Event
	for i := range overdue {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		req := overdue[i]
		applied, err := e.approvals.Transition(ctx, repository.TransitionUpdate{
			ID:       req.ID,
			Expected: req.State,
			Target:   domain.ApprovalStateCancelled,
			At:       now,
		})
		if err != nil {
			e.logger.Warn("expire approval request", zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		if !applied {
			continue
		}
		from := req.State
		req.State = domain.ApprovalStateCancelled
		req.LastTransitionAt = now
		out = append(out, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventApprovalExpired,
			Request:   req,
			Timestamp: now,
			Payload:   events.TransitionedPayload{From: from, To: req.State},
		})
	}
	return out, nil
}
