package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/repository"
	"github.com/spec-kit/approval-core/internal/workflow"
)

// ApprovalService fronts the workflow engine for the authenticated API and
// the public link boundary. Both paths use the same engine transition.
type ApprovalService struct {
	engine *workflow.Engine
	tokens *auth.LinkTokens
	bus    events.Dispatcher
	logger *zap.Logger
}

// ApprovalDependencies bundles collaborators.
type ApprovalDependencies struct {
	Engine *workflow.Engine
	Tokens *auth.LinkTokens
	Bus    events.Dispatcher
	Logger *zap.Logger
}

// NewApprovalService creates the service.
func NewApprovalService(deps ApprovalDependencies) *ApprovalService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		engine: deps.Engine,
		tokens: deps.Tokens,
		bus:    deps.Bus,
		logger: logger,
	}
}

// Open creates a request on behalf of the actor.
func (s *ApprovalService) Open(ctx context.Context, actor domain.Actor, input workflow.OpenInput) (*domain.ApprovalRequest, error) {
	input.RequesterID = actor.UserID
	event, err := s.engine.Open(ctx, input)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event)
	return &event.Request, nil
}

// Get loads a request.
func (s *ApprovalService) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.engine.Get(ctx, id)
}

// Transition applies an authenticated state change.
func (s *ApprovalService) Transition(ctx context.Context, actor domain.Actor, id string, target domain.ApprovalState, notes string, signature []byte) (*domain.ApprovalRequest, error) {
	event, err := s.engine.Transition(ctx, workflow.TransitionInput{
		RequestID: id,
		Target:    target,
		Actor:     actor,
		Notes:     notes,
		Signature: signature,
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event)
	return &event.Request, nil
}

// BatchOutcome is the result of one item of a batch transition. Exactly one
// of Request and Err is set.
type BatchOutcome struct {
	ID      string
	Request *domain.ApprovalRequest
	Err     error
}

// TransitionBatch applies the same target to each request in turn. Items are
// independent: a failed item does not stop the rest. Repeated ids are
// processed once.
func (s *ApprovalService) TransitionBatch(ctx context.Context, actor domain.Actor, ids []string, target domain.ApprovalState, notes string, signature []byte) []BatchOutcome {
	seen := make(map[string]struct{}, len(ids))
	out := make([]BatchOutcome, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := ctx.Err(); err != nil {
			out = append(out, BatchOutcome{ID: id, Err: err})
			continue
		}
		req, err := s.Transition(ctx, actor, id, target, notes, signature)
		out = append(out, BatchOutcome{ID: id, Request: req, Err: err})
	}
	return out
}

// Pending lists the open requests the actor can move forward, oldest first.
func (s *ApprovalService) Pending(ctx context.Context, actor domain.Actor, kind *domain.ApprovalKind, siteID string, limit int) ([]domain.ApprovalRequest, error) {
	return s.engine.PendingFor(ctx, actor.Role, repository.ApprovalFilter{
		Kind:   kind,
		SiteID: siteID,
		Limit:  limit,
	})
}

// PublicView returns the request a link token is bound to.
func (s *ApprovalService) PublicView(ctx context.Context, id, token string) (*domain.ApprovalRequest, error) {
	req, _, err := s.authorizeLink(ctx, id, token)
	return req, err
}

// PublicDecide approves or rejects through a link token. The approver the
// link was sent to is recorded as resolver.
func (s *ApprovalService) PublicDecide(ctx context.Context, id, token string, approve bool, notes string, signature []byte) (*domain.ApprovalRequest, error) {
	_, approverID, err := s.authorizeLink(ctx, id, token)
	if err != nil {
		return nil, err
	}
	target := domain.ApprovalStateRejected
	if approve {
		target = domain.ApprovalStateApproved
	}
	actor := domain.Actor{UserID: approverID, Role: domain.RoleTokenApprover}
	return s.Transition(ctx, actor, id, target, notes, signature)
}

func (s *ApprovalService) authorizeLink(ctx context.Context, id, token string) (*domain.ApprovalRequest, string, error) {
	req, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	approverID, err := s.tokens.Check(ctx, req, token)
	if err != nil {
		return nil, "", err
	}
	return req, approverID, nil
}

// publish hands the event to subscribers. Delivery problems are logged by the
// bus and never fail the transition that already committed.
func (s *ApprovalService) publish(ctx context.Context, event *events.Event) {
	if s.bus == nil || event == nil {
		return
	}
	_ = s.bus.Publish(context.WithoutCancel(ctx), *event)
}
