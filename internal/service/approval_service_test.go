package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/repository"
	"github.com/spec-kit/approval-core/internal/workflow"
)

type approvalEnv struct {
	svc    *ApprovalService
	engine *workflow.Engine
	tokens *auth.LinkTokens
	mu     sync.Mutex
	seen   []events.Event
}

func newApprovalEnv(t *testing.T) *approvalEnv {
	t.Helper()
	approvals := repository.NewMemoryApprovalRepository()
	engine := workflow.NewEngine(approvals, map[domain.ApprovalKind]workflow.Policy{
		domain.ApprovalKindOvertime:      {TTL: 48 * time.Hour},
		domain.ApprovalKindPurchaseOrder: {},
	}, nil)
	tokens := auth.NewLinkTokens(repository.NewMemoryApprovalTokenRepository(), 24*time.Hour, bcrypt.MinCost)
	bus := events.NewInMemoryDispatcher(nil)

	e := &approvalEnv{engine: engine, tokens: tokens}
	record := func(_ context.Context, ev events.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.seen = append(e.seen, ev)
		return nil
	}
	bus.Subscribe(events.EventApprovalCreated, record)
	bus.Subscribe(events.EventApprovalTransitioned, record)

	e.svc = NewApprovalService(ApprovalDependencies{Engine: engine, Tokens: tokens, Bus: bus})
	return e
}

func (e *approvalEnv) openOvertime(t *testing.T) (*domain.ApprovalRequest, string) {
	t.Helper()
	req, err := e.svc.Open(context.Background(), domain.Actor{UserID: "emp", Role: domain.RoleEmployee}, workflow.OpenInput{
		Kind:        domain.ApprovalKindOvertime,
		SubjectName: "Rui",
		SiteID:      "site-1",
		Quantity:    decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	token, err := e.tokens.Issue(context.Background(), req, "sup")
	require.NoError(t, err)
	return req, token
}

func TestPublicApproveThenRejectIsAlreadyResolved(t *testing.T) {
	e := newApprovalEnv(t)
	ctx := context.Background()
	req, token := e.openOvertime(t)

	approved, err := e.svc.PublicDecide(ctx, req.ID, token, true, "ok by me", []byte("sig"))
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStateApproved, approved.State)
	require.NotNil(t, approved.ResolverID)
	assert.Equal(t, "sup", *approved.ResolverID)

	_, err = e.svc.PublicDecide(ctx, req.ID, token, false, "changed my mind entirely", nil)
	assert.ErrorIs(t, err, workflow.ErrAlreadyResolved)

	stored, err := e.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStateApproved, stored.State)

	require.Len(t, e.seen, 2)
	assert.Equal(t, events.EventApprovalCreated, e.seen[0].Type)
	assert.Equal(t, events.EventApprovalTransitioned, e.seen[1].Type)
}

func TestPublicBoundaryTokenOutcomes(t *testing.T) {
	e := newApprovalEnv(t)
	ctx := context.Background()
	req, token := e.openOvertime(t)

	_, err := e.svc.PublicView(ctx, req.ID, "not-the-token")
	assert.ErrorIs(t, err, workflow.ErrInvalidToken)

	_, err = e.svc.PublicView(ctx, req.ID, "")
	assert.ErrorIs(t, err, workflow.ErrInvalidToken)

	_, err = e.svc.PublicView(ctx, "00000000-0000-0000-0000-000000000000", token)
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	e.tokens.TimeNow = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = e.svc.PublicDecide(ctx, req.ID, token, true, "", []byte("sig"))
	assert.ErrorIs(t, err, workflow.ErrExpired)

	stored, err := e.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatePending, stored.State)
}

func TestReissuedTokenInvalidatesPrevious(t *testing.T) {
	e := newApprovalEnv(t)
	ctx := context.Background()
	req, first := e.openOvertime(t)
	second, err := e.tokens.Issue(ctx, req, "sup")
	require.NoError(t, err)

	_, err = e.svc.PublicView(ctx, req.ID, first)
	assert.ErrorIs(t, err, workflow.ErrInvalidToken)
	_, err = e.svc.PublicView(ctx, req.ID, second)
	assert.NoError(t, err)
}

func TestLinkDecisionRecordsItsApprover(t *testing.T) {
	e := newApprovalEnv(t)
	ctx := context.Background()
	req, supToken := e.openOvertime(t)
	engToken, err := e.tokens.Issue(ctx, req, "eng")
	require.NoError(t, err)

	_, err = e.svc.PublicView(ctx, req.ID, supToken)
	require.NoError(t, err, "issuing for another approver keeps existing links valid")

	rejected, err := e.svc.PublicDecide(ctx, req.ID, engToken, false, "no overtime on sunday shifts", nil)
	require.NoError(t, err)
	require.NotNil(t, rejected.ResolverID)
	assert.Equal(t, "eng", *rejected.ResolverID)

	_, err = e.svc.PublicDecide(ctx, req.ID, supToken, true, "", []byte("sig"))
	assert.ErrorIs(t, err, workflow.ErrAlreadyResolved)
}

func TestPublicRejectRequiresNotes(t *testing.T) {
	e := newApprovalEnv(t)
	req, token := e.openOvertime(t)

	_, err := e.svc.PublicDecide(context.Background(), req.ID, token, false, " short ", nil)
	assert.ErrorIs(t, err, workflow.ErrNotesRequired)
}

func TestPurchaseOrderStepWithoutFinanceIsForbidden(t *testing.T) {
	e := newApprovalEnv(t)
	ctx := context.Background()
	purchasing := domain.Actor{UserID: "buyer", Role: domain.RolePurchasing}
	supervisor := domain.Actor{UserID: "sup", Role: domain.RoleSupervisor}

	po, err := e.svc.Open(ctx, purchasing, workflow.OpenInput{Kind: domain.ApprovalKindPurchaseOrder, SubjectName: "PO-17", SiteID: "site-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStateDraft, po.State)

	steps := []struct {
		actor  domain.Actor
		target domain.ApprovalState
	}{
		{purchasing, domain.ApprovalStateAwaitingQuote},
		{supervisor, domain.ApprovalStateQuoteApproved},
		{purchasing, domain.ApprovalStateSentToFinance},
	}
	for _, step := range steps {
		_, err := e.svc.Transition(ctx, step.actor, po.ID, step.target, "", nil)
		require.NoError(t, err, step.target)
	}

	_, err = e.svc.Transition(ctx, supervisor, po.ID, domain.ApprovalStatePaymentRecorded, "", nil)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	stored, err := e.svc.Get(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStateSentToFinance, stored.State)

	_, err = e.svc.Transition(ctx, domain.Actor{UserID: "fin", Role: domain.RoleFinance}, po.ID, domain.ApprovalStatePaymentRecorded, "", nil)
	assert.NoError(t, err)
}

func TestTransitionBatchContinuesPastFailures(t *testing.T) {
	e := newApprovalEnv(t)
	ctx := context.Background()
	supervisor := domain.Actor{UserID: "sup", Role: domain.RoleSupervisor}
	first, _ := e.openOvertime(t)
	second, _ := e.openOvertime(t)
	_, err := e.svc.Transition(ctx, supervisor, first.ID, domain.ApprovalStateApproved, "", []byte("sig"))
	require.NoError(t, err)

	outcomes := e.svc.TransitionBatch(ctx, supervisor, []string{first.ID, second.ID, second.ID}, domain.ApprovalStateRejected, "site log does not match", nil)
	require.Len(t, outcomes, 2)
	assert.Equal(t, first.ID, outcomes[0].ID)
	assert.ErrorIs(t, outcomes[0].Err, workflow.ErrAlreadyResolved)
	assert.Nil(t, outcomes[0].Request)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, domain.ApprovalStateRejected, outcomes[1].Request.State)
}
