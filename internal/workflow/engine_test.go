package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/repository"
)

var (
	supervisor = domain.Actor{UserID: "sup", Role: domain.RoleSupervisor}
	employee   = domain.Actor{UserID: "emp", Role: domain.RoleEmployee}
)

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryApprovalRepository, *time.Time) {
	t.Helper()
	repo := repository.NewMemoryApprovalRepository()
	engine := NewEngine(repo, map[domain.ApprovalKind]Policy{
		domain.ApprovalKindOvertime:    {TTL: 48 * time.Hour, StaleAfter: 24 * time.Hour},
		domain.ApprovalKindMeasurement: {TTL: 7 * 24 * time.Hour},
	}, nil)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	engine.TimeNow = func() time.Time { return now }
	return engine, repo, &now
}

func openOvertime(t *testing.T, engine *Engine) domain.ApprovalRequest {
	t.Helper()
	event, err := engine.Open(context.Background(), OpenInput{
		Kind:        domain.ApprovalKindOvertime,
		SubjectID:   "tr-1",
		SubjectName: "  Rui  ",
		SiteID:      "site-1",
		RequesterID: employee.UserID,
	})
	require.NoError(t, err)
	assert.Equal(t, events.EventApprovalCreated, event.Type)
	return event.Request
}

func TestOpenSetsInitialStateAndExpiry(t *testing.T) {
	engine, _, now := newTestEngine(t)
	req := openOvertime(t, engine)

	assert.Equal(t, domain.ApprovalStatePending, req.State)
	assert.Equal(t, "Rui", req.SubjectName)
	assert.Equal(t, now.Add(48*time.Hour), req.ExpiresAt)
	assert.NotEmpty(t, req.ID)

	_, err := engine.Open(context.Background(), OpenInput{Kind: "payroll"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestTransitionOutcomes(t *testing.T) {
	sig := []byte("signature-png")
	cases := []struct {
		name  string
		input func(id string) TransitionInput
		want  error
	}{
		{"unknown request", func(string) TransitionInput {
			return TransitionInput{RequestID: "missing", Target: domain.ApprovalStateApproved, Actor: supervisor, Signature: sig}
		}, ErrNotFound},
		{"edge not in table", func(id string) TransitionInput {
			return TransitionInput{RequestID: id, Target: domain.ApprovalStateFinalized, Actor: supervisor}
		}, ErrInvalidTransition},
		{"role without capability", func(id string) TransitionInput {
			return TransitionInput{RequestID: id, Target: domain.ApprovalStateApproved, Actor: employee, Signature: sig}
		}, ErrForbidden},
		{"approval without signature", func(id string) TransitionInput {
			return TransitionInput{RequestID: id, Target: domain.ApprovalStateApproved, Actor: supervisor}
		}, ErrSignatureRequired},
		{"rejection with short notes", func(id string) TransitionInput {
			return TransitionInput{RequestID: id, Target: domain.ApprovalStateRejected, Actor: supervisor, Notes: "   too short   "}
		}, ErrNotesRequired},
		{"approval", func(id string) TransitionInput {
			return TransitionInput{RequestID: id, Target: domain.ApprovalStateApproved, Actor: supervisor, Signature: sig}
		}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _, _ := newTestEngine(t)
			req := openOvertime(t, engine)

			event, err := engine.Transition(context.Background(), tc.input(req.ID))
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				assert.Nil(t, event)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.ApprovalStateApproved, event.Request.State)
			assert.Equal(t, sig, event.Request.Signature)
			payload := event.Payload.(events.TransitionedPayload)
			assert.Equal(t, domain.ApprovalStatePending, payload.From)
		})
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	engine, repo, now := newTestEngine(t)
	ctx := context.Background()
	req := openOvertime(t, engine)

	_, err := engine.Transition(ctx, TransitionInput{
		RequestID: req.ID,
		Target:    domain.ApprovalStateRejected,
		Actor:     supervisor,
		Notes:     "no overtime authorized for this day",
	})
	require.NoError(t, err)
	before, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	for _, target := range []domain.ApprovalState{domain.ApprovalStateApproved, domain.ApprovalStateRejected, domain.ApprovalStatePending} {
		_, err := engine.Transition(ctx, TransitionInput{
			RequestID: req.ID,
			Target:    target,
			Actor:     domain.Actor{UserID: "root", Role: domain.RoleAdmin},
			Notes:     "attempting to reopen this one",
			Signature: []byte("x"),
		})
		assert.ErrorIs(t, err, ErrAlreadyResolved, target)
	}

	after, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExpiredRequestCannotTransition(t *testing.T) {
	engine, _, now := newTestEngine(t)
	req := openOvertime(t, engine)
	*now = now.Add(48 * time.Hour)

	_, err := engine.Transition(context.Background(), TransitionInput{
		RequestID: req.ID,
		Target:    domain.ApprovalStateApproved,
		Actor:     supervisor,
		Signature: []byte("sig"),
	})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestConcurrentTransitionsYieldOneWinner(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	req := openOvertime(t, engine)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		lost    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := TransitionInput{RequestID: req.ID, Actor: supervisor}
			if i%2 == 0 {
				input.Target = domain.ApprovalStateApproved
				input.Signature = []byte("sig")
			} else {
				input.Target = domain.ApprovalStateRejected
				input.Notes = "rejected by a concurrent caller"
			}
			_, err := engine.Transition(context.Background(), input)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case assert.ErrorIs(t, err, ErrAlreadyResolved):
				lost++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, callers-1, lost)
	stored, err := repo.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, stored.State.Terminal())
}

func TestExpireOverdueCancelsOpenRequests(t *testing.T) {
	engine, repo, now := newTestEngine(t)
	ctx := context.Background()
	overdue := openOvertime(t, engine)
	*now = now.Add(47 * time.Hour)
	fresh := openOvertime(t, engine)
	*now = now.Add(2 * time.Hour)

	expired, err := engine.ExpireOverdue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].Request.ID)
	assert.Equal(t, events.EventApprovalExpired, expired[0].Type)

	got, err := repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatePending, got.State)
}

func TestPurchaseOrderPaymentFromDraft(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ctx := context.Background()
	event, err := engine.Open(ctx, OpenInput{Kind: domain.ApprovalKindPurchaseOrder, SubjectName: "PO-9", SiteID: "site-1", RequesterID: "buyer"})
	require.NoError(t, err)
	po := event.Request
	require.Equal(t, domain.ApprovalStateDraft, po.State)

	cases := []struct {
		role domain.Role
		want error
	}{
		{domain.RolePurchasing, ErrForbidden},
		{domain.RoleSupervisor, ErrForbidden},
		{domain.RoleFinance, ErrInvalidTransition},
		{domain.RoleAdmin, ErrInvalidTransition},
	}
	for _, tc := range cases {
		_, err := engine.Transition(ctx, TransitionInput{
			RequestID: po.ID,
			Target:    domain.ApprovalStatePaymentRecorded,
			Actor:     domain.Actor{UserID: "u-" + string(tc.role), Role: tc.role},
		})
		assert.ErrorIs(t, err, tc.want, tc.role)
	}

	stored, err := repo.GetByID(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStateDraft, stored.State)
}

func TestPendingForFiltersByCapabilityAndExpiry(t *testing.T) {
	engine, _, now := newTestEngine(t)
	ctx := context.Background()
	overtime := openOvertime(t, engine)
	event, err := engine.Open(ctx, OpenInput{Kind: domain.ApprovalKindMeasurement, SubjectName: "BM-3", SiteID: "site-2"})
	require.NoError(t, err)
	measurement := event.Request

	list, err := engine.PendingFor(ctx, domain.RoleSupervisor, repository.ApprovalFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, overtime.ID, list[0].ID)

	list, err = engine.PendingFor(ctx, domain.RoleEngineer, repository.ApprovalFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, measurement.ID, list[0].ID)

	list, err = engine.PendingFor(ctx, domain.RoleAdmin, repository.ApprovalFilter{SiteID: "site-2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, measurement.ID, list[0].ID)

	list, err = engine.PendingFor(ctx, domain.RoleAdmin, repository.ApprovalFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	later := now.Add(49 * time.Hour)
	engine.TimeNow = func() time.Time { return later }
	list, err = engine.PendingFor(ctx, domain.RoleSupervisor, repository.ApprovalFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
