package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/repository"
)

func TestPurchaseOrderCapabilities(t *testing.T) {
	po, ok := MachineFor(domain.ApprovalKindPurchaseOrder)
	require.True(t, ok)

	cases := []struct {
		from, to domain.ApprovalState
		role     domain.Role
		allowed  bool
	}{
		{domain.ApprovalStateSentToFinance, domain.ApprovalStatePaymentRecorded, domain.RoleFinance, true},
		{domain.ApprovalStateSentToFinance, domain.ApprovalStatePaymentRecorded, domain.RolePurchasing, false},
		{domain.ApprovalStateSentToFinance, domain.ApprovalStatePaymentRecorded, domain.RoleSupervisor, false},
		{domain.ApprovalStateSentToFinance, domain.ApprovalStatePaymentRecorded, domain.RoleAdmin, true},
		{domain.ApprovalStateDraft, domain.ApprovalStateAwaitingQuote, domain.RolePurchasing, true},
		{domain.ApprovalStateAwaitingQuote, domain.ApprovalStateQuoteApproved, domain.RoleEngineer, true},
		{domain.ApprovalStatePaymentRecorded, domain.ApprovalStateFinalized, domain.RoleFinance, true},
		{domain.ApprovalStateQuoteApproved, domain.ApprovalStateCancelled, domain.RolePurchasing, true},
		{domain.ApprovalStateAwaitingQuote, domain.ApprovalStateRejected, domain.RoleFinance, true},
	}
	for _, tc := range cases {
		capability, ok := po.Edge(tc.from, tc.to)
		require.True(t, ok, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.allowed, Allowed(tc.role, capability), "%s: %s -> %s", tc.role, tc.from, tc.to)
	}

	_, ok = po.Edge(domain.ApprovalStateQuoteApproved, domain.ApprovalStateRejected)
	assert.False(t, ok, "rejection is not defined from quote_approved")
	_, ok = po.Edge(domain.ApprovalStateDraft, domain.ApprovalStateFinalized)
	assert.False(t, ok)
}

func TestTokenApproverOnlyDecidesDecisionKinds(t *testing.T) {
	assert.True(t, CanAdvance(domain.RoleTokenApprover, domain.ApprovalKindOvertime, domain.ApprovalStatePending))
	assert.True(t, CanAdvance(domain.RoleTokenApprover, domain.ApprovalKindMeasurement, domain.ApprovalStatePending))
	assert.False(t, CanAdvance(domain.RoleTokenApprover, domain.ApprovalKindPurchaseOrder, domain.ApprovalStateAwaitingQuote))
	assert.False(t, CanAdvance(domain.RoleEmployee, domain.ApprovalKindOvertime, domain.ApprovalStatePending))
}

func TestResolverFiltersByCapability(t *testing.T) {
	directory := repository.NewMemoryDirectoryRepository()
	directory.AddUser(domain.User{ID: "b-fin", Role: domain.RoleFinance}, "site-1")
	directory.AddUser(domain.User{ID: "a-sup", Role: domain.RoleSupervisor}, "site-1")
	directory.AddUser(domain.User{ID: "c-emp", Role: domain.RoleEmployee}, "site-1")
	resolver := NewResolver(directory)
	ctx := context.Background()

	overtime := &domain.ApprovalRequest{Kind: domain.ApprovalKindOvertime, State: domain.ApprovalStatePending, SiteID: "site-1"}
	users, err := resolver.Approvers(ctx, overtime)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a-sup", users[0].ID)

	po := &domain.ApprovalRequest{Kind: domain.ApprovalKindPurchaseOrder, State: domain.ApprovalStateSentToFinance, SiteID: "site-1"}
	users, err = resolver.Approvers(ctx, po)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "b-fin", users[0].ID)

	_, err = resolver.Approvers(ctx, &domain.ApprovalRequest{Kind: domain.ApprovalKindOvertime, State: domain.ApprovalStatePending, SiteID: "nowhere"})
	assert.ErrorIs(t, err, ErrApproverUnresolvable)
}

func TestGuardsInto(t *testing.T) {
	po, ok := MachineFor(domain.ApprovalKindPurchaseOrder)
	require.True(t, ok)

	assert.Equal(t, []Capability{CapRecordPayment}, po.GuardsInto(domain.ApprovalStatePaymentRecorded))
	assert.Equal(t, []Capability{CapRejectPurchase}, po.GuardsInto(domain.ApprovalStateRejected))
	assert.Empty(t, po.GuardsInto(domain.ApprovalStatePending))
}
