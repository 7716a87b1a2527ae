package workflow

import (
	"github.com/spec-kit/approval-core/internal/domain"
)

// Capability names the permission needed to traverse one edge.
type Capability string

const (
	CapApproveOvertime    Capability = "overtime.decide"
	CapApproveMeasurement Capability = "measurement.decide"
	CapSubmitPurchase     Capability = "purchase.submit"
	CapApproveQuote       Capability = "purchase.approve_quote"
	CapSendToFinance      Capability = "purchase.send_to_finance"
	CapRecordPayment      Capability = "purchase.record_payment"
	CapFinalizePurchase   Capability = "purchase.finalize"
	CapRejectPurchase     Capability = "purchase.reject"
	CapCancelPurchase     Capability = "purchase.cancel"
)

type edge struct {
	from domain.ApprovalState
	to   domain.ApprovalState
}

// Machine is the transition table of one approval kind.
type Machine struct {
	Kind    domain.ApprovalKind
	Initial domain.ApprovalState
	edges   map[edge]Capability
}

var machines = map[domain.ApprovalKind]*Machine{
	domain.ApprovalKindOvertime:      decisionMachine(domain.ApprovalKindOvertime, CapApproveOvertime),
	domain.ApprovalKindMeasurement:   decisionMachine(domain.ApprovalKindMeasurement, CapApproveMeasurement),
	domain.ApprovalKindPurchaseOrder: purchaseOrderMachine(),
}

func decisionMachine(kind domain.ApprovalKind, capability Capability) *Machine {
	return &Machine{
		Kind:    kind,
		Initial: domain.ApprovalStatePending,
		edges: map[edge]Capability{
			{domain.ApprovalStatePending, domain.ApprovalStateApproved}: capability,
			{domain.ApprovalStatePending, domain.ApprovalStateRejected}: capability,
		},
	}
}

func purchaseOrderMachine() *Machine {
	m := &Machine{
		Kind:    domain.ApprovalKindPurchaseOrder,
		Initial: domain.ApprovalStateDraft,
		edges: map[edge]Capability{
			{domain.ApprovalStateDraft, domain.ApprovalStateAwaitingQuote}:           CapSubmitPurchase,
			{domain.ApprovalStateAwaitingQuote, domain.ApprovalStateQuoteApproved}:   CapApproveQuote,
			{domain.ApprovalStateQuoteApproved, domain.ApprovalStateSentToFinance}:   CapSendToFinance,
			{domain.ApprovalStateSentToFinance, domain.ApprovalStatePaymentRecorded}: CapRecordPayment,
			{domain.ApprovalStatePaymentRecorded, domain.ApprovalStateFinalized}:     CapFinalizePurchase,

			{domain.ApprovalStateAwaitingQuote, domain.ApprovalStateRejected}:   CapRejectPurchase,
			{domain.ApprovalStateSentToFinance, domain.ApprovalStateRejected}:   CapRejectPurchase,
			{domain.ApprovalStatePaymentRecorded, domain.ApprovalStateRejected}: CapRejectPurchase,
		},
	}
	for _, state := range []domain.ApprovalState{
		domain.ApprovalStateDraft,
		domain.ApprovalStateAwaitingQuote,
		domain.ApprovalStateQuoteApproved,
		domain.ApprovalStateSentToFinance,
		domain.ApprovalStatePaymentRecorded,
	} {
		m.edges[edge{state, domain.ApprovalStateCancelled}] = CapCancelPurchase
	}
	return m
}

// MachineFor returns the transition table of a kind.
func MachineFor(kind domain.ApprovalKind) (*Machine, bool) {
	m, ok := machines[kind]
	return m, ok
}

// Edge returns the capability guarding from → to, if the edge exists.
func (m *Machine) Edge(from, to domain.ApprovalState) (Capability, bool) {
	c, ok := m.edges[edge{from, to}]
	return c, ok
}

// GuardsInto returns the capabilities guarding any edge that ends in to.
func (m *Machine) GuardsInto(to domain.ApprovalState) []Capability {
	seen := make(map[Capability]struct{})
	var out []Capability
	for e, c := range m.edges {
		if e.to != to {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// forward reports whether the edge advances the request rather than closing it
// with cancel/reject.
func forward(to domain.ApprovalState) bool {
	return to != domain.ApprovalStateCancelled && to != domain.ApprovalStateRejected
}

var roleCapabilities = map[domain.Role][]Capability{
	domain.RoleSupervisor: {CapApproveOvertime, CapApproveQuote, CapRejectPurchase},
	domain.RoleEngineer:   {CapApproveMeasurement, CapApproveQuote, CapRejectPurchase},
	domain.RoleClient:     {CapApproveMeasurement},
	domain.RolePurchasing: {CapSubmitPurchase, CapSendToFinance, CapCancelPurchase},
	domain.RoleFinance:    {CapRecordPayment, CapFinalizePurchase, CapRejectPurchase},
	domain.RoleTokenApprover: {
		CapApproveOvertime,
		CapApproveMeasurement,
	},
}

// Allowed is the single capability check used by every transition guard.
func Allowed(role domain.Role, capability Capability) bool {
	if role == domain.RoleAdmin {
		return true
	}
	for _, c := range roleCapabilities[role] {
		if c == capability {
			return true
		}
	}
	return false
}

// CanAdvance reports whether a role may take any of the forward edges leaving
// the request's current state. It drives approver resolution.
func CanAdvance(role domain.Role, kind domain.ApprovalKind, state domain.ApprovalState) bool {
	m, ok := MachineFor(kind)
	if !ok {
		return false
	}
	for e, c := range m.edges {
		if e.from == state && forward(e.to) && Allowed(role, c) {
			return true
		}
	}
	return false
}
