package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalKind identifies the business domain an approval request belongs to.
type ApprovalKind string

const (
	ApprovalKindOvertime      ApprovalKind = "overtime"
	ApprovalKindPurchaseOrder ApprovalKind = "purchase_order"
	ApprovalKindMeasurement   ApprovalKind = "measurement"
)

// ApprovalKinds lists every supported kind.
var ApprovalKinds = []ApprovalKind{ApprovalKindOvertime, ApprovalKindPurchaseOrder, ApprovalKindMeasurement}

// Valid reports whether the kind is known.
func (k ApprovalKind) Valid() bool {
	switch k {
	case ApprovalKindOvertime, ApprovalKindPurchaseOrder, ApprovalKindMeasurement:
		return true
	}
	return false
}

// ApprovalState enumerates lifecycle states across all approval kinds.
type ApprovalState string

const (
	ApprovalStatePending ApprovalState = "pending"

	ApprovalStateDraft           ApprovalState = "draft"
	ApprovalStateAwaitingQuote   ApprovalState = "awaiting_quote"
	ApprovalStateQuoteApproved   ApprovalState = "quote_approved"
	ApprovalStateSentToFinance   ApprovalState = "sent_to_finance"
	ApprovalStatePaymentRecorded ApprovalState = "payment_recorded"

	ApprovalStateApproved  ApprovalState = "approved"
	ApprovalStateRejected  ApprovalState = "rejected"
	ApprovalStateCancelled ApprovalState = "cancelled"
	ApprovalStateFinalized ApprovalState = "finalized"
)

// Terminal reports whether no further transition is defined from the state.
func (s ApprovalState) Terminal() bool {
	switch s {
	case ApprovalStateApproved, ApprovalStateRejected, ApprovalStateCancelled, ApprovalStateFinalized:
		return true
	}
	return false
}

// NonTerminalStates lists states the escalation scan considers open.
var NonTerminalStates = []ApprovalState{
	ApprovalStatePending,
	ApprovalStateDraft,
	ApprovalStateAwaitingQuote,
	ApprovalStateQuoteApproved,
	ApprovalStateSentToFinance,
	ApprovalStatePaymentRecorded,
}

// ApprovalRequest is the aggregate for a decision awaiting an eligible party.
type ApprovalRequest struct {
	ID               string
	Kind             ApprovalKind
	SubjectID        string
	SubjectName      string
	SiteID           string
	RequesterID      string
	State            ApprovalState
	Quantity         decimal.Decimal
	ReferenceDate    time.Time
	Notes            string
	Signature        []byte
	ResolverID       *string
	EscalationCount  int
	CreatedAt        time.Time
	LastTransitionAt time.Time
	LastEscalatedAt  *time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the request is past its expiry at the given instant.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// StaleSince returns the instant the staleness threshold is measured from.
func (r *ApprovalRequest) StaleSince() time.Time {
	if r.LastEscalatedAt != nil {
		return *r.LastEscalatedAt
	}
	return r.CreatedAt
}

// ApprovalToken binds an opaque bearer value to one approval request and
// the approver the link was sent to.
type ApprovalToken struct {
	RequestID  string
	ApproverID string
	TokenHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
