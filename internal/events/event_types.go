package events

import (
	"time"

	"github.com/spec-kit/approval-core/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventApprovalCreated      EventType = "approval_created"
	EventApprovalTransitioned EventType = "approval_transitioned"
	EventApprovalEscalated    EventType = "approval_escalated"
	EventApprovalExpired      EventType = "approval_expired"
)

// Event represents a domain event emitted by the approval workflow.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Request   domain.ApprovalRequest `json:"request"`
	Actor     domain.Actor           `json:"actor"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   interface{}            `json:"payload"`
}

// ApproverFacing reports whether the event asks someone to act.
func (e Event) ApproverFacing() bool {
	switch e.Type {
	case EventApprovalCreated, EventApprovalEscalated:
		return true
	case EventApprovalTransitioned:
		return !e.Request.State.Terminal()
	}
	return false
}

// TransitionedPayload payload.
type TransitionedPayload struct {
	From  domain.ApprovalState `json:"from"`
	To    domain.ApprovalState `json:"to"`
	Notes string               `json:"notes,omitempty"`
}

// EscalatedPayload payload.
type EscalatedPayload struct {
	Attempt      int      `json:"attempt"`
	ApproverIDs  []string `json:"approver_ids"`
	DaysToExpiry int      `json:"days_to_expiry"`
}
