package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/approval-core/internal/domain"
)

// OpenApprovalRequest payload for POST /api/approvals.
type OpenApprovalRequest struct {
	Kind          string `json:"kind"`
	SubjectID     string `json:"subject_id"`
	SubjectName   string `json:"subject_name"`
	SiteID        string `json:"site_id"`
	Quantity      string `json:"quantity"`
	ReferenceDate string `json:"reference_date"`
	Notes         string `json:"notes"`
}

// TransitionRequest payload for POST /api/approvals/:id/transition.
type TransitionRequest struct {
	Target    string `json:"target"`
	Notes     string `json:"notes"`
	Signature string `json:"signature"`
}

// BatchTransitionRequest payload for POST /api/approvals/batch.
type BatchTransitionRequest struct {
	IDs       []string `json:"ids"`
	Target    string   `json:"target"`
	Notes     string   `json:"notes"`
	Signature string   `json:"signature"`
}

// BatchItemError describes why one batch item was not applied.
type BatchItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchItemResponse is the outcome of one batch item.
type BatchItemResponse struct {
	ID    string          `json:"id"`
	State string          `json:"state,omitempty"`
	Error *BatchItemError `json:"error,omitempty"`
}

// BatchSummary counts batch outcomes.
type BatchSummary struct {
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Items     []BatchItemResponse `json:"items"`
}

// DecisionRequest payload for the public approve/reject endpoints.
type DecisionRequest struct {
	Notes     string `json:"notes"`
	Signature string `json:"signature"`
}

// ApprovalResponse is the authenticated view of a request.
type ApprovalResponse struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	SubjectID        string          `json:"subject_id"`
	SubjectName      string          `json:"subject_name"`
	SiteID           string          `json:"site_id"`
	RequesterID      string          `json:"requester_id"`
	State            string          `json:"state"`
	Quantity         decimal.Decimal `json:"quantity"`
	ReferenceDate    string          `json:"reference_date"`
	Notes            string          `json:"notes,omitempty"`
	HasSignature     bool            `json:"has_signature"`
	ResolverID       *string         `json:"resolver_id,omitempty"`
	EscalationCount  int             `json:"escalation_count"`
	CreatedAt        time.Time       `json:"created_at"`
	LastTransitionAt time.Time       `json:"last_transition_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// PublicApprovalResponse is what a link holder may see.
type PublicApprovalResponse struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	SubjectName   string          `json:"subject_name"`
	State         string          `json:"state"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceDate string          `json:"reference_date"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

const dateLayout = "2006-01-02"

// ParseDate parses an optional YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

// NewApprovalResponse maps a domain request.
func NewApprovalResponse(req *domain.ApprovalRequest) ApprovalResponse {
	return ApprovalResponse{
		ID:               req.ID,
		Kind:             string(req.Kind),
		SubjectID:        req.SubjectID,
		SubjectName:      req.SubjectName,
		SiteID:           req.SiteID,
		RequesterID:      req.RequesterID,
		State:            string(req.State),
		Quantity:         req.Quantity,
		ReferenceDate:    req.ReferenceDate.Format(dateLayout),
		Notes:            req.Notes,
		HasSignature:     len(req.Signature) > 0,
		ResolverID:       req.ResolverID,
		EscalationCount:  req.EscalationCount,
		CreatedAt:        req.CreatedAt,
		LastTransitionAt: req.LastTransitionAt,
		ExpiresAt:        req.ExpiresAt,
	}
}

// NewPublicApprovalResponse maps a domain request for link holders.
func NewPublicApprovalResponse(req *domain.ApprovalRequest) PublicApprovalResponse {
	return PublicApprovalResponse{
		ID:            req.ID,
		Kind:          string(req.Kind),
		SubjectName:   req.SubjectName,
		State:         string(req.State),
		Quantity:      req.Quantity,
		ReferenceDate: req.ReferenceDate.Format(dateLayout),
		ExpiresAt:     req.ExpiresAt,
	}
}
