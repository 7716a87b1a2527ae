package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/approval-core/internal/api/dto"
	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/service"
	"github.com/spec-kit/approval-core/internal/workflow"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

// ApprovalsHandler manages authenticated approval endpoints.
type ApprovalsHandler struct {
	service *service.ApprovalService
}

// NewApprovalsHandler constructs handler.
func NewApprovalsHandler(approvalService *service.ApprovalService) *ApprovalsHandler {
	return &ApprovalsHandler{service: approvalService}
}

// Open POST /api/approvals.
func (h *ApprovalsHandler) Open(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.OpenApprovalRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	kind := domain.ApprovalKind(req.Kind)
	if !kind.Valid() {
		return workflow.ErrUnknownKind
	}
	if strings.TrimSpace(req.SiteID) == "" || strings.TrimSpace(req.SubjectID) == "" {
		return apperrors.NewValidationError("subject_id and site_id required", nil)
	}
	quantity := decimal.Zero
	if req.Quantity != "" {
		parsed, err := decimal.NewFromString(req.Quantity)
		if err != nil || parsed.IsNegative() {
			return apperrors.NewValidationError("quantity must be a non-negative number", nil)
		}
		quantity = parsed
	}
	refDate, err := dto.ParseDate(req.ReferenceDate)
	if err != nil {
		return apperrors.NewValidationError("reference_date must be YYYY-MM-DD", nil)
	}

	created, err := h.service.Open(c.UserContext(), principal.Actor(), workflow.OpenInput{
		Kind:          kind,
		SubjectID:     req.SubjectID,
		SubjectName:   req.SubjectName,
		SiteID:        req.SiteID,
		Quantity:      quantity,
		ReferenceDate: refDate,
		Notes:         req.Notes,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewApprovalResponse(created)})
}

// Get GET /api/approvals/:id.
func (h *ApprovalsHandler) Get(c *fiber.Ctx) error {
	req, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApprovalResponse(req)})
}

// Transition POST /api/approvals/:id/transition.
func (h *ApprovalsHandler) Transition(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Target == "" {
		return apperrors.NewValidationError("target required", nil)
	}
	updated, err := h.service.Transition(c.UserContext(), principal.Actor(), c.Params("id"),
		domain.ApprovalState(req.Target), req.Notes, signatureBytes(req.Signature))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewApprovalResponse(updated)})
}

const maxBatchSize = 100

// Batch POST /api/approvals/batch. Every item is attempted and reported; the
// response is 200 even when some items fail.
func (h *ApprovalsHandler) Batch(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.BatchTransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Target == "" {
		return apperrors.NewValidationError("target required", nil)
	}
	if len(req.IDs) == 0 || len(req.IDs) > maxBatchSize {
		return apperrors.NewValidationError("ids must hold between 1 and 100 entries", map[string]any{"count": len(req.IDs)})
	}

	outcomes := h.service.TransitionBatch(c.UserContext(), principal.Actor(), req.IDs,
		domain.ApprovalState(req.Target), req.Notes, signatureBytes(req.Signature))
	summary := dto.BatchSummary{Items: make([]dto.BatchItemResponse, 0, len(outcomes))}
	for _, o := range outcomes {
		item := dto.BatchItemResponse{ID: o.ID}
		if o.Err != nil {
			de := apperrors.ToDomainError(o.Err)
			item.Error = &dto.BatchItemError{Code: de.Code, Message: de.Message}
			summary.Failed++
		} else {
			item.State = string(o.Request.State)
			summary.Succeeded++
		}
		summary.Items = append(summary.Items, item)
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Pending GET /api/approvals/pending?kind=&site_id=&limit=.
func (h *ApprovalsHandler) Pending(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var kind *domain.ApprovalKind
	if raw := c.Query("kind"); raw != "" {
		k := domain.ApprovalKind(raw)
		if !k.Valid() {
			return workflow.ErrUnknownKind
		}
		kind = &k
	}
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > maxBatchSize {
		limit = 50
	}
	items, err := h.service.Pending(c.UserContext(), principal.Actor(), kind, c.Query("site_id"), limit)
	if err != nil {
		return err
	}
	out := make([]dto.ApprovalResponse, 0, len(items))
	for i := range items {
		out = append(out, dto.NewApprovalResponse(&items[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

func signatureBytes(s string) []byte {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []byte(s)
}
