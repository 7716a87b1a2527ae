package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/approval-core/internal/api/dto"
	"github.com/spec-kit/approval-core/internal/service"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

// PublicApprovalsHandler lets link holders act without a session.
type PublicApprovalsHandler struct {
	service *service.ApprovalService
}

// NewPublicApprovalsHandler constructs handler.
func NewPublicApprovalsHandler(approvalService *service.ApprovalService) *PublicApprovalsHandler {
	return &PublicApprovalsHandler{service: approvalService}
}

// Get GET /public/approvals/:id?token=.
func (h *PublicApprovalsHandler) Get(c *fiber.Ctx) error {
	req, err := h.service.PublicView(c.UserContext(), c.Params("id"), c.Query("token"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPublicApprovalResponse(req)})
}

// Approve POST /public/approvals/:id/approve?token=.
func (h *PublicApprovalsHandler) Approve(c *fiber.Ctx) error {
	return h.decide(c, true)
}

// Reject POST /public/approvals/:id/reject?token=.
func (h *PublicApprovalsHandler) Reject(c *fiber.Ctx) error {
	return h.decide(c, false)
}

func (h *PublicApprovalsHandler) decide(c *fiber.Ctx, approve bool) error {
	var req dto.DecisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	updated, err := h.service.PublicDecide(c.UserContext(), c.Params("id"), c.Query("token"),
		approve, req.Notes, signatureBytes(req.Signature))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPublicApprovalResponse(updated)})
}
