package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/hub"
	"github.com/spec-kit/approval-core/internal/service"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

// NotificationsHandler serves the polling endpoint and REST read-state changes.
type NotificationsHandler struct {
	service *service.NotificationService
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(notificationService *service.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{service: notificationService}
}

// List GET /api/notifications.
func (h *NotificationsHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	items, err := h.service.List(c.UserContext(), principal.UserID, c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	out := make([]hub.NotificationPayload, 0, len(items))
	for _, n := range items {
		out = append(out, hub.NewNotificationPayload(n))
	}
	return c.JSON(fiber.Map{"data": out})
}

// MarkRead POST /api/notifications/:id/read.
func (h *NotificationsHandler) MarkRead(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	n, err := h.service.MarkRead(c.UserContext(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": hub.NewNotificationPayload(*n)})
}

// MarkAllRead POST /api/notifications/read-all.
func (h *NotificationsHandler) MarkAllRead(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	updated, err := h.service.MarkAllRead(c.UserContext(), principal.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": hub.AllReadPayload{Updated: updated}})
}
