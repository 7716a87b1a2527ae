package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/approval-core/internal/api/dto"
	"github.com/spec-kit/approval-core/internal/service"
)

// DeliveriesHandler exposes the external-channel delivery log to admins.
type DeliveriesHandler struct {
	service *service.DeliveryLogService
}

// NewDeliveriesHandler constructs handler.
func NewDeliveriesHandler(deliveryService *service.DeliveryLogService) *DeliveriesHandler {
	return &DeliveriesHandler{service: deliveryService}
}

// List GET /api/admin/channel-deliveries.
func (h *DeliveriesHandler) List(c *fiber.Ctx) error {
	items, err := h.service.List(c.UserContext(), c.Query("status"), c.Query("request_id"), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	out := make([]dto.ChannelDeliveryResponse, 0, len(items))
	for _, d := range items {
		out = append(out, dto.NewChannelDeliveryResponse(d))
	}
	return c.JSON(fiber.Map{"data": out})
}
