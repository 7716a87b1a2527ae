package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/approval-core/internal/scheduler"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

// EscalationsHandler exposes the manual scheduler trigger.
type EscalationsHandler struct {
	scheduler *scheduler.Scheduler
}

// NewEscalationsHandler constructs handler.
func NewEscalationsHandler(s *scheduler.Scheduler) *EscalationsHandler {
	return &EscalationsHandler{scheduler: s}
}

// Run POST /api/admin/escalations/run.
func (h *EscalationsHandler) Run(c *fiber.Ctx) error {
	summary, err := h.scheduler.Trigger(c.UserContext())
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return apperrors.NewConflict(err.Error(), nil)
		}
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": summary})
}
