package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/spec-kit/approval-core/internal/api/http/handlers"
	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/hub"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health          *handlers.HealthHandler
	Notifications   *handlers.NotificationsHandler
	Approvals       *handlers.ApprovalsHandler
	PublicApprovals *handlers.PublicApprovalsHandler
	Escalations     *handlers.EscalationsHandler
	Deliveries      *handlers.DeliveriesHandler
	Hub             *hub.Hub
	Metrics         fiber.Handler
	AuthMiddleware  *auth.AuthMiddleware

	PublicRateLimit       int
	PublicRateLimitWindow time.Duration
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics)
	}
	if cfg.Hub != nil {
		app.Get("/ws", cfg.Hub.Upgrade(), cfg.Hub.Handler())
	}

	api := app.Group("/api", cfg.AuthMiddleware.Handle)
	api.Get("/notifications", cfg.Notifications.List)
	api.Post("/notifications/read-all", cfg.Notifications.MarkAllRead)
	api.Post("/notifications/:id/read", cfg.Notifications.MarkRead)

	api.Post("/approvals", cfg.Approvals.Open)
	api.Get("/approvals/pending", cfg.Approvals.Pending)
	api.Post("/approvals/batch", cfg.Approvals.Batch)
	api.Get("/approvals/:id", cfg.Approvals.Get)
	api.Post("/approvals/:id/transition", cfg.Approvals.Transition)

	admin := api.Group("/admin", auth.RequireRole(domain.RoleAdmin))
	if cfg.Escalations != nil {
		admin.Post("/escalations/run", cfg.Escalations.Run)
	}
	if cfg.Deliveries != nil {
		admin.Get("/channel-deliveries", cfg.Deliveries.List)
	}

	public := app.Group("/public/approvals", publicLimiter(cfg.PublicRateLimit, cfg.PublicRateLimitWindow))
	public.Get("/:id", cfg.PublicApprovals.Get)
	public.Post("/:id/approve", cfg.PublicApprovals.Approve)
	public.Post("/:id/reject", cfg.PublicApprovals.Reject)
}

func publicLimiter(max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apperrors.NewTooManyRequests("too many requests, try again later")
		},
	})
}
