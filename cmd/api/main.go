package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/approval-core/internal/api/http"
	"github.com/spec-kit/approval-core/internal/api/http/handlers"
	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/config"
	"github.com/spec-kit/approval-core/internal/delivery"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/hub"
	"github.com/spec-kit/approval-core/internal/observability"
	"github.com/spec-kit/approval-core/internal/persistence"
	"github.com/spec-kit/approval-core/internal/repository"
	"github.com/spec-kit/approval-core/internal/scheduler"
	"github.com/spec-kit/approval-core/internal/service"
	"github.com/spec-kit/approval-core/internal/whatsapp"
	"github.com/spec-kit/approval-core/internal/workflow"
)

type stores struct {
	approvals     repository.ApprovalRepository
	tokens        repository.ApprovalTokenRepository
	notifications repository.NotificationRepository
	deliveries    repository.ChannelDeliveryRepository
	directory     repository.DirectoryRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	repos := buildStores(pg)
	metrics := observability.NewMetrics("approval_core")
	bus := events.NewInMemoryDispatcher(logger)

	engine := workflow.NewEngine(repos.approvals, map[domain.ApprovalKind]workflow.Policy{
		domain.ApprovalKindOvertime:      policy(cfg.Workflow.Overtime),
		domain.ApprovalKindPurchaseOrder: policy(cfg.Workflow.PurchaseOrder),
		domain.ApprovalKindMeasurement:   policy(cfg.Workflow.Measurement),
	}, logger)
	resolver := workflow.NewResolver(repos.directory)
	linkTokens := auth.NewLinkTokens(repos.tokens, cfg.Token.TTL, cfg.Token.BcryptCost)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokenManager, repos.directory)

	realtime := hub.New(hub.Config{
		PingInterval: cfg.Hub.PingInterval,
		SendBuffer:   cfg.Hub.SendBuffer,
	}, authMiddleware, repos.notifications, metrics, logger.Named("hub"))

	deps := delivery.Dependencies{
		Notifications:  repos.notifications,
		Directory:      repos.directory,
		Resolver:       resolver,
		Tokens:         linkTokens,
		Deliveries:     repos.deliveries,
		Hub:            realtime,
		Metrics:        metrics,
		Logger:         logger.Named("delivery"),
		AppBaseURL:     cfg.App.BaseURL,
		PublicBaseURL:  cfg.Token.PublicBaseURL,
		ChannelTimeout: cfg.WhatsApp.Timeout * time.Duration(max(cfg.WhatsApp.Attempts, 1)),
	}
	if client := whatsapp.NewClient(whatsapp.Config{
		WebhookURL:   cfg.WhatsApp.WebhookURL,
		InstanceName: cfg.WhatsApp.InstanceName,
		APIKey:       cfg.WhatsApp.APIKey,
		CountryCode:  cfg.WhatsApp.CountryCode,
		Timeout:      cfg.WhatsApp.Timeout,
		Attempts:     cfg.WhatsApp.Attempts,
	}, logger.Named("whatsapp")); client != nil {
		deps.Channel = client
	}
	dispatcher := delivery.NewDispatcher(deps)
	dispatcher.Register(bus)

	approvalService := service.NewApprovalService(service.ApprovalDependencies{
		Engine: engine,
		Tokens: linkTokens,
		Bus:    bus,
		Logger: logger,
	})
	notificationService := service.NewNotificationService(repos.notifications, realtime, logger)

	var lease scheduler.Leaser
	if redis.Enabled() {
		lease = redis
	}
	escalations := scheduler.New(scheduler.Config{
		FirstRunDelay:  cfg.Scheduler.FirstRunDelay,
		Interval:       cfg.Scheduler.Interval,
		LockTTL:        cfg.Scheduler.LockTTL,
		MaxEscalations: cfg.Scheduler.MaxEscalations,
		BatchSize:      cfg.Scheduler.BatchSize,
	}, scheduler.Dependencies{
		Engine:    engine,
		Approvals: repos.approvals,
		Resolver:  resolver,
		Notifier:  dispatcher,
		Lease:     lease,
		Metrics:   metrics,
		Logger:    logger.Named("scheduler"),
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Notifications:         handlers.NewNotificationsHandler(notificationService),
		Approvals:             handlers.NewApprovalsHandler(approvalService),
		PublicApprovals:       handlers.NewPublicApprovalsHandler(approvalService),
		Escalations:           handlers.NewEscalationsHandler(escalations),
		Deliveries:            handlers.NewDeliveriesHandler(service.NewDeliveryLogService(repos.deliveries)),
		Hub:                   realtime,
		Metrics:               metrics.Handler(),
		AuthMiddleware:        authMiddleware,
		PublicRateLimit:       cfg.App.PublicRateLimit,
		PublicRateLimitWindow: cfg.App.PublicRateLimitWindow,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		escalations.Stop()
		realtime.Close()
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	if cfg.Scheduler.Enabled {
		escalations.Start(groupCtx)
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
	}
	dispatcher.Wait()
}

func buildStores(pg *persistence.Postgres) stores {
	if !pg.Enabled() {
		return stores{
			approvals:     repository.NewMemoryApprovalRepository(),
			tokens:        repository.NewMemoryApprovalTokenRepository(),
			notifications: repository.NewMemoryNotificationRepository(),
			deliveries:    repository.NewMemoryChannelDeliveryRepository(),
			directory:     repository.NewMemoryDirectoryRepository(),
		}
	}
	pool := pg.PoolHandle()
	return stores{
		approvals:     repository.NewApprovalRepository(pool),
		tokens:        repository.NewApprovalTokenRepository(pool),
		notifications: repository.NewNotificationRepository(pool),
		deliveries:    repository.NewChannelDeliveryRepository(pool),
		directory:     repository.NewDirectoryRepository(pool),
	}
}

func policy(p config.KindPolicy) workflow.Policy {
	return workflow.Policy{TTL: p.TTL, StaleAfter: p.StaleAfter}
}
