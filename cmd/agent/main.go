package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/agent"
	"github.com/spec-kit/approval-core/internal/config"
	"github.com/spec-kit/approval-core/internal/observability"
)

func main() {
	cfg, err := config.LoadAgent()
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

	agentCfg := agent.DefaultConfig()
	agentCfg.PollConnected = cfg.PollConnected
	agentCfg.PollDisconnected = cfg.PollDisconnected
	agentCfg.ReconnectAttempts = cfg.ReconnectAttempts

	session := agent.Session{BaseURL: cfg.BaseURL, Credential: cfg.Credential, UserID: cfg.UserID}
	a, err := agent.New(session, agentCfg, logger.With(zap.String("user_id", session.UserID)))
	if err != nil {
		logger.Fatal("failed to build agent", zap.Error(err))
	}

	go report(ctx, a, logger)

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("agent stopped", zap.Error(err))
	}
	logger.Info("agent shut down")
}

// report logs action failures and the unread count when it changes.
func report(ctx context.Context, a *agent.Agent, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-a.Errors():
			logger.Warn("notification action failed", zap.Error(err))
		case <-ticker.C:
			if unread := a.UnreadCount(); unread != last {
				last = unread
				logger.Info("notifications", zap.Int("unread", unread), zap.Bool("connected", a.Connected()))
			}
		}
	}
}
