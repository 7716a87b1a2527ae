package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/repository"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

const maxListLimit = 200

// ReadBroadcaster fans read-state confirmations out to live connections.
type ReadBroadcaster interface {
	BroadcastRead(userID string, n domain.Notification)
	BroadcastAllRead(userID string, updated int64)
}

// NotificationService serves the polling endpoint and REST read-state changes.
type NotificationService struct {
	notifications repository.NotificationRepository
	broadcaster   ReadBroadcaster
	logger        *zap.Logger
}

// NewNotificationService creates the service. broadcaster may be nil.
func NewNotificationService(notifications repository.NotificationRepository, broadcaster ReadBroadcaster, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		notifications: notifications,
		broadcaster:   broadcaster,
		logger:        logger,
	}
}

// List returns the user's notifications, newest first.
func (n *NotificationService) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}
	items, err := n.notifications.ListByRecipient(ctx, userID, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// MarkRead flips one notification of the user to read.
func (n *NotificationService) MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	item, err := n.notifications.MarkRead(ctx, userID, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewNotFound("notification", map[string]any{"notification_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	if n.broadcaster != nil {
		n.broadcaster.BroadcastRead(userID, *item)
	}
	return item, nil
}

// MarkAllRead flips every notification of the user to read.
func (n *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	updated, err := n.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	if n.broadcaster != nil {
		n.broadcaster.BroadcastAllRead(userID, updated)
	}
	n.logger.Debug("notifications marked read", zap.String("user_id", userID), zap.Int64("updated", updated))
	return updated, nil
}
