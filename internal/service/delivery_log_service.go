package service

import (
	"context"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/repository"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

// DeliveryLogService reads the external-channel delivery log.
type DeliveryLogService struct {
	deliveries repository.ChannelDeliveryRepository
}

// NewDeliveryLogService creates the service.
func NewDeliveryLogService(deliveries repository.ChannelDeliveryRepository) *DeliveryLogService {
	return &DeliveryLogService{deliveries: deliveries}
}

// List returns log entries newest first. An empty status matches every entry.
func (s *DeliveryLogService) List(ctx context.Context, status, requestID string, limit int) ([]domain.ChannelDelivery, error) {
	st := domain.ChannelDeliveryStatus(status)
	if status != "" && !st.Valid() {
		return nil, apperrors.NewValidationError("status must be sent or failed", map[string]any{"status": status})
	}
	if limit <= 0 || limit > maxListLimit {
		limit = 50
	}
	items, err := s.deliveries.List(ctx, repository.ChannelDeliveryFilter{
		Status:    st,
		RequestID: requestID,
		Limit:     limit,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}
