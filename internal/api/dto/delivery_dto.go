package dto

import (
	"time"

	"github.com/spec-kit/approval-core/internal/domain"
)

// ChannelDeliveryResponse is one row of the external delivery log.
type ChannelDeliveryResponse struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	RequestID   string    `json:"request_id"`
	RecipientID string    `json:"recipient_id"`
	Phone       string    `json:"phone"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewChannelDeliveryResponse maps a log entry.
func NewChannelDeliveryResponse(d domain.ChannelDelivery) ChannelDeliveryResponse {
	return ChannelDeliveryResponse{
		ID:          d.ID,
		EventID:     d.EventID,
		RequestID:   d.RequestID,
		RecipientID: d.RecipientID,
		Phone:       d.Phone,
		Status:      string(d.Status),
		Attempts:    d.Attempts,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt,
	}
}
