package hub

import (
	"time"

	"github.com/spec-kit/approval-core/internal/domain"
)

// Server event types.
const (
	EventConnected           = "connected"
	EventNewNotification     = "new-notification"
	EventNotificationUpdated = "notification-updated"
	EventAllMarkedRead       = "all-marked-read"
	EventError               = "error"
)

// Client action types.
const (
	ActionMarkRead    = "mark-read"
	ActionMarkAllRead = "mark-all-read"
)

// Outbound is a server-to-client frame.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is a client-to-server frame.
type Inbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// NotificationPayload is the wire shape of a notification, shared by the
// push channel and the polling endpoint.
type NotificationPayload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

// NewNotificationPayload converts a stored notification.
func NewNotificationPayload(n domain.Notification) NotificationPayload {
	return NotificationPayload{
		ID:        n.ID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Body:      n.Body,
		Link:      n.Link,
		Read:      n.Read,
		Timestamp: n.CreatedAt,
	}
}

// ConnectedPayload acknowledges a successful handshake.
type ConnectedPayload struct {
	UserID string `json:"user_id"`
}

// UpdatedPayload confirms a single mark-read.
type UpdatedPayload struct {
	ID   string `json:"id"`
	Read bool   `json:"read"`
}

// AllReadPayload confirms mark-all-read.
type AllReadPayload struct {
	Updated int64 `json:"updated"`
}

// ErrorPayload carries a user-displayable error.
type ErrorPayload struct {
	Message string `json:"message"`
}
