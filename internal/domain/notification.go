package domain

import "time"

// NotificationKind is the severity or domain tag rendered by clients.
type NotificationKind string

const (
	NotificationKindInfo     NotificationKind = "info"
	NotificationKindSuccess  NotificationKind = "success"
	NotificationKindWarning  NotificationKind = "warning"
	NotificationKindError    NotificationKind = "error"
	NotificationKindApproval NotificationKind = "approval"
	NotificationKindReminder NotificationKind = "reminder"
)

// Notification is one message delivered to one recipient.
type Notification struct {
	ID             string
	RecipientID    string
	Kind           NotificationKind
	Title          string
	Body           string
	Link           string
	Read           bool
	IdempotencyKey string
	CreatedAt      time.Time
}

// ChannelDeliveryStatus is the outcome of one external-channel send.
type ChannelDeliveryStatus string

const (
	ChannelDeliverySent   ChannelDeliveryStatus = "sent"
	ChannelDeliveryFailed ChannelDeliveryStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ChannelDeliveryStatus) Valid() bool {
	return s == ChannelDeliverySent || s == ChannelDeliveryFailed
}

// ChannelDelivery records one attempt to reach a recipient outside the app.
type ChannelDelivery struct {
	ID          string
	EventID     string
	RequestID   string
	RecipientID string
	Phone       string
	Status      ChannelDeliveryStatus
	Attempts    int
	Error       string
	CreatedAt   time.Time
}
