package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/observability"
	"github.com/spec-kit/approval-core/internal/repository"
	"github.com/spec-kit/approval-core/internal/workflow"
)

// ErrChannelDeliveryFailed marks an external-channel failure. It is logged and
// never returned to the caller of Dispatch.
var ErrChannelDeliveryFailed = errors.New("external channel delivery failed")

// Pusher delivers a stored notification to a user's live connections.
// Implementations must not block.
type Pusher interface {
	Push(userID string, n domain.Notification)
}

// Channel sends a text message to a phone number and reports how many
// attempts it made.
type Channel interface {
	Send(ctx context.Context, phone, text, link string) (int, error)
}

// Dependencies bundles collaborators of the dispatcher.
type Dependencies struct {
	Notifications repository.NotificationRepository
	Directory     repository.DirectoryRepository
	Resolver      *workflow.Resolver
	Tokens        *auth.LinkTokens
	Hub           Pusher
	Channel       Channel
	Deliveries    repository.ChannelDeliveryRepository
	Metrics       *observability.Metrics
	Logger        *zap.Logger

	AppBaseURL     string
	PublicBaseURL  string
	ChannelTimeout time.Duration
}

// Result summarizes one dispatch.
type Result struct {
	Recipients int
	Created    int
}

// Dispatcher fans a workflow event out to the store, the hub and the
// external channel.
type Dispatcher struct {
	deps     Dependencies
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(deps Dependencies) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.ChannelTimeout <= 0 {
		deps.ChannelTimeout = time.Minute
	}
	return &Dispatcher{deps: deps, logger: logger}
}

// Register subscribes the dispatcher to every workflow event.
func (d *Dispatcher) Register(bus events.Dispatcher) {
	for _, eventType := range []events.EventType{
		events.EventApprovalCreated,
		events.EventApprovalTransitioned,
		events.EventApprovalEscalated,
		events.EventApprovalExpired,
	} {
		bus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			_, err := d.Dispatch(ctx, event)
			return err
		})
	}
}

// Wait blocks until in-flight external sends finish.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Dispatch writes one notification per recipient, pushes the new ones to the
// hub and, for approver-facing events, sends external messages. Redelivering
// the same event creates nothing new. An unresolvable approver set is logged
// and reported as zero recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) (Result, error) {
	recipients, err := d.recipients(ctx, event)
	if err != nil {
		if errors.Is(err, workflow.ErrApproverUnresolvable) {
			d.logger.Warn("no approver to notify",
				zap.String("event_id", event.ID),
				zap.String("request_id", event.Request.ID),
				zap.Error(err))
			return Result{}, nil
		}
		return Result{}, err
	}

	c := notificationContent(event)
	link := d.appLink(event.Request.ID)
	result := Result{Recipients: len(recipients)}
	var (
		created []domain.User
		errs    []error
	)
	for _, user := range recipients {
		n := domain.Notification{
			RecipientID:    user.ID,
			Kind:           c.kind,
			Title:          c.title,
			Body:           c.body,
			Link:           link,
			IdempotencyKey: IdempotencyKey(event.ID, user.ID),
		}
		ok, err := d.store(ctx, &n)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", user.ID, err))
			continue
		}
		if !ok {
			continue
		}
		result.Created++
		created = append(created, user)
		d.deps.Metrics.RecordNotification(string(n.Kind))
		if d.deps.Hub != nil {
			d.deps.Hub.Push(user.ID, n)
		}
	}

	if event.ApproverFacing() && len(created) > 0 {
		d.sendExternal(ctx, event, created)
	}
	return result, errors.Join(errs...)
}

// IdempotencyKey identifies one logical delivery of an event to a recipient.
func IdempotencyKey(eventID, recipientID string) string {
	return eventID + ":" + recipientID
}

func (d *Dispatcher) store(ctx context.Context, n *domain.Notification) (bool, error) {
	exists, err := d.deps.Notifications.ExistsByKey(ctx, n.IdempotencyKey)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return d.deps.Notifications.Create(ctx, n)
}

func (d *Dispatcher) recipients(ctx context.Context, event events.Event) ([]domain.User, error) {
	if !event.ApproverFacing() {
		return []domain.User{d.lookup(ctx, event.Request.RequesterID)}, nil
	}

	if p, ok := event.Payload.(events.EscalatedPayload); ok && len(p.ApproverIDs) > 0 {
		users := make([]domain.User, 0, len(p.ApproverIDs))
		for _, id := range p.ApproverIDs {
			users = append(users, d.lookup(ctx, id))
		}
		return users, nil
	}

	approvers, err := d.deps.Resolver.Approvers(ctx, &event.Request)
	if err != nil {
		return nil, err
	}
	out := approvers[:0]
	for _, u := range approvers {
		if u.ID != event.Actor.UserID {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: only the acting user is eligible", workflow.ErrApproverUnresolvable)
	}
	return out, nil
}

// lookup returns the directory entry or a bare user carrying only the id.
func (d *Dispatcher) lookup(ctx context.Context, id string) domain.User {
	user, err := d.deps.Directory.GetUser(ctx, id)
	if err != nil {
		if !repository.IsNotFound(err) {
			d.logger.Warn("directory lookup failed", zap.String("user_id", id), zap.Error(err))
		}
		return domain.User{ID: id}
	}
	return *user
}

// sendExternal messages every recipient that has a phone. Each of them gets
// a link of their own, so a public decision can be traced to its approver.
func (d *Dispatcher) sendExternal(ctx context.Context, event events.Event, users []domain.User) {
	if d.deps.Channel == nil {
		return
	}
	base := MessageData{
		SubjectName: event.Request.SubjectName,
		Kind:        kindLabel(event.Request.Kind),
		Date:        event.Request.ReferenceDate.Format("02/01/2006"),
		Quantity:    formatQuantity(event.Request.Kind, event.Request.Quantity),
	}
	if p, ok := event.Payload.(events.EscalatedPayload); ok {
		base.Attempt = p.Attempt
		base.DaysToExpiry = p.DaysToExpiry
	}

	for _, user := range users {
		if strings.TrimSpace(user.Phone) == "" {
			d.logger.Debug("recipient has no phone", zap.String("user_id", user.ID))
			continue
		}
		data := base
		data.ApproverName = user.Name
		data.Link = d.externalLink(ctx, event, user.ID)
		text, err := renderMessage(event.Type, data)
		if err != nil {
			d.logger.Warn("render external message", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}

		d.inflight.Add(1)
		go func(user domain.User, text, link string) {
			defer d.inflight.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.deps.ChannelTimeout)
			defer cancel()
			attempts, err := d.deps.Channel.Send(sendCtx, user.Phone, text, link)
			if err != nil {
				d.deps.Metrics.RecordChannelFailure()
				d.logger.Warn("external notification not delivered",
					zap.String("event_id", event.ID),
					zap.String("user_id", user.ID),
					zap.Error(fmt.Errorf("%w: %v", ErrChannelDeliveryFailed, err)))
			}
			d.recordDelivery(context.WithoutCancel(ctx), event, user, attempts, err)
		}(user, text, data.Link)
	}
}

func (d *Dispatcher) recordDelivery(ctx context.Context, event events.Event, user domain.User, attempts int, sendErr error) {
	if d.deps.Deliveries == nil {
		return
	}
	entry := domain.ChannelDelivery{
		EventID:     event.ID,
		RequestID:   event.Request.ID,
		RecipientID: user.ID,
		Phone:       user.Phone,
		Status:      domain.ChannelDeliverySent,
		Attempts:    attempts,
	}
	if sendErr != nil {
		entry.Status = domain.ChannelDeliveryFailed
		entry.Error = sendErr.Error()
	}
	if err := d.deps.Deliveries.Create(ctx, &entry); err != nil {
		d.logger.Warn("record channel delivery", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// externalLink issues a public approval link for one approver when a link
// holder may decide the request, and falls back to the in-app link otherwise.
// Issuing replaces that approver's previous link for the request.
func (d *Dispatcher) externalLink(ctx context.Context, event events.Event, approverID string) string {
	req := event.Request
	if d.deps.Tokens == nil || !workflow.CanAdvance(domain.RoleTokenApprover, req.Kind, req.State) {
		return d.appLink(req.ID)
	}
	token, err := d.deps.Tokens.Issue(ctx, &req, approverID)
	if err != nil {
		d.logger.Warn("issue approval token", zap.String("request_id", req.ID), zap.Error(err))
		return d.appLink(req.ID)
	}
	return fmt.Sprintf("%s/public/approvals/%s?token=%s", strings.TrimRight(d.deps.PublicBaseURL, "/"), req.ID, token)
}

func (d *Dispatcher) appLink(requestID string) string {
	return strings.TrimRight(d.deps.AppBaseURL, "/") + "/approvals/" + requestID
}
