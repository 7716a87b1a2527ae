package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/repository"
	"github.com/spec-kit/approval-core/internal/workflow"
)

type recordingPusher struct {
	mu    sync.Mutex
	items map[string][]domain.Notification
}

func (p *recordingPusher) Push(userID string, n domain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.items == nil {
		p.items = make(map[string][]domain.Notification)
	}
	p.items[userID] = append(p.items[userID], n)
}

func (p *recordingPusher) count(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items[userID])
}

type sent struct {
	phone, text, link string
}

type recordingChannel struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (c *recordingChannel) Send(_ context.Context, phone, text, link string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{phone, text, link})
	if c.err != nil {
		return 3, c.err
	}
	return 1, nil
}

type fixture struct {
	engine        *workflow.Engine
	dispatcher    *Dispatcher
	notifications *repository.MemoryNotificationRepository
	tokens        *repository.MemoryApprovalTokenRepository
	deliveries    *repository.MemoryChannelDeliveryRepository
	directory     *repository.MemoryDirectoryRepository
	pusher        *recordingPusher
	channel       *recordingChannel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	approvals := repository.NewMemoryApprovalRepository()
	directory := repository.NewMemoryDirectoryRepository()
	directory.AddUser(domain.User{ID: "sup", Name: "Carla", Role: domain.RoleSupervisor, Phone: "11 98765-4321"}, "site-1")
	directory.AddUser(domain.User{ID: "emp", Name: "Rui", Role: domain.RoleEmployee}, "site-1")

	f := &fixture{
		engine: workflow.NewEngine(approvals, map[domain.ApprovalKind]workflow.Policy{
			domain.ApprovalKindOvertime: {TTL: 48 * time.Hour, StaleAfter: 24 * time.Hour},
		}, nil),
		notifications: repository.NewMemoryNotificationRepository(),
		tokens:        repository.NewMemoryApprovalTokenRepository(),
		deliveries:    repository.NewMemoryChannelDeliveryRepository(),
		directory:     directory,
		pusher:        &recordingPusher{},
		channel:       &recordingChannel{},
	}
	f.dispatcher = NewDispatcher(Dependencies{
		Notifications: f.notifications,
		Directory:     directory,
		Resolver:      workflow.NewResolver(directory),
		Tokens:        auth.NewLinkTokens(f.tokens, 48*time.Hour, bcrypt.MinCost),
		Hub:           f.pusher,
		Channel:       f.channel,
		Deliveries:    f.deliveries,
		AppBaseURL:    "https://erp.example",
		PublicBaseURL: "https://api.example/",
	})
	return f
}

func (f *fixture) openOvertime(t *testing.T, site string) *events.Event {
	t.Helper()
	event, err := f.engine.Open(context.Background(), workflow.OpenInput{
		Kind:        domain.ApprovalKindOvertime,
		SubjectID:   "time-record-9",
		SubjectName: "Rui Costa",
		SiteID:      site,
		RequesterID: "emp",
		Quantity:    decimal.RequireFromString("2.5"),
	})
	require.NoError(t, err)
	return event
}

func TestDispatchIsIdempotentPerEventAndRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.openOvertime(t, "site-1")

	first, err := f.dispatcher.Dispatch(ctx, *event)
	require.NoError(t, err)
	second, err := f.dispatcher.Dispatch(ctx, *event)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, Result{Recipients: 1, Created: 1}, first)
	assert.Equal(t, Result{Recipients: 1, Created: 0}, second)

	list, err := f.notifications.ListByRecipient(ctx, "sup", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotificationKindApproval, list[0].Kind)
	assert.Equal(t, "https://erp.example/approvals/"+event.Request.ID, list[0].Link)
	assert.Equal(t, 1, f.pusher.count("sup"))

	require.Len(t, f.channel.sent, 1)
	msg := f.channel.sent[0]
	assert.Equal(t, "11 98765-4321", msg.phone)
	assert.Contains(t, msg.text, "Carla")
	assert.Contains(t, msg.text, "Rui Costa")
	assert.Contains(t, msg.text, "2.50h")
	assert.True(t, strings.HasPrefix(msg.link, "https://api.example/public/approvals/"+event.Request.ID+"?token="))

	stored, err := f.tokens.ListByRequestID(ctx, event.Request.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "sup", stored[0].ApproverID)
	assert.False(t, stored[0].ExpiresAt.After(event.Request.ExpiresAt))

	log, err := f.deliveries.List(ctx, repository.ChannelDeliveryFilter{})
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, domain.ChannelDeliverySent, log[0].Status)
	assert.Equal(t, 1, log[0].Attempts)
	assert.Equal(t, "sup", log[0].RecipientID)
}

func TestEachApproverGetsOwnLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.directory.AddUser(domain.User{ID: "sup2", Name: "Duda", Role: domain.RoleSupervisor, Phone: "11 91234-0000"}, "site-1")
	event := f.openOvertime(t, "site-1")

	_, err := f.dispatcher.Dispatch(ctx, *event)
	require.NoError(t, err)
	f.dispatcher.Wait()

	require.Len(t, f.channel.sent, 2)
	assert.NotEqual(t, f.channel.sent[0].link, f.channel.sent[1].link)
	stored, err := f.tokens.ListByRequestID(ctx, event.Request.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "sup", stored[0].ApproverID)
	assert.Equal(t, "sup2", stored[1].ApproverID)
}

func TestNoTokenIssuedWithoutPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.directory.AddUser(domain.User{ID: "sup", Name: "Carla", Role: domain.RoleSupervisor}, "site-1")
	event := f.openOvertime(t, "site-1")

	result, err := f.dispatcher.Dispatch(ctx, *event)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, 1, result.Created)
	assert.Empty(t, f.channel.sent)
	stored, err := f.tokens.ListByRequestID(ctx, event.Request.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestOutcomeNotifiesRequesterOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.openOvertime(t, "site-1")

	event, err := f.engine.Transition(ctx, workflow.TransitionInput{
		RequestID: created.Request.ID,
		Target:    domain.ApprovalStateRejected,
		Actor:     domain.Actor{UserID: "sup", Role: domain.RoleSupervisor},
		Notes:     "hours not confirmed by site log",
	})
	require.NoError(t, err)

	result, err := f.dispatcher.Dispatch(ctx, *event)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, 1, result.Created)
	list, err := f.notifications.ListByRecipient(ctx, "emp", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotificationKindError, list[0].Kind)
	assert.Contains(t, list[0].Body, "hours not confirmed")
	assert.Empty(t, f.channel.sent)
}

func TestUnresolvableApproverIsSkipped(t *testing.T) {
	f := newFixture(t)
	event := f.openOvertime(t, "empty-site")

	result, err := f.dispatcher.Dispatch(context.Background(), *event)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestChannelFailureDoesNotAffectStoreOrHub(t *testing.T) {
	f := newFixture(t)
	f.channel.err = errors.New("gateway down")
	event := f.openOvertime(t, "site-1")

	result, err := f.dispatcher.Dispatch(context.Background(), *event)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, f.pusher.count("sup"))
	assert.Len(t, f.channel.sent, 1)

	failed, err := f.deliveries.List(context.Background(), repository.ChannelDeliveryFilter{Status: domain.ChannelDeliveryFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Contains(t, failed[0].Error, "gateway down")
	assert.Equal(t, event.Request.ID, failed[0].RequestID)
}

func TestEscalationUsesGivenApprovers(t *testing.T) {
	f := newFixture(t)
	created := f.openOvertime(t, "site-1")
	event := events.Event{
		ID:      "esc-1",
		Type:    events.EventApprovalEscalated,
		Request: created.Request,
		Payload: events.EscalatedPayload{Attempt: 2, ApproverIDs: []string{"sup"}, DaysToExpiry: 1},
	}

	result, err := f.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)
	f.dispatcher.Wait()

	assert.Equal(t, 1, result.Created)
	list, err := f.notifications.ListByRecipient(context.Background(), "sup", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.NotificationKindReminder, list[0].Kind)
	require.Len(t, f.channel.sent, 1)
	assert.Contains(t, f.channel.sent[0].text, "Reminder #2")
}
