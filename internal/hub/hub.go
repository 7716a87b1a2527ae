package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/observability"
	"github.com/spec-kit/approval-core/internal/repository"
)

// NotificationStore is the subset of the durable store the hub mutates.
type NotificationStore interface {
	MarkRead(ctx context.Context, recipientID, id string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// Config tunes connections.
type Config struct {
	PingInterval time.Duration
	SendBuffer   int
}

// Hub keeps every live connection grouped by user. It is a pure live-push
// layer: nothing is queued for users without a connection.
type Hub struct {
	cfg     Config
	auth    auth.Authenticator
	store   NotificationStore
	metrics *observability.Metrics
	logger  *zap.Logger

	nextID atomic.Uint64
	mu     sync.RWMutex
	users  map[string]map[*Conn]struct{}
}

// New constructs a hub.
func New(cfg Config, authenticator auth.Authenticator, store NotificationStore, metrics *observability.Metrics, logger *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		cfg:     cfg,
		auth:    authenticator,
		store:   store,
		metrics: metrics,
		logger:  logger,
		users:   make(map[string]map[*Conn]struct{}),
	}
}

// Serve runs one connection until the socket fails, the peer leaves, ctx is
// cancelled or the hub is closed. A rejected credential gets one error event
// and an immediate close.
func (h *Hub) Serve(ctx context.Context, socket Socket, credential string) error {
	c := newConn(h.nextID.Add(1), socket, h.cfg.SendBuffer)
	c.setState(StateConnecting)

	principal, err := h.auth.Authenticate(ctx, credential)
	if err != nil {
		_ = socket.WriteJSON(Outbound{Type: EventError, Data: ErrorPayload{Message: "authentication failed"}})
		c.close()
		return err
	}
	c.userID = principal.UserID
	c.setState(StateAuthenticated)

	h.join(c)
	defer h.leave(c)

	if err := socket.WriteJSON(Outbound{Type: EventConnected, Data: ConnectedPayload{UserID: c.userID}}); err != nil {
		return err
	}
	c.setState(StateActive)

	go h.readPump(c)
	return h.loop(ctx, c)
}

// Push delivers a new notification to every connection of the user.
func (h *Hub) Push(userID string, n domain.Notification) {
	h.broadcast(userID, Outbound{Type: EventNewNotification, Data: NewNotificationPayload(n)})
}

// BroadcastRead confirms a single mark-read to every connection of the user.
func (h *Hub) BroadcastRead(userID string, n domain.Notification) {
	h.broadcast(userID, Outbound{Type: EventNotificationUpdated, Data: UpdatedPayload{ID: n.ID, Read: n.Read}})
}

// BroadcastAllRead confirms mark-all-read to every connection of the user.
func (h *Hub) BroadcastAllRead(userID string, updated int64) {
	h.broadcast(userID, Outbound{Type: EventAllMarkedRead, Data: AllReadPayload{Updated: updated}})
}

// Connections returns the number of live connections of a user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Close terminates every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Conn
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) join(c *Conn) {
	h.mu.Lock()
	set, ok := h.users[c.userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.HubConnectionOpened()
	h.logger.Debug("hub connection joined", zap.String("user_id", c.userID), zap.Uint64("conn", c.id))
}

func (h *Hub) leave(c *Conn) {
	c.close()
	h.mu.Lock()
	if set, ok := h.users[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.mu.Unlock()
	h.metrics.HubConnectionClosed()
	h.logger.Debug("hub connection left", zap.String("user_id", c.userID), zap.Uint64("conn", c.id))
}

func (h *Hub) broadcast(userID string, out Outbound) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.enqueue(message{kind: msgOutbound, outbound: out}) {
			h.logger.Warn("hub push dropped",
				zap.String("user_id", userID),
				zap.Uint64("conn", c.id),
				zap.String("type", out.Type))
		}
	}
}

// readPump forwards inbound frames to the connection loop.
func (h *Hub) readPump(c *Conn) {
	for {
		var in Inbound
		if err := c.socket.ReadJSON(&in); err != nil {
			select {
			case c.queue <- message{kind: msgReadFailed, err: err}:
			case <-c.done:
			}
			return
		}
		select {
		case c.queue <- message{kind: msgInbound, inbound: in}:
		case <-c.done:
			return
		}
	}
}

// loop is the single consumer of a connection. Every socket write happens here.
func (h *Hub) loop(ctx context.Context, c *Conn) error {
	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-ping:
			if err := c.socket.Ping(); err != nil {
				return err
			}
		case m := <-c.queue:
			switch m.kind {
			case msgReadFailed:
				return m.err
			case msgOutbound:
				if err := c.socket.WriteJSON(m.outbound); err != nil {
					return err
				}
			case msgInbound:
				if err := h.handle(ctx, c, m.inbound); err != nil {
					return err
				}
			}
		}
	}
}

// handle applies a client action. Store failures are reported to the
// originating connection only; confirmations go to every connection of the
// user.
func (h *Hub) handle(ctx context.Context, c *Conn, in Inbound) error {
	switch in.Type {
	case ActionMarkRead:
		n, err := h.store.MarkRead(ctx, c.userID, in.ID)
		if err != nil {
			return h.replyError(c, in, err)
		}
		h.BroadcastRead(c.userID, *n)
	case ActionMarkAllRead:
		updated, err := h.store.MarkAllRead(ctx, c.userID)
		if err != nil {
			return h.replyError(c, in, err)
		}
		h.BroadcastAllRead(c.userID, updated)
	default:
		return c.socket.WriteJSON(Outbound{Type: EventError, Data: ErrorPayload{Message: "unknown action " + in.Type}})
	}
	return nil
}

func (h *Hub) replyError(c *Conn, in Inbound, err error) error {
	msg := "could not update notification"
	if repository.IsNotFound(err) {
		msg = "notification not found"
	} else if !errors.Is(err, context.Canceled) {
		h.logger.Warn("hub action failed",
			zap.String("user_id", c.userID),
			zap.String("action", in.Type),
			zap.Error(err))
	}
	return c.socket.WriteJSON(Outbound{Type: EventError, Data: ErrorPayload{Message: msg}})
}
