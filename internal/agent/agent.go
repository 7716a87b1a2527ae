package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/hub"
)

// ErrUnknownNotification is returned when acting on an id the agent has not seen.
var ErrUnknownNotification = errors.New("unknown notification")

// errConnectionLost ends a connected session. It never leaves the agent.
var errConnectionLost = errors.New("connection lost")

// Config controls reconnect and polling cadence.
type Config struct {
	PollConnected     time.Duration
	PollDisconnected  time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	ListLimit         int
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		PollConnected:     5 * time.Minute,
		PollDisconnected:  30 * time.Second,
		ReconnectInitial:  time.Second,
		ReconnectMax:      5 * time.Second,
		ReconnectAttempts: 5,
		ListLimit:         50,
	}
}

// Agent keeps a deduplicated local view of a user's notifications. It holds
// a push connection when it can and polls otherwise; exactly one of the two
// paths drives delivery at any time.
type Agent struct {
	cfg    Config
	api    API
	dialer Dialer
	logger *zap.Logger

	mu        sync.Mutex
	items     map[string]hub.NotificationPayload
	pending   map[string]int
	visible   bool
	connected bool

	wake      chan struct{}
	reconnect chan struct{}
	errs      chan error
}

// New builds an agent that talks to the server of the session.
func New(session Session, cfg Config, logger *zap.Logger) (*Agent, error) {
	dialer, err := NewWebSocketDialer(session, 0)
	if err != nil {
		return nil, err
	}
	return NewWithTransport(cfg, NewRESTAPI(session, 0), dialer, logger), nil
}

// NewWithTransport builds an agent over explicit transports.
func NewWithTransport(cfg Config, api API, dialer Dialer, logger *zap.Logger) *Agent {
	defaults := DefaultConfig()
	if cfg.PollConnected <= 0 {
		cfg.PollConnected = defaults.PollConnected
	}
	if cfg.PollDisconnected <= 0 {
		cfg.PollDisconnected = defaults.PollDisconnected
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = defaults.ReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaults.ReconnectMax
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaults.ReconnectAttempts
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = defaults.ListLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		cfg:       cfg,
		api:       api,
		dialer:    dialer,
		logger:    logger,
		items:     make(map[string]hub.NotificationPayload),
		pending:   make(map[string]int),
		visible:   true,
		wake:      make(chan struct{}, 1),
		reconnect: make(chan struct{}, 1),
		errs:      make(chan error, 16),
	}
}

// Errors reports failed local actions after they were reverted.
func (a *Agent) Errors() <-chan error {
	return a.errs
}

// Run drives delivery until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	for {
		stream, err := a.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			if err := a.serve(ctx, stream); err != nil && ctx.Err() == nil {
				a.logger.Info("hub connection dropped, reconnecting", zap.Error(err))
			}
			continue
		}

		a.logger.Warn("hub unreachable, polling only", zap.Error(err))
		if !a.fallback(ctx) {
			return ctx.Err()
		}
	}
}

// connect dials with exponential backoff, giving up after the configured
// number of attempts.
func (a *Agent) connect(ctx context.Context) (Stream, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.ReconnectInitial
	b.MaxInterval = a.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	var stream Stream
	attempt := 0
	operation := func() error {
		attempt++
		s, err := a.dialer.Dial(ctx)
		if err != nil {
			a.logger.Debug("hub dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		stream = s
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.ReconnectAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return stream, nil
}

// serve consumes pushes until the stream fails or ctx ends. One poll on
// entry catches up on anything missed while disconnected.
func (a *Agent) serve(ctx context.Context, stream Stream) error {
	a.setConnected(true)
	defer a.setConnected(false)

	frames := make(chan Frame)
	readErr := make(chan error, 1)
	go func() {
		for {
			f, err := stream.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer stream.Close()

	a.poll(ctx)
	ticker := time.NewTicker(a.cfg.PollConnected)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("%w: %v", errConnectionLost, err)
		case f := <-frames:
			a.apply(f)
		case <-ticker.C:
			a.poll(ctx)
		case <-a.wake:
			a.poll(ctx)
		}
	}
}

// fallback polls until ctx ends or Reconnect is called. It reports whether
// the caller should try connecting again.
func (a *Agent) fallback(ctx context.Context) bool {
	a.poll(ctx)
	ticker := time.NewTicker(a.cfg.PollDisconnected)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-a.reconnect:
			return true
		case <-ticker.C:
			a.poll(ctx)
		case <-a.wake:
			a.poll(ctx)
		}
	}
}

// Reconnect asks an agent that gave up on the hub to try again.
func (a *Agent) Reconnect() {
	select {
	case a.reconnect <- struct{}{}:
	default:
	}
}

// SetVisible pauses polling while the client is hidden. Becoming visible
// triggers an immediate poll.
func (a *Agent) SetVisible(visible bool) {
	a.mu.Lock()
	was := a.visible
	a.visible = visible
	a.mu.Unlock()

	if visible && !was {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

// Connected reports whether the push path is active.
func (a *Agent) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Agent) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

func (a *Agent) poll(ctx context.Context) {
	a.mu.Lock()
	visible := a.visible
	a.mu.Unlock()
	if !visible {
		return
	}
	items, err := a.api.List(ctx, a.cfg.ListLimit)
	if err != nil {
		a.logger.Debug("poll notifications failed", zap.Error(err))
		return
	}
	a.merge(items...)
}

func (a *Agent) apply(f Frame) {
	switch f.Type {
	case hub.EventNewNotification:
		var n hub.NotificationPayload
		if err := json.Unmarshal(f.Data, &n); err != nil {
			a.logger.Warn("decode notification", zap.Error(err))
			return
		}
		a.merge(n)
	case hub.EventNotificationUpdated:
		var u hub.UpdatedPayload
		if err := json.Unmarshal(f.Data, &u); err != nil {
			a.logger.Warn("decode notification update", zap.Error(err))
			return
		}
		a.mu.Lock()
		if n, ok := a.items[u.ID]; ok {
			n.Read = u.Read
			a.items[u.ID] = n
		}
		a.mu.Unlock()
	case hub.EventAllMarkedRead:
		a.mu.Lock()
		for id, n := range a.items {
			n.Read = true
			a.items[id] = n
		}
		a.mu.Unlock()
	case hub.EventError:
		a.logger.Warn("hub reported error", zap.ByteString("data", f.Data))
	}
}

// merge upserts by id. Items with an unconfirmed local mark-read keep it.
func (a *Agent) merge(items ...hub.NotificationPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range items {
		if n.ID == "" {
			continue
		}
		if a.pending[n.ID] > 0 {
			n.Read = true
		}
		a.items[n.ID] = n
	}
}

// Notifications returns the local view, newest first.
func (a *Agent) Notifications() []hub.NotificationPayload {
	a.mu.Lock()
	out := make([]hub.NotificationPayload, 0, len(a.items))
	for _, n := range a.items {
		out = append(out, n)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// UnreadCount returns the number of unread notifications in the local view.
func (a *Agent) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, n := range a.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead marks one notification read locally, then on the server. A
// server failure reverts the local change.
func (a *Agent) MarkRead(ctx context.Context, id string) error {
	a.mu.Lock()
	n, ok := a.items[id]
	if !ok {
		a.mu.Unlock()
		return ErrUnknownNotification
	}
	previous := n.Read
	n.Read = true
	a.items[id] = n
	a.pending[id]++
	a.mu.Unlock()

	err := a.api.MarkRead(ctx, id)

	a.mu.Lock()
	a.release(id)
	if err != nil {
		if cur, ok := a.items[id]; ok {
			cur.Read = previous
			a.items[id] = cur
		}
	}
	a.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("mark notification %s read: %w", id, err)
		a.report(err)
		return err
	}
	return nil
}

// MarkAllRead marks every notification read locally, then on the server. A
// server failure reverts the ones it changed.
func (a *Agent) MarkAllRead(ctx context.Context) error {
	a.mu.Lock()
	var changed []string
	for id, n := range a.items {
		if !n.Read {
			n.Read = true
			a.items[id] = n
			a.pending[id]++
			changed = append(changed, id)
		}
	}
	a.mu.Unlock()

	err := a.api.MarkAllRead(ctx)

	a.mu.Lock()
	for _, id := range changed {
		a.release(id)
		if err != nil {
			if cur, ok := a.items[id]; ok {
				cur.Read = false
				a.items[id] = cur
			}
		}
	}
	a.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("mark all notifications read: %w", err)
		a.report(err)
		return err
	}
	return nil
}

// release must be called with mu held.
func (a *Agent) release(id string) {
	if a.pending[id] <= 1 {
		delete(a.pending, id)
		return
	}
	a.pending[id]--
}

func (a *Agent) report(err error) {
	select {
	case a.errs <- err:
	default:
		a.logger.Warn("agent error dropped", zap.Error(err))
	}
}
