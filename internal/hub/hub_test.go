package hub

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/repository"
)

type fakeSocket struct {
	in     chan Inbound
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out []Outbound
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan Inbound, 8), closed: make(chan struct{})}
}

func (s *fakeSocket) ReadJSON(v any) error {
	select {
	case msg := <-s.in:
		*(v.(*Inbound)) = msg
		return nil
	case <-s.closed:
		return io.EOF
	}
}

func (s *fakeSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, v.(Outbound))
	return nil
}

func (s *fakeSocket) Ping() error { return nil }

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.out))
	for _, o := range s.out {
		out = append(out, o.Type)
	}
	return out
}

func (s *fakeSocket) last() Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out[len(s.out)-1]
}

type staticAuth map[string]string

func (a staticAuth) Authenticate(_ context.Context, credential string) (*auth.Principal, error) {
	userID, ok := a[credential]
	if !ok {
		return nil, errors.New("bad credential")
	}
	return &auth.Principal{UserID: userID, Role: domain.RoleSupervisor}, nil
}

func serve(t *testing.T, h *Hub, credential string) (*fakeSocket, chan error) {
	t.Helper()
	socket := newFakeSocket()
	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), socket, credential) }()
	return socket, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestRejectedCredentialGetsErrorAndClose(t *testing.T) {
	h := New(Config{}, staticAuth{}, repository.NewMemoryNotificationRepository(), nil, nil)
	socket, done := serve(t, h, "nope")

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.Equal(t, []string{EventError}, socket.types())
	assert.Equal(t, 0, h.Connections("u1"))
	select {
	case <-socket.closed:
	default:
		t.Fatal("socket not closed")
	}
}

func TestPushReachesEveryConnectionOfUser(t *testing.T) {
	h := New(Config{}, staticAuth{"a": "u1", "b": "u1", "c": "u2"}, repository.NewMemoryNotificationRepository(), nil, nil)
	s1, _ := serve(t, h, "a")
	s2, _ := serve(t, h, "b")
	s3, _ := serve(t, h, "c")
	waitFor(t, func() bool { return h.Connections("u1") == 2 && h.Connections("u2") == 1 })

	h.Push("u1", domain.Notification{ID: "n1", RecipientID: "u1", Title: "hi"})

	for _, s := range []*fakeSocket{s1, s2} {
		s := s
		waitFor(t, func() bool { return len(s.types()) == 2 })
		assert.Equal(t, []string{EventConnected, EventNewNotification}, s.types())
		payload := s.last().Data.(NotificationPayload)
		assert.Equal(t, "n1", payload.ID)
		assert.False(t, payload.Read)
	}
	assert.Equal(t, []string{EventConnected}, s3.types())
}

func TestMarkAllReadConfirmsToAllConnections(t *testing.T) {
	store := repository.NewMemoryNotificationRepository()
	ctx := context.Background()
	for _, key := range []string{"k1", "k2", "k3"} {
		_, err := store.Create(ctx, &domain.Notification{RecipientID: "u1", Title: key, IdempotencyKey: key})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, &domain.Notification{RecipientID: "u2", Title: "other", IdempotencyKey: "k4"})
	require.NoError(t, err)

	h := New(Config{}, staticAuth{"a": "u1", "b": "u1"}, store, nil, nil)
	s1, _ := serve(t, h, "a")
	s2, _ := serve(t, h, "b")
	waitFor(t, func() bool { return h.Connections("u1") == 2 })

	s1.in <- Inbound{Type: ActionMarkAllRead}

	for _, s := range []*fakeSocket{s1, s2} {
		s := s
		waitFor(t, func() bool { return len(s.types()) == 2 })
		assert.Equal(t, EventAllMarkedRead, s.last().Type)
		assert.Equal(t, int64(3), s.last().Data.(AllReadPayload).Updated)
	}

	list, err := store.ListByRecipient(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, n := range list {
		assert.True(t, n.Read)
	}
	other, err := store.ListByRecipient(ctx, "u2", 10)
	require.NoError(t, err)
	assert.False(t, other[0].Read)
}

func TestMarkReadUnknownIDRepliesToOriginOnly(t *testing.T) {
	h := New(Config{}, staticAuth{"a": "u1", "b": "u1"}, repository.NewMemoryNotificationRepository(), nil, nil)
	s1, _ := serve(t, h, "a")
	s2, _ := serve(t, h, "b")
	waitFor(t, func() bool { return h.Connections("u1") == 2 })

	s1.in <- Inbound{Type: ActionMarkRead, ID: "missing"}

	waitFor(t, func() bool { return len(s1.types()) == 2 })
	assert.Equal(t, EventError, s1.last().Type)
	assert.Equal(t, "notification not found", s1.last().Data.(ErrorPayload).Message)
	assert.Equal(t, []string{EventConnected}, s2.types())
}

func TestDisconnectRemovesConnection(t *testing.T) {
	h := New(Config{}, staticAuth{"a": "u1"}, repository.NewMemoryNotificationRepository(), nil, nil)
	s1, done := serve(t, h, "a")
	waitFor(t, func() bool { return h.Connections("u1") == 1 })

	_ = s1.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.Equal(t, 0, h.Connections("u1"))

	h.Push("u1", domain.Notification{ID: "n1"})
	assert.Equal(t, []string{EventConnected}, s1.types())
}
