package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/spec-kit/approval-core/internal/hub"
)

// Session identifies the user the agent acts for. The owner creates it and
// passes it in; the agent keeps no other credential state.
type Session struct {
	BaseURL    string
	Credential string
	UserID     string
}

// Frame is a server event as read from the stream.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// API is the request/response side of the server.
type API interface {
	List(ctx context.Context, limit int) ([]hub.NotificationPayload, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Stream is an established push connection.
type Stream interface {
	ReadFrame() (Frame, error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

type restAPI struct {
	baseURL    string
	credential string
	timeout    time.Duration
}

// NewRESTAPI returns an API backed by the notification endpoints.
func NewRESTAPI(session Session, timeout time.Duration) API {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &restAPI{
		baseURL:    strings.TrimRight(session.BaseURL, "/"),
		credential: session.Credential,
		timeout:    timeout,
	}
}

func (r *restAPI) List(_ context.Context, limit int) ([]hub.NotificationPayload, error) {
	req := fiber.Get(r.baseURL + "/api/notifications?limit=" + strconv.Itoa(limit))
	req.Set(fiber.HeaderAuthorization, "Bearer "+r.credential)
	req.Timeout(r.timeout)

	var out struct {
		Data []hub.NotificationPayload `json:"data"`
	}
	status, body, errs := req.Struct(&out)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if status != fiber.StatusOK {
		return nil, fmt.Errorf("list notifications: status %d: %s", status, body)
	}
	return out.Data, nil
}

func (r *restAPI) MarkRead(_ context.Context, id string) error {
	return r.post("/api/notifications/" + url.PathEscape(id) + "/read")
}

func (r *restAPI) MarkAllRead(_ context.Context) error {
	return r.post("/api/notifications/read-all")
}

func (r *restAPI) post(path string) error {
	req := fiber.Post(r.baseURL + path)
	req.Set(fiber.HeaderAuthorization, "Bearer "+r.credential)
	req.Timeout(r.timeout)

	status, body, errs := req.Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if status != fiber.StatusOK {
		return fmt.Errorf("post %s: status %d: %s", path, status, body)
	}
	return nil
}

type wsDialer struct {
	endpoint    string
	credential  string
	dialer      *websocket.Dialer
	readTimeout time.Duration
}

// NewWebSocketDialer returns a Dialer for the hub endpoint of the session.
// readTimeout bounds the silence tolerated between server pings.
func NewWebSocketDialer(session Session, readTimeout time.Duration) (Dialer, error) {
	u, err := url.Parse(strings.TrimRight(session.BaseURL, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if readTimeout <= 0 {
		readTimeout = time.Minute
	}
	return &wsDialer{
		endpoint:    u.String(),
		credential:  session.Credential,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		readTimeout: readTimeout,
	}, nil
}

func (d *wsDialer) Dial(ctx context.Context) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.credential)

	conn, resp, err := d.dialer.DialContext(ctx, d.endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.readTimeout))
	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if first.Type != hub.EventConnected {
		conn.Close()
		return nil, backoff.Permanent(fmt.Errorf("hub refused connection: %s", first.Data))
	}

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(d.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	return &wsStream{conn: conn, readTimeout: d.readTimeout}, nil
}

type wsStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (s *wsStream) ReadFrame() (Frame, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	var f Frame
	err := s.conn.ReadJSON(&f)
	return f, err
}

func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
