package hub

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	credentialKey = "hub_credential"
	writeWait     = 10 * time.Second
)

// Upgrade accepts websocket upgrades and captures the bearer credential from
// the Authorization header or the token query parameter.
func (h *Hub) Upgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		credential := c.Query("token")
		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				credential = parts[1]
			}
		}
		c.Locals(credentialKey, credential)
		return c.Next()
	}
}

// Handler serves upgraded connections.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		credential, _ := conn.Locals(credentialKey).(string)
		socket := newFiberSocket(conn, h.cfg.PingInterval)
		if err := h.Serve(context.Background(), socket, credential); err != nil {
			h.logger.Debug("hub connection ended", zap.Error(err))
		}
	})
}

// fiberSocket adapts a fiber websocket connection. The read deadline is twice
// the ping interval and is extended by every pong.
type fiberSocket struct {
	conn     *websocket.Conn
	readWait time.Duration
}

func newFiberSocket(conn *websocket.Conn, pingInterval time.Duration) *fiberSocket {
	s := &fiberSocket{conn: conn}
	if pingInterval > 0 {
		s.readWait = 2 * pingInterval
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.readWait))
		})
	}
	return s
}

func (s *fiberSocket) ReadJSON(v any) error {
	if s.readWait > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readWait)); err != nil {
			return err
		}
	}
	return s.conn.ReadJSON(v)
}

func (s *fiberSocket) WriteJSON(v any) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *fiberSocket) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *fiberSocket) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
