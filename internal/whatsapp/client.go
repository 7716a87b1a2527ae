package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrDeliveryFailed is returned once every attempt to reach the webhook failed.
var ErrDeliveryFailed = errors.New("whatsapp delivery failed")

// Message is the webhook payload.
type Message struct {
	Number       string `json:"number"`
	Text         string `json:"text"`
	Link         string `json:"link,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
	APIKey       string `json:"apikey,omitempty"`
}

// Config controls the webhook client.
type Config struct {
	WebhookURL   string
	InstanceName string
	APIKey       string
	CountryCode  string
	Timeout      time.Duration
	Attempts     int
	RetryStep    time.Duration
}

// Client posts text messages to a WhatsApp gateway webhook.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// NewClient constructs a client. It returns nil when no webhook is configured.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Send delivers one message to phone and reports how many webhook calls it
// made. Server errors and transport failures are retried with a linearly
// growing delay; client errors are not.
func (c *Client) Send(ctx context.Context, phone, text, link string) (int, error) {
	number := FormatPhone(phone, c.cfg.CountryCode)
	if number == "" {
		return 0, fmt.Errorf("%w: empty phone number", ErrDeliveryFailed)
	}
	msg := Message{
		Number:       number,
		Text:         text,
		Link:         link,
		InstanceName: c.cfg.InstanceName,
		APIKey:       c.cfg.APIKey,
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := c.post(msg)
		if err != nil {
			c.logger.Warn("whatsapp webhook attempt failed",
				zap.Int("attempt", attempt),
				zap.String("number", number),
				zap.Error(err))
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: c.cfg.RetryStep}, uint64(c.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return attempt, fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, attempt, err)
	}
	c.logger.Info("whatsapp message sent", zap.String("number", number), zap.Int("attempts", attempt))
	return attempt, nil
}

func (c *Client) post(msg Message) error {
	agent := fiber.Post(c.cfg.WebhookURL)
	agent.JSON(msg)
	agent.Timeout(c.cfg.Timeout)

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500 && status != fiber.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("webhook rejected message: status %d: %s", status, truncate(body, 200)))
	default:
		return fmt.Errorf("webhook status %d", status)
	}
}

// FormatPhone keeps digits only and prefixes the country code when missing.
// A single leading trunk zero is dropped.
func FormatPhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := b.String()
	if number == "" || countryCode == "" || strings.HasPrefix(number, countryCode) {
		return number
	}
	return countryCode + strings.TrimPrefix(number, "0")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}

// linearBackOff waits step, 2*step, 3*step and so on between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.step
}

func (l *linearBackOff) Reset() {
	l.n = 0
}
