package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/x", "GET", 200, time.Millisecond)
		m.RecordError("/x", "GET", "NOT_FOUND")
		m.RecordNotification("approval")
		m.RecordChannelFailure()
		m.RecordEscalation("succeeded", 2)
		m.HubConnectionOpened()
		m.HubConnectionClosed()
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsCountersAndScrape(t *testing.T) {
	m := NewMetrics("test")
	m.RecordNotification("approval")
	m.RecordNotification("approval")
	m.RecordEscalation("skipped", 3)
	m.RecordEscalation("failed", 0)
	m.HubConnectionOpened()
	m.HubConnectionOpened()
	m.HubConnectionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("approval")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.escalations.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hubConnections))

	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop(), m))
	app.Get("/metrics", m.Handler())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/ping", "GET", "200")))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "test_notifications_dispatched_total"))
}
