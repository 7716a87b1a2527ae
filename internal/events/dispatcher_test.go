package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRunsHandlersInOrderDespiteErrors(t *testing.T) {
	bus := NewInMemoryDispatcher(nil)
	var calls []string
	bus.Subscribe(EventApprovalCreated, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	bus.Subscribe(EventApprovalCreated, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	bus.Subscribe(EventApprovalExpired, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), Event{ID: "e1", Type: EventApprovalCreated}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestApproverFacing(t *testing.T) {
	cases := []struct {
		name  string
		event Event
		want  bool
	}{
		{"created", Event{Type: EventApprovalCreated}, true},
		{"escalated", Event{Type: EventApprovalEscalated}, true},
		{"expired", Event{Type: EventApprovalExpired}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.event.ApproverFacing())
		})
	}
}
