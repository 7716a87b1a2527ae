package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/repository"
	apperrors "github.com/spec-kit/approval-core/pkg/util/errorutil"
)

type recordingBroadcaster struct {
	read    []string
	allRead []int64
}

func (b *recordingBroadcaster) BroadcastRead(_ string, n domain.Notification) {
	b.read = append(b.read, n.ID)
}

func (b *recordingBroadcaster) BroadcastAllRead(_ string, updated int64) {
	b.allRead = append(b.allRead, updated)
}

func TestNotificationServiceReadState(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryNotificationRepository()
	for _, key := range []string{"a", "b"} {
		_, err := repo.Create(ctx, &domain.Notification{RecipientID: "u1", Title: key, IdempotencyKey: key})
		require.NoError(t, err)
	}
	broadcaster := &recordingBroadcaster{}
	svc := NewNotificationService(repo, broadcaster, nil)

	list, err := svc.List(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Title, "newest first")

	n, err := svc.MarkRead(ctx, "u1", list[0].ID)
	require.NoError(t, err)
	assert.True(t, n.Read)
	assert.Equal(t, []string{list[0].ID}, broadcaster.read)

	_, err = svc.MarkRead(ctx, "u2", list[1].ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "other users' notifications are invisible")

	updated, err := svc.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)
	assert.Equal(t, []int64{1}, broadcaster.allRead)
}
