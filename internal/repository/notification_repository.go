package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/approval-core/internal/domain"
)

const defaultNotificationLimit = 50

// NotificationRepository is the durable notification store.
type NotificationRepository interface {
	// Create inserts the notification unless its idempotency key already exists.
	// It reports whether a new row was written.
	Create(ctx context.Context, n *domain.Notification) (bool, error)
	ExistsByKey(ctx context.Context, key string) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
	// MarkRead flips one notification owned by recipientID to read.
	MarkRead(ctx context.Context, recipientID, id string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository instantiates repository.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	const query = `
        INSERT INTO notifications (recipient_id, kind, title, body, link, idempotency_key)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING id, read, created_at`
	err := r.pool.QueryRow(ctx, query,
		n.RecipientID,
		n.Kind,
		n.Title,
		n.Body,
		n.Link,
		n.IdempotencyKey,
	).Scan(&n.ID, &n.Read, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *notificationRepository) ExistsByKey(ctx context.Context, key string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM notifications WHERE idempotency_key=$1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	const query = `
        SELECT id, recipient_id, kind, title, body, link, read, idempotency_key, created_at
        FROM notifications WHERE recipient_id=$1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&n.Kind,
			&n.Title,
			&n.Body,
			&n.Link,
			&n.Read,
			&n.IdempotencyKey,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, recipientID, id string) (*domain.Notification, error) {
	if !validID(id) {
		return nil, pgx.ErrNoRows
	}
	const query = `
        UPDATE notifications SET read=TRUE
        WHERE id=$1 AND recipient_id=$2
        RETURNING id, recipient_id, kind, title, body, link, read, idempotency_key, created_at`
	var n domain.Notification
	if err := r.pool.QueryRow(ctx, query, id, recipientID).Scan(
		&n.ID,
		&n.RecipientID,
		&n.Kind,
		&n.Title,
		&n.Body,
		&n.Link,
		&n.Read,
		&n.IdempotencyKey,
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	const query = `UPDATE notifications SET read=TRUE WHERE recipient_id=$1 AND read=FALSE`
	cmd, err := r.pool.Exec(ctx, query, recipientID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
