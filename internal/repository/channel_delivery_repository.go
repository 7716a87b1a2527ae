package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/approval-core/internal/domain"
)

const defaultDeliveryLimit = 100

// ChannelDeliveryFilter narrows a delivery log listing. Zero fields match all.
type ChannelDeliveryFilter struct {
	Status    domain.ChannelDeliveryStatus
	RequestID string
	Limit     int
}

// ChannelDeliveryRepository is the append-only external delivery log.
type ChannelDeliveryRepository interface {
	Create(ctx context.Context, d *domain.ChannelDelivery) error
	// List returns newest entries first.
	List(ctx context.Context, filter ChannelDeliveryFilter) ([]domain.ChannelDelivery, error)
}

type channelDeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewChannelDeliveryRepository instantiates repository.
func NewChannelDeliveryRepository(pool *pgxpool.Pool) ChannelDeliveryRepository {
	return &channelDeliveryRepository{pool: pool}
}

func (r *channelDeliveryRepository) Create(ctx context.Context, d *domain.ChannelDelivery) error {
	const query = `
        INSERT INTO channel_deliveries (event_id, request_id, recipient_id, phone, status, attempts, error)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		d.EventID,
		d.RequestID,
		d.RecipientID,
		d.Phone,
		d.Status,
		d.Attempts,
		d.Error,
	).Scan(&d.ID, &d.CreatedAt)
}

func (r *channelDeliveryRepository) List(ctx context.Context, filter ChannelDeliveryFilter) ([]domain.ChannelDelivery, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultDeliveryLimit
	}
	const query = `
        SELECT id, event_id, request_id, recipient_id, phone, status, attempts, error, created_at
        FROM channel_deliveries
        WHERE ($1 = '' OR status = $1) AND ($2 = '' OR request_id = $2)
        ORDER BY created_at DESC, id DESC
        LIMIT $3`
	rows, err := r.pool.Query(ctx, query, string(filter.Status), filter.RequestID, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChannelDelivery
	for rows.Next() {
		var d domain.ChannelDelivery
		if err := rows.Scan(
			&d.ID,
			&d.EventID,
			&d.RequestID,
			&d.RecipientID,
			&d.Phone,
			&d.Status,
			&d.Attempts,
			&d.Error,
			&d.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
