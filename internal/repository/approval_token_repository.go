package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/approval-core/internal/domain"
)

// ApprovalTokenRepository manages approval link token persistence.
type ApprovalTokenRepository interface {
	// Upsert stores the token for its request and approver, replacing any
	// previous one for that pair.
	Upsert(ctx context.Context, token *domain.ApprovalToken) error
	ListByRequestID(ctx context.Context, requestID string) ([]domain.ApprovalToken, error)
}

type approvalTokenRepository struct {
	pool *pgxpool.Pool
}

// NewApprovalTokenRepository constructs repository.
func NewApprovalTokenRepository(pool *pgxpool.Pool) ApprovalTokenRepository {
	return &approvalTokenRepository{pool: pool}
}

func (r *approvalTokenRepository) Upsert(ctx context.Context, token *domain.ApprovalToken) error {
	const query = `
        INSERT INTO approval_tokens (request_id, approver_id, token_hash, expires_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (request_id, approver_id) DO UPDATE SET token_hash=EXCLUDED.token_hash, expires_at=EXCLUDED.expires_at, created_at=NOW()
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		token.RequestID,
		token.ApproverID,
		token.TokenHash,
		token.ExpiresAt,
	).Scan(&token.CreatedAt)
}

func (r *approvalTokenRepository) ListByRequestID(ctx context.Context, requestID string) ([]domain.ApprovalToken, error) {
	if !validID(requestID) {
		return nil, nil
	}
	const query = `
        SELECT request_id, approver_id, token_hash, expires_at, created_at
        FROM approval_tokens WHERE request_id=$1
        ORDER BY approver_id`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []domain.ApprovalToken
	for rows.Next() {
		var token domain.ApprovalToken
		if err := rows.Scan(
			&token.RequestID,
			&token.ApproverID,
			&token.TokenHash,
			&token.ExpiresAt,
			&token.CreatedAt,
		); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
