package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/approval-core/internal/domain"
)

// ApprovalFilter captures scan parameters for approval requests.
type ApprovalFilter struct {
	Kind           *domain.ApprovalKind
	SiteID         string
	States         []domain.ApprovalState
	StaleBefore    *time.Time
	ExpiresBefore  *time.Time
	MaxEscalations int
	Limit          int
}

// TransitionUpdate describes a conditional state change.
type TransitionUpdate struct {
	ID         string
	Expected   domain.ApprovalState
	Target     domain.ApprovalState
	ResolverID *string
	Notes      string
	Signature  []byte
	At         time.Time
}

// ApprovalRepository encapsulates approval request persistence.
type ApprovalRepository interface {
	Create(ctx context.Context, req *domain.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	// Transition applies the update only while the stored state still equals
	// update.Expected and reports whether a row changed.
	Transition(ctx context.Context, update TransitionUpdate) (bool, error)
	ListWithFilter(ctx context.Context, filter ApprovalFilter) ([]domain.ApprovalRequest, error)
	MarkEscalated(ctx context.Context, id string, at time.Time) error
}

type approvalRepository struct {
	pool *pgxpool.Pool
}

// NewApprovalRepository instantiates repository.
func NewApprovalRepository(pool *pgxpool.Pool) ApprovalRepository {
	return &approvalRepository{pool: pool}
}

const approvalColumns = `id, kind, subject_id, subject_name, site_id, requester_id, state,
               quantity::text, reference_date, notes, signature, resolver_id, escalation_count,
               created_at, last_transition_at, last_escalated_at, expires_at`

func (r *approvalRepository) Create(ctx context.Context, req *domain.ApprovalRequest) error {
	const query = `
        INSERT INTO approval_requests (kind, subject_id, subject_name, site_id, requester_id, state,
            quantity, reference_date, notes, created_at, last_transition_at, expires_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$10,$11)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		req.Kind,
		req.SubjectID,
		req.SubjectName,
		req.SiteID,
		req.RequesterID,
		req.State,
		req.Quantity.String(),
		req.ReferenceDate,
		req.Notes,
		req.CreatedAt,
		req.ExpiresAt,
	).Scan(&req.ID)
}

func (r *approvalRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	if !validID(id) {
		return nil, pgx.ErrNoRows
	}
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id=$1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanApprovals(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &list[0], nil
}

func (r *approvalRepository) Transition(ctx context.Context, update TransitionUpdate) (bool, error) {
	const query = `
        UPDATE approval_requests
        SET state=$1, resolver_id=COALESCE($2, resolver_id), notes=CASE WHEN $3 = '' THEN notes ELSE $3 END,
            signature=COALESCE($4, signature), last_transition_at=$5
        WHERE id=$6 AND state=$7`
	cmd, err := r.pool.Exec(ctx, query,
		update.Target,
		update.ResolverID,
		update.Notes,
		update.Signature,
		update.At,
		update.ID,
		update.Expected,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *approvalRepository) ListWithFilter(ctx context.Context, filter ApprovalFilter) ([]domain.ApprovalRequest, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		clauses = append(clauses, fmt.Sprintf("kind=$%d", len(args)))
	}
	if filter.SiteID != "" {
		args = append(args, filter.SiteID)
		clauses = append(clauses, fmt.Sprintf("site_id=$%d", len(args)))
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.StaleBefore != nil {
		args = append(args, *filter.StaleBefore)
		clauses = append(clauses, fmt.Sprintf("COALESCE(last_escalated_at, created_at) <= $%d", len(args)))
	}
	if filter.ExpiresBefore != nil {
		args = append(args, *filter.ExpiresBefore)
		clauses = append(clauses, fmt.Sprintf("expires_at <= $%d", len(args)))
	}
	if filter.MaxEscalations > 0 {
		args = append(args, filter.MaxEscalations)
		clauses = append(clauses, fmt.Sprintf("escalation_count < $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	query := fmt.Sprintf(`SELECT %s FROM approval_requests WHERE %s ORDER BY created_at ASC LIMIT %d`,
		approvalColumns, strings.Join(clauses, " AND "), limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApprovals(rows)
}

func (r *approvalRepository) MarkEscalated(ctx context.Context, id string, at time.Time) error {
	const query = `
        UPDATE approval_requests SET last_escalated_at=$1, escalation_count=escalation_count+1
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanApprovals(rows pgx.Rows) ([]domain.ApprovalRequest, error) {
	var result []domain.ApprovalRequest
	for rows.Next() {
		var (
			req      domain.ApprovalRequest
			quantity string
		)
		if err := rows.Scan(
			&req.ID,
			&req.Kind,
			&req.SubjectID,
			&req.SubjectName,
			&req.SiteID,
			&req.RequesterID,
			&req.State,
			&quantity,
			&req.ReferenceDate,
			&req.Notes,
			&req.Signature,
			&req.ResolverID,
			&req.EscalationCount,
			&req.CreatedAt,
			&req.LastTransitionAt,
			&req.LastEscalatedAt,
			&req.ExpiresAt,
		); err != nil {
			return nil, err
		}
		parsed, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("parse quantity of %s: %w", req.ID, err)
		}
		req.Quantity = parsed
		result = append(result, req)
	}
	return result, rows.Err()
}

// validID guards UUID columns against malformed identifiers coming from URLs.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
