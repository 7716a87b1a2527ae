package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/approval-core/internal/domain"
)

// DirectoryRepository reads organizational user and site-assignment data.
type DirectoryRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListSiteMembers(ctx context.Context, siteID string) ([]domain.User, error)
}

type directoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository returns a Postgres-backed implementation.
func NewDirectoryRepository(pool *pgxpool.Pool) DirectoryRepository {
	return &directoryRepository{pool: pool}
}

func (r *directoryRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	const query = `
        SELECT id, name, role, COALESCE(phone, '')
        FROM users WHERE id=$1 AND active`

	var user domain.User
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Role,
		&user.Phone,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListSiteMembers returns active users assigned to the site.
func (r *directoryRepository) ListSiteMembers(ctx context.Context, siteID string) ([]domain.User, error) {
	const query = `
        SELECT u.id, u.name, u.role, COALESCE(u.phone, '')
        FROM users u
        JOIN site_assignments sa ON sa.user_id = u.id
        WHERE u.active AND sa.site_id = $1
        ORDER BY u.name`

	rows, err := r.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Name, &user.Role, &user.Phone); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}
