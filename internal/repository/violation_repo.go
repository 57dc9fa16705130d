package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentscreen-backend/internal/models"
)

type ViolationRepo struct {
	pool *pgxpool.Pool
}

func NewViolationRepo(pool *pgxpool.Pool) *ViolationRepo {
	return &ViolationRepo{pool: pool}
}

func (r *ViolationRepo) Create(ctx context.Context, v *models.Violation) error {
	v.ID = uuid.New()
	return r.pool.QueryRow(ctx,
		"INSERT INTO violations (id, session_id, type, occurred_at) VALUES ($1, $2, $3, $4) RETURNING created_at",
		v.ID, v.SessionID, v.Type, v.OccurredAt,
	).Scan(&v.CreatedAt)
}

func (r *ViolationRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Violation, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, session_id, type, occurred_at, created_at FROM violations WHERE session_id = $1 ORDER BY occurred_at",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Violation
	for rows.Next() {
		v := &models.Violation{}
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Type, &v.OccurredAt, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *ViolationRepo) Count(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM violations WHERE session_id = $1", sessionID).Scan(&n)
	return n, err
}
