package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentscreen-backend/internal/models"
)

type RecordingRepo struct {
	pool *pgxpool.Pool
}

func NewRecordingRepo(pool *pgxpool.Pool) *RecordingRepo {
	return &RecordingRepo{pool: pool}
}

func (r *RecordingRepo) Create(ctx context.Context, rec *models.Recording) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Status = models.RecordingUploaded

	query := `INSERT INTO recordings (id, session_id, camera_path, screen_path, camera_digest, screen_digest, camera_bytes, screen_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		rec.ID, rec.SessionID, rec.CameraPath, rec.ScreenPath, rec.CameraDigest, rec.ScreenDigest,
		rec.CameraBytes, rec.ScreenBytes, rec.Status,
	).Scan(&rec.CreatedAt)
}

func (r *RecordingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	rec := &models.Recording{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, camera_path, screen_path, camera_digest, screen_digest, camera_bytes, screen_bytes,
			status, created_at, processed_at
		FROM recordings WHERE id = $1`, id,
	).Scan(
		&rec.ID, &rec.SessionID, &rec.CameraPath, &rec.ScreenPath, &rec.CameraDigest, &rec.ScreenDigest,
		&rec.CameraBytes, &rec.ScreenBytes, &rec.Status, &rec.CreatedAt, &rec.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkProcessed stores the digests and sizes verified by the worker.
func (r *RecordingRepo) MarkProcessed(ctx context.Context, rec *models.Recording) error {
	return r.pool.QueryRow(ctx,
		`UPDATE recordings
		SET camera_digest = $1, screen_digest = $2, camera_bytes = $3, screen_bytes = $4, status = $5, processed_at = NOW()
		WHERE id = $6 RETURNING processed_at`,
		rec.CameraDigest, rec.ScreenDigest, rec.CameraBytes, rec.ScreenBytes, models.RecordingProcessed, rec.ID,
	).Scan(&rec.ProcessedAt)
}

func (r *RecordingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, "UPDATE recordings SET status = $1 WHERE id = $2", status, id)
	return err
}
