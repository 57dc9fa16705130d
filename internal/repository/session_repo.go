package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentscreen-backend/internal/models"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, assessment_id, candidate_ref, status, mcq_score, server_score, recording_id,
	expires_at, started_at, mcq_completed_at, completed_at, created_at`

func (r *SessionRepo) Create(ctx context.Context, s *models.CandidateSession) error {
	s.ID = uuid.New()
	s.Status = models.SessionInvited

	query := `INSERT INTO candidate_sessions (id, assessment_id, candidate_ref, status, expires_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		s.ID, s.AssessmentID, s.CandidateRef, s.Status, s.ExpiresAt,
	).Scan(&s.CreatedAt)
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CandidateSession, error) {
	s := &models.CandidateSession{}
	err := r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM candidate_sessions WHERE id = $1", id).Scan(
		&s.ID, &s.AssessmentID, &s.CandidateRef, &s.Status, &s.MCQScore, &s.ServerScore, &s.RecordingID,
		&s.ExpiresAt, &s.StartedAt, &s.MCQCompletedAt, &s.CompletedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MarkStarted moves an invited session to in_progress. It is a no-op for any
// other status and reports whether a row changed.
func (r *SessionRepo) MarkStarted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE candidate_sessions SET status = $1, started_at = NOW() WHERE id = $2 AND status = $3",
		models.SessionInProgress, id, models.SessionInvited,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRepo) MarkMCQCompleted(ctx context.Context, id uuid.UUID, clientScore, serverScore int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE candidate_sessions
		SET status = $1, mcq_score = $2, server_score = $3, mcq_completed_at = COALESCE(mcq_completed_at, NOW())
		WHERE id = $4 AND status IN ($5, $6)`,
		models.SessionMCQCompleted, clientScore, serverScore, id, models.SessionInProgress, models.SessionMCQCompleted,
	)
	return err
}

func (r *SessionRepo) MarkCompleted(ctx context.Context, id uuid.UUID, recordingID *uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE candidate_sessions
		SET status = $1, recording_id = COALESCE($2, recording_id), completed_at = NOW()
		WHERE id = $3 AND status <> $1`,
		models.SessionCompleted, recordingID, id,
	)
	return err
}

// ExpireOverdue expires invited sessions past their deadline and started
// sessions abandoned before staleBefore. It returns the expired ids.
func (r *SessionRepo) ExpireOverdue(ctx context.Context, now, staleBefore time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE candidate_sessions SET status = $1
		WHERE status IN ($2, $3, $4)
			AND ((status = $2 AND expires_at < $5) OR started_at < $6)
		RETURNING id`,
		models.SessionExpired, models.SessionInvited, models.SessionInProgress, models.SessionMCQCompleted, now, staleBefore,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
