package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentscreen-backend/internal/models"
)

type AnswerRepo struct {
	pool *pgxpool.Pool
}

func NewAnswerRepo(pool *pgxpool.Pool) *AnswerRepo {
	return &AnswerRepo{pool: pool}
}

// Upsert stores the latest value for (session, question).
func (r *AnswerRepo) Upsert(ctx context.Context, a *models.Answer) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO answers (session_id, question_id, value) VALUES ($1, $2, $3)
		ON CONFLICT (session_id, question_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		RETURNING updated_at`,
		a.SessionID, a.QuestionID, a.Value,
	).Scan(&a.UpdatedAt)
}

func (r *AnswerRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Answer, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT session_id, question_id, value, updated_at FROM answers WHERE session_id = $1",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []*models.Answer
	for rows.Next() {
		a := &models.Answer{}
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.Value, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// UpsertVoice stores the voice answer for (session, question). A later
// submission for the same question replaces the earlier one.
func (r *AnswerRepo) UpsertVoice(ctx context.Context, v *models.VoiceAnswer) error {
	v.ID = uuid.New()
	return r.pool.QueryRow(ctx,
		`INSERT INTO voice_answers (id, session_id, question_id, audio_path, digest, size_bytes, duration_sec, skipped, valid, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id, question_id) DO UPDATE SET
			audio_path = EXCLUDED.audio_path, digest = EXCLUDED.digest, size_bytes = EXCLUDED.size_bytes,
			duration_sec = EXCLUDED.duration_sec, skipped = EXCLUDED.skipped, valid = EXCLUDED.valid,
			transcript = EXCLUDED.transcript
		RETURNING id, created_at`,
		v.ID, v.SessionID, v.QuestionID, v.AudioPath, v.Digest, v.SizeBytes, v.DurationSec, v.Skipped, v.Valid, v.Transcript,
	).Scan(&v.ID, &v.CreatedAt)
}

func (r *AnswerRepo) ListVoiceBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.VoiceAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, question_id, audio_path, digest, size_bytes, duration_sec, skipped, valid, transcript, created_at
		FROM voice_answers WHERE session_id = $1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.VoiceAnswer
	for rows.Next() {
		v := &models.VoiceAnswer{}
		if err := rows.Scan(&v.ID, &v.SessionID, &v.QuestionID, &v.AudioPath, &v.Digest, &v.SizeBytes,
			&v.DurationSec, &v.Skipped, &v.Valid, &v.Transcript, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
