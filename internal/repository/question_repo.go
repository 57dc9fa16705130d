package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentscreen-backend/internal/models"
)

type QuestionRepo struct {
	pool *pgxpool.Pool
}

func NewQuestionRepo(pool *pgxpool.Pool) *QuestionRepo {
	return &QuestionRepo{pool: pool}
}

// CreateAssessment inserts the assessment and its questions in one transaction.
func (r *QuestionRepo) CreateAssessment(ctx context.Context, a *models.Assessment, questions []*models.Question) error {
	a.ID = uuid.New()
	if a.PolicyJSON == nil {
		a.PolicyJSON = json.RawMessage("{}")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		"INSERT INTO assessments (id, title, policy_json) VALUES ($1, $2, $3) RETURNING created_at",
		a.ID, a.Title, a.PolicyJSON,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}

	batch := &pgx.Batch{}
	for _, q := range questions {
		q.ID = uuid.New()
		q.AssessmentID = a.ID
		options, _ := json.Marshal(q.Options)
		if q.Options == nil {
			options = []byte("[]")
		}
		batch.Queue(
			`INSERT INTO questions (id, assessment_id, kind, position, text, options_json, correct_answer)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			q.ID, q.AssessmentID, q.Kind, q.Position, q.Text, options, q.CorrectAnswer,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert questions: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *QuestionRepo) GetAssessment(ctx context.Context, id uuid.UUID) (*models.Assessment, error) {
	a := &models.Assessment{}
	err := r.pool.QueryRow(ctx,
		"SELECT id, title, policy_json, created_at FROM assessments WHERE id = $1", id,
	).Scan(&a.ID, &a.Title, &a.PolicyJSON, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByAssessment returns questions ordered by kind then position.
func (r *QuestionRepo) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]*models.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, kind, position, text, options_json, correct_answer
		FROM questions WHERE assessment_id = $1 ORDER BY kind, position`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		q := &models.Question{}
		var options []byte
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Kind, &q.Position, &q.Text, &options, &q.CorrectAnswer); err != nil {
			return nil, err
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("question %s has malformed options: %w", q.ID, err)
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
