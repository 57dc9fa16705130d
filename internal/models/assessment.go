package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Candidate session statuses
const (
	SessionInvited      = "invited"
	SessionInProgress   = "in_progress"
	SessionMCQCompleted = "mcq_completed"
	SessionCompleted    = "completed"
	SessionExpired      = "expired"
)

type Assessment struct {
	ID         uuid.UUID       `json:"id"`
	Title      string          `json:"title"`
	PolicyJSON json.RawMessage `json:"policy"`
	CreatedAt  time.Time       `json:"created_at"`
}

type CandidateSession struct {
	ID             uuid.UUID  `json:"id"`
	AssessmentID   uuid.UUID  `json:"assessment_id"`
	CandidateRef   string     `json:"candidate_ref"`
	Status         string     `json:"status"`
	MCQScore       *int       `json:"mcq_score"`
	ServerScore    *int       `json:"server_score"`
	RecordingID    *uuid.UUID `json:"recording_id"`
	ExpiresAt      time.Time  `json:"expires_at"`
	StartedAt      *time.Time `json:"started_at"`
	MCQCompletedAt *time.Time `json:"mcq_completed_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Question kinds
const (
	QuestionMCQ   = "mcq"
	QuestionVoice = "voice"
)

type Question struct {
	ID            uuid.UUID `json:"id"`
	AssessmentID  uuid.UUID `json:"-"`
	Kind          string    `json:"kind"`
	Position      int       `json:"position"`
	Text          string    `json:"text"`
	Options       []string  `json:"options,omitempty"`
	CorrectAnswer *string   `json:"correct_answer,omitempty"`
}

type Answer struct {
	SessionID  uuid.UUID `json:"session_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Value      string    `json:"value"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type VoiceAnswer struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	QuestionID  uuid.UUID `json:"question_id"`
	AudioPath   *string   `json:"-"`
	Digest      *string   `json:"digest,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	DurationSec float64   `json:"duration_sec"`
	Skipped     bool      `json:"skipped"`
	Valid       bool      `json:"valid"`
	Transcript  *string   `json:"transcript,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Recording statuses
const (
	RecordingUploaded  = "uploaded"
	RecordingProcessed = "processed"
	RecordingFailed    = "failed"
)

type Recording struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    uuid.UUID  `json:"session_id"`
	CameraPath   *string    `json:"-"`
	ScreenPath   *string    `json:"-"`
	CameraDigest *string    `json:"camera_digest,omitempty"`
	ScreenDigest *string    `json:"screen_digest,omitempty"`
	CameraBytes  int64      `json:"camera_bytes"`
	ScreenBytes  int64      `json:"screen_bytes"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
}

type Violation struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ──── Request payloads ────

type SaveAnswerRequest struct {
	Value string `json:"value"`
}

type CompleteMCQRequest struct {
	Score int `json:"score"`
}

type CompleteVoiceRequest struct {
	RecordingID string `json:"recording_id,omitempty"`
}

type ViolationRequest struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionReview is the recruiter-facing summary of one candidate session.
type SessionReview struct {
	Session    *CandidateSession `json:"session"`
	Violations []*Violation      `json:"violations"`
	Recording  *Recording        `json:"recording,omitempty"`
	Voice      []*VoiceAnswer    `json:"voice_answers"`
}
