package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const JobRecordingProcessing = "recording-processing"

type Job struct {
	ID           uuid.UUID       `json:"id"`
	SessionID    uuid.UUID       `json:"session_id"`
	Type         string          `json:"type"` // "recording-processing"
	ReferenceID  uuid.UUID       `json:"reference_id"`
	ConfigJSON   json.RawMessage `json:"config"`
	Status       string          `json:"status"` // "pending" | "processing" | "completed" | "failed"
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ViolationEvent struct {
	SessionID  uuid.UUID `json:"session_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Total      int       `json:"total"`
}

type StatusEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	Status    string    `json:"status"`
	Score     *int      `json:"score,omitempty"`
}

type RecordingEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	RecordingID uuid.UUID `json:"recording_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
