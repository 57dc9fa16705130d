package assessment

import (
	"context"
	"time"
)

// Validation is the entry-guard result for a session token.
type Validation struct {
	Valid  bool    `json:"valid"`
	Status string  `json:"status,omitempty"`
	Error  string  `json:"error,omitempty"`
	Policy *Policy `json:"policy,omitempty"`
}

// VoiceSubmission is one voice answer (or skip) for a question.
type VoiceSubmission struct {
	QuestionID string
	Audio      *Blob
	Skipped    bool
	Duration   time.Duration
}

// VoiceResult is the backend verdict on a voice submission.
type VoiceResult struct {
	Valid      bool   `json:"valid"`
	Transcript string `json:"transcript,omitempty"`
}

type TokenValidator interface {
	ValidateSession(ctx context.Context, token string) (Validation, error)
}

type QuestionSource interface {
	StartSession(ctx context.Context, token string) (string, error)
	Questions(ctx context.Context, token string) (QuestionSet, error)
}

// AnswerSink receives answers and recorded media.
type AnswerSink interface {
	SaveAnswer(ctx context.Context, token, questionID, value string) error
	CompleteMCQ(ctx context.Context, token string, score int) error
	SubmitVoiceAnswer(ctx context.Context, token string, sub VoiceSubmission) (VoiceResult, error)
	UploadRecording(ctx context.Context, token string, camera, screen *Blob) (string, error)
	ReportViolation(ctx context.Context, token string, v Violation) error
}

type CompletionNotifier interface {
	CompleteVoice(ctx context.Context, token, recordingID string) error
}

// Backend is everything the orchestrator needs from the server.
type Backend interface {
	TokenValidator
	QuestionSource
	AnswerSink
	CompletionNotifier
}
