package assessmenttest

import (
	"context"
	"fmt"
	"sync"

	"talentscreen-backend/internal/assessment"
)

// Backend is an in-memory assessment.Backend that records every call.
// Configure it before handing it to the code under test; use the Set
// methods to change failures while a test is running.
type Backend struct {
	Invalid     bool
	Status      string
	ValidateErr error
	Policy      *assessment.Policy

	SessionID string
	StartErr  error

	Set          assessment.QuestionSet
	QuestionsErr error

	CompleteMCQErr   error
	CompleteVoiceErr error
	SubmitErr        error
	UploadErr        error
	RecordingID      string
	ViolationErr     error

	// VoiceValid decides the validity of a submitted answer. Nil accepts
	// every non-skipped answer.
	VoiceValid func(assessment.VoiceSubmission) bool

	mu          sync.Mutex
	saveErr     error
	validations int
	starts      int
	saves       []Save
	scores      []int
	submissions []assessment.VoiceSubmission
	uploads     []Upload
	completions []string
	violations  []assessment.Violation
}

type Save struct {
	QuestionID string
	Value      string
}

type Upload struct {
	Camera *assessment.Blob
	Screen *assessment.Blob
}

func NewBackend(set assessment.QuestionSet) *Backend {
	return &Backend{
		SessionID:   "session-1",
		Set:         set,
		RecordingID: "recording-1",
	}
}

func (b *Backend) ValidateSession(_ context.Context, token string) (assessment.Validation, error) {
	b.mu.Lock()
	b.validations++
	b.mu.Unlock()

	if b.ValidateErr != nil {
		return assessment.Validation{}, b.ValidateErr
	}
	if b.Invalid {
		status := b.Status
		if status == "" {
			status = "expired"
		}
		return assessment.Validation{Valid: false, Status: status, Error: "link has expired"}, nil
	}
	return assessment.Validation{Valid: true, Status: "pending", Policy: b.Policy}, nil
}

func (b *Backend) StartSession(context.Context, string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	if b.StartErr != nil {
		return "", b.StartErr
	}
	return b.SessionID, nil
}

func (b *Backend) Questions(context.Context, string) (assessment.QuestionSet, error) {
	if b.QuestionsErr != nil {
		return assessment.QuestionSet{}, b.QuestionsErr
	}
	set := assessment.QuestionSet{
		MCQ:   append([]assessment.Question(nil), b.Set.MCQ...),
		Voice: append([]assessment.Question(nil), b.Set.Voice...),
	}
	return set, nil
}

func (b *Backend) SaveAnswer(_ context.Context, _, questionID, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves = append(b.saves, Save{QuestionID: questionID, Value: value})
	return nil
}

func (b *Backend) CompleteMCQ(_ context.Context, _ string, score int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scores = append(b.scores, score)
	return b.CompleteMCQErr
}

func (b *Backend) SubmitVoiceAnswer(_ context.Context, _ string, sub assessment.VoiceSubmission) (assessment.VoiceResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submissions = append(b.submissions, sub)
	if b.SubmitErr != nil && !sub.Skipped {
		return assessment.VoiceResult{}, b.SubmitErr
	}
	if sub.Skipped {
		return assessment.VoiceResult{Valid: false}, nil
	}
	valid := true
	if b.VoiceValid != nil {
		valid = b.VoiceValid(sub)
	}
	return assessment.VoiceResult{Valid: valid}, nil
}

func (b *Backend) UploadRecording(_ context.Context, _ string, camera, screen *assessment.Blob) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, Upload{Camera: camera, Screen: screen})
	if b.UploadErr != nil {
		return "", b.UploadErr
	}
	return b.RecordingID, nil
}

func (b *Backend) CompleteVoice(_ context.Context, _, recordingID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completions = append(b.completions, recordingID)
	return b.CompleteVoiceErr
}

func (b *Backend) ReportViolation(_ context.Context, _ string, v assessment.Violation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.violations = append(b.violations, v)
	return b.ViolationErr
}

// SetSaveErr changes the SaveAnswer failure while the backend is in use.
func (b *Backend) SetSaveErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

func (b *Backend) Validations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validations
}

func (b *Backend) Starts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts
}

func (b *Backend) Saves() []Save {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Save(nil), b.saves...)
}

func (b *Backend) Scores() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.scores...)
}

func (b *Backend) Submissions() []assessment.VoiceSubmission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]assessment.VoiceSubmission(nil), b.submissions...)
}

func (b *Backend) Uploads() []Upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Upload(nil), b.uploads...)
}

func (b *Backend) Completions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.completions...)
}

func (b *Backend) Violations() []assessment.Violation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]assessment.Violation(nil), b.violations...)
}

// MCQ builds n multiple-choice questions whose correct answer is "A".
func MCQ(n int) []assessment.Question {
	qs := make([]assessment.Question, 0, n)
	for i := 1; i <= n; i++ {
		qs = append(qs, assessment.Question{
			ID:            fmt.Sprintf("mcq-%d", i),
			Kind:          assessment.QuestionMCQ,
			Text:          fmt.Sprintf("Question %d", i),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
		})
	}
	return qs
}

// Voice builds n voice questions.
func Voice(n int) []assessment.Question {
	qs := make([]assessment.Question, 0, n)
	for i := 1; i <= n; i++ {
		qs = append(qs, assessment.Question{
			ID:   fmt.Sprintf("voice-%d", i),
			Kind: assessment.QuestionVoice,
			Text: fmt.Sprintf("Tell us about %d", i),
		})
	}
	return qs
}
