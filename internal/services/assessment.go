package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/models"
)

type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.CandidateSession, error)
	MarkStarted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkMCQCompleted(ctx context.Context, id uuid.UUID, clientScore, serverScore int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, recordingID *uuid.UUID) error
}

type QuestionStore interface {
	GetAssessment(ctx context.Context, id uuid.UUID) (*models.Assessment, error)
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]*models.Question, error)
}

type AnswerStore interface {
	Upsert(ctx context.Context, a *models.Answer) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Answer, error)
	UpsertVoice(ctx context.Context, v *models.VoiceAnswer) error
	ListVoiceBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.VoiceAnswer, error)
}

type RecordingStore interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
}

type ViolationStore interface {
	Create(ctx context.Context, v *models.Violation) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Violation, error)
	Count(ctx context.Context, sessionID uuid.UUID) (int, error)
}

type Publisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage)
}

type ValidationStore interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*assessment.Validation, bool)
	Set(ctx context.Context, sessionID uuid.UUID, v *assessment.Validation)
	Invalidate(ctx context.Context, sessionID uuid.UUID)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

type FileStore interface {
	Save(sessionID uuid.UUID, name string, r io.Reader) (*StoredFile, error)
}

// AssessmentDeps wires the AssessmentService.
type AssessmentDeps struct {
	Sessions   SessionStore
	Questions  QuestionStore
	Answers    AnswerStore
	Recordings RecordingStore
	Violations ViolationStore
	Jobs       Enqueuer
	Events     Publisher
	Cache      ValidationStore
	Files      FileStore
	Checker    AnswerChecker
	Policy     assessment.Policy
}

// AssessmentService is the backend collaborator of the candidate
// orchestrator. Every method takes the session id resolved from the token.
type AssessmentService struct {
	sessions   SessionStore
	questions  QuestionStore
	answers    AnswerStore
	recordings RecordingStore
	violations ViolationStore
	jobs       Enqueuer
	events     Publisher
	cache      ValidationStore
	files      FileStore
	checker    AnswerChecker
	policy     assessment.Policy
	now        func() time.Time
}

func NewAssessmentService(d AssessmentDeps) *AssessmentService {
	checker := d.Checker
	if checker == nil {
		checker = DefaultHeuristic()
	}
	return &AssessmentService{
		sessions:   d.Sessions,
		questions:  d.Questions,
		answers:    d.Answers,
		recordings: d.Recordings,
		violations: d.Violations,
		jobs:       d.Jobs,
		events:     d.Events,
		cache:      d.Cache,
		files:      d.Files,
		checker:    checker,
		policy:     d.Policy.WithDefaults(),
		now:        time.Now,
	}
}

// FileUpload is one multipart file part.
type FileUpload struct {
	Reader   io.Reader
	MimeType string
}

// VoiceUpload is one voice answer or skip.
type VoiceUpload struct {
	QuestionID string
	Skipped    bool
	Duration   time.Duration
	Audio      *FileUpload
}

// effectiveStatus treats an invited session past its deadline as expired
// even before the sweeper has run.
func (s *AssessmentService) effectiveStatus(sess *models.CandidateSession) string {
	if sess.Status == models.SessionInvited && s.now().After(sess.ExpiresAt) {
		return models.SessionExpired
	}
	return sess.Status
}

func (s *AssessmentService) loadSession(ctx context.Context, id uuid.UUID) (*models.CandidateSession, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Assessment session not found"}
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// openSession loads a session that can still accept candidate input.
func (s *AssessmentService) openSession(ctx context.Context, id uuid.UUID) (*models.CandidateSession, error) {
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	switch s.effectiveStatus(sess) {
	case models.SessionCompleted:
		return nil, &GoneError{Message: "This assessment has already been completed"}
	case models.SessionExpired:
		return nil, &GoneError{Message: "This assessment link has expired"}
	}
	return sess, nil
}

// Validate is the entry guard. Unknown, completed and expired sessions are
// reported as invalid rather than as errors.
func (s *AssessmentService) Validate(ctx context.Context, id uuid.UUID) (*assessment.Validation, error) {
	if v, ok := s.cache.Get(ctx, id); ok {
		return v, nil
	}

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var v *assessment.Validation
	switch {
	case sess == nil:
		v = &assessment.Validation{Valid: false, Status: "not_found", Error: "Assessment session not found"}
	default:
		status := s.effectiveStatus(sess)
		switch status {
		case models.SessionCompleted:
			v = &assessment.Validation{Valid: false, Status: status, Error: "This assessment has already been completed"}
		case models.SessionExpired:
			v = &assessment.Validation{Valid: false, Status: status, Error: "This assessment link has expired"}
		default:
			policy := s.policyFor(ctx, sess.AssessmentID)
			v = &assessment.Validation{Valid: true, Status: status, Policy: &policy}
		}
	}

	s.cache.Set(ctx, id, v)
	return v, nil
}

// policyFor overlays the assessment's own policy on the server default.
func (s *AssessmentService) policyFor(ctx context.Context, assessmentID uuid.UUID) assessment.Policy {
	policy := s.policy
	a, err := s.questions.GetAssessment(ctx, assessmentID)
	if err != nil {
		log.Printf("assessment: policy lookup for %s failed, using default: %v", assessmentID, err)
		return policy
	}
	policy, err = OverlayPolicy(policy, a.PolicyJSON)
	if err != nil {
		log.Printf("assessment: malformed policy on %s, using default: %v", assessmentID, err)
		return s.policy
	}
	return policy
}

// OverlayPolicy applies an assessment's stored policy JSON on top of base.
// Fields absent from raw keep base's values.
func OverlayPolicy(base assessment.Policy, raw json.RawMessage) (assessment.Policy, error) {
	policy := base
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &policy); err != nil {
			return base, err
		}
	}
	return policy.WithDefaults(), nil
}

// Start moves an invited session to in progress. Starting again is a no-op.
func (s *AssessmentService) Start(ctx context.Context, id uuid.UUID) (string, error) {
	sess, err := s.openSession(ctx, id)
	if err != nil {
		return "", err
	}

	changed, err := s.sessions.MarkStarted(ctx, sess.ID)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	if changed {
		s.cache.Invalidate(ctx, sess.ID)
		s.events.Publish(ctx, sess.ID, models.WSMessage{
			Type:    "status_update",
			Payload: models.StatusEvent{SessionID: sess.ID, Status: models.SessionInProgress},
		})
	}
	return sess.ID.String(), nil
}

// Questions returns both ordered question lists of the session's assessment.
func (s *AssessmentService) Questions(ctx context.Context, id uuid.UUID) (*assessment.QuestionSet, error) {
	sess, err := s.openSession(ctx, id)
	if err != nil {
		return nil, err
	}

	qs, err := s.questions.ListByAssessment(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}

	set := &assessment.QuestionSet{MCQ: []assessment.Question{}, Voice: []assessment.Question{}}
	for _, q := range qs {
		item := assessment.Question{
			ID:     q.ID.String(),
			Kind:   assessment.QuestionKind(q.Kind),
			Text:   q.Text,
			Status: assessment.StatusPending,
		}
		switch q.Kind {
		case models.QuestionMCQ:
			item.Options = q.Options
			if q.CorrectAnswer != nil {
				item.CorrectAnswer = *q.CorrectAnswer
			}
			set.MCQ = append(set.MCQ, item)
		case models.QuestionVoice:
			set.Voice = append(set.Voice, item)
		}
	}
	return set, nil
}

func (s *AssessmentService) findQuestion(ctx context.Context, sess *models.CandidateSession, rawID, kind string) (*models.Question, error) {
	qid, err := uuid.Parse(rawID)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"question_id": "Must be a valid question id"}}
	}

	qs, err := s.questions.ListByAssessment(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	for _, q := range qs {
		if q.ID != qid {
			continue
		}
		if q.Kind != kind {
			return nil, &ValidationError{Fields: map[string]string{"question_id": fmt.Sprintf("Not a %s question", kind)}}
		}
		return q, nil
	}
	return nil, &NotFoundError{Message: "Question not found"}
}

// SaveAnswer upserts the latest choice for one multiple-choice question.
func (s *AssessmentService) SaveAnswer(ctx context.Context, id uuid.UUID, questionID, value string) error {
	if value == "" {
		return &ValidationError{Fields: map[string]string{"value": "Answer is required"}}
	}

	sess, err := s.openSession(ctx, id)
	if err != nil {
		return err
	}
	switch sess.Status {
	case models.SessionInvited:
		return &ConflictError{Message: "Assessment has not been started"}
	case models.SessionMCQCompleted:
		return &ConflictError{Message: "Multiple-choice section is already submitted"}
	}

	q, err := s.findQuestion(ctx, sess, questionID, models.QuestionMCQ)
	if err != nil {
		return err
	}
	if len(q.Options) > 0 && !slices.Contains(q.Options, value) {
		return &ValidationError{Fields: map[string]string{"value": "Must be one of the question's options"}}
	}

	if err := s.answers.Upsert(ctx, &models.Answer{SessionID: sess.ID, QuestionID: q.ID, Value: value}); err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

// CompleteMCQ records the client's score next to a score recomputed from
// stored answers. Completing twice returns the stored server score.
func (s *AssessmentService) CompleteMCQ(ctx context.Context, id uuid.UUID, clientScore int) (int, error) {
	if clientScore < 0 || clientScore > 100 {
		return 0, &ValidationError{Fields: map[string]string{"score": "Must be between 0 and 100"}}
	}

	sess, err := s.openSession(ctx, id)
	if err != nil {
		return 0, err
	}
	switch sess.Status {
	case models.SessionInvited:
		return 0, &ConflictError{Message: "Assessment has not been started"}
	case models.SessionMCQCompleted:
		if sess.ServerScore != nil {
			return *sess.ServerScore, nil
		}
	}

	serverScore, err := s.recomputeScore(ctx, sess)
	if err != nil {
		return 0, err
	}
	if serverScore != clientScore {
		log.Printf("assessment: score mismatch for session %s: client %d, server %d", sess.ID, clientScore, serverScore)
	}

	if err := s.sessions.MarkMCQCompleted(ctx, sess.ID, clientScore, serverScore); err != nil {
		return 0, fmt.Errorf("failed to complete multiple-choice section: %w", err)
	}
	s.cache.Invalidate(ctx, sess.ID)
	s.events.Publish(ctx, sess.ID, models.WSMessage{
		Type:    "status_update",
		Payload: models.StatusEvent{SessionID: sess.ID, Status: models.SessionMCQCompleted, Score: &serverScore},
	})
	return serverScore, nil
}

func (s *AssessmentService) recomputeScore(ctx context.Context, sess *models.CandidateSession) (int, error) {
	qs, err := s.questions.ListByAssessment(ctx, sess.AssessmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to list questions: %w", err)
	}
	answers, err := s.answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list answers: %w", err)
	}

	given := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		given[a.QuestionID] = a.Value
	}

	total, correct := 0, 0
	for _, q := range qs {
		if q.Kind != models.QuestionMCQ {
			continue
		}
		total++
		if q.CorrectAnswer != nil && given[q.ID] == *q.CorrectAnswer {
			correct++
		}
	}
	return assessment.ScorePercent(correct, total), nil
}

// SubmitVoiceAnswer stores one voice answer and reports whether it counts.
// Skips are stored with zero duration and are never valid.
func (s *AssessmentService) SubmitVoiceAnswer(ctx context.Context, id uuid.UUID, up VoiceUpload) (*assessment.VoiceResult, error) {
	sess, err := s.openSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionInvited {
		return nil, &ConflictError{Message: "Assessment has not been started"}
	}

	q, err := s.findQuestion(ctx, sess, up.QuestionID, models.QuestionVoice)
	if err != nil {
		return nil, err
	}

	answer := &models.VoiceAnswer{SessionID: sess.ID, QuestionID: q.ID, Skipped: up.Skipped}
	result := &assessment.VoiceResult{}

	if !up.Skipped {
		if up.Audio == nil || up.Audio.Reader == nil {
			return nil, &ValidationError{Fields: map[string]string{"audio": "Audio is required unless the question is skipped"}}
		}
		audio, err := io.ReadAll(up.Audio.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}

		stored, err := s.files.Save(sess.ID, "voice-"+q.ID.String()+assessment.ExtensionFor(up.Audio.MimeType), bytes.NewReader(audio))
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				return nil, &ValidationError{Fields: map[string]string{"audio": "Audio file is too large"}}
			}
			return nil, fmt.Errorf("failed to store audio: %w", err)
		}

		check, err := s.checker.Check(ctx, audio, up.Audio.MimeType, up.Duration)
		if err != nil {
			log.Printf("assessment: voice check failed for session %s question %s: %v", sess.ID, q.ID, err)
			check, _ = DefaultHeuristic().Check(ctx, audio, up.Audio.MimeType, up.Duration)
		}

		answer.AudioPath = &stored.Path
		answer.Digest = &stored.Digest
		answer.SizeBytes = stored.Size
		answer.DurationSec = up.Duration.Seconds()
		answer.Valid = check.Valid
		if check.Transcript != "" {
			answer.Transcript = &check.Transcript
		}
		result.Valid = check.Valid
		result.Transcript = check.Transcript
	}

	if err := s.answers.UpsertVoice(ctx, answer); err != nil {
		return nil, fmt.Errorf("failed to save voice answer: %w", err)
	}
	return result, nil
}

// UploadRecording stores the composite camera and screen recordings and
// queues them for processing. Either part may be missing, not both.
func (s *AssessmentService) UploadRecording(ctx context.Context, id uuid.UUID, camera, screen *FileUpload) (string, error) {
	if camera == nil && screen == nil {
		return "", &ValidationError{Fields: map[string]string{"camera": "At least one recording is required"}}
	}

	sess, err := s.openSession(ctx, id)
	if err != nil {
		return "", err
	}

	rec := &models.Recording{ID: uuid.New(), SessionID: sess.ID}
	if camera != nil {
		stored, err := s.files.Save(sess.ID, "camera-"+rec.ID.String()+assessment.ExtensionFor(camera.MimeType), camera.Reader)
		if err != nil {
			return "", storeError("camera", err)
		}
		rec.CameraPath, rec.CameraDigest, rec.CameraBytes = &stored.Path, &stored.Digest, stored.Size
	}
	if screen != nil {
		stored, err := s.files.Save(sess.ID, "screen-"+rec.ID.String()+assessment.ExtensionFor(screen.MimeType), screen.Reader)
		if err != nil {
			return "", storeError("screen", err)
		}
		rec.ScreenPath, rec.ScreenDigest, rec.ScreenBytes = &stored.Path, &stored.Digest, stored.Size
	}

	if err := s.recordings.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to save recording: %w", err)
	}

	job := &models.Job{SessionID: sess.ID, Type: models.JobRecordingProcessing, ReferenceID: rec.ID}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		log.Printf("assessment: recording %s stored but not queued: %v", rec.ID, err)
	}

	s.events.Publish(ctx, sess.ID, models.WSMessage{
		Type:    "recording_uploaded",
		Payload: models.RecordingEvent{SessionID: sess.ID, RecordingID: rec.ID, Status: rec.Status},
	})
	return rec.ID.String(), nil
}

func storeError(field string, err error) error {
	if errors.Is(err, ErrTooLarge) {
		return &ValidationError{Fields: map[string]string{field: "Recording is too large"}}
	}
	return fmt.Errorf("failed to store %s recording: %w", field, err)
}

// CompleteVoice closes the session. Completing twice is a no-op.
func (s *AssessmentService) CompleteVoice(ctx context.Context, id uuid.UUID, recordingID string) error {
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return err
	}
	switch s.effectiveStatus(sess) {
	case models.SessionCompleted:
		return nil
	case models.SessionExpired:
		return &GoneError{Message: "This assessment link has expired"}
	case models.SessionInvited:
		return &ConflictError{Message: "Assessment has not been started"}
	}

	var recID *uuid.UUID
	if recordingID != "" {
		parsed, err := uuid.Parse(recordingID)
		if err != nil {
			return &ValidationError{Fields: map[string]string{"recording_id": "Must be a valid recording id"}}
		}
		rec, err := s.recordings.GetByID(ctx, parsed)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &ValidationError{Fields: map[string]string{"recording_id": "Recording not found"}}
			}
			return fmt.Errorf("failed to load recording: %w", err)
		}
		if rec.SessionID != sess.ID {
			return &ValidationError{Fields: map[string]string{"recording_id": "Recording belongs to another session"}}
		}
		recID = &parsed
	}

	if err := s.sessions.MarkCompleted(ctx, sess.ID, recID); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	s.cache.Invalidate(ctx, sess.ID)
	s.events.Publish(ctx, sess.ID, models.WSMessage{
		Type:    "status_update",
		Payload: models.StatusEvent{SessionID: sess.ID, Status: models.SessionCompleted},
	})
	return nil
}

// ReportViolation persists a proctoring violation and forwards it to the
// live feed.
func (s *AssessmentService) ReportViolation(ctx context.Context, id uuid.UUID, req models.ViolationRequest) error {
	switch assessment.ViolationType(req.Type) {
	case assessment.ViolationTabHidden, assessment.ViolationFullscreenExit:
	default:
		return &ValidationError{Fields: map[string]string{"type": "Unknown violation type"}}
	}

	sess, err := s.openSession(ctx, id)
	if err != nil {
		return err
	}

	v := &models.Violation{SessionID: sess.ID, Type: req.Type, OccurredAt: req.Timestamp}
	if v.OccurredAt.IsZero() {
		v.OccurredAt = s.now().UTC()
	}
	if err := s.violations.Create(ctx, v); err != nil {
		return fmt.Errorf("failed to save violation: %w", err)
	}

	total, err := s.violations.Count(ctx, sess.ID)
	if err != nil {
		log.Printf("assessment: counting violations for %s failed: %v", sess.ID, err)
	}
	s.events.Publish(ctx, sess.ID, models.WSMessage{
		Type:    "violation",
		Payload: models.ViolationEvent{SessionID: sess.ID, Type: v.Type, OccurredAt: v.OccurredAt, Total: total},
	})
	return nil
}

// Review is the recruiter view of a session.
func (s *AssessmentService) Review(ctx context.Context, id uuid.UUID) (*models.SessionReview, error) {
	sess, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}

	violations, err := s.violations.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	voice, err := s.answers.ListVoiceBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list voice answers: %w", err)
	}

	review := &models.SessionReview{
		Session:    sess,
		Violations: violations,
		Voice:      voice,
	}
	if review.Violations == nil {
		review.Violations = []*models.Violation{}
	}
	if review.Voice == nil {
		review.Voice = []*models.VoiceAnswer{}
	}

	if sess.RecordingID != nil {
		rec, err := s.recordings.GetByID(ctx, *sess.RecordingID)
		if err != nil {
			log.Printf("assessment: review of %s: recording %s unavailable: %v", id, *sess.RecordingID, err)
		} else {
			review.Recording = rec
		}
	}
	return review, nil
}
