// Package voice runs the per-question record/stop/submit cycle of the
// voice-response phase.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/assessment/media"
)

// Capture is the part of the media manager the recorder needs.
type Capture interface {
	Acquire(ctx context.Context, kinds ...assessment.MediaKind) ([]media.Stream, error)
	StartRecording(stream media.Stream, kind assessment.RecordingKind) (*media.Handle, error)
	StopRecording(ctx context.Context, h *media.Handle) (*assessment.Blob, error)
	Release(streams ...media.Stream)
}

// Outcome describes one resolved voice question.
type Outcome struct {
	QuestionID string                    `json:"question_id"`
	Status     assessment.QuestionStatus `json:"status"`
	Valid      bool                      `json:"valid"`
	Finished   bool                      `json:"finished"`
	Err        error                     `json:"-"`
}

type Option func(*Recorder)

// WithMaxDuration auto-stops an answer after d.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recorder) { r.maxDuration = d }
}

// OnFinished is called when an auto-stop resolves the last question.
func OnFinished(fn func()) Option {
	return func(r *Recorder) { r.onFinished = fn }
}

type Recorder struct {
	capture     Capture
	sink        assessment.AnswerSink
	token       string
	maxDuration time.Duration
	onFinished  func()

	mu        sync.Mutex
	questions []*assessment.Question
	current   int
	active    *media.Handle
	autoStop  *time.Timer
	starting  bool
	busy      bool
	idle      chan struct{}
	closed    bool
}

func NewRecorder(capture Capture, sink assessment.AnswerSink, token string, questions []assessment.Question, opts ...Option) *Recorder {
	r := &Recorder{
		capture: capture,
		sink:    sink,
		token:   token,
	}
	for i := range questions {
		q := questions[i]
		q.Kind = assessment.QuestionVoice
		q.Status = assessment.StatusPending
		r.questions = append(r.questions, &q)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the question awaiting an answer, if any.
func (r *Recorder) Current() (assessment.QuestionView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current >= len(r.questions) {
		return assessment.QuestionView{}, false
	}
	return r.questions[r.current].View(), true
}

// Recording reports whether a microphone capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Finished reports whether every question has been resolved.
func (r *Recorder) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current >= len(r.questions)
}

// Start opens a microphone-only stream for the current question. A question
// that is no longer pending cannot be recorded again.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return assessment.ErrClosed
	case r.active != nil || r.starting:
		r.mu.Unlock()
		return assessment.ErrAlreadyRecording
	case r.busy:
		r.mu.Unlock()
		return assessment.ErrTransitionInProgress
	case r.current >= len(r.questions):
		r.mu.Unlock()
		return assessment.ErrClosed
	}
	q := r.questions[r.current]
	if q.Status != assessment.StatusPending {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", assessment.ErrAlreadyAnswered, q.ID)
	}
	r.starting = true
	r.mu.Unlock()

	h, err := r.open(ctx)

	r.mu.Lock()
	r.starting = false
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if r.closed {
		r.mu.Unlock()
		r.capture.Release(h.Stream())
		return assessment.ErrClosed
	}
	r.active = h
	if r.maxDuration > 0 {
		r.autoStop = time.AfterFunc(r.maxDuration, r.stopOnLimit)
	}
	r.mu.Unlock()

	return nil
}

func (r *Recorder) open(ctx context.Context) (*media.Handle, error) {
	streams, err := r.capture.Acquire(ctx, assessment.MediaMicrophone)
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	h, err := r.capture.StartRecording(streams[0], assessment.RecordingVoiceAnswer)
	if err != nil {
		r.capture.Release(streams...)
		return nil, err
	}
	return h, nil
}

func (r *Recorder) stopOnLimit() {
	out, err := r.stop(context.Background())
	if err != nil {
		if !errors.Is(err, assessment.ErrNotRecording) {
			log.Printf("voice: auto-stop failed: %v", err)
		}
		return
	}
	if out.Finished && r.onFinished != nil {
		r.onFinished()
	}
}

// Stop materializes the answer, submits it and advances to the next
// question. A failed capture or upload is logged, the question is flagged
// invalid and the recorder still advances.
func (r *Recorder) Stop(ctx context.Context) (Outcome, error) {
	return r.stop(ctx)
}

func (r *Recorder) stop(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return Outcome{}, assessment.ErrNotRecording
	}
	h := r.active
	r.active = nil
	if r.autoStop != nil {
		r.autoStop.Stop()
		r.autoStop = nil
	}
	q := r.questions[r.current]
	r.busy = true
	r.idle = make(chan struct{})
	idle := r.idle
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = false
		close(idle)
		r.mu.Unlock()
	}()

	out := Outcome{QuestionID: q.ID, Status: assessment.StatusInvalid}

	blob, err := r.capture.StopRecording(ctx, h)
	if err != nil {
		out.Err = fmt.Errorf("voice answer capture failed: %w", err)
		log.Printf("voice: capture failed for question %s: %v", q.ID, err)
	} else {
		res, err := r.sink.SubmitVoiceAnswer(ctx, r.token, assessment.VoiceSubmission{
			QuestionID: q.ID,
			Audio:      blob,
			Duration:   blob.Duration,
		})
		if err != nil {
			out.Err = fmt.Errorf("%w: %v", assessment.ErrUploadFailed, err)
			log.Printf("voice: submit failed for question %s: %v", q.ID, err)
		} else {
			out.Valid = res.Valid
			if res.Valid {
				out.Status = assessment.StatusAnswered
			}
		}
	}

	r.mu.Lock()
	if q.Status == assessment.StatusPending {
		q.Status = out.Status
	}
	if r.current < len(r.questions) && r.questions[r.current] == q {
		r.current++
	}
	out.Finished = r.current >= len(r.questions)
	r.mu.Unlock()

	return out, nil
}

// SkipRemaining closes the recorder, discards any in-flight capture, waits
// for an in-flight submission and submits a skipped record for every
// question still pending. Submission failures are logged, never returned.
func (r *Recorder) SkipRemaining(ctx context.Context) int {
	r.mu.Lock()
	r.closed = true
	h := r.active
	r.active = nil
	if r.autoStop != nil {
		r.autoStop.Stop()
		r.autoStop = nil
	}
	var idle chan struct{}
	if r.busy {
		idle = r.idle
	}
	r.mu.Unlock()

	if h != nil {
		if _, err := r.capture.StopRecording(ctx, h); err != nil {
			log.Printf("voice: discarding in-flight capture failed: %v", err)
		}
	}
	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			log.Printf("voice: gave up waiting for in-flight submission: %v", ctx.Err())
		}
	}

	r.mu.Lock()
	var skipped []string
	for _, q := range r.questions {
		if q.Status == assessment.StatusPending {
			q.Status = assessment.StatusSkipped
			skipped = append(skipped, q.ID)
		}
	}
	r.current = len(r.questions)
	r.mu.Unlock()

	for _, id := range skipped {
		_, err := r.sink.SubmitVoiceAnswer(ctx, r.token, assessment.VoiceSubmission{
			QuestionID: id,
			Skipped:    true,
		})
		if err != nil {
			log.Printf("voice: skipped submission failed for question %s: %v", id, err)
		}
	}
	return len(skipped)
}

// Attempted counts questions answered or flagged invalid.
func (r *Recorder) Attempted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.questions {
		if q.Status == assessment.StatusAnswered || q.Status == assessment.StatusInvalid {
			n++
		}
	}
	return n
}

func (r *Recorder) Questions() []assessment.QuestionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]assessment.QuestionView, 0, len(r.questions))
	for _, q := range r.questions {
		views = append(views, q.View())
	}
	return views
}
