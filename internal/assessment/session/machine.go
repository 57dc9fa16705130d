// Package session drives a candidate through one assessment: validation,
// device checks, consent, the recorded MCQ phase, the voice phase and
// completion. It owns the media, proctoring, countdown, response and voice
// components and is the only place phases change.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/assessment/countdown"
	"talentscreen-backend/internal/assessment/media"
	"talentscreen-backend/internal/assessment/proctoring"
	"talentscreen-backend/internal/assessment/responses"
	"talentscreen-backend/internal/assessment/voice"
)

const (
	defaultTick             = time.Second
	defaultOperationTimeout = 60 * time.Second
)

type Config struct {
	// Tick is the countdown decrement interval.
	Tick time.Duration
	// OperationTimeout bounds each await at a phase boundary.
	OperationTimeout time.Duration
	// Policy, when set, replaces the policy returned by validation.
	Policy *assessment.Policy
}

// Deps are the collaborators a Machine drives.
type Deps struct {
	Backend   assessment.Backend
	Devices   media.Devices
	Recorders media.RecorderFactory
	Events    proctoring.Source
	Display   proctoring.Display
}

type Machine struct {
	token  string
	cfg    Config
	deps   Deps
	media  *media.Manager
	timers *countdown.Controller

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	phase          assessment.Phase
	mounted        bool
	validated      bool
	checked        bool
	cameraOK       bool
	microphoneOK   bool
	consentGiven   bool
	busy           bool
	closed         bool
	policy         assessment.Policy
	check          media.SystemCheck
	sessionID      string
	score          int
	violationCount int
	failure        *assessment.Failure
	warnings       []proctoring.Warning
	degraded       []string
	monitor        *proctoring.Monitor
	responses      *responses.Manager
	voice          *voice.Recorder
	camera         *media.Handle
	screen         *media.Handle

	recordOnce  sync.Once
	recordDone  atomic.Bool
	recordingID string
	recordErr   error

	done     chan struct{}
	doneOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

func New(token string, deps Deps, cfg Config) *Machine {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		token:  token,
		cfg:    cfg,
		deps:   deps,
		media:  media.NewManager(deps.Devices, deps.Recorders, deps.Backend),
		timers: countdown.NewController(countdown.WithTick(cfg.Tick)),
		ctx:    ctx,
		cancel: cancel,
		phase:  assessment.PhaseInstructions,
		policy: assessment.DefaultPolicy(),
		done:   make(chan struct{}),
		subs:   make(map[int]func(Event)),
	}
}

func (m *Machine) Phase() assessment.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Done is closed once the session reaches a terminal phase or is unmounted.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Wait blocks until Done or ctx is cancelled.
func (m *Machine) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mount validates the token. Nothing else may happen before it succeeds; an
// invalid link or a validation error moves straight to failed.
func (m *Machine) Mount(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return assessment.ErrClosed
	}
	if m.mounted {
		m.mu.Unlock()
		return fmt.Errorf("%w: already mounted", assessment.ErrInvalidTransition)
	}
	m.mounted = true
	m.mu.Unlock()

	if err := m.validate(ctx); err != nil {
		return err
	}
	m.notifyPhase(assessment.PhaseInstructions)
	return nil
}

func (m *Machine) validate(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	v, err := m.deps.Backend.ValidateSession(opCtx, m.token)
	if err == nil && !v.Valid {
		reason := v.Error
		if reason == "" {
			reason = v.Status
		}
		err = fmt.Errorf("%w: %s", assessment.ErrTokenInvalid, reason)
	}
	if err != nil {
		if !errors.Is(err, assessment.ErrTokenInvalid) {
			err = fmt.Errorf("%w: %v", assessment.ErrTokenInvalid, err)
		}
		m.fail(err)
		return err
	}

	m.mu.Lock()
	m.validated = true
	switch {
	case m.cfg.Policy != nil:
		m.policy = m.cfg.Policy.WithDefaults()
	case v.Policy != nil:
		m.policy = v.Policy.WithDefaults()
	}
	m.mu.Unlock()
	return nil
}

// RunSystemCheck probes camera and microphone and, on success, advances
// from instructions to verification.
func (m *Machine) RunSystemCheck(ctx context.Context) (media.SystemCheck, error) {
	if err := m.begin(assessment.PhaseInstructions); err != nil {
		return media.SystemCheck{}, err
	}

	check, err := m.media.Probe(ctx)

	m.mu.Lock()
	m.busy = false
	if err != nil {
		m.mu.Unlock()
		m.surface(err)
		return check, err
	}
	m.check = check
	m.checked = true
	err = m.transitionLocked(assessment.PhaseVerification)
	m.mu.Unlock()
	if err != nil {
		return check, err
	}

	m.notifyPhase(assessment.PhaseVerification)
	return check, nil
}

// ConfirmVerification records the candidate's preview and microphone-level
// confirmation and advances to consent when both hold.
func (m *Machine) ConfirmVerification(cameraOK, microphoneOK bool) error {
	m.mu.Lock()
	if m.phase != assessment.PhaseVerification {
		m.mu.Unlock()
		return fmt.Errorf("%w: not in verification", assessment.ErrInvalidTransition)
	}
	m.cameraOK = cameraOK && m.check.Camera
	m.microphoneOK = microphoneOK && m.check.Microphone
	err := m.transitionLocked(assessment.PhaseConsent)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notifyPhase(assessment.PhaseConsent)
	return nil
}

// Back returns to the previous pre-assessment phase.
func (m *Machine) Back() error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return assessment.ErrTransitionInProgress
	}
	e, ok := exits[m.phase]
	if !ok || e.back == "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: no way back from %s", assessment.ErrInvalidTransition, m.phase)
	}
	if err := m.transitionLocked(e.back); err != nil {
		m.mu.Unlock()
		return err
	}
	if e.back == assessment.PhaseVerification {
		m.consentGiven = false
	}
	p := m.phase
	m.mu.Unlock()

	m.notifyPhase(p)
	return nil
}

// SetConsent records the consent checkbox. It is refused while
// BeginAssessment is in flight.
func (m *Machine) SetConsent(given bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != assessment.PhaseConsent {
		return fmt.Errorf("%w: not in consent", assessment.ErrInvalidTransition)
	}
	if m.busy {
		return assessment.ErrTransitionInProgress
	}
	m.consentGiven = given
	return nil
}

// BeginAssessment re-validates the token, starts the server session, loads
// questions, acquires camera, microphone and screen and starts recording.
// Any failure before the MCQ phase is entered releases what was acquired and
// leaves the machine in consent so the candidate can retry. A rejected token
// fails the session instead.
func (m *Machine) BeginAssessment(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != assessment.PhaseConsent {
		m.mu.Unlock()
		return fmt.Errorf("%w: not in consent", assessment.ErrInvalidTransition)
	}
	if !m.consentGiven {
		m.mu.Unlock()
		return assessment.ErrConsentRequired
	}
	if m.busy {
		m.mu.Unlock()
		return assessment.ErrTransitionInProgress
	}
	m.busy = true
	m.failure = nil
	m.mu.Unlock()

	if err := m.validate(ctx); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	sessionID, err := m.deps.Backend.StartSession(opCtx, m.token)
	if err != nil {
		return m.abortBegin(err)
	}

	resp := responses.NewManager(m.deps.Backend, m.deps.Backend, m.token)
	set, err := resp.Load(opCtx)
	if err != nil {
		resp.Close()
		return m.abortBegin(err)
	}

	streams, err := m.media.Acquire(ctx, assessment.MediaCamera, assessment.MediaMicrophone, assessment.MediaScreen)
	if err != nil {
		resp.Close()
		return m.abortBegin(err)
	}
	userStream, screenStream := streams[0], streams[1]

	camera, err := m.media.StartRecording(userStream, assessment.RecordingCamera)
	if err != nil {
		resp.Close()
		m.media.Release(streams...)
		return m.abortBegin(err)
	}
	screen, err := m.media.StartRecording(screenStream, assessment.RecordingScreen)
	if err != nil {
		resp.Close()
		m.media.StopRecording(opCtx, camera)
		m.media.Release(streams...)
		return m.abortBegin(err)
	}

	if m.deps.Display != nil {
		if err := m.deps.Display.RequestFullscreen(); err != nil {
			log.Printf("session: fullscreen request refused: %v", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		resp.Close()
		m.media.Teardown()
		return assessment.ErrClosed
	}
	if err := m.transitionLocked(assessment.PhaseRecordingMCQ); err != nil {
		m.mu.Unlock()
		resp.Close()
		m.media.StopRecording(opCtx, camera)
		m.media.StopRecording(opCtx, screen)
		m.media.Release(streams...)
		if m.deps.Display != nil {
			_ = m.deps.Display.ExitFullscreen()
		}
		return m.abortBegin(err)
	}
	policy := m.policy
	m.sessionID = sessionID
	m.responses = resp
	m.camera, m.screen = camera, screen
	m.voice = voice.NewRecorder(m.media, m.deps.Backend, m.token, set.Voice,
		voice.WithMaxDuration(time.Duration(policy.MaxVoiceAnswerSec)*time.Second),
		voice.OnFinished(m.onVoiceFinished),
	)
	m.monitor = proctoring.NewMonitor(m.deps.Events, policy,
		proctoring.OnWarning(m.onWarning),
		proctoring.OnViolation(m.onViolation),
	)
	m.busy = false
	monitor := m.monitor
	m.mu.Unlock()

	if err := monitor.Start(); err != nil {
		log.Printf("session: proctoring monitor not started: %v", err)
	}
	m.media.WatchEnded(screenStream, m.onScreenShareEnded)
	m.timers.Start(string(assessment.PhaseRecordingMCQ), policy.MCQDurationSec, m.onMCQTimeout, m.onTick)

	log.Printf("session %s: MCQ phase started with %d questions", sessionID, len(set.MCQ))
	m.notifyPhase(assessment.PhaseRecordingMCQ)
	return nil
}

// abortBegin leaves the machine in consent for a retry, except for a
// rejected token which is terminal.
func (m *Machine) abortBegin(err error) error {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
	if errors.Is(err, assessment.ErrTokenInvalid) {
		m.fail(err)
		return err
	}
	m.surface(err)
	return err
}

// AnswerMCQ records value for an MCQ question. Re-answering overwrites.
func (m *Machine) AnswerMCQ(questionID, value string) (assessment.QuestionView, error) {
	m.mu.Lock()
	if m.phase != assessment.PhaseRecordingMCQ {
		m.mu.Unlock()
		return assessment.QuestionView{}, fmt.Errorf("%w: not in MCQ phase", assessment.ErrInvalidTransition)
	}
	if m.busy {
		m.mu.Unlock()
		return assessment.QuestionView{}, assessment.ErrTransitionInProgress
	}
	resp := m.responses
	m.mu.Unlock()

	return resp.RecordAnswer(questionID, value)
}

// SubmitMCQ ends the MCQ phase on the candidate's request. It is refused
// while the proctoring policy blocks submission.
func (m *Machine) SubmitMCQ(ctx context.Context) error {
	m.mu.Lock()
	monitor := m.monitor
	m.mu.Unlock()

	if monitor != nil && monitor.Blocked() {
		m.surface(assessment.ErrSubmissionBlocked)
		return assessment.ErrSubmissionBlocked
	}
	return m.finishMCQ(ctx)
}

func (m *Machine) onMCQTimeout() {
	if err := m.finishMCQ(m.ctx); err != nil && !superseded(err) {
		log.Printf("session: MCQ timeout: %v", err)
	}
}

// finishMCQ skips unanswered questions, flushes saves, reports the score and
// enters the voice phase. Exactly one caller performs it.
func (m *Machine) finishMCQ(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != assessment.PhaseRecordingMCQ {
		m.mu.Unlock()
		return fmt.Errorf("%w: not in MCQ phase", assessment.ErrInvalidTransition)
	}
	if m.busy {
		m.mu.Unlock()
		return assessment.ErrTransitionInProgress
	}
	m.busy = true
	resp := m.responses
	m.mu.Unlock()

	m.timers.Stop()
	resp.Close()
	skipped := resp.SkipUnanswered()
	score := resp.Score()

	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	if err := resp.Flush(opCtx); err != nil {
		m.degrade("some MCQ answers may not have been saved", err)
	}
	if err := m.deps.Backend.CompleteMCQ(opCtx, m.token, score); err != nil {
		m.degrade("MCQ completion was not acknowledged", err)
	}

	m.mu.Lock()
	if m.closed {
		m.busy = false
		m.mu.Unlock()
		return assessment.ErrClosed
	}
	m.score = score
	err := m.transitionLocked(assessment.PhaseVoice)
	m.busy = false
	rec := m.voice
	policy := m.policy
	m.mu.Unlock()
	if err != nil {
		return err
	}

	log.Printf("session %s: MCQ phase finished, score %d, %d skipped", m.sessionID, score, len(skipped))
	m.notifyPhase(assessment.PhaseVoice)

	if rec.Finished() {
		return m.finishVoice(ctx)
	}
	m.timers.Start(string(assessment.PhaseVoice), policy.VoiceDurationSec, m.onVoiceTimeout, m.onTick)
	return nil
}

// StartVoiceAnswer begins recording the current voice question.
func (m *Machine) StartVoiceAnswer(ctx context.Context) error {
	rec, err := m.voiceRecorder()
	if err != nil {
		return err
	}
	if err := rec.Start(ctx); err != nil {
		if !errors.Is(err, assessment.ErrAlreadyRecording) && !errors.Is(err, assessment.ErrAlreadyAnswered) {
			m.surface(err)
		}
		return err
	}
	m.notify(Event{Type: EventVoice, Phase: assessment.PhaseVoice})
	return nil
}

// StopVoiceAnswer stops and submits the current answer. Resolving the last
// question completes the session.
func (m *Machine) StopVoiceAnswer(ctx context.Context) (voice.Outcome, error) {
	rec, err := m.voiceRecorder()
	if err != nil {
		return voice.Outcome{}, err
	}
	out, err := rec.Stop(ctx)
	if err != nil {
		return out, err
	}
	if out.Err != nil {
		m.degrade(fmt.Sprintf("voice answer %s flagged invalid", out.QuestionID), out.Err)
	}
	m.notify(Event{Type: EventVoice, Phase: assessment.PhaseVoice})

	if out.Finished {
		if err := m.finishVoice(ctx); err != nil && !superseded(err) {
			return out, err
		}
	}
	return out, nil
}

// superseded reports whether err only means another trigger already
// performed the transition.
func superseded(err error) bool {
	return errors.Is(err, assessment.ErrTransitionInProgress) || errors.Is(err, assessment.ErrInvalidTransition)
}

func (m *Machine) voiceRecorder() (*voice.Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != assessment.PhaseVoice {
		return nil, fmt.Errorf("%w: not in voice phase", assessment.ErrInvalidTransition)
	}
	if m.busy {
		return nil, assessment.ErrTransitionInProgress
	}
	return m.voice, nil
}

func (m *Machine) onVoiceTimeout() {
	if err := m.finishVoice(m.ctx); err != nil && !superseded(err) {
		log.Printf("session: voice timeout: %v", err)
	}
}

func (m *Machine) onVoiceFinished() {
	if err := m.finishVoice(m.ctx); err != nil && !superseded(err) {
		log.Printf("session: voice auto-finish: %v", err)
	}
}

// finishVoice skips whatever is left, finalizes the composite recording,
// reports completion and releases every device.
func (m *Machine) finishVoice(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != assessment.PhaseVoice {
		m.mu.Unlock()
		return fmt.Errorf("%w: not in voice phase", assessment.ErrInvalidTransition)
	}
	if m.busy {
		m.mu.Unlock()
		return assessment.ErrTransitionInProgress
	}
	m.busy = true
	rec, monitor := m.voice, m.monitor
	m.mu.Unlock()

	m.timers.Stop()
	monitor.Stop()

	opCtx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	if n := rec.SkipRemaining(opCtx); n > 0 {
		log.Printf("session %s: %d voice questions skipped", m.sessionID, n)
	}

	recordingID, err := m.finishRecording(opCtx)
	if err != nil {
		m.degrade("recording upload failed", err)
	}
	if err := m.deps.Backend.CompleteVoice(opCtx, m.token, recordingID); err != nil {
		m.degrade("voice completion was not acknowledged", err)
	}

	m.media.ReleaseAll()
	if m.deps.Display != nil {
		if err := m.deps.Display.ExitFullscreen(); err != nil {
			log.Printf("session: exit fullscreen: %v", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.busy = false
		m.mu.Unlock()
		return assessment.ErrClosed
	}
	err = m.transitionLocked(assessment.PhaseCompleted)
	m.busy = false
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.media.Teardown()
	m.markDone()
	log.Printf("session %s: completed", m.sessionID)
	m.notifyPhase(assessment.PhaseCompleted)
	return nil
}

// finishRecording stops the camera and screen recorders together and uploads
// both blobs. It runs at most once; later callers get the first result.
func (m *Machine) finishRecording(ctx context.Context) (string, error) {
	m.recordOnce.Do(func() {
		m.mu.Lock()
		camera, screen := m.camera, m.screen
		m.mu.Unlock()

		var g errgroup.Group
		for _, h := range []*media.Handle{camera, screen} {
			if h == nil {
				continue
			}
			g.Go(func() error {
				_, err := m.media.StopRecording(ctx, h)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			log.Printf("session: stopping recorders: %v", err)
		}

		m.recordingID, m.recordErr = m.media.Upload(ctx, m.token, camera, screen)
		m.recordDone.Store(true)
	})
	return m.recordingID, m.recordErr
}

func (m *Machine) onScreenShareEnded() {
	m.mu.Lock()
	timed := m.phase.Timed() && !m.closed
	m.mu.Unlock()
	if !timed {
		return
	}

	m.degrade("screen sharing ended early", nil)
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.OperationTimeout)
	defer cancel()
	if _, err := m.finishRecording(ctx); err != nil {
		m.surface(err)
	}
}

func (m *Machine) onTick(remaining int) {
	m.notify(Event{Type: EventTick, Phase: m.Phase(), Remaining: remaining})
}

func (m *Machine) onWarning(w proctoring.Warning) {
	m.mu.Lock()
	m.warnings = append(m.warnings, w)
	p := m.phase
	m.mu.Unlock()
	m.notify(Event{Type: EventWarning, Phase: p, Warning: &w})
}

// onViolation counts v and reports it to the backend without waiting.
func (m *Machine) onViolation(v assessment.Violation) {
	m.mu.Lock()
	m.violationCount++
	m.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.OperationTimeout)
		defer cancel()
		if err := m.deps.Backend.ReportViolation(ctx, m.token, v); err != nil {
			log.Printf("session: reporting %s violation: %v", v.Type, err)
		}
	}()
}

// surface records err as the current failure and emits it once.
func (m *Machine) surface(err error) {
	f := assessment.Describe(err)
	m.mu.Lock()
	m.failure = &f
	p := m.phase
	m.mu.Unlock()
	m.notify(Event{Type: EventError, Phase: p, Failure: &f})
}

// degrade records a non-fatal problem; the session keeps going.
func (m *Machine) degrade(what string, err error) {
	if err != nil {
		log.Printf("session: %s: %v", what, err)
	} else {
		log.Printf("session: %s", what)
	}
	m.mu.Lock()
	m.degraded = append(m.degraded, what)
	m.mu.Unlock()
}

// fail moves to the terminal failed phase and releases everything.
func (m *Machine) fail(err error) {
	f := assessment.Describe(err)
	m.mu.Lock()
	if m.phase.Terminal() {
		m.mu.Unlock()
		return
	}
	m.phase = assessment.PhaseFailed
	m.failure = &f
	monitor := m.monitor
	m.mu.Unlock()

	m.timers.Stop()
	if monitor != nil {
		monitor.Stop()
	}
	m.media.Teardown()
	m.markDone()

	log.Printf("session: failed: %v", err)
	m.notify(Event{Type: EventError, Phase: assessment.PhaseFailed, Failure: &f})
	m.notifyPhase(assessment.PhaseFailed)
}

// Unmount tears the session down unconditionally. In-flight work is
// abandoned and every device is released.
func (m *Machine) Unmount() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	monitor, resp, timed := m.monitor, m.responses, m.phase.Timed()
	m.mu.Unlock()

	m.cancel()
	m.timers.Stop()
	if monitor != nil {
		monitor.Stop()
	}
	if resp != nil {
		resp.Close()
	}
	m.media.Teardown()
	if timed && m.deps.Display != nil {
		if err := m.deps.Display.ExitFullscreen(); err != nil {
			log.Printf("session: exit fullscreen: %v", err)
		}
	}
	m.markDone()
}

func (m *Machine) markDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

// begin claims the busy flag for an operation valid only in phase p.
func (m *Machine) begin(p assessment.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return assessment.ErrClosed
	case !m.validated:
		return fmt.Errorf("%w: token not validated", assessment.ErrInvalidTransition)
	case m.phase != p:
		return fmt.Errorf("%w: not in %s", assessment.ErrInvalidTransition, p)
	case m.busy:
		return assessment.ErrTransitionInProgress
	}
	m.busy = true
	return nil
}
