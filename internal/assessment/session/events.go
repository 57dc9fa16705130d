package session

import (
	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/assessment/media"
	"talentscreen-backend/internal/assessment/proctoring"
)

type EventType string

const (
	EventPhase   EventType = "phase"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
	EventTick    EventType = "tick"
	EventVoice   EventType = "voice"
)

// Event is delivered to subscribers outside the machine's lock, possibly
// from a timer or monitor goroutine.
type Event struct {
	Type      EventType           `json:"type"`
	Phase     assessment.Phase    `json:"phase"`
	Remaining int                 `json:"remaining,omitempty"`
	Warning   *proctoring.Warning `json:"warning,omitempty"`
	Failure   *assessment.Failure `json:"failure,omitempty"`
}

// Snapshot is a read-only view of the session for rendering.
type Snapshot struct {
	Phase          assessment.Phase          `json:"phase"`
	Validated      bool                      `json:"validated"`
	ConsentGiven   bool                      `json:"consent_given"`
	SystemCheck    media.SystemCheck         `json:"system_check"`
	SessionID      string                    `json:"session_id,omitempty"`
	Policy         assessment.Policy         `json:"policy"`
	Remaining      int                       `json:"remaining"`
	ViolationCount int                       `json:"violation_count"`
	Score          int                       `json:"score"`
	MCQ            []assessment.QuestionView `json:"mcq_questions"`
	Voice          []assessment.QuestionView `json:"voice_questions"`
	CurrentVoice   *assessment.QuestionView  `json:"current_voice,omitempty"`
	Recording      bool                      `json:"recording"`
	RecordingID    string                    `json:"recording_id,omitempty"`
	Failure        *assessment.Failure       `json:"failure,omitempty"`
	Warnings       []proctoring.Warning      `json:"warnings"`
	Degraded       []string                  `json:"degraded,omitempty"`
}

// Subscribe registers fn for every subsequent event. The returned func
// removes it.
func (m *Machine) Subscribe(fn func(Event)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Machine) notify(ev Event) {
	m.subMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Machine) notifyPhase(p assessment.Phase) {
	m.notify(Event{Type: EventPhase, Phase: p})
}

// Snapshot copies the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		Phase:          m.phase,
		Validated:      m.validated,
		ConsentGiven:   m.consentGiven,
		SystemCheck:    m.check,
		SessionID:      m.sessionID,
		Policy:         m.policy,
		ViolationCount: m.violationCount,
		Score:          m.score,
		Warnings:       append([]proctoring.Warning(nil), m.warnings...),
		Degraded:       append([]string(nil), m.degraded...),
	}
	if m.failure != nil {
		f := *m.failure
		s.Failure = &f
	}
	resp, rec := m.responses, m.voice
	m.mu.Unlock()

	s.Remaining = m.timers.Remaining()
	if resp != nil {
		s.MCQ = resp.Questions()
		if s.Phase == assessment.PhaseRecordingMCQ {
			s.Score = resp.Score()
		}
	}
	if rec != nil {
		s.Voice = rec.Questions()
		if q, ok := rec.Current(); ok {
			s.CurrentVoice = &q
		}
		s.Recording = rec.Recording()
	}
	if m.recordDone.Load() {
		s.RecordingID = m.recordingID
	}
	return s
}
