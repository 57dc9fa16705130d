// Package assessment holds the domain types shared by the proctored assessment
// orchestrator: phases, questions, violations, recorded media and the backend
// collaborators the orchestrator talks to.
package assessment

import (
	"math"
	"strings"
	"time"
)

// Phase is one stage of the assessment lifecycle.
type Phase string

const (
	PhaseInstructions Phase = "instructions"
	PhaseVerification Phase = "verification"
	PhaseConsent      Phase = "consent"
	PhaseRecordingMCQ Phase = "recording-mcq"
	PhaseVoice        Phase = "voice-phase"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Timed reports whether p runs under a countdown with media capture active.
func (p Phase) Timed() bool {
	return p == PhaseRecordingMCQ || p == PhaseVoice
}

type QuestionKind string

const (
	QuestionMCQ   QuestionKind = "mcq"
	QuestionVoice QuestionKind = "voice"
)

// QuestionStatus only moves forward: pending -> answered | skipped | invalid.
type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusAnswered QuestionStatus = "answered"
	StatusSkipped  QuestionStatus = "skipped"
	StatusInvalid  QuestionStatus = "invalid"
)

// Question is a single assessment item as delivered by the question source.
// CorrectAnswer is only set for multiple-choice items and is never copied
// into a QuestionView.
type Question struct {
	ID            string         `json:"id"`
	Kind          QuestionKind   `json:"kind"`
	Text          string         `json:"text"`
	Options       []string       `json:"options,omitempty"`
	CorrectAnswer string         `json:"correct_answer,omitempty"`
	UserAnswer    *string        `json:"user_answer,omitempty"`
	Status        QuestionStatus `json:"status"`
}

// QuestionView is the projection rendered by the UI.
type QuestionView struct {
	ID         string         `json:"id"`
	Kind       QuestionKind   `json:"kind"`
	Text       string         `json:"text"`
	Options    []string       `json:"options,omitempty"`
	UserAnswer *string        `json:"user_answer,omitempty"`
	Status     QuestionStatus `json:"status"`
}

// View returns the UI projection of q.
func (q *Question) View() QuestionView {
	v := QuestionView{
		ID:     q.ID,
		Kind:   q.Kind,
		Text:   q.Text,
		Status: q.Status,
	}
	if len(q.Options) > 0 {
		v.Options = append([]string(nil), q.Options...)
	}
	if q.UserAnswer != nil {
		answer := *q.UserAnswer
		v.UserAnswer = &answer
	}
	return v
}

// QuestionSet is the result of the question-fetch call.
type QuestionSet struct {
	MCQ   []Question `json:"mcq_questions"`
	Voice []Question `json:"voice_questions"`
}

// ScorePercent is correct/total as a rounded integer percentage; an empty
// set scores 0.
func ScorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

type ViolationType string

const (
	ViolationTabHidden      ViolationType = "tab-hidden"
	ViolationFullscreenExit ViolationType = "fullscreen-exit"
)

// Violation is a detected proctoring anomaly.
type Violation struct {
	Type      ViolationType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
}

// MediaKind identifies a capture device class.
type MediaKind string

const (
	MediaCamera     MediaKind = "camera"
	MediaMicrophone MediaKind = "microphone"
	MediaScreen     MediaKind = "screen"
)

// RecordingKind identifies what a recording handle captures.
type RecordingKind string

const (
	RecordingCamera      RecordingKind = "camera"
	RecordingScreen      RecordingKind = "screen"
	RecordingVoiceAnswer RecordingKind = "voice-answer"
)

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadUploaded  UploadStatus = "uploaded"
	UploadFailed    UploadStatus = "failed"
)

// Blob is a fully materialized recording.
type Blob struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Size returns the number of bytes in b, treating a nil blob as empty.
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// ExtensionFor maps a recording MIME type, parameters included, to the file
// extension used for uploads and storage. Unknown types fall back to .webm.
func ExtensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "audio/ogg", "video/ogg":
		return ".ogg"
	case "audio/mp4", "video/mp4":
		return ".mp4"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".webm"
	}
}

// Policy carries the server-controlled timing and proctoring rules.
type Policy struct {
	MCQDurationSec        int  `json:"mcq_duration_sec" yaml:"mcq_duration_sec"`
	VoiceDurationSec      int  `json:"voice_duration_sec" yaml:"voice_duration_sec"`
	MaxVoiceAnswerSec     int  `json:"max_voice_answer_sec" yaml:"max_voice_answer_sec"`
	FullscreenEnforced    bool `json:"fullscreen_enforced" yaml:"fullscreen_enforced"`
	TabSwitchLimit        int  `json:"tab_switch_limit" yaml:"tab_switch_limit"`
	BlockOnTabSwitchLimit bool `json:"block_on_tab_switch_limit" yaml:"block_on_tab_switch_limit"`
}

const DefaultPhaseDurationSec = 900

// DefaultPolicy is the observed behaviour: 900 s per timed phase, advisory proctoring.
func DefaultPolicy() Policy {
	return Policy{
		MCQDurationSec:    DefaultPhaseDurationSec,
		VoiceDurationSec:  DefaultPhaseDurationSec,
		MaxVoiceAnswerSec: 120,
	}
}

// WithDefaults fills zero durations from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.MCQDurationSec <= 0 {
		p.MCQDurationSec = d.MCQDurationSec
	}
	if p.VoiceDurationSec <= 0 {
		p.VoiceDurationSec = d.VoiceDurationSec
	}
	if p.MaxVoiceAnswerSec <= 0 {
		p.MaxVoiceAnswerSec = d.MaxVoiceAnswerSec
	}
	return p
}
