package assessment

import (
	"errors"
)

// Error taxonomy. Wrap with fmt.Errorf("...: %w", ErrX) and match with errors.Is.
var (
	ErrTokenInvalid         = errors.New("assessment link is invalid or has expired")
	ErrPermissionDenied     = errors.New("media permission denied")
	ErrDeviceUnavailable    = errors.New("media device unavailable")
	ErrUploadFailed         = errors.New("upload failed")
	ErrPersistAnswerFailed  = errors.New("failed to persist answer")
	ErrNoQuestionsAvailable = errors.New("no questions available")
)

// Guard errors returned by the state machine and its components.
var (
	ErrInvalidTransition    = errors.New("transition not allowed from current phase")
	ErrConsentRequired      = errors.New("consent has not been given")
	ErrChecksIncomplete     = errors.New("camera and microphone checks must both pass")
	ErrTransitionInProgress = errors.New("phase transition already in progress")
	ErrAlreadyAnswered      = errors.New("question already answered")
	ErrUnknownQuestion      = errors.New("unknown question")
	ErrClosed               = errors.New("component is closed")
	ErrNotRecording         = errors.New("no recording in progress")
	ErrAlreadyRecording     = errors.New("recording already in progress")
)

type Recovery string

const (
	RecoveryRetry      Recovery = "retry"
	RecoveryReturnHome Recovery = "return-home"
	RecoveryNone       Recovery = "none"
)

// Failure is the user-visible projection of an error.
type Failure struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Blocking bool     `json:"blocking"`
	Recovery Recovery `json:"recovery"`
}

// Describe maps err onto the taxonomy. Unknown errors are reported as a
// blocking failure with a retry affordance.
func Describe(err error) Failure {
	switch {
	case errors.Is(err, ErrTokenInvalid):
		return Failure{Code: "TOKEN_INVALID", Message: "This assessment link is invalid, expired or already used.", Blocking: true, Recovery: RecoveryReturnHome}
	case errors.Is(err, ErrPermissionDenied):
		return Failure{Code: "PERMISSION_DENIED", Message: "Camera, microphone and screen access are required to continue.", Blocking: true, Recovery: RecoveryRetry}
	case errors.Is(err, ErrDeviceUnavailable):
		return Failure{Code: "DEVICE_UNAVAILABLE", Message: "A camera or microphone is busy or missing. Close other applications and try again.", Blocking: true, Recovery: RecoveryRetry}
	case errors.Is(err, ErrNoQuestionsAvailable):
		return Failure{Code: "NO_QUESTIONS", Message: "No questions are available for this assessment yet.", Blocking: true, Recovery: RecoveryRetry}
	case errors.Is(err, ErrUploadFailed):
		return Failure{Code: "UPLOAD_FAILED", Message: "Part of your recording could not be uploaded.", Blocking: false, Recovery: RecoveryNone}
	case errors.Is(err, ErrPersistAnswerFailed):
		return Failure{Code: "PERSIST_ANSWER_FAILED", Message: "Your answer will be saved again shortly.", Blocking: false, Recovery: RecoveryNone}
	default:
		return Failure{Code: "INTERNAL_ERROR", Message: "Something went wrong. Please try again.", Blocking: true, Recovery: RecoveryRetry}
	}
}

// ErrSubmissionBlocked is returned for an explicit submit while the proctoring
// policy is configured to block and its condition holds.
var ErrSubmissionBlocked = errors.New("submission blocked by proctoring policy")
