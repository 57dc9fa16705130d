package session

import (
	"fmt"

	"talentscreen-backend/internal/assessment"
)

// exit declares where a phase may go and what must hold before it leaves
// forward. back is empty when no "back" action is permitted.
type exit struct {
	forward assessment.Phase
	back    assessment.Phase
	guard   func(m *Machine) error
}

var exits = map[assessment.Phase]exit{
	assessment.PhaseInstructions: {
		forward: assessment.PhaseVerification,
		guard: func(m *Machine) error {
			if !m.checked {
				return fmt.Errorf("system check has not run: %w", assessment.ErrChecksIncomplete)
			}
			return nil
		},
	},
	assessment.PhaseVerification: {
		forward: assessment.PhaseConsent,
		back:    assessment.PhaseInstructions,
		guard: func(m *Machine) error {
			if !m.cameraOK || !m.microphoneOK {
				return assessment.ErrChecksIncomplete
			}
			return nil
		},
	},
	assessment.PhaseConsent: {
		forward: assessment.PhaseRecordingMCQ,
		back:    assessment.PhaseVerification,
		guard: func(m *Machine) error {
			if !m.consentGiven {
				return assessment.ErrConsentRequired
			}
			return nil
		},
	},
	assessment.PhaseRecordingMCQ: {
		forward: assessment.PhaseVoice,
	},
	assessment.PhaseVoice: {
		forward: assessment.PhaseCompleted,
	},
}

// transitionLocked moves to next if the current phase allows it. Forward
// moves run the phase's guard. Callers hold m.mu.
func (m *Machine) transitionLocked(next assessment.Phase) error {
	if m.closed {
		return assessment.ErrClosed
	}
	if next == assessment.PhaseFailed && !m.phase.Terminal() {
		m.phase = next
		return nil
	}

	e, ok := exits[m.phase]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", assessment.ErrInvalidTransition, m.phase)
	}

	switch next {
	case e.forward:
		if e.guard != nil {
			if err := e.guard(m); err != nil {
				return err
			}
		}
	case e.back:
		if e.back == "" {
			return fmt.Errorf("%w: %s -> %s", assessment.ErrInvalidTransition, m.phase, next)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", assessment.ErrInvalidTransition, m.phase, next)
	}

	m.phase = next
	return nil
}
