// Package proctoring watches tab visibility and fullscreen state while the
// timed phases run and keeps the append-only violation list.
package proctoring

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"talentscreen-backend/internal/assessment"
)

type EventKind string

const (
	EventHidden          EventKind = "visibility-hidden"
	EventVisible         EventKind = "visibility-visible"
	EventFullscreenExit  EventKind = "fullscreen-exit"
	EventFullscreenEnter EventKind = "fullscreen-enter"
)

// Event is a document visibility or fullscreen change.
type Event struct {
	Kind EventKind
	At   time.Time
}

// Source delivers page events. The returned function unsubscribes; the
// channel may or may not be closed afterwards.
type Source interface {
	Subscribe() (<-chan Event, func())
}

// Display controls fullscreen for the assessment surface.
type Display interface {
	RequestFullscreen() error
	ExitFullscreen() error
}

// Warning is surfaced once per violation.
type Warning struct {
	Type     assessment.ViolationType `json:"type"`
	Count    int                      `json:"count"`
	Message  string                   `json:"message"`
	Blocking bool                     `json:"blocking"`
	At       time.Time                `json:"at"`
}

var (
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrStopped        = errors.New("monitor stopped")
)

type Option func(*Monitor)

// OnWarning registers the callback that surfaces warnings.
func OnWarning(fn func(Warning)) Option {
	return func(m *Monitor) { m.onWarning = fn }
}

// OnViolation registers a callback invoked for every recorded violation.
func OnViolation(fn func(assessment.Violation)) Option {
	return func(m *Monitor) { m.onViolation = fn }
}

// Monitor counts violations. It never pauses timers or recording itself;
// whether a violation blocks anything is left to the caller via Blocked.
type Monitor struct {
	source      Source
	policy      assessment.Policy
	onWarning   func(Warning)
	onViolation func(assessment.Violation)

	mu            sync.Mutex
	violations    []assessment.Violation
	tabSwitches   int
	hidden        bool
	outFullscreen bool
	running       bool
	started       bool
	stopped       bool
	unsubscribe   func()

	quit   chan struct{}
	exited chan struct{}
}

func NewMonitor(source Source, policy assessment.Policy, opts ...Option) *Monitor {
	m := &Monitor{
		source: source,
		policy: policy,
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to the event source. A stopped monitor cannot be restarted.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	if m.running {
		return ErrAlreadyRunning
	}

	events, unsubscribe := m.source.Subscribe()
	m.unsubscribe = unsubscribe
	m.running = true
	m.started = true

	go m.loop(events)
	return nil
}

// Stop makes the monitor inert. Events delivered after Stop are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.running = false
	started := m.started
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	close(m.quit)
	if !started {
		close(m.exited)
	}
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Done is closed once the event loop has exited after Stop, or by Stop
// itself when the monitor never started.
func (m *Monitor) Done() <-chan struct{} { return m.exited }

func (m *Monitor) loop(events <-chan Event) {
	defer close(m.exited)
	for {
		select {
		case <-m.quit:
			return
		case ev, ok := <-events:
			if !ok || !m.handle(ev) {
				return
			}
		}
	}
}

// handle applies ev and reports whether the loop should keep reading.
func (m *Monitor) handle(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}

	var v *assessment.Violation
	var w Warning

	switch ev.Kind {
	case EventHidden:
		if !m.hidden {
			m.hidden = true
			m.tabSwitches++
			v = &assessment.Violation{Type: assessment.ViolationTabHidden, Timestamp: ev.At}
			m.violations = append(m.violations, *v)
			w = Warning{
				Type:     assessment.ViolationTabHidden,
				Count:    m.tabSwitches,
				Message:  fmt.Sprintf("You left the assessment tab. This has been recorded (%d so far).", m.tabSwitches),
				Blocking: m.tabLimitReachedLocked(),
				At:       ev.At,
			}
		}
	case EventVisible:
		m.hidden = false
	case EventFullscreenExit:
		if !m.outFullscreen {
			m.outFullscreen = true
			v = &assessment.Violation{Type: assessment.ViolationFullscreenExit, Timestamp: ev.At}
			m.violations = append(m.violations, *v)
			w = Warning{
				Type:     assessment.ViolationFullscreenExit,
				Count:    len(m.violations),
				Message:  "Please return to fullscreen mode to continue the assessment.",
				Blocking: m.policy.FullscreenEnforced,
				At:       ev.At,
			}
		}
	case EventFullscreenEnter:
		m.outFullscreen = false
	default:
		log.Printf("proctoring: ignoring unknown event %q", ev.Kind)
	}
	m.mu.Unlock()

	if v != nil {
		if m.onViolation != nil {
			m.onViolation(*v)
		}
		if m.onWarning != nil {
			m.onWarning(w)
		}
	}
	return true
}

// Count is the number of violations recorded so far. It never decreases.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

func (m *Monitor) TabSwitches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tabSwitches
}

// Violations returns a copy of the violation list.
func (m *Monitor) Violations() []assessment.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]assessment.Violation(nil), m.violations...)
}

// Blocked reports whether the configured policy currently blocks an
// explicit submission. With the default policy it is always false.
func (m *Monitor) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy.FullscreenEnforced && m.outFullscreen {
		return true
	}
	return m.tabLimitReachedLocked()
}

func (m *Monitor) tabLimitReachedLocked() bool {
	return m.policy.BlockOnTabSwitchLimit && m.policy.TabSwitchLimit > 0 && m.tabSwitches >= m.policy.TabSwitchLimit
}
