package proctoring_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/assessment/assessmenttest"
	"talentscreen-backend/internal/assessment/proctoring"
)

type collector struct {
	mu         sync.Mutex
	warnings   []proctoring.Warning
	violations []assessment.Violation
}

func (c *collector) options() []proctoring.Option {
	return []proctoring.Option{
		proctoring.OnWarning(func(w proctoring.Warning) {
			c.mu.Lock()
			c.warnings = append(c.warnings, w)
			c.mu.Unlock()
		}),
		proctoring.OnViolation(func(v assessment.Violation) {
			c.mu.Lock()
			c.violations = append(c.violations, v)
			c.mu.Unlock()
		}),
	}
}

func (c *collector) Warnings() []proctoring.Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proctoring.Warning(nil), c.warnings...)
}

func startMonitor(t *testing.T, policy assessment.Policy) (*proctoring.Monitor, *assessmenttest.Events, *collector) {
	t.Helper()
	events := &assessmenttest.Events{}
	c := &collector{}
	m := proctoring.NewMonitor(events, policy, c.options()...)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m, events, c
}

func TestHiddenCountsOncePerLeave(t *testing.T) {
	m, events, c := startMonitor(t, assessment.DefaultPolicy())

	events.Emit(proctoring.EventHidden)
	events.Emit(proctoring.EventHidden)
	events.Emit(proctoring.EventVisible)
	events.Emit(proctoring.EventHidden)

	require.Eventually(t, func() bool { return m.Count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, m.TabSwitches())

	warnings := c.Warnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, assessment.ViolationTabHidden, warnings[1].Type)
	assert.Equal(t, 2, warnings[1].Count)
	assert.False(t, warnings[1].Blocking)
	assert.False(t, m.Blocked())
}

func TestFullscreenExitIsDistinctWarning(t *testing.T) {
	m, events, c := startMonitor(t, assessment.DefaultPolicy())

	events.Emit(proctoring.EventFullscreenExit)
	events.Emit(proctoring.EventFullscreenExit)

	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, m.TabSwitches())

	warnings := c.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, assessment.ViolationFullscreenExit, warnings[0].Type)
	assert.False(t, m.Blocked())

	events.Emit(proctoring.EventFullscreenEnter)
	events.Emit(proctoring.EventFullscreenExit)
	require.Eventually(t, func() bool { return m.Count() == 2 }, time.Second, time.Millisecond)
}

func TestBlockedFollowsPolicy(t *testing.T) {
	policy := assessment.DefaultPolicy()
	policy.TabSwitchLimit = 2
	policy.BlockOnTabSwitchLimit = true
	policy.FullscreenEnforced = true

	m, events, _ := startMonitor(t, policy)

	events.Emit(proctoring.EventFullscreenExit)
	require.Eventually(t, m.Blocked, time.Second, time.Millisecond)

	events.Emit(proctoring.EventFullscreenEnter)
	require.Eventually(t, func() bool { return !m.Blocked() }, time.Second, time.Millisecond)

	for i := 0; i < 2; i++ {
		events.Emit(proctoring.EventHidden)
		events.Emit(proctoring.EventVisible)
	}
	require.Eventually(t, m.Blocked, time.Second, time.Millisecond)
	assert.Equal(t, 2, m.TabSwitches())
}

func TestStopMakesMonitorInert(t *testing.T) {
	m, events, c := startMonitor(t, assessment.DefaultPolicy())

	events.Emit(proctoring.EventHidden)
	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, time.Millisecond)

	m.Stop()
	m.Stop()
	assert.Zero(t, events.Subscribers())

	events.Emit(proctoring.EventVisible)
	events.Emit(proctoring.EventHidden)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, m.Count())
	assert.Len(t, c.Warnings(), 1)
	assert.ErrorIs(t, m.Start(), proctoring.ErrStopped)
}

// openSource never closes its channel, even after unsubscribe.
type openSource struct{ ch chan proctoring.Event }

func (s openSource) Subscribe() (<-chan proctoring.Event, func()) {
	return s.ch, func() {}
}

func TestStopEndsLoopOnOpenSource(t *testing.T) {
	m := proctoring.NewMonitor(openSource{ch: make(chan proctoring.Event)}, assessment.DefaultPolicy())
	require.NoError(t, m.Start())

	m.Stop()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("event loop still running after Stop")
	}
}

func TestDoneClosedWhenNeverStarted(t *testing.T) {
	m := proctoring.NewMonitor(&assessmenttest.Events{}, assessment.DefaultPolicy())
	m.Stop()
	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestStartTwice(t *testing.T) {
	m, _, _ := startMonitor(t, assessment.DefaultPolicy())
	assert.ErrorIs(t, m.Start(), proctoring.ErrAlreadyRunning)
}

func TestViolationCountNeverDecreases(t *testing.T) {
	m, events, _ := startMonitor(t, assessment.DefaultPolicy())

	last := 0
	for i := 0; i < 5; i++ {
		events.Emit(proctoring.EventHidden)
		events.Emit(proctoring.EventVisible)
		events.Emit(proctoring.EventFullscreenExit)
		events.Emit(proctoring.EventFullscreenEnter)
		n := m.Count()
		assert.GreaterOrEqual(t, n, last)
		last = n
	}
	require.Eventually(t, func() bool { return m.Count() == 10 }, time.Second, time.Millisecond)
	assert.Len(t, m.Violations(), 10)
}
