package countdown_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentscreen-backend/internal/assessment/countdown"
)

const tick = 5 * time.Millisecond

func TestTimerFiresExactlyOnce(t *testing.T) {
	c := countdown.NewController(countdown.WithTick(tick))

	var fired atomic.Int32
	var mu sync.Mutex
	var ticks []int
	timer := c.Start("mcq", 3, func() { fired.Add(1) }, func(remaining int) {
		mu.Lock()
		ticks = append(ticks, remaining)
		mu.Unlock()
	})

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, tick)
	time.Sleep(10 * tick)

	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, timer.Fired())
	assert.False(t, timer.Active())
	assert.Equal(t, 0, c.Remaining())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, ticks)
}

func TestStoppedTimerNeverFires(t *testing.T) {
	c := countdown.NewController(countdown.WithTick(tick))

	var fired atomic.Int32
	timer := c.Start("mcq", 20, func() { fired.Add(1) }, nil)
	c.Stop()
	c.Stop()

	time.Sleep(30 * tick)
	assert.Zero(t, fired.Load())
	assert.False(t, timer.Active())
	assert.False(t, timer.Fired())
}

func TestStartDisposesPreviousTimer(t *testing.T) {
	c := countdown.NewController(countdown.WithTick(tick))

	var first, second atomic.Int32
	prev := c.Start("mcq", 4, func() { first.Add(1) }, nil)
	c.Start("voice-phase", 2, func() { second.Add(1) }, nil)

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, tick)
	time.Sleep(10 * tick)

	assert.Zero(t, first.Load())
	assert.False(t, prev.Active())
	assert.Equal(t, "voice-phase", c.Label())
}

func TestStopFromTimeoutCallback(t *testing.T) {
	c := countdown.NewController(countdown.WithTick(tick))

	done := make(chan struct{})
	c.Start("mcq", 1, func() {
		c.Stop()
		close(done)
	}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never ran")
	}
}

func TestRemainingBeforeStart(t *testing.T) {
	c := countdown.NewController()
	assert.Zero(t, c.Remaining())
	assert.Empty(t, c.Label())

	c.Start("mcq", 900, nil, nil)
	defer c.Stop()
	assert.Equal(t, 900, c.Remaining())
}
