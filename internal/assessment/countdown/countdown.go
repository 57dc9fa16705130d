// Package countdown provides the per-phase wall-clock timer.
package countdown

import (
	"sync"
	"time"
)

// Timer counts down whole seconds and calls onTimeout exactly once when it
// reaches zero. A stopped timer never fires.
type Timer struct {
	tick      time.Duration
	onTimeout func()
	onTick    func(remaining int)

	mu        sync.Mutex
	remaining int
	started   bool
	active    bool
	fired     bool

	stop     chan struct{}
	stopOnce sync.Once
}

func newTimer(seconds int, tick time.Duration, onTimeout func(), onTick func(int)) *Timer {
	return &Timer{
		tick:      tick,
		onTimeout: onTimeout,
		onTick:    onTick,
		remaining: seconds,
		stop:      make(chan struct{}),
	}
}

func (t *Timer) start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.active = true
	t.mu.Unlock()

	go t.run()
}

func (t *Timer) run() {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if !t.active {
			t.mu.Unlock()
			return
		}
		t.remaining--
		if t.remaining < 0 {
			t.remaining = 0
		}
		remaining := t.remaining
		fire := false
		if remaining == 0 {
			t.active = false
			if !t.fired {
				t.fired = true
				fire = true
			}
		}
		t.mu.Unlock()

		if t.onTick != nil {
			t.onTick(remaining)
		}
		if fire && t.onTimeout != nil {
			t.onTimeout()
		}
		if remaining == 0 {
			return
		}
	}
}

// Stop deactivates the timer. It is safe to call from onTimeout and more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Fired reports whether onTimeout has been invoked.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

type Option func(*Controller)

// WithTick overrides the one-second decrement interval.
func WithTick(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tick = d
		}
	}
}

// Controller owns at most one active timer. Starting a new one always
// disposes the previous timer first.
type Controller struct {
	tick time.Duration

	mu      sync.Mutex
	label   string
	current *Timer
}

func NewController(opts ...Option) *Controller {
	c := &Controller{tick: time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start disposes any running timer and starts a new one labelled label.
func (c *Controller) Start(label string, seconds int, onTimeout func(), onTick func(remaining int)) *Timer {
	t := newTimer(seconds, c.tick, onTimeout, onTick)

	c.mu.Lock()
	prev := c.current
	c.current = t
	c.label = label
	c.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	t.start()
	return t
}

// Stop disposes the current timer, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()

	if t != nil {
		t.Stop()
	}
}

// Remaining is the current timer's remaining seconds, or zero.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()

	if t == nil {
		return 0
	}
	return t.Remaining()
}

// Label names the phase the current timer belongs to.
func (c *Controller) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}
