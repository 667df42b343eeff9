// Package alert rate-limits the audible person alert.
package alert

import (
	"sync"
	"time"
)

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithDispatcher overrides how the action is launched. The default runs it
// on a new goroutine.
func WithDispatcher(dispatch func(func())) Option {
	return func(t *Throttle) { t.dispatch = dispatch }
}

// Throttle allows at most one action per cooldown window. Triggers inside
// the window are dropped, never queued.
type Throttle struct {
	mu        sync.Mutex
	cooldown  time.Duration
	lastFired time.Time
	hasFired  bool

	action   func()
	now      func() time.Time
	dispatch func(func())
}

// NewThrottle returns a Throttle running action at most once per cooldown.
func NewThrottle(cooldown time.Duration, action func(), opts ...Option) *Throttle {
	t := &Throttle{
		cooldown: cooldown,
		action:   action,
		now:      time.Now,
		dispatch: func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fire launches the action when trigger is true and the cooldown has
// elapsed since the last launch. It reports whether the action was launched
// and never waits for it to finish.
func (t *Throttle) Fire(trigger bool) bool {
	if !trigger {
		return false
	}

	t.mu.Lock()
	now := t.now()
	if t.hasFired && now.Sub(t.lastFired) < t.cooldown {
		t.mu.Unlock()
		return false
	}
	t.lastFired = now
	t.hasFired = true
	t.mu.Unlock()

	if t.action != nil {
		t.dispatch(t.action)
	}
	return true
}

// LastFired returns the time of the last launch.
func (t *Throttle) LastFired() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFired, t.hasFired
}
