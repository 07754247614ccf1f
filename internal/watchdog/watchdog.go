// Package watchdog implements the inactivity timer that ends an idle voice
// session.
//
// A Watchdog holds one logical timer. Every Arm or Reset starts a new
// generation; a timer that fires for a superseded generation does nothing.
// Cancel, Arm and Reset keep a callback from starting, but do not wait for
// one that already started. Callers that must not act on a late expiry
// re-check their own state inside the callback.
package watchdog

import (
	"sync"
	"time"
)

// DefaultTimeout is the period of silence after which a listening session is
// stopped.
const DefaultTimeout = 30 * time.Second

// Watchdog is a resettable one-shot timer. The zero value is ready to use.
// All methods are safe for concurrent use.
type Watchdog struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	timeout  time.Duration
	onExpire func()
	armed    bool
}

// New returns an unarmed Watchdog.
func New() *Watchdog {
	return &Watchdog{}
}

// Arm schedules onExpire to run after timeout, replacing any pending timer
// and callback. A non-positive timeout falls back to [DefaultTimeout].
func (w *Watchdog) Arm(timeout time.Duration, onExpire func()) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = timeout
	w.onExpire = onExpire
	w.scheduleLocked()
}

// Reset restarts the countdown of an armed watchdog from now. It is a no-op
// when the watchdog is not armed.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return
	}
	w.scheduleLocked()
}

// Cancel disarms the watchdog. A callback that has not started yet never
// will; one already running is not waited for.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.armed = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether an expiry is pending.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func (w *Watchdog) scheduleLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	w.armed = true
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || !w.armed {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	fn := w.onExpire
	w.mu.Unlock()

	if fn != nil {
		fn()
	}
}
