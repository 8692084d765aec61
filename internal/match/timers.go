package match

import (
	"sync"
	"time"
)

// Timers holds at most one pending callback per match id.
type Timers struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// NewTimers returns an empty scheduler.
func NewTimers() *Timers {
	return &Timers{pending: make(map[string]*time.Timer)}
}

// Schedule runs fn after d, replacing any callback already pending for id.
func (t *Timers) Schedule(id string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if prev, ok := t.pending[id]; ok {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.pending[id] == timer {
			delete(t.pending, id)
		}
		t.mu.Unlock()
		fn()
	})
	t.pending[id] = timer
}

// Cancel stops the pending callback for id. It reports whether one was
// stopped before firing.
func (t *Timers) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)
	return timer.Stop()
}

// Pending returns the number of callbacks not yet fired.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels everything and refuses new schedules.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
}
