package actor

import (
	"sync"
	"time"
)

// Timer is the service backing receiveWithin/reactWithin (spec.md §4.7):
// it arranges for an actor to be woken (or have TIMEOUT delivered) after a
// delay, and supports idempotent cancellation when a real message wins the
// race first. Grounded on pacs008-actor's actorCall.go Call() (a
// time.NewTimer raced in a select against a reply channel) and its
// After()/Every() self-scheduling helpers, generalized here from a single
// inline select into a service shared across every actor so deliverTimeout
// can be called from the Timer's own goroutine rather than the caller's.
type Timer struct {
	granularity time.Duration

	mu    sync.Mutex
	armed map[*Actor]*time.Timer
}

// NewTimer builds a Timer using cfg's granularity as the minimum bound on
// reported elapse times (spec.md §8 property 8, "T+ε").
func NewTimer(cfg RuntimeConfig) *Timer {
	return &Timer{
		granularity: cfg.TimerGranularity,
		armed:       make(map[*Actor]*time.Timer),
	}
}

// defaultTimer backs the package-level self/proxy convenience API,
// mirroring defaultScheduler.
var defaultTimer = NewTimer(DefaultRuntimeConfig())

// requestTimeout arranges for a.deliverTimeout() to run after d unless
// trashRequest(a) is called first. Re-arming an actor that already has a
// pending request replaces it (the stale one is stopped).
func (t *Timer) requestTimeout(a *Actor, d time.Duration) {
	if d < t.granularity {
		d = t.granularity
	}

	t.mu.Lock()
	if old, ok := t.armed[a]; ok {
		old.Stop()
	}
	tm := time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.armed, a)
		t.mu.Unlock()
		a.deliverTimeout()
	})
	t.armed[a] = tm
	t.mu.Unlock()
}

// trashRequest cancels any outstanding timeout request for a. Idempotent
// (spec.md §4.7): calling it when nothing is armed, or twice in a row, is a
// no-op. Used when a real message matches before the timer fires.
func (t *Timer) trashRequest(a *Actor) {
	t.mu.Lock()
	tm, ok := t.armed[a]
	if ok {
		delete(t.armed, a)
	}
	t.mu.Unlock()
	if ok {
		tm.Stop()
	}
}
