package actor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// reaction is a scheduled unit of actor work: (actor, handler, message)
// (spec.md §3, "Reaction"). exitWake is a reaction-shaped signal used to
// re-enter an actor's exit protocol on its next scheduled step, when a
// linked peer's abnormal termination arrives while the actor is detached
// (spec.md §4.5, receiveExit's "submitting a null-reaction").
type reaction struct {
	actor    *Actor
	handler  *Handler
	msg      any
	exitWake bool
}

// Scheduler runs reactions on worker goroutines and tracks outstanding
// detached actors so a process built on this library can tell when it is
// quiescent (spec.md §4.6). The teacher's Engine (bollywood/engine.go)
// keeps one goroutine per actor forever; this generalizes that into a
// shared, elastic pool sized for many more detached actors than OS
// threads, per spec.md §4.6's "grows as detached actors outstrip workers".
type Scheduler struct {
	cfg RuntimeConfig

	queue chan reaction

	mu       sync.Mutex
	workers  int
	idle     int
	stopping atomic.Bool

	pending atomic.Int64 // outstanding detached-actor reactions
	ticks   atomic.Int64 // fairness-accounting counter, bumped by tick()

	quiescent chan struct{} // closed exactly once, when pending reaches 0 after having been >0
	started   atomic.Bool
}

// NewScheduler builds a Scheduler with cfg.SchedulerBaseWorkers workers
// already running.
func NewScheduler(cfg RuntimeConfig) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		queue:     make(chan reaction),
		quiescent: make(chan struct{}),
	}
	for i := 0; i < cfg.SchedulerBaseWorkers; i++ {
		s.spawnWorker()
	}
	return s
}

// defaultScheduler backs the package-level Spawn/Self proxy convenience
// API, mirroring the teacher's single process-wide Engine.
var defaultScheduler = NewScheduler(DefaultRuntimeConfig())

func (s *Scheduler) spawnWorker() {
	s.mu.Lock()
	s.workers++
	s.mu.Unlock()
	go s.workerLoop()
}

func (s *Scheduler) workerLoop() {
	for r := range s.queue {
		s.runReaction(r)
	}
}

func (s *Scheduler) runReaction(r reaction) {
	if r.exitWake {
		r.actor.reenterExitSafely()
		s.doneReaction()
		return
	}

	unbind := bindSelf(r.actor)
	// The session pushed for this reaction is on top now; a tail React in
	// the handler may push the next reaction's session above it before
	// this one finishes, so remove this reaction's own entry, not the top.
	session := r.actor.Session()
	func() {
		defer unbind()
		defer func() {
			a := r.actor
			a.mu.Lock()
			defer a.mu.Unlock()
			for i := len(a.sessions) - 1; i >= 0; i-- {
				if a.sessions[i] == session {
					a.sessions = append(a.sessions[:i], a.sessions[i+1:]...)
					return
				}
			}
		}()
		defer func() {
			if rec := recover(); rec != nil {
				if _, ok := rec.(*exitUnwind); ok {
					return
				}
				reason := panicReason(rec)
				Log.WithField("actor", r.actor.id).WithError(NewExitError(reason, panicCause(rec))).Error("reaction panicked")
				r.actor.doExit(reason)
			}
		}()

		if tt, ok := r.msg.(timeoutToken); ok && !r.handler.defined(tt) {
			r.actor.failWith(ErrUnhandledTimeout)
			return
		}
		r.handler.run(r.msg)
	}()

	s.doneReaction()
}

func panicReason(rec any) string {
	if err, ok := rec.(error); ok {
		return err.Error()
	}
	return "panic"
}

// panicCause normalizes a recovered value into an error suitable as the
// cause argument to NewExitError, for handlers that panic with a plain
// value rather than an error.
func panicCause(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return errors.Errorf("%v", rec)
}

// execute runs reaction r on some worker, growing the pool when every
// worker is busy and the ceiling hasn't been reached (spec.md §4.6:
// "no starvation of a submitted reaction indefinitely while the pool has
// idle capacity").
func (s *Scheduler) execute(r reaction) {
	select {
	case s.queue <- r:
		return
	default:
	}

	timer := time.NewTimer(s.cfg.SchedulerDispatchBudget)
	defer timer.Stop()
	select {
	case s.queue <- r:
	case <-timer.C:
		s.mu.Lock()
		grow := s.workers < s.cfg.SchedulerMaxWorkers
		s.mu.Unlock()
		if grow {
			s.spawnWorker()
		}
		s.queue <- r
	}
}

// start bootstraps an actor's initial reaction (equivalent to execute
// plus pending-reaction accounting), mirroring Engine.Spawn's Started{}
// kickoff.
func (s *Scheduler) start(r reaction) {
	s.pendReaction()
	s.execute(r)
}

// pendReaction increments the outstanding-reaction counter; every
// dispatched reaction that completes calls doneReaction exactly once.
func (s *Scheduler) pendReaction() {
	s.pending.Add(1)
}

func (s *Scheduler) doneReaction() {
	if s.pending.Add(-1) == 0 {
		s.mu.Lock()
		select {
		case <-s.quiescent:
		default:
			close(s.quiescent)
		}
		s.mu.Unlock()
	}
}

// tick is the fairness-accounting hook invoked on every send (spec.md
// §4.2 step 1, "credits the sender for scheduling fairness"). This
// scheduler's policy is simple round counting; a richer policy (e.g.
// credit-based throttling of hot senders) can read Ticks().
func (s *Scheduler) tick(a *Actor) {
	s.ticks.Add(1)
}

// Ticks returns the number of send-side fairness ticks recorded so far.
func (s *Scheduler) Ticks() int64 { return s.ticks.Load() }

// Pending returns the number of reactions currently outstanding (queued,
// dispatched, or representing a detached actor awaiting a message).
func (s *Scheduler) Pending() int64 { return s.pending.Load() }

// Quiescent returns a channel closed once Pending reaches zero after
// having been above zero (spec.md §4.6(b): "shutdown when no actors are
// blocked and no reactions are outstanding"). A fresh Scheduler with no
// work submitted yet is not considered quiescent until start/execute has
// run at least once.
func (s *Scheduler) Quiescent() <-chan struct{} {
	return s.quiescent
}

// reenterExitSafely wraps reenterExit (which panics by contract) so an
// exit-wake reaction can run it without crashing the worker goroutine.
func (a *Actor) reenterExitSafely() {
	unbind := bindSelf(a)
	defer unbind()
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(*exitUnwind); !ok {
				Log.WithField("actor", a.id).WithField("panic", rec).Error("exit-wake panicked")
			}
		}
	}()
	a.reenterExit()
}
