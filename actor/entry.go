package actor

import (
	"fmt"
	"runtime"
	"sync"
)

// goid extracts the calling goroutine's id by parsing the leading line of
// its own stack trace. This is the same trick rnkv-axy-go's debug build
// tag uses purely for assertions; here it backs the functional `self`
// resolution spec.md §4.9 asks for ("each worker thread has a thread-local
// current-actor slot"), since Go has no built-in goroutine-local storage.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	fmt.Sscanf(string(buf[:n]), "goroutine %d ", &id)
	return id
}

var (
	currentMu      sync.Mutex
	currentByGorou = make(map[uint64]*Actor)
	proxiesByGorou = make(map[uint64]*Actor)
)

// bindSelf records that the calling goroutine is now executing on behalf
// of a, for the duration of a reaction or the actor's home-goroutine body.
// The returned unbind func restores whatever was bound before (nil for
// "nothing").
func bindSelf(a *Actor) (unbind func()) {
	id := goid()
	currentMu.Lock()
	prev, had := currentByGorou[id]
	currentByGorou[id] = a
	currentMu.Unlock()
	return func() {
		currentMu.Lock()
		if had {
			currentByGorou[id] = prev
		} else {
			delete(currentByGorou, id)
		}
		currentMu.Unlock()
	}
}

// Self returns the actor bound to the calling goroutine. Outside any
// actor's home goroutine or reaction, a proxy actor tied to the calling
// goroutine's identity is lazily created so that `Self().Send(...)` and
// `Self().Receive(...)` still make sense from arbitrary callers (spec.md
// §4.9).
func Self() *Actor {
	id := goid()

	currentMu.Lock()
	if a, ok := currentByGorou[id]; ok {
		currentMu.Unlock()
		return a
	}
	if a, ok := proxiesByGorou[id]; ok {
		currentMu.Unlock()
		return a
	}
	currentMu.Unlock()

	proxy := newActor(fmt.Sprintf("proxy-%d", id), DefaultRuntimeConfig(), defaultScheduler, defaultTimer)

	currentMu.Lock()
	defer currentMu.Unlock()
	if a, ok := proxiesByGorou[id]; ok {
		return a
	}
	proxiesByGorou[id] = proxy
	return proxy
}

// assertOwner panics with ErrWrongGoroutine if the calling goroutine is
// not the one currently bound to a (spec.md §6, "calling a selective
// operation from a thread that is not the owning actor is a contract
// violation").
func (a *Actor) assertOwner() {
	if Self() != a {
		panic(ErrWrongGoroutine)
	}
}

// Behavior is the thunk a spawned actor runs on its own goroutine: inside
// it, Self() resolves to the actor currently running, and
// Receive/ReceiveWithin/React/ReactWithin/Exit are all usable (spec.md
// §6, "Actor constructor ... the running behavior has access to self,
// sender, reply, exit"). A Behavior is the "home" path — it's started on
// a dedicated goroutine, so it may block inside Receive without consuming
// a Scheduler worker; it may also call React at any point and detach,
// exactly like a reaction dispatched from the Scheduler would.
type Behavior func(self *Actor)

// Spawn creates an actor running body on its own goroutine and returns it
// already started, mirroring the teacher's Engine.Spawn + Send(Started{})
// bootstrap convention (spec.md §3, "started exactly once").
func Spawn(name string, body Behavior) *Actor {
	return SpawnWith(name, DefaultRuntimeConfig(), body)
}

// SpawnWith is Spawn with an explicit RuntimeConfig.
func SpawnWith(name string, cfg RuntimeConfig, body Behavior) *Actor {
	a := newActor(name, cfg, defaultScheduler, defaultTimer)
	a.start(body)
	return a
}

// start runs body on a fresh goroutine bound to a via bindSelf, recovering
// a clean exit(normal) or propagating a panic through the same link
// protocol a detached reaction panic would use.
func (a *Actor) start(body Behavior) {
	a.scheduler.pendReaction()
	go func() {
		unbind := bindSelf(a)
		defer unbind()
		defer a.scheduler.doneReaction()
		defer func() {
			if rec := recover(); rec != nil {
				if _, ok := rec.(*exitUnwind); ok {
					return
				}
				reason := panicReason(rec)
				Log.WithField("actor", a.id).WithError(NewExitError(reason, panicCause(rec))).Error("actor body panicked")
				a.doExit(reason)
			}
		}()
		body(a)
		a.finalizeBodyReturn()
	}()
}

// LinkSpawn creates a new actor running body, links it to parent, and
// starts it — spec.md §6's "link(body) (create+link+start)".
func (parent *Actor) LinkSpawn(name string, body Behavior) *Actor {
	child := newActor(name, DefaultRuntimeConfig(), parent.scheduler, parent.timer)
	parent.Link(child)
	child.start(body)
	return child
}
