package actor

// Seq chains first then next: when first's body runs to completion (or
// calls self.Exit("normal")), next runs as though it had been the actor's
// original body — same identity, same links, same mailbox — instead of
// letting the actor terminate in between. Modeled on pacs008-actor's
// Every (self-resubmission) and the teacher's ball_actor.go ticking
// pattern, built here over the cleanup-hook field per spec.md §9's "kill
// continuation field" note rather than a fresh mechanism.
func Seq(first, next Behavior) Behavior {
	return func(self *Actor) {
		self.SetCleanupHook(func() { runBehaviorInline(self, next) })
		first(self)
	}
}

// Loop repeats body forever: each time an invocation of body ends, it is
// re-run for the same actor without the actor ever being observed as
// exited in between. The actor only actually terminates when something
// external calls self.Exit with a non-"normal" reason, a linked peer's
// cascade reaches it, or body panics.
//
// Go has no tail-call elimination, so each iteration nests one Go stack
// frame deeper; this is acceptable for the sugar's intended use (a
// bounded or moderate number of cycles) and matches spec.md §9's
// description of the mechanism literally ("run the next step without
// returning through the call stack"). An actor meant to loop indefinitely
// at high frequency should instead structure itself as a direct
// react/reactWithin cycle (see EventLoop), which does not recurse.
func Loop(body Behavior) Behavior {
	var looped Behavior
	looped = func(self *Actor) {
		self.SetCleanupHook(func() { runBehaviorInline(self, looped) })
		body(self)
	}
	return looped
}

// Step is one stage of a RunSteps chain: it runs for self and returns the
// next Step to run, or nil to let the actor terminate normally. This is
// the explicit, continuation-returning cousin of Seq/Loop for chains whose
// length or next stage isn't known until the current one runs.
type Step func(self *Actor) Step

// RunSteps builds a Behavior that runs first, then whatever Step it
// returns, and so on until a Step returns nil — at which point the actor
// exits normally. Each transition goes through the same cleanup-hook
// mechanism Seq/Loop use, so the actor's identity (links, mailbox, id)
// never looks like it terminated and respawned between steps.
func RunSteps(first Step) Behavior {
	return func(self *Actor) {
		runStep(self, first)
	}
}

func runStep(self *Actor, step Step) {
	if step == nil {
		return
	}
	self.SetCleanupHook(func() {
		next := step(self)
		runBehaviorInline(self, func(inner *Actor) { runStep(inner, next) })
	})
}

// runBehaviorInline runs body for self on the calling goroutine and then
// finalizes it exactly as start's goroutine wrapper would, without
// spawning a new goroutine — the continuation of a Loop/Seq step.
func runBehaviorInline(self *Actor, body Behavior) {
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(*exitUnwind); ok {
				return
			}
			reason := panicReason(rec)
			Log.WithField("actor", self.id).WithError(NewExitError(reason, panicCause(rec))).Error("actor body panicked")
			self.doExit(reason)
		}
	}()
	body(self)
	self.finalizeBodyReturn()
}
