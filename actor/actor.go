package actor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actor is the state machine described in spec.md §3: a mailbox, a
// selective-receive predicate, a session stack of reply channels, a
// captured continuation when detached, a link set, and exit bookkeeping.
//
// Exactly one goroutine executes a given actor's handler code at a time.
// That goroutine is either the actor's "home" goroutine (the one running
// the body passed to Spawn, blocked inside receive) or a worker
// goroutine borrowed from the Scheduler while running a detached reaction;
// the actor's mutex and mode field together guarantee the two never
// overlap (spec.md §8 property 3).
type Actor struct {
	id   string
	name string

	scheduler *Scheduler
	timer     *Timer

	mu   sync.Mutex
	cond *sync.Cond

	mailbox    *messageQueue
	waitingFor func(any) bool
	received   any
	sessions   []*ReplyChannel

	continuation *Handler
	mode         Mode

	replyChannel *ReplyChannel

	links    map[*Actor]struct{}
	trapExit bool

	exitReason     string
	shouldExit     bool
	timeoutPending bool
	exited         bool

	cleanupHook func()
}

// newActor allocates an unstarted Actor wired to the given scheduler/timer
// and runtime config.
func newActor(name string, cfg RuntimeConfig, sched *Scheduler, tmr *Timer) *Actor {
	a := &Actor{
		id:        uuid.NewString(),
		name:      name,
		scheduler: sched,
		timer:     tmr,
		mailbox:   newMessageQueue(cfg.MailboxCapacity),
		links:     make(map[*Actor]struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// ID returns the actor's identity, stable for its lifetime.
func (a *Actor) ID() string { return a.id }

// Name returns the human-readable name given at construction, or "" if
// none was given.
func (a *Actor) Name() string { return a.name }

// ----------------------------------------------------------------------
// send (spec.md §4.2)
// ----------------------------------------------------------------------

// send is the single entry point for asynchronous and reply-bearing
// deliveries. It either hands the message directly to a waiting receiver
// or appends it to the mailbox.
func (a *Actor) send(msg any, reply *ReplyChannel) {
	a.scheduler.tick(a)

	a.mu.Lock()

	if a.waitingFor != nil && a.waitingFor(msg) {
		a.received = msg
		a.sessions = append(a.sessions, reply)
		a.waitingFor = nil

		if a.timeoutPending {
			a.timer.trashRequest(a)
			a.timeoutPending = false
		}

		mode := a.mode
		var cont *Handler
		if mode == ModeDetached {
			a.mode = ModeRunning
			cont = a.continuation
			a.continuation = nil
		} else if mode == ModeBlockedOnReceive {
			a.mode = ModeRunning
		}
		a.mu.Unlock()

		// Scheduler submission must happen outside the actor's critical
		// section (spec.md §5: never hold the lock across calls that
		// could re-enter).
		switch mode {
		case ModeBlockedOnReceive:
			a.cond.Broadcast()
		case ModeDetached:
			a.scheduler.execute(reaction{actor: a, handler: cont, msg: msg})
		}
		return
	}

	a.mailbox.append(msg, reply)
	a.mu.Unlock()
}

// Send delivers msg asynchronously (`a ! msg`). sender is attached so the
// receiver's Reply/Sender can route a response; pass nil when there is no
// reply-capable sender.
func (a *Actor) Send(msg any, sender Reference) {
	var reply *ReplyChannel
	if sender != nil {
		reply = sender.replyTarget()
	}
	a.send(msg, reply)
}

// Reference is anything sends can be routed back to: an *Actor or a
// forwarded ReplyChannel.
type Reference interface {
	replyTarget() *ReplyChannel
}

func (a *Actor) replyTarget() *ReplyChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.replyChannel == nil {
		a.replyChannel = newReplyChannel(a)
	}
	return a.replyChannel
}

func (r *ReplyChannel) replyTarget() *ReplyChannel { return r }

// Forward delivers msg asynchronously while preserving the original
// sender's reply channel, i.e. `a forward msg` (spec.md §6, SPEC_FULL.md
// "forward"): a reply sent by the final recipient reaches whoever sent
// originalSession's message, not the forwarder. Callers typically pass
// self.Session() from inside the handler currently processing that
// message.
func (a *Actor) Forward(msg any, originalSession Reference) {
	var reply *ReplyChannel
	if originalSession != nil {
		reply = originalSession.replyTarget()
	}
	a.send(msg, reply)
}

// ----------------------------------------------------------------------
// receive / receiveWithin (spec.md §4.3)
// ----------------------------------------------------------------------

// receiveMatch blocks the calling goroutine (which must own a) until a
// message satisfying pred is available, either already queued or handed
// off by a future send, and returns it. Call only from the actor's own
// goroutine.
func (a *Actor) receiveMatch(pred func(any) bool) any {
	a.assertOwner()

	a.mu.Lock()
	if a.shouldExit {
		a.mu.Unlock()
		a.reenterExit()
		return nil
	}

	if msg, reply, ok := a.mailbox.extractFirst(pred); ok {
		a.sessions = append(a.sessions, reply)
		a.mu.Unlock()
		return msg
	}

	a.waitingFor = pred
	a.mode = ModeBlockedOnReceive
	for a.mode == ModeBlockedOnReceive {
		a.cond.Wait()
	}
	if a.shouldExit {
		a.mu.Unlock()
		a.reenterExit()
		return nil
	}
	msg := a.received
	a.mu.Unlock()
	return msg
}

// receiveMatchWithin is receiveMatch bounded by a timer; it returns
// (nil, true) if the deadline elapsed with no match.
func (a *Actor) receiveMatchWithin(pred func(any) bool, msec int) (msg any, timedOut bool) {
	a.assertOwner()

	a.mu.Lock()
	if a.shouldExit {
		a.mu.Unlock()
		a.reenterExit()
		return nil, false
	}

	if m, reply, ok := a.mailbox.extractFirst(pred); ok {
		a.sessions = append(a.sessions, reply)
		a.mu.Unlock()
		return m, false
	}

	a.waitingFor = pred
	a.mode = ModeBlockedOnReceive
	a.timeoutPending = true
	deadline := time.Duration(msec) * time.Millisecond
	a.timer.requestTimeout(a, deadline)
	for a.mode == ModeBlockedOnReceive {
		a.cond.Wait()
	}
	a.timeoutPending = false
	if a.shouldExit {
		a.mu.Unlock()
		a.reenterExit()
		return nil, false
	}
	if a.received == nil && a.waitingFor == nil {
		// Timer won the race: waitingFor was cleared by deliverTimeout
		// without a received value being set.
		a.mu.Unlock()
		return nil, true
	}
	m := a.received
	a.mu.Unlock()
	return m, false
}

// Receive performs a blocking selective receive: it consumes the oldest
// mailbox entry matching h, pushes the entry's reply channel as the
// current session, runs h, and pops the session.
func (a *Actor) Receive(h *Handler) {
	msg := a.receiveMatch(h.defined)
	defer a.popSession()
	h.run(msg)
}

// ReceiveWithin is Receive bounded by msec milliseconds. If the deadline
// elapses, TIMEOUT is synthesized; if h has no case for TIMEOUT, the
// failure is surfaced via ErrUnhandledTimeout through the supervision
// protocol exactly like a panic in a handler would be (spec.md §4.3, §6).
func (a *Actor) ReceiveWithin(msec int, h *Handler) {
	msg, timedOut := a.receiveMatchWithin(h.defined, msec)
	if timedOut {
		if !h.defined(TIMEOUT) {
			a.failWith(ErrUnhandledTimeout)
			return
		}
		msg = TIMEOUT
	} else {
		defer a.popSession()
	}
	h.run(msg)
}

func (a *Actor) popSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.sessions); n > 0 {
		a.sessions = a.sessions[:n-1]
	}
}

// ----------------------------------------------------------------------
// react / reactWithin (spec.md §4.4)
// ----------------------------------------------------------------------

// React detaches: if a matching message is already queued, it is
// dispatched to the Scheduler immediately; otherwise the continuation is
// captured and the calling goroutine is released back to the pool. React
// never produces a result for its own handler invocation — it must only
// be called in tail position of a processing step (spec.md §9).
func (a *Actor) React(h *Handler) {
	a.assertOwner()

	a.mu.Lock()
	if a.shouldExit {
		a.mu.Unlock()
		a.reenterExit()
		return
	}

	a.scheduler.pendReaction()

	if msg, reply, ok := a.mailbox.extractFirst(h.defined); ok {
		a.sessions = append(a.sessions, reply)
		a.mode = ModeRunning
		a.mu.Unlock()
		a.scheduler.execute(reaction{actor: a, handler: h, msg: msg})
		return
	}

	a.waitingFor = h.defined
	a.continuation = h
	a.mode = ModeDetached
	a.mu.Unlock()
}

// ReactWithin is React bounded by msec milliseconds.
func (a *Actor) ReactWithin(msec int, h *Handler) {
	a.assertOwner()

	a.mu.Lock()
	if a.shouldExit {
		a.mu.Unlock()
		a.reenterExit()
		return
	}

	a.scheduler.pendReaction()

	if msg, reply, ok := a.mailbox.extractFirst(h.defined); ok {
		a.sessions = append(a.sessions, reply)
		a.mode = ModeRunning
		a.mu.Unlock()
		a.scheduler.execute(reaction{actor: a, handler: h, msg: msg})
		return
	}

	a.waitingFor = h.defined
	a.continuation = h
	a.mode = ModeDetached
	a.timeoutPending = true
	a.mu.Unlock()

	a.timer.requestTimeout(a, time.Duration(msec)*time.Millisecond)
}

// EventLoop runs h repeatedly in detached mode: after each delivered
// message is handled, React re-arms with the same handler (spec.md §6,
// "eventloop(handler)").
func (a *Actor) EventLoop(h *Handler) {
	a.React(loopHandler(a, h))
}

func loopHandler(a *Actor, h *Handler) *Handler {
	wrapped := make([]Case, len(h.cases))
	for i, c := range h.cases {
		c := c
		wrapped[i] = Case{
			Match: c.Match,
			Action: func(msg any) {
				c.Action(msg)
				a.React(loopHandler(a, h))
			},
		}
	}
	return &Handler{cases: wrapped}
}

// ----------------------------------------------------------------------
// reply / sender (spec.md §4.8)
// ----------------------------------------------------------------------

// Reply sends x to the sender of the message currently being handled
// (the top of the session stack).
func (a *Actor) Reply(x any) {
	a.mu.Lock()
	n := len(a.sessions)
	if n == 0 {
		a.mu.Unlock()
		panic(ErrNoSession)
	}
	session := a.sessions[n-1]
	a.mu.Unlock()

	if session == nil {
		Log.WithField("actor", a.id).Debug("reply() with no reply-capable sender, dropped")
		return
	}
	session.owner.send(taggedReply{channelID: session.id, payload: x}, nil)
}

// Sender returns the owning actor of the top-of-stack session, or nil if
// the current message carried no reply-capable sender.
func (a *Actor) Sender() *Actor {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.sessions); n > 0 && a.sessions[n-1] != nil {
		return a.sessions[n-1].owner
	}
	return nil
}

// Session returns the exact reply channel of the message currently being
// handled (the top of the session stack), or nil. Forward uses this
// directly rather than Sender()'s owning actor so that a forwarded
// message's reply routes to the precise pending request, not merely
// whichever reply channel the sending actor happens to hold at the
// moment of forwarding.
func (a *Actor) Session() *ReplyChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.sessions); n > 0 {
		return a.sessions[n-1]
	}
	return nil
}

// Ask performs a synchronous request/response (`a !? msg`): it allocates a
// fresh reply channel bound to self, sends msg carrying it, and blocks
// until any reply arrives. Panics with ErrActorExited if target has
// already run its exit protocol — such a target will never deliver a
// reply, so the rendezvous would otherwise hang forever (spec.md §3,
// "after exit ... no delivery guarantee post-exit").
func (a *Actor) Ask(target *Actor, msg any) any {
	a.assertOwner()
	if target.IsExited() {
		panic(ErrActorExited)
	}
	reply := a.refreshReplyChannel()
	target.send(msg, reply)
	return reply.Receive()
}

// AskWithin is Ask bounded by msec milliseconds; ok is false on TIMEOUT.
func (a *Actor) AskWithin(target *Actor, msec int, msg any) (result any, ok bool) {
	a.assertOwner()
	if target.IsExited() {
		panic(ErrActorExited)
	}
	reply := a.refreshReplyChannel()
	target.send(msg, reply)
	return reply.ReceiveWithin(msec)
}

func (a *Actor) refreshReplyChannel() *ReplyChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replyChannel = newReplyChannel(a)
	return a.replyChannel
}

// ----------------------------------------------------------------------
// links / trap-exit (spec.md §4.5)
// ----------------------------------------------------------------------

// Link adds a symmetric supervision edge between a and peer.
func (a *Actor) Link(peer *Actor) {
	if a == peer {
		return
	}
	first, second := a, peer
	if first.id > second.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	a.links[peer] = struct{}{}
	peer.links[a] = struct{}{}
	second.mu.Unlock()
	first.mu.Unlock()
}

// Unlink removes the symmetric supervision edge between a and peer.
func (a *Actor) Unlink(peer *Actor) {
	unlinkOne(a, peer)
}

func unlinkOne(a, peer *Actor) {
	first, second := a, peer
	if first.id > second.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	delete(a.links, peer)
	delete(peer.links, a)
	second.mu.Unlock()
	first.mu.Unlock()
}

// SetTrapExit sets whether termination notices from linked peers arrive as
// ordinary Exit messages (true) or cascade (false, the default).
func (a *Actor) SetTrapExit(trap bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trapExit = trap
}

// TrapExit reports the current trap-exit setting.
func (a *Actor) TrapExit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trapExit
}

// SetCleanupHook registers a one-shot thunk invoked when this actor exits
// with reason "normal" (spec.md §9, "kill continuation field"). Used by
// the Loop/Seq sugar in flow.go to chain the next step instead of letting
// the actor terminate.
func (a *Actor) SetCleanupHook(hook func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanupHook = hook
}

// receiveExit implements the peer's linked-termination handler (spec.md
// §4.5, receiveExit(from, reason)).
func (a *Actor) receiveExit(from *Actor, reason string) {
	a.mu.Lock()
	trap := a.trapExit
	a.mu.Unlock()

	if trap {
		a.send(Exit{From: from, Reason: reason}, nil)
		return
	}

	if reason == "normal" {
		return
	}

	a.mu.Lock()
	if a.exited {
		a.mu.Unlock()
		return
	}
	a.shouldExit = true
	a.exitReason = reason
	mode := a.mode
	if mode == ModeBlockedOnReceive || mode == ModeDetached {
		a.mode = ModeRunning
		a.waitingFor = nil
		a.continuation = nil
	}
	a.mu.Unlock()

	switch mode {
	case ModeBlockedOnReceive:
		a.cond.Broadcast()
	case ModeDetached:
		a.scheduler.execute(reaction{actor: a, exitWake: true})
	}
}

// ----------------------------------------------------------------------
// exit (spec.md §4.5)
// ----------------------------------------------------------------------

// exitUnwind is the non-local-unwind signal Exit panics with; it is
// recovered by the dispatcher running the actor's current frame (either
// the body goroutine started by Spawn, or the Scheduler invoking a
// reaction). This is the idiomatic-Go rendering of spec.md §9's "dedicated
// control object that unwinds the worker thread" — Go's panic/recover is a
// legitimate non-local unwind primitive, so no exotic trampoline is
// needed for this half of the contract (react's "never returns" half is
// instead honored by a tail-position calling convention; see React).
type exitUnwind struct{}

// Exit terminates the current actor with reason (spec.md §4.5). It never
// returns to its caller: it unwinds the current frame via panic/recover,
// exactly like a failing handler would (spec.md §7.2).
func (a *Actor) Exit(reason string) {
	a.assertOwner()
	a.doExit(reason)
	panic(&exitUnwind{})
}

// reenterExit is the path used when shouldExit is observed at the top of
// receive/react: it runs the exit protocol with the latched reason and,
// like Exit, unwinds via panic to reach the nearest recover (same
// dispatcher contract as Exit).
func (a *Actor) reenterExit() {
	a.mu.Lock()
	reason := a.exitReason
	a.mu.Unlock()
	a.doExit(reason)
	panic(&exitUnwind{})
}

// failWith treats a usage-level failure (e.g. unhandled timeout) as an
// abnormal exit, per spec.md §7: "user code that fails synchronously ...
// must be treated identically to exit(reason) with a non-normal reason."
func (a *Actor) failWith(err error) {
	Log.WithField("actor", a.id).WithError(err).Error("actor failed")
	a.doExit(err.Error())
	panic(&exitUnwind{})
}

// doExit runs the side-effecting half of the exit protocol (cleanup hook,
// link cascade) without unwinding the stack; callers panic with
// exitUnwind immediately after to hand control back to the dispatcher.
func (a *Actor) doExit(reason string) {
	a.mu.Lock()
	if a.exited {
		a.mu.Unlock()
		return
	}
	if reason == "normal" {
		a.mode = ModeExitingNormal
	} else {
		a.mode = ModeExitingAbnormal
	}
	a.exitReason = reason
	hook := a.cleanupHook
	a.cleanupHook = nil
	a.mu.Unlock()

	if reason == "normal" && hook != nil {
		// The hook (Loop/Seq sugar, flow.go) runs the next step inline and
		// is responsible for this actor's eventual real finalization itself
		// (spec.md §9: "run the next step without returning through the
		// call stack"); this doExit call is superseded, not completed.
		hook()
		return
	}

	a.mu.Lock()
	if a.exited {
		a.mu.Unlock()
		return
	}
	a.exited = true
	peers := make([]*Actor, 0, len(a.links))
	for peer := range a.links {
		peers = append(peers, peer)
	}
	a.links = nil
	a.mu.Unlock()

	for _, peer := range peers {
		unlinkOne(a, peer)
		peer.receiveExit(a, reason)
	}

	Log.WithField("actor", a.id).WithField("reason", reason).Debug("actor exited")
}

// finalizeBodyReturn runs after a Behavior (the body passed to Spawn, or a
// Loop/Seq/RunSteps continuation run inline) returns without panicking. If
// the body detached via react/reactWithin/EventLoop before returning, the
// actor's life continues through reactions the Scheduler dispatches —
// finalizing here would mark it `exited` (and sever its links) while it is
// still very much alive, silently breaking supervision for every
// detached/EventLoop actor (spec.md §3 "after exit the actor is inert";
// §8 props 5/7). Such an actor is either ModeDetached, or has a reaction
// in flight: that reaction holds a session on the stack until it
// finishes, and is ModeBlockedOnReceive while it waits inside a receive.
// Only an actor that returned without detaching is actually done.
func (a *Actor) finalizeBodyReturn() {
	a.mu.Lock()
	detached := a.mode == ModeDetached || a.mode == ModeBlockedOnReceive || len(a.sessions) > 0
	a.mu.Unlock()
	if !detached {
		a.doExit("normal")
	}
}

// IsExited reports whether the actor has completed its termination
// protocol. Sends to an exited actor enqueue messages that will never be
// consumed (spec.md §3, "Lifecycle").
func (a *Actor) IsExited() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exited
}

// deliverTimeout is called by the Timer when a requested timeout for a
// elapses without being cancelled (spec.md §4.7).
func (a *Actor) deliverTimeout() {
	a.mu.Lock()
	if !a.timeoutPending || a.waitingFor == nil {
		a.mu.Unlock()
		return
	}
	a.timeoutPending = false
	a.waitingFor = nil
	a.received = nil
	switch a.mode {
	case ModeBlockedOnReceive:
		a.mode = ModeRunning
		a.cond.Broadcast()
		a.mu.Unlock()
	case ModeDetached:
		a.mode = ModeRunning
		cont := a.continuation
		a.continuation = nil
		a.sessions = append(a.sessions, nil)
		a.mu.Unlock()
		a.scheduler.execute(reaction{actor: a, handler: cont, msg: TIMEOUT})
	default:
		a.mu.Unlock()
	}
}
