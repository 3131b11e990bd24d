package actor

import "github.com/google/uuid"

// ReplyChannel is a lightweight, one-shot-ish destination for replies,
// bound to the actor that created it (spec.md §3, §4.8). Receiving on it
// delegates to the owner's selective receive, restricted to messages that
// were sent tagged with this exact channel.
//
// A fresh ReplyChannel is minted for every outgoing synchronous request
// (`!?`) so that concurrent calls never cross-talk (spec.md §4.8, §8
// property 9) — replies are correlated by the channel's uuid, which each
// reply carries and matches compares.
type ReplyChannel struct {
	id    string
	owner *Actor
}

// newReplyChannel mints a ReplyChannel bound to owner.
func newReplyChannel(owner *Actor) *ReplyChannel {
	return &ReplyChannel{id: uuid.NewString(), owner: owner}
}

// ID returns the correlation id used to route replies to this channel.
func (r *ReplyChannel) ID() string { return r.id }

// Owner returns the actor this channel delivers to.
func (r *ReplyChannel) Owner() *Actor { return r.owner }

// taggedReply wraps a reply so the owning actor's selective receive can
// restrict matching to exactly the messages that arrived via this channel.
type taggedReply struct {
	channelID string
	payload   any
}

// Receive blocks the caller (which must be the owning actor) until a
// message tagged with this channel arrives, and returns its payload. It is
// the blocking primitive `!?` is built on.
//
// receiveMatch pushed the matched entry's (always-nil, since taggedReply
// is sent with no reply-capable sender) reply channel onto the owner's
// session stack; this must be popped here rather than left for the
// surrounding handler's own Receive/ReceiveWithin to balance, or a
// self.Ask(...) called mid-handler leaves a stale nil session on top of
// the stack and the handler's own self.Reply(x) afterwards silently drops
// (spec.md §3: "sessions.length equals the nesting depth of in-progress
// handler invocations").
func (r *ReplyChannel) Receive() any {
	msg := r.owner.receiveMatch(r.matches)
	defer r.owner.popSession()
	return msg.(taggedReply).payload
}

// ReceiveWithin is the timed variant `!?(msec, _)` is built on: it returns
// (payload, true) on a matching reply, or (nil, false) on TIMEOUT. No
// session was pushed in the timeout case, so only the matched path pops
// one (see Receive).
func (r *ReplyChannel) ReceiveWithin(msec int) (any, bool) {
	msg, timedOut := r.owner.receiveMatchWithin(r.matches, msec)
	if timedOut {
		return nil, false
	}
	defer r.owner.popSession()
	return msg.(taggedReply).payload, true
}

func (r *ReplyChannel) matches(msg any) bool {
	tr, ok := msg.(taggedReply)
	return ok && tr.channelID == r.id
}
