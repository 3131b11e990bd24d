package actor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1: ping-pong (spec.md §8).
func TestPingPong(t *testing.T) {
	var recorded atomic.Bool
	done := make(chan struct{})

	a := Spawn("pong", func(self *Actor) {
		self.React(NewHandler(On(func(msg any) bool { return msg == "ping" }, func(any) {
			self.Sender().Send("pong", self)
		})))
	})

	Spawn("ping", func(self *Actor) {
		a.Send("ping", self)
		self.React(NewHandler(On(func(msg any) bool { return msg == "pong" }, func(any) {
			recorded.Store(true)
			close(done)
		})))
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ping-pong did not complete")
	}
	require.True(t, recorded.Load())
}

// S2: selective receive preserves order of non-matching entries (spec.md
// §8 property 2).
func TestSelectiveReceiveOrder(t *testing.T) {
	result := make(chan any, 1)
	mailboxAfter := make(chan []any, 1)

	a := Spawn("selective", func(self *Actor) {
		self.Receive(NewHandler(OnType[string](func(s string) {
			result <- s
		})))

		remaining := make([]any, 0, self.mailbox.len())
		self.mu.Lock()
		for _, e := range self.mailbox.entries {
			remaining = append(remaining, e.msg)
		}
		self.mu.Unlock()
		mailboxAfter <- remaining
	})

	a.Send(1, nil)
	a.Send("two", nil)
	a.Send(3, nil)

	select {
	case r := <-result:
		require.Equal(t, "two", r)
	case <-time.After(time.Second):
		t.Fatal("no result")
	}

	select {
	case rem := <-mailboxAfter:
		require.Equal(t, []any{1, 3}, rem)
	case <-time.After(time.Second):
		t.Fatal("no mailbox snapshot")
	}
}

// S3: timeout.
func TestReceiveWithinTimeout(t *testing.T) {
	result := make(chan string, 1)

	Spawn("timeout", func(self *Actor) {
		self.ReceiveWithin(50, NewHandler(
			OnTimeout(func() { result <- "t" }),
			Any(func(any) { result <- "unexpected-message" }),
		))
	})

	start := time.Now()
	select {
	case r := <-result:
		require.Equal(t, "t", r)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

// S4: trap-exit converts a linked peer's abnormal exit into an ordinary
// Exit message instead of cascading.
func TestTrapExit(t *testing.T) {
	bDone := make(chan Exit, 1)
	var bStarted sync.WaitGroup
	bStarted.Add(1)

	b := Spawn("trapper", func(self *Actor) {
		self.SetTrapExit(true)
		bStarted.Done()
		self.Receive(NewHandler(OnType[Exit](func(e Exit) {
			bDone <- e
		})))
		// Stay alive so the check below sees the trapper not terminated.
		self.ReceiveWithin(1000, NewHandler(OnTimeout(func() {})))
	})

	bStarted.Wait()
	a := Spawn("boomer", func(self *Actor) {
		self.Link(b)
		self.Exit("boom")
	})
	_ = a

	select {
	case e := <-bDone:
		require.Equal(t, "boom", e.Reason)
	case <-time.After(time.Second):
		t.Fatal("trapper never received Exit")
	}
	require.Eventually(t, func() bool { return !b.IsExited() }, time.Second, 10*time.Millisecond)
}

// S5: a non-trapping linked peer cascades to termination, and further
// sends to it are never delivered.
func TestCascade(t *testing.T) {
	var cStarted sync.WaitGroup
	cStarted.Add(1)

	c := Spawn("victim", func(self *Actor) {
		cStarted.Done()
		self.Receive(NewHandler(Any(func(any) {})))
	})

	cStarted.Wait()
	a := Spawn("boomer2", func(self *Actor) {
		self.Link(c)
		self.Exit("boom")
	})
	_ = a

	require.Eventually(t, func() bool { return c.IsExited() }, time.Second, 10*time.Millisecond)
}

// S6: synchronous request/response, with two concurrent callers never
// cross-talking.
func TestSyncReplyDoesNotCrossTalk(t *testing.T) {
	a := Spawn("responder", func(self *Actor) {
		self.EventLoop(NewHandler(OnType[string](func(s string) {
			self.Reply(s + "-reply")
		})))
	})

	results := make(chan string, 2)

	Spawn("caller1", func(self *Actor) {
		r := self.Ask(a, "q")
		results <- r.(string)
	})
	Spawn("caller2", func(self *Actor) {
		r := self.Ask(a, "q2")
		results <- r.(string)
	})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			seen[r] = true
		case <-time.After(time.Second):
			t.Fatal("missing reply")
		}
	}
	require.True(t, seen["q-reply"])
	require.True(t, seen["q2-reply"])
}

// Link symmetry (spec.md §8 property 5).
func TestLinkSymmetry(t *testing.T) {
	ready := make(chan struct{}, 2)
	hold := make(chan struct{})

	a := Spawn("la", func(self *Actor) {
		ready <- struct{}{}
		<-hold
		self.Receive(NewHandler(Any(func(any) {})))
	})
	b := Spawn("lb", func(self *Actor) {
		ready <- struct{}{}
		<-hold
		self.Receive(NewHandler(Any(func(any) {})))
	})
	<-ready
	<-ready

	a.Link(b)
	_, aHasB := a.links[b]
	_, bHasA := b.links[a]
	require.True(t, aHasB)
	require.True(t, bHasA)

	a.Unlink(b)
	_, aHasB = a.links[b]
	_, bHasA = b.links[a]
	require.False(t, aHasB)
	require.False(t, bHasA)

	close(hold)
}

// Normal exit does not cascade to a non-trapping linked peer (spec.md §8
// property 6).
func TestNormalExitDoesNotCascade(t *testing.T) {
	var bStarted sync.WaitGroup
	bStarted.Add(1)

	b := Spawn("survivor", func(self *Actor) {
		bStarted.Done()
		self.ReceiveWithin(300, NewHandler(OnTimeout(func() {})))
	})
	bStarted.Wait()

	Spawn("normal-exiter", func(self *Actor) {
		self.Link(b)
		self.Exit("normal")
	})

	time.Sleep(100 * time.Millisecond)
	require.False(t, b.IsExited())
}

func TestForwardPreservesOriginalSender(t *testing.T) {
	result := make(chan string, 1)

	final := Spawn("final", func(self *Actor) {
		self.Receive(NewHandler(OnType[string](func(s string) {
			self.Reply("handled:" + s)
		})))
	})

	mid := Spawn("middle", func(self *Actor) {
		self.Receive(NewHandler(OnType[string](func(s string) {
			final.Forward(s, self.Session())
		})))
	})

	Spawn("originator", func(self *Actor) {
		r := self.Ask(mid, "hi")
		result <- r.(string)
	})

	select {
	case r := <-result:
		require.Equal(t, "handled:hi", r)
	case <-time.After(time.Second):
		t.Fatal("forward never completed")
	}
}

// A detached (react-based) actor's body returns the instant it captures a
// continuation; it must stay alive and linked until something actually
// terminates it, not be finalized just because its body function returned.
func TestDetachedActorStaysLinkedAfterBodyReturns(t *testing.T) {
	worker := Spawn("worker", func(self *Actor) {
		self.React(NewHandler(Any(func(any) { panic("boom") })))
	})

	require.Eventually(t, func() bool {
		worker.mu.Lock()
		defer worker.mu.Unlock()
		return worker.mode == ModeDetached
	}, time.Second, 10*time.Millisecond)
	require.False(t, worker.IsExited())

	linked := make(chan struct{})
	supervisorDone := make(chan Exit, 1)
	var supervisor *Actor
	supervisor = Spawn("supervisor", func(self *Actor) {
		self.SetTrapExit(true)
		self.Link(worker)
		close(linked)
		self.Receive(NewHandler(OnType[Exit](func(e Exit) {
			supervisorDone <- e
		})))
	})

	select {
	case <-linked:
	case <-time.After(time.Second):
		t.Fatal("supervisor never linked the worker")
	}

	_, stillLinked := worker.links[supervisor]
	require.True(t, stillLinked)

	worker.Send("boom", nil)

	select {
	case e := <-supervisorDone:
		require.Equal(t, "panic", e.Reason)
	case <-time.After(time.Second):
		t.Fatal("supervisor never observed the detached worker's abnormal exit")
	}
}

// Ask (`!?`) must pop the session it pushes on the owner's reply channel,
// or a surrounding handler's own Reply after an Ask sees a stale session
// and silently drops (spec.md §3, §8 property 4).
func TestAskInsideHandlerDoesNotCorruptOuterSession(t *testing.T) {
	helper := Spawn("helper", func(self *Actor) {
		self.EventLoop(NewHandler(OnType[string](func(s string) {
			self.Reply(s + "-from-helper")
		})))
	})

	outer := Spawn("outer", func(self *Actor) {
		self.EventLoop(NewHandler(OnType[string](func(s string) {
			inner := self.Ask(helper, "inner-request")
			self.Reply(s + "/" + inner.(string))
		})))
	})

	caller := make(chan string, 1)
	Spawn("caller", func(self *Actor) {
		r := self.Ask(outer, "outer-request")
		caller <- r.(string)
	})

	select {
	case r := <-caller:
		require.Equal(t, "outer-request/inner-request-from-helper", r)
	case <-time.After(time.Second):
		t.Fatal("outer handler's reply after a nested Ask never reached the caller")
	}
}
