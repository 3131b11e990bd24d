package actor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeqRunsNextStepWithoutTerminating(t *testing.T) {
	var firstRan, secondRan atomic.Bool
	done := make(chan struct{})

	first := func(self *Actor) {
		firstRan.Store(true)
	}
	second := func(self *Actor) {
		secondRan.Store(true)
		close(done)
	}

	a := Spawn("seq", Seq(first, second))
	_ = a

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second step never ran")
	}
	require.True(t, firstRan.Load())
	require.True(t, secondRan.Load())
}

func TestLoopRepeatsUntilExternalExit(t *testing.T) {
	var count atomic.Int32
	stop := make(chan struct{})

	body := func(self *Actor) {
		n := count.Add(1)
		if n >= 3 {
			close(stop)
			self.Exit("done")
			return
		}
	}

	a := Spawn("looping", Loop(body))

	select {
	case <-stop:
	case <-time.After(time.Second):
		t.Fatal("loop never reached target count")
	}
	require.Eventually(t, func() bool { return a.IsExited() }, time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, count.Load(), int32(3))
}

func TestRunStepsChainsUntilNil(t *testing.T) {
	var order []string
	done := make(chan struct{})

	stepC := func(self *Actor) Step {
		order = append(order, "c")
		close(done)
		return nil
	}
	stepB := func(self *Actor) Step {
		order = append(order, "b")
		return stepC
	}
	stepA := func(self *Actor) Step {
		order = append(order, "a")
		return stepB
	}

	Spawn("steps", RunSteps(stepA))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("step chain never completed")
	}
	require.Equal(t, []string{"a", "b", "c"}, order)
}
