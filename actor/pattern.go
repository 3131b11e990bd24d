package actor

// timeoutToken is the distinguished sentinel delivered when a timed wait
// elapses (spec.md §3, "TIMEOUT token").
type timeoutToken struct{}

// TIMEOUT is the sentinel message synthesized by receiveWithin/reactWithin
// when no matching message arrives before the deadline.
var TIMEOUT = timeoutToken{}

// Exit is the record delivered to a trapping peer instead of letting a
// linked actor's termination propagate (spec.md §3, "Exit message").
type Exit struct {
	From   *Actor
	Reason string
}

// Handler is a dynamic pattern: a predicate over messages ("is this shape
// handleable?") paired with the action to run when it matches (spec.md §9,
// "Dynamic pattern handlers"). A Handler is built with NewHandler from an
// ordered list of Cases (see On, OnType, OnTimeout and Any); Receive, React
// and their timed variants each take a *Handler.
type Handler struct {
	cases []Case
}

// Case is a single (predicate, action) pair.
type Case struct {
	Match  func(msg any) bool
	Action func(msg any)
}

// On builds a Case that fires Action when match reports true.
func On(match func(msg any) bool, action func(msg any)) Case {
	return Case{Match: match, Action: action}
}

// OnType builds a Case matching messages of exact type T, invoking fn with
// the narrowed value. This is the common case: most handlers pattern-match
// on Go types rather than arbitrary predicates.
func OnType[T any](fn func(T)) Case {
	return Case{
		Match: func(msg any) bool {
			_, ok := msg.(T)
			return ok
		},
		Action: func(msg any) {
			fn(msg.(T))
		},
	}
}

// OnTimeout builds a Case matching the TIMEOUT sentinel.
func OnTimeout(fn func()) Case {
	return On(func(msg any) bool {
		_, ok := msg.(timeoutToken)
		return ok
	}, func(any) { fn() })
}

// NewHandler assembles a Handler from an ordered list of cases; the first
// matching case wins, mirroring the "is this shape handleable / produce the
// next action" pair from spec.md §9.
func NewHandler(cases ...Case) *Handler {
	return &Handler{cases: cases}
}

// defined reports whether any case matches msg.
func (h *Handler) defined(msg any) bool {
	if h == nil {
		return false
	}
	for _, c := range h.cases {
		if c.Match(msg) {
			return true
		}
	}
	return false
}

// run invokes the first matching case's action. Callers must only call run
// after defined(msg) returned true.
func (h *Handler) run(msg any) {
	for _, c := range h.cases {
		if c.Match(msg) {
			c.Action(msg)
			return
		}
	}
}

// Any is a Case-building helper equivalent to spec.md's "`?` (accept any)":
// it matches every message.
func Any(fn func(msg any)) Case {
	return On(func(any) bool { return true }, fn)
}
