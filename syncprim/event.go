package syncprim

import (
	"github.com/oxbow-systems/fiberio/fiber"
	"github.com/oxbow-systems/fiberio/fibercontainer"
)

// Event is a broadcast one-shot wakeup: Trigger resumes every fiber
// currently blocked in WaitFor, oldest waiter first (original_source/Source/Event.c),
// and does not retain any memory of having fired for fibers that call
// WaitFor afterward -- unlike a condition variable there is no "already
// signaled" state to observe.
type Event struct {
	sched   *fiber.Scheduler
	waiters fibercontainer.Stack[*fiber.Fiber]
}

// NewEvent creates an Event bound to sched.
func NewEvent(sched *fiber.Scheduler) *Event {
	return &Event{sched: sched}
}

// Trigger resumes every fiber currently waiting, then clears the
// waiter set. A no-op if nobody is waiting.
func (e *Event) Trigger() {
	e.waiters.DrainAll(func(f *fiber.Fiber) {
		e.sched.ResumeFiber(f)
	})
}

// WaitFor blocks the calling fiber until the next Trigger.
func (e *Event) WaitFor() {
	cur := e.sched.Current()
	e.waiters.Push(cur)
	e.sched.SuspendCurrentFiber()
}
