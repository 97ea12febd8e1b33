package syncprim

import (
	"errors"

	"github.com/oxbow-systems/fiberio/fiber"
	"github.com/oxbow-systems/fiberio/fibercontainer"
)

// ErrSemaphoreBounds is returned by NewSemaphore when the initial value
// falls outside [minValue, maxValue].
var ErrSemaphoreBounds = errors.New("syncprim: semaphore initial value out of bounds")

// Semaphore is a bounded counting semaphore for fibers, ported directly
// from original_source/Source/Semaphore.c. Down blocks while the
// counter sits at minValue; Up blocks while it sits at maxValue. Both
// sides speculatively resume a waiter on the other side as soon as the
// counter frees a slot for it, and retract that speculative resume
// (Scheduler.Unresume) if a same-tick call changes the counter back
// before the woken fiber actually runs -- see spec.md §4.8's
// "bound-crossing" case.
type Semaphore struct {
	sched    *fiber.Scheduler
	value    int
	minValue int
	maxValue int

	downWaiters fibercontainer.Queue[*fiber.Fiber]
	upWaiters   fibercontainer.Queue[*fiber.Fiber]
}

// NewSemaphore creates a Semaphore with the given initial value and
// inclusive bounds.
func NewSemaphore(sched *fiber.Scheduler, value, minValue, maxValue int) (*Semaphore, error) {
	if minValue > value || maxValue < value {
		return nil, ErrSemaphoreBounds
	}
	return &Semaphore{sched: sched, value: value, minValue: minValue, maxValue: maxValue}, nil
}

// Value returns the current counter value.
func (s *Semaphore) Value() int { return s.value }

// Down waits for the counter to rise above minValue, then consumes one
// unit.
func (s *Semaphore) Down() {
	if s.value == s.minValue {
		cur := s.sched.Current()
		h := s.downWaiters.PushBack(cur)
		s.sched.SuspendCurrentFiber()
		s.downWaiters.Remove(h)

		s.value--
		if s.value > s.minValue {
			if front, ok := s.downWaiters.Front(); ok {
				s.sched.ResumeFiber(front)
			}
		}
	} else {
		s.value--
		if s.value == s.minValue {
			if front, ok := s.downWaiters.Front(); ok {
				s.sched.Unresume(front)
			}
		}
	}

	if s.value == s.maxValue-1 {
		if front, ok := s.upWaiters.Front(); ok {
			s.sched.ResumeFiber(front)
		}
	}
}

// Up waits for the counter to drop below maxValue, then produces one
// unit.
func (s *Semaphore) Up() {
	if s.value == s.maxValue {
		cur := s.sched.Current()
		h := s.upWaiters.PushBack(cur)
		s.sched.SuspendCurrentFiber()
		s.upWaiters.Remove(h)

		s.value++
		if s.value < s.maxValue {
			if front, ok := s.upWaiters.Front(); ok {
				s.sched.ResumeFiber(front)
			}
		}
	} else {
		s.value++
		if s.value == s.maxValue {
			if front, ok := s.upWaiters.Front(); ok {
				s.sched.Unresume(front)
			}
		}
	}

	if s.value == s.minValue+1 {
		if front, ok := s.downWaiters.Front(); ok {
			s.sched.ResumeFiber(front)
		}
	}
}
