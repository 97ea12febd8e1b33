package fiber

import (
	"errors"
	"runtime"

	"github.com/oxbow-systems/fiberio/fibercontainer"
)

// ErrNilFunc is returned by AddFiber/AddAndRunFiber when fn is nil
// (spec.md §4.1: "both reject null fn").
var ErrNilFunc = errors.New("fiber: entry function is nil")

// Scheduler owns fiber lifecycle and cooperative context switches
// (spec.md §3/§4.1). It is not safe for concurrent use from multiple
// goroutines that are not themselves fibers dispatched by it -- exactly
// one "thread of control" (the event loop or a dispatched fiber) is
// ever inside the scheduler at a time, by construction of dispatch().
type Scheduler struct {
	nextID  uint64
	running *Fiber
	ready   fibercontainer.Queue[*Fiber]
	dead    []*Fiber // recyclable Fiber structs, LIFO (hot reuse)
	live    int      // count of non-dead fibers (ready+running+suspended)
}

// New creates an empty Scheduler with no fibers.
func New() *Scheduler {
	return &Scheduler{}
}

// Current returns the fiber currently running on this scheduler, or nil
// if called from the event loop (no fiber running).
func (s *Scheduler) Current() *Fiber { return s.running }

// FiberCount returns the number of live (non-dead) fibers.
func (s *Scheduler) FiberCount() int { return s.live }

// AddFiber creates a new ready fiber. It does not run until a future
// Tick (or an explicit directed transfer) reaches it.
func (s *Scheduler) AddFiber(fn Func, arg any) (*Fiber, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	f := s.allocate(fn, arg)
	s.ready.PushBack(f)
	s.live++
	return f, nil
}

// AddAndRunFiber creates a new fiber and transfers control to it
// immediately: a calling fiber is pushed to the FRONT of the ready
// queue and yields to the new fiber, resuming only once the new fiber
// next cedes control and the caller is re-dispatched (spec.md §4.1
// "Scheduling order"). Called with no fiber running (from the event
// loop), it dispatches the new fiber directly.
func (s *Scheduler) AddAndRunFiber(fn Func, arg any) (*Fiber, error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	f := s.allocate(fn, arg)
	s.live++

	caller := s.running
	if caller == nil {
		// Called from the event loop itself (no active fiber): just
		// dispatch the new fiber like Tick would.
		s.dispatch(f)
		s.reclaimDead()
		return f, nil
	}

	caller.state = Ready
	s.ready.PushFront(caller)
	s.dispatch(f)
	// Hand control back to whoever dispatched `caller` (our own
	// dispatch() call further up the stack), then block until the
	// scheduler re-dispatches us per the front-of-queue placement above.
	caller.yield <- struct{}{}
	<-caller.resume
	caller.state = Running
	return f, nil
}

// YieldCurrentFiber cedes control to the next ready fiber, if any, and
// re-queues the current fiber at the back of the ready queue. A no-op
// if the ready set is empty.
func (s *Scheduler) YieldCurrentFiber() {
	cur := s.mustCurrent("YieldCurrentFiber")
	if s.ready.Empty() {
		return
	}
	cur.state = Ready
	s.ready.PushBack(cur)
	cur.yield <- struct{}{}
	<-cur.resume
	cur.state = Running
}

// SuspendCurrentFiber stops running the current fiber without
// re-queueing it; some external primitive (I/O adapter, mailbox,
// event, semaphore, ...) has arranged to call ResumeFiber later.
func (s *Scheduler) SuspendCurrentFiber() {
	cur := s.mustCurrent("SuspendCurrentFiber")
	cur.state = Suspended
	cur.yield <- struct{}{}
	<-cur.resume
	cur.state = Running
}

// ResumeFiber appends a suspended fiber to the ready queue. f must
// currently be suspended and must not be the running fiber.
func (s *Scheduler) ResumeFiber(f *Fiber) {
	if f.state != Suspended {
		panic("fiber: ResumeFiber called on a fiber that is not suspended")
	}
	f.state = Ready
	s.ready.PushBack(f)
}

// Unresume undoes a ResumeFiber for a fiber still sitting in the ready
// queue (not yet dispatched), putting it back to Suspended. Used by
// Semaphore to retract a speculative wake-up when a concurrent Down/Up
// observes the counter has returned to a bound (spec.md §4.8).
func (s *Scheduler) Unresume(f *Fiber) {
	if f.state != Ready {
		return
	}
	s.removeFromReady(f)
	f.state = Suspended
}

func (s *Scheduler) removeFromReady(target *Fiber) {
	var kept []*Fiber
	for {
		v, ok := s.ready.PopFront()
		if !ok {
			break
		}
		if v == target {
			continue
		}
		kept = append(kept, v)
	}
	for _, v := range kept {
		s.ready.PushBack(v)
	}
}

// ExitCurrentFiber moves the current fiber to the dead list and never
// returns to its caller (control passes to the next ready fiber or back
// to the event loop).
func (s *Scheduler) ExitCurrentFiber() {
	cur := s.mustCurrent("ExitCurrentFiber")
	cur.state = Dead
	s.live--
	s.dead = append(s.dead, cur)
	cur.yield <- struct{}{}
	// There is no resume to wait for: end the backing goroutine here so
	// that neither the entry procedure nor Fiber.run continues past
	// this call.
	runtime.Goexit()
}

// Tick runs ready fibers until the ready queue is exhausted, then
// returns. It also lazily frees/recycles fiber slots that died during
// the drain (spec.md §4.1).
func (s *Scheduler) Tick() {
	for {
		f, ok := s.ready.PopFront()
		if !ok {
			break
		}
		s.dispatch(f)
	}
	s.reclaimDead()
}

// dispatch hands control to f and blocks until f next cedes control
// (yield, suspend, or exit), regardless of how dispatch was invoked
// (Tick's main loop, or AddAndRunFiber's nested transfer).
func (s *Scheduler) dispatch(f *Fiber) {
	prev := s.running
	s.running = f
	f.state = Running
	if !f.started {
		f.started = true
		go f.run()
	}
	f.resume <- struct{}{}
	<-f.yield
	s.running = prev
}

// reclaimDead drops references to dead fiber structs, letting Go's GC
// collect their goroutine state. A handful are kept around for struct
// reuse (id + channel allocation amortization), mirroring the C
// original's free-list without pretending to reuse real OS stacks.
func (s *Scheduler) reclaimDead() {
	const keep = 64
	if len(s.dead) > keep {
		s.dead = s.dead[len(s.dead)-keep:]
	}
}

func (s *Scheduler) allocate(fn Func, arg any) *Fiber {
	if n := len(s.dead); n > 0 {
		f := s.dead[n-1]
		s.dead = s.dead[:n-1]
		f.reset(fn, arg)
		return f
	}
	s.nextID++
	return newFiber(s, s.nextID, fn, arg)
}

func (s *Scheduler) mustCurrent(who string) *Fiber {
	if s.running == nil {
		panic("fiber: " + who + " called with no fiber running")
	}
	return s.running
}
