// Package runtime assembles the fiber scheduler, epoll reactor, timer,
// worker pool and logging into the single-threaded event loop described
// by spec.md §4.7, grounded on original_source/Source/Runtime.c's
// main()/Loop(): Scheduler_Tick, then (if any fiber remains)
// IOPoller_Tick bounded by Timer_CalculateWaitTime, draining the async
// queue after both the poller and the timer fire.
//
// Unlike the C original's five file-scope globals (Scheduler, IOPoller,
// Timer, ThreadPool, and the implicit logging level), every subsystem
// here is a field of one explicit *Engine value (spec.md §9's resolved
// Open Question), so a process can in principle run more than one
// engine -- useful for tests, which construct a fresh Engine per case
// instead of resetting shared globals.
package runtime

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oxbow-systems/fiberio/asyncqueue"
	"github.com/oxbow-systems/fiberio/fiber"
	"github.com/oxbow-systems/fiberio/ioadapter"
	"github.com/oxbow-systems/fiberio/reactor"
	"github.com/oxbow-systems/fiberio/timer"
	"github.com/oxbow-systems/fiberio/workerpool"
)

// ErrNilFunc is returned by AddFiber/AddAndRunFiber when fn is nil.
var ErrNilFunc = fiber.ErrNilFunc

// Engine owns one fiber scheduler and its cooperating reactor, timer
// and worker pool, plus the io adapter context built from them.
type Engine struct {
	Sched *fiber.Scheduler
	Poll  *reactor.Poller
	Timer *timer.Timer
	Pool  *workerpool.Pool
	IO    *ioadapter.Context
	Log   *logrus.Logger

	queue asyncqueue.Queue

	poolCtx    context.Context
	cancelPool context.CancelFunc
}

// New assembles a fresh Engine: a Scheduler, an epoll Poller, a Timer,
// and a started worker Pool whose self-pipe is already registered with
// the Poller.
func New() (*Engine, error) {
	log := NewLogger()

	poll, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("runtime: reactor.New: %w", err)
	}

	pool, err := workerpool.New(log)
	if err != nil {
		poll.Close()
		return nil, fmt.Errorf("runtime: workerpool.New: %w", err)
	}

	sched := fiber.New()
	tm := timer.New()

	e := &Engine{
		Sched: sched,
		Poll:  poll,
		Timer: tm,
		Pool:  pool,
		Log:   log,
	}
	e.IO = &ioadapter.Context{Sched: sched, Poll: poll, Timer: tm, Pool: pool}

	e.poolCtx, e.cancelPool = context.WithCancel(context.Background())
	pool.Start(e.poolCtx)

	if _, err := poll.SetWatch(pool.ReadFd(), reactor.Readable, nil, pool.Drain); err != nil {
		e.shutdownSubsystems()
		return nil, fmt.Errorf("runtime: registering workerpool self-pipe: %w", err)
	}

	return e, nil
}

// AddFiber creates a ready fiber that does not run until the next Tick.
func (e *Engine) AddFiber(fn fiber.Func, arg any) (*fiber.Fiber, error) {
	return e.Sched.AddFiber(fn, arg)
}

// AddAndRunFiber creates a fiber and transfers control to it immediately.
func (e *Engine) AddAndRunFiber(fn fiber.Func, arg any) (*fiber.Fiber, error) {
	return e.Sched.AddAndRunFiber(fn, arg)
}

// YieldCurrentFiber cedes control to the next ready fiber.
func (e *Engine) YieldCurrentFiber() { e.Sched.YieldCurrentFiber() }

// ExitCurrentFiber ends the calling fiber.
func (e *Engine) ExitCurrentFiber() { e.Sched.ExitCurrentFiber() }

// SleepCurrentFiber suspends the calling fiber for durationMs
// milliseconds (original_source/Source/Runtime.c's SleepCurrentFiber).
func (e *Engine) SleepCurrentFiber(durationMs int) {
	cur := e.Sched.Current()
	e.Timer.SetTimeout(durationMs, cur, func(token any) {
		e.Sched.ResumeFiber(token.(*fiber.Fiber))
	})
	e.Sched.SuspendCurrentFiber()
}

// Run adds fiberMain as the initial fiber (receiving argc/argv) and
// drives the event loop until every fiber has exited, returning
// fiberMain's result. It then stops the worker pool and releases the
// reactor.
func (e *Engine) Run(argv []string, fiberMain func(argc int, argv []string) int) int {
	status := 0
	done := make(chan struct{})

	_, err := e.Sched.AddFiber(func(f *fiber.Fiber, arg any) {
		status = fiberMain(len(argv), argv)
		close(done)
	}, nil)
	if err != nil {
		e.Log.WithError(err).Error("runtime: failed to add initial fiber")
		e.shutdownSubsystems()
		return 1
	}

	e.loop()
	e.shutdownSubsystems()
	return status
}

// loop is the direct translation of Runtime.c's Loop(): tick ready
// fibers, stop once none remain, otherwise wait on the reactor bounded
// by the timer's next deadline, drain async callbacks after both the
// reactor and the timer fire.
func (e *Engine) loop() {
	for {
		e.Sched.Tick()

		if e.Sched.FiberCount() == 0 {
			return
		}

		wait := e.Timer.CalculateWaitTime()
		if err := e.Poll.Tick(wait, &e.queue); err != nil {
			e.Log.WithError(err).Error("runtime: reactor.Tick failed")
			return
		}
		e.queue.Drain()

		e.Timer.Tick(&e.queue)
		e.queue.Drain()
	}
}

func (e *Engine) shutdownSubsystems() {
	if err := e.Pool.Stop(); err != nil {
		e.Log.WithError(err).Warn("runtime: workerpool.Stop returned error")
	}
	if err := e.Pool.Close(); err != nil {
		e.Log.WithError(err).Warn("runtime: workerpool.Close returned error")
	}
	e.cancelPool()
	if err := e.Poll.Close(); err != nil {
		e.Log.WithError(err).Warn("runtime: reactor.Close returned error")
	}
}
