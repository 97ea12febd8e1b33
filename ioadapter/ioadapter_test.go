package ioadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oxbow-systems/fiberio/asyncqueue"
	"github.com/oxbow-systems/fiberio/fiber"
	"github.com/oxbow-systems/fiberio/reactor"
	"github.com/oxbow-systems/fiberio/timer"
)

func newTestContext(t *testing.T) (*Context, *fiber.Scheduler, *asyncqueue.Queue) {
	t.Helper()
	poll, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { poll.Close() })

	sched := fiber.New()
	tm := timer.New()
	q := &asyncqueue.Queue{}
	return &Context{Sched: sched, Poll: poll, Timer: tm}, sched, q
}

// drive pumps the scheduler/reactor/timer until done returns true or a
// deadline passes, mimicking runtime.Engine's loop body at a small
// enough scale for a unit test.
func drive(t *testing.T, sched *fiber.Scheduler, poll *reactor.Poller, tm *timer.Timer, q *asyncqueue.Queue, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sched.Tick()
		if done() {
			return
		}
		wait := tm.CalculateWaitTime()
		if wait < 0 || wait > 50 {
			wait = 50
		}
		require.NoError(t, poll.Tick(wait, q))
		q.Drain()
		tm.Tick(q)
		q.Drain()
	}
	t.Fatal("drive: deadline exceeded waiting for completion")
}

func TestReadWriteViaPipe(t *testing.T) {
	c, sched, q := newTestContext(t)

	r, w, err := Pipe2(0)
	require.NoError(t, err)
	defer c.Close(r)
	defer c.Close(w)

	var got []byte
	var readErr error
	done := false

	_, err = sched.AddFiber(func(f *fiber.Fiber, arg any) {
		buf := make([]byte, 16)
		n, err := c.Read(r, buf, NoTimeout)
		got = buf[:n]
		readErr = err
		done = true
	}, nil)
	require.NoError(t, err)

	_, err = sched.AddFiber(func(f *fiber.Fiber, arg any) {
		_, err := c.Write(w, []byte("hello"), NoTimeout)
		require.NoError(t, err)
	}, nil)
	require.NoError(t, err)

	drive(t, sched, c.Poll, c.Timer, q, func() bool { return done })
	require.NoError(t, readErr)
	require.Equal(t, "hello", string(got))
}

func TestFDReleaseSkipsClose(t *testing.T) {
	c, _, _ := newTestContext(t)

	r, w, err := Pipe2(0)
	require.NoError(t, err)
	defer c.Close(w)

	h := c.WrapFD(r)
	require.Equal(t, r, h.Fd())
	require.Equal(t, r, h.Release())
	require.NoError(t, c.Close(r))
}

func TestFDCloseClosesImmediately(t *testing.T) {
	c, _, _ := newTestContext(t)

	r, w, err := Pipe2(0)
	require.NoError(t, err)
	defer c.Close(w)

	h := c.WrapFD(r)
	require.NoError(t, h.Close())
}

func TestReadTimesOutWhenNoData(t *testing.T) {
	c, sched, q := newTestContext(t)

	r, w, err := Pipe2(0)
	require.NoError(t, err)
	defer c.Close(r)
	defer c.Close(w)
	_ = w

	var callErr error
	done := false
	_, err = sched.AddFiber(func(f *fiber.Fiber, arg any) {
		buf := make([]byte, 8)
		_, callErr = c.Read(r, buf, 30)
		done = true
	}, nil)
	require.NoError(t, err)

	drive(t, sched, c.Poll, c.Timer, q, func() bool { return done })
	require.ErrorIs(t, callErr, ErrTimeout)
}
