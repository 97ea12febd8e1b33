package syncprim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oxbow-systems/fiberio/fiber"
)

func TestMailboxRendezvous(t *testing.T) {
	sched := fiber.New()
	mb := NewMailbox(sched)

	var got string
	var writerDone bool

	_, err := sched.AddFiber(func(f *fiber.Fiber, arg any) {
		mail := mb.GetMail()
		got = mail.Message.(string)
		mail.Delete()
	}, nil)
	require.NoError(t, err)

	_, err = sched.AddFiber(func(f *fiber.Fiber, arg any) {
		mb.PutMail("hello")
		writerDone = true
	}, nil)
	require.NoError(t, err)

	for i := 0; i < 10 && !writerDone; i++ {
		sched.Tick()
	}

	require.Equal(t, "hello", got)
	require.True(t, writerDone)
}

func TestMailboxTryGetMailWithoutWriter(t *testing.T) {
	sched := fiber.New()
	mb := NewMailbox(sched)

	var ok bool
	_, err := sched.AddFiber(func(f *fiber.Fiber, arg any) {
		_, ok = mb.TryGetMail()
	}, nil)
	require.NoError(t, err)
	sched.Tick()
	require.False(t, ok)
}

func TestEventBroadcastsToAllWaiters(t *testing.T) {
	sched := fiber.New()
	ev := NewEvent(sched)

	woken := 0
	for i := 0; i < 3; i++ {
		_, err := sched.AddFiber(func(f *fiber.Fiber, arg any) {
			ev.WaitFor()
			woken++
		}, nil)
		require.NoError(t, err)
	}

	var triggered bool
	_, err := sched.AddFiber(func(f *fiber.Fiber, arg any) {
		ev.Trigger()
		triggered = true
	}, nil)
	require.NoError(t, err)

	for i := 0; i < 10 && (woken < 3 || !triggered); i++ {
		sched.Tick()
	}

	require.True(t, triggered)
	require.Equal(t, 3, woken)
}

func TestSemaphoreBoundedHandoff(t *testing.T) {
	sched := fiber.New()
	sem, err := NewSemaphore(sched, 0, 0, 1)
	require.NoError(t, err)

	var order []string
	_, err = sched.AddFiber(func(f *fiber.Fiber, arg any) {
		sem.Down()
		order = append(order, "consumer-got")
	}, nil)
	require.NoError(t, err)

	_, err = sched.AddFiber(func(f *fiber.Fiber, arg any) {
		order = append(order, "producer-before")
		sem.Up()
		order = append(order, "producer-after")
	}, nil)
	require.NoError(t, err)

	for i := 0; i < 10 && len(order) < 3; i++ {
		sched.Tick()
	}

	require.Equal(t, []string{"producer-before", "producer-after", "consumer-got"}, order)
	require.Equal(t, 0, sem.Value())
}

func TestSemaphoreInvalidBounds(t *testing.T) {
	sched := fiber.New()
	_, err := NewSemaphore(sched, 5, 0, 1)
	require.ErrorIs(t, err, ErrSemaphoreBounds)
}
