package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/oxbow-systems/fiberio/asyncqueue"
	"github.com/oxbow-systems/fiberio/reactor"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	log := logrus.New()
	log.SetOutput(noopWriter{})
	p, err := New(log)
	require.NoError(t, err)
	p.Start(context.Background())
	t.Cleanup(func() {
		require.NoError(t, p.Stop())
		require.NoError(t, p.Close())
	})
	return p
}

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

func TestPoolRunsWorkAndCallsDone(t *testing.T) {
	p := newTestPool(t)
	poller, err := reactor.New()
	require.NoError(t, err)
	defer poller.Close()

	var q asyncqueue.Queue
	_, err = poller.SetWatch(p.ReadFd(), reactor.Readable, nil, p.Drain)
	require.NoError(t, err)

	var mu sync.Mutex
	result := 0
	doneCalled := false // set by the done callback, which runs on this goroutine via q.Drain
	p.Post(func() {
		mu.Lock()
		result = 42
		mu.Unlock()
	}, func() {
		doneCalled = true
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, poller.Tick(50, &q))
		q.Drain()
		mu.Lock()
		got := result
		mu.Unlock()
		if got == 42 && doneCalled {
			break
		}
	}
	mu.Lock()
	require.Equal(t, 42, result)
	mu.Unlock()
	require.True(t, doneCalled)
}

func TestPoolMultiplePosts(t *testing.T) {
	p := newTestPool(t)
	poller, err := reactor.New()
	require.NoError(t, err)
	defer poller.Close()

	var q asyncqueue.Queue
	_, err = poller.SetWatch(p.ReadFd(), reactor.Readable, nil, p.Drain)
	require.NoError(t, err)

	const n = 20
	var mu sync.Mutex
	completed := 0
	for i := 0; i < n; i++ {
		p.Post(func() {}, func() {
			mu.Lock()
			completed++
			mu.Unlock()
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, poller.Tick(50, &q))
		q.Drain()
		mu.Lock()
		done := completed == n
		mu.Unlock()
		if done {
			break
		}
	}
	mu.Lock()
	require.Equal(t, n, completed)
	mu.Unlock()
}
