package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/oxbow-systems/fiberio/asyncqueue"
	"github.com/stretchr/testify/require"
)

func TestPollerReadable(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var q asyncqueue.Queue
	var fired bool
	_, err = p.SetWatch(int(r.Fd()), Readable, nil, func(any) { fired = true })
	require.NoError(t, err)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, p.Tick(1000, &q))
	q.Drain()
	require.True(t, fired)
}

func TestPollerTimeout(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	var q asyncqueue.Queue
	start := time.Now()
	require.NoError(t, p.Tick(50, &q))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.Equal(t, 0, q.Len())
}

func TestClearWatchStopsFurtherEvents(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var q asyncqueue.Queue
	calls := 0
	watch, err := p.SetWatch(int(r.Fd()), Readable, nil, func(any) { calls++ })
	require.NoError(t, err)
	p.ClearWatch(watch)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Tick(50, &q))
	q.Drain()
	require.Equal(t, 0, calls)
}

func TestClearWatchesRemovesFd(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	_, err = p.SetWatch(int(r.Fd()), Readable, nil, func(any) {})
	require.NoError(t, err)
	p.ClearWatches(int(r.Fd()))
	r.Close()

	var q asyncqueue.Queue
	require.NoError(t, p.Tick(10, &q))
}
