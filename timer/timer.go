// Package timer implements the monotonic-deadline timer queue from
// spec.md §4.3, directly modeled on gaio's own timedHeap
// (_examples/socket515-gaio/watcher.go) and the C original
// (original_source/Source/Timer.c): a container/heap min-heap of
// Timeout records keyed by millisecond deadline, with "infinite"
// (cancellation-only, never fires) timeouts representable.
package timer

import (
	"container/heap"
	"time"

	"github.com/oxbow-systems/fiberio/asyncqueue"
)

// Infinite, passed as delayMs to SetTimeout, registers a Timeout that
// never fires on its own (useful purely so it can be cancelled later).
const Infinite = -1

// Callback is invoked (via the async queue) when a Timeout fires.
type Callback func(token any)

// Handle identifies a registered Timeout, usable with ClearTimeout. The
// zero Handle is not valid; Valid reports whether SetTimeout produced
// this one.
type Handle struct {
	t *timeoutEntry
}

// Valid reports whether h came from SetTimeout (as opposed to being a
// zero Handle that was never armed).
func (h Handle) Valid() bool { return h.t != nil }

type timeoutEntry struct {
	deadline int64 // milliseconds on the Timer's clock; infiniteDeadline means "infinite"
	token    any
	cb       Callback
	index    int // heap index, maintained by container/heap
	removed  bool
}

const infiniteDeadline = int64(1) << 62

// Timer keeps the min-heap of pending Timeout records for one engine.
// Not safe for concurrent use; the event loop is the only caller
// (spec.md §5 "Shared-resource policy": Timer is main-thread-only).
type Timer struct {
	heap timeoutHeap
	now  func() int64 // injected for tests; defaults to monotonic milliseconds
}

// New creates an empty Timer using the real monotonic clock.
func New() *Timer {
	return &Timer{now: nowMs}
}

// NewWithClock creates a Timer whose notion of "now" is provided by the
// given function, for deterministic tests.
func NewWithClock(now func() int64) *Timer {
	return &Timer{now: now}
}

// clockStart anchors nowMs; time.Since reads Go's monotonic clock, so
// deadlines are unaffected by wall-clock adjustments.
var clockStart = time.Now()

func nowMs() int64 {
	return time.Since(clockStart).Milliseconds()
}

// SetTimeout registers a Timeout due `delayMs` from now (or Infinite for
// a cancellation-only entry) and returns a handle for ClearTimeout.
func (t *Timer) SetTimeout(delayMs int, token any, cb Callback) Handle {
	var deadline int64
	if delayMs < 0 {
		deadline = infiniteDeadline
	} else {
		deadline = t.now() + int64(delayMs)
	}
	e := &timeoutEntry{deadline: deadline, token: token, cb: cb}
	heap.Push(&t.heap, e)
	return Handle{t: e}
}

// ClearTimeout removes a previously registered Timeout. A no-op if it
// already fired or was already cleared.
func (t *Timer) ClearTimeout(h Handle) {
	e := h.t
	if e == nil || e.removed || e.index < 0 {
		return
	}
	heap.Remove(&t.heap, e.index)
	e.removed = true
}

// CalculateWaitTime returns the milliseconds until the next finite
// deadline, 0 if one is already due, or -1 if the heap is empty or only
// holds infinite entries (spec.md §4.3).
func (t *Timer) CalculateWaitTime() int {
	if len(t.heap) == 0 {
		return -1
	}
	top := t.heap[0]
	if top.deadline >= infiniteDeadline {
		return -1
	}
	remaining := top.deadline - t.now()
	if remaining <= 0 {
		return 0
	}
	return int(remaining)
}

// Tick removes every expired Timeout from the heap and appends its
// (callback, token) pair to q, in heap-extraction order (ties among
// equal deadlines are unordered, per spec.md §4.3).
func (t *Timer) Tick(q *asyncqueue.Queue) {
	now := t.now()
	for len(t.heap) > 0 {
		top := t.heap[0]
		if top.deadline > now {
			return
		}
		heap.Pop(&t.heap)
		top.removed = true
		token, cb := top.token, top.cb
		q.Push(func() { cb(token) })
	}
}

// Len reports the number of live (unfired, uncleared) timeouts.
func (t *Timer) Len() int { return len(t.heap) }

// timeoutHeap implements container/heap.Interface over *timeoutEntry,
// ordered by ascending deadline -- the direct Go translation of
// original_source/Source/Timer.c's TimeoutHeapNode_Compare.
type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int           { return len(h) }
func (h timeoutHeap) Less(i, j int) bool { return h[i].deadline < h[j].deadline }
func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timeoutHeap) Push(x any) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
