// Package asyncqueue implements the scratch dispatch queue from
// spec.md §4.6: an append-only-within-a-half-tick sequence of callbacks,
// drained fully before the reactor or timer are re-entered. This exists
// so callbacks that resume fibers -- which may themselves call
// SetWatch/ClearWatch/SetTimeout -- never run while the poller or timer
// still hold iterators into their own structures, which would corrupt
// them (original_source/Source/Async.c's Async_AddCall/DispatchCalls).
package asyncqueue

// Queue is a FIFO of zero-argument thunks. Callers close over whatever
// token/callback pair they need; this keeps asyncqueue itself generic
// over the reactor's (IOWatch) and timer's (Timeout) payloads without
// an interface{} token plus separate callback field.
type Queue struct {
	entries []func()
}

// Push appends a callback to run on the next Drain.
func (q *Queue) Push(cb func()) {
	q.entries = append(q.entries, cb)
}

// Len reports the number of pending callbacks.
func (q *Queue) Len() int { return len(q.entries) }

// Drain invokes and removes every pending callback, in insertion order
// (spec.md §5 ordering guarantee (b)), capturing the batch up front so
// it is safe for a callback to Push more work for the *next* Drain
// without growing the slice being iterated right now.
func (q *Queue) Drain() {
	entries := q.entries
	q.entries = nil
	for _, cb := range entries {
		cb()
	}
}
