package ioadapter

import "runtime"

// FD wraps a raw descriptor with a finalizer that releases it if the
// caller lets the wrapper become unreachable without calling Release,
// adapted from gaio's watcher.go (its net.Conn finalizer + gcNotify
// channel, reattached to pcb.conn once dupconn succeeds). Go runs
// finalizers on their own goroutine, concurrently with whatever fiber
// or the event loop itself is doing, so the finalizer must not touch
// Poller/Context state directly -- reactor.Poller is documented as
// loop-goroutine-only and unsynchronized. gaio's own finalizer has the
// same restriction, which is exactly why it only appends to a
// mutex-guarded gc slice and pings gcNotify rather than releasing
// anything itself; the real release happens back on watcher.loop() via
// the gcNotify case. This wrapper gets the same effect by posting the
// close through the worker pool: the closure handed to Pool.Post runs
// on a worker goroutine, but its done callback -- the one that actually
// calls Context.Close -- only runs from Pool.Drain, which is wired as
// a reactor watch callback and so only ever fires on the event loop
// goroutine.
type FD struct {
	ctx *Context
	fd  int
}

// WrapFD returns an FD that closes fd via c.Close when garbage
// collected, unless Release is called first. Use for descriptors whose
// owner may drop the last reference without an explicit Close --
// exactly spec.md's "Close first invokes ClearWatches" contract,
// extended to cover the case the caller never calls it at all.
func (c *Context) WrapFD(fd int) *FD {
	h := &FD{ctx: c, fd: fd}
	runtime.SetFinalizer(h, func(h *FD) {
		h.ctx.Pool.Post(func() {}, func() {
			h.ctx.Close(h.fd)
		})
	})
	return h
}

// Fd returns the underlying descriptor.
func (h *FD) Fd() int { return h.fd }

// Release detaches the finalizer without closing fd, for callers who
// are about to close it explicitly (or hand it off elsewhere).
func (h *FD) Release() int {
	runtime.SetFinalizer(h, nil)
	return h.fd
}

// Close cancels the finalizer and closes fd immediately.
func (h *FD) Close() error {
	runtime.SetFinalizer(h, nil)
	return h.ctx.Close(h.fd)
}
