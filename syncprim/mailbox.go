// Package syncprim implements the scheduler-coordination primitives of
// spec.md §4.8: Mailbox (unbuffered rendezvous with an explicit
// consume-acknowledgment step), Event (broadcast one-shot wakeup), and
// Semaphore (bounded counter with speculative resume/unresume at the
// bound). All three are ported directly from
// original_source/Source/{Mailbox,Event,Semaphore}.c, with the C
// originals' intrusive prev-linked LIFO stacks and List.h FIFO queues
// replaced by fibercontainer.Stack/Queue per spec.md §9.
package syncprim

import (
	"github.com/oxbow-systems/fiberio/fiber"
	"github.com/oxbow-systems/fiberio/fibercontainer"
)

// mailboxWriter is a fiber blocked inside PutMail, still holding its
// message until a reader claims and then deletes it.
type mailboxWriter struct {
	fiber *fiber.Fiber
	mail  Mail
}

// mailboxReader is a fiber blocked inside GetMail, waiting for a
// PutMail to hand it a Mail directly.
type mailboxReader struct {
	fiber *fiber.Fiber
	mail  *Mail
}

// Mail is a message handed from a writer to a reader. The reader must
// call Delete once it is done with the message, which is what lets the
// writer's PutMail return (original_source/Source/Mailbox.c's
// Mail_Delete).
type Mail struct {
	Message any
	sched   *fiber.Scheduler
	writer  *mailboxWriter
}

// Delete releases the writer blocked on the PutMail that produced m.
func (m *Mail) Delete() {
	m.sched.ResumeFiber(m.writer.fiber)
}

// Mailbox is an unbuffered rendezvous channel between fiber producers
// and consumers, with LIFO waiter ordering on both sides (matching the
// C original's stack-of-pending-writers / stack-of-pending-readers).
type Mailbox struct {
	sched   *fiber.Scheduler
	readers fibercontainer.Stack[*mailboxReader]
	writers fibercontainer.Stack[*mailboxWriter]
}

// NewMailbox creates an empty Mailbox bound to sched.
func NewMailbox(sched *fiber.Scheduler) *Mailbox {
	return &Mailbox{sched: sched}
}

// PutMail hands message to a waiting reader (if any) or parks it for
// the next GetMail, then blocks the calling fiber until the recipient
// calls Mail.Delete on it.
func (mb *Mailbox) PutMail(message any) {
	cur := mb.sched.Current()
	w := &mailboxWriter{fiber: cur}
	w.mail = Mail{Message: message, sched: mb.sched, writer: w}

	if reader, ok := mb.readers.Pop(); ok {
		reader.mail = &w.mail
		mb.sched.ResumeFiber(reader.fiber)
	} else {
		mb.writers.Push(w)
	}
	mb.sched.SuspendCurrentFiber()
}

// GetMail returns the next available mail, blocking the calling fiber
// until a PutMail arrives if none is queued yet. The caller must call
// Mail.Delete on the result once done with it.
func (mb *Mailbox) GetMail() *Mail {
	if w, ok := mb.writers.Pop(); ok {
		return &w.mail
	}

	cur := mb.sched.Current()
	r := &mailboxReader{fiber: cur}
	mb.readers.Push(r)
	mb.sched.SuspendCurrentFiber()
	return r.mail
}

// TryGetMail returns the next available mail without blocking; ok is
// false if no writer is currently waiting.
func (mb *Mailbox) TryGetMail() (mail *Mail, ok bool) {
	w, found := mb.writers.Pop()
	if !found {
		return nil, false
	}
	return &w.mail, true
}
