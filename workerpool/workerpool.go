// Package workerpool runs blocking operations (DNS resolution, and any
// other syscall spec.md §4.4/§6 marks as worker-pool-only) on a fixed
// set of OS threads, handing completions back to the single event-loop
// goroutine through a self-pipe registered with the reactor as a
// Readable watch -- exactly original_source/Source/ThreadPool.c's
// design, with pthread_create/pthread_join replaced by
// golang.org/x/sync/errgroup and the mutex+cond work list kept as-is
// (Go's sync.Cond is the direct idiomatic analogue of pthread_cond_t).
package workerpool

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// NumWorkers is the fixed worker thread count, matching the C
// original's __NUMBER_OF_WORKERS compile-time constant.
const NumWorkers = 4

// work is one posted unit: run executes off the event-loop goroutine;
// done is invoked back on the event-loop goroutine once run returns.
type work struct {
	run  func()
	done func()
}

// Pool is a fixed-size worker pool whose completions are delivered via
// a self-pipe the caller registers with a reactor.Poller.
type Pool struct {
	log *logrus.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*work
	stopping bool

	completed chan *work
	readFile  *os.File
	writeFile *os.File
	readFd    int
	writeFd   int

	group       *errgroup.Group
	cancelGroup context.CancelFunc
}

// New creates a self-piped Pool, ready for Start. The returned read
// fd must be registered with a reactor.Poller under Readable, with
// Drain as the callback (spec.md §4.4).
func New(log *logrus.Logger) (*Pool, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	// Fd() is called exactly once per file here, and the resulting ints
	// are cached below rather than re-derived later: os.File.Fd()
	// documents that it puts the descriptor back into blocking mode
	// every time it's called (historically Fd() always returned a
	// blocking descriptor), which would silently undo SetNonblock on
	// every later call and reopen the drainPipeBytes deadlock this
	// self-pipe depends on SetNonblock to avoid.
	readFd := int(r.Fd())
	writeFd := int(w.Fd())
	if err := unix.SetNonblock(readFd, true); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	if err := unix.SetNonblock(writeFd, true); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	p := &Pool{
		log:       log,
		completed: make(chan *work, 4096),
		readFile:  r,
		writeFile: w,
		readFd:    readFd,
		writeFd:   writeFd,
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// ReadFd returns the fd to register with reactor.Poller.SetWatch.
func (p *Pool) ReadFd() int { return p.readFd }

// Start launches the fixed worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	g, _ := errgroup.WithContext(gctx)
	p.group = g
	p.cancelGroup = cancel

	for i := 0; i < NumWorkers; i++ {
		g.Go(func() error {
			p.workerLoop()
			return nil
		})
	}
}

// Stop signals every worker to exit once the queue drains, and blocks
// until all worker goroutines have returned.
func (p *Pool) Stop() error {
	p.mu.Lock()
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()

	err := p.group.Wait()
	p.cancelGroup()
	return err
}

// Post submits fn to run on a worker goroutine; once it returns, done
// is invoked from the event-loop goroutine the next time Drain runs
// (spec.md §4.4: "callback always runs on the main thread").
func (p *Pool) Post(fn func(), done func()) {
	w := &work{run: fn, done: done}
	p.mu.Lock()
	wasEmpty := len(p.queue) == 0
	p.queue = append(p.queue, w)
	if wasEmpty {
		p.cond.Signal()
	}
	p.mu.Unlock()
}

func (p *Pool) workerLoop() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.stopping {
			p.mu.Unlock()
			return
		}
		w := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		w.run()
		p.completed <- w
		p.wake()
	}
}

// wake writes a single byte to the self-pipe, retrying on EAGAIN --
// the pipe buffer only needs one pending byte outstanding at a time to
// guarantee the reactor wakes (original_source/Source/ThreadPool.c's
// WorkerCallback drains every queued wake-up byte at once).
func (p *Pool) wake() {
	var buf [1]byte
	for {
		_, err := unix.Write(p.writeFd, buf[:])
		if err == nil {
			return
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		p.log.WithError(err).Warn("workerpool: self-pipe write failed")
		return
	}
}

// Drain is the reactor.Watch callback for the self-pipe's read end: it
// runs every completed work item's done callback on the event-loop
// goroutine, then discards the pipe's wake-up bytes.
func (p *Pool) Drain(token any) {
	for {
		select {
		case w := <-p.completed:
			w.done()
		default:
			p.drainPipeBytes()
			return
		}
	}
}

// drainPipeBytes discards every wake-up byte currently queued on the
// self-pipe's read end. It must call unix.Read on the raw fd rather
// than p.readFile.Read: os.File.Read goes through internal/poll, which
// parks the calling goroutine until more data arrives instead of
// returning EAGAIN once the pipe is empty -- fine for a file meant to
// be read in its own goroutine, fatal here since Drain runs
// synchronously on the single event-loop goroutine and would block it
// forever waiting for a byte that isn't coming.
func (p *Pool) drainPipeBytes() {
	var buf [4096]byte
	for {
		n, err := unix.Read(p.readFd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if n <= 0 {
			return
		}
	}
}

// Close releases the self-pipe fds. Call only after Stop.
func (p *Pool) Close() error {
	werr := p.writeFile.Close()
	rerr := p.readFile.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
