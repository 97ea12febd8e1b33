//go:build linux

package reactor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Kernel-facing epoll event masks, expressed in this package's own
// vocabulary so poller.go never imports golang.org/x/sys/unix directly.
const (
	maskReadable    = uint32(unix.EPOLLIN)
	maskWritable    = uint32(unix.EPOLLOUT)
	maskErrorHangup = uint32(unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP)
)

var errEINTR = unix.EINTR

const maxEpollEvents = 256

// epollBackend is the real epoll_create1/epoll_ctl/epoll_wait backend,
// grounded on
// _examples/other_examples/58db0d5d_joeycumines-go-utilpkg__eventloop-internal-alternatethree-poller_linux.go.go's
// use of golang.org/x/sys/unix, and on gaio's watcher.go which wraps the
// same three syscalls for its own epoll-based backend
// (_examples/socket515-gaio/watcher.go).
type epollBackend struct {
	epfd   int
	byFd   map[int]*ioEvent
	events []unix.EpollEvent
}

func newEpollBackend() (pollerBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{
		epfd:   fd,
		byFd:   make(map[int]*ioEvent),
		events: make([]unix.EpollEvent, maxEpollEvents),
	}, nil
}

func (b *epollBackend) add(ev *ioEvent, mask uint32) error {
	fd := ev.fd
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: mask, Fd: int32(fd)}); err != nil {
		return err
	}
	b.byFd[fd] = ev
	return nil
}

func (b *epollBackend) modify(ev *ioEvent, mask uint32) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, ev.fd, &unix.EpollEvent{Events: mask, Fd: int32(ev.fd)})
}

func (b *epollBackend) del(fd int) error {
	delete(b.byFd, fd)
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (b *epollBackend) wait(timeoutMs int) ([]readyEvent, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, errEINTR
		}
		return nil, err
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(b.events[i].Fd)
		ev := b.byFd[fd]
		out = append(out, readyEvent{fd: fd, event: ev, mask: b.events[i].Events})
	}
	return out, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}
