//go:build linux

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// EpollReactor is a reference Reactor implementation backed by epoll(7).
// It is deliberately minimal: one epoll instance, a map from fd to the
// currently-armed callbacks, and a Run loop the caller drives explicitly
// (there is no background goroutine — consistent with spec.md §5's "no
// internal threads" model, the caller's own main loop calls Run).
type EpollReactor struct {
	epfd int

	mu    sync.Mutex
	conns map[int]*regState
}

type regState struct {
	connect func(error)
	read    func()
	write   func()
}

// NewEpollReactor creates an epoll instance.
func NewEpollReactor() (*EpollReactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &EpollReactor{epfd: fd, conns: make(map[int]*regState)}, nil
}

func (r *EpollReactor) state(fd int) *regState {
	s, ok := r.conns[fd]
	if !ok {
		s = &regState{}
		r.conns[fd] = s
	}
	return s
}

func (r *EpollReactor) eventMask(s *regState) uint32 {
	var mask uint32
	if s.connect != nil {
		mask |= unix.EPOLLOUT
	}
	if s.read != nil {
		mask |= unix.EPOLLIN
	}
	if s.write != nil {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (r *EpollReactor) rearm(fd int, s *regState, firstReg bool) error {
	ev := unix.EpollEvent{Events: r.eventMask(s), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if firstReg {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	return nil
}

// RegisterConnect implements Reactor.
func (r *EpollReactor) RegisterConnect(fd int, onReady func(err error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.conns[fd]
	s := r.state(fd)
	s.connect = onReady
	return r.rearm(fd, s, !existed)
}

// RegisterRead implements Reactor.
func (r *EpollReactor) RegisterRead(fd int, onReadable func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.conns[fd]
	s := r.state(fd)
	s.read = onReadable
	return r.rearm(fd, s, !existed)
}

// RegisterWrite implements Reactor.
func (r *EpollReactor) RegisterWrite(fd int, onWritable func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.conns[fd]
	s := r.state(fd)
	s.write = onWritable
	return r.rearm(fd, s, !existed)
}

// UnregisterConnect implements Reactor.
func (r *EpollReactor) UnregisterConnect(fd int) error {
	return r.clear(fd, func(s *regState) { s.connect = nil })
}

// UnregisterRead implements Reactor.
func (r *EpollReactor) UnregisterRead(fd int) error {
	return r.clear(fd, func(s *regState) { s.read = nil })
}

// UnregisterWrite implements Reactor.
func (r *EpollReactor) UnregisterWrite(fd int) error {
	return r.clear(fd, func(s *regState) { s.write = nil })
}

func (r *EpollReactor) clear(fd int, mutate func(*regState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.conns[fd]
	if !ok {
		return nil
	}
	mutate(s)
	if s.connect == nil && s.read == nil && s.write == nil {
		delete(r.conns, fd)
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			// close(2) already drops fd from the epoll set, so a caller
			// unregistering after closing the fd hits this; treat it as
			// already-unregistered rather than a real error.
			if err == unix.EBADF || err == unix.ENOENT {
				return nil
			}
			return err
		}
		return nil
	}
	return r.rearm(fd, s, false)
}

// Forget drops any bookkeeping for fd without touching the kernel epoll
// set, for use after the fd itself has already been closed (closing a fd
// implicitly removes it from every epoll set it was added to).
func (r *EpollReactor) Forget(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, fd)
}

// Run waits for readiness events and dispatches them, blocking up to
// timeoutMillis (negative blocks indefinitely). Call it in a loop from the
// application's own driving goroutine.
func (r *EpollReactor) Run(timeoutMillis int) error {
	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		mask := events[i].Events

		r.mu.Lock()
		s, ok := r.conns[fd]
		r.mu.Unlock()
		if !ok {
			continue
		}

		if s.connect != nil && mask&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			cb := s.connect
			errno, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			var connErr error
			if serr != nil {
				connErr = serr
			} else if errno != 0 {
				connErr = unix.Errno(errno)
			}
			_ = r.UnregisterConnect(fd)
			cb(connErr)
			continue
		}
		if s.read != nil && mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			s.read()
		}
		if s.write != nil && mask&unix.EPOLLOUT != 0 {
			s.write()
		}
	}
	return nil
}

// Close releases the epoll instance.
func (r *EpollReactor) Close() error {
	return unix.Close(r.epfd)
}
