//go:build linux

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// maxDirectFDs bounds the direct-indexed fd table, as in eventloop's
// FastPoller (maxFDs = 65536): cheap O(1) lookup without a map, at the cost
// of a fixed-size table.
const maxDirectFDs = 65536

// epollPoller is the Linux multiplexer backend, modeled closely on
// eventloop.FastPoller (poller_linux.go in the teacher module): a plain
// epoll fd, a preallocated event buffer, and direct fd-indexed bookkeeping
// guarded by a single mutex (register/unregister are rare compared to wait).
type epollPoller struct {
	epfd     int
	mu       sync.Mutex
	masks    [maxDirectFDs]Mask
	active   [maxDirectFDs]bool
	eventBuf [1024]unix.EpollEvent
}

func newPoller() poller { return &epollPoller{} }

func (p *epollPoller) init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = fd
	return nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

func maskToEpoll(m Mask) uint32 {
	var e uint32
	if m&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if m&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *epollPoller) register(fd int, mask Mask) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if p.active[fd] {
		p.mu.Unlock()
		return ErrFDRegistered
	}
	p.active[fd] = true
	p.masks[fd] = mask
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: maskToEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.mu.Lock()
		p.active[fd] = false
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) modify(fd int, mask Mask) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if !p.active[fd] {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	p.masks[fd] = mask
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: maskToEpoll(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) unregister(fd int) error {
	if fd < 0 || fd >= maxDirectFDs {
		return ErrFDOutOfRange
	}
	p.mu.Lock()
	if !p.active[fd] {
		p.mu.Unlock()
		return ErrFDNotRegistered
	}
	p.active[fd] = false
	p.mu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeoutMs int, cb FDCallback) error {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Fd)

		// Hangup/error: report BOTH readable and writable so handlers observe
		// the close on whichever callback they actually registered, per
		// spec.md §4.1 step 2.
		var ready Mask
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ready = Readable | Writable
		} else {
			if ev.Events&unix.EPOLLIN != 0 {
				ready |= Readable
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				ready |= Writable
			}
		}
		if ready != 0 {
			cb(fd, ready)
		}
	}
	return nil
}
