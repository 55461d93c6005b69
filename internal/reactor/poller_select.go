//go:build !linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// selectPoller is the portable fallback multiplexer, used on every non-Linux
// GOOS. It mirrors the role original_source/src/ae_select.c plays as the
// last-resort backend in the original ae.c strategy table: correct but O(n)
// in the number of registered fds per wait call, which is acceptable given
// this repo targets a small number of client connections per process.
type selectPoller struct {
	mu     sync.Mutex
	masks  map[int]Mask
	maxFD  int
}

func newPoller() poller { return &selectPoller{masks: make(map[int]Mask)} }

func (p *selectPoller) init() error  { return nil }
func (p *selectPoller) close() error { return nil }

func (p *selectPoller) register(fd int, mask Mask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.masks[fd]; ok {
		return ErrFDRegistered
	}
	p.masks[fd] = mask
	if fd > p.maxFD {
		p.maxFD = fd
	}
	return nil
}

func (p *selectPoller) modify(fd int, mask Mask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.masks[fd]; !ok {
		return ErrFDNotRegistered
	}
	p.masks[fd] = mask
	return nil
}

func (p *selectPoller) unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.masks[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.masks, fd)
	return nil
}

func (p *selectPoller) wait(timeoutMs int, cb FDCallback) error {
	p.mu.Lock()
	readSet := &unix.FdSet{}
	writeSet := &unix.FdSet{}
	errSet := &unix.FdSet{}
	nfds := 0
	for fd, mask := range p.masks {
		if mask&Readable != 0 {
			fdSet(readSet, fd)
		}
		if mask&Writable != 0 {
			fdSet(writeSet, fd)
		}
		fdSet(errSet, fd)
		if fd+1 > nfds {
			nfds = fd + 1
		}
	}
	p.mu.Unlock()

	if nfds == 0 {
		if timeoutMs > 0 {
			time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		}
		return nil
	}

	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * int64(time.Millisecond))
		tv = &t
	}

	n, err := unix.Select(nfds, readSet, writeSet, errSet, tv)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n <= 0 {
		return nil
	}

	p.mu.Lock()
	fds := make([]int, 0, len(p.masks))
	for fd := range p.masks {
		fds = append(fds, fd)
	}
	p.mu.Unlock()

	for _, fd := range fds {
		var ready Mask
		if fdIsSet(errSet, fd) {
			ready = Readable | Writable
		} else {
			if fdIsSet(readSet, fd) {
				ready |= Readable
			}
			if fdIsSet(writeSet, fd) {
				ready |= Writable
			}
		}
		if ready != 0 {
			cb(fd, ready)
		}
	}
	return nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
