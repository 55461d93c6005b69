// Package reactor implements the single-threaded event loop described in
// spec.md §4.1: one thread multiplexing file events and time events. The
// multiplexer strategy is pluggable at build time (epoll on Linux, select
// elsewhere) behind the small poller interface below, mirroring how the
// source repo selects an ae_epoll.c/ae_kqueue.c/ae_select.c backend and how
// github.com/joeycumines/go-utilpkg/eventloop picks poller_linux.go vs
// poller_darwin.go per platform.
package reactor

// Mask is a bitset of readiness conditions for a file descriptor.
type Mask uint8

const (
	Readable Mask = 1 << iota
	Writable
)

// FDCallback is invoked with the mask of events that are currently ready.
// It must not block.
type FDCallback func(fd int, ready Mask)

// poller is the minimal multiplexer contract the Loop drives. A conforming
// implementation MUST, per spec.md §4.1:
//   - report read and write readiness for an fd together, in one pass
//   - on hangup or error, report the fd as BOTH readable and writable, so the
//     registered callbacks observe the close by reading/writing zero bytes
type poller interface {
	// init prepares the underlying OS resource (epoll fd, etc).
	init() error
	// close releases the underlying OS resource.
	close() error
	// register begins monitoring fd for the given mask.
	register(fd int, mask Mask) error
	// modify changes the monitored mask for a registered fd.
	modify(fd int, mask Mask) error
	// unregister stops monitoring fd.
	unregister(fd int) error
	// wait blocks for up to timeoutMs (a negative value blocks indefinitely,
	// zero returns immediately) and invokes cb once per ready fd.
	wait(timeoutMs int, cb FDCallback) error
}
