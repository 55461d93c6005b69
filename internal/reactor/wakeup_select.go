//go:build !linux

package reactor

import "golang.org/x/sys/unix"

// newWakeupFDPair creates a pipe(2) pair for platforms without eventfd, as
// the self-pipe trick spec.md §5 describes for the helper thread.
func newWakeupFDPair() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func writeWakeup(fd int) error {
	_, err := unix.Write(fd, []byte{1})
	return err
}

func drainWakeup(fd int) {
	var buf [256]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

func closeWakeupFDPair(readFD, writeFD int) {
	_ = unix.Close(readFD)
	_ = unix.Close(writeFD)
}
