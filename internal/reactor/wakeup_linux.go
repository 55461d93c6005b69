//go:build linux

package reactor

import "golang.org/x/sys/unix"

// newWakeupFDPair creates a single eventfd used as both ends of a wakeup
// signal, as eventloop.createWakeFd does on Linux.
func newWakeupFDPair() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func writeWakeup(fd int) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(fd, buf[:])
	return err
}

func drainWakeup(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

func closeWakeupFDPair(readFD, writeFD int) {
	_ = unix.Close(readFD)
}
