// Package server wires internal/reactor, internal/resp and
// internal/dispatch into a runnable TCP server: one reactor thread
// multiplexing every client socket, per spec.md §4.1/§5's single-threaded
// execution model.
package server

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// fdConn adapts a raw, non-blocking socket fd to net.Conn so it can sit
// behind internal/resp.Conn without that package needing to know sockets
// are reactor-owned rather than runtime-netpoller-owned. Deadlines are
// no-ops: read/write timing is the reactor's job (readiness callbacks),
// not the socket's.
type fdConn struct {
	fd         int
	local, rem net.Addr
}

func newFDConn(fd int, local, rem net.Addr) *fdConn {
	return &fdConn{fd: fd, local: local, rem: rem}
}

func (c *fdConn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, net.ErrClosed
	}
	return n, nil
}

func (c *fdConn) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Write(c.fd, b[total:])
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *fdConn) Close() error                       { return unix.Close(c.fd) }
func (c *fdConn) LocalAddr() net.Addr                { return c.local }
func (c *fdConn) RemoteAddr() net.Addr               { return c.rem }
func (c *fdConn) SetDeadline(t time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(t time.Time) error { return nil }
