package resp

import (
	"net"
)

// ConnFlag is a bitmask of per-connection state flags (spec.md §4.2: "a
// flags word" tracking things like CLOSE_AFTER_REPLY, UNIX socket origin,
// and whether the connection is a replica link).
type ConnFlag uint32

const (
	FlagCloseAfterReply ConnFlag = 1 << iota
	FlagMonitor
	FlagReplica
	FlagTracking
	FlagTrackingBcast
)

// MigrateJob and RestoreJob are opaque handles a Connection holds while a
// MIGRATE or RESTORE command runs; the dispatch layer fills these in at
// the start of the command and clears them before the command returns
// (SPEC_FULL.md's migrate/restore deadline handling).
type MigrateJob struct {
	Keys     []string
	Deadline int64 // unix millis
}

type RestoreJob struct {
	Key      string
	Payload  []byte
	Deadline int64
}

// Conn is the per-client connection state (spec.md §4.2): the socket, an
// inbound byte buffer feeding a Parser, an outbound reply queue, the most
// recently parsed argument vector, a flags word, the authenticated user,
// and optional in-flight MIGRATE/RESTORE job pointers.
type Conn struct {
	ID     uint64
	Net    net.Conn
	Proto  ProtoVersion
	Parser *Parser
	Writer *Writer

	Flags ConnFlag

	// Argv is the most recently parsed command, valid until the next
	// call to Parser.Next.
	Argv []string

	// Username identifies the authenticated ACL user; empty before AUTH
	// on a server requiring auth, or "default" otherwise.
	Username string

	DB int // currently SELECTed database index

	Name string // CLIENT SETNAME

	Migrate *MigrateJob
	Restore *RestoreJob

	closed bool
}

// NewConn wraps a net.Conn as a RESP2 connection authenticated as no one
// yet; dispatch assigns Username once AUTH/HELLO succeeds (or immediately,
// for a server running with the default nopass user).
func NewConn(id uint64, nc net.Conn) *Conn {
	return &Conn{
		ID:     id,
		Net:    nc,
		Proto:  RESP2,
		Parser: NewParser(),
		Writer: NewWriter(RESP2),
	}
}

// SetProto negotiates RESP3 (or reverts to RESP2) per HELLO, keeping the
// Writer in sync.
func (c *Conn) SetProto(proto ProtoVersion) {
	c.Proto = proto
	c.Writer.SetProto(proto)
}

// HasFlag reports whether all bits in f are set.
func (c *Conn) HasFlag(f ConnFlag) bool { return c.Flags&f == f }

func (c *Conn) SetFlag(f ConnFlag)   { c.Flags |= f }
func (c *Conn) ClearFlag(f ConnFlag) { c.Flags &^= f }

// Closed reports whether Close has already run, so the reactor's
// completion handling doesn't double-close.
func (c *Conn) Closed() bool { return c.closed }

// Close tears down the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Net.Close()
}

// Flush writes the Writer's accumulated bytes to the socket. The reactor
// calls this after a command's reply (or batch of pipelined replies) has
// been fully encoded, per the writable-event half of spec.md §4.2's
// event loop description.
func (c *Conn) Flush() error {
	b := c.Writer.Bytes()
	if len(b) == 0 {
		return nil
	}
	_, err := c.Net.Write(b)
	return err
}
