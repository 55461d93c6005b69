package dispatch

import (
	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/notify"
	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/joeycumines/swapkv/internal/slowlog"
	"github.com/joeycumines/swapkv/internal/swap"
)

// Server owns everything a Dispatch call needs: the per-database
// keyspaces and swap pipelines, the ACL store, notification broker and
// tracking table, and the slow/fat logs. It is the single-threaded
// executor's world state (spec.md §5: "owned exclusively by the reactor").
type Server struct {
	Databases []*keyspace.Database
	Pipelines []*swap.Pipeline
	Budget    *swap.Budget

	ACL   *acl.Store
	Audit *acl.AuditLog

	Broker   *notify.Broker
	Tracking *notify.Tracking

	// conns indexes live connections by client ID, so an invalidation push
	// (spec.md §4.8) can reach a connection other than the one whose write
	// triggered it. Populated/depopulated by internal/server as sockets
	// accept/close; read and written only from the reactor's own thread,
	// same as the rest of Server's state.
	conns map[uint64]*resp.Conn

	// dirty holds connections (other than the one currently being served)
	// that received a push this cycle and so need an out-of-band socket
	// flush; drained by DirtyConns.
	dirty map[uint64]*resp.Conn

	SlowLog *slowlog.Log
	FatLog  *slowlog.Log

	Table *Table

	// SlowerThanMicros gates slow-log sampling (spec.md §4.9's thresholds,
	// surfaced via the CLI flags in §6). BiggerThanBytes is stored but
	// not consulted: no code path records FatLog entries.
	SlowerThanMicros int64
	BiggerThanBytes  int64

	// NowMs returns the current wall clock in unix millis; injectable
	// for deterministic tests, following internal/expire's convention.
	NowMs func() int64
}

// NewServer wires a Server with numDB databases, an in-memory swap
// backend, and the built-in command table registered against a fresh ACL
// registry.
func NewServer(numDB int, budget *swap.Budget, wake func(), nowMs func() int64) *Server {
	s := &Server{
		Budget:           budget,
		ACL:              nil,
		Audit:            acl.NewAuditLog(128),
		Broker:           notify.NewBroker(notify.ClassAll | notify.ClassKeyspace | notify.ClassKeyevent),
		Tracking:         notify.NewTracking(1024),
		conns:            make(map[uint64]*resp.Conn),
		dirty:            make(map[uint64]*resp.Conn),
		SlowLog:          slowlog.NewLog(128),
		FatLog:           slowlog.NewLog(128),
		SlowerThanMicros: 10000,
		BiggerThanBytes:  8192,
		NowMs:            nowMs,
	}
	for i := 0; i < numDB; i++ {
		db := keyspace.NewDatabase(i)
		s.Databases = append(s.Databases, db)
		s.Pipelines = append(s.Pipelines, swap.NewPipeline(db, swap.NewMemoryBackend(), budget, wake))
	}

	// The command table must populate the ACL registry's first-seen
	// command IDs before NewStore snapshots @all's bitmap for the
	// bootstrap `default` user — otherwise default would start with an
	// empty command set.
	reg := acl.NewRegistry()
	s.Table = NewTable()
	registerBuiltins(s.Table)
	for _, name := range s.Table.Names() {
		cmd, _ := s.Table.Lookup(name)
		reg.Register(cmd.Name, cmd.Categories...)
	}
	s.ACL = acl.NewStore(reg)
	return s
}

// DB returns the database for index idx, or nil if out of range.
func (s *Server) DB(idx int) *keyspace.Database {
	if idx < 0 || idx >= len(s.Databases) {
		return nil
	}
	return s.Databases[idx]
}

// Pipeline returns the swap pipeline for database index idx.
func (s *Server) Pipeline(idx int) *swap.Pipeline {
	if idx < 0 || idx >= len(s.Pipelines) {
		return nil
	}
	return s.Pipelines[idx]
}

func writeErr(conn *resp.Conn, tag, msg string) { conn.Writer.Error(tag, msg) }
func writeOK(conn *resp.Conn)                   { conn.Writer.SimpleString("OK") }

// RegisterConn makes conn a valid invalidation-push target under its own
// ID. Call once a socket is accepted, before any command referencing its
// ID (e.g. CLIENT TRACKING) can run.
func (s *Server) RegisterConn(conn *resp.Conn) {
	s.conns[conn.ID] = conn
}

// UnregisterConn drops conn's tracking registrations and its eligibility
// as a push target. Call on socket close.
func (s *Server) UnregisterConn(id uint64) {
	delete(s.conns, id)
	delete(s.dirty, id)
	s.Tracking.UnregisterClient(id)
}

// DirtyConns drains and returns the set of connections (other than
// whichever one is currently being served) that received a push this
// cycle and so need their socket flushed out of band.
func (s *Server) DirtyConns() []*resp.Conn {
	if len(s.dirty) == 0 {
		return nil
	}
	out := make([]*resp.Conn, 0, len(s.dirty))
	for _, c := range s.dirty {
		out = append(out, c)
	}
	s.dirty = make(map[uint64]*resp.Conn)
	return out
}

// pushInvalidations delivers each invalidation to its addressed
// connection's Writer, as a RESP3 push frame (`>2 / "invalidate" /
// keys`, spec.md §4.8's scenario 6). origin is the connection whose
// write triggered this batch; its own flush is already handled by the
// caller's normal reply path, so it's excluded from the dirty set.
func (s *Server) pushInvalidations(origin uint64, invs []notify.Invalidation) {
	for _, inv := range invs {
		target, ok := s.conns[inv.ClientID]
		if !ok {
			continue
		}
		target.Writer.Push(2)
		target.Writer.BulkString([]byte("invalidate"))
		target.Writer.Array(len(inv.Keys))
		for _, k := range inv.Keys {
			target.Writer.BulkString([]byte(k))
		}
		if target.ID != origin {
			s.dirty[target.ID] = target
		}
	}
}

// FlushBroadcastInvalidations delivers every broadcast-mode (CLIENT
// TRACKING ON BCAST) invalidation accumulated since the last call.
// internal/server calls it from the reactor's after-sleep hook at most
// once per broadcastFlushInterval (20ms), not on every loop iteration.
func (s *Server) FlushBroadcastInvalidations() {
	s.pushInvalidations(0, s.Tracking.FlushBroadcast(0))
}
