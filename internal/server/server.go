package server

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/dispatch"
	"github.com/joeycumines/swapkv/internal/expire"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/logging"
	"github.com/joeycumines/swapkv/internal/notify"
	"github.com/joeycumines/swapkv/internal/reactor"
	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/joeycumines/swapkv/internal/swap"
	"golang.org/x/sys/unix"
)

// broadcastFlushInterval bounds how often CLIENT TRACKING BCAST
// invalidations are flushed to their subscribers. The reactor loop can
// wake far more often than once per this interval under heavy I/O
// completion traffic; without a floor, FlushBroadcastInvalidations would
// fire on every single wake, one push frame per write, defeating the
// point of batching broadcast-mode invalidations by prefix.
const broadcastFlushInterval = 20 * time.Millisecond

var errNotTCP = errors.New("server: listener is not *net.TCPListener")

// Config collects the CLI/config-file-driven knobs cmd/swapkv-server
// exposes, per spec.md §6's flag list.
type Config struct {
	Bind      string
	Port      int
	Databases int

	SwapSlowdownBytes int64
	SwapStopBytes     int64
	ACLFilename       string

	SlowLogSlowerThanMicros int64
	FatLogBiggerThanBytes   int64

	ActiveExpireEffort int
}

// Server owns the reactor loop, the listener, and the per-connection
// bookkeeping needed to drive internal/dispatch.Server from socket bytes.
type Server struct {
	cfg Config
	log *logging.Logger

	Loop     *reactor.Loop
	Dispatch *dispatch.Server

	listenFD int
	conns    map[int]*clientConn

	expireCycle      *expire.Cycle
	broadcastLimiter *catrate.Limiter
}

type clientConn struct {
	fd   int
	conn *resp.Conn
}

// New builds a Server bound to cfg but does not yet listen; call Run to
// start accepting connections and driving the reactor loop.
func New(cfg Config, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}
	loop, err := reactor.New()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:              cfg,
		log:              log,
		Loop:             loop,
		conns:            make(map[int]*clientConn),
		broadcastLimiter: catrate.NewLimiter(map[time.Duration]int{broadcastFlushInterval: 1}),
	}

	budget := swap.NewBudget(cfg.SwapSlowdownBytes, cfg.SwapStopBytes)
	s.Dispatch = dispatch.NewServer(cfg.Databases, budget, func() { _ = loop.Wake() }, nowMs)
	s.Dispatch.SlowerThanMicros = cfg.SlowLogSlowerThanMicros
	s.Dispatch.BiggerThanBytes = cfg.FatLogBiggerThanBytes

	if cfg.ACLFilename != "" {
		if err := s.Dispatch.ACL.Load(cfg.ACLFilename); err != nil {
			log.Err().Field("path", cfg.ACLFilename).Field("error", err.Error()).Log("acl load failed")
		}
	}

	states := make([]*expire.DatabaseState, len(s.Dispatch.Databases))
	for i, db := range s.Dispatch.Databases {
		states[i] = expire.NewDatabaseState(db)
	}
	s.expireCycle = expire.NewCycle(states, 20, cfg.ActiveExpireEffort, false, func(db *keyspace.Database, key string) {
		db.Delete(key)
		s.Dispatch.Broker.Notify(db.ID(), notify.ClassExpired, "expired", key)
	}, nowMs, nowMicro)

	// Drain any swap pipelines whose background I/O completed while the
	// reactor was asleep, waking suspended clients' deferred handlers.
	loop.AfterSleep(func() {
		for _, p := range s.Dispatch.Pipelines {
			p.Drain()
		}
		if _, ok := s.broadcastLimiter.Allow("broadcast-flush"); ok {
			s.Dispatch.FlushBroadcastInvalidations()
		}
		s.flushDirty()
	})

	loop.AddTimer(100*time.Millisecond, func(id uint64, now time.Time) int64 {
		s.expireCycle.Run()
		return 100
	}, nil)

	return s, nil
}

// Run binds the listener and drives the reactor loop until Stop is
// called or an unrecoverable error occurs.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return errNotTCP
	}
	raw, err := tcpLn.SyscallConn()
	if err != nil {
		return err
	}
	_ = raw.Control(func(fd uintptr) {
		s.listenFD = int(fd)
	})

	if err := s.Loop.Register(s.listenFD, reactor.Readable, s.onAcceptable, nil); err != nil {
		return err
	}
	defer s.Loop.Unregister(s.listenFD)

	s.log.Info().Field("addr", addr).Log("listening")
	return s.Loop.Run()
}

// Stop requests the reactor loop terminate after its current pass.
func (s *Server) Stop() { s.Loop.Stop() }

func (s *Server) onAcceptable(fd int, _ reactor.Mask) {
	for {
		cfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		conn := resp.NewConn(uint64(cfd), newFDConn(cfd, nil, nil))
		conn.Username = acl.DefaultUsername
		cc := &clientConn{fd: cfd, conn: conn}
		s.conns[cfd] = cc
		s.Dispatch.RegisterConn(conn)
		if err := s.Loop.Register(cfd, reactor.Readable, s.onReadable, nil); err != nil {
			_ = unix.Close(cfd)
			delete(s.conns, cfd)
			s.Dispatch.UnregisterConn(conn.ID)
		}
	}
}

func (s *Server) onReadable(fd int, _ reactor.Mask) {
	cc, ok := s.conns[fd]
	if !ok {
		return
	}
	buf := make([]byte, 16*1024)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			s.closeConn(cc)
			return
		}
		if n == 0 {
			s.closeConn(cc)
			return
		}
		cc.conn.Parser.Feed(buf[:n])
		if n < len(buf) {
			break
		}
	}

	for {
		argv, err := cc.conn.Parser.Next()
		if err == resp.ErrIncomplete {
			break
		}
		if err == resp.ErrProtocol {
			cc.conn.Writer.Error(dispatch.TagErr, "Protocol error")
			s.flush(cc)
			s.closeConn(cc)
			return
		}
		if len(argv) > 0 {
			s.Dispatch.Dispatch(cc.conn, argv)
			s.flushDirty()
		}
	}
	s.flush(cc)

	if cc.conn.HasFlag(resp.FlagCloseAfterReply) {
		s.closeConn(cc)
	}
}

func (s *Server) flush(cc *clientConn) {
	if err := cc.conn.Flush(); err != nil {
		s.closeConn(cc)
	}
}

// flushDirty writes out any invalidation pushes Dispatch queued onto
// connections other than the one it was just serving (spec.md §4.8:
// an invalidation can address any tracked client, not just the writer).
func (s *Server) flushDirty() {
	for _, conn := range s.Dispatch.DirtyConns() {
		if err := conn.Flush(); err != nil {
			if cc, ok := s.conns[int(conn.ID)]; ok {
				s.closeConn(cc)
			}
		}
	}
}

func (s *Server) closeConn(cc *clientConn) {
	_ = s.Loop.Unregister(cc.fd)
	_ = cc.conn.Close()
	s.Dispatch.UnregisterConn(cc.conn.ID)
	delete(s.conns, cc.fd)
}

func nowMs() int64    { return time.Now().UnixMilli() }
func nowMicro() int64 { return time.Now().UnixMicro() }
