package dispatch

import (
	"strings"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/joeycumines/swapkv/internal/swap"
)

// Dispatch runs the six-step pipeline of spec.md §4.3 for one parsed
// argv on conn. It never blocks: if the command's swap intents require
// background I/O, the client is suspended (no reply is written yet) and
// the swap pipeline's ClientCompletion callback (see suspend) later runs
// the handler and after-call hooks, which write the reply.
func (s *Server) Dispatch(conn *resp.Conn, argv []string) {
	if len(argv) == 0 {
		return
	}
	name := strings.ToLower(argv[0])

	// Step 1: resolve.
	cmd, ok := s.Table.Lookup(name)
	if !ok {
		writeErr(conn, TagErr, "unknown command '"+argv[0]+"'")
		return
	}

	// Step 2: arity.
	if !cmd.checkArity(len(argv)) {
		writeErr(conn, TagSyntax, "wrong number of arguments for '"+name+"' command")
		return
	}

	// Step 3: ACL check.
	if cmd.Flags&FlagNoAuth == 0 {
		user, ok := s.ACL.User(conn.Username)
		if !ok {
			writeErr(conn, TagNoAuth, "Authentication required.")
			return
		}
		sub := ""
		if len(argv) > 1 {
			sub = argv[1]
		}
		keys := cmd.keysFor(argv)
		if err := user.Check(s.ACL.Registry, name, sub, keys); err != nil {
			s.recordDenial(conn, err)
			if ce, ok2 := err.(*acl.CheckError); ok2 && ce.Reason == acl.DenyAuth {
				writeErr(conn, TagNoAuth, "Authentication required.")
			} else {
				writeErr(conn, TagNoPerm, err.Error())
			}
			return
		}
	}

	db := s.DB(conn.DB)
	if db == nil {
		writeErr(conn, TagErr, "DB index is out of range")
		return
	}

	// Step 4: swap analysis. Commands without a GetSwaps hook always
	// operate on already-materialized state (spec.md §4.3 step 4 is a
	// no-op for them) and proceed straight to the handler.
	if cmd.GetSwaps != nil {
		intents := cmd.GetSwaps(argv)
		if len(intents) == 1 {
			pipeline := s.Pipeline(conn.DB)
			action := swap.Analyze(intents[0], db)
			if action != swap.ActionNop {
				s.suspend(conn, cmd, argv, pipeline, intents[0])
				return
			}
		}
	}

	// Step 5 + 6: invoke handler synchronously, then after-call hooks.
	s.invoke(conn, cmd, argv)
}

// suspend submits intent to the pipeline and arranges for the handler to
// run (and the reply to be written) once the background I/O completes,
// per spec.md §4.5's state machine and §5's "suspension points" rule.
func (s *Server) suspend(conn *resp.Conn, cmd *Command, argv []string, pipeline *swap.Pipeline, intent swap.Intent) {
	db := s.DB(conn.DB)
	client := &swap.Client{Intent: intent}
	client.DataCompletion = func(action swap.Action, value []byte, err error) {
		if err != nil {
			return
		}
		materialize(db, intent.Key, action, value)
	}
	client.ClientCompletion = func(err error) {
		if err != nil {
			writeErr(conn, TagIOErr, err.Error())
			return
		}
		s.invoke(conn, cmd, argv)
	}
	pipeline.Submit(client)
}

// materialize applies a completed swap action's effect to the keyspace,
// per spec.md §4.5's transition rule: a GET moves the cold payload back
// into dict as a live Value; a PUT installs a shell tombstone in its
// place; a DEL removes the key from both maps entirely.
func materialize(db *keyspace.Database, key string, action swap.Action, value []byte) {
	switch action {
	case swap.ActionGet:
		db.Set(key, keyspace.NewString(value))
	case swap.ActionPut:
		db.SetShell(key, &keyspace.Shell{Kind: keyspace.KindString})
	case swap.ActionDel:
		db.Delete(key)
	}
}

// invoke runs the command handler (step 5) and the after-call hooks
// (step 6): slow-log sampling. The fat log is not sampled here (reply
// size is not measured), and the reply is not flushed here. The handler
// itself is responsible for writing its reply through conn.Writer.
func (s *Server) invoke(conn *resp.Conn, cmd *Command, argv []string) {
	start := s.now()
	cmd.Handler(s, conn, argv)
	elapsed := (s.now() - start) * 1000 // ms clock, microsecond units

	if s.SlowLog != nil && elapsed >= s.SlowerThanMicros {
		s.SlowLog.Push(start/1000, elapsed, argv, conn.Name, conn.Name)
	}
}

func (s *Server) now() int64 {
	if s.NowMs != nil {
		return s.NowMs()
	}
	return 0
}

func (s *Server) recordDenial(conn *resp.Conn, err error) {
	if s.Audit == nil {
		return
	}
	ce, ok := err.(*acl.CheckError)
	if !ok {
		return
	}
	s.Audit.Record(ce.Reason, "toplevel", ce.Object, conn.Username, s.now())
}
