package dispatch

import (
	"strconv"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/notify"
	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/joeycumines/swapkv/internal/swap"
)

func registerGeneric(t *Table) {
	t.Register(&Command{Name: "PING", Arity: -1, Flags: FlagFast | FlagNoAuth, Handler: cmdPing})
	t.Register(&Command{Name: "AUTH", Arity: -2, Flags: FlagFast | FlagNoAuth, Handler: cmdAuth})
	t.Register(&Command{Name: "HELLO", Arity: -1, Flags: FlagFast | FlagNoAuth, Handler: cmdHello})
	t.Register(&Command{Name: "SELECT", Arity: 2, Flags: FlagFast, Handler: cmdSelect})

	t.Register(&Command{
		Name: "GET", Arity: 2, Flags: FlagRead | FlagFast,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryString, acl.CategoryFast},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler:  cmdGet,
		GetSwaps: func(argv []string) []swap.Intent { return []swap.Intent{{Key: argv[1], Op: swap.OpRead}} },
	})
	t.Register(&Command{
		Name: "SET", Arity: -3, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryString, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler:  cmdSet,
		GetSwaps: func(argv []string) []swap.Intent { return []swap.Intent{{Key: argv[1], Op: swap.OpWrite}} },
	})
	t.Register(&Command{
		Name: "DEL", Arity: -2, Flags: FlagWrite,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryKeySp},
		FirstKey:   1, LastKey: -1, KeyStep: 1,
		Handler: cmdDel,
	})
	t.Register(&Command{
		Name: "UNLINK", Arity: -2, Flags: FlagWrite,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryKeySp},
		FirstKey:   1, LastKey: -1, KeyStep: 1,
		Handler: cmdDel,
	})
	t.Register(&Command{
		Name: "EXISTS", Arity: -2, Flags: FlagRead | FlagFast,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryKeySp, acl.CategoryFast},
		FirstKey:   1, LastKey: -1, KeyStep: 1,
		Handler: cmdExists,
	})
	t.Register(&Command{
		Name: "TYPE", Arity: 2, Flags: FlagRead | FlagFast,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryKeySp, acl.CategoryFast},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdType,
	})
	for _, name := range []string{"EXPIRE", "PEXPIRE", "EXPIREAT", "PEXPIREAT"} {
		name := name
		t.Register(&Command{
			Name: name, Arity: 3, Flags: FlagWrite | FlagFast,
			Categories: []acl.Category{acl.CategoryWrite, acl.CategoryKeySp, acl.CategoryFast},
			FirstKey:   1, LastKey: 1, KeyStep: 1,
			Handler: cmdExpireFamily(name),
		})
	}
	t.Register(&Command{
		Name: "TTL", Arity: 2, Flags: FlagRead | FlagFast,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryKeySp, acl.CategoryFast},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdTTL(false),
	})
	t.Register(&Command{
		Name: "PTTL", Arity: 2, Flags: FlagRead | FlagFast,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryKeySp, acl.CategoryFast},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdTTL(true),
	})
	t.Register(&Command{
		Name: "SCAN", Arity: -2, Flags: FlagRead | FlagSlow,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryKeySp, acl.CategorySlow},
		Handler:    cmdScan,
	})
	t.Register(&Command{
		Name: "FLUSHDB", Arity: -1, Flags: FlagWrite | FlagAdmin,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryAdmin, acl.CategoryKeySp},
		Handler:    cmdFlushDB,
	})
	t.Register(&Command{
		Name: "FLUSHALL", Arity: -1, Flags: FlagWrite | FlagAdmin,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryAdmin, acl.CategoryKeySp},
		Handler:    cmdFlushAll,
	})
	t.Register(&Command{
		Name: "DBSIZE", Arity: 1, Flags: FlagRead | FlagFast,
		Categories: []acl.Category{acl.CategoryRead, acl.CategoryKeySp, acl.CategoryFast},
		Handler:    cmdDBSize,
	})
}

func cmdPing(s *Server, conn *resp.Conn, argv []string) {
	if len(argv) > 1 {
		conn.Writer.BulkString([]byte(argv[1]))
		return
	}
	conn.Writer.SimpleString("PONG")
}

func cmdAuth(s *Server, conn *resp.Conn, argv []string) {
	var username, password string
	switch len(argv) {
	case 2:
		username, password = acl.DefaultUsername, argv[1]
	case 3:
		username, password = argv[1], argv[2]
	default:
		writeErr(conn, TagSyntax, "wrong number of arguments for 'auth' command")
		return
	}
	user, ok := s.ACL.User(username)
	if !ok || !user.Enabled || !user.CheckPassword(password) {
		writeErr(conn, TagWrongPass, "invalid username-password pair or user is disabled.")
		return
	}
	conn.Username = username
	writeOK(conn)
}

func cmdHello(s *Server, conn *resp.Conn, argv []string) {
	if len(argv) >= 2 {
		switch argv[1] {
		case "2":
			conn.SetProto(resp.RESP2)
		case "3":
			conn.SetProto(resp.RESP3)
		default:
			writeErr(conn, TagErr, "NOPROTO unsupported protocol version")
			return
		}
	}
	conn.Writer.Map(3)
	conn.Writer.BulkString([]byte("proto"))
	conn.Writer.Integer(int64(conn.Proto))
	conn.Writer.BulkString([]byte("role"))
	conn.Writer.BulkString([]byte("master"))
	conn.Writer.BulkString([]byte("modules"))
	conn.Writer.Array(0)
}

func cmdSelect(s *Server, conn *resp.Conn, argv []string) {
	idx, err := strconv.Atoi(argv[1])
	if err != nil || s.DB(idx) == nil {
		writeErr(conn, TagErr, "DB index is out of range")
		return
	}
	conn.DB = idx
	writeOK(conn)
}

func cmdGet(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	if conn.HasFlag(resp.FlagTracking) && !conn.HasFlag(resp.FlagTrackingBcast) {
		// Standard-mode tracking: register read interest so a later write
		// to this key invalidates this connection's client-side cache
		// (spec.md §4.8). Broadcast-mode clients are covered instead by
		// their registered prefixes, not per-key reads.
		s.Tracking.Read(conn.ID, argv[1])
	}
	v, ok := db.Get(argv[1], true)
	if !ok {
		conn.Writer.Null()
		return
	}
	if v.Kind != keyspace.KindString {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}
	conn.Writer.BulkString(v.Str)
}

func cmdSet(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	key, val := argv[1], argv[2]
	db.Set(key, keyspace.NewString([]byte(val)))
	s.Broker.Notify(conn.DB, notifyClassFor(keyspace.KindString), "set", key)
	s.invalidate(conn, key)
	writeOK(conn)
}

func cmdDel(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	var n int64
	for _, key := range argv[1:] {
		if db.Delete(key) {
			n++
			s.Broker.Notify(conn.DB, notify.ClassGeneric, "del", key)
			s.invalidate(conn, key)
		}
	}
	conn.Writer.Integer(n)
}

func cmdExists(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	var n int64
	for _, key := range argv[1:] {
		if _, ok := db.Get(key, false); ok {
			n++
			continue
		}
		if _, ok := db.IsEvicted(key); ok {
			n++
		}
	}
	conn.Writer.Integer(n)
}

func cmdType(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	if v, ok := db.Get(argv[1], false); ok {
		conn.Writer.SimpleString(v.Kind.String())
		return
	}
	if sh, ok := db.IsEvicted(argv[1]); ok {
		conn.Writer.SimpleString(sh.Kind.String())
		return
	}
	conn.Writer.SimpleString("none")
}

func cmdExpireFamily(name string) HandlerFunc {
	return func(s *Server, conn *resp.Conn, argv []string) {
		db := s.DB(conn.DB)
		key := argv[1]
		n, err := strconv.ParseInt(argv[2], 10, 64)
		if err != nil {
			writeErr(conn, TagErr, "value is not an integer or out of range")
			return
		}
		if _, okDict := db.Get(key, false); !okDict {
			if _, okEvict := db.IsEvicted(key); !okEvict {
				conn.Writer.Integer(0)
				return
			}
		}
		whenMs := expireWhenMs(name, n, s.now())
		db.SetExpire(key, whenMs)
		conn.Writer.Integer(1)
	}
}

func expireWhenMs(name string, n int64, nowMs int64) int64 {
	switch name {
	case "EXPIRE":
		return nowMs + n*1000
	case "PEXPIRE":
		return nowMs + n
	case "EXPIREAT":
		return n * 1000
	case "PEXPIREAT":
		return n
	default:
		return nowMs
	}
}

func cmdTTL(millis bool) HandlerFunc {
	return func(s *Server, conn *resp.Conn, argv []string) {
		db := s.DB(conn.DB)
		key := argv[1]
		_, inDict := db.Get(key, false)
		_, inEvict := db.IsEvicted(key)
		if !inDict && !inEvict {
			conn.Writer.Integer(-2)
			return
		}
		when, ok := db.GetExpire(key)
		if !ok {
			conn.Writer.Integer(-1)
			return
		}
		remain := when - s.now()
		if remain < 0 {
			remain = 0
		}
		if !millis {
			remain /= 1000
		}
		conn.Writer.Integer(remain)
	}
}

func cmdScan(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	cursor, err := strconv.ParseUint(argv[1], 10, 64)
	if err != nil {
		writeErr(conn, TagErr, "invalid cursor")
		return
	}
	pattern := ""
	count := 10
	for i := 2; i < len(argv)-1; i++ {
		switch argv[i] {
		case "MATCH", "match":
			pattern = argv[i+1]
		case "COUNT", "count":
			if c, e := strconv.Atoi(argv[i+1]); e == nil {
				count = c
			}
		}
	}
	next, keys := db.Scan(cursor, pattern, count)
	conn.Writer.Array(2)
	conn.Writer.BulkString([]byte(strconv.FormatUint(next, 10)))
	conn.Writer.Array(len(keys))
	for _, k := range keys {
		conn.Writer.BulkString([]byte(k))
	}
}

func cmdFlushDB(s *Server, conn *resp.Conn, argv []string) {
	s.DB(conn.DB).Flush()
	writeOK(conn)
}

func cmdFlushAll(s *Server, conn *resp.Conn, argv []string) {
	for _, db := range s.Databases {
		db.Flush()
	}
	writeOK(conn)
}

func cmdDBSize(s *Server, conn *resp.Conn, argv []string) {
	conn.Writer.Integer(int64(s.DB(conn.DB).Size()))
}

func notifyClassFor(k keyspace.Kind) notify.Class {
	switch k {
	case keyspace.KindString:
		return notify.ClassString
	case keyspace.KindList:
		return notify.ClassList
	case keyspace.KindSet:
		return notify.ClassSet
	case keyspace.KindSortedSet:
		return notify.ClassZSet
	case keyspace.KindHash:
		return notify.ClassHash
	default:
		return notify.ClassGeneric
	}
}

func (s *Server) invalidate(conn *resp.Conn, key string) {
	s.pushInvalidations(conn.ID, s.Tracking.Write(conn.ID, key))
}
