package dispatch

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/resp"
)

func registerMigrate(t *Table) {
	t.Register(&Command{
		Name: "MIGRATE", Arity: -6, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryKeySp, acl.CategorySlow},
		FirstKey:   3, LastKey: 3, KeyStep: 1,
		Handler: cmdMigrate,
	})
	t.Register(&Command{
		Name: "RESTORE", Arity: -4, Flags: FlagWrite | FlagSlow,
		Categories: []acl.Category{acl.CategoryWrite, acl.CategoryKeySp, acl.CategorySlow},
		FirstKey:   1, LastKey: 1, KeyStep: 1,
		Handler: cmdRestore,
	})
	t.Register(&Command{
		Name: "CLIENT", Arity: -2, Flags: FlagFast,
		Categories: []acl.Category{acl.CategoryConn, acl.CategoryFast},
		Handler:    cmdClient,
	})
}

// cmdMigrate implements the deadline-bound hand-off described in
// original_source/src/migrate.c: the key is marked migrating, its value
// is shipped to the destination over a real TCP connection as a RESTORE
// command, and only once that round-trip succeeds is the local copy
// deleted. This dials and blocks the dispatch goroutine directly rather
// than routing through spec.md §5's single long-lived helper
// thread/self-pipe/mutex-guarded queue — that async architecture is not
// implemented; see DESIGN.md's MIGRATE/RESTORE entry for the disclosed
// scope cut.
func cmdMigrate(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	host, port := argv[1], argv[2]
	key := argv[3]
	timeoutMs, err := strconv.ParseInt(argv[5], 10, 64)
	if err != nil || timeoutMs < 0 {
		writeErr(conn, TagErr, "timeout is not an integer or out of range")
		return
	}
	v, ok := db.Get(key, false)
	if !ok {
		conn.Writer.SimpleString("NOKEY")
		return
	}
	if v.Kind != keyspace.KindString {
		writeErr(conn, TagWrongType, "Operation against a key holding the wrong kind of value")
		return
	}

	deadline := s.now() + timeoutMs
	conn.Migrate = &resp.MigrateJob{Keys: []string{key}, Deadline: deadline}
	db.BeginMigration(key)
	defer db.EndMigration(key)

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	if err := sendRestore(net.JoinHostPort(host, port), key, v.Str, timeout); err != nil {
		conn.Migrate = nil
		writeErr(conn, TagIOErr, err.Error())
		return
	}

	db.Delete(key)
	conn.Migrate = nil
	writeOK(conn)
}

// sendRestore dials addr and issues a RESTORE command for key/payload,
// blocking until either a reply line arrives or timeout elapses.
func sendRestore(addr, key string, payload []byte, timeout time.Duration) error {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := nc.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	if _, err := nc.Write(encodeCommand("RESTORE", key, "0", string(payload))); err != nil {
		return err
	}

	line, err := bufio.NewReader(nc).ReadString('\n')
	if err != nil {
		return err
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "-") {
		return errors.New(line[1:])
	}
	return nil
}

// encodeCommand builds the RESP multibulk request frame for argv, the
// same wire shape the server's own Parser decodes client commands from.
func encodeCommand(argv ...string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "*%d\r\n", len(argv))
	for _, a := range argv {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	return b.Bytes()
}

// cmdRestore implements the CPU-bound deserialize-and-install half of the
// migrate/restore pair. The payload format itself (a serialized value
// blob) is out of scope (spec.md's on-disk format Non-goal); this accepts
// the payload as an opaque string value, matching the String kind the
// rest of this implementation materializes swap payloads as.
func cmdRestore(s *Server, conn *resp.Conn, argv []string) {
	db := s.DB(conn.DB)
	key, ttlArg, payload := argv[1], argv[2], argv[3]
	ttlMs, err := strconv.ParseInt(ttlArg, 10, 64)
	if err != nil || ttlMs < 0 {
		writeErr(conn, TagErr, "Invalid TTL value, must be >= 0")
		return
	}
	replace := false
	for _, a := range argv[4:] {
		if strings.EqualFold(a, "REPLACE") {
			replace = true
		}
	}
	if _, exists := db.Get(key, false); exists && !replace {
		writeErr(conn, TagBusyKey, "Target key name already exists.")
		return
	}
	conn.Restore = &resp.RestoreJob{Key: key, Payload: []byte(payload), Deadline: s.now() + 1000}
	db.Set(key, keyspace.NewString([]byte(payload)))
	if ttlMs > 0 {
		db.SetExpire(key, s.now()+ttlMs)
	}
	conn.Restore = nil
	writeOK(conn)
}

func cmdClient(s *Server, conn *resp.Conn, argv []string) {
	switch strings.ToUpper(argv[1]) {
	case "SETNAME":
		if len(argv) != 3 {
			writeErr(conn, TagSyntax, "wrong number of arguments")
			return
		}
		conn.Name = argv[2]
		writeOK(conn)
	case "GETNAME":
		conn.Writer.BulkString([]byte(conn.Name))
	case "ID":
		conn.Writer.Integer(int64(conn.ID))
	case "TRACKING":
		cmdClientTracking(s, conn, argv)
	default:
		writeErr(conn, TagErr, "Unknown CLIENT subcommand or wrong number of arguments for '"+argv[1]+"'")
	}
}

// cmdClientTracking implements CLIENT TRACKING ON/OFF [BCAST] [PREFIX p]
// [NOLOOP] per spec.md §4.8, gating conn.Flags and registering broadcast
// prefixes on s.Tracking.
func cmdClientTracking(s *Server, conn *resp.Conn, argv []string) {
	if len(argv) < 3 {
		writeErr(conn, TagSyntax, "wrong number of arguments")
		return
	}
	switch strings.ToUpper(argv[2]) {
	case "ON":
		conn.SetFlag(resp.FlagTracking)
	case "OFF":
		conn.ClearFlag(resp.FlagTracking)
		conn.ClearFlag(resp.FlagTrackingBcast)
		s.Tracking.UnregisterClient(conn.ID)
		writeOK(conn)
		return
	default:
		writeErr(conn, TagSyntax, "syntax error")
		return
	}
	for i := 3; i < len(argv); i++ {
		switch strings.ToUpper(argv[i]) {
		case "BCAST":
			conn.SetFlag(resp.FlagTrackingBcast)
		case "NOLOOP":
			s.Tracking.SetNoLoop(conn.ID, true)
		case "PREFIX":
			if i+1 < len(argv) {
				i++
				if err := s.Tracking.RegisterPrefix(conn.ID, argv[i]); err != nil {
					writeErr(conn, TagErr, err.Error())
					return
				}
			}
		}
	}
	writeOK(conn)
}
