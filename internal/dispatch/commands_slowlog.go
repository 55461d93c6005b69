package dispatch

import (
	"strconv"
	"strings"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/joeycumines/swapkv/internal/slowlog"
)

func registerSlowLog(t *Table) {
	t.Register(&Command{
		Name: "SLOWLOG", Arity: -2, Flags: FlagAdmin | FlagSlow,
		Categories: []acl.Category{acl.CategoryAdmin, acl.CategorySlow},
		Handler:    logSubcommand(func(s *Server) *slowlog.Log { return s.SlowLog }),
	})
	t.Register(&Command{
		Name: "FATLOG", Arity: -2, Flags: FlagAdmin | FlagSlow,
		Categories: []acl.Category{acl.CategoryAdmin, acl.CategorySlow},
		Handler:    logSubcommand(func(s *Server) *slowlog.Log { return s.FatLog }),
	})
}

func logSubcommand(pick func(s *Server) *slowlog.Log) HandlerFunc {
	return func(s *Server, conn *resp.Conn, argv []string) {
		log := pick(s)
		switch strings.ToUpper(argv[1]) {
		case "LEN":
			conn.Writer.Integer(int64(log.Len()))
		case "RESET":
			log.Reset()
			writeOK(conn)
		case "HELP":
			conn.Writer.Array(1)
			conn.Writer.BulkString([]byte("GET|LEN|RESET|HELP"))
		case "GET":
			n := -1
			if len(argv) > 2 {
				if v, err := strconv.Atoi(argv[2]); err == nil {
					n = v
				}
			}
			entries := log.Entries()
			if n >= 0 && n < len(entries) {
				entries = entries[:n]
			}
			conn.Writer.Array(len(entries))
			for _, e := range entries {
				conn.Writer.Array(6)
				conn.Writer.Integer(e.ID)
				conn.Writer.Integer(e.WallTime)
				conn.Writer.Integer(e.Stat)
				conn.Writer.Array(len(e.Argv))
				for _, a := range e.Argv {
					conn.Writer.BulkString([]byte(a))
				}
				conn.Writer.BulkString([]byte(e.PeerID))
				conn.Writer.BulkString([]byte(e.ClientName))
			}
		default:
			writeErr(conn, TagErr, "Unknown subcommand or wrong number of arguments for '"+argv[1]+"'")
		}
	}
}
