package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/resp"
)

func registerACL(t *Table) {
	t.Register(&Command{
		Name: "ACL", Arity: -2, Flags: FlagAdmin | FlagSlow,
		Categories: []acl.Category{acl.CategoryAdmin, acl.CategorySlow},
		Handler:    cmdACL,
	})
}

func cmdACL(s *Server, conn *resp.Conn, argv []string) {
	if len(argv) < 2 {
		writeErr(conn, TagSyntax, "wrong number of arguments for 'acl' command")
		return
	}
	switch strings.ToUpper(argv[1]) {
	case "SETUSER":
		aclSetUser(s, conn, argv)
	case "DELUSER":
		aclDelUser(s, conn, argv)
	case "GETUSER":
		aclGetUser(s, conn, argv)
	case "LIST":
		aclList(s, conn, argv)
	case "USERS":
		aclUsers(s, conn, argv)
	case "WHOAMI":
		conn.Writer.BulkString([]byte(conn.Username))
	case "CAT":
		aclCat(s, conn, argv)
	case "LOG":
		aclLog(s, conn, argv)
	case "GENPASS":
		aclGenPass(s, conn, argv)
	case "LOAD":
		aclLoadSave(s, conn, argv, true)
	case "SAVE":
		aclLoadSave(s, conn, argv, false)
	default:
		writeErr(conn, TagErr, "Unknown ACL subcommand or wrong number of arguments for '"+argv[1]+"'")
	}
}

func aclSetUser(s *Server, conn *resp.Conn, argv []string) {
	if len(argv) < 3 {
		writeErr(conn, TagSyntax, "wrong number of arguments")
		return
	}
	name := argv[2]
	if err := s.ACL.SetUser(name, argv[3:]); err != nil {
		writeErr(conn, TagErr, err.Error())
		return
	}
	writeOK(conn)
}

func aclDelUser(s *Server, conn *resp.Conn, argv []string) {
	var n int64
	for _, name := range argv[2:] {
		if s.ACL.DeleteUser(name) {
			n++
		}
	}
	conn.Writer.Integer(n)
}

func aclGetUser(s *Server, conn *resp.Conn, argv []string) {
	if len(argv) != 3 {
		writeErr(conn, TagSyntax, "wrong number of arguments")
		return
	}
	user, ok := s.ACL.User(argv[2])
	if !ok {
		conn.Writer.Null()
		return
	}
	tokens := acl.Describe(user, s.ACL.Registry)
	conn.Writer.Map(1)
	conn.Writer.BulkString([]byte("flags"))
	conn.Writer.Array(len(tokens))
	for _, tok := range tokens {
		conn.Writer.BulkString([]byte(tok))
	}
}

func aclList(s *Server, conn *resp.Conn, argv []string) {
	names := s.ACL.Users()
	conn.Writer.Array(len(names))
	for _, name := range names {
		user, _ := s.ACL.User(name)
		tokens := acl.Describe(user, s.ACL.Registry)
		conn.Writer.BulkString([]byte("user " + name + " " + strings.Join(tokens, " ")))
	}
}

func aclUsers(s *Server, conn *resp.Conn, argv []string) {
	names := s.ACL.Users()
	conn.Writer.Array(len(names))
	for _, name := range names {
		conn.Writer.BulkString([]byte(name))
	}
}

func aclCat(s *Server, conn *resp.Conn, argv []string) {
	cats := []string{"read", "write", "fast", "slow", "admin", "keyspace", "connection", "string", "set", "sortedset", "all"}
	conn.Writer.Array(len(cats))
	for _, c := range cats {
		conn.Writer.BulkString([]byte(c))
	}
}

func aclLog(s *Server, conn *resp.Conn, argv []string) {
	if len(argv) >= 3 && strings.EqualFold(argv[2], "RESET") {
		s.Audit.Reset()
		writeOK(conn)
		return
	}
	entries := s.Audit.Entries()
	conn.Writer.Array(len(entries))
	for _, e := range entries {
		conn.Writer.Map(4)
		conn.Writer.BulkString([]byte("reason"))
		conn.Writer.BulkString([]byte(e.Reason))
		conn.Writer.BulkString([]byte("object"))
		conn.Writer.BulkString([]byte(e.Object))
		conn.Writer.BulkString([]byte("username"))
		conn.Writer.BulkString([]byte(e.Username))
		conn.Writer.BulkString([]byte("count"))
		conn.Writer.Integer(int64(e.Count))
	}
}

func aclGenPass(s *Server, conn *resp.Conn, argv []string) {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	conn.Writer.BulkString([]byte(hex.EncodeToString(buf)))
}

func aclLoadSave(s *Server, conn *resp.Conn, argv []string, load bool) {
	writeErr(conn, TagErr, "ACL LOAD and ACL SAVE are not supported; --acl-filename is only read at startup")
}
