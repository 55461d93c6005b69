package dispatch

import (
	"net"
	"testing"

	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/stretchr/testify/require"
)

func TestCmdMigrate_DeletesLocallyOnlyAfterSuccessfulRestore(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []string, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		buf := make([]byte, 4096)
		n, err := nc.Read(buf)
		if err != nil {
			return
		}
		p := resp.NewParser()
		p.Feed(buf[:n])
		argv, _ := p.Next()
		received <- argv
		_, _ = nc.Write([]byte("+OK\r\n"))
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"SET", "k", "v"})
	conn.Writer.Bytes()

	s.Dispatch(conn, []string{"MIGRATE", host, port, "k", "0", "5000"})
	require.Equal(t, "+OK\r\n", string(conn.Writer.Bytes()))

	argv := <-received
	require.Equal(t, []string{"RESTORE", "k", "0", "v"}, argv)

	_, ok := s.DB(0).Get("k", false)
	require.False(t, ok, "key must be deleted locally once the remote RESTORE succeeds")
}

func TestCmdMigrate_KeepsKeyOnDialFailure(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"SET", "k", "v"})
	conn.Writer.Bytes()

	// Nothing listens on this port: the dial fails immediately.
	s.Dispatch(conn, []string{"MIGRATE", "127.0.0.1", "1", "k", "0", "100"})
	require.Contains(t, string(conn.Writer.Bytes()), "-IOERR")

	_, ok := s.DB(0).Get("k", false)
	require.True(t, ok, "a failed migrate must not delete the local key")
}

func TestCmdMigrate_MissingKeyRepliesNokey(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"MIGRATE", "127.0.0.1", "1", "nosuchkey", "0", "100"})
	require.Equal(t, "+NOKEY\r\n", string(conn.Writer.Bytes()))
}
