package dispatch

import (
	"net"
	"testing"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/joeycumines/swapkv/internal/swap"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *resp.Conn) {
	t.Helper()
	budget := swap.NewBudget(1<<20, 1<<21)
	s := NewServer(2, budget, func() {}, func() int64 { return 1000 })
	c1, c2 := net.Pipe()
	t.Cleanup(func() { _ = c1.Close(); _ = c2.Close() })
	conn := resp.NewConn(1, c1)
	conn.Username = acl.DefaultUsername
	return s, conn
}

func TestDispatch_SetThenGet(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"SET", "foo", "bar"})
	require.Equal(t, "+OK\r\n", string(conn.Writer.Bytes()))

	s.Dispatch(conn, []string{"GET", "foo"})
	require.Equal(t, "$3\r\nbar\r\n", string(conn.Writer.Bytes()))
}

func TestDispatch_GetMissingKeyIsNull(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"GET", "nope"})
	require.Equal(t, "$-1\r\n", string(conn.Writer.Bytes()))
}

func TestDispatch_UnknownCommand(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"NOTACOMMAND"})
	require.Contains(t, string(conn.Writer.Bytes()), "-ERR")
}

func TestDispatch_WrongArity(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"GET"})
	require.Contains(t, string(conn.Writer.Bytes()), "-SYNTAX")
}

func TestDispatch_DelAndExists(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"SET", "k", "v"})
	conn.Writer.Bytes()

	s.Dispatch(conn, []string{"EXISTS", "k", "missing"})
	require.Equal(t, ":1\r\n", string(conn.Writer.Bytes()))

	s.Dispatch(conn, []string{"DEL", "k"})
	require.Equal(t, ":1\r\n", string(conn.Writer.Bytes()))

	s.Dispatch(conn, []string{"EXISTS", "k"})
	require.Equal(t, ":0\r\n", string(conn.Writer.Bytes()))
}

func TestDispatch_ExpireAndTTL(t *testing.T) {
	s, conn := newTestServer(t)
	s.Dispatch(conn, []string{"SET", "k", "v"})
	conn.Writer.Bytes()

	s.Dispatch(conn, []string{"PEXPIRE", "k", "5000"})
	require.Equal(t, ":1\r\n", string(conn.Writer.Bytes()))

	s.Dispatch(conn, []string{"PTTL", "k"})
	require.Equal(t, ":5000\r\n", string(conn.Writer.Bytes()))
}

func TestDispatch_ACLDeniesUnauthorizedCommand(t *testing.T) {
	s, conn := newTestServer(t)
	require.NoError(t, s.ACL.SetUser("limited", []string{"on", "nopass", "+get", "~*"}))
	conn.Username = "limited"

	s.Dispatch(conn, []string{"SET", "k", "v"})
	require.Contains(t, string(conn.Writer.Bytes()), "-NOPERM")

	s.Dispatch(conn, []string{"GET", "k"})
	require.Equal(t, "$-1\r\n", string(conn.Writer.Bytes()))
}

func TestDispatch_SwapSuspendsAndResumesOnEvictedKey(t *testing.T) {
	woken := make(chan struct{}, 16)
	budget := swap.NewBudget(1<<20, 1<<21)
	s := NewServer(1, budget, func() { woken <- struct{}{} }, func() int64 { return 1000 })
	c1, c2 := net.Pipe()
	t.Cleanup(func() { _ = c1.Close(); _ = c2.Close() })
	conn := resp.NewConn(1, c1)
	conn.Username = acl.DefaultUsername

	db := s.DB(0)
	db.SetShell("cold", &keyspace.Shell{Kind: keyspace.KindString})

	s.Dispatch(conn, []string{"GET", "cold"})
	// GET on an evicted key has no reply yet: the client is suspended
	// behind the swap pipeline's background I/O.
	require.Empty(t, conn.Writer.Bytes())

	for i := 0; i < 100 && s.Pipeline(0).Blocking(); i++ {
		<-woken
		s.Pipeline(0).Drain()
	}
	require.False(t, s.Pipeline(0).Blocking())
	// The backend has no entry for "cold", so the GET resolves to an
	// IOERR rather than a value.
	require.Contains(t, string(conn.Writer.Bytes()), "-IOERR")
}

// TestDispatch_ClientTrackingInvalidatesOtherConnection exercises spec.md
// §8 scenario 6: C1 enables tracking and reads k, C2 writes k, and C1
// receives exactly one `>2 / "invalidate" / ["k"]` push on its own Writer
// even though C1 never issued another command.
func TestDispatch_ClientTrackingInvalidatesOtherConnection(t *testing.T) {
	budget := swap.NewBudget(1<<20, 1<<21)
	s := NewServer(1, budget, func() {}, func() int64 { return 1000 })

	c1a, c1b := net.Pipe()
	t.Cleanup(func() { _ = c1a.Close(); _ = c1b.Close() })
	conn1 := resp.NewConn(1, c1a)
	conn1.Username = acl.DefaultUsername
	conn1.SetProto(resp.RESP3)
	s.RegisterConn(conn1)

	c2a, c2b := net.Pipe()
	t.Cleanup(func() { _ = c2a.Close(); _ = c2b.Close() })
	conn2 := resp.NewConn(2, c2a)
	conn2.Username = acl.DefaultUsername
	s.RegisterConn(conn2)

	s.Dispatch(conn1, []string{"CLIENT", "TRACKING", "ON"})
	require.Equal(t, "+OK\r\n", string(conn1.Writer.Bytes()))

	s.Dispatch(conn1, []string{"GET", "k"})
	require.Equal(t, "_\r\n", string(conn1.Writer.Bytes()))

	s.Dispatch(conn2, []string{"SET", "k", "v"})
	require.Equal(t, "+OK\r\n", string(conn2.Writer.Bytes()))

	require.Equal(t, ">2\r\n$10\r\ninvalidate\r\n*1\r\n$1\r\nk\r\n", string(conn1.Writer.Bytes()))

	dirty := s.DirtyConns()
	require.Len(t, dirty, 1)
	require.Equal(t, uint64(1), dirty[0].ID)
	require.Empty(t, s.DirtyConns(), "DirtyConns must drain on read")
}

// TestDispatch_ClientTrackingBcastFlushesByPrefix exercises broadcast-mode
// tracking: a client subscribes to a prefix instead of reading individual
// keys, and FlushBroadcastInvalidations (run by internal/server at most
// once per 20ms) delivers the accumulated invalidation.
func TestDispatch_ClientTrackingBcastFlushesByPrefix(t *testing.T) {
	budget := swap.NewBudget(1<<20, 1<<21)
	s := NewServer(1, budget, func() {}, func() int64 { return 1000 })

	c1a, c1b := net.Pipe()
	t.Cleanup(func() { _ = c1a.Close(); _ = c1b.Close() })
	conn1 := resp.NewConn(1, c1a)
	conn1.Username = acl.DefaultUsername
	conn1.SetProto(resp.RESP3)
	s.RegisterConn(conn1)

	c2a, c2b := net.Pipe()
	t.Cleanup(func() { _ = c2a.Close(); _ = c2b.Close() })
	conn2 := resp.NewConn(2, c2a)
	conn2.Username = acl.DefaultUsername
	s.RegisterConn(conn2)

	s.Dispatch(conn1, []string{"CLIENT", "TRACKING", "ON", "BCAST", "PREFIX", "cache:"})
	require.Equal(t, "+OK\r\n", string(conn1.Writer.Bytes()))

	s.Dispatch(conn2, []string{"SET", "cache:1", "v"})
	conn2.Writer.Bytes()
	// Standard-mode push already happened per write; broadcast mode only
	// queues until the next flush.
	require.Empty(t, conn1.Writer.Bytes())

	s.FlushBroadcastInvalidations()
	require.Equal(t, ">2\r\n$10\r\ninvalidate\r\n*1\r\n$7\r\ncache:1\r\n", string(conn1.Writer.Bytes()))
}

func TestDispatch_ScanRoundTrip(t *testing.T) {
	s, conn := newTestServer(t)
	for _, k := range []string{"a", "b", "c"} {
		s.Dispatch(conn, []string{"SET", k, "v"})
		conn.Writer.Bytes()
	}
	seen := map[string]bool{}
	cursor := "0"
	for {
		s.Dispatch(conn, []string{"SCAN", cursor})
		out := string(conn.Writer.Bytes())
		require.NotEmpty(t, out)
		cursor = extractScanCursorAndKeys(out, seen)
		if cursor == "0" {
			break
		}
	}
	require.True(t, seen["a"] && seen["b"] && seen["c"])
}

// extractScanCursorAndKeys is a minimal RESP reader just for this test's
// own SCAN reply shape (*2\r\n$len\r\ncursor\r\n*n\r\n($len\r\nkey\r\n)*).
func extractScanCursorAndKeys(raw string, seen map[string]bool) string {
	p := resp.NewParser()
	p.Feed([]byte(raw))
	// The reply itself isn't a request frame, so hand-parse the bulk
	// strings in order instead of reusing Parser.
	fields := splitBulkStrings(raw)
	if len(fields) == 0 {
		return "0"
	}
	cursor := fields[0]
	for _, k := range fields[1:] {
		seen[k] = true
	}
	return cursor
}

func splitBulkStrings(raw string) []string {
	var out []string
	i := 0
	for i < len(raw) {
		if raw[i] != '$' {
			i++
			continue
		}
		j := i + 1
		for j < len(raw) && raw[j] != '\r' {
			j++
		}
		n := 0
		for _, c := range raw[i+1 : j] {
			n = n*10 + int(c-'0')
		}
		start := j + 2
		out = append(out, raw[start:start+n])
		i = start + n + 2
	}
	return out
}
