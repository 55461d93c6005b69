package slowlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLog_TrimsToMaxLenAfterEveryInsertion(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 10; i++ {
		l.Push(int64(i), int64(i*1000), []string{"GET", "k"}, "127.0.0.1:1", "")
		require.LessOrEqual(t, l.Len(), 3)
	}
	require.Equal(t, 3, l.Len())
	// Newest first.
	require.EqualValues(t, 9, l.Entries()[0].ID)
}

func TestLog_TruncatesArgvCount(t *testing.T) {
	l := NewLog(10)
	argv := make([]string, 40)
	for i := range argv {
		argv[i] = "x"
	}
	e := l.Push(0, 0, argv, "", "")
	require.Len(t, e.Argv, maxArgs+1)
	require.Contains(t, e.Argv[maxArgs], "more arguments")
}

func TestLog_TruncatesArgLength(t *testing.T) {
	l := NewLog(10)
	long := strings.Repeat("a", 200)
	e := l.Push(0, 0, []string{long}, "", "")
	require.Len(t, e.Argv, 1)
	require.Contains(t, e.Argv[0], "more bytes")
	require.True(t, len(e.Argv[0]) < len(long))
}

func TestLog_Reset(t *testing.T) {
	l := NewLog(10)
	l.Push(0, 0, nil, "", "")
	l.Reset()
	require.Zero(t, l.Len())
}
