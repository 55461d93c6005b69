package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroker_PublishesBothChannels(t *testing.T) {
	b := NewBroker(ClassAll | ClassKeyspace | ClassKeyevent)

	var keyspaceMsg, keyeventMsg string
	b.Subscribe("__keyspace@0__:foo", 1, func(channel, payload string) { keyspaceMsg = payload })
	b.Subscribe("__keyevent@0__:set", 1, func(channel, payload string) { keyeventMsg = payload })

	b.Notify(0, ClassString, "set", "foo")

	require.Equal(t, "set", keyspaceMsg)
	require.Equal(t, "foo", keyeventMsg)
}

func TestBroker_FiltersDisabledClass(t *testing.T) {
	b := NewBroker(ClassKeyspace) // no data-type classes enabled
	called := false
	b.Subscribe("__keyspace@0__:foo", 1, func(channel, payload string) { called = true })
	b.Notify(0, ClassString, "set", "foo")
	require.False(t, called)
}

func TestTracking_StandardModeInvalidatesAndClears(t *testing.T) {
	tr := NewTracking(1000)
	tr.Read(1, "k")
	tr.Read(2, "k")

	invs := tr.Write(0, "k")
	require.Len(t, invs, 2)
	require.Zero(t, tr.Size(), "TrackingTable must no longer contain k after invalidation")
}

func TestTracking_NoLoopSuppressesOwnInvalidation(t *testing.T) {
	tr := NewTracking(1000)
	tr.SetNoLoop(1, true)
	tr.Read(1, "k")
	tr.Read(2, "k")

	invs := tr.Write(1, "k")
	require.Len(t, invs, 1)
	require.Equal(t, uint64(2), invs[0].ClientID)
}

func TestTracking_PrefixCollisionRejected(t *testing.T) {
	tr := NewTracking(1000)
	require.NoError(t, tr.RegisterPrefix(1, "user:"))
	require.ErrorIs(t, tr.RegisterPrefix(1, "user:1:"), ErrPrefixCollision)
	require.ErrorIs(t, tr.RegisterPrefix(1, "u"), ErrPrefixCollision)
}

func TestTracking_BroadcastFlushOncePerCycle(t *testing.T) {
	tr := NewTracking(1000)
	require.NoError(t, tr.RegisterPrefix(1, "user:"))

	tr.Write(0, "user:1")
	tr.Write(0, "user:2")
	tr.Write(0, "other:1")

	invs := tr.FlushBroadcast(0)
	require.Len(t, invs, 1)
	require.Equal(t, uint64(1), invs[0].ClientID)
	require.ElementsMatch(t, []string{"user:1", "user:2"}, invs[0].Keys)

	// A second flush with nothing new pending yields nothing.
	require.Empty(t, tr.FlushBroadcast(0))
}

func TestTracking_EvictionReducesSizeWhenOverMax(t *testing.T) {
	tr := NewTracking(10)
	for i := 0; i < 20; i++ {
		tr.Read(uint64(i), keyName(i))
	}
	require.Less(t, tr.Size(), 20)
}

func keyName(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "k0"
	}
	var tmp []byte
	for i > 0 {
		tmp = append(tmp, digits[i%10])
		i /= 10
	}
	b := []byte("k")
	for j := len(tmp) - 1; j >= 0; j-- {
		b = append(b, tmp[j])
	}
	return string(b)
}
