package expire

import (
	"testing"

	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/stretchr/testify/require"
)

func TestCycle_ExpiresDueKeys(t *testing.T) {
	db := keyspace.NewDatabase(0)
	db.Set("a", keyspace.NewString(nil))
	db.SetExpire("a", 1000)
	db.Set("b", keyspace.NewString(nil))
	db.SetExpire("b", 5000)

	now := int64(2000)
	var expired []string
	c := NewCycle(
		[]*DatabaseState{NewDatabaseState(db)},
		20, 10, false,
		func(d *keyspace.Database, key string) { expired = append(expired, key); d.Delete(key) },
		func() int64 { return now },
		func() int64 { return 0 },
	)

	// Run enough ticks to guarantee both keys get sampled at least once
	// (SampleExpire's order is randomized per call).
	for i := 0; i < 50 && db.ExpiresLen() > 1; i++ {
		c.Run()
	}

	require.Contains(t, expired, "a")
	_, ok := db.GetExpire("a")
	require.False(t, ok)

	// b is not due yet.
	_, ok = db.GetExpire("b")
	require.True(t, ok)
}

func TestCycle_TimeLimitExit(t *testing.T) {
	db := keyspace.NewDatabase(0)
	for i := 0; i < 5; i++ {
		db.Set(keyName(i), keyspace.NewString(nil))
		db.SetExpire(keyName(i), 100000)
	}

	micro := int64(0)
	c := NewCycle(
		[]*DatabaseState{NewDatabaseState(db)},
		20, 1, false,
		nil,
		func() int64 { return 0 },
		func() int64 { v := micro; micro += 1_000_000; return v }, // always over budget after first check
	)

	stats := c.Run()
	require.True(t, stats.TimeLimitHit)
}

func TestCycle_EWMATracksNonExpiredTTL(t *testing.T) {
	db := keyspace.NewDatabase(0)
	db.Set("a", keyspace.NewString(nil))
	db.SetExpire("a", 10_000)

	st := NewDatabaseState(db)
	c := NewCycle([]*DatabaseState{st}, 20, 10, false, nil,
		func() int64 { return 5_000 },
		func() int64 { return 0 },
	)
	c.Run()
	require.Greater(t, st.EWMA(), 0.0)
}

func keyName(i int) string {
	return string(rune('a' + i))
}
