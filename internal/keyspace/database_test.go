package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatabase_SetGetDelete(t *testing.T) {
	db := NewDatabase(0)
	db.Set("foo", NewString([]byte("bar")))

	v, ok := db.Get("foo", true)
	require.True(t, ok)
	require.Equal(t, []byte("bar"), v.Str)

	require.True(t, db.Delete("foo"))
	_, ok = db.Get("foo", true)
	require.False(t, ok)
}

func TestDatabase_ShellDictDisjoint(t *testing.T) {
	db := NewDatabase(0)
	db.Set("foo", NewString([]byte("bar")))
	db.SetShell("foo", &Shell{Kind: KindString})

	_, ok := db.Get("foo", true)
	require.False(t, ok, "dict and evict must be disjoint for a key")
	shell, ok := db.IsEvicted("foo")
	require.True(t, ok)
	require.Equal(t, KindString, shell.Kind)
}

func TestDatabase_Expire(t *testing.T) {
	db := NewDatabase(0)
	db.Set("foo", NewString(nil))
	db.SetExpire("foo", 1000)

	ms, ok := db.GetExpire("foo")
	require.True(t, ok)
	require.EqualValues(t, 1000, ms)

	db.RemoveExpire("foo")
	_, ok = db.GetExpire("foo")
	require.False(t, ok)
}

func TestDatabase_HoldPreventsEviction(t *testing.T) {
	db := NewDatabase(0)
	db.Set("foo", NewString(nil))
	require.True(t, db.CanEvict("foo"))

	db.Hold("foo")
	require.False(t, db.CanEvict("foo"))

	db.Unhold("foo")
	require.True(t, db.CanEvict("foo"))
}

func TestDatabase_ScanVisitsEveryKeyExactlyOnce(t *testing.T) {
	db := NewDatabase(0)
	want := map[string]bool{}
	for i := 0; i < 200; i++ {
		k := keyName(i)
		db.Set(k, NewString(nil))
		want[k] = false
	}

	var cursor uint64
	seen := map[string]int{}
	for {
		var keys []string
		cursor, keys = db.Scan(cursor, "", 10)
		for _, k := range keys {
			seen[k]++
		}
		if cursor == 0 {
			break
		}
	}

	require.Len(t, seen, len(want))
	for k, n := range seen {
		require.Equalf(t, 1, n, "key %q visited %d times", k, n)
	}
}

func TestDatabase_ScanSurvivesGrowthDuringIteration(t *testing.T) {
	db := NewDatabase(0)
	for i := 0; i < 5; i++ {
		db.Set(keyName(i), NewString(nil))
	}

	cursor, keys := db.Scan(0, "", 2)
	seen := map[string]int{}
	for _, k := range keys {
		seen[k]++
	}

	// Grow the table substantially mid-iteration.
	for i := 5; i < 500; i++ {
		db.Set(keyName(i), NewString(nil))
	}

	for {
		var batch []string
		cursor, batch = db.Scan(cursor, "", 10)
		for _, k := range batch {
			seen[k]++
		}
		if cursor == 0 {
			break
		}
	}

	for i := 0; i < 500; i++ {
		require.GreaterOrEqualf(t, seen[keyName(i)], 1, "key %d never visited", i)
	}
}

func TestDatabase_ScanMatchPattern(t *testing.T) {
	db := NewDatabase(0)
	db.Set("user:1", NewString(nil))
	db.Set("user:2", NewString(nil))
	db.Set("session:1", NewString(nil))

	var cursor uint64
	matched := map[string]bool{}
	for {
		var keys []string
		cursor, keys = db.Scan(cursor, "user:*", 10)
		for _, k := range keys {
			matched[k] = true
		}
		if cursor == 0 {
			break
		}
	}
	require.Len(t, matched, 2)
	require.True(t, matched["user:1"])
	require.True(t, matched["user:2"])
}

func keyName(i int) string {
	const digits = "0123456789"
	b := []byte("key-")
	if i == 0 {
		return string(append(b, '0'))
	}
	var tmp []byte
	for i > 0 {
		tmp = append(tmp, digits[i%10])
		i /= 10
	}
	for j := len(tmp) - 1; j >= 0; j-- {
		b = append(b, tmp[j])
	}
	return string(b)
}
