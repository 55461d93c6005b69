package keyspace

import (
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// scanEntry is one link in a bucket chain.
type scanEntry struct {
	key  string
	next *scanEntry
}

// scanIndex is a minimal open hash table existing only to back SCAN's
// cursor, per spec.md §4.4: "iteration uses a reversed-bit cursor so
// insertions during iteration do not cause duplicates and do not skip".
//
// Redis's dictScan achieves that guarantee with a closed-form bit-reversal
// increment over the bucket array, which is safe across a table resize
// without needing the cursor arithmetic itself to know a resize happened.
// This implementation reuses that same increment (nextCursor, below) but
// rehashes eagerly on growth rather than incrementally: since cursor safety
// comes from the bit-reversal identity and not from incremental rehashing
// (incremental rehashing in the original is purely a latency-smoothing
// optimization), an eager rehash preserves the no-skip/no-duplicate
// guarantee while being considerably simpler to reason about.
type scanIndex struct {
	buckets []*scanEntry
	mask    uint64
	count   int
}

const scanIndexInitialBuckets = 4

func newScanIndex() *scanIndex {
	return &scanIndex{
		buckets: make([]*scanEntry, scanIndexInitialBuckets),
		mask:    scanIndexInitialBuckets - 1,
	}
}

func (t *scanIndex) bucketOf(key string) uint64 { return xxhash.Sum64String(key) & t.mask }

func (t *scanIndex) has(key string) bool {
	for e := t.buckets[t.bucketOf(key)]; e != nil; e = e.next {
		if e.key == key {
			return true
		}
	}
	return false
}

func (t *scanIndex) insert(key string) {
	idx := t.bucketOf(key)
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			return
		}
	}
	t.buckets[idx] = &scanEntry{key: key, next: t.buckets[idx]}
	t.count++
	if t.count > len(t.buckets)*3 {
		t.grow()
	}
}

func (t *scanIndex) remove(key string) {
	idx := t.bucketOf(key)
	var prev *scanEntry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			return
		}
		prev = e
	}
}

func (t *scanIndex) grow() {
	old := t.buckets
	t.buckets = make([]*scanEntry, len(old)*2)
	t.mask = uint64(len(t.buckets) - 1)
	t.count = 0
	for _, head := range old {
		for e := head; e != nil; e = e.next {
			t.insert(e.key)
		}
	}
}

// reverseBits64 reverses the low-order 64 bits of v.
func reverseBits64(v uint64) uint64 { return bits.Reverse64(v) }

// nextCursor implements dictScan's reverse-binary-increment cursor step.
func nextCursor(cursor, mask uint64) uint64 {
	cursor |= ^mask
	cursor = reverseBits64(cursor)
	cursor++
	cursor = reverseBits64(cursor)
	return cursor
}

// scan visits up to count keys starting at cursor, returning the cursor to
// resume from (0 means iteration completed a full cycle).
func (t *scanIndex) scan(cursor uint64, count int) (next uint64, keys []string) {
	if count <= 0 {
		count = 10
	}
	if len(t.buckets) == 0 {
		return 0, nil
	}
	mask := t.mask
	idx := cursor & mask
	for {
		for e := t.buckets[idx]; e != nil; e = e.next {
			keys = append(keys, e.key)
		}
		cursor = nextCursor(cursor, mask)
		idx = cursor & mask
		if len(keys) >= count || cursor == 0 {
			break
		}
	}
	return cursor, keys
}
