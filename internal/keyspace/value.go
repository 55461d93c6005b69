package keyspace

// Kind identifies which variant of Value is populated.
type Kind uint8

const (
	KindString Kind = iota
	KindList
	KindSet
	KindSortedSet
	KindHash
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindSortedSet:
		return "zset"
	case KindHash:
		return "hash"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Value is the tagged variant every keyspace entry materializes to. The
// container internals (ziplist/skiplist/intset/rax encodings in the
// original) are treated as opaque: String is a plain []byte, and the
// composite kinds are plain Go containers sufficient to exercise the
// keyspace, swap, and dispatch layers without reimplementing encoding
// selection, which is out of scope.
type Value struct {
	Kind Kind

	Str  []byte
	List [][]byte
	Set  map[string]struct{}
	ZSet map[string]float64
	Hash map[string][]byte

	// Dirty is set on any mutation since the value's last successful
	// swap-out, and cleared by the swap pipeline once a PUT completes.
	Dirty bool
	// Evicted is not set by any code in this module: a swapped-out key is
	// held as a Shell in a Database's evict map, never as a Value.
	Evicted bool
	// SCS is not set by any code in this module; swap queues are tracked
	// by swap.Tree, not on the Value.
	SCS bool
}

// NewString builds a String-kind Value.
func NewString(b []byte) *Value { return &Value{Kind: KindString, Str: b} }

// Shell is the tombstone left in Database.evict for a key whose value has
// been swapped out to the backing store: it retains just enough metadata
// (kind, dirty bit) to answer TYPE and to know what to re-materialize.
type Shell struct {
	Kind  Kind
	Dirty bool
}
