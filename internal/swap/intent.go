// Package swap implements the per-key asynchronous swap pipeline (§4.5):
// it lets the single-threaded command executor treat background I/O
// against a cold backing store as if it were synchronous, while
// guaranteeing at most one in-flight operation per key and preserving
// per-key arrival order.
package swap

// Op is what a command wants to do with a key, independent of whether the
// key currently needs I/O to satisfy that want.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpDelete
	OpEvict // internal: the eviction path wants to swap a dirty value out
)

// Action is the concrete I/O action swap analysis resolves an Intent to.
type Action int

const (
	ActionNop Action = iota
	ActionGet
	ActionPut
	ActionDel
)

func (a Action) String() string {
	switch a {
	case ActionNop:
		return "NOP"
	case ActionGet:
		return "GET"
	case ActionPut:
		return "PUT"
	case ActionDel:
		return "DEL"
	default:
		return "UNKNOWN"
	}
}

// Intent is what a command's getswaps hook produces: the key (and
// optional subkey) it touches, the operation it wants, and — for writes
// that may result in a PUT — the encoded value to persist.
type Intent struct {
	Key    string
	SubKey string // optional; populated for hash-field-level swap granularity
	Op     Op
	Value  []byte // populated by the eviction path for PUT
}

// KeyPath returns the queue path this intent resolves to: [key] or
// [key, subkey].
func (i Intent) KeyPath() []string {
	if i.SubKey == "" {
		return []string{i.Key}
	}
	return []string{i.Key, i.SubKey}
}
