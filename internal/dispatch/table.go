// Package dispatch implements the command table and the six-step dispatch
// pipeline described in spec.md §4.3: resolve, arity-check, ACL-check,
// swap-suspend-or-invoke, handler invocation, after-call bookkeeping.
package dispatch

import (
	"strings"

	"github.com/joeycumines/swapkv/internal/acl"
	"github.com/joeycumines/swapkv/internal/resp"
	"github.com/joeycumines/swapkv/internal/swap"
)

// CommandFlag mirrors spec.md §4.3's flag set.
type CommandFlag uint32

const (
	FlagRead CommandFlag = 1 << iota
	FlagWrite
	FlagAdmin
	FlagFast
	FlagSlow
	FlagModule
	FlagNoAuth
	FlagPubSub
	FlagScript
)

// HandlerFunc executes a command's business logic once ACL and swap
// suspension have cleared. It must not block and must write its reply
// directly through conn.Writer (dispatch never flushes; internal/server
// flushes the connection's buffered output).
type HandlerFunc func(s *Server, conn *resp.Conn, argv []string)

// GetKeysFunc resolves the key indices a command's argv touches, for the
// ACL key-pattern check (spec.md §4.7 step 2). Most commands use the
// fixed FirstKey/LastKey/KeyStep triple instead; this hook exists for the
// handful whose key positions are data-dependent (e.g. ZUNIONSTORE).
type GetKeysFunc func(argv []string) []string

// GetSwapsFunc produces the swap intents a command's argv implies, given
// the argv (spec.md §4.5: "a command produces zero or more intents via
// its per-command getswaps hook"). Commands that always operate on
// already-materialized state (ACL, SLOWLOG, SELECT, ...) leave this nil,
// which dispatch treats as "no swap needed, proceed synchronously".
type GetSwapsFunc func(argv []string) []swap.Intent

// Command is one entry in the global dispatch table.
type Command struct {
	Name       string
	Handler    HandlerFunc
	Arity      int // exact if >0, minimum (inclusive, negated) if <0
	Flags      CommandFlag
	Categories []acl.Category
	FirstKey   int
	LastKey    int
	KeyStep    int
	GetKeys    GetKeysFunc
	GetSwaps   GetSwapsFunc
}

// checkArity reports whether argc (including the command name itself)
// satisfies the command's declared arity.
func (c *Command) checkArity(argc int) bool {
	if c.Arity >= 0 {
		return argc == c.Arity
	}
	return argc >= -c.Arity
}

// keysFor resolves the key arguments argv touches, preferring GetKeys
// when present, else the fixed first/last/step triple.
func (c *Command) keysFor(argv []string) []string {
	if c.GetKeys != nil {
		return c.GetKeys(argv)
	}
	if c.FirstKey <= 0 || c.FirstKey >= len(argv) {
		return nil
	}
	last := c.LastKey
	if last < 0 {
		last = len(argv) + last
	}
	if last >= len(argv) {
		last = len(argv) - 1
	}
	step := c.KeyStep
	if step <= 0 {
		step = 1
	}
	var keys []string
	for i := c.FirstKey; i <= last; i += step {
		keys = append(keys, argv[i])
	}
	return keys
}

// Table is the global, lowercase-keyed command registry.
type Table struct {
	byName map[string]*Command
}

// NewTable builds an empty Table.
func NewTable() *Table { return &Table{byName: make(map[string]*Command)} }

// Register adds cmd to the table, keyed by its lowercased name.
func (t *Table) Register(cmd *Command) { t.byName[strings.ToLower(cmd.Name)] = cmd }

// Lookup resolves a command by (case-insensitive) name.
func (t *Table) Lookup(name string) (*Command, bool) {
	c, ok := t.byName[strings.ToLower(name)]
	return c, ok
}

// Names returns every registered command name, for ACL registry
// bootstrap and `COMMAND`-style introspection.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.byName))
	for name := range t.byName {
		out = append(out, name)
	}
	return out
}
