package swap

import (
	"github.com/joeycumines/swapkv/internal/crc16"
	"github.com/joeycumines/swapkv/internal/keyspace"
)

// defaultIOEstimate is the budget charge for an action whose size isn't
// known ahead of completion (GET/DEL): a nominal estimate, since the
// real byte count is only known once the backend replies.
const defaultIOEstimate = 64

// workerCount is the fixed size of the background I/O worker pool a
// Pipeline routes requests across, keyed by crc16.Slot(key) so that a
// given key's I/O always lands on the same worker and therefore never
// reorders relative to itself (a prerequisite the queue tree otherwise
// already enforces per key, but not across keys sharing a worker).
const workerCount = 4

type workItem struct {
	path   []string
	key    []byte
	action Action
	value  []byte
	cost   int64
}

// Analyze turns an Intent plus the current keyspace state into a concrete
// Action, per spec.md §4.5's swap_ana.
func Analyze(intent Intent, db *keyspace.Database) Action {
	_, evicted := db.IsEvicted(intent.Key)
	switch intent.Op {
	case OpRead, OpWrite:
		if evicted {
			return ActionGet
		}
		return ActionNop
	case OpDelete:
		if evicted {
			return ActionDel
		}
		return ActionNop
	case OpEvict:
		if evicted {
			return ActionNop
		}
		if v, ok := db.Get(intent.Key, false); ok && v.Dirty {
			return ActionPut
		}
		return ActionNop
	default:
		return ActionNop
	}
}

type completion struct {
	path   []string
	action Action
	value  []byte
	err    error
	cost   int64
}

// Pipeline ties the queue tree, the keyspace, the cold backend, and the
// memory budget together, implementing the full state machine of
// spec.md §4.5.
type Pipeline struct {
	db      *keyspace.Database
	backend Backend
	budget  *Budget
	tree    *Tree

	// wake is invoked (from a background I/O goroutine) whenever a
	// completion is pushed, so the owning reactor loop can schedule a
	// Drain call on its own thread. The keyspace must only ever be
	// mutated from that thread.
	wake func()

	completions chan completion
	workers     [workerCount]chan workItem
}

// NewPipeline builds a Pipeline over db, using backend for cold I/O and
// budget for back-pressure accounting. wake is called (from arbitrary
// goroutines) whenever Drain has work to do; pass a function that calls
// the owning reactor.Loop's Wake method. A fixed pool of workerCount
// goroutines services background I/O, each key routed to one worker by
// crc16.Slot so a key's requests never complete out of order.
func NewPipeline(db *keyspace.Database, backend Backend, budget *Budget, wake func()) *Pipeline {
	p := &Pipeline{
		db:          db,
		backend:     backend,
		budget:      budget,
		tree:        NewTree(),
		wake:        wake,
		completions: make(chan completion, 256),
	}
	for i := range p.workers {
		p.workers[i] = make(chan workItem, 64)
		go p.runWorker(p.workers[i])
	}
	return p
}

func (p *Pipeline) runWorker(ch <-chan workItem) {
	for item := range ch {
		var value []byte
		var err error
		switch item.action {
		case ActionGet:
			value, err = p.backend.Get(item.key)
		case ActionPut:
			err = p.backend.Put(item.key, item.value)
			value = item.value
		case ActionDel:
			err = p.backend.Del(item.key)
		}
		p.completions <- completion{path: item.path, action: item.action, value: value, err: err, cost: item.cost}
		if p.wake != nil {
			p.wake()
		}
	}
}

// Blocking reports whether the database-wide queue has any pending work,
// the condition FLUSHDB-style operations wait on (spec.md §4.5 rule 3).
func (p *Pipeline) Blocking() bool { return p.tree.Blocking() }

// Submit enqueues client's intent. If the key's queue is empty and
// analysis yields NOP, it completes synchronously inline (no suspension);
// otherwise the client is queued and, if it becomes the new head, I/O is
// dispatched in the background.
func (p *Pipeline) Submit(client *Client) {
	path := client.Intent.KeyPath()
	n := p.tree.resolve(path)
	client.node = n

	if len(n.clients) == 0 && n.state == stateIdle {
		action := Analyze(client.Intent, p.db)
		if action == ActionNop {
			p.completeInline(client, action)
			release(n)
			return
		}
		n.clients = append(n.clients, client)
		n.state = stateEnqueued
		p.dispatch(n, path, action)
		return
	}

	n.clients = append(n.clients, client)
}

func (p *Pipeline) completeInline(client *Client, action Action) {
	if client.DataCompletion != nil {
		client.DataCompletion(action, nil, nil)
	}
	if !client.Disconnected && client.ClientCompletion != nil {
		client.ClientCompletion(nil)
	}
}

// dispatch starts background I/O for n's current head, per the action
// already decided by the caller.
func (p *Pipeline) dispatch(n *node, path []string, action Action) {
	n.state = stateInFlight
	head := n.clients[0]

	cost := int64(len(head.Intent.Value))
	if cost == 0 {
		cost = defaultIOEstimate
	}
	p.budget.Add(cost)

	key := []byte(encodeKeyPath(path))
	worker := crc16.Slot(key, workerCount)
	p.workers[worker] <- workItem{path: path, key: key, action: action, value: head.Intent.Value, cost: cost}
}

// Drain processes every completion currently queued. It must only be
// called from the thread that owns the keyspace (the reactor loop).
func (p *Pipeline) Drain() {
	for {
		select {
		case c := <-p.completions:
			p.handleCompletion(c)
		default:
			return
		}
	}
}

func (p *Pipeline) handleCompletion(c completion) {
	p.budget.Add(-c.cost)

	n, ok := p.tree.lookup(c.path)
	if !ok || len(n.clients) == 0 {
		return
	}
	head := n.clients[0]
	n.clients = n.clients[1:]

	if head.DataCompletion != nil {
		head.DataCompletion(c.action, c.value, c.err)
	}
	if !head.Disconnected && head.ClientCompletion != nil {
		head.ClientCompletion(c.err)
	}

	// While the new head needs no further I/O (the just-applied
	// completion already materialized what it needed), pop and resolve
	// it synchronously; stop at the first head that needs real I/O.
	for len(n.clients) > 0 {
		next := n.clients[0]
		if next.DeferredClosing {
			n.clients = n.clients[1:]
			continue
		}
		action := Analyze(next.Intent, p.db)
		if action != ActionNop {
			n.state = stateEnqueued
			p.dispatch(n, c.path, action)
			return
		}
		n.clients = n.clients[1:]
		p.completeInline(next, ActionNop)
	}

	n.state = stateIdle
	release(n)
}

// MarkDisconnected records that client's connection closed. If it was the
// queue head, its I/O is already in flight: DataCompletion still runs on
// finish, but ClientCompletion (the reply) is skipped. If it was behind
// the head, it's marked for elision and skipped entirely on completion
// (spec.md §4.5 "Cancellation").
func MarkDisconnected(client *Client) {
	if client.node == nil {
		return
	}
	if len(client.node.clients) > 0 && client.node.clients[0] == client {
		client.Disconnected = true
	} else {
		client.DeferredClosing = true
	}
}

func encodeKeyPath(path []string) string {
	if len(path) == 1 {
		return path[0]
	}
	out := path[0]
	for _, seg := range path[1:] {
		out += "\x00" + seg
	}
	return out
}
