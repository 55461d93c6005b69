package swap

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/swapkv/internal/keyspace"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T) (*Pipeline, *keyspace.Database, chan struct{}) {
	db := keyspace.NewDatabase(0)
	backend := NewMemoryBackend()
	budget := NewBudget(1<<20, 1<<21)
	woken := make(chan struct{}, 1024)
	p := NewPipeline(db, backend, budget, func() {
		select {
		case woken <- struct{}{}:
		default:
		}
	})
	return p, db, woken
}

// drainUntilIdle repeatedly drains completions until the pipeline has no
// more in-flight work, polling since I/O finishes on a background
// goroutine.
func drainUntilIdle(t *testing.T, p *Pipeline, woken chan struct{}) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-woken:
			p.Drain()
			if !p.Blocking() {
				return
			}
		case <-deadline:
			t.Fatal("pipeline never went idle")
		}
	}
}

func TestPipeline_ColdGetTriggersSwap(t *testing.T) {
	p, db, woken := newTestPipeline(t)
	backend := p.backend.(*MemoryBackend)
	require.NoError(t, backend.Put([]byte("a"), []byte("hello")))
	db.SetShell("a", &keyspace.Shell{Kind: keyspace.KindString})

	var mu sync.Mutex
	var replyValue []byte
	var replied bool

	client := &Client{
		Intent: Intent{Key: "a", Op: OpRead},
		DataCompletion: func(action Action, value []byte, err error) {
			require.NoError(t, err)
			require.Equal(t, ActionGet, action)
			db.Set("a", keyspace.NewString(value))
		},
		ClientCompletion: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			replyValue = value_(db, "a")
			replied = true
		},
	}
	p.Submit(client)
	drainUntilIdle(t, p, woken)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, replied)
	require.Equal(t, []byte("hello"), replyValue)

	_, evicted := db.IsEvicted("a")
	require.False(t, evicted)
	v, ok := db.Get("a", true)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v.Str)
}

func value_(db *keyspace.Database, key string) []byte {
	v, ok := db.Get(key, false)
	if !ok {
		return nil
	}
	return v.Str
}

func TestPipeline_HeadOfLineOrderingOnSameKey(t *testing.T) {
	p, db, woken := newTestPipeline(t)
	backend := p.backend.(*MemoryBackend)
	require.NoError(t, backend.Put([]byte("x"), []byte("10")))
	db.SetShell("x", &keyspace.Shell{Kind: keyspace.KindString})

	var order []int
	var mu sync.Mutex
	var getCount int

	makeClient := func(n int) *Client {
		return &Client{
			Intent: Intent{Key: "x", Op: OpRead},
			DataCompletion: func(action Action, value []byte, err error) {
				if action == ActionGet {
					mu.Lock()
					getCount++
					mu.Unlock()
					db.Set("x", keyspace.NewString(value))
				}
			},
			ClientCompletion: func(err error) {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
			},
		}
	}

	p.Submit(makeClient(1))
	p.Submit(makeClient(2))
	drainUntilIdle(t, p, woken)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, order)
	require.Equal(t, 1, getCount, "only one GET should be issued for two pipelined reads")
}

func TestPipeline_SynchronousNOPDoesNotQueue(t *testing.T) {
	p, db, _ := newTestPipeline(t)
	db.Set("warm", keyspace.NewString([]byte("v")))

	done := false
	p.Submit(&Client{
		Intent:           Intent{Key: "warm", Op: OpRead},
		ClientCompletion: func(err error) { done = true },
	})
	require.True(t, done, "NOP on an already-materialized key must complete inline")
	require.False(t, p.Blocking())
}

func TestPipeline_DisconnectAsHeadSkipsReplyButAppliesMutation(t *testing.T) {
	p, db, woken := newTestPipeline(t)
	backend := p.backend.(*MemoryBackend)
	require.NoError(t, backend.Put([]byte("a"), []byte("v")))
	db.SetShell("a", &keyspace.Shell{Kind: keyspace.KindString})

	replied := false
	c := &Client{
		Intent: Intent{Key: "a", Op: OpRead},
		DataCompletion: func(action Action, value []byte, err error) {
			db.Set("a", keyspace.NewString(value))
		},
		ClientCompletion: func(err error) { replied = true },
	}
	p.Submit(c)
	MarkDisconnected(c)
	drainUntilIdle(t, p, woken)

	require.False(t, replied, "a disconnected head client must not receive a reply")
	_, ok := db.Get("a", true)
	require.True(t, ok, "keyspace mutation must still apply for a disconnected head client")
}

func TestReplicaPool_PreservesSubmitOrder(t *testing.T) {
	pool := NewReplicaPool(4)
	const n = 50

	// Collect concurrently: the job queue and Results are bounded, so
	// Submit blocks once both are full and nobody is reading.
	var got []int
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for i := 0; i < n; i++ {
			r := <-pool.Results
			got = append(got, r.Val.(int))
		}
	}()

	for i := 0; i < n; i++ {
		i := i
		pool.Submit(ReplicaJob{Run: func() (any, error) {
			// Vary completion order across workers.
			time.Sleep(time.Duration(n-i) * time.Microsecond)
			return i, nil
		}})
	}

	<-collected
	pool.Close()

	for i, v := range got {
		require.Equal(t, i, v, "replica results must be delivered in submit order")
	}
}

func TestBudget_HintThresholds(t *testing.T) {
	b := NewBudget(1000, 2000)
	require.Zero(t, b.Hint())

	b.Add(1000)
	require.Greater(t, b.Hint(), time.Duration(0))
	require.LessOrEqual(t, b.Hint(), 10*time.Millisecond)

	b.Add(1000)
	require.Equal(t, 10*time.Millisecond, b.Hint())
}
