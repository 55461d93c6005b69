// Package expire implements the active-expiration cron pass described in
// spec.md §4.6: periodic sampling of each database's expires map, EWMA
// tracking of observed TTLs, and a microsecond CPU budget.
package expire

import "github.com/joeycumines/swapkv/internal/keyspace"

const (
	defaultSamplesPerDB = 20
	maxBucketFactor     = 20 // cap: 20×S buckets visited per database
	ewmaWeight          = 0.98
	ewmaMaxIterations   = 16
)

// ewmaTable precomputes pow(0.98, n) for n in 1..16, per spec.md §4.6.
var ewmaTable [ewmaMaxIterations + 1]float64

func init() {
	p := 1.0
	for n := 1; n <= ewmaMaxIterations; n++ {
		p *= ewmaWeight
		ewmaTable[n] = p
	}
}

// ExpireFunc performs the DEL swap for a key that has expired in
// database db, per spec.md §4.6 step 2 ("request a DEL swap via the
// pipeline's expireKey path"). It must not block.
type ExpireFunc func(db *keyspace.Database, key string)

// DatabaseState is the per-database bookkeeping an active-expire Cycle
// carries across ticks: the rolling EWMA of observed (not-yet-expired)
// TTLs, the writable-replica side structure, and where the previous tick
// left off for budget-exhaustion continuation.
type DatabaseState struct {
	db  *keyspace.Database
	ewma float64

	// slaveKeysWithExpire tracks keys created locally on a writable
	// replica with an explicit expire, so they can be expired locally
	// without waiting for the master's DEL (spec.md §4.6's "Writable-
	// replica quirk").
	slaveKeysWithExpire map[string]struct{}

	timeLimitExit bool // set when the previous tick ran out of budget
}

// NewDatabaseState wraps db for active-expire tracking.
func NewDatabaseState(db *keyspace.Database) *DatabaseState {
	return &DatabaseState{db: db, slaveKeysWithExpire: make(map[string]struct{})}
}

// TrackSlaveExpire records that key was created locally (on a writable
// replica) with an explicit expire.
func (s *DatabaseState) TrackSlaveExpire(key string) { s.slaveKeysWithExpire[key] = struct{}{} }

func (s *DatabaseState) untrackSlaveExpire(key string) { delete(s.slaveKeysWithExpire, key) }

// Cycle runs the active-expiration cron pass across a fixed set of
// databases, per spec.md §4.6.
type Cycle struct {
	dbs     []*DatabaseState
	samples int

	// effort is the 1-10 knob scaling the microsecond budget.
	effort int

	isWritableReplica bool

	onExpire ExpireFunc

	nowMs    func() int64
	nowMicro func() int64
}

// NewCycle builds a Cycle over dbs, sampling up to samplesPerDB keys per
// database (default 20) per tick, scaling its time budget by effort
// (1-10). nowMs/nowMicro are injected for deterministic tests.
func NewCycle(dbs []*DatabaseState, samplesPerDB, effort int, isWritableReplica bool, onExpire ExpireFunc, nowMs, nowMicro func() int64) *Cycle {
	if samplesPerDB <= 0 {
		samplesPerDB = defaultSamplesPerDB
	}
	if effort < 1 {
		effort = 1
	}
	if effort > 10 {
		effort = 10
	}
	return &Cycle{
		dbs:               dbs,
		samples:           samplesPerDB,
		effort:            effort,
		isWritableReplica: isWritableReplica,
		onExpire:          onExpire,
		nowMs:             nowMs,
		nowMicro:          nowMicro,
	}
}

// budgetMicros returns the microsecond budget for one tick: spec.md §4.6
// says "25% of the tick by default, scaled by effort 1-10" — modeled here
// as 25% of a 100ms (10Hz) tick, scaled linearly by effort/10.
func (c *Cycle) budgetMicros() int64 {
	const tickMicros = 100_000 // 10Hz tick
	base := tickMicros / 4
	return int64(base) * int64(c.effort) / 10
}

// TickStats reports what one Run call did, for tests and for CLIENT-
// visible INFO-style reporting.
type TickStats struct {
	Expired      int
	Sampled      int
	TimeLimitHit bool
}

// Run executes one active-expiration tick across every tracked database,
// per spec.md §4.6's four numbered steps.
func (c *Cycle) Run() TickStats {
	start := c.nowMicro()
	budget := c.budgetMicros()
	var stats TickStats

	// Resume at the database the previous tick ran out of budget before.
	first := 0
	for i, st := range c.dbs {
		if st.timeLimitExit {
			first = i
			st.timeLimitExit = false
		}
	}
	for n := range c.dbs {
		st := c.dbs[(first+n)%len(c.dbs)]
		if c.nowMicro()-start >= budget {
			st.timeLimitExit = true
			stats.TimeLimitHit = true
			break
		}
		c.runDatabase(st, &stats)
	}
	return stats
}

func (c *Cycle) runDatabase(st *DatabaseState, stats *TickStats) {
	now := c.nowMs()
	sampled := 0
	visited := 0
	maxBuckets := c.samples * maxBucketFactor

	for sampled < c.samples && visited < maxBuckets {
		key, due, ok := st.db.SampleExpire()
		if !ok {
			break
		}
		visited++
		sampled++
		stats.Sampled++

		if due <= now {
			c.expireKey(st, key)
			stats.Expired++
			continue
		}

		c.updateEWMA(st, float64(due-now))
	}
}

// expireKey removes key from the keyspace via the swap-pipeline DEL path
// (spec.md §4.6 step 2) and drops any writable-replica side tracking.
func (c *Cycle) expireKey(st *DatabaseState, key string) {
	st.untrackSlaveExpire(key)
	if c.onExpire != nil {
		c.onExpire(st.db, key)
	} else {
		st.db.Delete(key)
	}
}

// updateEWMA folds observedMs into the database's rolling TTL estimate,
// weighting the new sample by the precomputed pow(0.98, n) table capped
// at 16 iterations, per spec.md §4.6 step 3.
func (c *Cycle) updateEWMA(st *DatabaseState, observedMs float64) {
	if st.ewma == 0 {
		st.ewma = observedMs
		return
	}
	w := ewmaTable[ewmaMaxIterations]
	st.ewma = st.ewma*w + observedMs*(1-w)
}

// EWMA returns a database's current rolling TTL estimate, in ms.
func (s *DatabaseState) EWMA() float64 { return s.ewma }

// TimeLimitExit reports whether the previous tick exhausted its budget
// before finishing this database, per spec.md §4.6 step 4.
func (s *DatabaseState) TimeLimitExit() bool { return s.timeLimitExit }

// ExpireLocallyOnReplica reports whether key should be expired locally
// without waiting for the master's DEL, per the writable-replica quirk.
func (s *DatabaseState) ExpireLocallyOnReplica(key string) bool {
	_, ok := s.slaveKeysWithExpire[key]
	return ok
}
