package swap

import (
	"sync/atomic"
	"time"
)

// Budget tracks the process-wide swap_memory counter and the back-pressure
// thresholds described in spec.md §4.5 rule 6. It is a plain atomic
// counter rather than a catrate.Limiter: catrate models per-category event
// *rates* over sliding windows, but swap_memory is a single running byte
// total compared against two static thresholds, a different shape of
// problem entirely (see DESIGN.md).
type Budget struct {
	bytes    atomic.Int64
	slowdown int64
	stop     int64
}

// NewBudget builds a Budget with the given slowdown/stop thresholds, in
// bytes.
func NewBudget(slowdown, stop int64) *Budget {
	return &Budget{slowdown: slowdown, stop: stop}
}

// Add adds n (possibly negative) bytes to the running total, returning the
// new total.
func (b *Budget) Add(n int64) int64 { return b.bytes.Add(n) }

// Bytes returns the current running total.
func (b *Budget) Bytes() int64 { return b.bytes.Load() }

// Hint returns the sleep hint a client whose command is about to enqueue
// swap I/O should be given, per spec.md §4.5 rule 6: 0 below slowdown,
// linearly interpolated 1-10ms between slowdown and stop, 10ms at or
// above stop.
func (b *Budget) Hint() time.Duration {
	mem := b.bytes.Load()
	switch {
	case mem < b.slowdown:
		return 0
	case mem >= b.stop:
		return 10 * time.Millisecond
	default:
		span := b.stop - b.slowdown
		if span <= 0 {
			return 10 * time.Millisecond
		}
		frac := float64(mem-b.slowdown) / float64(span)
		ms := 1 + frac*9
		return time.Duration(ms * float64(time.Millisecond))
	}
}

// RateLimitUntil returns the absolute time a client should not be
// re-registered for reads until, given now and the current Hint().
func (b *Budget) RateLimitUntil(now time.Time) time.Time {
	if h := b.Hint(); h > 0 {
		return now.Add(h)
	}
	return time.Time{}
}
