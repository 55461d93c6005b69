package reactor

import "sync/atomic"

// LoopState is the lifecycle state of a Loop.
//
//	Awake -> Running -> Sleeping -> Running -> ... -> Terminating -> Terminated
//
// Running and Sleeping only ever transition via CAS (TryTransition);
// Terminated is a one-way Store.
type LoopState uint32

const (
	StateAwake LoopState = iota
	StateRunning
	StateSleeping
	StateTerminating
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// fastState is a lock-free CAS state machine guarding the loop's run/stop
// transitions, modeled on eventloop.FastState.
type fastState struct {
	v atomic.Uint32
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *fastState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *fastState) Store(v LoopState) { s.v.Store(uint32(v)) }

func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastState) IsTerminal() bool { return s.Load() == StateTerminated }
