package reactor

import "errors"

var (
	// ErrLoopRunning is returned when Run is called on a loop that is already running.
	ErrLoopRunning = errors.New("reactor: loop already running")
	// ErrLoopTerminated is returned when operations are attempted after Stop has completed.
	ErrLoopTerminated = errors.New("reactor: loop terminated")
	// ErrFDOutOfRange is returned for an fd outside the supported direct-index range.
	ErrFDOutOfRange = errors.New("reactor: fd out of range")
	// ErrFDRegistered is returned by Register when the fd already has a callback set.
	ErrFDRegistered = errors.New("reactor: fd already registered")
	// ErrFDNotRegistered is returned by Unregister/Modify for an fd with no entry.
	ErrFDNotRegistered = errors.New("reactor: fd not registered")
	// ErrNoTimer is returned by CancelTimer for an unknown or already-fired id.
	ErrNoTimer = errors.New("reactor: no such timer")
)
