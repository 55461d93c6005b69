package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoop_TimerFires(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var fired atomic.Bool
	l.AddTimer(5*time.Millisecond, func(id uint64, now time.Time) int64 {
		fired.Store(true)
		l.Stop()
		return DeleteTimer
	}, nil)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	require.True(t, fired.Load())
}

func TestLoop_TimerReschedule(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var count atomic.Int32
	l.AddTimer(time.Millisecond, func(id uint64, now time.Time) int64 {
		n := count.Add(1)
		if n >= 3 {
			l.Stop()
			return DeleteTimer
		}
		return 1
	}, nil)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	require.EqualValues(t, 3, count.Load())
}

func TestLoop_WakeUnblocksRun(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	time.Sleep(10 * time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after Stop()")
	}
}

func TestLoop_CancelTimerRunsFinalizer(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var finalized atomic.Bool
	id := l.AddTimer(time.Hour, func(uint64, time.Time) int64 { return DeleteTimer }, func(uint64) {
		finalized.Store(true)
	})
	require.NoError(t, l.CancelTimer(id))
	require.True(t, finalized.Load())
	require.ErrorIs(t, l.CancelTimer(id), ErrNoTimer)
}
