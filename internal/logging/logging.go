// Package logging provides the structured logger used throughout swapkv,
// wrapping github.com/joeycumines/logiface (the generic leveled-logger
// façade) over a zerolog backend via github.com/joeycumines/izerolog —
// the same pairing used by the teacher monorepo's logiface/zerolog binding.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the type used across swapkv's components.
type Logger = logiface.Logger[*izerolog.Event]

// New builds a Logger writing newline-delimited JSON to w at the given
// level. Components hold a Logger and call Info()/Debug()/etc, adding
// fields with Str/Int64/etc — mirroring the chained-builder style
// logiface/zerolog exercises in its own tests.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		logiface.WithOptions[*izerolog.Event](izerolog.WithZerolog(zl)),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// Nop returns a Logger that discards everything, for tests and code paths
// that haven't been given a real sink.
func Nop() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}
