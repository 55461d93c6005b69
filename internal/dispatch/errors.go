package dispatch

import "errors"

// Stable uppercase error tags, per spec.md §7: "the first word is a
// stable uppercase tag ... part of the wire contract".
const (
	TagErr        = "ERR"
	TagSyntax     = "SYNTAX"
	TagWrongType  = "WRONGTYPE"
	TagBusyKey    = "BUSYKEY"
	TagNoAuth     = "NOAUTH"
	TagNoPerm     = "NOPERM"
	TagRetryLater = "RETRYLATER"
	TagWrongPass  = "WRONGPASS"
	TagIOErr      = "IOERR"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrWrongArity     = errors.New("wrong number of arguments")
)
