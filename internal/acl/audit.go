package acl

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// AuditEntry is an ACL audit log record, per spec.md §3's "swap log entry"
// shape specialized to the ACL reason/context/object/username fields.
type AuditEntry struct {
	Reason    DenyReason
	Context   string // e.g. "toplevel", "multi", "lua"
	Object    string
	Username  string
	TimestampMs int64
	Count     int
}

type auditKey struct {
	reason   DenyReason
	context  string
	object   string
	username string
}

// AuditLog is the bounded, newest-first, deduplicated ACL denial log
// described in spec.md §4.7: entries within a 60-second window, keyed by
// (reason, context, object, username), bump a counter instead of
// inserting a new record.
//
// Deduplication is implemented on top of catrate.Limiter: each distinct
// key is allowed one "new entry" event per 60 seconds; while the limiter
// denies an event for that key, occurrences are folded into the existing
// entry's Count instead.
type AuditLog struct {
	limiter *catrate.Limiter
	entries []*AuditEntry // newest first
	index   map[auditKey]*AuditEntry
	maxLen  int
}

// NewAuditLog builds an audit log bounded to maxLen entries.
func NewAuditLog(maxLen int) *AuditLog {
	return &AuditLog{
		limiter: catrate.NewLimiter(map[time.Duration]int{60 * time.Second: 1}),
		index:   make(map[auditKey]*AuditEntry),
		maxLen:  maxLen,
	}
}

// Record adds or bumps an audit entry for a denied command. nowMs only
// stamps the entry's TimestampMs; the 60-second dedup window is kept by
// the catrate limiter against the wall clock, not against nowMs.
func (l *AuditLog) Record(reason DenyReason, context, object, username string, nowMs int64) {
	k := auditKey{reason: reason, context: context, object: object, username: username}
	if _, allowed := l.limiter.Allow(k); !allowed {
		if e, ok := l.index[k]; ok {
			e.Count++
			e.TimestampMs = nowMs
			return
		}
	}

	e := &AuditEntry{Reason: reason, Context: context, Object: object, Username: username, TimestampMs: nowMs, Count: 1}
	l.index[k] = e
	l.entries = append([]*AuditEntry{e}, l.entries...)
	if len(l.entries) > l.maxLen {
		dropped := l.entries[l.maxLen:]
		l.entries = l.entries[:l.maxLen]
		for _, d := range dropped {
			dk := auditKey{reason: d.Reason, context: d.Context, object: d.Object, username: d.Username}
			if l.index[dk] == d {
				delete(l.index, dk)
			}
		}
	}
}

// Entries returns the log, newest first.
func (l *AuditLog) Entries() []*AuditEntry { return l.entries }

// Reset clears the log.
func (l *AuditLog) Reset() {
	l.entries = nil
	l.index = make(map[auditKey]*AuditEntry)
}

// Len returns the number of distinct entries currently retained.
func (l *AuditLog) Len() int { return len(l.entries) }
