package acl

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/joeycumines/swapkv/internal/keyspace"
)

// User is one ACL identity, per spec.md §3.
type User struct {
	Name     string
	Enabled  bool
	NoPass   bool
	AllKeys  bool
	Commands CommandBitmap

	// passwordHashes holds lowercase hex SHA-256 digests; both the `>pw`
	// (hash-on-insert) and `#hex` (pre-hashed) rule forms populate this.
	passwordHashes map[string]struct{}

	// subAllow lists, per denied command, the subcommand tokens that are
	// nonetheless allowed — only meaningful while the parent command's bit
	// is 0 (spec.md §4.7).
	subAllow map[string]map[string]bool

	// patterns is insertion-ordered: ACL LIST/GETUSER must reproduce the
	// order patterns were added in, not a sorted order.
	patterns []string
}

// NewUser builds a disabled, password-less, no-command, no-key user —
// the state a brand new `ACL SETUSER <name>` with no further rules yields.
func NewUser(name string) *User {
	return &User{
		Name:           name,
		passwordHashes: make(map[string]struct{}),
		subAllow:       make(map[string]map[string]bool),
	}
}

// hashPassword returns the lowercase hex SHA-256 of plaintext.
func hashPassword(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// AddPlaintextPassword hashes and stores plaintext (the `>pw` rule).
func (u *User) AddPlaintextPassword(plaintext string) {
	u.passwordHashes[hashPassword(plaintext)] = struct{}{}
}

// RemovePlaintextPassword removes the hash of plaintext (the `<pw` rule).
func (u *User) RemovePlaintextPassword(plaintext string) {
	delete(u.passwordHashes, hashPassword(plaintext))
}

// AddHashedPassword stores a pre-hashed password (the `#hex` rule). hexHash
// must be exactly 64 hex characters (a SHA-256 digest), in either case;
// it is stored lowercased.
func (u *User) AddHashedPassword(hexHash string) error {
	if !isValidHash(hexHash) {
		return ErrHashMalformed
	}
	u.passwordHashes[strings.ToLower(hexHash)] = struct{}{}
	return nil
}

// RemoveHashedPassword removes a stored pre-hashed password (`!hex`).
func (u *User) RemoveHashedPassword(hexHash string) error {
	if !isValidHash(hexHash) {
		return ErrHashMalformed
	}
	delete(u.passwordHashes, strings.ToLower(hexHash))
	return nil
}

func isValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ClearPasswords removes every stored password (`nopass`/`resetpass`).
func (u *User) ClearPasswords() { u.passwordHashes = make(map[string]struct{}) }

// CheckPassword verifies plaintext against the user's stored hashes using
// a constant-time comparison bounded by a fixed buffer length, per
// spec.md §4.7 ("constant-time in the length of the input and bounded
// buffer"): every candidate hash is compared in full regardless of where
// an earlier mismatch occurred, and the loop always visits every stored
// hash rather than returning on the first match, so timing cannot
// disclose which account, if any, a guess is close to.
func (u *User) CheckPassword(plaintext string) bool {
	if u.NoPass {
		return true
	}
	want := hashPassword(plaintext)
	ok := false
	for stored := range u.passwordHashes {
		if constantTimeEqual(stored, want) {
			ok = true
		}
	}
	return ok
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AddPattern appends a key glob pattern to the user's pattern list.
// Returns ErrPatternAfterWild if AllKeys is already set: once allkeys/~*
// is present, no further specific pattern can narrow it (spec.md §4.7's
// "pattern-after-wildcard" reason code).
func (u *User) AddPattern(pattern string) error {
	if u.AllKeys {
		return ErrPatternAfterWild
	}
	if pattern == "*" {
		u.AllKeys = true
		u.patterns = nil
		return nil
	}
	u.patterns = append(u.patterns, pattern)
	return nil
}

// ResetKeys clears all key patterns and the allkeys bit (`resetkeys`).
func (u *User) ResetKeys() {
	u.patterns = nil
	u.AllKeys = false
}

// Patterns returns the user's key patterns in insertion order.
func (u *User) Patterns() []string {
	out := make([]string, len(u.patterns))
	copy(out, u.patterns)
	return out
}

// AllowSubcommand grants cmd|sub even though cmd's own bit stays denied.
func (u *User) AllowSubcommand(cmd, sub string) {
	set, ok := u.subAllow[cmd]
	if !ok {
		set = make(map[string]bool)
		u.subAllow[cmd] = set
	}
	set[sub] = true
}

// checkCommand implements spec.md §4.7 step 1: a command is allowed if the
// user's bit is set, or if a matching subcommand allowlist entry exists.
func (u *User) checkCommand(reg *Registry, name, sub string) bool {
	bit, ok := reg.Bit(name)
	if ok && u.Commands.Has(bit) {
		return true
	}
	if sub == "" {
		return false
	}
	return u.subAllow[name][strings.ToLower(sub)]
}

// checkKey implements spec.md §4.7 step 2: with allkeys unset, every key
// index the command touches must match at least one of the user's
// patterns.
func (u *User) checkKey(key string) bool {
	if u.AllKeys {
		return true
	}
	for _, p := range u.patterns {
		if keyspace.MatchGlob(p, key) {
			return true
		}
	}
	return false
}

// Check runs the full per-command authorization flow (spec.md §4.7):
// command bit (or subcommand allowlist), then key patterns for every
// key index the dispatcher resolved for this invocation.
func (u *User) Check(reg *Registry, cmd, sub string, keys []string) error {
	if !u.Enabled {
		return &CheckError{Reason: DenyAuth, Object: cmd}
	}
	if !u.checkCommand(reg, cmd, sub) {
		return &CheckError{Reason: DenyCmd, Object: cmd}
	}
	for _, k := range keys {
		if !u.checkKey(k) {
			return &CheckError{Reason: DenyKey, Object: k}
		}
	}
	return nil
}
