package acl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register("get", CategoryRead, CategoryFast, CategoryString)
	reg.Register("set", CategoryWrite, CategorySlow, CategoryString)
	reg.Register("del", CategoryWrite, CategoryKeySp)
	reg.Register("client", CategoryConn)
	return reg
}

func TestApplyRule_GrantAndDenyCommand(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	u.Enabled = true

	require.NoError(t, ApplyRule(u, reg, "+get"))
	bit, _ := reg.Bit("get")
	require.True(t, u.Commands.Has(bit))

	require.NoError(t, u.Check(reg, "get", "", nil))
	require.Error(t, u.Check(reg, "set", "", nil))
}

func TestApplyRule_Category(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	u.Enabled = true

	require.NoError(t, ApplyRule(u, reg, "+@all"))
	require.NoError(t, u.Check(reg, "get", "", nil))
	require.NoError(t, u.Check(reg, "set", "", nil))

	require.NoError(t, ApplyRule(u, reg, "-@write"))
	require.Error(t, u.Check(reg, "set", "", nil))
	require.NoError(t, u.Check(reg, "get", "", nil))
}

func TestApplyRule_SubcommandOnlyWhenParentDenied(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	u.Enabled = true

	require.NoError(t, ApplyRule(u, reg, "+client|getname"))
	require.NoError(t, u.Check(reg, "client", "getname", nil))
	require.Error(t, u.Check(reg, "client", "setname", nil))

	require.NoError(t, ApplyRule(u, reg, "+client"))
	require.ErrorIs(t, ApplyRule(u, reg, "+client|getname"), ErrBusyParentCommand)
}

func TestApplyRule_KeyPatterns(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	u.Enabled = true
	require.NoError(t, ApplyRule(u, reg, "+@all"))
	require.NoError(t, ApplyRule(u, reg, "~cache:*"))

	require.NoError(t, u.Check(reg, "get", "", []string{"cache:1"}))
	err := u.Check(reg, "get", "", []string{"user:42"})
	require.Error(t, err)
	var ce *CheckError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, DenyKey, ce.Reason)
}

func TestApplyRule_PatternAfterWildcardRejected(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	require.NoError(t, ApplyRule(u, reg, "allkeys"))
	require.ErrorIs(t, ApplyRule(u, reg, "~foo:*"), ErrPatternAfterWild)
}

func TestUser_PasswordRoundTrip(t *testing.T) {
	u := NewUser("alice")
	u.AddPlaintextPassword("hunter2")
	require.True(t, u.CheckPassword("hunter2"))
	require.False(t, u.CheckPassword("wrong"))

	u.RemovePlaintextPassword("hunter2")
	require.False(t, u.CheckPassword("hunter2"))
}

func TestUser_HashedPasswordMalformed(t *testing.T) {
	u := NewUser("alice")
	require.ErrorIs(t, u.AddHashedPassword("not-hex"), ErrHashMalformed)
}

func TestDescribe_RoundTripsCommandBitmap(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	u.Enabled = true
	require.NoError(t, ApplyRule(u, reg, "+get"))
	require.NoError(t, ApplyRule(u, reg, "+set"))

	tokens := Describe(u, reg)
	fresh := NewUser("alice")
	require.NoError(t, ApplyRules(fresh, reg, tokens))
	require.Equal(t, u.Commands, fresh.Commands)
}

func TestApplyRule_AllCommandsSetsReservedFutureBit(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	require.NoError(t, ApplyRule(u, reg, "allcommands"))

	// A command registered after the rule was applied must still be
	// allowed, via the reserved top bit (spec.md §4.7).
	newBit := reg.Register("newcmd", CategoryWrite)
	require.True(t, u.Commands.Has(newBit))
}

func TestApplyRule_PlusAtAllSetsReservedFutureBit(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	require.NoError(t, ApplyRule(u, reg, "+@all"))

	newBit := reg.Register("newcmd2", CategoryWrite)
	require.True(t, u.Commands.Has(newBit))

	require.NoError(t, ApplyRule(u, reg, "-@all"))
	require.False(t, u.Commands.Has(newBit))
}

func TestDescribe_RoundTripsAllCommands(t *testing.T) {
	reg := newTestRegistry()
	u := NewUser("alice")
	u.Enabled = true
	require.NoError(t, ApplyRule(u, reg, "+@all"))

	tokens := Describe(u, reg)
	require.Contains(t, tokens, "+@all")

	fresh := NewUser("alice")
	require.NoError(t, ApplyRules(fresh, reg, tokens))
	require.Equal(t, u.Commands, fresh.Commands)

	// The round-tripped user must still cover commands registered after
	// Describe ran, same as the original.
	newBit := reg.Register("newcmd3", CategoryWrite)
	require.True(t, fresh.Commands.Has(newBit))
}

func TestAuditLog_DedupesWithinWindow(t *testing.T) {
	log := NewAuditLog(100)
	log.Record(DenyKey, "toplevel", "user:42", "alice", 1000)
	log.Record(DenyKey, "toplevel", "user:42", "alice", 1500)
	log.Record(DenyKey, "toplevel", "user:42", "alice", 2000)

	require.Equal(t, 1, log.Len())
	require.Equal(t, 3, log.Entries()[0].Count)
}

func TestAuditLog_DistinctKeysNotMerged(t *testing.T) {
	log := NewAuditLog(100)
	log.Record(DenyKey, "toplevel", "user:42", "alice", 1000)
	log.Record(DenyCmd, "toplevel", "shutdown", "bob", 1000)
	require.Equal(t, 2, log.Len())
}

func TestStore_SetUserRejectsBadRuleWithoutMutating(t *testing.T) {
	reg := newTestRegistry()
	s := NewStore(reg)
	require.NoError(t, s.SetUser("alice", []string{"on", "+get"}))

	u, _ := s.User("alice")
	before := u.Commands

	err := s.SetUser("alice", []string{"+set", "+nosuchcommand"})
	require.ErrorIs(t, err, ErrNameUnknown)

	u, _ = s.User("alice")
	require.Equal(t, before, u.Commands, "a failing rule list must not mutate the live user")
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	reg := newTestRegistry()
	s := NewStore(reg)
	require.NoError(t, s.SetUser("alice", []string{"on", "+get", "+set", "~cache:*"}))

	dir := t.TempDir()
	path := filepath.Join(dir, "users.acl")
	require.NoError(t, s.Save(path))

	s2 := NewStore(reg)
	require.NoError(t, s2.Load(path))

	alice, ok := s2.User("alice")
	require.True(t, ok)
	want, _ := s.User("alice")
	require.Equal(t, want.Commands, alice.Commands)
	require.Equal(t, want.Patterns(), alice.Patterns())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover tmp file after a successful Save")
}

func TestStore_DefaultUserAlwaysPresent(t *testing.T) {
	reg := newTestRegistry()
	s := NewStore(reg)
	_, ok := s.User(DefaultUsername)
	require.True(t, ok)
	require.False(t, s.DeleteUser(DefaultUsername))
}
