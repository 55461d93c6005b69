package dispatch

// registerBuiltins populates t with every command named in spec.md §6's
// core subset.
func registerBuiltins(t *Table) {
	registerGeneric(t)
	registerACL(t)
	registerSlowLog(t)
	registerBits(t)
	registerZSet(t)
	registerMigrate(t)
}
