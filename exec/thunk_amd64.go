package exec

// enterBlock transfers control to translated code at entry with the
// guest state base pinned in R15. The block returns with RET after
// storing its exit reason into the state.
//
//go:noescape
func enterBlock(entry, state uintptr)
