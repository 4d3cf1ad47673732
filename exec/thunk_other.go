//go:build !amd64

package exec

// enterBlock is unreachable off amd64; Run and Step refuse earlier.
func enterBlock(entry, state uintptr) {
	panic("exec: cannot run translated code on this host")
}
