// Package transcache holds translated blocks in an executable arena
// behind a direct-mapped translation table, with optional block-to-block
// chaining.
package transcache

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrArenaFull reports bump-allocation failure; the caller may Flush
// and retranslate.
var ErrArenaFull = errors.New("transcache: arena full")

// arenaAlign keeps block starts cache-line friendly.
const arenaAlign = 16

// Arena is an mmap'd executable region filled by bump allocation. There
// is no partial free: space comes back only through Reset, which
// invalidates every pointer handed out so far.
type Arena struct {
	mem []byte
	off int
}

// NewArena maps an executable arena of the given size.
func NewArena(size int) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("transcache: arena size %d", size)
	}
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("transcache: mmap arena: %w", err)
	}
	return &Arena{mem: mem}, nil
}

// Alloc reserves n bytes and returns the writable slice backing them.
// The slice stays valid until Reset or Close.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("transcache: alloc %d bytes", n)
	}
	start := (a.off + arenaAlign - 1) &^ (arenaAlign - 1)
	if start+n > len(a.mem) {
		return nil, ErrArenaFull
	}
	a.off = start + n
	return a.mem[start : start+n : start+n], nil
}

// Reset returns the whole arena to empty. Outstanding code pointers
// become invalid.
func (a *Arena) Reset() { a.off = 0 }

// Size returns the arena's capacity in bytes.
func (a *Arena) Size() int { return len(a.mem) }

// Used returns the bytes consumed so far.
func (a *Arena) Used() int { return a.off }

// Close unmaps the arena.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}
