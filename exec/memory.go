package exec

import (
	"fmt"
	"unsafe"

	"github.com/Inokinoki/attesor-sub000/insts"
)

// HostMemory is an instruction fetcher over the identity mapping: guest
// addresses are host addresses. A [lo, hi) window guards against the
// translator walking into unmapped memory after a bad branch.
type HostMemory struct {
	Lo, Hi uint64
}

// FetchInst reads the instruction word at pc straight from host memory.
func (m *HostMemory) FetchInst(pc uint64) (insts.Encoding, error) {
	if pc < m.Lo || pc+4 > m.Hi || pc%4 != 0 {
		return 0, fmt.Errorf("exec: fetch outside code window: %#x", pc)
	}
	word := *(*uint32)(unsafe.Pointer(uintptr(pc)))
	return insts.Encoding(word), nil
}
