package x86

import (
	"encoding/binary"
	"errors"
)

// ErrBufferFull is the sticky error reported once any emission would
// exceed the buffer's capacity.
var ErrBufferFull = errors.New("x86: code buffer full")

// DefaultBufferCap bounds one block's worth of generated code.
const DefaultBufferCap = 16 * 1024

// CodeBuffer accumulates emitted machine code up to a fixed capacity.
// The first emission that would overflow sets a sticky error; all later
// emissions become no-ops, so callers may emit a full instruction
// sequence and check Err once. Positions returned by Pos stay valid for
// later patching; the buffer never shrinks except through Reset.
type CodeBuffer struct {
	buf []byte
	cap int
	err error
}

// NewCodeBuffer returns an empty code buffer with the default capacity.
func NewCodeBuffer() *CodeBuffer {
	return NewCodeBufferCap(DefaultBufferCap)
}

// NewCodeBufferCap returns an empty code buffer bounded at cap bytes.
func NewCodeBufferCap(capacity int) *CodeBuffer {
	return &CodeBuffer{buf: make([]byte, 0, 256), cap: capacity}
}

// Err returns the sticky overflow error, if any emission has overflowed.
func (b *CodeBuffer) Err() error { return b.err }

// Len returns the number of bytes emitted so far.
func (b *CodeBuffer) Len() int { return len(b.buf) }

// Pos returns the current emit position.
func (b *CodeBuffer) Pos() int { return len(b.buf) }

// Bytes returns the emitted code. The slice aliases the buffer's
// storage; callers that keep it across further emits must copy.
func (b *CodeBuffer) Bytes() []byte { return b.buf }

// Reset discards all emitted code and clears the sticky error, keeping
// the allocation.
func (b *CodeBuffer) Reset() {
	b.buf = b.buf[:0]
	b.err = nil
}

// PatchRel32 rewrites the 4-byte displacement at pos so that an
// instruction whose displacement field ends at pos+4 lands on target.
// Both positions are buffer offsets. Patches after an overflow are
// dropped along with the instructions that produced them.
func (b *CodeBuffer) PatchRel32(pos, target int) {
	if pos+4 > len(b.buf) {
		return
	}
	rel := int32(target - (pos + 4))
	binary.LittleEndian.PutUint32(b.buf[pos:], uint32(rel))
}

func (b *CodeBuffer) room(n int) bool {
	if b.err != nil {
		return false
	}
	if len(b.buf)+n > b.cap {
		b.err = ErrBufferFull
		return false
	}
	return true
}

func (b *CodeBuffer) byte(v byte) {
	if !b.room(1) {
		return
	}
	b.buf = append(b.buf, v)
}

func (b *CodeBuffer) bytes(v ...byte) {
	if !b.room(len(v)) {
		return
	}
	b.buf = append(b.buf, v...)
}

func (b *CodeBuffer) u32(v uint32) {
	if !b.room(4) {
		return
	}
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *CodeBuffer) u64(v uint64) {
	if !b.room(8) {
		return
	}
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}
