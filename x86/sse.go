package x86

// Element sizes for packed-integer operations, matching the ARM64
// size field: 0=byte, 1=halfword, 2=word, 3=doubleword.
const (
	ElemB = 0
	ElemH = 1
	ElemS = 2
	ElemD = 3
)

func (b *CodeBuffer) sseRM(prefix byte, op byte, reg Xmm, m Mem) {
	b.byte(prefix)
	b.rex(W32, reg.hiBit(), 0, m.Base.hiBit())
	b.bytes(0x0F, op)
	b.modrmMem(reg.lowBits(), m)
}

func (b *CodeBuffer) sseRR(prefix byte, op byte, dst, src Xmm) {
	b.byte(prefix)
	b.rex(W32, dst.hiBit(), 0, src.hiBit())
	b.bytes(0x0F, op)
	b.byte(0xC0 | dst.lowBits()<<3 | src.lowBits())
}

// MovdquLoad loads 16 unaligned bytes into an SSE register.
func (b *CodeBuffer) MovdquLoad(dst Xmm, m Mem) {
	b.sseRM(0xF3, 0x6F, dst, m)
}

// MovdquStore stores 16 unaligned bytes from an SSE register.
func (b *CodeBuffer) MovdquStore(m Mem, src Xmm) {
	b.sseRM(0xF3, 0x7F, src, m)
}

// MovqLoad loads 8 bytes into the low half of an SSE register, zeroing
// the high half.
func (b *CodeBuffer) MovqLoad(dst Xmm, m Mem) {
	b.sseRM(0xF3, 0x7E, dst, m)
}

// MovqStore stores the low 8 bytes of an SSE register.
func (b *CodeBuffer) MovqStore(m Mem, src Xmm) {
	b.sseRM(0x66, 0xD6, src, m)
}

// MovdLoad loads 4 bytes into the low word of an SSE register, zeroing
// the rest.
func (b *CodeBuffer) MovdLoad(dst Xmm, m Mem) {
	b.sseRM(0x66, 0x6E, dst, m)
}

// MovdStore stores the low 4 bytes of an SSE register.
func (b *CodeBuffer) MovdStore(m Mem, src Xmm) {
	b.sseRM(0x66, 0x7E, src, m)
}

// MovdquRegReg copies one SSE register to another.
func (b *CodeBuffer) MovdquRegReg(dst, src Xmm) {
	b.sseRR(0xF3, 0x6F, dst, src)
}

// Padd adds packed integer lanes of the given element size.
func (b *CodeBuffer) Padd(esize uint8, dst, src Xmm) {
	ops := [4]byte{0xFC, 0xFD, 0xFE, 0xD4}
	b.sseRR(0x66, ops[esize&3], dst, src)
}

// Psub subtracts packed integer lanes of the given element size.
func (b *CodeBuffer) Psub(esize uint8, dst, src Xmm) {
	ops := [4]byte{0xF8, 0xF9, 0xFA, 0xFB}
	b.sseRR(0x66, ops[esize&3], dst, src)
}

// Pand ANDs two SSE registers bitwise.
func (b *CodeBuffer) Pand(dst, src Xmm) { b.sseRR(0x66, 0xDB, dst, src) }

// Por ORs two SSE registers bitwise.
func (b *CodeBuffer) Por(dst, src Xmm) { b.sseRR(0x66, 0xEB, dst, src) }

// Pxor XORs two SSE registers bitwise.
func (b *CodeBuffer) Pxor(dst, src Xmm) { b.sseRR(0x66, 0xEF, dst, src) }
