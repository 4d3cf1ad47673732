package x86

// rex emits a REX prefix built from the W bit and the three extension
// bits, omitting it when it would be empty.
func (b *CodeBuffer) rex(w Width, r, x, bb byte) {
	v := byte(0x40) | byte(w)<<3 | r<<2 | x<<1 | bb
	if v != 0x40 {
		b.byte(v)
	}
}

// rexForce always emits the prefix, as byte-register forms require.
func (b *CodeBuffer) rexForce(w Width, r, x, bb byte) {
	b.byte(0x40 | byte(w)<<3 | r<<2 | x<<1 | bb)
}

// modrmReg emits a register-direct ModRM byte.
func (b *CodeBuffer) modrmReg(reg byte, rm Reg) {
	b.byte(0xC0 | reg<<3 | rm.lowBits())
}

// modrmMem emits the ModRM byte, the SIB byte when the base demands one,
// and the displacement for a base+disp operand.
func (b *CodeBuffer) modrmMem(reg byte, m Mem) {
	base := m.Base.lowBits()
	needSIB := base == 4 // rsp/r12 encodings steal the SIB escape

	var mod byte
	switch {
	case m.Disp == 0 && base != 5:
		// rbp/r13 with mod=00 would mean rip-relative, so those bases
		// always carry a displacement.
		mod = 0x00
	case m.Disp >= -128 && m.Disp <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}

	b.byte(mod | reg<<3 | base)
	if needSIB {
		b.byte(0x20 | base) // scale=1, no index
	}
	switch mod {
	case 0x40:
		b.byte(byte(m.Disp))
	case 0x80:
		b.u32(uint32(m.Disp))
	}
}

// rr emits a one-byte-opcode instruction with two register operands,
// reg field first.
func (b *CodeBuffer) rr(w Width, op byte, reg, rm Reg) {
	b.rex(w, reg.hiBit(), 0, rm.hiBit())
	b.byte(op)
	b.modrmReg(byte(reg.lowBits()), rm)
}

// rm emits a one-byte-opcode instruction with a register and a memory
// operand.
func (b *CodeBuffer) rm(w Width, op byte, reg Reg, m Mem) {
	b.rex(w, reg.hiBit(), 0, m.Base.hiBit())
	b.byte(op)
	b.modrmMem(reg.lowBits(), m)
}

// rr0F and rm0F are the 0F-escaped variants.
func (b *CodeBuffer) rr0F(w Width, op byte, reg, rm Reg) {
	b.rex(w, reg.hiBit(), 0, rm.hiBit())
	b.bytes(0x0F, op)
	b.modrmReg(reg.lowBits(), rm)
}

func (b *CodeBuffer) rm0F(w Width, op byte, reg Reg, m Mem) {
	b.rex(w, reg.hiBit(), 0, m.Base.hiBit())
	b.bytes(0x0F, op)
	b.modrmMem(reg.lowBits(), m)
}

// ---- data movement ----

// MovRegImm64 loads a full 64-bit immediate (movabs).
func (b *CodeBuffer) MovRegImm64(dst Reg, imm uint64) {
	b.rexForce(W64, 0, 0, dst.hiBit())
	b.byte(0xB8 + dst.lowBits())
	b.u64(imm)
}

// MovRegImm32 loads a 32-bit immediate, zero-extending into the full
// register.
func (b *CodeBuffer) MovRegImm32(dst Reg, imm uint32) {
	b.rex(W32, 0, 0, dst.hiBit())
	b.byte(0xB8 + dst.lowBits())
	b.u32(imm)
}

// MovRegReg copies src into dst.
func (b *CodeBuffer) MovRegReg(w Width, dst, src Reg) {
	b.rr(w, 0x8B, dst, src)
}

// MovRegMem loads dst from memory.
func (b *CodeBuffer) MovRegMem(w Width, dst Reg, m Mem) {
	b.rm(w, 0x8B, dst, m)
}

// MovMemReg stores src to memory.
func (b *CodeBuffer) MovMemReg(w Width, m Mem, src Reg) {
	b.rm(w, 0x89, src, m)
}

// MovMemReg8 stores the low byte of src.
func (b *CodeBuffer) MovMemReg8(m Mem, src Reg) {
	if src.needsByteREX() || m.Base.hiBit() != 0 {
		b.rexForce(W32, src.hiBit(), 0, m.Base.hiBit())
	}
	b.byte(0x88)
	b.modrmMem(src.lowBits(), m)
}

// MovMemReg16 stores the low word of src.
func (b *CodeBuffer) MovMemReg16(m Mem, src Reg) {
	b.byte(0x66)
	b.rm(W32, 0x89, src, m)
}

// MovzxRegMem8 loads a byte zero-extended.
func (b *CodeBuffer) MovzxRegMem8(dst Reg, m Mem) {
	b.rm0F(W32, 0xB6, dst, m)
}

// MovzxRegMem16 loads a halfword zero-extended.
func (b *CodeBuffer) MovzxRegMem16(dst Reg, m Mem) {
	b.rm0F(W32, 0xB7, dst, m)
}

// MovsxRegMem8 loads a byte sign-extended to the given width.
func (b *CodeBuffer) MovsxRegMem8(w Width, dst Reg, m Mem) {
	b.rm0F(w, 0xBE, dst, m)
}

// MovsxRegMem16 loads a halfword sign-extended to the given width.
func (b *CodeBuffer) MovsxRegMem16(w Width, dst Reg, m Mem) {
	b.rm0F(w, 0xBF, dst, m)
}

// MovsxdRegMem loads a word sign-extended to 64 bits.
func (b *CodeBuffer) MovsxdRegMem(dst Reg, m Mem) {
	b.rm(W64, 0x63, dst, m)
}

// MovzxRegReg8 zero-extends the low byte of src into dst.
func (b *CodeBuffer) MovzxRegReg8(dst, src Reg) {
	if src.needsByteREX() || dst.hiBit() != 0 {
		b.rexForce(W32, dst.hiBit(), 0, src.hiBit())
	}
	b.bytes(0x0F, 0xB6)
	b.modrmReg(dst.lowBits(), src)
}

// MovzxRegReg16 zero-extends the low word of src into dst.
func (b *CodeBuffer) MovzxRegReg16(dst, src Reg) {
	b.rr0F(W32, 0xB7, dst, src)
}

// MovsxRegReg8 sign-extends the low byte of src into dst.
func (b *CodeBuffer) MovsxRegReg8(w Width, dst, src Reg) {
	if src.needsByteREX() || dst.hiBit() != 0 || w == W64 {
		b.rexForce(w, dst.hiBit(), 0, src.hiBit())
	}
	b.bytes(0x0F, 0xBE)
	b.modrmReg(dst.lowBits(), src)
}

// MovsxRegReg16 sign-extends the low word of src into dst.
func (b *CodeBuffer) MovsxRegReg16(w Width, dst, src Reg) {
	b.rr0F(w, 0xBF, dst, src)
}

// MovsxdRegReg sign-extends the low word of src into 64-bit dst.
func (b *CodeBuffer) MovsxdRegReg(dst, src Reg) {
	b.rr(W64, 0x63, dst, src)
}

// LeaRegMem computes the effective address of m into dst.
func (b *CodeBuffer) LeaRegMem(dst Reg, m Mem) {
	b.rm(W64, 0x8D, dst, m)
}

// ---- integer arithmetic ----

// AddRegReg computes dst += src.
func (b *CodeBuffer) AddRegReg(w Width, dst, src Reg) { b.rr(w, 0x01, src, dst) }

// AdcRegReg computes dst += src + CF.
func (b *CodeBuffer) AdcRegReg(w Width, dst, src Reg) { b.rr(w, 0x11, src, dst) }

// SubRegReg computes dst -= src.
func (b *CodeBuffer) SubRegReg(w Width, dst, src Reg) { b.rr(w, 0x29, src, dst) }

// SbbRegReg computes dst -= src + CF.
func (b *CodeBuffer) SbbRegReg(w Width, dst, src Reg) { b.rr(w, 0x19, src, dst) }

// AndRegReg computes dst &= src.
func (b *CodeBuffer) AndRegReg(w Width, dst, src Reg) { b.rr(w, 0x21, src, dst) }

// OrRegReg computes dst |= src.
func (b *CodeBuffer) OrRegReg(w Width, dst, src Reg) { b.rr(w, 0x09, src, dst) }

// XorRegReg computes dst ^= src.
func (b *CodeBuffer) XorRegReg(w Width, dst, src Reg) { b.rr(w, 0x31, src, dst) }

// CmpRegReg compares dst with src.
func (b *CodeBuffer) CmpRegReg(w Width, dst, src Reg) { b.rr(w, 0x39, src, dst) }

// TestRegReg ANDs the operands, discarding the result.
func (b *CodeBuffer) TestRegReg(w Width, a, bb Reg) { b.rr(w, 0x85, bb, a) }

func (b *CodeBuffer) aluRegImm32(w Width, ext byte, dst Reg, imm uint32) {
	b.rex(w, 0, 0, dst.hiBit())
	b.byte(0x81)
	b.modrmReg(ext, dst)
	b.u32(imm)
}

// AddRegImm32 computes dst += imm (sign-extended at W64).
func (b *CodeBuffer) AddRegImm32(w Width, dst Reg, imm uint32) { b.aluRegImm32(w, 0, dst, imm) }

// OrRegImm32 computes dst |= imm.
func (b *CodeBuffer) OrRegImm32(w Width, dst Reg, imm uint32) { b.aluRegImm32(w, 1, dst, imm) }

// AndRegImm32 computes dst &= imm.
func (b *CodeBuffer) AndRegImm32(w Width, dst Reg, imm uint32) { b.aluRegImm32(w, 4, dst, imm) }

// SubRegImm32 computes dst -= imm (sign-extended at W64).
func (b *CodeBuffer) SubRegImm32(w Width, dst Reg, imm uint32) { b.aluRegImm32(w, 5, dst, imm) }

// XorRegImm32 computes dst ^= imm.
func (b *CodeBuffer) XorRegImm32(w Width, dst Reg, imm uint32) { b.aluRegImm32(w, 6, dst, imm) }

// CmpRegImm32 compares dst with imm.
func (b *CodeBuffer) CmpRegImm32(w Width, dst Reg, imm uint32) { b.aluRegImm32(w, 7, dst, imm) }

func (b *CodeBuffer) grpF7(w Width, ext byte, r Reg) {
	b.rex(w, 0, 0, r.hiBit())
	b.byte(0xF7)
	b.modrmReg(ext, r)
}

// NotReg computes r = ^r.
func (b *CodeBuffer) NotReg(w Width, r Reg) { b.grpF7(w, 2, r) }

// NegReg computes r = -r.
func (b *CodeBuffer) NegReg(w Width, r Reg) { b.grpF7(w, 3, r) }

// MulReg computes RDX:RAX = RAX * r, unsigned.
func (b *CodeBuffer) MulReg(w Width, r Reg) { b.grpF7(w, 4, r) }

// ImulReg computes RDX:RAX = RAX * r, signed.
func (b *CodeBuffer) ImulReg(w Width, r Reg) { b.grpF7(w, 5, r) }

// DivReg divides RDX:RAX by r, unsigned; quotient in RAX.
func (b *CodeBuffer) DivReg(w Width, r Reg) { b.grpF7(w, 6, r) }

// IdivReg divides RDX:RAX by r, signed; quotient in RAX.
func (b *CodeBuffer) IdivReg(w Width, r Reg) { b.grpF7(w, 7, r) }

// ImulRegReg computes dst *= src, keeping the low half.
func (b *CodeBuffer) ImulRegReg(w Width, dst, src Reg) { b.rr0F(w, 0xAF, dst, src) }

// Cqo sign-extends RAX into RDX (CDQ at W32).
func (b *CodeBuffer) Cqo(w Width) {
	if w == W64 {
		b.byte(0x48)
	}
	b.byte(0x99)
}

// XorZero clears r with the idiomatic 32-bit xor.
func (b *CodeBuffer) XorZero(r Reg) { b.XorRegReg(W32, r, r) }

// ---- shifts ----

func (b *CodeBuffer) shiftCL(w Width, ext byte, r Reg) {
	b.rex(w, 0, 0, r.hiBit())
	b.byte(0xD3)
	b.modrmReg(ext, r)
}

// ShlRegCL shifts r left by CL.
func (b *CodeBuffer) ShlRegCL(w Width, r Reg) { b.shiftCL(w, 4, r) }

// ShrRegCL shifts r right logically by CL.
func (b *CodeBuffer) ShrRegCL(w Width, r Reg) { b.shiftCL(w, 5, r) }

// SarRegCL shifts r right arithmetically by CL.
func (b *CodeBuffer) SarRegCL(w Width, r Reg) { b.shiftCL(w, 7, r) }

// RorRegCL rotates r right by CL.
func (b *CodeBuffer) RorRegCL(w Width, r Reg) { b.shiftCL(w, 1, r) }

func (b *CodeBuffer) shiftImm(w Width, ext byte, r Reg, amount uint8) {
	b.rex(w, 0, 0, r.hiBit())
	b.byte(0xC1)
	b.modrmReg(ext, r)
	b.byte(amount)
}

// ShlRegImm shifts r left by a constant.
func (b *CodeBuffer) ShlRegImm(w Width, r Reg, amount uint8) { b.shiftImm(w, 4, r, amount) }

// ShrRegImm shifts r right logically by a constant.
func (b *CodeBuffer) ShrRegImm(w Width, r Reg, amount uint8) { b.shiftImm(w, 5, r, amount) }

// SarRegImm shifts r right arithmetically by a constant.
func (b *CodeBuffer) SarRegImm(w Width, r Reg, amount uint8) { b.shiftImm(w, 7, r, amount) }

// RorRegImm rotates r right by a constant.
func (b *CodeBuffer) RorRegImm(w Width, r Reg, amount uint8) { b.shiftImm(w, 1, r, amount) }

// ---- bit operations ----

// LzcntRegReg counts leading zero bits of src into dst.
func (b *CodeBuffer) LzcntRegReg(w Width, dst, src Reg) {
	b.byte(0xF3)
	b.rr0F(w, 0xBD, dst, src)
}

// BswapReg reverses the byte order of r.
func (b *CodeBuffer) BswapReg(w Width, r Reg) {
	b.rex(w, 0, 0, r.hiBit())
	b.bytes(0x0F, 0xC8+r.lowBits())
}

// BtRegImm copies bit n of r into CF.
func (b *CodeBuffer) BtRegImm(w Width, r Reg, n uint8) {
	b.rex(w, 0, 0, r.hiBit())
	b.bytes(0x0F, 0xBA)
	b.modrmReg(4, r)
	b.byte(n)
}

// Cmc complements CF.
func (b *CodeBuffer) Cmc() { b.byte(0xF5) }

// Stc sets CF.
func (b *CodeBuffer) Stc() { b.byte(0xF9) }

// Clc clears CF.
func (b *CodeBuffer) Clc() { b.byte(0xF8) }

// ---- flag capture and conditional moves ----

// SetccReg writes 0 or 1 to the low byte of dst from a condition.
// The caller typically zeroes dst first.
func (b *CodeBuffer) SetccReg(cc CC, dst Reg) {
	if dst.needsByteREX() {
		b.rexForce(W32, 0, 0, dst.hiBit())
	}
	b.bytes(0x0F, 0x90+byte(cc))
	b.modrmReg(0, dst)
}

// CmovccRegReg copies src into dst when the condition holds.
func (b *CodeBuffer) CmovccRegReg(w Width, cc CC, dst, src Reg) {
	b.rr0F(w, 0x40+byte(cc), dst, src)
}

// ---- branches ----

// Jcc emits a conditional jump with a zero rel32 and returns the
// displacement position for later PatchRel32.
func (b *CodeBuffer) Jcc(cc CC) int {
	b.bytes(0x0F, 0x80+byte(cc))
	pos := b.Pos()
	b.u32(0)
	return pos
}

// Jmp emits an unconditional jump with a zero rel32 and returns the
// displacement position for later PatchRel32.
func (b *CodeBuffer) Jmp() int {
	b.byte(0xE9)
	pos := b.Pos()
	b.u32(0)
	return pos
}

// JmpReg jumps through a register.
func (b *CodeBuffer) JmpReg(r Reg) {
	b.rex(W32, 0, 0, r.hiBit())
	b.byte(0xFF)
	b.modrmReg(4, r)
}

// PushReg pushes r onto the host stack.
func (b *CodeBuffer) PushReg(r Reg) {
	b.rex(W32, 0, 0, r.hiBit())
	b.byte(0x50 + r.lowBits())
}

// PopReg pops the host stack into r.
func (b *CodeBuffer) PopReg(r Reg) {
	b.rex(W32, 0, 0, r.hiBit())
	b.byte(0x58 + r.lowBits())
}

// Ret returns to the caller.
func (b *CodeBuffer) Ret() { b.byte(0xC3) }

// Nop emits a one-byte no-op.
func (b *CodeBuffer) Nop() { b.byte(0x90) }

// Ud2 emits the guaranteed-undefined instruction.
func (b *CodeBuffer) Ud2() { b.bytes(0x0F, 0x0B) }

// ---- locked read-modify-write ----

// LockXaddMemReg atomically exchanges-and-adds src into m; the prior
// memory value lands in src.
func (b *CodeBuffer) LockXaddMemReg(w Width, m Mem, src Reg) {
	b.byte(0xF0)
	b.rm0F(w, 0xC1, src, m)
}

// LockXaddMemReg8 is the byte form of LockXaddMemReg.
func (b *CodeBuffer) LockXaddMemReg8(m Mem, src Reg) {
	b.byte(0xF0)
	if src.needsByteREX() || m.Base.hiBit() != 0 {
		b.rexForce(W32, src.hiBit(), 0, m.Base.hiBit())
	}
	b.bytes(0x0F, 0xC0)
	b.modrmMem(src.lowBits(), m)
}

// LockXaddMemReg16 is the halfword form of LockXaddMemReg.
func (b *CodeBuffer) LockXaddMemReg16(m Mem, src Reg) {
	b.bytes(0xF0, 0x66)
	b.rm0F(W32, 0xC1, src, m)
}

// XchgMemReg atomically swaps src with m (implicitly locked).
func (b *CodeBuffer) XchgMemReg(w Width, m Mem, src Reg) {
	b.rm(w, 0x87, src, m)
}

// XchgMemReg8 is the byte form of XchgMemReg.
func (b *CodeBuffer) XchgMemReg8(m Mem, src Reg) {
	if src.needsByteREX() || m.Base.hiBit() != 0 {
		b.rexForce(W32, src.hiBit(), 0, m.Base.hiBit())
	}
	b.byte(0x86)
	b.modrmMem(src.lowBits(), m)
}

// XchgMemReg16 is the halfword form of XchgMemReg.
func (b *CodeBuffer) XchgMemReg16(m Mem, src Reg) {
	b.byte(0x66)
	b.rm(W32, 0x87, src, m)
}

// LockCmpxchgMemReg compares RAX with m and, when equal, stores src;
// the prior memory value always lands in RAX.
func (b *CodeBuffer) LockCmpxchgMemReg(w Width, m Mem, src Reg) {
	b.byte(0xF0)
	b.rm0F(w, 0xB1, src, m)
}

// LockCmpxchgMemReg8 is the byte form of LockCmpxchgMemReg.
func (b *CodeBuffer) LockCmpxchgMemReg8(m Mem, src Reg) {
	b.byte(0xF0)
	if src.needsByteREX() || m.Base.hiBit() != 0 {
		b.rexForce(W32, src.hiBit(), 0, m.Base.hiBit())
	}
	b.bytes(0x0F, 0xB0)
	b.modrmMem(src.lowBits(), m)
}

// LockCmpxchgMemReg16 is the halfword form of LockCmpxchgMemReg.
func (b *CodeBuffer) LockCmpxchgMemReg16(m Mem, src Reg) {
	b.bytes(0xF0, 0x66)
	b.rm0F(W32, 0xB1, src, m)
}

// Mfence orders all prior loads and stores.
func (b *CodeBuffer) Mfence() { b.bytes(0x0F, 0xAE, 0xF0) }

// Lfence orders prior loads.
func (b *CodeBuffer) Lfence() { b.bytes(0x0F, 0xAE, 0xE8) }
