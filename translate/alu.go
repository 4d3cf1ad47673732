package translate

import (
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The ALU family covers the data-processing encodings: add/sub in the
// immediate, shifted-register and extended-register forms, the logical
// operations, add/sub with carry, the two-source group (divides and
// variable shifts), the one-source group (CLZ, byte reversals, RBIT)
// and the three-source multiply-accumulate group.
//
// CMP/CMN/TST arrive here as the Rd=31 forms of SUBS/ADDS/ANDS; the
// discarded destination store falls out of the register-31 write rule.

func isAddSubImm(e insts.Encoding) bool {
	return e.Bits(28, 23) == 0b100010
}

func isAddSubShifted(e insts.Encoding) bool {
	return e.Bits(28, 24) == 0b01011 && !e.Bit(21)
}

func isAddSubExtended(e insts.Encoding) bool {
	return e.Bits(28, 24) == 0b01011 && e.Bits(23, 21) == 0b001
}

func isLogicalShifted(e insts.Encoding) bool {
	return e.Bits(28, 24) == 0b01010
}

func isLogicalImm(e insts.Encoding) bool {
	return e.Bits(28, 23) == 0b100100
}

func isAdcSbc(e insts.Encoding) bool {
	return e.Bits(28, 21) == 0b11010000 && e.Bits(15, 10) == 0
}

func isDataProc2(e insts.Encoding) bool {
	return e.Bits(28, 21) == 0b11010110 && !e.Bit(30) && !e.Bit(29)
}

func isDataProc1(e insts.Encoding) bool {
	return e.Bits(28, 21) == 0b11010110 && e.Bit(30) && !e.Bit(29) &&
		e.Bits(20, 16) == 0
}

func isDataProc3(e insts.Encoding) bool {
	// op54 (bits 30:29) must be zero for every allocated 3-source form.
	return e.Bits(28, 24) == 0b11011 && e.Bits(30, 29) == 0
}

func isALU(e insts.Encoding) bool {
	return isAddSubImm(e) || isAddSubShifted(e) || isAddSubExtended(e) ||
		isLogicalShifted(e) || isLogicalImm(e) || isAdcSbc(e) ||
		isDataProc2(e) || isDataProc1(e) || isDataProc3(e)
}

func translateALU(c *Context, e insts.Encoding) Outcome {
	switch {
	case isAddSubImm(e):
		return translateAddSubImm(c, e)
	case isAddSubShifted(e):
		return translateAddSubShifted(c, e)
	case isAddSubExtended(e):
		return translateAddSubExtended(c, e)
	case isLogicalShifted(e):
		return translateLogicalShifted(c, e)
	case isLogicalImm(e):
		return translateLogicalImm(c, e)
	case isAdcSbc(e):
		return translateAdcSbc(c, e)
	case isDataProc2(e):
		return translateDataProc2(c, e)
	case isDataProc1(e):
		return translateDataProc1(c, e)
	default:
		return translateDataProc3(c, e)
	}
}

// translateAddSubImm handles ADD/ADDS/SUB/SUBS with a shifted 12-bit
// immediate. Register 31 means SP for the base and, on the
// non-flag-setting forms, for the destination; the flag-setting forms
// with Rd=31 are CMP/CMN.
func translateAddSubImm(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	isSub := e.Bit(30)
	setFlags := e.Bit(29)
	imm := uint64(e.Imm12())
	if e.Bit(22) {
		imm <<= 12
	}

	c.loadRegOrSP(w, regOpA, e.Rn())
	if isSub {
		c.subImm(w, regOpA, imm)
	} else {
		c.addImm(w, regOpA, imm)
	}

	if setFlags {
		if isSub {
			c.emitCaptureFlags(flagsSub)
		} else {
			c.emitCaptureFlags(flagsAdd)
		}
		c.storeReg(w, e.Rd(), regOpA)
	} else {
		c.storeRegOrSP(w, e.Rd(), regOpA)
	}
	return OutcomeHandled
}

// translateAddSubShifted handles the shifted-register add/sub forms,
// including the NEG/NEGS aliases (Rn=31).
func translateAddSubShifted(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	isSub := e.Bit(30)
	setFlags := e.Bit(29)

	if e.Shift() == insts.ShiftROR {
		return OutcomeUnrecognized // reserved shift type here
	}

	c.loadReg(w, regOpA, e.Rn())
	c.loadReg(w, regOpB, e.Rm())
	c.emitShiftImm(w, regOpB, e.Shift(), e.Imm6())

	if isSub {
		c.Buf.SubRegReg(w, regOpA, regOpB)
	} else {
		c.Buf.AddRegReg(w, regOpA, regOpB)
	}
	if setFlags {
		if isSub {
			c.emitCaptureFlags(flagsSub)
		} else {
			c.emitCaptureFlags(flagsAdd)
		}
	}
	c.storeReg(w, e.Rd(), regOpA)
	return OutcomeHandled
}

// translateAddSubExtended handles the extended-register add/sub forms.
// Rn means SP here; Rd means SP only on the non-flag-setting forms.
func translateAddSubExtended(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	isSub := e.Bit(30)
	setFlags := e.Bit(29)
	option := e.Bits(15, 13)
	shift := uint8(e.Bits(12, 10))
	if shift > 4 {
		return OutcomeUnrecognized
	}

	c.loadRegOrSP(w, regOpA, e.Rn())
	c.loadReg(x86.W64, regOpB, e.Rm())
	c.emitExtend(w, regOpB, uint8(option))
	if shift != 0 {
		c.Buf.ShlRegImm(w, regOpB, shift)
	}

	if isSub {
		c.Buf.SubRegReg(w, regOpA, regOpB)
	} else {
		c.Buf.AddRegReg(w, regOpA, regOpB)
	}
	if setFlags {
		if isSub {
			c.emitCaptureFlags(flagsSub)
		} else {
			c.emitCaptureFlags(flagsAdd)
		}
		c.storeReg(w, e.Rd(), regOpA)
	} else {
		c.storeRegOrSP(w, e.Rd(), regOpA)
	}
	return OutcomeHandled
}

// translateLogicalShifted handles AND/BIC/ORR/ORN/EOR/EON/ANDS/BICS with
// a shifted register operand, covering the MOV-register and MVN aliases
// (ORR/ORN with Rn=31).
func translateLogicalShifted(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	opc := e.Bits(30, 29)
	invert := e.Bit(21)

	c.loadReg(w, regOpA, e.Rn())
	c.loadReg(w, regOpB, e.Rm())
	c.emitShiftImm(w, regOpB, e.Shift(), e.Imm6())
	if invert {
		c.Buf.NotReg(w, regOpB)
	}

	switch opc {
	case 0b00, 0b11:
		c.Buf.AndRegReg(w, regOpA, regOpB)
	case 0b01:
		c.Buf.OrRegReg(w, regOpA, regOpB)
	case 0b10:
		c.Buf.XorRegReg(w, regOpA, regOpB)
	}
	if opc == 0b11 {
		c.emitCaptureFlags(flagsLogic)
	}
	c.storeReg(w, e.Rd(), regOpA)
	return OutcomeHandled
}

// translateLogicalImm handles AND/ORR/EOR/ANDS with a bitmask immediate.
// Rd=31 means SP on the non-flag-setting forms and TST on ANDS.
func translateLogicalImm(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	opc := e.Bits(30, 29)

	imm, ok := insts.DecodeBitMask(e.N(), e.ImmR(), e.ImmS(), e.Sf())
	if !ok {
		return OutcomeUnrecognized
	}

	c.loadReg(w, regOpA, e.Rn())
	c.loadImm(regOpB, imm)
	switch opc {
	case 0b00, 0b11:
		c.Buf.AndRegReg(w, regOpA, regOpB)
	case 0b01:
		c.Buf.OrRegReg(w, regOpA, regOpB)
	case 0b10:
		c.Buf.XorRegReg(w, regOpA, regOpB)
	}
	if opc == 0b11 {
		c.emitCaptureFlags(flagsLogic)
		c.storeReg(w, e.Rd(), regOpA)
	} else {
		c.storeRegOrSP(w, e.Rd(), regOpA)
	}
	return OutcomeHandled
}

// translateAdcSbc handles ADC/ADCS/SBC/SBCS. The ARM carry bit is loaded
// into the host carry with BT; SBC complements it first because the host
// subtract-with-borrow consumes a borrow, the inverse of the ARM carry.
func translateAdcSbc(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	isSbc := e.Bit(30)
	setFlags := e.Bit(29)

	c.loadReg(w, regOpA, e.Rn())
	c.loadReg(w, regOpB, e.Rm())
	c.emitLoadCarry(isSbc)
	if isSbc {
		c.Buf.SbbRegReg(w, regOpA, regOpB)
	} else {
		c.Buf.AdcRegReg(w, regOpA, regOpB)
	}
	if setFlags {
		if isSbc {
			c.emitCaptureFlags(flagsSub)
		} else {
			c.emitCaptureFlags(flagsAdd)
		}
	}
	c.storeReg(w, e.Rd(), regOpA)
	return OutcomeHandled
}

// translateDataProc2 handles UDIV/SDIV and the variable shifts.
func translateDataProc2(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	opcode := e.Bits(15, 10)

	switch opcode {
	case 0b000010:
		return translateUDiv(c, e, w)
	case 0b000011:
		return translateSDiv(c, e, w)
	case 0b001000, 0b001001, 0b001010, 0b001011:
		// LSLV/LSRV/ASRV/RORV. The host shift masks CL to the operand
		// width, which is exactly the architectural modulo.
		c.loadReg(w, regCount, e.Rm())
		c.loadReg(w, regOpA, e.Rn())
		switch opcode & 3 {
		case 0b00:
			c.Buf.ShlRegCL(w, regOpA)
		case 0b01:
			c.Buf.ShrRegCL(w, regOpA)
		case 0b10:
			c.Buf.SarRegCL(w, regOpA)
		case 0b11:
			c.Buf.RorRegCL(w, regOpA)
		}
		c.storeReg(w, e.Rd(), regOpA)
		return OutcomeHandled
	}
	return OutcomeUnrecognized
}

// translateUDiv emits an unsigned divide guarded against a zero divisor:
// the host trap path must never be reachable, a zero divisor yields 0.
func translateUDiv(c *Context, e insts.Encoding, w x86.Width) Outcome {
	b := c.Buf

	c.loadReg(w, regOpB, e.Rm())
	c.loadReg(w, regOpA, e.Rn()) // dividend in RAX
	b.TestRegReg(w, regOpB, regOpB)
	jZero := b.Jcc(x86.CCE)
	b.XorZero(x86.RDX)
	b.DivReg(w, regOpB)
	jDone := b.Jmp()
	b.PatchRel32(jZero, b.Pos())
	b.XorZero(x86.RAX)
	b.PatchRel32(jDone, b.Pos())
	c.storeReg(w, e.Rd(), x86.RAX)
	return OutcomeHandled
}

// translateSDiv emits a signed divide guarded against both host trap
// conditions: a zero divisor yields 0, and INT_MIN / -1 yields INT_MIN
// instead of overflowing.
func translateSDiv(c *Context, e insts.Encoding, w x86.Width) Outcome {
	b := c.Buf

	c.loadReg(w, regOpB, e.Rm())
	c.loadReg(w, regOpA, e.Rn())
	b.TestRegReg(w, regOpB, regOpB)
	jZero := b.Jcc(x86.CCE)

	b.CmpRegImm32(w, regOpB, 0xFFFFFFFF) // -1, sign-extended at W64
	jDiv := b.Jcc(x86.CCNE)
	if w == x86.W64 {
		b.MovRegImm64(regFlagA, 1<<63)
		b.CmpRegReg(x86.W64, regOpA, regFlagA)
	} else {
		b.CmpRegImm32(x86.W32, regOpA, 1<<31)
	}
	jDiv2 := b.Jcc(x86.CCNE)
	// INT_MIN / -1: the dividend already holds the defined result.
	jDone0 := b.Jmp()

	b.PatchRel32(jDiv, b.Pos())
	b.PatchRel32(jDiv2, b.Pos())
	b.Cqo(w)
	b.IdivReg(w, regOpB)
	jDone1 := b.Jmp()

	b.PatchRel32(jZero, b.Pos())
	b.XorZero(x86.RAX)

	b.PatchRel32(jDone0, b.Pos())
	b.PatchRel32(jDone1, b.Pos())
	c.storeReg(w, e.Rd(), x86.RAX)
	return OutcomeHandled
}

// translateDataProc1 handles CLZ, the byte reversals and RBIT.
func translateDataProc1(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	b := c.Buf

	switch e.Bits(15, 10) {
	case 0b000100: // CLZ
		c.loadReg(w, regOpB, e.Rn())
		b.LzcntRegReg(w, regOpA, regOpB)
		c.storeReg(w, e.Rd(), regOpA)
		return OutcomeHandled

	case 0b000011: // REV64 (sf=1 only)
		if !e.Sf() {
			return OutcomeUnrecognized
		}
		c.loadReg(w, regOpA, e.Rn())
		b.BswapReg(x86.W64, regOpA)
		c.storeReg(w, e.Rd(), regOpA)
		return OutcomeHandled

	case 0b000010: // REV (32-bit) / REV32 (64-bit)
		c.loadReg(w, regOpA, e.Rn())
		if e.Sf() {
			// Reverse bytes within each 32-bit half: full byte swap,
			// then swap the halves back.
			b.BswapReg(x86.W64, regOpA)
			b.RorRegImm(x86.W64, regOpA, 32)
		} else {
			b.BswapReg(x86.W32, regOpA)
		}
		c.storeReg(w, e.Rd(), regOpA)
		return OutcomeHandled

	case 0b000001: // REV16
		c.loadReg(w, regOpA, e.Rn())
		c.emitBitShuffle(w, 0x00FF00FF00FF00FF, 8)
		c.storeReg(w, e.Rd(), regOpA)
		return OutcomeHandled

	case 0b000000: // RBIT
		c.loadReg(w, regOpA, e.Rn())
		if e.Sf() {
			b.BswapReg(x86.W64, regOpA)
		} else {
			b.BswapReg(x86.W32, regOpA)
		}
		c.emitBitShuffle(w, 0x0F0F0F0F0F0F0F0F, 4)
		c.emitBitShuffle(w, 0x3333333333333333, 2)
		c.emitBitShuffle(w, 0x5555555555555555, 1)
		c.storeReg(w, e.Rd(), regOpA)
		return OutcomeHandled
	}
	return OutcomeUnrecognized
}

// emitBitShuffle rewrites regOpA as ((A & mask) << n) | ((A >> n) & mask),
// the exchange step shared by RBIT and REV16.
func (c *Context) emitBitShuffle(w x86.Width, mask uint64, n uint8) {
	b := c.Buf
	if w == x86.W32 {
		mask &= 0xFFFFFFFF
	}
	b.MovRegReg(w, regOpB, regOpA)
	c.loadImm(regFlagA, mask)
	b.AndRegReg(w, regOpA, regFlagA)
	b.ShlRegImm(w, regOpA, n)
	b.ShrRegImm(w, regOpB, n)
	b.AndRegReg(w, regOpB, regFlagA)
	b.OrRegReg(w, regOpA, regOpB)
}

// translateDataProc3 handles the multiply-accumulate group. Each form is
// one fused guest operation even though it lowers to several host
// instructions.
func translateDataProc3(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	op31 := e.Bits(23, 21)
	sub := e.Bit(15)
	b := c.Buf

	switch op31 {
	case 0b000: // MADD/MSUB (MUL/MNEG aliases via Ra=31)
		c.loadReg(w, regOpA, e.Rn())
		c.loadReg(w, regOpB, e.Rm())
		b.ImulRegReg(w, regOpA, regOpB)
		c.loadReg(w, regOpC, e.Ra())
		if sub {
			b.SubRegReg(w, regOpC, regOpA)
			c.storeReg(w, e.Rd(), regOpC)
		} else {
			b.AddRegReg(w, regOpA, regOpC)
			c.storeReg(w, e.Rd(), regOpA)
		}
		return OutcomeHandled

	case 0b001, 0b101: // SMADDL/SMSUBL, UMADDL/UMSUBL (64-bit only)
		if !e.Sf() {
			return OutcomeUnrecognized
		}
		signed := op31 == 0b001
		c.loadReg(x86.W64, regOpA, e.Rn())
		c.loadReg(x86.W64, regOpB, e.Rm())
		if signed {
			b.MovsxdRegReg(regOpA, regOpA)
			b.MovsxdRegReg(regOpB, regOpB)
		} else {
			b.MovRegReg(x86.W32, regOpA, regOpA)
			b.MovRegReg(x86.W32, regOpB, regOpB)
		}
		b.ImulRegReg(x86.W64, regOpA, regOpB)
		c.loadReg(x86.W64, regOpC, e.Ra())
		if sub {
			b.SubRegReg(x86.W64, regOpC, regOpA)
			c.storeReg(x86.W64, e.Rd(), regOpC)
		} else {
			b.AddRegReg(x86.W64, regOpA, regOpC)
			c.storeReg(x86.W64, e.Rd(), regOpA)
		}
		return OutcomeHandled

	case 0b010, 0b110: // SMULH/UMULH
		if !e.Sf() || sub {
			return OutcomeUnrecognized
		}
		c.loadReg(x86.W64, regOpA, e.Rn()) // RAX
		c.loadReg(x86.W64, regOpB, e.Rm())
		if op31 == 0b010 {
			b.ImulReg(x86.W64, regOpB)
		} else {
			b.MulReg(x86.W64, regOpB)
		}
		c.storeReg(x86.W64, e.Rd(), x86.RDX)
		return OutcomeHandled
	}
	return OutcomeUnrecognized
}

// emitShiftImm applies a constant shift to r, a no-op for amount 0.
func (c *Context) emitShiftImm(w x86.Width, r x86.Reg, t insts.ShiftType, amount uint8) {
	if amount == 0 {
		return
	}
	switch t {
	case insts.ShiftLSL:
		c.Buf.ShlRegImm(w, r, amount)
	case insts.ShiftLSR:
		c.Buf.ShrRegImm(w, r, amount)
	case insts.ShiftASR:
		c.Buf.SarRegImm(w, r, amount)
	case insts.ShiftROR:
		c.Buf.RorRegImm(w, r, amount)
	}
}

// emitExtend applies an extended-register option to r in place.
func (c *Context) emitExtend(w x86.Width, r x86.Reg, option uint8) {
	b := c.Buf
	switch option {
	case 0b000: // UXTB
		b.MovzxRegReg8(r, r)
	case 0b001: // UXTH
		b.MovzxRegReg16(r, r)
	case 0b010: // UXTW
		b.MovRegReg(x86.W32, r, r)
	case 0b011: // UXTX / LSL
	case 0b100: // SXTB
		b.MovsxRegReg8(w, r, r)
	case 0b101: // SXTH
		b.MovsxRegReg16(w, r, r)
	case 0b110: // SXTW
		if w == x86.W64 {
			b.MovsxdRegReg(r, r)
		}
	case 0b111: // SXTX
	}
}
