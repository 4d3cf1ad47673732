package translate

import (
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The memory family covers the scalar load/store encodings. Guest
// addresses are host addresses (the translator runs its guest in the
// same address space), so the generated code dereferences the computed
// address directly.

func isLoadStoreUImm(e insts.Encoding) bool {
	return e.Bits(29, 27) == 0b111 && !e.Bit(26) && e.Bits(25, 24) == 0b01
}

func isLoadStoreImm9(e insts.Encoding) bool {
	return e.Bits(29, 27) == 0b111 && !e.Bit(26) && e.Bits(25, 24) == 0 &&
		!e.Bit(21)
}

func isLoadStoreRegOff(e insts.Encoding) bool {
	return e.Bits(29, 27) == 0b111 && !e.Bit(26) && e.Bits(25, 24) == 0 &&
		e.Bit(21) && e.Bits(11, 10) == 0b10
}

func isLoadStorePair(e insts.Encoding) bool {
	return e.Bits(29, 27) == 0b101 && !e.Bit(26)
}

func isLoadLiteral(e insts.Encoding) bool {
	return e.Bits(29, 27) == 0b011 && !e.Bit(26) && e.Bits(25, 24) == 0
}

func isMemory(e insts.Encoding) bool {
	return isLoadStoreUImm(e) || isLoadStoreImm9(e) || isLoadStoreRegOff(e) ||
		isLoadStorePair(e) || isLoadLiteral(e)
}

func translateMemory(c *Context, e insts.Encoding) Outcome {
	switch {
	case isLoadStoreUImm(e):
		return translateLoadStoreUImm(c, e)
	case isLoadStoreImm9(e):
		return translateLoadStoreImm9(c, e)
	case isLoadStoreRegOff(e):
		return translateLoadStoreRegOff(c, e)
	case isLoadStorePair(e):
		return translateLoadStorePair(c, e)
	default:
		return translateLoadLiteral(c, e)
	}
}

// emitAccess performs one scalar transfer at [regAddr]. Narrow stores
// touch only the addressed bytes; signed loads extend to the target
// register width given by opc.
func (c *Context) emitAccess(size, opc uint8, rt uint8) Outcome {
	b := c.Buf
	mem := x86.Mem{Base: regAddr}

	switch opc {
	case 0b00: // store
		c.loadReg(x86.W64, regOpA, rt)
		switch size {
		case 0:
			b.MovMemReg8(mem, regOpA)
		case 1:
			b.MovMemReg16(mem, regOpA)
		case 2:
			b.MovMemReg(x86.W32, mem, regOpA)
		case 3:
			b.MovMemReg(x86.W64, mem, regOpA)
		}
	case 0b01: // zero-extending load
		switch size {
		case 0:
			b.MovzxRegMem8(regOpA, mem)
		case 1:
			b.MovzxRegMem16(regOpA, mem)
		case 2:
			b.MovRegMem(x86.W32, regOpA, mem)
		case 3:
			b.MovRegMem(x86.W64, regOpA, mem)
		}
		c.storeReg(x86.W64, rt, regOpA)
	case 0b10: // sign-extending load, 64-bit destination
		switch size {
		case 0:
			b.MovsxRegMem8(x86.W64, regOpA, mem)
		case 1:
			b.MovsxRegMem16(x86.W64, regOpA, mem)
		case 2:
			b.MovsxdRegMem(regOpA, mem)
		default:
			return OutcomeUnrecognized
		}
		c.storeReg(x86.W64, rt, regOpA)
	case 0b11: // sign-extending load, 32-bit destination
		switch size {
		case 0:
			b.MovsxRegMem8(x86.W32, regOpA, mem)
		case 1:
			b.MovsxRegMem16(x86.W32, regOpA, mem)
		default:
			return OutcomeUnrecognized
		}
		c.storeReg(x86.W32, rt, regOpA)
	}
	return OutcomeHandled
}

// translateLoadStoreUImm handles the scaled unsigned-offset forms.
func translateLoadStoreUImm(c *Context, e insts.Encoding) Outcome {
	size := e.Size()
	opc := uint8(e.Bits(23, 22))
	if size == 3 && opc >= 0b10 {
		return OutcomeUnrecognized // PRFM space
	}
	offset := uint64(e.Imm12()) << size

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	if offset != 0 {
		c.addImm(x86.W64, regAddr, offset)
	}
	return c.emitAccess(size, opc, e.Rd())
}

// translateLoadStoreImm9 handles the unscaled (LDUR/STUR) and the
// pre/post-index writeback forms, all sharing the signed 9-bit offset.
func translateLoadStoreImm9(c *Context, e insts.Encoding) Outcome {
	size := e.Size()
	opc := uint8(e.Bits(23, 22))
	if size == 3 && opc >= 0b10 {
		return OutcomeUnrecognized
	}
	mode := e.Bits(11, 10)
	if mode == 0b10 {
		return OutcomeUnrecognized // unprivileged forms
	}
	offset := int64(e.Imm9())

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	if mode == 0b11 { // pre-index: offset applies before the access
		c.addImm(x86.W64, regAddr, uint64(offset))
		c.storeRegOrSP(x86.W64, e.Rn(), regAddr)
	}
	out := c.emitAccess(size, opc, e.Rd())
	if out != OutcomeHandled {
		return out
	}
	if mode == 0b01 { // post-index: offset applies after the access
		c.addImm(x86.W64, regAddr, uint64(offset))
		c.storeRegOrSP(x86.W64, e.Rn(), regAddr)
	}
	return OutcomeHandled
}

// translateLoadStoreRegOff handles the register-offset forms with their
// extend/shift options.
func translateLoadStoreRegOff(c *Context, e insts.Encoding) Outcome {
	size := e.Size()
	opc := uint8(e.Bits(23, 22))
	if size == 3 && opc >= 0b10 {
		return OutcomeUnrecognized
	}
	option := uint8(e.Bits(15, 13))
	if option&0b010 == 0 {
		return OutcomeUnrecognized // sub-word index extends are reserved
	}
	var amount uint8
	if e.Bit(12) {
		amount = size
	}

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	c.loadReg(x86.W64, regOpB, e.Rm())
	switch option {
	case 0b010: // UXTW
		c.Buf.MovRegReg(x86.W32, regOpB, regOpB)
	case 0b110: // SXTW
		c.Buf.MovsxdRegReg(regOpB, regOpB)
	}
	if amount != 0 {
		c.Buf.ShlRegImm(x86.W64, regOpB, amount)
	}
	c.Buf.AddRegReg(x86.W64, regAddr, regOpB)
	return c.emitAccess(size, opc, e.Rd())
}

// translateLoadStorePair handles LDP/STP/LDPSW in the signed-offset,
// pre-index and post-index modes.
func translateLoadStorePair(c *Context, e insts.Encoding) Outcome {
	opc := uint8(e.Bits(31, 30))
	load := e.Bit(22)
	mode := e.Bits(24, 23)
	if opc == 0b11 || (opc == 0b01 && !load) {
		return OutcomeUnrecognized
	}

	scale := uint8(2)
	if opc == 0b10 {
		scale = 3
	}
	offset := int64(e.Imm7()) << scale

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	writeback := mode == 0b01 || mode == 0b11
	if mode != 0b01 { // everything except post-index offsets up front
		c.addImm(x86.W64, regAddr, uint64(offset))
	}

	lo := x86.Mem{Base: regAddr}
	hi := x86.Mem{Base: regAddr, Disp: int32(1) << scale}
	b := c.Buf
	switch {
	case !load:
		c.loadReg(x86.W64, regOpA, e.Rd())
		c.loadReg(x86.W64, regOpB, e.Rt2())
		if opc == 0b10 {
			b.MovMemReg(x86.W64, lo, regOpA)
			b.MovMemReg(x86.W64, hi, regOpB)
		} else {
			b.MovMemReg(x86.W32, lo, regOpA)
			b.MovMemReg(x86.W32, hi, regOpB)
		}
	case opc == 0b01: // LDPSW
		b.MovsxdRegMem(regOpA, lo)
		b.MovsxdRegMem(regOpB, hi)
		c.storeReg(x86.W64, e.Rd(), regOpA)
		c.storeReg(x86.W64, e.Rt2(), regOpB)
	case opc == 0b10:
		b.MovRegMem(x86.W64, regOpA, lo)
		b.MovRegMem(x86.W64, regOpB, hi)
		c.storeReg(x86.W64, e.Rd(), regOpA)
		c.storeReg(x86.W64, e.Rt2(), regOpB)
	default:
		b.MovRegMem(x86.W32, regOpA, lo)
		b.MovRegMem(x86.W32, regOpB, hi)
		c.storeReg(x86.W64, e.Rd(), regOpA)
		c.storeReg(x86.W64, e.Rt2(), regOpB)
	}

	if writeback {
		if mode == 0b01 {
			c.addImm(x86.W64, regAddr, uint64(offset))
		}
		c.storeRegOrSP(x86.W64, e.Rn(), regAddr)
	}
	return OutcomeHandled
}

// translateLoadLiteral handles the PC-relative loads, whose addresses
// fold to translation-time constants.
func translateLoadLiteral(c *Context, e insts.Encoding) Outcome {
	opc := uint8(e.Bits(31, 30))
	addr := c.PC + uint64(e.BranchOffset19())
	b := c.Buf

	c.loadImm(regAddr, addr)
	mem := x86.Mem{Base: regAddr}
	switch opc {
	case 0b00:
		b.MovRegMem(x86.W32, regOpA, mem)
	case 0b01:
		b.MovRegMem(x86.W64, regOpA, mem)
	case 0b10: // LDRSW
		b.MovsxdRegMem(regOpA, mem)
	default:
		return OutcomeUnrecognized // PRFM
	}
	c.storeReg(x86.W64, e.Rd(), regOpA)
	return OutcomeHandled
}
