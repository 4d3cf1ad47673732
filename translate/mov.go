package translate

import (
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The mov family covers the move-wide group and the PC-relative address
// calculations, all of which fold to translation-time constants except
// the MOVK read-modify-write of the untouched lanes.

func isMoveWide(e insts.Encoding) bool {
	return e.Bits(28, 23) == 0b100101
}

func isAdr(e insts.Encoding) bool {
	return e.Bits(28, 24) == 0b10000
}

func isMove(e insts.Encoding) bool {
	return isMoveWide(e) || isAdr(e)
}

func translateMove(c *Context, e insts.Encoding) Outcome {
	if isAdr(e) {
		return translateAdr(c, e)
	}
	return translateMoveWide(c, e)
}

// translateMoveWide handles MOVZ, MOVN and MOVK. The shifted immediate
// is a constant, so MOVZ and MOVN reduce to a single store; MOVK keeps
// every bit outside its 16-bit lane.
func translateMoveWide(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	opc := e.Bits(30, 29)
	hw := e.Hw()
	if !e.Sf() && hw > 1 {
		return OutcomeUnrecognized
	}
	shift := uint(hw) * 16
	imm := uint64(e.Imm16()) << shift

	switch opc {
	case 0b10: // MOVZ
		c.loadImm(regOpA, imm)
	case 0b00: // MOVN
		v := ^imm
		if !e.Sf() {
			v &= 0xFFFFFFFF
		}
		c.loadImm(regOpA, v)
	case 0b11: // MOVK
		c.loadReg(w, regOpA, e.Rd())
		c.loadImm(regOpB, ^(uint64(0xFFFF) << shift))
		c.Buf.AndRegReg(w, regOpA, regOpB)
		if imm != 0 {
			c.loadImm(regOpB, imm)
			c.Buf.OrRegReg(w, regOpA, regOpB)
		}
	default:
		return OutcomeUnrecognized
	}
	c.storeReg(w, e.Rd(), regOpA)
	return OutcomeHandled
}

// translateAdr handles ADR and ADRP, whose results are pure
// translation-time constants derived from the instruction's own address.
func translateAdr(c *Context, e insts.Encoding) Outcome {
	var addr uint64
	if e.Bit(31) { // ADRP
		base := c.PC &^ 0xFFF
		addr = base + uint64(e.ADRImm()<<12)
	} else {
		addr = c.PC + uint64(e.ADRImm())
	}
	c.loadImm(regOpA, addr)
	c.storeReg(x86.W64, e.Rd(), regOpA)
	return OutcomeHandled
}
