package translate

import (
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The bitfield family implements SBFM/BFM/UBFM through the shared
// immr/imms derivation, which makes every alias (LSL, LSR, ASR, UBFX,
// SBFX, UBFIZ, SBFIZ, BFI, BFXIL, UXTB/UXTH, SXTB/SXTH/SXTW) fall out
// of two cases: extract-down when imms >= immr, insert-up otherwise.
// EXTR shares the encoding page.

func isBitfieldMove(e insts.Encoding) bool {
	return e.Bits(28, 23) == 0b100110
}

func isExtr(e insts.Encoding) bool {
	return e.Bits(28, 23) == 0b100111 && e.Bits(30, 29) == 0 && !e.Bit(21)
}

func isBitfield(e insts.Encoding) bool {
	return isBitfieldMove(e) || isExtr(e)
}

func translateBitfield(c *Context, e insts.Encoding) Outcome {
	if isExtr(e) {
		return translateExtr(c, e)
	}
	return translateBitfieldMove(c, e)
}

func translateBitfieldMove(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	opc := e.Bits(30, 29)
	r := e.ImmR()
	s := e.ImmS()
	width := uint8(32)
	if e.Sf() {
		width = 64
	}
	if e.N() != e.Sf() || r >= width || s >= width || opc == 0b11 {
		return OutcomeUnrecognized
	}
	b := c.Buf

	if s >= r {
		// Extract the field at bit r, width s-r+1, down to bit 0.
		fwidth := s - r + 1
		switch opc {
		case 0b10: // UBFM: zero above the field
			c.loadReg(w, regOpA, e.Rn())
			if r != 0 {
				b.ShrRegImm(w, regOpA, r)
			}
			c.emitAndMask(w, regOpA, lowMask(fwidth))
		case 0b00: // SBFM: replicate the sign bit above the field
			c.loadReg(w, regOpA, e.Rn())
			b.ShlRegImm(w, regOpA, width-1-s)
			b.SarRegImm(w, regOpA, width-1-s+r)
		case 0b01: // BFM (BFXIL): merge into the destination
			c.loadReg(w, regOpA, e.Rn())
			if r != 0 {
				b.ShrRegImm(w, regOpA, r)
			}
			c.emitAndMask(w, regOpA, lowMask(fwidth))
			c.loadReg(w, regOpB, e.Rd())
			c.emitAndMask(w, regOpB, ^lowMask(fwidth))
			b.OrRegReg(w, regOpA, regOpB)
		}
	} else {
		// Insert the low s+1 bits at position width-r.
		pos := width - r
		switch opc {
		case 0b10: // UBFM (UBFIZ/LSL)
			c.loadReg(w, regOpA, e.Rn())
			c.emitAndMask(w, regOpA, lowMask(s+1))
			b.ShlRegImm(w, regOpA, pos)
		case 0b00: // SBFM (SBFIZ)
			c.loadReg(w, regOpA, e.Rn())
			b.ShlRegImm(w, regOpA, width-1-s)
			b.SarRegImm(w, regOpA, width-1-s)
			b.ShlRegImm(w, regOpA, pos)
		case 0b01: // BFM (BFI)
			c.loadReg(w, regOpA, e.Rn())
			c.emitAndMask(w, regOpA, lowMask(s+1))
			b.ShlRegImm(w, regOpA, pos)
			c.loadReg(w, regOpB, e.Rd())
			c.emitAndMask(w, regOpB, ^(lowMask(s+1) << pos))
			b.OrRegReg(w, regOpA, regOpB)
		}
	}
	c.storeReg(w, e.Rd(), regOpA)
	return OutcomeHandled
}

// translateExtr concatenates Rn:Rm and shifts the double-width value
// right by imms, keeping the low register width. Rn==Rm gives ROR.
func translateExtr(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	s := e.ImmS()
	width := uint8(32)
	if e.Sf() {
		width = 64
	}
	if e.N() != e.Sf() || s >= width {
		return OutcomeUnrecognized
	}
	b := c.Buf

	c.loadReg(w, regOpA, e.Rm())
	if s != 0 {
		b.ShrRegImm(w, regOpA, s)
		c.loadReg(w, regOpB, e.Rn())
		b.ShlRegImm(w, regOpB, width-s)
		b.OrRegReg(w, regOpA, regOpB)
	}
	c.storeReg(w, e.Rd(), regOpA)
	return OutcomeHandled
}

// lowMask returns a run of n ones from bit 0.
func lowMask(n uint8) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// emitAndMask ANDs a constant mask into r, going through a scratch
// register when the mask does not fit a sign-extended imm32.
func (c *Context) emitAndMask(w x86.Width, r x86.Reg, mask uint64) {
	if w == x86.W32 {
		mask &= 0xFFFFFFFF
	}
	if mask == ^uint64(0) || (w == x86.W32 && mask == 0xFFFFFFFF) {
		return
	}
	if w == x86.W32 || mask == uint64(int64(int32(uint32(mask)))) {
		c.Buf.AndRegImm32(w, r, uint32(mask))
		return
	}
	c.loadImm(regFlagA, mask)
	c.Buf.AndRegReg(w, r, regFlagA)
}
