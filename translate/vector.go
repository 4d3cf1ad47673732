package translate

import (
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The vector family dispatches the SIMD/FP class. Coverage is the
// load/store of S/D/Q registers and the integer three-same operations
// ADD, SUB, AND, ORR and EOR; every other encoding in the class is a
// counted unrecognized instruction, never a silent no-op.
//
// Guest vector registers live in the thread state; each operation loads
// its operands into host SSE registers, computes, and stores back.

func isVectorLoadStore(e insts.Encoding) bool {
	if e.Bits(29, 27) != 0b111 || !e.Bit(26) {
		return false
	}
	switch e.Bits(25, 24) {
	case 0b01:
		return true
	case 0b00:
		return !e.Bit(21)
	}
	return false
}

func isVectorThreeSame(e insts.Encoding) bool {
	return !e.Bit(31) && e.Bits(28, 24) == 0b01110 && e.Bit(21) &&
		(e.Bits(15, 10) == 0b100001 || e.Bits(15, 10) == 0b000111)
}

func isVector(e insts.Encoding) bool {
	// The whole SIMD/FP data-processing space routes here so that
	// unsupported encodings are counted rather than dropped.
	return e.Bits(27, 25) == 0b111 || isVectorLoadStore(e)
}

func translateVector(c *Context, e insts.Encoding) Outcome {
	switch {
	case isVectorLoadStore(e):
		return translateVectorLoadStore(c, e)
	case isVectorThreeSame(e):
		return translateVectorThreeSame(c, e)
	}
	return OutcomeUnrecognized
}

// vecAccessSize derives the transfer width selector from size/opc:
// 2=32-bit, 3=64-bit, 4=128-bit. ok is false for the byte and halfword
// scalar forms, which are not covered.
func vecAccessSize(e insts.Encoding) (scale uint8, load bool, ok bool) {
	size := e.Size()
	opc := uint8(e.Bits(23, 22))
	load = opc&1 == 1

	switch {
	case size == 0b00 && opc >= 0b10: // Q form
		return 4, opc == 0b11, true
	case size == 0b10 && opc < 0b10: // S form
		return 2, load, true
	case size == 0b11 && opc < 0b10: // D form
		return 3, load, true
	}
	return 0, false, false
}

// translateVectorLoadStore handles LDR/STR of S, D and Q registers in
// the unsigned-offset, unscaled and pre/post-index forms.
func translateVectorLoadStore(c *Context, e insts.Encoding) Outcome {
	scale, load, ok := vecAccessSize(e)
	if !ok {
		return OutcomeUnrecognized
	}
	b := c.Buf

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	if e.Bits(25, 24) == 0b01 {
		offset := uint64(e.Imm12()) << scale
		if offset != 0 {
			c.addImm(x86.W64, regAddr, offset)
		}
	} else {
		mode := e.Bits(11, 10)
		if mode == 0b10 {
			return OutcomeUnrecognized
		}
		offset := int64(e.Imm9())
		if mode == 0b11 { // pre-index
			c.addImm(x86.W64, regAddr, uint64(offset))
			c.storeRegOrSP(x86.W64, e.Rn(), regAddr)
		}
		defer func() {
			if mode == 0b01 { // post-index
				c.addImm(x86.W64, regAddr, uint64(offset))
				c.storeRegOrSP(x86.W64, e.Rn(), regAddr)
			}
		}()
	}

	mem := x86.Mem{Base: regAddr}
	vt := e.Rd()
	if load {
		switch scale {
		case 2:
			b.MovdLoad(x86.XMM0, mem)
		case 3:
			b.MovqLoad(x86.XMM0, mem)
		default:
			b.MovdquLoad(x86.XMM0, mem)
		}
		b.MovdquStore(stateMem(guest.OffV(vt)), x86.XMM0)
		return OutcomeHandled
	}
	b.MovdquLoad(x86.XMM0, stateMem(guest.OffV(vt)))
	switch scale {
	case 2:
		b.MovdStore(mem, x86.XMM0)
	case 3:
		b.MovqStore(mem, x86.XMM0)
	default:
		b.MovdquStore(mem, x86.XMM0)
	}
	return OutcomeHandled
}

// translateVectorThreeSame handles vector ADD/SUB across the element
// sizes plus the bitwise AND/ORR/EOR forms. The 64-bit arrangements
// load through the zeroing 8-byte move, so the stored upper half is
// architecturally zero.
func translateVectorThreeSame(c *Context, e insts.Encoding) Outcome {
	q := e.Bit(30)
	u := e.Bit(29)
	size := uint8(e.Bits(23, 22))
	arith := e.Bits(15, 10) == 0b100001
	b := c.Buf

	if arith && size == 3 && !q {
		return OutcomeUnrecognized // 1D arrangement is reserved
	}

	loadV := func(x x86.Xmm, v uint8) {
		if q {
			b.MovdquLoad(x, stateMem(guest.OffV(v)))
		} else {
			b.MovqLoad(x, stateMem(guest.OffV(v)))
		}
	}
	loadV(x86.XMM0, e.Rn())
	loadV(x86.XMM1, e.Rm())

	if arith {
		if u {
			b.Psub(size, x86.XMM0, x86.XMM1)
		} else {
			b.Padd(size, x86.XMM0, x86.XMM1)
		}
	} else {
		switch {
		case !u && size == 0b00:
			b.Pand(x86.XMM0, x86.XMM1)
		case !u && size == 0b10:
			b.Por(x86.XMM0, x86.XMM1)
		case u && size == 0b00:
			b.Pxor(x86.XMM0, x86.XMM1)
		default:
			return OutcomeUnrecognized // BIC/ORN/BSL/BIT/BIF
		}
	}
	b.MovdquStore(stateMem(guest.OffV(e.Rd())), x86.XMM0)
	return OutcomeHandled
}
