package translate

import (
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// emitCondTest emits code that evaluates an ARM condition against the
// software NZCV word and returns the host condition code that holds
// exactly when the ARM condition does. The returned code is meant for an
// immediately following Jcc, SETcc or CMOVcc. always reports AL/NV,
// for which no test is emitted and the result is unconditionally true.
//
// Clobbers regFlagA and regFlagB.
func (c *Context) emitCondTest(cond insts.Cond) (cc x86.CC, always bool) {
	b := c.Buf

	if cond == insts.CondAL || cond == insts.CondNV {
		return 0, true
	}

	b.MovRegMem(x86.W64, regFlagA, stateMem(guest.OffNZCV()))

	// Single-flag conditions test one NZCV bit; TEST leaves ZF=0 when
	// the bit is set, so the "flag set" sense is CCNE.
	var mask uint32
	switch cond &^ 1 {
	case insts.CondEQ:
		mask = uint32(guest.FlagZ)
	case insts.CondCS:
		mask = uint32(guest.FlagC)
	case insts.CondMI:
		mask = uint32(guest.FlagN)
	case insts.CondVS:
		mask = uint32(guest.FlagV)
	}
	if mask != 0 {
		b.MovRegImm32(regFlagB, mask)
		b.TestRegReg(x86.W32, regFlagA, regFlagB)
		cc = x86.CCNE
		if cond&1 == 1 {
			cc = x86.CCE
		}
		return cc, false
	}

	switch cond {
	case insts.CondHI, insts.CondLS:
		// HI: C set and Z clear, i.e. (nzcv & (C|Z)) == C.
		b.AndRegImm32(x86.W32, regFlagA, uint32(guest.FlagC|guest.FlagZ))
		b.CmpRegImm32(x86.W32, regFlagA, uint32(guest.FlagC))
		cc = x86.CCE
		if cond == insts.CondLS {
			cc = x86.CCNE
		}
		return cc, false

	case insts.CondGE, insts.CondLT:
		// GE: N == V. XOR bit 31 against bit 28 and test the result.
		b.MovRegReg(x86.W32, regFlagB, regFlagA)
		b.ShrRegImm(x86.W32, regFlagA, 31)
		b.ShrRegImm(x86.W32, regFlagB, 28)
		b.XorRegReg(x86.W32, regFlagA, regFlagB)
		b.AndRegImm32(x86.W32, regFlagA, 1)
		cc = x86.CCE
		if cond == insts.CondLT {
			cc = x86.CCNE
		}
		return cc, false

	case insts.CondGT, insts.CondLE:
		// GT: Z clear and N == V. After the shifts and XOR, bit 0 holds
		// N^V and bit 2 holds Z; GT is both clear.
		b.MovRegReg(x86.W32, regFlagB, regFlagA)
		b.ShrRegImm(x86.W32, regFlagA, 31)
		b.ShrRegImm(x86.W32, regFlagB, 28)
		b.XorRegReg(x86.W32, regFlagA, regFlagB)
		b.AndRegImm32(x86.W32, regFlagA, 0b101)
		cc = x86.CCE
		if cond == insts.CondLE {
			cc = x86.CCNE
		}
		return cc, false
	}

	// Unreachable for well-formed 4-bit conditions.
	return 0, true
}
