package translate

import (
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// flagFlavor selects how the NZCV word is captured from the host flags
// left by the arithmetic instruction immediately preceding the capture.
type flagFlavor int

const (
	// flagsAdd captures after an addition: ARM C is the host carry.
	flagsAdd flagFlavor = iota
	// flagsSub captures after a subtraction: ARM C is "no borrow", the
	// complement of the host carry, so CF is read through SETAE.
	flagsSub
	// flagsLogic captures N and Z only; C and V are forced to zero.
	flagsLogic
)

// emitCaptureFlags emits the NZCV capture sequence. It must directly
// follow the host instruction whose flags are being captured: the
// sequence starts with SETcc reads (which leave the host flags intact)
// and only then assembles the ARM flag word with flag-clobbering shifts
// and ORs, storing it to the state.
//
// Clobbers the flag-capture scratch registers.
func (c *Context) emitCaptureFlags(flavor flagFlavor) {
	b := c.Buf

	b.SetccReg(x86.CCS, regFlagA) // N
	b.SetccReg(x86.CCE, regFlagB) // Z
	if flavor != flagsLogic {
		b.SetccReg(x86.CCO, regFlagC) // V
		if flavor == flagsSub {
			b.SetccReg(x86.CCAE, regFlagD) // C = no borrow
		} else {
			b.SetccReg(x86.CCB, regFlagD) // C = host carry
		}
	}

	b.MovzxRegReg8(regFlagA, regFlagA)
	b.ShlRegImm(x86.W32, regFlagA, 31)
	b.MovzxRegReg8(regFlagB, regFlagB)
	b.ShlRegImm(x86.W32, regFlagB, 30)
	b.OrRegReg(x86.W32, regFlagA, regFlagB)

	if flavor != flagsLogic {
		b.MovzxRegReg8(regFlagC, regFlagC)
		b.ShlRegImm(x86.W32, regFlagC, 28)
		b.OrRegReg(x86.W32, regFlagA, regFlagC)
		b.MovzxRegReg8(regFlagD, regFlagD)
		b.ShlRegImm(x86.W32, regFlagD, 29)
		b.OrRegReg(x86.W32, regFlagA, regFlagD)
	}

	b.MovMemReg(x86.W64, stateMem(guest.OffNZCV()), regFlagA)
}

// emitLoadCarry loads the ARM C bit into the host carry flag, the
// carry-in step for ADC. For SBC the host borrow is the complement of
// the ARM carry, so the caller follows with invert=true, which appends
// a CMC.
//
// Clobbers regFlagA only; the host flags other than CF are undefined
// afterward.
func (c *Context) emitLoadCarry(invert bool) {
	b := c.Buf
	b.MovRegMem(x86.W64, regFlagA, stateMem(guest.OffNZCV()))
	b.BtRegImm(x86.W32, regFlagA, 29)
	if invert {
		b.Cmc()
	}
}

// emitStoreNZCVImm stores a constant NZCV nibble (the CCMP else-path
// immediate) into the flag word.
func (c *Context) emitStoreNZCVImm(nzcv uint8) {
	b := c.Buf
	b.MovRegImm32(regFlagA, uint32(nzcv&0xF)<<28)
	b.MovMemReg(x86.W64, stateMem(guest.OffNZCV()), regFlagA)
}
