package translate

import (
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The branch family. Direct branches terminate the block with a
// chainable exit; the conditional forms emit an inline taken-exit and
// let the block continue at the fallthrough; register branches store a
// run-time PC and terminate unchained.

func isBranchImm(e insts.Encoding) bool {
	return e.Bits(30, 26) == 0b00101
}

func isBranchCond(e insts.Encoding) bool {
	return e.Bits(31, 24) == 0b01010100 && !e.Bit(4)
}

func isCompareBranch(e insts.Encoding) bool {
	return e.Bits(30, 25) == 0b011010
}

func isTestBranch(e insts.Encoding) bool {
	return e.Bits(30, 25) == 0b011011
}

func isBranchReg(e insts.Encoding) bool {
	return e.Bits(31, 25) == 0b1101011 && e.Bits(20, 16) == 0b11111 &&
		e.Bits(15, 10) == 0 && e.Bits(4, 0) == 0
}

func isBranch(e insts.Encoding) bool {
	return isBranchImm(e) || isBranchCond(e) || isCompareBranch(e) ||
		isTestBranch(e) || isBranchReg(e)
}

func translateBranch(c *Context, e insts.Encoding) Outcome {
	switch {
	case isBranchImm(e):
		return translateBranchImm(c, e)
	case isBranchCond(e):
		return translateBranchCond(c, e)
	case isCompareBranch(e):
		return translateCompareBranch(c, e)
	case isTestBranch(e):
		return translateTestBranch(c, e)
	default:
		return translateBranchReg(c, e)
	}
}

// translateBranchImm handles B and BL. The target is a translation-time
// constant; BL also writes the link register.
func translateBranchImm(c *Context, e insts.Encoding) Outcome {
	target := c.PC + uint64(e.BranchOffset26())
	if e.Bit(31) { // BL
		c.loadImm(regOpA, c.PC+4)
		c.storeReg(x86.W64, 30, regOpA)
	}
	c.emitChainableExit(target)
	return OutcomeTerminated
}

// translateBranchCond handles B.cond: a conditional jump over an inline
// taken-exit. The block continues translating at the fallthrough.
func translateBranchCond(c *Context, e insts.Encoding) Outcome {
	target := c.PC + uint64(e.BranchOffset19())
	cc, always := c.emitCondTest(e.Cond())
	if always {
		c.emitChainableExit(target)
		return OutcomeTerminated
	}
	jSkip := c.Buf.Jcc(cc.Invert())
	c.emitChainableExit(target)
	c.Buf.PatchRel32(jSkip, c.Buf.Pos())
	return OutcomeHandled
}

// translateCompareBranch handles CBZ/CBNZ.
func translateCompareBranch(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	target := c.PC + uint64(e.BranchOffset19())

	c.loadReg(w, regOpA, e.Rd())
	c.Buf.TestRegReg(w, regOpA, regOpA)
	taken := x86.CCE
	if e.Bit(24) { // CBNZ
		taken = x86.CCNE
	}
	jSkip := c.Buf.Jcc(taken.Invert())
	c.emitChainableExit(target)
	c.Buf.PatchRel32(jSkip, c.Buf.Pos())
	return OutcomeHandled
}

// translateTestBranch handles TBZ/TBNZ.
func translateTestBranch(c *Context, e insts.Encoding) Outcome {
	target := c.PC + uint64(e.BranchOffset14())

	c.loadReg(x86.W64, regOpA, e.Rd())
	c.Buf.BtRegImm(x86.W64, regOpA, e.TestBit())
	taken := x86.CCAE // bit clear
	if e.Bit(24) {    // TBNZ
		taken = x86.CCB
	}
	jSkip := c.Buf.Jcc(taken.Invert())
	c.emitChainableExit(target)
	c.Buf.PatchRel32(jSkip, c.Buf.Pos())
	return OutcomeHandled
}

// translateBranchReg handles BR, BLR and RET. The target is unknown
// until run time, so the exit stores the register value as the next PC
// and is never chainable.
func translateBranchReg(c *Context, e insts.Encoding) Outcome {
	opc := e.Bits(24, 21)
	if opc > 0b0010 {
		return OutcomeUnrecognized // ERET/DRPS and the authenticated forms
	}

	c.loadReg(x86.W64, regOpA, e.Rn())
	if opc == 0b0001 { // BLR
		c.loadImm(regOpB, c.PC+4)
		c.storeReg(x86.W64, 30, regOpB)
	}
	c.emitSetPCReg(regOpA)
	c.emitPlainExit(guest.ExitContinue, 0)
	return OutcomeTerminated
}
