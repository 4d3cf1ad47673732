package translate

import (
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The conditional-select family: CSEL/CSINC/CSINV/CSNEG. The aliases
// (CSET, CSETM, CINC, CINV, CNEG) are ordinary encodings with XZR
// operands and inverted conditions, so they need no separate handling.

func isCondSelect(e insts.Encoding) bool {
	return e.Bits(28, 21) == 0b11010100 && !e.Bit(29) && !e.Bit(11)
}

// translateCondSelect loads the false-path value, applies its transform
// (increment, invert or negate), evaluates the condition from the
// software flag word, and conditionally replaces the result with the
// true-path register.
func translateCondSelect(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	op := e.Bit(30)
	op2 := e.Bits(10, 10)
	b := c.Buf

	c.loadReg(w, regOpB, e.Rn())  // value when the condition holds
	c.loadReg(w, regOpA, e.Rm())  // value otherwise, pre-transform
	switch {
	case !op && op2 == 0: // CSEL
	case !op && op2 == 1: // CSINC
		b.AddRegImm32(w, regOpA, 1)
	case op && op2 == 0: // CSINV
		b.NotReg(w, regOpA)
	case op && op2 == 1: // CSNEG
		b.NegReg(w, regOpA)
	}

	cc, always := c.emitCondTest(e.Cond12())
	if always {
		b.MovRegReg(w, regOpA, regOpB)
	} else {
		b.CmovccRegReg(w, cc, regOpA, regOpB)
	}
	c.storeReg(w, e.Rd(), regOpA)
	return OutcomeHandled
}
