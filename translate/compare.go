package translate

import (
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The compare family owns the conditional compares. The plain CMP/CMN/
// TST forms are Rd=31 ALU encodings and never arrive here.

func isCondCompare(e insts.Encoding) bool {
	// sf op 1 11010010 <Rm|imm5> cond 0 imm2 Rn 0 nzcv
	return e.Bits(28, 21) == 0b11010010 && e.Bit(29) &&
		!e.Bit(11) && !e.Bit(4)
}

// translateCondCompare handles CCMP and CCMN, register and immediate
// forms. When the condition holds the flags come from the comparison;
// otherwise the 4-bit immediate is installed as the flag word directly.
func translateCondCompare(c *Context, e insts.Encoding) Outcome {
	w := x86.WidthFor(e.Sf())
	isCmn := !e.Bit(30)
	immForm := e.Bit(10)
	b := c.Buf

	cc, always := c.emitCondTest(e.Cond12())

	var jElse int
	if !always {
		jElse = b.Jcc(cc.Invert())
	}

	c.loadReg(w, regOpA, e.Rn())
	if immForm {
		imm := uint64(e.Imm5())
		if isCmn {
			c.addImm(w, regOpA, imm)
		} else {
			c.subImm(w, regOpA, imm)
		}
	} else {
		c.loadReg(w, regOpB, e.Rm())
		if isCmn {
			b.AddRegReg(w, regOpA, regOpB)
		} else {
			b.SubRegReg(w, regOpA, regOpB)
		}
	}
	if isCmn {
		c.emitCaptureFlags(flagsAdd)
	} else {
		c.emitCaptureFlags(flagsSub)
	}

	if !always {
		jEnd := b.Jmp()
		b.PatchRel32(jElse, b.Pos())
		c.emitStoreNZCVImm(e.NZCVImm())
		b.PatchRel32(jEnd, b.Pos())
	}
	return OutcomeHandled
}
