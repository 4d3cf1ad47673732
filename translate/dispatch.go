package translate

import "github.com/Inokinoki/attesor-sub000/insts"

// family pairs a mask predicate with the translator that owns the
// matched encodings.
type family struct {
	name      string
	match     func(insts.Encoding) bool
	translate func(*Context, insts.Encoding) Outcome
}

// families is consulted in fixed priority order. CMP/CMN/TST are the
// Rd=31 forms of SUBS/ADDS/ANDS and match inside the ALU family, which
// suppresses the discarded destination store; the compare family owns
// only the conditional compares.
var families = []family{
	{"alu", isALU, translateALU},
	{"compare", isCondCompare, translateCondCompare},
	{"mov", isMove, translateMove},
	{"condselect", isCondSelect, translateCondSelect},
	{"bitfield", isBitfield, translateBitfield},
	{"memory", isMemory, translateMemory},
	{"branch", isBranch, translateBranch},
	{"system", isSystem, translateSystem},
	{"vector", isVector, translateVector},
}

// Dispatch routes one instruction word to its family translator. It is
// a pure function of the encoding: no guest register value is consulted.
func Dispatch(ctx *Context, e insts.Encoding) Outcome {
	for _, f := range families {
		if f.match(e) {
			if ctx.stats != nil {
				ctx.stats.Family(f.name)
			}
			return f.translate(ctx, e)
		}
	}
	return OutcomeUnrecognized
}
