package insts

import "github.com/Inokinoki/attesor-sub000/guest"

// Cond is an ARM64 condition code.
type Cond uint8

// ARM64 condition codes.
const (
	CondEQ Cond = 0b0000 // Z == 1
	CondNE Cond = 0b0001 // Z == 0
	CondCS Cond = 0b0010 // C == 1
	CondCC Cond = 0b0011 // C == 0
	CondMI Cond = 0b0100 // N == 1
	CondPL Cond = 0b0101 // N == 0
	CondVS Cond = 0b0110 // V == 1
	CondVC Cond = 0b0111 // V == 0
	CondHI Cond = 0b1000 // C == 1 && Z == 0
	CondLS Cond = 0b1001 // C == 0 || Z == 1
	CondGE Cond = 0b1010 // N == V
	CondLT Cond = 0b1011 // N != V
	CondGT Cond = 0b1100 // Z == 0 && N == V
	CondLE Cond = 0b1101 // Z == 1 || N != V
	CondAL Cond = 0b1110 // always
	CondNV Cond = 0b1111 // always (reserved encoding)
)

// Invert returns the condition with the opposite sense. AL and NV invert
// onto each other, which keeps them both "always" for paired encodings
// like CSINC with an inverted condition.
func (c Cond) Invert() Cond { return c ^ 1 }

// Holds evaluates the condition against an NZCV flag word.
func (c Cond) Holds(nzcv uint64) bool {
	n := nzcv&guest.FlagN != 0
	z := nzcv&guest.FlagZ != 0
	cf := nzcv&guest.FlagC != 0
	v := nzcv&guest.FlagV != 0

	var result bool
	switch c >> 1 {
	case 0b000:
		result = z
	case 0b001:
		result = cf
	case 0b010:
		result = n
	case 0b011:
		result = v
	case 0b100:
		result = cf && !z
	case 0b101:
		result = n == v
	case 0b110:
		result = n == v && !z
	case 0b111:
		return true
	}

	// The low bit inverts every condition except AL/NV.
	if c&1 == 1 {
		result = !result
	}
	return result
}

func (c Cond) String() string {
	names := [16]string{
		"EQ", "NE", "CS", "CC", "MI", "PL", "VS", "VC",
		"HI", "LS", "GE", "LT", "GT", "LE", "AL", "NV",
	}
	return names[c&0xF]
}
