package x86

// CC is an x86 condition code, the low nibble shared by the Jcc, SETcc
// and CMOVcc opcode rows.
type CC uint8

// Condition codes.
const (
	CCO  CC = 0x0 // overflow
	CCNO CC = 0x1 // no overflow
	CCB  CC = 0x2 // below (CF=1)
	CCAE CC = 0x3 // above or equal (CF=0)
	CCE  CC = 0x4 // equal (ZF=1)
	CCNE CC = 0x5 // not equal (ZF=0)
	CCBE CC = 0x6 // below or equal
	CCA  CC = 0x7 // above
	CCS  CC = 0x8 // sign
	CCNS CC = 0x9 // no sign
	CCP  CC = 0xA // parity
	CCNP CC = 0xB // no parity
	CCL  CC = 0xC // less (signed)
	CCGE CC = 0xD // greater or equal (signed)
	CCLE CC = 0xE // less or equal (signed)
	CCG  CC = 0xF // greater (signed)
)

// Invert returns the opposite condition.
func (c CC) Invert() CC { return c ^ 1 }

func (c CC) String() string {
	names := [16]string{
		"o", "no", "b", "ae", "e", "ne", "be", "a",
		"s", "ns", "p", "np", "l", "ge", "le", "g",
	}
	return names[c&0xF]
}
