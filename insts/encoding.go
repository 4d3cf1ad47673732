package insts

// Encoding is one raw 32-bit ARM64 instruction word.
type Encoding uint32

// Bits extracts bits [hi:lo] of the word.
func (e Encoding) Bits(hi, lo uint) uint32 {
	return (uint32(e) >> lo) & ((1 << (hi - lo + 1)) - 1)
}

// Bit reports whether bit n is set.
func (e Encoding) Bit(n uint) bool {
	return uint32(e)>>n&1 == 1
}

// Sf reports whether the instruction operates on 64-bit registers.
func (e Encoding) Sf() bool { return e.Bit(31) }

// Rd returns the destination register field, bits [4:0].
func (e Encoding) Rd() uint8 { return uint8(e.Bits(4, 0)) }

// Rn returns the first source register field, bits [9:5].
func (e Encoding) Rn() uint8 { return uint8(e.Bits(9, 5)) }

// Rm returns the second source register field, bits [20:16].
func (e Encoding) Rm() uint8 { return uint8(e.Bits(20, 16)) }

// Ra returns the third source register field, bits [14:10].
func (e Encoding) Ra() uint8 { return uint8(e.Bits(14, 10)) }

// Rt2 returns the second transfer register of a pair instruction,
// bits [14:10].
func (e Encoding) Rt2() uint8 { return uint8(e.Bits(14, 10)) }

// Imm12 returns the unsigned 12-bit immediate of add/sub immediate and
// unsigned-offset load/store forms, bits [21:10].
func (e Encoding) Imm12() uint32 { return e.Bits(21, 10) }

// Imm16 returns the 16-bit immediate of the move-wide family, bits [20:5].
func (e Encoding) Imm16() uint16 { return uint16(e.Bits(20, 5)) }

// TrapImm16 returns the 16-bit payload of SVC/BRK/HLT, also bits [20:5].
func (e Encoding) TrapImm16() uint16 { return uint16(e.Bits(20, 5)) }

// Hw returns the 16-bit-chunk selector of the move-wide family,
// bits [22:21].
func (e Encoding) Hw() uint8 { return uint8(e.Bits(22, 21)) }

// Imm9 returns the signed 9-bit offset of pre/post-index and unscaled
// load/store forms, bits [20:12].
func (e Encoding) Imm9() int32 { return signExtend32(e.Bits(20, 12), 9) }

// Imm7 returns the signed 7-bit offset of pair load/store forms,
// bits [21:15], before scaling by the access size.
func (e Encoding) Imm7() int32 { return signExtend32(e.Bits(21, 15), 7) }

// Imm6 returns the 6-bit shift amount of shifted-register forms,
// bits [15:10].
func (e Encoding) Imm6() uint8 { return uint8(e.Bits(15, 10)) }

// Shift returns the shift-type selector of shifted-register forms,
// bits [23:22].
func (e Encoding) Shift() ShiftType { return ShiftType(e.Bits(23, 22)) }

// ImmR returns the rotate/low-bit field of bitfield and logical-immediate
// forms, bits [21:16].
func (e Encoding) ImmR() uint8 { return uint8(e.Bits(21, 16)) }

// ImmS returns the width/high-bit field of bitfield and logical-immediate
// forms, bits [15:10].
func (e Encoding) ImmS() uint8 { return uint8(e.Bits(15, 10)) }

// N returns the N bit of logical-immediate and bitfield forms, bit 22.
func (e Encoding) N() bool { return e.Bit(22) }

// Cond returns the condition field of B.cond and CCMP/CCMN, bits [3:0].
func (e Encoding) Cond() Cond { return Cond(e.Bits(3, 0)) }

// Cond12 returns the condition field of CSEL-family and conditional
// compare instructions, bits [15:12].
func (e Encoding) Cond12() Cond { return Cond(e.Bits(15, 12)) }

// NZCVImm returns the flag immediate of conditional compare, bits [3:0].
func (e Encoding) NZCVImm() uint8 { return uint8(e.Bits(3, 0)) }

// Imm5 returns the 5-bit immediate operand of CCMP/CCMN (immediate form),
// bits [20:16].
func (e Encoding) Imm5() uint8 { return uint8(e.Bits(20, 16)) }

// BranchOffset26 returns the byte offset of B and BL, sign-extended from
// the 26-bit word offset in bits [25:0].
func (e Encoding) BranchOffset26() int64 {
	return int64(signExtend32(e.Bits(25, 0), 26)) * 4
}

// BranchOffset19 returns the byte offset of B.cond, CBZ/CBNZ and
// load-literal, sign-extended from the 19-bit word offset in bits [23:5].
func (e Encoding) BranchOffset19() int64 {
	return int64(signExtend32(e.Bits(23, 5), 19)) * 4
}

// BranchOffset14 returns the byte offset of TBZ/TBNZ, sign-extended from
// the 14-bit word offset in bits [18:5].
func (e Encoding) BranchOffset14() int64 {
	return int64(signExtend32(e.Bits(18, 5), 14)) * 4
}

// TestBit returns the bit number tested by TBZ/TBNZ, assembled from
// b5 (bit 31) and b40 (bits [23:19]).
func (e Encoding) TestBit() uint8 {
	return uint8(e.Bits(23, 19)) | uint8(e.Bits(31, 31))<<5
}

// ADRImm returns the byte (ADR) or page (ADRP, before shifting) immediate,
// assembled from immlo in bits [30:29] and immhi in bits [23:5].
func (e Encoding) ADRImm() int64 {
	raw := e.Bits(23, 5)<<2 | e.Bits(30, 29)
	return int64(signExtend32(raw, 21))
}

// Size returns the access-size selector of the load/store families,
// bits [31:30]: 0=byte, 1=half, 2=word, 3=doubleword.
func (e Encoding) Size() uint8 { return uint8(e.Bits(31, 30)) }

// ShiftType selects how a register operand is shifted before use.
type ShiftType uint8

// Register-operand shift types.
const (
	ShiftLSL ShiftType = 0b00
	ShiftLSR ShiftType = 0b01
	ShiftASR ShiftType = 0b10
	ShiftROR ShiftType = 0b11
)

func (t ShiftType) String() string {
	switch t {
	case ShiftLSL:
		return "LSL"
	case ShiftLSR:
		return "LSR"
	case ShiftASR:
		return "ASR"
	case ShiftROR:
		return "ROR"
	}
	return "??"
}

func signExtend32(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// SignExtend64 sign-extends the low bits of v to a full 64-bit value.
func SignExtend64(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
