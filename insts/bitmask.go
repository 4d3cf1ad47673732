package insts

import "math/bits"

// DecodeBitMask expands the (N, immr, imms) fields of a logical-immediate
// instruction into the wmask value it denotes, following the ARM
// DecodeBitMasks procedure. It reports false for the reserved encodings
// (no valid element size, or an all-ones element).
func DecodeBitMask(n bool, immr, imms uint8, is64 bool) (uint64, bool) {
	var nBit uint32
	if n {
		nBit = 1
	}

	// The element size is found from the position of the highest set bit
	// of N:NOT(imms).
	length := 31 - bits.LeadingZeros32(nBit<<6|uint32(^imms&0x3F))
	if length < 1 {
		return 0, false
	}
	if !is64 && n {
		return 0, false
	}

	esize := uint(1) << uint(length)
	levels := uint32(esize - 1)

	s := uint32(imms) & levels
	r := uint32(immr) & levels
	if s == levels {
		// Would produce an all-ones element; reserved.
		return 0, false
	}

	// Build a run of s+1 ones, rotate it right by r within the element.
	welem := (uint64(1) << (s + 1)) - 1
	if r != 0 {
		welem = welem>>r | welem<<(esize-uint(r))
		if esize < 64 {
			welem &= (uint64(1) << esize) - 1
		}
	}

	// Replicate the element across the register width.
	wmask := welem
	for sz := esize; sz < 64; sz *= 2 {
		wmask |= wmask << sz
	}
	if !is64 {
		wmask &= 0xFFFFFFFF
	}
	return wmask, true
}
