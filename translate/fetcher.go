package translate

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Inokinoki/attesor-sub000/insts"
)

// ErrOutOfRange reports a fetch outside the mapped code image.
var ErrOutOfRange = errors.New("translate: pc outside code image")

// CodeImage is an InstFetcher over an in-memory copy of guest code
// starting at a fixed base address. Instruction words are little-endian,
// as the guest lays them out.
type CodeImage struct {
	Base uint64
	Code []byte
}

// FetchInst returns the instruction word at pc.
func (ci *CodeImage) FetchInst(pc uint64) (insts.Encoding, error) {
	if pc < ci.Base || pc+4 > ci.Base+uint64(len(ci.Code)) || pc%4 != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrOutOfRange, pc)
	}
	off := pc - ci.Base
	return insts.Encoding(binary.LittleEndian.Uint32(ci.Code[off:])), nil
}
