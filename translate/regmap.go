package translate

import (
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// Host register conventions for generated code.
//
// The guest register file lives in memory; every guest register access
// is an explicit load or store against the state base. Scratch registers
// hold values only within the translation of a single instruction.
const (
	// regState is the pinned guest-state base, set by the execution
	// thunk before entering generated code and never written by it.
	// R14 is avoided entirely: the Go runtime reserves it.
	regState = x86.R15

	// Primary scratch registers. regOpA receives results; regOpB holds
	// the second operand; regCount is RCX for variable shift counts;
	// regAddr holds effective addresses in the memory family.
	regOpA   = x86.RAX
	regOpB   = x86.RDI
	regOpC   = x86.RDX
	regCount = x86.RCX
	regAddr  = x86.RSI

	// Flag-capture scratch, clobbered by flag sequences and condition
	// evaluation only.
	regFlagA = x86.R9
	regFlagB = x86.R10
	regFlagC = x86.R11
	regFlagD = x86.R8
)

// Context carries the per-instruction emission state handed to every
// family translator: the output buffer, the guest address of the word
// being translated, and the owning block for exit bookkeeping.
type Context struct {
	Buf *x86.CodeBuffer

	// PC is the guest address of the instruction being translated.
	PC uint64

	block *BlockBuilder
	stats StatsCollector
}

func stateMem(disp int32) x86.Mem {
	return x86.Mem{Base: regState, Disp: disp}
}

// loadReg loads guest register r into dst, with register 31 reading as
// zero.
func (c *Context) loadReg(w x86.Width, dst x86.Reg, r uint8) {
	if r == 31 {
		c.Buf.XorZero(dst)
		return
	}
	c.Buf.MovRegMem(w, dst, stateMem(guest.OffX(r)))
}

// loadRegOrSP loads guest register r into dst, with register 31 reading
// SP (the add/sub-immediate and load/store-base interpretation).
func (c *Context) loadRegOrSP(w x86.Width, dst x86.Reg, r uint8) {
	if r == 31 {
		c.Buf.MovRegMem(w, dst, stateMem(guest.OffSP()))
		return
	}
	c.Buf.MovRegMem(w, dst, stateMem(guest.OffX(r)))
}

// storeReg stores src into guest register r, discarding writes to
// register 31. A 32-bit result zero-extends into the full slot, matching
// the architectural W-register write.
func (c *Context) storeReg(w x86.Width, r uint8, src x86.Reg) {
	if r == 31 {
		return
	}
	if w == x86.W32 {
		c.Buf.MovRegReg(x86.W32, src, src)
	}
	c.Buf.MovMemReg(x86.W64, stateMem(guest.OffX(r)), src)
}

// storeRegOrSP stores src into guest register r, with register 31
// meaning SP.
func (c *Context) storeRegOrSP(w x86.Width, r uint8, src x86.Reg) {
	if w == x86.W32 {
		c.Buf.MovRegReg(x86.W32, src, src)
	}
	if r == 31 {
		c.Buf.MovMemReg(x86.W64, stateMem(guest.OffSP()), src)
		return
	}
	c.Buf.MovMemReg(x86.W64, stateMem(guest.OffX(r)), src)
}

// loadImm materializes a 64-bit constant in dst, using the short
// zero-extending form when the value allows.
func (c *Context) loadImm(dst x86.Reg, imm uint64) {
	if imm == 0 {
		c.Buf.XorZero(dst)
		return
	}
	if imm == uint64(uint32(imm)) {
		c.Buf.MovRegImm32(dst, uint32(imm))
		return
	}
	c.Buf.MovRegImm64(dst, imm)
}

// addImm adds a 64-bit constant to r, routing large values through a
// flag scratch register. Host flags after this call reflect the final
// addition.
func (c *Context) addImm(w x86.Width, r x86.Reg, imm uint64) {
	if imm == uint64(uint32(imm)) && int32(uint32(imm)) >= 0 {
		c.Buf.AddRegImm32(w, r, uint32(imm))
		return
	}
	c.loadImm(regFlagD, imm)
	c.Buf.AddRegReg(w, r, regFlagD)
}

// subImm subtracts a 64-bit constant from r under the same rules as
// addImm.
func (c *Context) subImm(w x86.Width, r x86.Reg, imm uint64) {
	if imm == uint64(uint32(imm)) && int32(uint32(imm)) >= 0 {
		c.Buf.SubRegImm32(w, r, uint32(imm))
		return
	}
	c.loadImm(regFlagD, imm)
	c.Buf.SubRegReg(w, r, regFlagD)
}
