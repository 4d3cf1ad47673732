package translate

import (
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// chainSiteLen is the width of a chainable exit: a RET padded with NOPs
// to exactly the length of a JMP rel32, so the cache can patch the site
// in place.
const chainSiteLen = 5

// emitSetPCImm stores a translation-time-constant guest PC.
func (c *Context) emitSetPCImm(pc uint64) {
	c.loadImm(regFlagA, pc)
	c.Buf.MovMemReg(x86.W64, stateMem(guest.OffPC()), regFlagA)
}

// emitSetPCReg stores a run-time guest PC held in src.
func (c *Context) emitSetPCReg(src x86.Reg) {
	c.Buf.MovMemReg(x86.W64, stateMem(guest.OffPC()), src)
}

// emitSetExitReason records why the block is returning to the dispatcher.
func (c *Context) emitSetExitReason(reason guest.ExitReason, data uint64) {
	c.loadImm(regFlagA, uint64(reason))
	c.Buf.MovMemReg(x86.W64, stateMem(guest.OffExitReason()), regFlagA)
	if reason == guest.ExitTrap || reason == guest.ExitHalt ||
		reason == guest.ExitSyscall {
		c.loadImm(regFlagA, data)
		c.Buf.MovMemReg(x86.W64, stateMem(guest.OffExitData()), regFlagA)
	}
}

// emitChainableExit ends the current code path with a return to the
// dispatcher that the cache may later patch into a direct jump to the
// block translated for target. The exit site is RET plus four NOPs,
// exactly a JMP rel32 wide.
func (c *Context) emitChainableExit(target uint64) {
	c.emitSetPCImm(target)
	c.emitSetExitReason(guest.ExitContinue, 0)
	pos := c.Buf.Pos()
	c.Buf.Ret()
	for i := 1; i < chainSiteLen; i++ {
		c.Buf.Nop()
	}
	if c.block != nil {
		c.block.recordChainSite(pos, target)
	}
}

// emitPlainExit ends the current code path with an unpatchable return.
// The guest PC must already have been stored.
func (c *Context) emitPlainExit(reason guest.ExitReason, data uint64) {
	c.emitSetExitReason(reason, data)
	c.Buf.Ret()
}
