package translate

import (
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// The system/atomic family: exception generation, hints, barriers,
// acquire/release accesses, exclusive load/store via the software
// monitor, the LSE read-modify-write atomics and compare-and-swap.

func isTrap(e insts.Encoding) bool {
	w := uint32(e)
	return w&0xFFE0001F == 0xD4000001 || // SVC
		w&0xFFE0001F == 0xD4200000 || // BRK
		w&0xFFE0001F == 0xD4400000 // HLT
}

func isHint(e insts.Encoding) bool {
	return uint32(e)&0xFFFFF01F == 0xD503201F
}

func isBarrier(e insts.Encoding) bool {
	w := uint32(e) & 0xFFFFF0FF
	return w == 0xD503309F || w == 0xD50330BF || w == 0xD50330DF
}

func isExclusiveGroup(e insts.Encoding) bool {
	return e.Bits(29, 24) == 0b001000
}

func isLSE(e insts.Encoding) bool {
	return e.Bits(29, 27) == 0b111 && !e.Bit(26) && e.Bits(25, 24) == 0 &&
		e.Bit(21) && e.Bits(11, 10) == 0
}

func isSystem(e insts.Encoding) bool {
	return isTrap(e) || isHint(e) || isBarrier(e) || isExclusiveGroup(e) ||
		isLSE(e)
}

func translateSystem(c *Context, e insts.Encoding) Outcome {
	switch {
	case isTrap(e):
		return translateTrap(c, e)
	case isHint(e):
		return OutcomeHandled // NOP/YIELD/WFE/WFI/SEV: nothing to do
	case isBarrier(e):
		return translateBarrier(c, e)
	case isExclusiveGroup(e):
		return translateExclusiveGroup(c, e)
	default:
		return translateLSE(c, e)
	}
}

// translateTrap handles SVC, BRK and HLT, each a block terminator
// returning a distinct exit reason to the dispatcher.
func translateTrap(c *Context, e insts.Encoding) Outcome {
	w := uint32(e)
	imm := uint64(e.TrapImm16())
	switch {
	case w&0xFFE0001F == 0xD4000001: // SVC
		// Resume after the call once the handler has run.
		c.emitSetPCImm(c.PC + 4)
		c.emitPlainExit(guest.ExitSyscall, imm)
	case w&0xFFE0001F == 0xD4200000: // BRK
		if c.block != nil {
			c.block.fault.Raise(FaultBreakpoint, c.PC, e)
		}
		c.emitSetPCImm(c.PC)
		c.emitPlainExit(guest.ExitTrap, imm)
	default: // HLT
		if c.block != nil {
			c.block.fault.Raise(FaultHalt, c.PC, e)
		}
		c.emitSetPCImm(c.PC)
		c.emitPlainExit(guest.ExitHalt, imm)
	}
	return OutcomeTerminated
}

// translateBarrier maps DMB/DSB to a full fence and ISB to a load fence,
// the closest host orderings.
func translateBarrier(c *Context, e insts.Encoding) Outcome {
	if uint32(e)&0xFFFFF0FF == 0xD50330DF { // ISB
		c.Buf.Lfence()
	} else {
		c.Buf.Mfence()
	}
	return OutcomeHandled
}

// translateExclusiveGroup routes the 001000 page: plain exclusives,
// LDAR/STLR, and compare-and-swap.
func translateExclusiveGroup(c *Context, e insts.Encoding) Outcome {
	o2 := e.Bit(23)
	o1 := e.Bit(21)
	switch {
	case o1 && o2:
		return translateCAS(c, e)
	case o1:
		return OutcomeUnrecognized // pair exclusives
	case o2:
		return translateAcqRel(c, e)
	default:
		return translateExclusive(c, e)
	}
}

// translateAcqRel handles LDAR and STLR. Host loads already order like
// acquire loads; the release store takes a trailing full fence to keep
// it sequentially consistent against later guest loads.
func translateAcqRel(c *Context, e insts.Encoding) Outcome {
	size := e.Size()
	load := e.Bit(22)

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	if load {
		return c.emitAccess(size, 0b01, e.Rd())
	}
	out := c.emitAccess(size, 0b00, e.Rd())
	c.Buf.Mfence()
	return out
}

// translateExclusive handles LDXR/LDAXR and STXR/STLXR through the
// exclusive monitor kept in the thread state. The store succeeds only if
// the monitor is armed for this address and the memory still holds the
// value observed by the load; the compare-and-store itself is one locked
// host instruction.
func translateExclusive(c *Context, e insts.Encoding) Outcome {
	size := e.Size()
	load := e.Bit(22)
	b := c.Buf

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())

	if load {
		out := c.emitAccess(size, 0b01, e.Rd()) // leaves the value in regOpA
		if out != OutcomeHandled {
			return out
		}
		b.MovMemReg(x86.W64, stateMem(guest.OffExclAddr()), regAddr)
		b.MovMemReg(x86.W64, stateMem(guest.OffExclData()), regOpA)
		c.loadImm(regOpC, 1)
		b.MovMemReg(x86.W64, stateMem(guest.OffExclValid()), regOpC)
		return OutcomeHandled
	}

	rs := e.Rm() // status register
	mem := x86.Mem{Base: regAddr}

	b.MovRegMem(x86.W64, regOpC, stateMem(guest.OffExclValid()))
	b.TestRegReg(x86.W64, regOpC, regOpC)
	jFail1 := b.Jcc(x86.CCE)
	b.MovRegMem(x86.W64, regOpC, stateMem(guest.OffExclAddr()))
	b.CmpRegReg(x86.W64, regOpC, regAddr)
	jFail2 := b.Jcc(x86.CCNE)

	// RAX = the value the monitor observed; swap in the new value only
	// if memory still agrees.
	b.MovRegMem(x86.W64, regOpA, stateMem(guest.OffExclData()))
	c.loadReg(x86.W64, regOpB, e.Rd())
	switch size {
	case 0:
		b.LockCmpxchgMemReg8(mem, regOpB)
	case 1:
		b.LockCmpxchgMemReg16(mem, regOpB)
	case 2:
		b.LockCmpxchgMemReg(x86.W32, mem, regOpB)
	default:
		b.LockCmpxchgMemReg(x86.W64, mem, regOpB)
	}
	jFail3 := b.Jcc(x86.CCNE)

	c.Buf.XorZero(regOpC) // status 0: success
	jDone := b.Jmp()

	b.PatchRel32(jFail1, b.Pos())
	b.PatchRel32(jFail2, b.Pos())
	b.PatchRel32(jFail3, b.Pos())
	c.loadImm(regOpC, 1) // status 1: failure

	b.PatchRel32(jDone, b.Pos())
	c.storeReg(x86.W32, rs, regOpC)
	c.Buf.XorZero(regOpC)
	b.MovMemReg(x86.W64, stateMem(guest.OffExclValid()), regOpC)
	return OutcomeHandled
}

// translateCAS handles CAS/CASA/CASL/CASAL and the byte/halfword forms.
// The locked host compare-exchange already carries every ordering the
// variants ask for.
func translateCAS(c *Context, e insts.Encoding) Outcome {
	size := e.Size()
	rs := e.Rm()
	b := c.Buf

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	c.loadReg(x86.W64, regOpA, rs)     // expected, into RAX
	c.loadReg(x86.W64, regOpB, e.Rd()) // replacement
	mem := x86.Mem{Base: regAddr}
	switch size {
	case 0:
		b.LockCmpxchgMemReg8(mem, regOpB)
		b.MovzxRegReg8(regOpA, regOpA)
	case 1:
		b.LockCmpxchgMemReg16(mem, regOpB)
		b.MovzxRegReg16(regOpA, regOpA)
	case 2:
		b.LockCmpxchgMemReg(x86.W32, mem, regOpB)
		b.MovRegReg(x86.W32, regOpA, regOpA)
	default:
		b.LockCmpxchgMemReg(x86.W64, mem, regOpB)
	}
	// The prior memory value lands in Rs whether or not the swap won.
	c.storeReg(x86.W64, rs, regOpA)
	return OutcomeHandled
}

// translateLSE handles the LSE read-modify-write atomics. LDADD maps to
// a locked exchange-and-add and SWP to an exchange; LDCLR/LDEOR/LDSET
// have no single host equivalent and run as locked compare-exchange
// retry loops whose back edge re-reads the current value after a lost
// race.
func translateLSE(c *Context, e insts.Encoding) Outcome {
	size := e.Size()
	o3 := e.Bit(15)
	opc := e.Bits(14, 12)
	rs, rt := e.Rm(), e.Rd()
	b := c.Buf

	c.loadRegOrSP(x86.W64, regAddr, e.Rn())
	mem := x86.Mem{Base: regAddr}

	if o3 { // SWP
		if opc != 0 {
			return OutcomeUnrecognized
		}
		c.loadReg(x86.W64, regOpB, rs)
		switch size {
		case 0:
			b.XchgMemReg8(mem, regOpB)
			b.MovzxRegReg8(regOpB, regOpB)
		case 1:
			b.XchgMemReg16(mem, regOpB)
			b.MovzxRegReg16(regOpB, regOpB)
		case 2:
			b.XchgMemReg(x86.W32, mem, regOpB)
		default:
			b.XchgMemReg(x86.W64, mem, regOpB)
		}
		c.storeReg(x86.W64, rt, regOpB)
		return OutcomeHandled
	}

	switch opc {
	case 0b000: // LDADD
		c.loadReg(x86.W64, regOpB, rs)
		switch size {
		case 0:
			b.LockXaddMemReg8(mem, regOpB)
			b.MovzxRegReg8(regOpB, regOpB)
		case 1:
			b.LockXaddMemReg16(mem, regOpB)
			b.MovzxRegReg16(regOpB, regOpB)
		case 2:
			b.LockXaddMemReg(x86.W32, mem, regOpB)
		default:
			b.LockXaddMemReg(x86.W64, mem, regOpB)
		}
		c.storeReg(x86.W64, rt, regOpB)
		return OutcomeHandled

	case 0b001, 0b010, 0b011: // LDCLR, LDEOR, LDSET
		c.loadReg(x86.W64, regOpB, rs)
		if opc == 0b001 {
			b.NotReg(x86.W64, regOpB) // LDCLR is AND NOT
		}
		c.emitSizedLoad(size, regOpA, mem)

		retry := b.Pos()
		b.MovRegReg(x86.W64, regOpC, regOpA)
		switch opc {
		case 0b001:
			b.AndRegReg(x86.W64, regOpC, regOpB)
		case 0b010:
			b.XorRegReg(x86.W64, regOpC, regOpB)
		case 0b011:
			b.OrRegReg(x86.W64, regOpC, regOpB)
		}
		switch size {
		case 0:
			b.LockCmpxchgMemReg8(mem, regOpC)
			b.MovzxRegReg8(regOpA, regOpA)
		case 1:
			b.LockCmpxchgMemReg16(mem, regOpC)
			b.MovzxRegReg16(regOpA, regOpA)
		case 2:
			b.LockCmpxchgMemReg(x86.W32, mem, regOpC)
		default:
			b.LockCmpxchgMemReg(x86.W64, mem, regOpC)
		}
		// A lost race leaves the current value in RAX; go again.
		jRetry := b.Jcc(x86.CCNE)
		b.PatchRel32(jRetry, retry)

		c.storeReg(x86.W64, rt, regOpA)
		return OutcomeHandled
	}
	return OutcomeUnrecognized
}

// emitSizedLoad zero-extends a sized load from mem into dst.
func (c *Context) emitSizedLoad(size uint8, dst x86.Reg, mem x86.Mem) {
	b := c.Buf
	switch size {
	case 0:
		b.MovzxRegMem8(dst, mem)
	case 1:
		b.MovzxRegMem16(dst, mem)
	case 2:
		b.MovRegMem(x86.W32, dst, mem)
	default:
		b.MovRegMem(x86.W64, dst, mem)
	}
}
