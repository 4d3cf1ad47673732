// Package translate converts ARM64 instruction words into x86-64 host
// code, one basic block at a time.
//
// The dispatcher hands each instruction word to a fixed-priority list of
// instruction families; the matching family emits host code into the
// block's code buffer. Register values live in a memory-resident
// ThreadState addressed through a reserved host base register, and the
// NZCV flags are a software word in that state, so translation is a pure
// function of the encoding: no guest register value is ever consulted at
// translation time, only immediates and PC-relative constants are folded
// into the generated code.
package translate

import (
	"errors"
	"fmt"

	"github.com/Inokinoki/attesor-sub000/insts"
)

// Outcome reports what the dispatcher did with one instruction word.
type Outcome int

// Dispatch outcomes.
const (
	// OutcomeHandled means code was emitted and the block continues.
	OutcomeHandled Outcome = iota
	// OutcomeTerminated means code was emitted and the block must end
	// here (branch, return, system call, halt).
	OutcomeTerminated
	// OutcomeUnrecognized means no family matched the word.
	OutcomeUnrecognized
)

// Errors escalated by the block builder.
var (
	ErrBufferFull   = errors.New("translate: code buffer exhausted")
	ErrUnrecognized = errors.New("translate: unrecognized instruction")
	ErrBadState     = errors.New("translate: block builder state")
)

// FaultKind classifies conditions reported to the fault collaborator.
type FaultKind int

// Fault kinds.
const (
	FaultUndefined FaultKind = iota
	FaultAlignment
	FaultBreakpoint
	FaultHalt
)

func (k FaultKind) String() string {
	switch k {
	case FaultUndefined:
		return "undefined instruction"
	case FaultAlignment:
		return "alignment"
	case FaultBreakpoint:
		return "breakpoint"
	case FaultHalt:
		return "halt"
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// FaultHandler receives faults discovered during translation. Raise
// reports whether translation may continue past the faulting
// instruction; a false return terminates the block.
type FaultHandler interface {
	Raise(kind FaultKind, pc uint64, encoding insts.Encoding) bool
}

// SyscallHandler services guest system calls between block executions.
// The call number arrives in X8 and the arguments in X0-X5; the returned
// value is written back to X0 by the caller.
type SyscallHandler interface {
	Syscall(num uint64, args [6]uint64) uint64
}

// StatsCollector receives counting hooks. Implementations must tolerate
// calls from the translation hot path; the translator never reads any
// state back.
type StatsCollector interface {
	CacheHit()
	CacheMiss()
	BlockTranslated(guestPC uint64, insns int, hostBytes int)
	Family(name string)
	UnknownInstruction(pc uint64, encoding insts.Encoding)
}

// NopStats is the default collaborator; every hook is a no-op.
type NopStats struct{}

func (NopStats) CacheHit()                                 {}
func (NopStats) CacheMiss()                                {}
func (NopStats) BlockTranslated(uint64, int, int)          {}
func (NopStats) Family(string)                             {}
func (NopStats) UnknownInstruction(uint64, insts.Encoding) {}

// abortFaults is the default fault handler: nothing is continuable.
type abortFaults struct{}

func (abortFaults) Raise(FaultKind, uint64, insts.Encoding) bool { return false }
