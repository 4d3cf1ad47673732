// Package guest defines the ARM64 guest CPU state operated on by
// generated host code.
package guest

import "unsafe"

// NZCV flag word bit positions, matching the ARM64 PSTATE layout.
const (
	FlagN uint64 = 1 << 31
	FlagZ uint64 = 1 << 30
	FlagC uint64 = 1 << 29
	FlagV uint64 = 1 << 28
)

// ExitReason tells the dispatch loop why a translated block returned.
type ExitReason uint64

// Exit reasons written by generated code before returning to the dispatcher.
const (
	// ExitContinue means PC holds the next guest address to execute.
	ExitContinue ExitReason = iota
	// ExitSyscall means an SVC was reached; the syscall number and
	// arguments are in the fixed registers (X8, X0-X5).
	ExitSyscall
	// ExitTrap means a BRK was reached; ExitData holds the immediate.
	ExitTrap
	// ExitHalt means an HLT was reached; ExitData holds the immediate.
	ExitHalt
)

// Vec128 is one 128-bit vector/FP register.
type Vec128 [2]uint64

// ThreadState is the canonical guest register file for one execution
// context. It lives in ordinary memory and is addressed by generated code
// through a reserved host base register, so its layout is part of the
// translator's ABI: generated blocks embed the field offsets below as
// displacement constants.
//
// At run time the state is mutated only by generated host code. The
// translator itself never writes register values; the one exception is
// that immediates and PC-relative displacements are folded at translation
// time into the emitted instruction stream.
type ThreadState struct {
	// X holds the general-purpose registers X0-X30. Index 31 is not
	// stored: it reads as zero (XZR) or aliases SP depending on the
	// instruction context.
	X [31]uint64

	// SP is the stack pointer.
	SP uint64

	// PC is the guest program counter. Generated code stores the next
	// guest address here before every exit.
	PC uint64

	// NZCV is the software condition-flag word (ARM bit layout, bits
	// 31..28). It is maintained entirely by generated code and never
	// aliases the host CPU's flags register.
	NZCV uint64

	// Exclusive-monitor state for LDXR/STXR style instructions.
	ExclAddr  uint64
	ExclData  uint64
	ExclValid uint64

	// ExitReason and ExitData are written by generated code immediately
	// before returning control to the dispatcher.
	ExitReason uint64
	ExitData   uint64

	// V holds the 32 vector/FP registers.
	V [32]Vec128

	// FP control and status words.
	FPCR uint64
	FPSR uint64
}

// Field displacements from the state base pointer, as embedded in
// generated code. All are well inside the int32 displacement range.
var (
	zeroState ThreadState

	offX      = int32(unsafe.Offsetof(zeroState.X))
	offSP     = int32(unsafe.Offsetof(zeroState.SP))
	offPC     = int32(unsafe.Offsetof(zeroState.PC))
	offNZCV   = int32(unsafe.Offsetof(zeroState.NZCV))
	offExAddr = int32(unsafe.Offsetof(zeroState.ExclAddr))
	offExData = int32(unsafe.Offsetof(zeroState.ExclData))
	offExOK   = int32(unsafe.Offsetof(zeroState.ExclValid))
	offReason = int32(unsafe.Offsetof(zeroState.ExitReason))
	offData   = int32(unsafe.Offsetof(zeroState.ExitData))
	offV      = int32(unsafe.Offsetof(zeroState.V))
)

// OffX returns the displacement of general register r (0-30).
// Passing 31 is an error in the caller: XZR and SP have no X slot.
func OffX(r uint8) int32 {
	if r >= 31 {
		panic("guest: no state slot for register 31")
	}
	return offX + int32(r)*8
}

// OffSP returns the displacement of the stack pointer.
func OffSP() int32 { return offSP }

// OffPC returns the displacement of the program counter.
func OffPC() int32 { return offPC }

// OffNZCV returns the displacement of the condition-flag word.
func OffNZCV() int32 { return offNZCV }

// OffExclAddr returns the displacement of the exclusive-monitor address.
func OffExclAddr() int32 { return offExAddr }

// OffExclData returns the displacement of the exclusive-monitor data.
func OffExclData() int32 { return offExData }

// OffExclValid returns the displacement of the exclusive-monitor flag.
func OffExclValid() int32 { return offExOK }

// OffExitReason returns the displacement of the exit-reason word.
func OffExitReason() int32 { return offReason }

// OffExitData returns the displacement of the exit-data word.
func OffExitData() int32 { return offData }

// OffV returns the displacement of vector register v (0-31).
func OffV(v uint8) int32 {
	if v >= 32 {
		panic("guest: vector register out of range")
	}
	return offV + int32(v)*16
}

// ReadReg reads general register r, with register 31 reading as zero.
func (s *ThreadState) ReadReg(r uint8) uint64 {
	if r >= 31 {
		return 0
	}
	return s.X[r]
}

// WriteReg writes general register r, discarding writes to register 31.
func (s *ThreadState) WriteReg(r uint8, v uint64) {
	if r >= 31 {
		return
	}
	s.X[r] = v
}

// ReadRegOrSP reads register r treating index 31 as SP, the interpretation
// used by add/sub immediate and load/store base registers.
func (s *ThreadState) ReadRegOrSP(r uint8) uint64 {
	if r == 31 {
		return s.SP
	}
	return s.X[r]
}

// WriteRegOrSP writes register r treating index 31 as SP.
func (s *ThreadState) WriteRegOrSP(r uint8, v uint64) {
	if r == 31 {
		s.SP = v
		return
	}
	s.X[r] = v
}

// Flag reports whether the given NZCV bit is set.
func (s *ThreadState) Flag(mask uint64) bool {
	return s.NZCV&mask != 0
}

// SetFlags replaces the NZCV word from four booleans.
func (s *ThreadState) SetFlags(n, z, c, v bool) {
	var w uint64
	if n {
		w |= FlagN
	}
	if z {
		w |= FlagZ
	}
	if c {
		w |= FlagC
	}
	if v {
		w |= FlagV
	}
	s.NZCV = w
}

// Base returns the state's address for pinning in the reserved host base
// register. The caller must keep the ThreadState alive and immovable for
// as long as generated code may run against it.
func (s *ThreadState) Base() uintptr {
	return uintptr(unsafe.Pointer(s))
}
