package x86

// Reg identifies an x86-64 general-purpose register by its hardware
// number. Registers 8-15 set the relevant REX extension bit.
type Reg uint8

// General-purpose registers.
const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15
)

func (r Reg) lowBits() byte { return byte(r) & 7 }
func (r Reg) hiBit() byte   { return byte(r) >> 3 }

// needsByteREX reports whether addressing the low byte of r requires a
// REX prefix (SPL/BPL/SIL/DIL vs AH/CH/DH/BH).
func (r Reg) needsByteREX() bool { return r >= RSP }

func (r Reg) String() string {
	names := [16]string{
		"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	}
	return names[r&0xF]
}

// Xmm identifies an SSE vector register.
type Xmm uint8

// SSE registers.
const (
	XMM0 Xmm = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
)

func (x Xmm) lowBits() byte { return byte(x) & 7 }
func (x Xmm) hiBit() byte   { return byte(x) >> 3 }

// Width selects the operand size of an integer instruction.
type Width uint8

// Operand widths. W64 adds REX.W; W32 forms zero-extend into the full
// destination register, matching the ARM64 32-bit register behavior.
const (
	W32 Width = 0
	W64 Width = 1
)

// WidthFor maps an ARM64 sf bit to the matching operand width.
func WidthFor(is64 bool) Width {
	if is64 {
		return W64
	}
	return W32
}

// Mem is a base-plus-displacement memory operand.
type Mem struct {
	Base Reg
	Disp int32
}
