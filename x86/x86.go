// Package x86 emits x86-64 machine code into an in-memory buffer.
//
// The emitter covers the instruction subset the code generators produce:
// integer moves and arithmetic, flag capture via SETcc, conditional and
// unconditional branches with patchable rel32 displacements, locked
// read-modify-write forms, and the packed-integer SSE2 operations used
// for vector registers. Every method appends the exact encoding bytes
// (prefixes, REX, opcode, ModRM/SIB, immediates) for one instruction.
package x86
