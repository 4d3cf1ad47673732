// Package insts provides ARM64 instruction word accessors and shared
// decoding helpers.
//
// ARM64 instructions are fixed 32-bit words. Rather than decoding into a
// structured intermediate form, the translator works directly on the raw
// word: each instruction family recognizes its encodings with mask
// predicates and pulls out the fields it needs through the Encoding
// accessors defined here.
//
// Usage:
//
//	e := insts.Encoding(0x91002820) // ADD X0, X1, #10
//	rd, rn, imm := e.Rd(), e.Rn(), e.Imm12()
package insts
