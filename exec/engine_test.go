//go:build linux && amd64

package exec_test

import (
	"encoding/binary"
	"math/rand"
	"unsafe"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/Inokinoki/attesor-sub000/exec"
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/transcache"
	"github.com/Inokinoki/attesor-sub000/translate"
)

// ---- instruction encoders (64-bit operand size) ----

func movz(rd uint8, imm16 uint16, hw uint8) uint32 {
	return 0xD2800000 | uint32(hw)<<21 | uint32(imm16)<<5 | uint32(rd)
}

func movk(rd uint8, imm16 uint16, hw uint8) uint32 {
	return 0xF2800000 | uint32(hw)<<21 | uint32(imm16)<<5 | uint32(rd)
}

func addImm(rd, rn uint8, imm12 uint32) uint32 {
	return 0x91000000 | imm12<<10 | uint32(rn)<<5 | uint32(rd)
}

func subsImm(rd, rn uint8, imm12 uint32) uint32 {
	return 0xF1000000 | imm12<<10 | uint32(rn)<<5 | uint32(rd)
}

func addReg(rd, rn, rm uint8) uint32 {
	return 0x8B000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

func addsReg(rd, rn, rm uint8) uint32 {
	return 0xAB000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

func subsReg(rd, rn, rm uint8) uint32 {
	return 0xEB000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

func udiv(rd, rn, rm uint8) uint32 {
	return 0x9AC00800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

func sdiv(rd, rn, rm uint8) uint32 {
	return 0x9AC00C00 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

func lslv(rd, rn, rm uint8) uint32 {
	return 0x9AC02000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

func csel(rd, rn, rm, cond uint8) uint32 {
	return 0x9A800000 | uint32(rm)<<16 | uint32(cond)<<12 | uint32(rn)<<5 | uint32(rd)
}

func strImm(rt, rn uint8, scaled uint32) uint32 {
	return 0xF9000000 | scaled<<10 | uint32(rn)<<5 | uint32(rt)
}

func ldrImm(rt, rn uint8, scaled uint32) uint32 {
	return 0xF9400000 | scaled<<10 | uint32(rn)<<5 | uint32(rt)
}

func ldadd(rs, rt, rn uint8) uint32 {
	return 0xF8200000 | uint32(rs)<<16 | uint32(rn)<<5 | uint32(rt)
}

func ldclr(rs, rt, rn uint8) uint32 {
	return 0xF8201000 | uint32(rs)<<16 | uint32(rn)<<5 | uint32(rt)
}

func ldxr(rt, rn uint8) uint32 {
	return 0xC85F7C00 | uint32(rn)<<5 | uint32(rt)
}

func stxr(rs, rt, rn uint8) uint32 {
	return 0xC8007C00 | uint32(rs)<<16 | uint32(rn)<<5 | uint32(rt)
}

func cas(rs, rt, rn uint8) uint32 {
	return 0xC8A07C00 | uint32(rs)<<16 | uint32(rn)<<5 | uint32(rt)
}

func b(words int32) uint32 {
	return 0x14000000 | uint32(words)&0x03FFFFFF
}

func bcond(cond uint8, words int32) uint32 {
	return 0x54000000 | (uint32(words)&0x7FFFF)<<5 | uint32(cond)
}

func brk(imm16 uint16) uint32 {
	return 0xD4200000 | uint32(imm16)<<5
}

const (
	svc0 = 0xD4000001
	ret  = 0xD65F03C0
)

// exitSeq ends a guest program: exit(X0).
func exitSeq() []uint32 {
	return []uint32{movz(8, 93, 0), svc0}
}

// ---- harness ----

// harness maps a guest program into memory at its own host address and
// wires an engine around it.
type harness struct {
	state  *guest.ThreadState
	engine *exec.Engine
	arena  *transcache.Arena
	mem    []byte
}

func newHarness(words []uint32) *harness {
	mem, err := unix.Mmap(-1, 0, 4*len(words),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	Expect(err).NotTo(HaveOccurred())
	for i, w := range words {
		binary.LittleEndian.PutUint32(mem[4*i:], w)
	}

	arena, err := transcache.NewArena(1 << 20)
	Expect(err).NotTo(HaveOccurred())

	pc := uint64(uintptr(unsafe.Pointer(&mem[0])))
	state := &guest.ThreadState{}
	state.PC = pc

	cache := transcache.NewCache(256, arena)
	builder := translate.NewBlockBuilder(translate.DefaultConfig())
	fetch := &exec.HostMemory{Lo: pc, Hi: pc + uint64(len(mem))}
	engine := exec.NewEngine(state, cache, builder, fetch).
		WithSyscalls(exec.NewPassthroughSyscalls(nil))
	engine.MaxDispatches = 10000

	return &harness{state: state, engine: engine, arena: arena, mem: mem}
}

func (h *harness) pc() uint64 {
	return uint64(uintptr(unsafe.Pointer(&h.mem[0])))
}

func (h *harness) close() {
	_ = unix.Munmap(h.mem)
	_ = h.arena.Close()
}

// ---- reference flag model ----

func flags(n, z, c, v bool) uint64 {
	var w uint64
	if n {
		w |= guest.FlagN
	}
	if z {
		w |= guest.FlagZ
	}
	if c {
		w |= guest.FlagC
	}
	if v {
		w |= guest.FlagV
	}
	return w
}

func addFlags(a, b uint64) uint64 {
	r := a + b
	return flags(
		int64(r) < 0,
		r == 0,
		r < a,
		((a^r)&(b^r))>>63 != 0,
	)
}

func subFlags(a, b uint64) uint64 {
	r := a - b
	return flags(
		int64(r) < 0,
		r == 0,
		a >= b,
		((a^b)&(a^r))>>63 != 0,
	)
}

var _ = Describe("Engine", func() {
	var h *harness

	AfterEach(func() {
		if h != nil {
			h.close()
			h = nil
		}
	})

	Describe("straight-line execution", func() {
		It("should run a small arithmetic block", func() {
			h = newHarness([]uint32{
				movz(0, 5, 0),
				movz(1, 7, 0),
				addReg(0, 0, 1),
				ret,
			})
			h.state.X[30] = 0x4000

			reason, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reason).To(Equal(guest.ExitContinue))
			Expect(h.state.X[0]).To(Equal(uint64(12)))
			Expect(h.state.X[1]).To(Equal(uint64(7)))
			Expect(h.state.PC).To(Equal(uint64(0x4000)))
		})

		It("should build wide constants with MOVZ and MOVK", func() {
			h = newHarness([]uint32{
				movz(0, 0x1234, 3),
				movk(0, 0x5678, 2),
				movk(0, 0x9ABC, 1),
				movk(0, 0xDEF0, 0),
				ret,
			})
			reason, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(reason).To(Equal(guest.ExitContinue))
			Expect(h.state.X[0]).To(Equal(uint64(0x123456789ABCDEF0)))
		})

		It("should run to an exit syscall", func() {
			h = newHarness(append([]uint32{movz(0, 42, 0)}, exitSeq()...))

			code, err := h.engine.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(42))
		})
	})

	Describe("condition flags", func() {
		operands := []uint64{
			0, 1, 2, 42,
			0x7FFFFFFFFFFFFFFF,
			0x8000000000000000,
			0xFFFFFFFFFFFFFFFF,
			0xFFFFFFFF80000000,
			0x0000000100000000,
		}

		It("should match the architectural model for ADDS", func() {
			h = newHarness([]uint32{addsReg(0, 1, 2), ret})

			for _, a := range operands {
				for _, bb := range operands {
					h.state.PC = h.pc()
					h.state.X[1] = a
					h.state.X[2] = bb
					_, err := h.engine.Step()
					Expect(err).NotTo(HaveOccurred())
					Expect(h.state.X[0]).To(Equal(a+bb), "ADDS %#x %#x", a, bb)
					Expect(h.state.NZCV).To(Equal(addFlags(a, bb)),
						"NZCV for ADDS %#x %#x", a, bb)
				}
			}

			rng := rand.New(rand.NewSource(0x5EED))
			for i := 0; i < 256; i++ {
				a, bb := rng.Uint64(), rng.Uint64()
				h.state.PC = h.pc()
				h.state.X[1] = a
				h.state.X[2] = bb
				_, err := h.engine.Step()
				Expect(err).NotTo(HaveOccurred())
				Expect(h.state.X[0]).To(Equal(a+bb), "ADDS %#x %#x", a, bb)
				Expect(h.state.NZCV).To(Equal(addFlags(a, bb)),
					"NZCV for ADDS %#x %#x", a, bb)
			}
		})

		It("should match the architectural model for SUBS", func() {
			h = newHarness([]uint32{subsReg(0, 1, 2), ret})

			for _, a := range operands {
				for _, bb := range operands {
					h.state.PC = h.pc()
					h.state.X[1] = a
					h.state.X[2] = bb
					_, err := h.engine.Step()
					Expect(err).NotTo(HaveOccurred())
					Expect(h.state.X[0]).To(Equal(a-bb), "SUBS %#x %#x", a, bb)
					Expect(h.state.NZCV).To(Equal(subFlags(a, bb)),
						"NZCV for SUBS %#x %#x", a, bb)
				}
			}

			rng := rand.New(rand.NewSource(0x5EED))
			for i := 0; i < 256; i++ {
				a, bb := rng.Uint64(), rng.Uint64()
				h.state.PC = h.pc()
				h.state.X[1] = a
				h.state.X[2] = bb
				_, err := h.engine.Step()
				Expect(err).NotTo(HaveOccurred())
				Expect(h.state.X[0]).To(Equal(a-bb), "SUBS %#x %#x", a, bb)
				Expect(h.state.NZCV).To(Equal(subFlags(a, bb)),
					"NZCV for SUBS %#x %#x", a, bb)
			}
		})
	})

	Describe("conditional select", func() {
		It("should pick by the stored flags", func() {
			h = newHarness([]uint32{csel(0, 1, 2, 0), ret}) // CSEL ..., EQ
			h.state.X[1] = 111
			h.state.X[2] = 222

			h.state.NZCV = guest.FlagZ
			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.state.X[0]).To(Equal(uint64(111)))

			h.state.PC = h.pc()
			h.state.NZCV = 0
			_, err = h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.state.X[0]).To(Equal(uint64(222)))
		})
	})

	Describe("division", func() {
		It("should define division by zero as zero", func() {
			h = newHarness([]uint32{udiv(0, 1, 2), ret})
			h.state.X[1] = 1234
			h.state.X[2] = 0

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.state.X[0]).To(Equal(uint64(0)))
		})

		It("should define INT_MIN / -1 as INT_MIN", func() {
			h = newHarness([]uint32{sdiv(0, 1, 2), ret})
			h.state.X[1] = 0x8000000000000000
			h.state.X[2] = 0xFFFFFFFFFFFFFFFF

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.state.X[0]).To(Equal(uint64(0x8000000000000000)))
		})

		It("should divide ordinary operands", func() {
			h = newHarness([]uint32{sdiv(0, 1, 2), ret})
			h.state.X[1] = uint64(^uint64(0) - 99) // -100
			h.state.X[2] = 7

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(int64(h.state.X[0])).To(Equal(int64(-14)))
		})
	})

	Describe("variable shifts", func() {
		It("should take the count modulo the register width", func() {
			h = newHarness([]uint32{lslv(0, 1, 2), ret})
			h.state.X[1] = 1
			h.state.X[2] = 65

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(h.state.X[0]).To(Equal(uint64(2)))
		})
	})

	Describe("memory access", func() {
		It("should store and load through a host address", func() {
			h = newHarness([]uint32{
				strImm(1, 0, 0),
				ldrImm(2, 0, 0),
				ret,
			})
			var cell uint64
			h.state.X[0] = uint64(uintptr(unsafe.Pointer(&cell)))
			h.state.X[1] = 0xCAFEBABE12345678

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(cell).To(Equal(uint64(0xCAFEBABE12345678)))
			Expect(h.state.X[2]).To(Equal(uint64(0xCAFEBABE12345678)))
		})
	})

	Describe("atomics", func() {
		It("should add in memory and return the old value", func() {
			h = newHarness([]uint32{ldadd(1, 2, 0), ret})
			var cell uint64 = 100
			h.state.X[0] = uint64(uintptr(unsafe.Pointer(&cell)))
			h.state.X[1] = 5

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(cell).To(Equal(uint64(105)))
			Expect(h.state.X[2]).To(Equal(uint64(100)))
		})

		It("should complete an exclusive load-modify-store sequence", func() {
			// X1 = [X0]; X1++; status -> W2.
			h = newHarness([]uint32{
				ldxr(1, 0),
				addImm(1, 1, 1),
				stxr(2, 1, 0),
				ret,
			})
			var cell uint64 = 41
			h.state.X[0] = uint64(uintptr(unsafe.Pointer(&cell)))

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(cell).To(Equal(uint64(42)))
			Expect(h.state.X[2]).To(Equal(uint64(0)), "store-exclusive status")
		})

		It("should swap on a matching compare-and-swap", func() {
			h = newHarness([]uint32{cas(1, 2, 0), ret})
			var cell uint64 = 7
			h.state.X[0] = uint64(uintptr(unsafe.Pointer(&cell)))
			h.state.X[1] = 7  // expected
			h.state.X[2] = 99 // replacement

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(cell).To(Equal(uint64(99)))
			Expect(h.state.X[1]).To(Equal(uint64(7)))
		})

		It("should leave memory alone on a failed compare-and-swap", func() {
			h = newHarness([]uint32{cas(1, 2, 0), ret})
			var cell uint64 = 7
			h.state.X[0] = uint64(uintptr(unsafe.Pointer(&cell)))
			h.state.X[1] = 8
			h.state.X[2] = 99

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(cell).To(Equal(uint64(7)))
			// Rs observes the actual memory value.
			Expect(h.state.X[1]).To(Equal(uint64(7)))
		})

		It("should clear bits in memory and return the old value", func() {
			h = newHarness([]uint32{ldclr(1, 2, 0), ret})
			var cell uint64 = 0xFF
			h.state.X[0] = uint64(uintptr(unsafe.Pointer(&cell)))
			h.state.X[1] = 0x0F

			_, err := h.engine.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(cell).To(Equal(uint64(0xF0)))
			Expect(h.state.X[2]).To(Equal(uint64(0xFF)))
		})
	})

	Describe("branching across blocks", func() {
		It("should run a counted loop through the cache", func() {
			// X0 = 0; for X1 = 10; X1 != 0; X1-- { X0++ }; exit(X0)
			h = newHarness(append([]uint32{
				movz(0, 0, 0),
				movz(1, 10, 0),
				addImm(0, 0, 1),
				subsImm(1, 1, 1),
				bcond(1, -2), // B.NE back to the ADD
			}, exitSeq()...))

			code, err := h.engine.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(10))
		})

		It("should follow an unconditional branch", func() {
			// Jump over a poison MOVZ.
			h = newHarness(append([]uint32{
				movz(0, 7, 0),
				b(2),
				movz(0, 9, 0),
			}, exitSeq()...))

			code, err := h.engine.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(7))
		})

		It("should produce the same result with chaining disabled", func() {
			prog := append([]uint32{
				movz(0, 0, 0),
				movz(1, 10, 0),
				addImm(0, 0, 1),
				subsImm(1, 1, 1),
				bcond(1, -2),
			}, exitSeq()...)

			h = newHarness(prog)
			chained, err := h.engine.Run()
			Expect(err).NotTo(HaveOccurred())
			h.close()

			h = newHarness(prog)
			cfg := translate.DefaultConfig()
			cfg.EnableChaining = false
			plain := translate.NewBlockBuilder(cfg)
			cache := transcache.NewCache(256, h.arena).WithChaining(false)
			engine := exec.NewEngine(h.state, cache, plain,
				&exec.HostMemory{Lo: h.pc(), Hi: h.pc() + uint64(len(h.mem))}).
				WithSyscalls(exec.NewPassthroughSyscalls(nil))
			engine.MaxDispatches = 10000

			unchained, err := engine.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(unchained).To(Equal(chained))
		})
	})

	Describe("traps", func() {
		It("should surface BRK as a trap error", func() {
			h = newHarness([]uint32{brk(7)})

			_, err := h.engine.Run()
			Expect(err).To(BeAssignableToTypeOf(&exec.TrapError{}))
		})
	})
})
