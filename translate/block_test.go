package translate_test

import (
	"bytes"
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Inokinoki/attesor-sub000/translate"
)

// encAddImm encodes ADD Xd, Xn, #imm12.
func encAddImm(rd, rn uint8, imm12 uint32) uint32 {
	return 0x91000000 | imm12<<10 | uint32(rn)<<5 | uint32(rd)
}

// encMovZ encodes MOVZ Xd, #imm16, LSL #(hw*16).
func encMovZ(rd uint8, imm16 uint16, hw uint8) uint32 {
	return 0xD2800000 | uint32(hw)<<21 | uint32(imm16)<<5 | uint32(rd)
}

// encB encodes B with a word offset.
func encB(words int32) uint32 {
	return 0x14000000 | uint32(words)&0x03FFFFFF
}

// encRet encodes RET (through X30).
func encRet() uint32 {
	return 0xD65F03C0
}

// encLdclr encodes LDCLR Xs, Xt, [Xn].
func encLdclr(rs, rt, rn uint8) uint32 {
	return 0xF8201000 | uint32(rs)<<16 | uint32(rn)<<5 | uint32(rt)
}

func image(base uint64, words ...uint32) *translate.CodeImage {
	code := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[4*i:], w)
	}
	return &translate.CodeImage{Base: base, Code: code}
}

var _ = Describe("BlockBuilder", func() {
	var builder *translate.BlockBuilder

	BeforeEach(func() {
		builder = translate.NewBlockBuilder(translate.DefaultConfig())
	})

	It("should start out flushed", func() {
		Expect(builder.State()).To(Equal(translate.StateFlushed))
	})

	Describe("block formation", func() {
		It("should translate a straight run up to its terminator", func() {
			mem := image(0x1000,
				encAddImm(0, 0, 1),
				encAddImm(1, 1, 2),
				encRet(),
			)

			blk, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.GuestPC).To(Equal(uint64(0x1000)))
			Expect(blk.InstCount).To(Equal(3))
			Expect(blk.GuestBytes).To(Equal(12))
			Expect(blk.ChainSites).To(BeEmpty())
			Expect(blk.Code[len(blk.Code)-1]).To(Equal(byte(0xC3)))
			Expect(builder.State()).To(Equal(translate.StateFlushed))
		})

		It("should append a synthetic return when the budget runs out", func() {
			cfg := translate.DefaultConfig()
			cfg.MaxBlockInsns = 2
			builder = translate.NewBlockBuilder(cfg)

			mem := image(0x1000,
				encAddImm(0, 0, 1),
				encAddImm(0, 0, 1),
				encAddImm(0, 0, 1),
				encRet(),
			)

			blk, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.InstCount).To(Equal(2))
			Expect(blk.GuestBytes).To(Equal(8))

			// The synthetic return targets the first untranslated word
			// and is patchable: a RET padded to jump width.
			Expect(blk.ChainSites).To(HaveLen(1))
			site := blk.ChainSites[0]
			Expect(site.Target).To(Equal(uint64(0x1008)))
			Expect(blk.Code[site.Offset : site.Offset+5]).To(Equal(
				[]byte{0xC3, 0x90, 0x90, 0x90, 0x90}))
		})

		It("should make a direct branch a chainable exit", func() {
			mem := image(0x1000, encB(4))

			blk, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.InstCount).To(Equal(1))
			Expect(blk.ChainSites).To(HaveLen(1))
			Expect(blk.ChainSites[0].Target).To(Equal(uint64(0x1010)))
		})

		It("should record no chain sites when chaining is disabled", func() {
			cfg := translate.DefaultConfig()
			cfg.EnableChaining = false
			builder = translate.NewBlockBuilder(cfg)

			mem := image(0x1000, encB(4))
			blk, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.ChainSites).To(BeEmpty())
		})

		It("should stop at the code boundary mid-block", func() {
			mem := image(0x1000,
				encAddImm(0, 0, 1),
				encAddImm(0, 0, 1),
			)

			blk, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.InstCount).To(Equal(2))
			// Control still returns to the dispatcher at the bad PC.
			Expect(blk.ChainSites).To(HaveLen(1))
			Expect(blk.ChainSites[0].Target).To(Equal(uint64(0x1008)))
		})

		It("should translate the same run to identical bytes every time", func() {
			mem := image(0x1000,
				encMovZ(0, 5, 0),
				encMovZ(1, 7, 0),
				encAddImm(0, 0, 3),
				encRet(),
			)

			first, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			second, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Code).To(Equal(first.Code))
		})
	})

	Describe("atomic update loops", func() {
		It("should emit a real back-edge for LDCLR", func() {
			mem := image(0x1000, encLdclr(1, 2, 3), encRet())

			blk, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())

			// Somewhere in the block a JNE must jump backwards to retry
			// the compare-exchange.
			found := false
			for i := 0; i+6 <= len(blk.Code); i++ {
				if blk.Code[i] == 0x0F && blk.Code[i+1] == 0x85 {
					rel := int32(binary.LittleEndian.Uint32(blk.Code[i+2:]))
					if rel < 0 {
						found = true
						break
					}
				}
			}
			Expect(found).To(BeTrue(), "no backward JNE in %x", blk.Code)
		})
	})

	Describe("failure handling", func() {
		It("should fail when the first instruction cannot be fetched", func() {
			mem := image(0x1000, encRet())

			_, err := builder.Translate(0x2000, mem)
			Expect(err).To(MatchError(translate.ErrOutOfRange))
			Expect(builder.State()).To(Equal(translate.StateFlushed))
		})

		It("should fail on an unrecognized instruction under the abort policy", func() {
			cfg := translate.DefaultConfig()
			cfg.AbortOnUnknown = true
			builder = translate.NewBlockBuilder(cfg)

			mem := image(0x1000, 0x00000000)
			_, err := builder.Translate(0x1000, mem)
			Expect(err).To(MatchError(translate.ErrUnrecognized))
		})

		It("should not translate a multiply encoding with nonzero op54", func() {
			cfg := translate.DefaultConfig()
			cfg.AbortOnUnknown = true
			builder = translate.NewBlockBuilder(cfg)

			// MADD X0, X0, X0, X0 with bit 30 set: unallocated, must not
			// decode as a 3-source multiply.
			mem := image(0x1000, 0xDB000000)
			_, err := builder.Translate(0x1000, mem)
			Expect(err).To(MatchError(translate.ErrUnrecognized))
		})

		It("should end the block with a trap exit on an unrecognized instruction", func() {
			mem := image(0x1000, encAddImm(0, 0, 1), 0x00000000)

			blk, err := builder.Translate(0x1000, mem)
			Expect(err).NotTo(HaveOccurred())
			Expect(blk.InstCount).To(Equal(1))
			Expect(blk.ChainSites).To(BeEmpty())
			Expect(blk.Code[len(blk.Code)-1]).To(Equal(byte(0xC3)))
		})

		It("should report buffer exhaustion instead of a truncated block", func() {
			cfg := translate.DefaultConfig()
			cfg.BufferCap = 16
			builder = translate.NewBlockBuilder(cfg)

			mem := image(0x1000,
				encMovZ(0, 5, 0),
				encMovZ(1, 7, 0),
				encRet(),
			)
			_, err := builder.Translate(0x1000, mem)
			Expect(err).To(MatchError(translate.ErrBufferFull))
			Expect(builder.State()).To(Equal(translate.StateFlushed))
		})

		It("should report buffer exhaustion when the trap exit overflows", func() {
			cfg := translate.DefaultConfig()
			cfg.BufferCap = 256
			builder = translate.NewBlockBuilder(cfg)

			// Enough ADDs to fit, then an unmatchable word whose trap
			// exit no longer does. The block must not flush truncated.
			words := make([]uint32, 0, 19)
			for i := 0; i < 18; i++ {
				words = append(words, encAddImm(0, 0, 1))
			}
			words = append(words, 0x00000000)

			_, err := builder.Translate(0x1000, image(0x1000, words...))
			Expect(err).To(MatchError(translate.ErrBufferFull))
			Expect(builder.State()).To(Equal(translate.StateFlushed))
		})
	})
})

var _ = Describe("CodeImage", func() {
	It("should reject misaligned and out-of-range fetches", func() {
		mem := image(0x1000, encRet())

		_, err := mem.FetchInst(0x1002)
		Expect(err).To(MatchError(translate.ErrOutOfRange))
		_, err = mem.FetchInst(0x0FFC)
		Expect(err).To(MatchError(translate.ErrOutOfRange))
		_, err = mem.FetchInst(0x1004)
		Expect(err).To(MatchError(translate.ErrOutOfRange))

		enc, err := mem.FetchInst(0x1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(uint32(enc)).To(Equal(encRet()))
	})
})

var _ = Describe("Dispatch priority", func() {
	It("should keep exclusive and atomic forms away from the plain loads", func() {
		// LDCLR carries bit 21; the register-offset load form requires
		// bits 11:10 == 10, so neither family claims the other's words.
		builder := translate.NewBlockBuilder(translate.DefaultConfig())

		ldclr, err := builder.Translate(0x1000, image(0x1000, encLdclr(1, 2, 3), encRet()))
		Expect(err).NotTo(HaveOccurred())

		// LDR X2, [X3, X1] -> 0xF8616862
		ldr, err := builder.Translate(0x1000, image(0x1000, 0xF8616862, encRet()))
		Expect(err).NotTo(HaveOccurred())

		Expect(bytes.Equal(ldclr.Code, ldr.Code)).To(BeFalse())
	})
})
