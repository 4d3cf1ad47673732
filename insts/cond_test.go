package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/insts"
)

var _ = Describe("Cond", func() {
	Describe("Holds", func() {
		It("should evaluate EQ/NE on Z", func() {
			Expect(insts.CondEQ.Holds(guest.FlagZ)).To(BeTrue())
			Expect(insts.CondEQ.Holds(0)).To(BeFalse())
			Expect(insts.CondNE.Holds(guest.FlagZ)).To(BeFalse())
			Expect(insts.CondNE.Holds(0)).To(BeTrue())
		})

		It("should evaluate CS/CC on C", func() {
			Expect(insts.CondCS.Holds(guest.FlagC)).To(BeTrue())
			Expect(insts.CondCC.Holds(guest.FlagC)).To(BeFalse())
		})

		It("should evaluate MI/PL on N and VS/VC on V", func() {
			Expect(insts.CondMI.Holds(guest.FlagN)).To(BeTrue())
			Expect(insts.CondPL.Holds(guest.FlagN)).To(BeFalse())
			Expect(insts.CondVS.Holds(guest.FlagV)).To(BeTrue())
			Expect(insts.CondVC.Holds(guest.FlagV)).To(BeFalse())
		})

		It("should evaluate HI as C set and Z clear", func() {
			Expect(insts.CondHI.Holds(guest.FlagC)).To(BeTrue())
			Expect(insts.CondHI.Holds(guest.FlagC | guest.FlagZ)).To(BeFalse())
			Expect(insts.CondHI.Holds(0)).To(BeFalse())
			Expect(insts.CondLS.Holds(guest.FlagC | guest.FlagZ)).To(BeTrue())
			Expect(insts.CondLS.Holds(guest.FlagC)).To(BeFalse())
		})

		It("should evaluate GE/LT as N == V", func() {
			Expect(insts.CondGE.Holds(0)).To(BeTrue())
			Expect(insts.CondGE.Holds(guest.FlagN | guest.FlagV)).To(BeTrue())
			Expect(insts.CondGE.Holds(guest.FlagN)).To(BeFalse())
			Expect(insts.CondLT.Holds(guest.FlagN)).To(BeTrue())
			Expect(insts.CondLT.Holds(guest.FlagV)).To(BeTrue())
			Expect(insts.CondLT.Holds(0)).To(BeFalse())
		})

		It("should evaluate GT/LE with Z folded in", func() {
			Expect(insts.CondGT.Holds(0)).To(BeTrue())
			Expect(insts.CondGT.Holds(guest.FlagZ)).To(BeFalse())
			Expect(insts.CondGT.Holds(guest.FlagN)).To(BeFalse())
			Expect(insts.CondLE.Holds(guest.FlagZ)).To(BeTrue())
			Expect(insts.CondLE.Holds(guest.FlagN | guest.FlagV)).To(BeFalse())
		})

		It("should treat AL and NV as always true", func() {
			for nzcv := uint64(0); nzcv < 16; nzcv++ {
				Expect(insts.CondAL.Holds(nzcv << 28)).To(BeTrue())
				Expect(insts.CondNV.Holds(nzcv << 28)).To(BeTrue())
			}
		})
	})

	Describe("Invert", func() {
		It("should pair each condition with its opposite", func() {
			Expect(insts.CondEQ.Invert()).To(Equal(insts.CondNE))
			Expect(insts.CondHI.Invert()).To(Equal(insts.CondLS))
			Expect(insts.CondGE.Invert()).To(Equal(insts.CondLT))
			Expect(insts.CondGT.Invert()).To(Equal(insts.CondLE))
		})

		It("should be an involution", func() {
			for c := insts.Cond(0); c < 16; c++ {
				Expect(c.Invert().Invert()).To(Equal(c))
			}
		})

		It("should keep the inverted sense on every flag word", func() {
			for c := insts.Cond(0); c < 14; c++ {
				for nzcv := uint64(0); nzcv < 16; nzcv++ {
					w := nzcv << 28
					Expect(c.Invert().Holds(w)).To(Equal(!c.Holds(w)),
						"cond %s nzcv %04b", c, nzcv)
				}
			}
		})
	})
})
