package transcache_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Inokinoki/attesor-sub000/transcache"
	"github.com/Inokinoki/attesor-sub000/translate"
)

// retSite is what an unchained exit looks like: a RET padded to the
// width of a JMP rel32.
var retSite = []byte{0xC3, 0x90, 0x90, 0x90, 0x90}

// mkBlock builds a block whose code is a NOP preamble followed by one
// patchable exit site per target.
func mkBlock(pc uint64, targets ...uint64) *translate.Block {
	blk := &translate.Block{
		GuestPC:    pc,
		InstCount:  1,
		GuestBytes: 4,
		Code:       []byte{0x90, 0x90, 0x90},
	}
	for _, t := range targets {
		blk.ChainSites = append(blk.ChainSites,
			translate.ChainSite{Offset: len(blk.Code), Target: t})
		blk.Code = append(blk.Code, retSite...)
	}
	return blk
}

// siteBytes reads the exit site at offset off of an installed entry.
func siteBytes(e *transcache.Entry, off int) []byte {
	return append([]byte(nil), e.Code[off:off+5]...)
}

var _ = Describe("Cache", func() {
	var (
		arena *transcache.Arena
		cache *transcache.Cache
	)

	BeforeEach(func() {
		var err error
		arena, err = transcache.NewArena(1 << 20)
		Expect(err).NotTo(HaveOccurred())
		cache = transcache.NewCache(64, arena)
	})

	AfterEach(func() {
		Expect(arena.Close()).To(Succeed())
	})

	Describe("lookup and insert", func() {
		It("should miss on an empty cache", func() {
			_, ok := cache.Lookup(0x1000)
			Expect(ok).To(BeFalse())
		})

		It("should hit after insert and count the hits", func() {
			_, err := cache.Insert(mkBlock(0x1000))
			Expect(err).NotTo(HaveOccurred())

			e, ok := cache.Lookup(0x1000)
			Expect(ok).To(BeTrue())
			Expect(e.GuestPC).To(Equal(uint64(0x1000)))
			Expect(e.HitCount).To(Equal(uint64(1)))

			_, _ = cache.Lookup(0x1000)
			Expect(e.HitCount).To(Equal(uint64(2)))
		})

		It("should copy the block's bytes into the arena", func() {
			blk := mkBlock(0x1000)
			e, err := cache.Insert(blk)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Code).To(Equal(blk.Code))
			Expect(arena.Used()).To(BeNumerically(">=", len(blk.Code)))
		})

		It("should reject an empty block", func() {
			_, err := cache.Insert(&translate.Block{GuestPC: 0x1000})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("slot aliasing", func() {
		BeforeEach(func() {
			// One slot: every PC aliases.
			cache = transcache.NewCache(1, arena)
		})

		It("should replace the occupant and never falsely hit", func() {
			_, err := cache.Insert(mkBlock(0x1000))
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())

			_, ok := cache.Lookup(0x1000)
			Expect(ok).To(BeFalse())
			e, ok := cache.Lookup(0x2000)
			Expect(ok).To(BeTrue())
			Expect(e.GuestPC).To(Equal(uint64(0x2000)))
		})
	})

	Describe("invalidate", func() {
		It("should drop only an exact PC match", func() {
			_, err := cache.Insert(mkBlock(0x1000))
			Expect(err).NotTo(HaveOccurred())

			Expect(cache.Invalidate(0x9999000)).To(BeFalse())
			Expect(cache.Invalidate(0x1000)).To(BeTrue())
			_, ok := cache.Lookup(0x1000)
			Expect(ok).To(BeFalse())
			Expect(cache.Invalidate(0x1000)).To(BeFalse())
		})
	})

	Describe("flush", func() {
		It("should empty the table and reclaim the arena", func() {
			_, err := cache.Insert(mkBlock(0x1000))
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.Len()).To(Equal(2))

			cache.Flush()
			Expect(cache.Len()).To(Equal(0))
			Expect(arena.Used()).To(Equal(0))
			_, ok := cache.Lookup(0x1000)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("chaining", func() {
		It("should leave a site alone until its target is resident", func() {
			a, err := cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())
			Expect(siteBytes(a, 3)).To(Equal(retSite))
		})

		It("should patch a pending site when the target arrives", func() {
			a, err := cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())
			b, err := cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())

			got := siteBytes(a, 3)
			Expect(got[0]).To(Equal(byte(0xE9)))
			rel := int32(binary.LittleEndian.Uint32(got[1:]))
			land := int64(a.HostAddr()) + 3 + 5 + int64(rel)
			Expect(land).To(Equal(int64(b.HostAddr())))
		})

		It("should patch immediately when the target is already resident", func() {
			b, err := cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())
			a, err := cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())

			got := siteBytes(a, 3)
			Expect(got[0]).To(Equal(byte(0xE9)))
			rel := int32(binary.LittleEndian.Uint32(got[1:]))
			Expect(int64(a.HostAddr()) + 3 + 5 + int64(rel)).
				To(Equal(int64(b.HostAddr())))
		})

		It("should restore the original bytes when the target dies", func() {
			a, err := cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())
			Expect(siteBytes(a, 3)[0]).To(Equal(byte(0xE9)))

			Expect(cache.Invalidate(0x2000)).To(BeTrue())
			Expect(siteBytes(a, 3)).To(Equal(retSite))
		})

		It("should re-chain a restored site when the target comes back", func() {
			a, err := cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())
			cache.Invalidate(0x2000)

			b2, err := cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())

			got := siteBytes(a, 3)
			Expect(got[0]).To(Equal(byte(0xE9)))
			rel := int32(binary.LittleEndian.Uint32(got[1:]))
			Expect(int64(a.HostAddr()) + 3 + 5 + int64(rel)).
				To(Equal(int64(b2.HostAddr())))
		})

		It("should drop a pending site with its evicted owner", func() {
			cache = transcache.NewCache(1, arena)

			_, err := cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())
			// Inserting 0x2000 evicts 0x1000 from the single slot before
			// installing, so the waiting site must not be patched into
			// dead code.
			b, err := cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())
			Expect(b.GuestPC).To(Equal(uint64(0x2000)))
			_, ok := cache.Lookup(0x1000)
			Expect(ok).To(BeFalse())
			_, ok = cache.Lookup(0x2000)
			Expect(ok).To(BeTrue())
		})

		It("should chain a block to itself", func() {
			a, err := cache.Insert(mkBlock(0x1000, 0x1000))
			Expect(err).NotTo(HaveOccurred())

			got := siteBytes(a, 3)
			Expect(got[0]).To(Equal(byte(0xE9)))
			rel := int32(binary.LittleEndian.Uint32(got[1:]))
			Expect(int64(a.HostAddr()) + 3 + 5 + int64(rel)).
				To(Equal(int64(a.HostAddr())))
		})

		It("should record nothing when chaining is disabled", func() {
			cache = transcache.NewCache(64, arena).WithChaining(false)

			a, err := cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Insert(mkBlock(0x2000))
			Expect(err).NotTo(HaveOccurred())
			Expect(siteBytes(a, 3)).To(Equal(retSite))
		})
	})

	Describe("arena exhaustion", func() {
		It("should surface ErrArenaFull for the caller to flush", func() {
			small, err := transcache.NewArena(24)
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = small.Close() }()
			cache = transcache.NewCache(8, small)

			_, err = cache.Insert(mkBlock(0x1000, 0x2000))
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Insert(mkBlock(0x2000, 0x3000))
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Insert(mkBlock(0x3000, 0x4000))
			Expect(err).To(MatchError(transcache.ErrArenaFull))
		})
	})
})

var _ = Describe("Arena", func() {
	It("should bump-allocate aligned blocks", func() {
		a, err := transcache.NewArena(4096)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = a.Close() }()

		b1, err := a.Alloc(10)
		Expect(err).NotTo(HaveOccurred())
		Expect(b1).To(HaveLen(10))

		b2, err := a.Alloc(10)
		Expect(err).NotTo(HaveOccurred())
		// The second block starts at the next 16-byte boundary.
		Expect(a.Used()).To(Equal(26))
		Expect(&b2[0]).NotTo(Equal(&b1[0]))
	})

	It("should reuse space after a reset", func() {
		a, err := transcache.NewArena(4096)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = a.Close() }()

		_, err = a.Alloc(4000)
		Expect(err).NotTo(HaveOccurred())
		_, err = a.Alloc(4000)
		Expect(err).To(MatchError(transcache.ErrArenaFull))

		a.Reset()
		Expect(a.Used()).To(Equal(0))
		_, err = a.Alloc(4000)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject a non-positive size", func() {
		_, err := transcache.NewArena(0)
		Expect(err).To(HaveOccurred())
	})
})
