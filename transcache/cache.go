package transcache

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/Inokinoki/attesor-sub000/translate"
)

// fibMul is the multiplicative hash constant (2^64 / golden ratio).
const fibMul = 0x9E3779B97F4A7C15

// chainSiteLen matches the width of a patchable exit site: a RET padded
// with NOPs, or a JMP rel32 once chained.
const chainSiteLen = 5

// site is one outgoing exit of an installed block.
type site struct {
	offset  int
	target  uint64
	chained bool
	saved   [chainSiteLen]byte
}

// backref points at the outgoing site of another entry that currently
// jumps directly into this one.
type backref struct {
	from *Entry
	idx  int
}

// Entry is one resident translated block.
type Entry struct {
	GuestPC   uint64
	Code      []byte // arena-backed, executable
	InstCount int
	HitCount  uint64

	sites    []site
	incoming []backref
}

// HostAddr returns the executable address of the block's first byte.
func (e *Entry) HostAddr() uintptr {
	return uintptr(unsafe.Pointer(&e.Code[0]))
}

// Cache is the direct-mapped translation table over an arena. One PC
// hashes to exactly one slot; a resident entry whose stored PC differs
// is simply replaced on insert. The cache owns the chaining bookkeeping:
// every patched jump is recorded on both ends so eviction can always
// restore the original exit bytes before a target block dies.
type Cache struct {
	arena *Arena
	slots []*Entry
	mask  uint64
	shift uint

	// pending maps a guest PC to the exit sites waiting for a block at
	// that address to become resident.
	pending map[uint64][]backref

	stats translate.StatsCollector
	chain bool
}

// NewCache builds a table with at least the requested number of slots
// (rounded up to a power of two) over the given arena.
func NewCache(slots int, arena *Arena) *Cache {
	n := 1
	for n < slots {
		n <<= 1
	}
	shift := uint(64)
	for m := n; m > 1; m >>= 1 {
		shift--
	}
	return &Cache{
		arena:   arena,
		slots:   make([]*Entry, n),
		mask:    uint64(n - 1),
		shift:   shift,
		pending: make(map[uint64][]backref),
		stats:   translate.NopStats{},
		chain:   true,
	}
}

// WithStats installs a statistics collaborator.
func (c *Cache) WithStats(s translate.StatsCollector) *Cache {
	if s != nil {
		c.stats = s
	}
	return c
}

// WithChaining enables or disables block chaining.
func (c *Cache) WithChaining(on bool) *Cache {
	c.chain = on
	return c
}

func (c *Cache) slot(pc uint64) uint64 {
	return (pc * fibMul) >> c.shift & c.mask
}

// Lookup returns the resident entry for pc, or a miss. A slot occupied
// by a different PC is a miss, never a false hit.
func (c *Cache) Lookup(pc uint64) (*Entry, bool) {
	e := c.slots[c.slot(pc)]
	if e == nil || e.GuestPC != pc {
		c.stats.CacheMiss()
		return nil, false
	}
	e.HitCount++
	c.stats.CacheHit()
	return e, true
}

// Insert installs a flushed block, unconditionally replacing whatever
// occupies the slot. The new entry is chained into and out of the
// resident population where targets line up.
func (c *Cache) Insert(blk *translate.Block) (*Entry, error) {
	if len(blk.Code) == 0 {
		return nil, fmt.Errorf("transcache: empty block at %#x", blk.GuestPC)
	}
	code, err := c.arena.Alloc(len(blk.Code))
	if err != nil {
		return nil, err
	}
	copy(code, blk.Code)

	e := &Entry{
		GuestPC:   blk.GuestPC,
		Code:      code,
		InstCount: blk.InstCount,
		sites:     make([]site, len(blk.ChainSites)),
	}
	for i, cs := range blk.ChainSites {
		e.sites[i] = site{offset: cs.Offset, target: cs.Target}
	}

	idx := c.slot(blk.GuestPC)
	if old := c.slots[idx]; old != nil {
		c.evict(old)
	}
	c.slots[idx] = e

	if c.chain {
		for i := range e.sites {
			c.tryChain(e, i)
		}
		c.resolvePending(e)
	}
	return e, nil
}

// Invalidate drops the entry for pc if, and only if, the slot currently
// holds that exact PC. Every block chained into it is unchained first.
func (c *Cache) Invalidate(pc uint64) bool {
	idx := c.slot(pc)
	e := c.slots[idx]
	if e == nil || e.GuestPC != pc {
		return false
	}
	c.evict(e)
	c.slots[idx] = nil
	return true
}

// Flush empties every slot and resets the arena. All previously returned
// host pointers are dead after this call.
func (c *Cache) Flush() {
	for i := range c.slots {
		c.slots[i] = nil
	}
	c.pending = make(map[uint64][]backref)
	c.arena.Reset()
}

// Len reports how many slots are occupied.
func (c *Cache) Len() int {
	n := 0
	for _, e := range c.slots {
		if e != nil {
			n++
		}
	}
	return n
}

// evict removes an entry from the chain graph: first restore the exit
// bytes of every block that jumps into it, then detach its own outgoing
// edges and pending subscriptions.
func (c *Cache) evict(e *Entry) {
	for _, in := range e.incoming {
		c.unchain(in.from, in.idx)
	}
	e.incoming = nil

	for i := range e.sites {
		s := &e.sites[i]
		if s.chained {
			if t := c.slots[c.slot(s.target)]; t != nil && t.GuestPC == s.target {
				t.dropBackref(e)
			}
		} else {
			c.dropPending(s.target, e)
		}
	}
}

// tryChain patches outgoing site i of e into a direct jump if a block
// for the target is resident; otherwise the site is parked as pending.
func (c *Cache) tryChain(e *Entry, i int) {
	s := &e.sites[i]
	target := c.slots[c.slot(s.target)]
	if target == nil || target.GuestPC != s.target {
		c.pending[s.target] = append(c.pending[s.target], backref{e, i})
		return
	}
	c.patch(e, i, target)
}

// patch rewrites a RET exit site into JMP rel32 aimed at target's first
// byte, saving the original bytes for the inevitable unchain.
func (c *Cache) patch(e *Entry, i int, target *Entry) {
	s := &e.sites[i]
	copy(s.saved[:], e.Code[s.offset:s.offset+chainSiteLen])

	rel := int64(target.HostAddr()) - int64(e.HostAddr()+uintptr(s.offset)+chainSiteLen)
	e.Code[s.offset] = 0xE9
	binary.LittleEndian.PutUint32(e.Code[s.offset+1:], uint32(int32(rel)))

	s.chained = true
	target.incoming = append(target.incoming, backref{e, i})
}

// unchain restores the original dispatcher exit at site i of e and puts
// the site back on the pending list for its target.
func (c *Cache) unchain(e *Entry, i int) {
	s := &e.sites[i]
	if !s.chained {
		return
	}
	copy(e.Code[s.offset:s.offset+chainSiteLen], s.saved[:])
	s.chained = false
	c.pending[s.target] = append(c.pending[s.target], backref{e, i})
}

// resolvePending chains every parked site that was waiting for e's PC.
func (c *Cache) resolvePending(e *Entry) {
	waiting := c.pending[e.GuestPC]
	if len(waiting) == 0 {
		return
	}
	delete(c.pending, e.GuestPC)
	for _, w := range waiting {
		c.patch(w.from, w.idx, e)
	}
}

// dropPending removes e's subscriptions for target.
func (c *Cache) dropPending(target uint64, e *Entry) {
	waiting := c.pending[target]
	kept := waiting[:0]
	for _, w := range waiting {
		if w.from != e {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		delete(c.pending, target)
	} else {
		c.pending[target] = kept
	}
}

func (e *Entry) dropBackref(from *Entry) {
	kept := e.incoming[:0]
	for _, in := range e.incoming {
		if in.from != from {
			kept = append(kept, in)
		}
	}
	e.incoming = kept
}
