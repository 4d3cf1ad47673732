package translate

import (
	"fmt"

	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/x86"
)

// InstFetcher supplies guest instruction words to the block builder.
type InstFetcher interface {
	FetchInst(pc uint64) (insts.Encoding, error)
}

// BuilderState tracks the block builder's lifecycle.
type BuilderState int

// Builder states.
const (
	StateBuilding BuilderState = iota
	StateTerminated
	StateFlushed
)

// ChainSite marks a patchable exit inside a block's code: Offset bytes
// in, a RET padded to jump width returns to the dispatcher with Target
// as the next guest PC.
type ChainSite struct {
	Offset int
	Target uint64
}

// Block is one translated unit: the exact host bytes for a run of guest
// instructions ending in a terminator (or a synthetic return), plus the
// bookkeeping the cache needs for installation and chaining.
type Block struct {
	GuestPC    uint64
	Code       []byte
	InstCount  int
	GuestBytes int
	ChainSites []ChainSite
}

// BlockBuilder turns a run of guest instructions into one translated
// block. It walks Building, then Terminated once a terminator (or the
// instruction budget) ends the run, then Flushed when the bytes are
// copied out. One builder serves one execution context and is reused
// across blocks.
type BlockBuilder struct {
	cfg   Config
	buf   *x86.CodeBuffer
	stats StatsCollector
	fault FaultHandler

	state  BuilderState
	chains []ChainSite
}

// NewBlockBuilder returns a builder with the given configuration and
// no-op collaborators.
func NewBlockBuilder(cfg Config) *BlockBuilder {
	return &BlockBuilder{
		cfg:   cfg,
		buf:   x86.NewCodeBufferCap(cfg.BufferCap),
		stats: NopStats{},
		fault: abortFaults{},
		state: StateFlushed,
	}
}

// WithStats installs a statistics collaborator.
func (b *BlockBuilder) WithStats(s StatsCollector) *BlockBuilder {
	if s != nil {
		b.stats = s
	}
	return b
}

// WithFaultHandler installs a fault collaborator.
func (b *BlockBuilder) WithFaultHandler(f FaultHandler) *BlockBuilder {
	if f != nil {
		b.fault = f
	}
	return b
}

// State reports the builder's lifecycle state.
func (b *BlockBuilder) State() BuilderState { return b.state }

func (b *BlockBuilder) recordChainSite(offset int, target uint64) {
	if !b.cfg.EnableChaining {
		return
	}
	b.chains = append(b.chains, ChainSite{Offset: offset, Target: target})
}

// Translate builds the block starting at pc. On any hard failure
// (buffer exhaustion, fetch error on the first instruction, an
// unrecognized instruction under the abort policy) no block is produced
// and the translation cache must remain untouched for this PC.
func (b *BlockBuilder) Translate(pc uint64, mem InstFetcher) (*Block, error) {
	b.buf.Reset()
	b.chains = b.chains[:0]
	b.state = StateBuilding

	start := pc
	count := 0
	terminated := false

	for count < b.cfg.MaxBlockInsns {
		enc, err := mem.FetchInst(pc)
		if err != nil {
			if count == 0 {
				b.state = StateFlushed
				return nil, fmt.Errorf("fetch %#x: %w", pc, err)
			}
			// Ran off mapped code mid-block: stop at the boundary and
			// let the dispatcher face the bad PC itself.
			break
		}

		ctx := Context{Buf: b.buf, PC: pc, block: b, stats: b.stats}
		out := Dispatch(&ctx, enc)
		if err := b.buf.Err(); err != nil {
			b.state = StateFlushed
			return nil, fmt.Errorf("block at %#x: %w", start, ErrBufferFull)
		}

		switch out {
		case OutcomeHandled:
			count++
			pc += 4
			continue

		case OutcomeTerminated:
			count++
			pc += 4
			terminated = true

		case OutcomeUnrecognized:
			b.stats.UnknownInstruction(pc, enc)
			if b.cfg.AbortOnUnknown {
				b.state = StateFlushed
				return nil, fmt.Errorf("block at %#x, insn %#x at %#x: %w",
					start, uint32(enc), pc, ErrUnrecognized)
			}
			if b.fault.Raise(FaultUndefined, pc, enc) {
				// The collaborator elected to skip this word.
				pc += 4
				continue
			}
			// Not continuable: the block ends at the faulting PC with a
			// trap exit so the failure stays observable at run time.
			ctx.emitSetPCImm(pc)
			ctx.emitPlainExit(guest.ExitTrap, uint64(uint32(enc)))
			terminated = true
		}
		break
	}

	b.state = StateTerminated

	if !terminated {
		// Instruction budget exhausted: append the synthetic return so
		// control always flows back to the dispatcher.
		ctx := Context{Buf: b.buf, PC: pc, block: b, stats: b.stats}
		ctx.emitChainableExit(pc)
	}

	return b.flush(start, pc, count)
}

// flush copies the finished bytes out of the build buffer. The sticky
// buffer error is checked here so no terminating emission, trap exits
// included, can slip a truncated block past the builder.
func (b *BlockBuilder) flush(start, end uint64, count int) (*Block, error) {
	if b.state != StateTerminated {
		return nil, ErrBadState
	}
	if err := b.buf.Err(); err != nil {
		b.state = StateFlushed
		return nil, fmt.Errorf("block at %#x: %w", start, ErrBufferFull)
	}
	code := make([]byte, b.buf.Len())
	copy(code, b.buf.Bytes())

	blk := &Block{
		GuestPC:    start,
		Code:       code,
		InstCount:  count,
		GuestBytes: int(end - start),
		ChainSites: append([]ChainSite(nil), b.chains...),
	}
	b.state = StateFlushed
	b.stats.BlockTranslated(start, count, len(code))
	return blk, nil
}
