// Package exec drives translated code: it owns the dispatch loop that
// looks up or translates the block for the current guest PC, transfers
// control to it with the guest state pinned in the reserved base
// register, and services the exit reasons blocks come back with.
package exec

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/transcache"
	"github.com/Inokinoki/attesor-sub000/translate"
)

// ErrUnsupportedHost reports a host that cannot run generated code.
var ErrUnsupportedHost = errors.New("exec: host is not amd64")

// TrapError reports a guest BRK reached at run time.
type TrapError struct {
	PC   uint64
	Code uint64
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("exec: trap %#x at pc %#x", e.Code, e.PC)
}

// exitAware lets a syscall handler signal guest termination back to the
// dispatch loop.
type exitAware interface {
	Exited() (code int, done bool)
}

// Engine executes a guest by translating blocks on demand and running
// them. It is single-threaded: one engine owns one thread state, one
// builder and one cache.
type Engine struct {
	state   *guest.ThreadState
	cache   *transcache.Cache
	builder *translate.BlockBuilder
	mem     translate.InstFetcher

	syscalls translate.SyscallHandler
	log      *slog.Logger

	// MaxDispatches bounds the number of block executions, 0 meaning
	// unbounded. Mostly a test harness guard.
	MaxDispatches int
}

// NewEngine wires an engine from its collaborators.
func NewEngine(
	state *guest.ThreadState,
	cache *transcache.Cache,
	builder *translate.BlockBuilder,
	mem translate.InstFetcher,
) *Engine {
	return &Engine{
		state:   state,
		cache:   cache,
		builder: builder,
		mem:     mem,
		log:     slog.Default(),
	}
}

// WithSyscalls installs the system-call collaborator.
func (e *Engine) WithSyscalls(h translate.SyscallHandler) *Engine {
	e.syscalls = h
	return e
}

// WithLogger installs a logger for the dispatch loop.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.log = l
	}
	return e
}

// block returns the resident entry for pc, translating and installing
// on a miss. An arena-full failure flushes the cache once and retries.
func (e *Engine) block(pc uint64) (*transcache.Entry, error) {
	if entry, ok := e.cache.Lookup(pc); ok {
		return entry, nil
	}
	blk, err := e.builder.Translate(pc, e.mem)
	if err != nil {
		return nil, err
	}
	entry, err := e.cache.Insert(blk)
	if errors.Is(err, transcache.ErrArenaFull) {
		e.log.Debug("code arena full, flushing", "pc", pc)
		e.cache.Flush()
		entry, err = e.cache.Insert(blk)
	}
	return entry, err
}

// Run executes the guest from the state's current PC until it exits,
// traps or halts. The returned exit code is meaningful only on a nil
// error.
func (e *Engine) Run() (int, error) {
	if runtime.GOARCH != "amd64" {
		return 0, ErrUnsupportedHost
	}

	dispatches := 0
	for {
		if e.MaxDispatches > 0 && dispatches >= e.MaxDispatches {
			return 0, fmt.Errorf("exec: dispatch budget exhausted at pc %#x",
				e.state.PC)
		}
		dispatches++

		entry, err := e.block(e.state.PC)
		if err != nil {
			return 0, err
		}
		enterBlock(entry.HostAddr(), e.state.Base())

		switch guest.ExitReason(e.state.ExitReason) {
		case guest.ExitContinue:
		case guest.ExitSyscall:
			if e.syscalls == nil {
				return 0, fmt.Errorf("exec: syscall %d at pc %#x with no handler",
					e.state.X[8], e.state.PC)
			}
			var args [6]uint64
			copy(args[:], e.state.X[0:6])
			e.state.X[0] = e.syscalls.Syscall(e.state.X[8], args)
			if ea, ok := e.syscalls.(exitAware); ok {
				if code, done := ea.Exited(); done {
					return code, nil
				}
			}
		case guest.ExitTrap:
			return 0, &TrapError{PC: e.state.PC, Code: e.state.ExitData}
		case guest.ExitHalt:
			e.log.Debug("guest halt", "pc", e.state.PC, "code", e.state.ExitData)
			return int(e.state.ExitData), nil
		default:
			return 0, fmt.Errorf("exec: unknown exit reason %d at pc %#x",
				e.state.ExitReason, e.state.PC)
		}
	}
}

// Step translates and runs exactly one block, returning the exit
// reason. Useful for tests and tracing.
func (e *Engine) Step() (guest.ExitReason, error) {
	if runtime.GOARCH != "amd64" {
		return 0, ErrUnsupportedHost
	}
	entry, err := e.block(e.state.PC)
	if err != nil {
		return 0, err
	}
	enterBlock(entry.HostAddr(), e.state.Base())
	return guest.ExitReason(e.state.ExitReason), nil
}
