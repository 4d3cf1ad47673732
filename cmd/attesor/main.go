// Package main provides the entry point for attesor.
// Attesor translates and runs static ARM64 Linux binaries on x86-64
// hosts, one basic block at a time.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Inokinoki/attesor-sub000/exec"
	"github.com/Inokinoki/attesor-sub000/guest"
	"github.com/Inokinoki/attesor-sub000/insts"
	"github.com/Inokinoki/attesor-sub000/loader"
	"github.com/Inokinoki/attesor-sub000/transcache"
	"github.com/Inokinoki/attesor-sub000/translate"
)

var (
	configPath = flag.String("config", "", "Path to translation configuration YAML file")
	cacheSlots = flag.Int("cache-slots", 4096, "Number of translation cache slots")
	arenaMB    = flag.Int("arena-mb", 16, "Code arena size in megabytes")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: attesor [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	code, err := run(flag.Arg(0), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "attesor: %v\n", err)
		var trap *exec.TrapError
		if errors.As(err, &trap) {
			os.Exit(133)
		}
		os.Exit(1)
	}
	os.Exit(code)
}

func run(programPath string, log *slog.Logger) (int, error) {
	cfg := translate.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = translate.LoadConfig(*configPath)
		if err != nil {
			return 0, err
		}
	}

	prog, err := loader.Load(programPath)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", programPath, err)
	}
	sp, err := prog.MapSegments()
	if err != nil {
		return 0, err
	}
	defer prog.Unmap()

	lo, hi := prog.CodeWindow()
	log.Debug("program loaded",
		"path", programPath,
		"entry", fmt.Sprintf("%#x", prog.EntryPoint),
		"segments", len(prog.Segments),
		"code", fmt.Sprintf("[%#x,%#x)", lo, hi))

	arena, err := transcache.NewArena(*arenaMB << 20)
	if err != nil {
		return 0, err
	}
	defer func() { _ = arena.Close() }()

	stats := &runStats{}
	cache := transcache.NewCache(*cacheSlots, arena).
		WithStats(stats).
		WithChaining(cfg.EnableChaining)
	builder := translate.NewBlockBuilder(cfg).WithStats(stats)

	state := &guest.ThreadState{}
	state.PC = prog.EntryPoint
	state.SP = sp

	mem := &exec.HostMemory{Lo: lo, Hi: hi}
	engine := exec.NewEngine(state, cache, builder, mem).
		WithSyscalls(exec.NewPassthroughSyscalls(log)).
		WithLogger(log)

	code, err := engine.Run()
	if err != nil {
		return 0, err
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "\nProgram: %s\n", programPath)
		fmt.Fprintf(os.Stderr, "Exit code: %d\n", code)
		fmt.Fprintf(os.Stderr, "Blocks translated: %d (%d instructions, %d host bytes)\n",
			stats.blocks, stats.insns, stats.hostBytes)
		fmt.Fprintf(os.Stderr, "Cache: %d hits, %d misses\n", stats.hits, stats.misses)
		if stats.unknown > 0 {
			fmt.Fprintf(os.Stderr, "Unrecognized instructions: %d\n", stats.unknown)
		}
	}
	return code, nil
}

// runStats counts translation and cache activity for the final report.
type runStats struct {
	hits, misses uint64
	blocks       uint64
	insns        uint64
	hostBytes    uint64
	unknown      uint64
}

func (s *runStats) CacheHit()     { s.hits++ }
func (s *runStats) CacheMiss()    { s.misses++ }
func (s *runStats) Family(string) {}

func (s *runStats) BlockTranslated(pc uint64, insns, hostBytes int) {
	s.blocks++
	s.insns += uint64(insns)
	s.hostBytes += uint64(hostBytes)
}

func (s *runStats) UnknownInstruction(pc uint64, enc insts.Encoding) {
	s.unknown++
	slog.Debug("unrecognized instruction", "pc", fmt.Sprintf("%#x", pc),
		"encoding", fmt.Sprintf("%#010x", uint32(enc)))
}
