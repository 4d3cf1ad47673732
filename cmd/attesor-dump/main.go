// Package main provides attesor-dump, a debugging tool that translates
// hex-encoded ARM64 instruction words and prints the generated x86-64
// bytes, with an optional translation-throughput measurement.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Inokinoki/attesor-sub000/translate"
)

var (
	basePC = flag.Uint64("pc", 0x1000, "Guest PC of the first instruction")
	bench  = flag.Bool("bench", false, "Measure translation throughput instead of dumping")
	iters  = flag.Int("iters", 100000, "Benchmark iterations")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: attesor-dump [options] <hexword> [hexword...]\n")
		fmt.Fprintf(os.Stderr, "Example: attesor-dump 910004e1 d65f03c0\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	words := make([]uint32, flag.NArg())
	for i, arg := range flag.Args() {
		w, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad instruction word %q: %v\n", arg, err)
			os.Exit(1)
		}
		words[i] = uint32(w)
	}

	mem := &translate.CodeImage{Base: *basePC, Code: encode(words)}
	builder := translate.NewBlockBuilder(translate.DefaultConfig())

	if *bench {
		benchmark(builder, mem)
		return
	}

	blk, err := builder.Translate(*basePC, mem)
	if err != nil {
		fmt.Fprintf(os.Stderr, "translate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("guest pc:     %#x\n", blk.GuestPC)
	fmt.Printf("instructions: %d (%d guest bytes)\n", blk.InstCount, blk.GuestBytes)
	fmt.Printf("host bytes:   %d\n", len(blk.Code))
	for _, site := range blk.ChainSites {
		fmt.Printf("chain site:   offset %d -> %#x\n", site.Offset, site.Target)
	}
	fmt.Println()
	dump(blk.Code)
}

func encode(words []uint32) []byte {
	code := make([]byte, 4*len(words))
	for i, w := range words {
		code[4*i] = byte(w)
		code[4*i+1] = byte(w >> 8)
		code[4*i+2] = byte(w >> 16)
		code[4*i+3] = byte(w >> 24)
	}
	return code
}

func dump(code []byte) {
	for off := 0; off < len(code); off += 16 {
		end := off + 16
		if end > len(code) {
			end = len(code)
		}
		fmt.Printf("%04x: % x\n", off, code[off:end])
	}
}

// benchmark retranslates the block in a tight loop and reports
// throughput and allocation behavior.
func benchmark(builder *translate.BlockBuilder, mem *translate.CodeImage) {
	// Warm up and sanity-check the input.
	if _, err := builder.Translate(*basePC, mem); err != nil {
		fmt.Fprintf(os.Stderr, "translate: %v\n", err)
		os.Exit(1)
	}

	runtime.GC()
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	start := time.Now()
	for i := 0; i < *iters; i++ {
		if _, err := builder.Translate(*basePC, mem); err != nil {
			fmt.Fprintf(os.Stderr, "translate: %v\n", err)
			os.Exit(1)
		}
	}
	elapsed := time.Since(start)
	runtime.ReadMemStats(&after)

	fmt.Printf("Translations:          %d\n", *iters)
	fmt.Printf("Time elapsed:          %v\n", elapsed)
	fmt.Printf("Translations/second:   %.0f\n", float64(*iters)/elapsed.Seconds())
	fmt.Printf("Allocations/translate: %.1f\n",
		float64(after.Mallocs-before.Mallocs)/float64(*iters))
	fmt.Printf("Bytes/translate:       %.1f\n",
		float64(after.TotalAlloc-before.TotalAlloc)/float64(*iters))
}
