// Package loader reads ARM64 ELF executables and places their segments
// for translation and execution.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// DefaultStackSize is the default guest stack size (8MB).
const DefaultStackSize = 8 * 1024 * 1024

const pageSize = 4096

// Segment is a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment belongs.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may exceed len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a parsed ARM64 executable ready for placement.
type Program struct {
	// EntryPoint is the virtual address where execution begins.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment

	mapped []mapping
}

type mapping struct {
	ptr unsafe.Pointer
	len uintptr
}

// Load parses an ARM64 ELF binary.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}
	if f.Machine != elf.EM_AARCH64 {
		return nil, fmt.Errorf("not an ARM64 ELF file (machine type: %v)", f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("not a static executable (type: %v)", f.Type)
	}

	prog := &Program{EntryPoint: f.Entry}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	if len(prog.Segments) == 0 {
		return nil, fmt.Errorf("no loadable segments")
	}
	return prog, nil
}

// CodeWindow returns the [lo, hi) address range covered by executable
// segments, the window the translator may fetch instructions from.
func (p *Program) CodeWindow() (lo, hi uint64) {
	for _, s := range p.Segments {
		if s.Flags&SegmentFlagExecute == 0 {
			continue
		}
		end := s.VirtAddr + s.MemSize
		if lo == 0 || s.VirtAddr < lo {
			lo = s.VirtAddr
		}
		if end > hi {
			hi = end
		}
	}
	return lo, hi
}

// ExecSegment returns the first executable segment, the usual home of
// the code the translator starts from.
func (p *Program) ExecSegment() (Segment, bool) {
	for _, s := range p.Segments {
		if s.Flags&SegmentFlagExecute != 0 {
			return s, true
		}
	}
	return Segment{}, false
}

// MapSegments places every segment at its exact virtual address in this
// process, the identity mapping the generated code relies on. It also
// maps a guest stack and returns the initial stack pointer. Unmap
// releases everything.
func (p *Program) MapSegments() (initialSP uint64, err error) {
	defer func() {
		if err != nil {
			p.Unmap()
		}
	}()

	for _, s := range p.Segments {
		start := s.VirtAddr &^ (pageSize - 1)
		end := (s.VirtAddr + s.MemSize + pageSize - 1) &^ (pageSize - 1)
		if end <= start {
			continue
		}
		mem, merr := unix.MmapPtr(-1, 0, unsafe.Pointer(uintptr(start)), uintptr(end-start),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_FIXED)
		if merr != nil {
			return 0, fmt.Errorf("map segment at 0x%x: %w", s.VirtAddr, merr)
		}
		region := unsafe.Slice((*byte)(mem), end-start)
		copy(region[s.VirtAddr-start:], s.Data)
		p.mapped = append(p.mapped, mapping{ptr: mem, len: uintptr(end - start)})
	}

	// The guest stack goes wherever the host has room; SP is handed to
	// the guest explicitly, so its placement is free.
	stack, serr := unix.MmapPtr(-1, 0, nil, DefaultStackSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if serr != nil {
		return 0, fmt.Errorf("map stack: %w", serr)
	}
	p.mapped = append(p.mapped, mapping{ptr: stack, len: DefaultStackSize})

	top := uintptr(stack) + DefaultStackSize
	return uint64(top) &^ 15, nil
}

// Unmap releases all mappings created by MapSegments.
func (p *Program) Unmap() {
	for _, m := range p.mapped {
		_ = unix.MunmapPtr(m.ptr, m.len)
	}
	p.mapped = nil
}
