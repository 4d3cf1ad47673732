package exec

import (
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux ARM64 system call numbers handled in-process.
const (
	sysRead      = 63
	sysWrite     = 64
	sysExit      = 93
	sysExitGroup = 94
)

const enosys = ^uint64(37) // -ENOSYS

// PassthroughSyscalls services the guest's system calls directly against
// the host kernel. Guest pointers are host pointers, so buffers pass
// through without copying. Exit is recorded rather than performed, so
// the dispatch loop can unwind cleanly.
type PassthroughSyscalls struct {
	log *slog.Logger

	exited   bool
	exitCode int
}

// NewPassthroughSyscalls returns a handler logging through l.
func NewPassthroughSyscalls(l *slog.Logger) *PassthroughSyscalls {
	if l == nil {
		l = slog.Default()
	}
	return &PassthroughSyscalls{log: l}
}

// Syscall services one guest system call and returns the value for X0.
func (h *PassthroughSyscalls) Syscall(num uint64, args [6]uint64) uint64 {
	switch num {
	case sysRead:
		return h.rw(unix.Read, args)
	case sysWrite:
		return h.rw(unix.Write, args)
	case sysExit, sysExitGroup:
		h.exited = true
		h.exitCode = int(int64(args[0]))
		return 0
	default:
		h.log.Debug("unhandled syscall", "num", num)
		return enosys
	}
}

// Exited reports whether the guest has asked to terminate.
func (h *PassthroughSyscalls) Exited() (int, bool) {
	return h.exitCode, h.exited
}

func (h *PassthroughSyscalls) rw(op func(int, []byte) (int, error), args [6]uint64) uint64 {
	fd := int(int64(args[0]))
	count := int(args[2])
	if count < 0 {
		return errno(unix.EINVAL)
	}
	var buf []byte
	if count > 0 {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(uintptr(args[1]))), count)
	}
	n, err := op(fd, buf)
	if err != nil {
		if e, ok := err.(unix.Errno); ok {
			return errno(e)
		}
		return errno(unix.EIO)
	}
	return uint64(n)
}

func errno(e unix.Errno) uint64 {
	return uint64(-int64(e))
}
