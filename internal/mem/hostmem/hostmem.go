//go:build linux

// Package hostmem allocates physically contiguous, page-locked memory
// from the host kernel. Physical addresses come from /proc/self/pagemap,
// so the process needs CAP_SYS_ADMIN to see real frame numbers.
package hostmem

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"unsafe"

	"github.com/hvkit/vmxprep/internal/mem"
	"golang.org/x/sys/unix"
)

const pageSize = 0x1000

// pagemap entry layout, Documentation/admin-guide/mm/pagemap.rst.
const (
	pagemapPresent = 1 << 63
	pagemapPFNMask = (1 << 55) - 1
)

// Allocator implements mem.Allocator on top of anonymous mmap. Pages are
// populated and locked at allocation time so the block never faults or
// moves while hardware holds its physical address.
type Allocator struct {
	pagemap *os.File
	live    map[uintptr][]byte
}

func Open() (*Allocator, error) {
	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return nil, fmt.Errorf("hostmem: open pagemap: %w", err)
	}

	return &Allocator{
		pagemap: f,
		live:    make(map[uintptr][]byte),
	}, nil
}

func (a *Allocator) Close() error {
	for base, data := range a.live {
		slog.Warn("hostmem: leaked block at close", "base", fmt.Sprintf("%#x", base), "size", len(data))
	}
	return a.pagemap.Close()
}

func (a *Allocator) AllocateContiguous(size int) (mem.Block, error) {
	if size <= 0 {
		return mem.Block{}, fmt.Errorf("hostmem: bad allocation size %d", size)
	}
	size = (size + pageSize - 1) &^ (pageSize - 1)

	data, err := unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_POPULATE,
	)
	if err != nil {
		return mem.Block{}, fmt.Errorf("hostmem: mmap %d bytes: %w", size, err)
	}

	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return mem.Block{}, fmt.Errorf("hostmem: mlock %d bytes: %w", size, err)
	}

	phys, err := a.translate(data)
	if err != nil {
		unix.Munmap(data)
		return mem.Block{}, err
	}

	b := mem.Block{Data: data, Physical: phys}
	a.live[b.VirtualBase()] = data

	return b, nil
}

func (a *Allocator) Free(b mem.Block) error {
	base := b.VirtualBase()
	data, ok := a.live[base]
	if !ok {
		return fmt.Errorf("hostmem: free of unknown address %#x (not a raw allocation base)", base)
	}
	delete(a.live, base)

	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("hostmem: munmap: %w", err)
	}
	return nil
}

// translate resolves the physical base of data and verifies the whole
// block is physically sequential.
func (a *Allocator) translate(data []byte) (uint64, error) {
	base := uintptr(unsafe.Pointer(&data[0]))

	var first, prev uint64
	for off := 0; off < len(data); off += pageSize {
		pfn, err := a.frameNumber(base + uintptr(off))
		if err != nil {
			return 0, err
		}
		if off == 0 {
			first = pfn
		} else if pfn != prev+1 {
			return 0, fmt.Errorf("hostmem: block not physically contiguous at offset %#x", off)
		}
		prev = pfn
	}

	return first*pageSize + uint64(base&(pageSize-1)), nil
}

func (a *Allocator) frameNumber(vaddr uintptr) (uint64, error) {
	var buf [8]byte

	off := int64(vaddr/pageSize) * 8
	if _, err := a.pagemap.ReadAt(buf[:], off); err != nil {
		return 0, fmt.Errorf("hostmem: read pagemap for %#x: %w", vaddr, err)
	}

	entry := binary.LittleEndian.Uint64(buf[:])
	if entry&pagemapPresent == 0 {
		return 0, fmt.Errorf("hostmem: page at %#x not present", vaddr)
	}

	pfn := entry & pagemapPFNMask
	if pfn == 0 {
		// The kernel zeroes frame numbers for unprivileged readers.
		return 0, fmt.Errorf("hostmem: pagemap frame numbers hidden (need CAP_SYS_ADMIN)")
	}

	return pfn, nil
}

// CriticalScope pins the calling goroutine to its OS thread and locks
// the address space for the duration of an allocation window. It stands
// in for the elevated dispatch level a kernel driver would raise to.
type CriticalScope struct{}

func (CriticalScope) Enter() (exit func()) {
	runtime.LockOSThread()

	locked := true
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		slog.Debug("hostmem: mlockall unavailable", "error", err)
		locked = false
	}

	return func() {
		if locked {
			if err := unix.Munlockall(); err != nil {
				slog.Error("hostmem: munlockall", "error", err)
			}
		}
		runtime.UnlockOSThread()
	}
}

var (
	_ mem.Allocator = &Allocator{}
	_ mem.Scope     = CriticalScope{}
)
