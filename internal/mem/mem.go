// Package mem provides contiguous, physically backed memory for
// hardware-facing regions. A Block pairs the raw virtual allocation with
// the physical address of the same bytes; release is always keyed by
// the raw allocation, never by a derived pointer.
package mem

import "unsafe"

// Block is one contiguous, zero-filled allocation. Data is the owning
// virtual handle; Physical is the physical address of Data[0]. Because
// the allocation is physically contiguous, the physical address of
// Data[i] is Physical+i.
type Block struct {
	Data     []byte
	Physical uint64
}

// VirtualBase returns the virtual address of the first byte.
func (b Block) VirtualBase() uintptr {
	if len(b.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.Data[0]))
}

// Allocator hands out physically contiguous, zero-filled blocks. An
// allocator must fail immediately when it cannot service a request: the
// caller may be running in a context that must not block.
type Allocator interface {
	// AllocateContiguous returns a zero-filled block of at least size
	// bytes.
	AllocateContiguous(size int) (Block, error)

	// Free releases a block previously returned by AllocateContiguous.
	// The block must be passed back exactly as it was handed out;
	// freeing a derived or unknown address is an error.
	Free(b Block) error
}

// Scope marks a window where allocation runs at an elevated execution
// level, with normal preemption disabled. Enter returns the exit
// function; callers must run it on every path out of the window.
type Scope interface {
	Enter() (exit func())
}

// NopScope is the Scope for environments with no elevated level.
type NopScope struct{}

func (NopScope) Enter() (exit func()) { return func() {} }

var (
	_ Scope = NopScope{}
)
