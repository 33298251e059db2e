package vmx

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/hvkit/vmxprep/internal/hw"
	"github.com/hvkit/vmxprep/internal/mem"
)

// Region pairs a raw allocation with the aligned window carved out of
// it. Raw is the owning handle and the only value ever passed back to
// the allocator; Virtual and Physical address the aligned window the
// hardware sees. The pairing is kept explicit so release never has to
// recover one pointer from the other.
type Region struct {
	Raw      mem.Block
	Virtual  uintptr
	Physical uint64
	Size     int
}

// Bytes returns the usable aligned window.
func (r Region) Bytes() []byte {
	off := int(r.Virtual - r.Raw.VirtualBase())
	return r.Raw.Data[off : off+r.Size]
}

// allocateAligned obtains a zero-filled contiguous block large enough to
// hold an align-aligned window of at least size bytes wherever the raw
// base lands, and derives the window's virtual and physical addresses.
// Both derivations are anchored to the same raw base: the virtual and
// physical bases must share their offset within an alignment unit, or
// the two aligned addresses would name different bytes.
func allocateAligned(alloc mem.Allocator, size, align int) (Region, error) {
	if align <= 0 || align&(align-1) != 0 {
		return Region{}, fmt.Errorf("vmx: alignment %#x is not a power of two", align)
	}

	block, err := alloc.AllocateContiguous(2*size + align)
	if err != nil {
		return Region{}, err
	}

	rawVirt := block.VirtualBase()
	mask := uintptr(align - 1)

	if rawVirt&mask != uintptr(block.Physical)&mask {
		alloc.Free(block)
		return Region{}, fmt.Errorf("vmx: translation skew: virtual base %#x and physical base %#x disagree modulo %#x",
			rawVirt, block.Physical, align)
	}

	return Region{
		Raw:      block,
		Virtual:  (rawVirt + mask) &^ mask,
		Physical: (block.Physical + uint64(align) - 1) &^ (uint64(align) - 1),
		Size:     size,
	}, nil
}

// stampRevision writes the capability register's revision identifier as
// the first machine word of a freshly zeroed aligned region. This must
// happen before the region is handed to any hardware-facing primitive,
// and the stamp is never rewritten.
func stampRevision(r Region, backend hw.Backend) {
	rev := hw.RevisionID(backend.VMXBasic())
	binary.LittleEndian.PutUint64(r.Bytes()[:8], uint64(rev))

	slog.Debug("vmx: stamped revision identifier", "revision", fmt.Sprintf("%#x", rev))
}
