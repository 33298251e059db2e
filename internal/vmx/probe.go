package vmx

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hvkit/vmxprep/internal/hw"
	"github.com/hvkit/vmxprep/internal/mem"
)

// InvalidMSRBitmapSize is one bit per index in the scanned MSR space.
const InvalidMSRBitmapSize = msrIndexCount / 8

// InvalidMSRBitmap records which MSR indices the physical processor
// rejects when read. It is computed once per process before any core
// enters root operation and is read-only afterward, so it needs no
// locking.
type InvalidMSRBitmap struct {
	block mem.Block
}

// Test reports whether reading the MSR at index faulted during the
// scan. Indices outside the scanned space report false.
func (m *InvalidMSRBitmap) Test(index uint32) bool {
	if index >= msrIndexCount {
		return false
	}
	return m.block.Data[index/8]&(1<<(index%8)) != 0
}

func (m *InvalidMSRBitmap) set(index uint32) {
	m.block.Data[index/8] |= 1 << (index % 8)
}

// Count returns the number of rejected indices.
func (m *InvalidMSRBitmap) Count() int {
	n := 0
	for i := uint32(0); i < msrIndexCount; i++ {
		if m.Test(i) {
			n++
		}
	}
	return n
}

// Bytes exposes the packed bitmap, little-endian bit order within each
// byte. The caller must treat it as read-only.
func (m *InvalidMSRBitmap) Bytes() []byte {
	return m.block.Data[:InvalidMSRBitmapSize]
}

// probeInvalidMSRs attempts a read of every index in the scanned space.
// A faulting read is data: the bit is set and the scan continues. The
// only failure modes are the bitmap allocation itself and a backend
// error that is not a fault.
func probeInvalidMSRs(alloc mem.Allocator, backend hw.Backend) (*InvalidMSRBitmap, error) {
	block, err := alloc.AllocateContiguous(InvalidMSRBitmapSize)
	if err != nil {
		return nil, &AllocationError{Purpose: "invalid MSR bitmap", Size: InvalidMSRBitmapSize, Err: err}
	}

	m := &InvalidMSRBitmap{block: block}

	for i := uint32(0); i < msrIndexCount; i++ {
		if _, err := backend.ReadMSR(i); err != nil {
			if errors.Is(err, hw.ErrFault) {
				m.set(i)
				continue
			}
			alloc.Free(block)
			return nil, fmt.Errorf("vmx: probing msr %#x: %w", i, err)
		}
	}

	slog.Debug("vmx: invalid MSR scan complete", "rejected", m.Count())

	return m, nil
}

// InvalidMSRs returns the process-wide invalid-MSR bitmap, running the
// scan on first use. The scan runs exactly once for the life of the
// Bringup; every later call sees the same bitmap.
func (b *Bringup) InvalidMSRs() (*InvalidMSRBitmap, error) {
	b.invalidOnce.Do(func() {
		exit := b.enter()
		defer exit()

		b.invalidMSRs, b.invalidErr = probeInvalidMSRs(b.Alloc, b.HW)
	})

	return b.invalidMSRs, b.invalidErr
}
