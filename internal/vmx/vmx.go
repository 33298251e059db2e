// Package vmx prepares the hardware-mandated memory regions a host
// needs before entering VMX root operation: the VMXON region, per-vCPU
// VMCS region, the VM-exit host stack and the MSR/IO access-control
// bitmaps, plus the one-time scan for MSR indices the processor refuses
// to read.
package vmx

import (
	"sync"

	"github.com/hvkit/vmxprep/internal/hw"
	"github.com/hvkit/vmxprep/internal/mem"
)

const (
	// PageSize is the alignment hardware demands for every region it is
	// handed by physical address.
	PageSize = 0x1000

	// VmxonSize and VmcsSize are the architectural sizes of the
	// activation and control-state regions.
	VmxonSize = 0x1000
	VmcsSize  = 0x1000

	// HostStackSize is the stack used while handling VM exits.
	HostStackSize = 0x8000

	// msrIndexCount is the span of the low MSR index space covered by
	// the invalid-MSR scan and the access-control bitmap.
	msrIndexCount = 0x1000
)

// Page is a single hardware page handed to the processor by physical
// address. Raw owns the allocation; Physical is its physical base.
type Page struct {
	Raw      mem.Block
	Physical uint64
}

// VCPU holds the regions owned by one logical processor. An instance is
// created by that core's bring-up and never shared with another core.
type VCPU struct {
	ID int

	// Vmxon is the activation region. Its Physical address has been
	// accepted by VMXON when bring-up succeeded.
	Vmxon Region

	// Vmcs is the control-state region, prepared and revision-stamped
	// but not yet loaded as current.
	Vmcs Region

	// HostStack backs VM-exit handling. Hardware never sees its
	// physical address.
	HostStack mem.Block

	MsrBitmap Page
	IoBitmapA Page
	IoBitmapB Page
}

// Bringup allocates and initializes VMX regions against a memory
// provider and a hardware backend. Scope, when non-nil, is entered
// around every allocation so it runs at the elevated execution level the
// provider expects.
type Bringup struct {
	Alloc mem.Allocator
	HW    hw.Backend
	Scope mem.Scope

	invalidOnce sync.Once
	invalidMSRs *InvalidMSRBitmap
	invalidErr  error
}

func (b *Bringup) enter() (exit func()) {
	if b.Scope == nil {
		return func() {}
	}
	return b.Scope.Enter()
}

// Close releases process-wide state, currently the invalid-MSR bitmap
// if it was computed. Per-vCPU regions are released through Release.
func (b *Bringup) Close() error {
	if b.invalidMSRs == nil {
		return nil
	}
	m := b.invalidMSRs
	b.invalidMSRs = nil
	return b.Alloc.Free(m.block)
}
