package vmx

import (
	"fmt"
	"log/slog"

	"github.com/hvkit/vmxprep/internal/mem"
)

// AllocateVmxonRegion builds the activation region for one core and
// executes VMXON with its physical address. On success the region is
// recorded in the vCPU state; on any failure the state is left untouched
// and nothing is retained.
func (b *Bringup) AllocateVmxonRegion(v *VCPU) error {
	exit := b.enter()
	defer exit()

	region, err := allocateAligned(b.Alloc, 2*VmxonSize, PageSize)
	if err != nil {
		return &AllocationError{Purpose: "VMXON region", Size: 2 * VmxonSize, Err: err}
	}

	stampRevision(region, b.HW)

	slog.Debug("vmx: VMXON region",
		"cpu", v.ID,
		"virtual", fmt.Sprintf("%#x", region.Virtual),
		"physical", fmt.Sprintf("%#x", region.Physical))

	if status := b.HW.EnterRootOperation(region.Physical); status != 0 {
		if err := b.Alloc.Free(region.Raw); err != nil {
			slog.Error("vmx: release refused VMXON region", "cpu", v.ID, "error", err)
		}
		return &ActivationError{Status: status}
	}

	v.Vmxon = region
	return nil
}

// AllocateVmcsRegion builds the control-state region for one core. The
// region is zeroed, revision-stamped and page-aligned but not loaded as
// current; that is the activation path's job later.
func (b *Bringup) AllocateVmcsRegion(v *VCPU) error {
	exit := b.enter()
	defer exit()

	region, err := allocateAligned(b.Alloc, 2*VmcsSize, PageSize)
	if err != nil {
		return &AllocationError{Purpose: "VMCS region", Size: 2 * VmcsSize, Err: err}
	}

	stampRevision(region, b.HW)

	slog.Debug("vmx: VMCS region",
		"cpu", v.ID,
		"virtual", fmt.Sprintf("%#x", region.Virtual),
		"physical", fmt.Sprintf("%#x", region.Physical))

	v.Vmcs = region
	return nil
}

// AllocateHostStack allocates the zero-filled stack used while handling
// VM exits. The stack is only ever addressed virtually.
func (b *Bringup) AllocateHostStack(v *VCPU) error {
	exit := b.enter()
	defer exit()

	block, err := b.Alloc.AllocateContiguous(HostStackSize)
	if err != nil {
		return &AllocationError{Purpose: "host stack", Size: HostStackSize, Err: err}
	}

	slog.Debug("vmx: host stack", "cpu", v.ID, "virtual", fmt.Sprintf("%#x", block.VirtualBase()))

	v.HostStack = block
	return nil
}

// AllocateMsrBitmap allocates the page gating which MSR accesses cause
// VM exits. All-zero content means no MSR exits; collaborators set bits
// later to opt MSRs in.
func (b *Bringup) AllocateMsrBitmap(v *VCPU) error {
	exit := b.enter()
	defer exit()

	page, err := b.allocatePage("MSR bitmap")
	if err != nil {
		return err
	}

	slog.Debug("vmx: MSR bitmap",
		"cpu", v.ID,
		"virtual", fmt.Sprintf("%#x", page.Raw.VirtualBase()),
		"physical", fmt.Sprintf("%#x", page.Physical))

	v.MsrBitmap = page
	return nil
}

// AllocateIoBitmaps allocates I/O bitmaps A and B, one page each. If the
// second page cannot be allocated the first is released so no partial
// pair is recorded.
func (b *Bringup) AllocateIoBitmaps(v *VCPU) error {
	exit := b.enter()
	defer exit()

	pageA, err := b.allocatePage("I/O bitmap A")
	if err != nil {
		return err
	}

	pageB, err := b.allocatePage("I/O bitmap B")
	if err != nil {
		if ferr := b.Alloc.Free(pageA.Raw); ferr != nil {
			slog.Error("vmx: release I/O bitmap A", "cpu", v.ID, "error", ferr)
		}
		return err
	}

	slog.Debug("vmx: I/O bitmaps",
		"cpu", v.ID,
		"physicalA", fmt.Sprintf("%#x", pageA.Physical),
		"physicalB", fmt.Sprintf("%#x", pageB.Physical))

	v.IoBitmapA = pageA
	v.IoBitmapB = pageB
	return nil
}

func (b *Bringup) allocatePage(purpose string) (Page, error) {
	block, err := b.Alloc.AllocateContiguous(PageSize)
	if err != nil {
		return Page{}, &AllocationError{Purpose: purpose, Size: PageSize, Err: err}
	}
	return Page{Raw: block, Physical: block.Physical}, nil
}

// Prepare runs the whole per-core sequence: activation region (with
// VMXON), control-state region, host stack and the three access-control
// bitmaps. On the first failure everything already allocated for this
// core is released, so no half-initialized vCPU survives.
func (b *Bringup) Prepare(v *VCPU) error {
	steps := []func(*VCPU) error{
		b.AllocateVmxonRegion,
		b.AllocateVmcsRegion,
		b.AllocateHostStack,
		b.AllocateMsrBitmap,
		b.AllocateIoBitmaps,
	}

	for _, step := range steps {
		if err := step(v); err != nil {
			b.Release(v)
			return err
		}
	}

	return nil
}

// Release frees every region the vCPU still owns, each exactly once,
// keyed by the raw allocations. Callers must ensure the hardware no
// longer references the aligned windows. The state is zeroed so a second
// Release is a no-op.
func (b *Bringup) Release(v *VCPU) error {
	var firstErr error

	free := func(what string, block mem.Block) {
		if block.Data == nil {
			return
		}
		if err := b.Alloc.Free(block); err != nil {
			slog.Error("vmx: release "+what, "cpu", v.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	free("VMXON region", v.Vmxon.Raw)
	free("VMCS region", v.Vmcs.Raw)
	free("host stack", v.HostStack)
	free("MSR bitmap", v.MsrBitmap.Raw)
	free("I/O bitmap A", v.IoBitmapA.Raw)
	free("I/O bitmap B", v.IoBitmapB.Raw)

	*v = VCPU{ID: v.ID}
	return firstErr
}
