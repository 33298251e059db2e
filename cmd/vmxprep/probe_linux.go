//go:build linux

package main

import (
	"fmt"
	"log/slog"

	"github.com/hvkit/vmxprep/internal/hw"
	"github.com/hvkit/vmxprep/internal/hw/msrdev"
	"github.com/hvkit/vmxprep/internal/mem"
	"github.com/hvkit/vmxprep/internal/mem/hostmem"
	"github.com/hvkit/vmxprep/internal/vmx"
)

func runProbe(cpu int, list bool) error {
	dev, err := msrdev.Open(cpu)
	if err != nil {
		return err
	}
	defer dev.Close()

	alloc, scope, cleanup := chooseAllocator()
	defer cleanup()

	b := &vmx.Bringup{Alloc: alloc, HW: dev, Scope: scope}
	defer b.Close()

	rev := hw.RevisionID(dev.VMXBasic())
	if rev == 0 {
		slog.Warn("vmxprep: no VMX revision identifier, VMX likely unsupported", "cpu", cpu)
	} else {
		slog.Info("vmxprep: VMX revision identifier", "cpu", cpu, "revision", fmt.Sprintf("%#x", rev))
	}

	m, err := b.InvalidMSRs()
	if err != nil {
		return err
	}

	slog.Info("vmxprep: MSR scan complete",
		"cpu", cpu,
		"scanned", 8*vmx.InvalidMSRBitmapSize,
		"rejected", m.Count())

	if list {
		for index := uint32(0); index < uint32(8*vmx.InvalidMSRBitmapSize); index++ {
			if m.Test(index) {
				fmt.Printf("%#x\n", index)
			}
		}
	}

	return nil
}

// chooseAllocator prefers physically backed host memory and falls back
// to heap blocks when frame numbers are unavailable; the scan itself
// only needs ordinary memory for its bitmap.
func chooseAllocator() (mem.Allocator, mem.Scope, func()) {
	host, err := hostmem.Open()
	if err != nil {
		slog.Debug("vmxprep: host allocator unavailable, using heap blocks", "error", err)
		return &mem.SimpleAllocator{}, mem.NopScope{}, func() {}
	}

	if probe, err := host.AllocateContiguous(vmx.PageSize); err != nil {
		slog.Debug("vmxprep: host allocation unusable, using heap blocks", "error", err)
		host.Close()
		return &mem.SimpleAllocator{}, mem.NopScope{}, func() {}
	} else if err := host.Free(probe); err != nil {
		slog.Error("vmxprep: free probe block", "error", err)
	}

	return host, hostmem.CriticalScope{}, func() {
		if err := host.Close(); err != nil {
			slog.Error("vmxprep: close host allocator", "error", err)
		}
	}
}
