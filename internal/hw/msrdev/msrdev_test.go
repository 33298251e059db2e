//go:build linux

package msrdev

import (
	"errors"
	"testing"

	"github.com/hvkit/vmxprep/internal/hw"
)

func openMSRDevice(t testing.TB) *Device {
	t.Helper()

	b, err := Open(0)
	if err != nil {
		t.Skipf("msr device not available: %v", err)
	}
	return b
}

func TestReadMSR(t *testing.T) {
	b := openMSRDevice(t)
	defer b.Close()

	// IA32_TIME_STAMP_COUNTER exists on every x86 since the Pentium.
	const msrTSC = 0x10
	if _, err := b.ReadMSR(msrTSC); err != nil {
		t.Fatalf("ReadMSR(TSC): %v", err)
	}
}

func TestReadMSRFaultIsData(t *testing.T) {
	b := openMSRDevice(t)
	defer b.Close()

	// Scan a slice of the index space; whatever faults must come back
	// as ErrFault, not as a raw device error.
	for index := uint32(0); index < 0x100; index++ {
		_, err := b.ReadMSR(index)
		if err != nil && !errors.Is(err, hw.ErrFault) {
			t.Fatalf("ReadMSR(%#x) returned non-fault error: %v", index, err)
		}
	}
}

func TestEnterRootOperationUnsupported(t *testing.T) {
	b := openMSRDevice(t)
	defer b.Close()

	if status := b.EnterRootOperation(0x1000); status == 0 {
		t.Error("user-space backend reported successful VMXON")
	}
}

func TestOpenMissingCPU(t *testing.T) {
	if _, err := Open(1 << 20); err == nil {
		t.Error("Open succeeded for an absurd CPU number")
	}
}
