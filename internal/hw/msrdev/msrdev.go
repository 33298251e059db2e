//go:build linux

// Package msrdev reads model-specific registers through the Linux msr
// driver (/dev/cpu/N/msr). The driver turns a #GP-faulting RDMSR into
// EIO, which is exactly the fault signal the prober wants.
package msrdev

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hvkit/vmxprep/internal/hw"
	"golang.org/x/sys/unix"
)

// Device is an open msr device for one logical processor.
type Device struct {
	fd  int
	cpu int
}

// Open opens the msr device for one logical processor. It fails when the
// msr module is not loaded or the process lacks the needed capability.
func Open(cpu int) (*Device, error) {
	path := fmt.Sprintf("/dev/cpu/%d/msr", cpu)

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("msrdev: open %s: %w", path, err)
	}

	return &Device{fd: fd, cpu: cpu}, nil
}

func (b *Device) Close() error {
	return unix.Close(b.fd)
}

func (b *Device) VMXBasic() uint64 {
	// IA32_VMX_BASIC always reads on VMX-capable parts. On anything
	// else the caller had no business bringing up VMX; report zero.
	v, err := b.ReadMSR(hw.IA32VmxBasic)
	if err != nil {
		return 0
	}
	return v
}

func (b *Device) ReadMSR(index uint32) (uint64, error) {
	var buf [8]byte

	n, err := unix.Pread(b.fd, buf[:], int64(index))
	if err != nil {
		if errors.Is(err, unix.EIO) {
			// The msr driver reports a faulting RDMSR as EIO.
			return 0, fmt.Errorf("msrdev: cpu %d msr %#x: %w", b.cpu, index, hw.ErrFault)
		}
		return 0, fmt.Errorf("msrdev: cpu %d msr %#x: %w", b.cpu, index, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("msrdev: cpu %d msr %#x: short read (%d bytes)", b.cpu, index, n)
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// EnterRootOperation always reports failure: VMXON executes in ring 0
// and cannot be issued through the msr device. This backend exists for
// probing and capability reporting from user space.
func (b *Device) EnterRootOperation(phys uint64) uint8 {
	return statusUnsupported
}

// statusUnsupported mirrors the VMfailInvalid outcome of VMXON on a
// processor that refuses the operation.
const statusUnsupported uint8 = 2

var (
	_ hw.Backend = &Device{}
)
