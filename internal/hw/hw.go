// Package hw abstracts the processor primitives consumed during VMX
// bring-up: capability reads, arbitrary MSR reads and the VMXON
// instruction. Backends are either real hardware paths or deterministic
// fakes for tests.
package hw

import "errors"

// ErrFault reports that a register read raised a hardware fault. A
// faulting read is an expected outcome for unimplemented MSR indices and
// is treated as data by callers, not as a failure.
var ErrFault = errors.New("hw: register read faulted")

// IA32VmxBasic is the capability MSR carrying the VMCS revision
// identifier in its low 31 bits.
const IA32VmxBasic = 0x480

// RevisionID extracts the revision identifier field from an
// IA32_VMX_BASIC capability value.
func RevisionID(basic uint64) uint32 {
	return uint32(basic & 0x7FFFFFFF)
}

// Backend is the set of processor primitives the region managers need.
type Backend interface {
	// VMXBasic reads the IA32_VMX_BASIC capability MSR. Reads of this
	// register are defined to always succeed on VMX-capable hardware.
	VMXBasic() uint64

	// ReadMSR reads the MSR at the given index. A read the processor
	// rejects returns an error matching ErrFault; any other error means
	// the backend itself failed.
	ReadMSR(index uint32) (uint64, error)

	// EnterRootOperation executes VMXON with the physical address of a
	// prepared activation region and returns the instruction status
	// code. Zero means success.
	EnterRootOperation(phys uint64) uint8
}

// SimpleBackend implements Backend with optional hooks. Nil hooks get
// benign defaults: capability zero, reads succeed with zero, activation
// succeeds.
type SimpleBackend struct {
	VMXBasicFunc  func() uint64
	ReadMSRFunc   func(index uint32) (uint64, error)
	EnterRootFunc func(phys uint64) uint8
}

func (b SimpleBackend) VMXBasic() uint64 {
	if b.VMXBasicFunc != nil {
		return b.VMXBasicFunc()
	}
	return 0
}

func (b SimpleBackend) ReadMSR(index uint32) (uint64, error) {
	if b.ReadMSRFunc != nil {
		return b.ReadMSRFunc(index)
	}
	return 0, nil
}

func (b SimpleBackend) EnterRootOperation(phys uint64) uint8 {
	if b.EnterRootFunc != nil {
		return b.EnterRootFunc(phys)
	}
	return 0
}

var (
	_ Backend = SimpleBackend{}
)
