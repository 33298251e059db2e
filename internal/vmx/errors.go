package vmx

import "fmt"

// AllocationError reports that the backing allocator could not service a
// region request. It is fatal to the requesting bring-up step and is
// never retried.
type AllocationError struct {
	Purpose string
	Size    int
	Err     error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("vmx: allocating %s (%d bytes): %v", e.Purpose, e.Size, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// ActivationError reports a nonzero status from the VMXON instruction.
// It is fatal to that core's bring-up: a refused activation means
// unsupported hardware or an already-active state, neither of which a
// retry can fix.
type ActivationError struct {
	Status uint8
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("vmx: vmxon failed with status %d", e.Status)
}
