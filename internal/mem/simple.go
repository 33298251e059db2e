package mem

import (
	"fmt"
)

// SimpleAllocator is a deterministic, Go-heap backed Allocator for
// tests. Synthetic physical addresses keep the virtual base's offset
// within a 2 MiB frame, matching how a real translation behaves. It
// tracks outstanding blocks so misuse of Free is caught.
type SimpleAllocator struct {
	// PhysicalBase seeds synthetic physical addresses; it is rounded up
	// to a frame boundary. Zero means 1 GiB.
	PhysicalBase uint64

	// Skew offsets the virtual base of every allocation inside a larger
	// buffer, producing deliberately misaligned raw bases.
	Skew int

	// Limit caps the number of successful allocations; zero means
	// unlimited. Allocations past the limit fail, which is how tests
	// inject allocator exhaustion.
	Limit int

	allocs   int
	nextPhys uint64
	live     map[uintptr][]byte // base -> backing buffer
}

// simpleFrame spaces synthetic physical bases. Keeping every base
// frame-aligned keeps physical addresses congruent with virtual ones
// for any alignment up to the frame size, as a real translation inside
// one huge page would be.
const simpleFrame = 0x200000

func (a *SimpleAllocator) AllocateContiguous(size int) (Block, error) {
	if size <= 0 {
		return Block{}, fmt.Errorf("mem: bad allocation size %d", size)
	}
	if a.Limit > 0 && a.allocs >= a.Limit {
		return Block{}, fmt.Errorf("mem: allocation limit reached (%d blocks)", a.Limit)
	}

	backing := make([]byte, size+a.Skew)
	b := Block{Data: backing[a.Skew:]}

	if a.nextPhys == 0 {
		a.nextPhys = a.PhysicalBase
		if a.nextPhys == 0 {
			a.nextPhys = 0x40000000
		}
		a.nextPhys = (a.nextPhys + simpleFrame - 1) &^ (simpleFrame - 1)
	}

	b.Physical = a.nextPhys + uint64(b.VirtualBase()%simpleFrame)
	a.nextPhys += uint64((size+a.Skew)/simpleFrame+3) * simpleFrame

	if a.live == nil {
		a.live = make(map[uintptr][]byte)
	}
	a.live[b.VirtualBase()] = backing
	a.allocs++

	return b, nil
}

func (a *SimpleAllocator) Free(b Block) error {
	base := b.VirtualBase()
	if _, ok := a.live[base]; !ok {
		return fmt.Errorf("mem: free of unknown address %#x (not a raw allocation base)", base)
	}
	delete(a.live, base)
	return nil
}

// Outstanding reports how many blocks have been allocated and not yet
// freed.
func (a *SimpleAllocator) Outstanding() int {
	return len(a.live)
}

var (
	_ Allocator = &SimpleAllocator{}
)
