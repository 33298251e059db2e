package mem

import "testing"

func TestSimpleAllocatorZeroFilled(t *testing.T) {
	alloc := &SimpleAllocator{}

	b, err := alloc.AllocateContiguous(8192)
	if err != nil {
		t.Fatalf("AllocateContiguous: %v", err)
	}

	if len(b.Data) != 8192 {
		t.Errorf("block is %d bytes, want 8192", len(b.Data))
	}
	for i, v := range b.Data {
		if v != 0 {
			t.Fatalf("byte %d is %#x, want 0", i, v)
		}
	}
}

func TestSimpleAllocatorTranslationCongruence(t *testing.T) {
	// A real virtual/physical translation keeps the page offset; the
	// fake must too, or alignment arithmetic anchored to the raw base
	// would diverge between the two address spaces.
	alloc := &SimpleAllocator{Skew: 13}

	for i := 0; i < 4; i++ {
		b, err := alloc.AllocateContiguous(4096)
		if err != nil {
			t.Fatalf("AllocateContiguous: %v", err)
		}
		if b.VirtualBase()%simpleFrame != uintptr(b.Physical%simpleFrame) {
			t.Errorf("virtual base %#x and physical base %#x disagree modulo the frame size",
				b.VirtualBase(), b.Physical)
		}
	}
}

func TestSimpleAllocatorDistinctPhysical(t *testing.T) {
	alloc := &SimpleAllocator{}

	a, err := alloc.AllocateContiguous(4096)
	if err != nil {
		t.Fatalf("AllocateContiguous: %v", err)
	}
	b, err := alloc.AllocateContiguous(4096)
	if err != nil {
		t.Fatalf("AllocateContiguous: %v", err)
	}

	if a.Physical == b.Physical {
		t.Errorf("two blocks share physical base %#x", a.Physical)
	}
}

func TestSimpleAllocatorFreeMisuse(t *testing.T) {
	alloc := &SimpleAllocator{}

	b, err := alloc.AllocateContiguous(4096)
	if err != nil {
		t.Fatalf("AllocateContiguous: %v", err)
	}

	derived := Block{Data: b.Data[64:], Physical: b.Physical + 64}
	if err := alloc.Free(derived); err == nil {
		t.Error("freeing a derived address succeeded, want error")
	}

	if err := alloc.Free(b); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := alloc.Free(b); err == nil {
		t.Error("double free succeeded, want error")
	}
	if n := alloc.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d, want 0", n)
	}
}

func TestSimpleAllocatorLimit(t *testing.T) {
	alloc := &SimpleAllocator{Limit: 2}

	for i := 0; i < 2; i++ {
		if _, err := alloc.AllocateContiguous(16); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	if _, err := alloc.AllocateContiguous(16); err == nil {
		t.Error("allocation past the limit succeeded, want error")
	}
}

func TestSimpleAllocatorBadSize(t *testing.T) {
	alloc := &SimpleAllocator{}

	for _, size := range []int{0, -1} {
		if _, err := alloc.AllocateContiguous(size); err == nil {
			t.Errorf("AllocateContiguous(%d) succeeded, want error", size)
		}
	}
}
