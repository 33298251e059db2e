package hw

import "testing"

func TestRevisionID(t *testing.T) {
	for _, tc := range []struct {
		basic uint64
		want  uint32
	}{
		{0x1234, 0x1234},
		{0x8000_0000_0000_1234, 0x1234},
		{0xffff_ffff_ffff_ffff, 0x7fff_ffff},
		{0, 0},
	} {
		if got := RevisionID(tc.basic); got != tc.want {
			t.Errorf("RevisionID(%#x) = %#x, want %#x", tc.basic, got, tc.want)
		}
	}
}

func TestSimpleBackendDefaults(t *testing.T) {
	var b SimpleBackend

	if v := b.VMXBasic(); v != 0 {
		t.Errorf("VMXBasic() = %#x, want 0", v)
	}
	if _, err := b.ReadMSR(0x10); err != nil {
		t.Errorf("ReadMSR: %v", err)
	}
	if status := b.EnterRootOperation(0x1000); status != 0 {
		t.Errorf("EnterRootOperation status %d, want 0", status)
	}
}

func TestSimpleBackendHooks(t *testing.T) {
	var gotPhys uint64
	b := SimpleBackend{
		VMXBasicFunc:  func() uint64 { return 0x42 },
		EnterRootFunc: func(phys uint64) uint8 { gotPhys = phys; return 3 },
	}

	if v := b.VMXBasic(); v != 0x42 {
		t.Errorf("VMXBasic() = %#x, want 0x42", v)
	}
	if status := b.EnterRootOperation(0x5000); status != 3 || gotPhys != 0x5000 {
		t.Errorf("EnterRootOperation = %d (phys %#x), want 3 (phys 0x5000)", status, gotPhys)
	}
}
