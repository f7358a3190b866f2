package vm

import (
	"errors"
	"testing"
)

func TestVarStoreRoundTripNoAliasing(t *testing.T) {
	s := NewVarStore(64, 64, 4, 17)

	// Same numeric index in every space.
	for i := 0; i < 17; i++ {
		if err := s.Write(uint16(i), NoSlot, int32(1000+i)); err != nil {
			t.Fatalf("write global %d: %v", i, err)
		}
		if err := s.Write(Bit(i), NoSlot, 1); err != nil {
			t.Fatalf("write bit %d: %v", i, err)
		}
		if err := s.Write(Local(i), 2, int32(-i)); err != nil {
			t.Fatalf("write local %d: %v", i, err)
		}
	}

	for i := 0; i < 17; i++ {
		if v, _ := s.Read(uint16(i), NoSlot); v != int32(1000+i) {
			t.Errorf("global %d = %d, want %d", i, v, 1000+i)
		}
		if v, _ := s.Read(Bit(i), NoSlot); v != 1 {
			t.Errorf("bit %d = %d, want 1", i, v)
		}
		if v, _ := s.Read(Local(i), 2); v != int32(-i) {
			t.Errorf("local %d = %d, want %d", i, v, -i)
		}
		if v, _ := s.Read(Local(i), 1); v != 0 {
			t.Errorf("local %d of another slot = %d, want 0", i, v)
		}
	}
}

func TestVarStoreBitsStoreTruth(t *testing.T) {
	s := NewVarStore(8, 130, 1, 4)
	if err := s.Write(Bit(129), NoSlot, 77); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Read(Bit(129), NoSlot); v != 1 {
		t.Errorf("bit 129 = %d, want 1", v)
	}
	if v, _ := s.Read(Bit(128), NoSlot); v != 0 {
		t.Errorf("neighbour bit 128 = %d, want 0", v)
	}
	if err := s.Write(Bit(129), NoSlot, 0); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Read(Bit(129), NoSlot); v != 0 {
		t.Errorf("cleared bit 129 = %d, want 0", v)
	}
}

func TestVarStoreOutOfRange(t *testing.T) {
	s := NewVarStore(8, 16, 2, 4)
	cases := []struct {
		name string
		n    uint16
		slot int
	}{
		{"global", 8, NoSlot},
		{"bit", Bit(16), NoSlot},
		{"local index", Local(4), 0},
		{"local without slot", Local(0), NoSlot},
		{"local with 0x1000 bit", 0x5000, 0},
		{"local with indirect bit", 0x6000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Read(tc.n, tc.slot); !errors.Is(err, ErrVarRange) {
				t.Errorf("read: expected ErrVarRange, got %v", err)
			}
			if err := s.Write(tc.n, tc.slot, 1); !errors.Is(err, ErrVarRange) {
				t.Errorf("write: expected ErrVarRange, got %v", err)
			}
		})
	}
}

func TestVarStoreLocalsDoNotWrap(t *testing.T) {
	s := NewVarStore(8, 8, 2, 4)
	if err := s.Write(0x5000, 0, 42); err == nil {
		t.Fatal("write to local 0x5000 accepted")
	}
	if v, err := s.Read(Local(0), 0); err != nil || v != 0 {
		t.Errorf("local 0 = %d (%v), want 0", v, err)
	}
}

func TestVarStoreSeed(t *testing.T) {
	s := NewVarStore(8, 8, 2, 4)
	s.Write(Local(3), 1, 9)
	s.Seed(1, []int32{7, 8, 9, 10, 11})
	want := []int32{7, 8, 9, 10}
	for i, w := range want {
		if got := s.Locals(1)[i]; got != w {
			t.Errorf("local %d = %d, want %d", i, got, w)
		}
	}
	s.Seed(1, nil)
	for i, v := range s.Locals(1) {
		if v != 0 {
			t.Errorf("local %d = %d after reset", i, v)
		}
	}
}

func TestVarStorePackBits(t *testing.T) {
	s := NewVarStore(1, 100, 1, 1)
	for _, i := range []int{0, 7, 63, 64, 99} {
		s.Write(Bit(i), NoSlot, 1)
	}
	packed := s.packBits()
	if len(packed) != 13 {
		t.Fatalf("packed %d bytes, want 13", len(packed))
	}

	other := NewVarStore(1, 100, 1, 1)
	other.unpackBits(packed)
	for i := 0; i < 100; i++ {
		a, _ := s.Read(Bit(i), NoSlot)
		b, _ := other.Read(Bit(i), NoSlot)
		if a != b {
			t.Errorf("bit %d: %d vs %d", i, a, b)
		}
	}
}
