package vm

import (
	"errors"
	"testing"
)

func TestArrayReadBackEveryKind(t *testing.T) {
	kinds := []struct {
		kind ArrayKind
		val  func(r, c int32) int32
	}{
		{ArrayNibble, func(r, c int32) int32 { return (r*3 + c) & 0xF }},
		{ArrayByte, func(r, c int32) int32 { return (r*31 + c) & 0xFF }},
		{ArrayString, func(r, c int32) int32 { return (r + c*7) & 0xFF }},
		{ArrayWord, func(r, c int32) int32 { return r*1000 - c*37 }},
		{ArrayDWord, func(r, c int32) int32 { return r*100000 - c }},
	}
	rows, cols := Bounds{2, 4}, Bounds{-1, 5}

	for _, k := range kinds {
		t.Run(k.kind.String(), func(t *testing.T) {
			tbl := NewArrayTable(4)
			h, err := tbl.Define(0, k.kind, rows, cols)
			if err != nil {
				t.Fatalf("Define: %v", err)
			}
			for r := rows.Lo; r <= rows.Hi; r++ {
				for c := cols.Lo; c <= cols.Hi; c++ {
					if err := tbl.Write(h, r, c, k.val(r, c)); err != nil {
						t.Fatalf("Write(%d,%d): %v", r, c, err)
					}
				}
			}
			for r := rows.Lo; r <= rows.Hi; r++ {
				for c := cols.Lo; c <= cols.Hi; c++ {
					got, err := tbl.Read(h, r, c)
					if err != nil {
						t.Fatalf("Read(%d,%d): %v", r, c, err)
					}
					if got != k.val(r, c) {
						t.Errorf("[%d,%d] = %d, want %d", r, c, got, k.val(r, c))
					}
				}
			}
		})
	}
}

func TestArrayOutOfBounds(t *testing.T) {
	tbl := NewArrayTable(4)
	h, _ := tbl.Define(0, ArrayByte, Bounds{0, 1}, Span(4))
	for _, rc := range [][2]int32{{-1, 0}, {2, 0}, {0, -1}, {0, 4}} {
		if _, err := tbl.Read(h, rc[0], rc[1]); !errors.Is(err, ErrArrayRange) {
			t.Errorf("Read%v: expected ErrArrayRange, got %v", rc, err)
		}
		if err := tbl.Write(h, rc[0], rc[1], 1); !errors.Is(err, ErrArrayRange) {
			t.Errorf("Write%v: expected ErrArrayRange, got %v", rc, err)
		}
	}
}

func TestArrayTruncatesToElementWidth(t *testing.T) {
	tbl := NewArrayTable(4)
	h, _ := tbl.Define(0, ArrayByte, Bounds{0, 0}, Span(2))
	tbl.Write(h, 0, 0, 0x1FF)
	if v, _ := tbl.Read(h, 0, 0); v != 0xFF {
		t.Errorf("byte element = %d, want 255", v)
	}

	w, _ := tbl.Define(0, ArrayWord, Bounds{0, 0}, Span(2))
	tbl.Write(w, 0, 1, -2)
	if v, _ := tbl.Read(w, 0, 1); v != -2 {
		t.Errorf("word element = %d, want -2", v)
	}
}

func TestArrayHandleZero(t *testing.T) {
	tbl := NewArrayTable(4)
	if _, err := tbl.Read(0, 0, 0); !errors.Is(err, ErrUndefinedArray) {
		t.Errorf("read of handle 0: expected ErrUndefinedArray, got %v", err)
	}
	if err := tbl.Write(0, 0, 0, 1); !errors.Is(err, ErrArrayRange) {
		t.Errorf("write of handle 0: expected ErrArrayRange, got %v", err)
	}
	if _, err := tbl.Read(3, 0, 0); !errors.Is(err, ErrArrayRange) {
		t.Errorf("read of undefined handle: expected ErrArrayRange, got %v", err)
	}
}

func TestArrayRedefinePreservesSameKind(t *testing.T) {
	tbl := NewArrayTable(4)
	h, _ := tbl.Define(0, ArrayWord, Bounds{0, 0}, Span(4))
	for c := int32(0); c < 4; c++ {
		tbl.Write(h, 0, c, c+10)
	}
	if _, err := tbl.Define(h, ArrayWord, Bounds{0, 0}, Span(2)); err != nil {
		t.Fatal(err)
	}
	if v, _ := tbl.Read(h, 0, 1); v != 11 {
		t.Errorf("kept element = %d, want 11", v)
	}
	if _, err := tbl.Read(h, 0, 3); !errors.Is(err, ErrArrayRange) {
		t.Errorf("shrunk element still readable: %v", err)
	}

	tbl.Define(h, ArrayByte, Bounds{0, 0}, Span(2))
	if v, _ := tbl.Read(h, 0, 1); v != 0 {
		t.Errorf("element after kind change = %d, want 0", v)
	}
}

func TestArrayTableFullAndOwnership(t *testing.T) {
	tbl := NewArrayTable(2)
	a, _ := tbl.Define(0, ArrayByte, Bounds{0, 0}, Span(1))
	b, _ := tbl.Define(0, ArrayByte, Bounds{0, 0}, Span(1))
	if a != 1 || b != 2 {
		t.Fatalf("handles %d, %d; want 1, 2", a, b)
	}
	if _, err := tbl.Define(0, ArrayByte, Bounds{0, 0}, Span(1)); !errors.Is(err, ErrArrayRange) {
		t.Errorf("expected full table error, got %v", err)
	}

	tbl.SetOwner(b, 3)
	released := tbl.ReleaseOwned(3)
	if len(released) != 1 || released[0] != b {
		t.Errorf("released %v, want [%d]", released, b)
	}
	if tbl.Count() != 1 {
		t.Errorf("Count = %d, want 1", tbl.Count())
	}
	if had, _ := tbl.Undefine(b); had {
		t.Error("second undefine reported a live array")
	}
}
