package vm

import (
	"errors"
	"testing"
)

func TestStackOverflowUnderflow(t *testing.T) {
	s := NewStack(2)
	if err := s.Push(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(2); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(3); !errors.Is(err, ErrStack) {
		t.Errorf("expected overflow, got %v", err)
	}
	if v, _ := s.Pop(); v != 2 {
		t.Errorf("Pop = %d, want 2", v)
	}
	s.Pop()
	if _, err := s.Pop(); !errors.Is(err, ErrStack) {
		t.Errorf("expected underflow, got %v", err)
	}
}

func TestStackPopList(t *testing.T) {
	s := NewStack(10)
	for _, v := range []int32{99, 4, 5, 6, 3} {
		s.Push(v)
	}
	buf := make([]int32, 4)
	list, err := s.PopList(buf)
	if err != nil {
		t.Fatalf("PopList: %v", err)
	}
	want := []int32{4, 5, 6}
	if len(list) != len(want) {
		t.Fatalf("list %v, want %v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("list[%d] = %d, want %d", i, list[i], want[i])
		}
	}
	if v, _ := s.Peek(); v != 99 {
		t.Errorf("left on stack %d, want 99", v)
	}

	s.Push(5)
	if _, err := s.PopList(buf); !errors.Is(err, ErrArgs) {
		t.Errorf("expected ErrArgs for oversized list, got %v", err)
	}
}
