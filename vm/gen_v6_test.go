package vm

import (
	"testing"
)

// runV6 runs code as global script 1 for one pass and returns the VM.
func runV6(t *testing.T, code []byte, h Host) *VM {
	t.Helper()
	p := newMemProvider()
	p.global(1, code)
	vm := newTestVM(t, V6(), p, h)
	if _, err := vm.StartScript(1, nil, 0); err != nil {
		t.Fatalf("StartScript: %v", err)
	}
	tick(t, vm, 1)
	return vm
}

func push(b *Builder, v int32) *Builder {
	if v >= 0 && v < 256 {
		return b.Byte(0x00, byte(v))
	}
	return b.Byte(0x01).Word(v)
}

func store(b *Builder, g uint16) *Builder { return b.Byte(0x43).Var(g) }

func TestV6Arithmetic(t *testing.T) {
	cases := []struct {
		op   byte
		a, b int32
		want int32
	}{
		{0x14, 7, 5, 12},
		{0x15, 7, 5, 2},
		{0x16, -7, 5, -35},
		{0x17, 17, 5, 3},
		{0x0E, 4, 4, 1},
		{0x0F, 4, 4, 0},
		{0x10, 5, 4, 1},
		{0x11, 5, 4, 0},
		{0x12, 4, 4, 1},
		{0x13, 3, 4, 0},
		{0x18, 3, 0, 0},
		{0x19, 3, 0, 1},
		{0xD6, 0x0C, 0x0A, 0x08},
		{0xD7, 0x0C, 0x0A, 0x0E},
	}
	for _, tc := range cases {
		b := NewBuilder()
		push(b, tc.a)
		push(b, tc.b)
		b.Byte(tc.op)
		store(b, 10)
		b.Byte(0x65)
		vm := runV6(t, b.Bytes(), nil)
		if got := global(t, vm, 10); got != tc.want {
			name := "?"
			if op, _, err := V6().Decode(tc.op); err == nil {
				name = op.Name
			}
			t.Errorf("%s(%d, %d) = %d, want %d", name, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestV6UnaryAndStackOps(t *testing.T) {
	b := NewBuilder()
	push(b, -9).Byte(0xC4)
	store(b, 10) // abs
	push(b, 0).Byte(0x0D)
	store(b, 11)                // not
	push(b, 6).Byte(0x0C, 0x14) // dup add
	store(b, 12)
	push(b, 1)
	push(b, 2).Byte(0x1A) // pop
	store(b, 13)
	b.Byte(0x65)
	vm := runV6(t, b.Bytes(), nil)

	want := map[uint16]int32{10: 9, 11: 1, 12: 12, 13: 1}
	for g, w := range want {
		if got := global(t, vm, g); got != w {
			t.Errorf("g%d = %d, want %d", g, got, w)
		}
	}
}

func TestV6BranchesAndLists(t *testing.T) {
	b := NewBuilder()
	skip := b.NewLabel()
	push(b, 1).Byte(0x5C).Jump(skip) // if true: jump
	push(b, 99)
	store(b, 10)
	b.Mark(skip)

	// isAnyOf 3 in [1 2 3]
	push(b, 3)
	push(b, 1)
	push(b, 2)
	push(b, 3)
	push(b, 3).Byte(0xAD)
	store(b, 11)

	// pickOneOf 1 of [10 20 30]
	push(b, 1)
	push(b, 10)
	push(b, 20)
	push(b, 30)
	push(b, 3).Byte(0xCB)
	store(b, 12)

	// pickOneOfDefault 7 of [10 20] default 5
	push(b, 7)
	push(b, 10)
	push(b, 20)
	push(b, 2)
	push(b, 5).Byte(0xCC)
	store(b, 13)
	b.Byte(0x65)

	vm := runV6(t, b.Bytes(), nil)
	want := map[uint16]int32{10: 0, 11: 1, 12: 20, 13: 5}
	for g, w := range want {
		if got := global(t, vm, g); got != w {
			t.Errorf("g%d = %d, want %d", g, got, w)
		}
	}
}

func TestV6Arrays(t *testing.T) {
	b := NewBuilder()
	// 2-D word array.
	push(b, 4)
	push(b, 3)
	b.Byte(0xC0, 0xC7).Var(20)
	// [2][1] = -500
	push(b, 2)
	push(b, 1)
	push(b, -500).Byte(0x4B).Var(20)
	push(b, 2)
	push(b, 1).Byte(0x0B).Var(20)
	store(b, 10)

	// Indexed increment on a 1-D byte array.
	push(b, 4)
	b.Byte(0xBC, 0xCA).Var(21)
	push(b, 3).Byte(0x53).Var(21)
	push(b, 3).Byte(0x53).Var(21)
	push(b, 3).Byte(0x07).Var(21)
	store(b, 11)

	// assignList [7 8 9] at 1 into an undefined array.
	push(b, 7)
	push(b, 8)
	push(b, 9)
	push(b, 3)
	push(b, 1)
	b.Byte(0xA4, 0xD0).Var(22)
	push(b, 3).Byte(0x07).Var(22)
	store(b, 12)

	// assignString "hi" at 0.
	push(b, 0)
	b.Byte(0xA4, 0xCD).Var(23).Text("hi")
	push(b, 1).Byte(0x07).Var(23)
	store(b, 13)

	// Reading through an undefined handle yields zero.
	push(b, 0).Byte(0x07).Var(24)
	store(b, 14)

	b.Byte(0x65)
	vm := runV6(t, b.Bytes(), nil)

	want := map[uint16]int32{10: -500, 11: 2, 12: 9, 13: 'i', 14: 0}
	for g, w := range want {
		if got := global(t, vm, g); got != w {
			t.Errorf("g%d = %d, want %d", g, got, w)
		}
	}
	if vm.Arrays().Count() != 4 {
		t.Errorf("%d arrays defined, want 4", vm.Arrays().Count())
	}
}

func TestV6LocalArrayReleasedWithSlot(t *testing.T) {
	b := NewBuilder()
	push(b, 4)
	b.Byte(0xBC, 0xCA).Var(Local(0))
	b.Byte(0x03).Var(Local(0))
	store(b, 10)
	b.Byte(0x65)
	vm := runV6(t, b.Bytes(), nil)
	h := global(t, vm, 10)
	if h == 0 {
		t.Fatal("array was not defined")
	}
	if _, ok := vm.Arrays().Get(h); ok {
		t.Error("array owned by a finished script is still defined")
	}
}

func TestV6NativeCalls(t *testing.T) {
	h := &recordingHost{answers: map[Native]int32{NativeActorRoom: 12}}
	b := NewBuilder()
	push(b, 3)
	push(b, 100)
	push(b, 50).Byte(0x7E) // walkActorTo 3, 100, 50
	push(b, 3).Byte(0x8C)  // getActorRoom 3
	store(b, 10)
	b.Byte(0xB6).Text("hello")
	b.Byte(0x65)
	vm := runV6(t, b.Bytes(), h)

	if global(t, vm, 10) != 12 {
		t.Errorf("getActorRoom = %d", global(t, vm, 10))
	}
	if len(h.calls) != 3 {
		t.Fatalf("host saw %d calls", len(h.calls))
	}
	walk := h.calls[0]
	if walk.Op != NativeWalkActor || len(walk.Args) != 3 || walk.Args[0] != 3 || walk.Args[1] != 100 || walk.Args[2] != 50 {
		t.Errorf("walk call %+v", walk)
	}
	if string(h.calls[2].Text) != "hello" {
		t.Errorf("debug text %q", h.calls[2].Text)
	}
}

func TestV6StartScriptFlags(t *testing.T) {
	b := NewBuilder()
	push(b, 3) // freeze-resistant | recursive
	push(b, 2)
	push(b, 0).Byte(0x5E)
	push(b, 3)
	push(b, 2)
	push(b, 0).Byte(0x5E)
	b.Byte(0x65)
	p := newMemProvider()
	p.global(1, b.Bytes())
	p.global(2, []byte{0x6C, 0x65})
	vm := newTestVM(t, V6(), p, nil)
	vm.StartScript(1, nil, 0)
	tick(t, vm, 1)
	running := vm.Running(2)
	if len(running) != 2 {
		t.Fatalf("recursive starts left %d instances, want 2", len(running))
	}
	for _, i := range running {
		if s := vm.Slot(i); !s.FreezeResistant || !s.Recursive {
			t.Errorf("slot %d flags: %+v", i, s)
		}
	}
}

func TestV6ResourceRoutines(t *testing.T) {
	b := NewBuilder()
	push(b, 14).Byte(0x9B, 100) // loadScript 14
	push(b, 3).Byte(0x9B, 109)  // lockSound 3
	b.Byte(0x9B, 116)           // clearHeap
	b.Byte(0x65)
	p := newMemProvider()
	p.global(1, b.Bytes())
	vm := newTestVM(t, V6(), p, nil)
	vm.StartScript(1, nil, 0)
	tick(t, vm, 1)
	want := []string{"load script 14", "lock sound 3", "clear-heap resource(0) 0"}
	if len(p.requests) != len(want) {
		t.Fatalf("requests %v", p.requests)
	}
	for i := range want {
		if p.requests[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, p.requests[i], want[i])
		}
	}
}
