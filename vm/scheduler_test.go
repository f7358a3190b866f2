package vm

import (
	"errors"
	"testing"
)

// spawner starts script 2 and yields; marker sets g70.
func schedulerScripts(p *memProvider) {
	p.global(1, NewBuilder().Byte(0x0A, 2).EndList().Byte(0x80).Byte(0x00).Bytes())
	p.global(2, NewBuilder().Byte(0x46).Var(70).Byte(0x00).Bytes())
}

func TestSpawnAtHigherIndexRunsSamePass(t *testing.T) {
	p := newMemProvider()
	schedulerScripts(p)
	vm := newTestVM(t, V5(), p, nil, func(o *Options) { o.Allocator = queueAlloc(2, 5) })

	slot, _ := vm.StartScript(1, nil, 0)
	if slot != 2 {
		t.Fatalf("spawner in slot %d, want 2", slot)
	}
	tick(t, vm, 1)
	if v := global(t, vm, 70); v != 1 {
		t.Errorf("script in slot 5 ran %d times in the first pass, want 1", v)
	}
}

func TestSpawnAtLowerIndexWaitsForNextPass(t *testing.T) {
	p := newMemProvider()
	schedulerScripts(p)
	vm := newTestVM(t, V5(), p, nil, func(o *Options) { o.Allocator = queueAlloc(2, 1) })

	vm.StartScript(1, nil, 0)
	tick(t, vm, 1)
	if v := global(t, vm, 70); v != 0 {
		t.Fatalf("script in slot 1 ran during the spawning pass")
	}
	if vm.Slot(1).Number != 2 || !vm.Slot(1).Live() {
		t.Fatalf("slot 1 holds %+v", vm.Slot(1))
	}
	tick(t, vm, 1)
	if v := global(t, vm, 70); v != 1 {
		t.Errorf("script in slot 1 ran %d times after two passes, want 1", v)
	}
}

func TestNestedCallResumesAfterCall(t *testing.T) {
	caller := NewBuilder()
	caller.Byte(0x4C, 2).EndList() // callScript #2 []
	callEnd := caller.Len()
	caller.Byte(0x80) // breakHere
	caller.Byte(0x1A).Var(71).Word(9)
	caller.Byte(0x00)

	callee := NewBuilder()
	callee.Byte(0x1A).Var(72).Word(1)
	callee.Byte(0x80)
	callee.Byte(0x1A).Var(73).Word(1)
	callee.Byte(0x00)

	p := newMemProvider()
	p.global(1, caller.Bytes())
	p.global(2, callee.Bytes())
	vm := newTestVM(t, V5(), p, nil)
	slot, _ := vm.StartScript(1, nil, 0)

	tick(t, vm, 1)
	if got := vm.Slot(slot).Offset; got != uint32(callEnd+1) {
		t.Errorf("caller stopped at 0x%X, want 0x%X", got, callEnd+1)
	}
	if global(t, vm, 72) != 1 || global(t, vm, 73) != 0 {
		t.Errorf("callee ran wrong part: g72=%d g73=%d", global(t, vm, 72), global(t, vm, 73))
	}
	if global(t, vm, 71) != 0 {
		t.Error("caller ran past its breakHere")
	}

	tick(t, vm, 1)
	if global(t, vm, 71) != 9 || global(t, vm, 73) != 1 {
		t.Errorf("second pass: g71=%d g73=%d", global(t, vm, 71), global(t, vm, 73))
	}
}

func TestNestedCalleeStopsCaller(t *testing.T) {
	// Script 2 stops script 1 while running nested under it; the caller
	// must not resume.
	p := newMemProvider()
	p.global(1, NewBuilder().Byte(0x4C, 2).EndList().Byte(0x46).Var(74).Byte(0x00).Bytes())
	p.global(2, NewBuilder().Byte(0x62, 1).Byte(0x00).Bytes())
	vm := newTestVM(t, V5(), p, nil)
	vm.StartScript(1, nil, 0)
	tick(t, vm, 2)
	if global(t, vm, 74) != 0 {
		t.Error("stopped caller resumed")
	}
	if len(vm.Running(1)) != 0 || len(vm.Running(2)) != 0 {
		t.Error("scripts still running")
	}
}

func TestMutualRecursionHitsNestingLimit(t *testing.T) {
	p := newMemProvider()
	p.global(3, NewBuilder().Byte(0x4C, 4).EndList().Byte(0x00).Bytes())
	p.global(4, NewBuilder().Byte(0x4C, 3).EndList().Byte(0x00).Bytes())
	vm := newTestVM(t, V5(), p, nil)
	vm.StartScript(3, nil, 0)
	if err := vm.Tick(t.Context()); !errors.Is(err, ErrNesting) {
		t.Fatalf("expected ErrNesting, got %v", err)
	}
}

func TestChainKeepsSlot(t *testing.T) {
	p := newMemProvider()
	p.global(1, NewBuilder().Byte(0x1A).Var(Local(0)).Word(5).Byte(0x42, 2).List(8).Bytes())
	p.global(2, NewBuilder().Byte(0x9A).Var(75).Var(Local(0)).Byte(0x80).Byte(0x00).Bytes())
	vm := newTestVM(t, V5(), p, nil)
	slot, _ := vm.StartScript(1, nil, 0)

	tick(t, vm, 1)
	if v := global(t, vm, 75); v != 8 {
		t.Errorf("chained script saw l0=%d, want 8", v)
	}
	if s := vm.Slot(slot); s.Number != 2 || !s.Live() {
		t.Errorf("slot %d holds script %d after chain", slot, s.Number)
	}
	if len(vm.Running(1)) != 0 {
		t.Error("chained-from script still running")
	}
}

func TestDelayCountsTicks(t *testing.T) {
	p := newMemProvider()
	p.global(1, NewBuilder().Byte(0x2E).Delay(3).Byte(0x46).Var(76).Byte(0x00).Bytes())
	vm := newTestVM(t, V5(), p, nil)
	vm.StartScript(1, nil, 0)

	for i := 1; i <= 3; i++ {
		tick(t, vm, 1)
		if global(t, vm, 76) != 0 {
			t.Fatalf("delay expired after %d passes", i)
		}
	}
	tick(t, vm, 1)
	if global(t, vm, 76) != 1 {
		t.Error("script did not resume after its delay")
	}
}

func TestWaitReentersOpcode(t *testing.T) {
	h := &recordingHost{answers: map[Native]int32{NativeActorMoving: 1}}
	p := newMemProvider()
	p.global(1, NewBuilder().Byte(0xAE, 0x01, 3).Byte(0x46).Var(77).Byte(0x00).Bytes())
	vm := newTestVM(t, V5(), p, h)
	slot, _ := vm.StartScript(1, nil, 0)

	tick(t, vm, 3)
	if vm.Slot(slot).Offset != 0 {
		t.Errorf("waiting script at 0x%X, want 0", vm.Slot(slot).Offset)
	}
	if n := h.count(NativeActorMoving); n != 3 {
		t.Errorf("condition polled %d times, want 3", n)
	}
	h.answers[NativeActorMoving] = 0
	tick(t, vm, 1)
	if global(t, vm, 77) != 1 {
		t.Error("script did not continue once the actor stopped")
	}
}

func TestWaitActorRetryTargetV6(t *testing.T) {
	h := &recordingHost{answers: map[Native]int32{NativeActorMoving: 1}}
	b := NewBuilder()
	retry := b.NewLabel()
	b.Byte(0x4E, 78) // byteVarInc g78
	b.Mark(retry)
	b.Byte(0x00, 1, 0xA9, 0xA8).Jump(retry)
	b.Byte(0x65)
	p := newMemProvider()
	p.global(1, b.Bytes())
	vm := newTestVM(t, V6(), p, h)
	slot, _ := vm.StartScript(1, nil, 0)

	tick(t, vm, 2)
	if vm.Slot(slot).Offset != 2 {
		t.Errorf("retry offset 0x%X, want 0x2", vm.Slot(slot).Offset)
	}
	if global(t, vm, 78) != 1 {
		t.Errorf("code before the retry point ran %d times", global(t, vm, 78))
	}
}

func TestFreezeAndUnfreeze(t *testing.T) {
	loop := func(v uint16) []byte {
		return NewBuilder().Byte(0x46).Var(v).Byte(0x80).Byte(0x18).Word(-7).Bytes()
	}
	p := newMemProvider()
	p.global(1, loop(80))
	p.global(2, loop(81))
	vm := newTestVM(t, V5(), p, nil)
	vm.StartScript(1, nil, 0)
	vm.StartScript(2, nil, FlagFreezeResistant)
	tick(t, vm, 1)

	if err := vm.Freeze(1); err != nil {
		t.Fatal(err)
	}
	tick(t, vm, 2)
	if global(t, vm, 80) != 1 || global(t, vm, 81) != 3 {
		t.Errorf("after freeze: g80=%d g81=%d, want 1 and 3", global(t, vm, 80), global(t, vm, 81))
	}

	vm.Freeze(0x80)
	tick(t, vm, 1)
	if global(t, vm, 81) != 3 {
		t.Error("forced freeze did not stop the freeze-resistant script")
	}

	vm.Unfreeze()
	tick(t, vm, 1)
	if global(t, vm, 81) != 4 || global(t, vm, 80) != 1 {
		t.Errorf("after one unfreeze: g80=%d g81=%d", global(t, vm, 80), global(t, vm, 81))
	}
	vm.Unfreeze()
	tick(t, vm, 1)
	if global(t, vm, 80) != 2 {
		t.Errorf("script 1 still frozen after two unfreezes")
	}
}

func TestRestartReusesSlot(t *testing.T) {
	p := newMemProvider()
	p.global(1, NewBuilder().Byte(0x80).Byte(0x00).Bytes())
	vm := newTestVM(t, V5(), p, nil)
	a, _ := vm.StartScript(1, nil, 0)
	b, _ := vm.StartScript(1, nil, 0)
	if a != b || len(vm.Running(1)) != 1 {
		t.Errorf("restart used slot %d after %d, running %v", b, a, vm.Running(1))
	}
	c, _ := vm.StartScript(1, nil, FlagRecursive)
	if c == a || len(vm.Running(1)) != 2 {
		t.Errorf("recursive start shared slot %d", c)
	}
}

func TestSlotsExhausted(t *testing.T) {
	p := newMemProvider()
	p.global(1, []byte{0x80, 0x00})
	vm := newTestVM(t, V5(), p, nil, func(o *Options) { o.Slots = 3 })
	vm.StartScript(1, nil, FlagRecursive)
	vm.StartScript(1, nil, FlagRecursive)
	_, err := vm.StartScript(1, nil, FlagRecursive)
	if !errors.Is(err, ErrSlotsExhausted) {
		t.Fatalf("expected ErrSlotsExhausted, got %v", err)
	}
}

func TestCodeRelocationIsRevalidated(t *testing.T) {
	p := newMemProvider()
	p.global(1, NewBuilder().Byte(0x46).Var(82).Byte(0x80).Byte(0x46).Var(82).Byte(0x80).Byte(0x00).Bytes())
	vm := newTestVM(t, V5(), p, nil)
	vm.StartScript(1, nil, 0)

	tick(t, vm, 1)
	before := vm.CodeReloads()
	p.relocate(CodeKey{Origin: OriginGlobal, ID: 1}, 11)
	tick(t, vm, 1)
	if global(t, vm, 82) != 2 {
		t.Errorf("g82 = %d after relocation, want 2", global(t, vm, 82))
	}
	if vm.CodeReloads() == before {
		t.Error("generation change did not trigger a reload")
	}
}

func TestLocalScriptWithoutRoomFaults(t *testing.T) {
	p := newMemProvider()
	vm := newTestVM(t, V5(), p, nil)
	_, err := vm.StartScript(150, nil, 0)
	if !errors.Is(err, ErrNoRoomScripts) {
		t.Fatalf("expected ErrNoRoomScripts, got %v", err)
	}
}

func TestEnterRoomRunsHooksAndKillsRoomScripts(t *testing.T) {
	p := newMemProvider()
	w := DefaultWellKnown()
	p.global(1, NewBuilder().Byte(0x46).Var(83).Byte(0x00).Bytes()) // exit hook
	p.global(2, NewBuilder().Byte(0x9A).Var(84).Var(w.Room).Byte(0x00).Bytes())
	p.local(7, 150, []byte{0x80, 0x18, 0xFC, 0xFF})
	p.local(8, 150, []byte{0x00})
	p.object(7, 300, 1, 2, []byte{0xFF, 0xFF, 0x80, 0x00})
	h := &recordingHost{}
	vm := newTestVM(t, V5(), p, h)
	vm.SetGlobal(w.ExitScript, 1)
	vm.SetGlobal(w.EntryScript, 2)

	if err := vm.EnterRoom(7); err != nil {
		t.Fatal(err)
	}
	if global(t, vm, 84) != 7 || vm.Room() != 7 {
		t.Errorf("entry hook saw room %d", global(t, vm, 84))
	}
	local, err := vm.StartScript(150, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := vm.StartObject(300, 1, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if vm.Slot(obj).Offset != 2 || vm.Slot(obj).Origin != OriginRoomObject {
		t.Errorf("object slot %+v", vm.Slot(obj))
	}
	tick(t, vm, 1)

	if err := vm.EnterRoom(8); err != nil {
		t.Fatal(err)
	}
	if vm.Slot(local).Live() || vm.Slot(obj).Live() {
		t.Error("room-scoped slots survived the room change")
	}
	if global(t, vm, 83) != 2 {
		t.Errorf("exit hook ran %d times, want 2", global(t, vm, 83))
	}
	if h.count(NativeLoadRoom) != 2 {
		t.Errorf("host saw %d room loads", h.count(NativeLoadRoom))
	}
	if len(p.requests) != 2 || p.requests[1] != "room 8" {
		t.Errorf("provider requests %v", p.requests)
	}
}

func TestMissingVerbIsIgnored(t *testing.T) {
	p := newMemProvider()
	vm := newTestVM(t, V5(), p, nil)
	slot, err := vm.StartObject(5, 9, nil, 0)
	if err != nil || slot != NoSlot {
		t.Errorf("StartObject = %d, %v", slot, err)
	}
}
