package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/chazu/scumm/vm"
)

func globalKey(id uint16) vm.CodeKey { return vm.CodeKey{Origin: vm.OriginGlobal, ID: id} }

func mustPut(t *testing.T, w Writer, key vm.CodeKey, code []byte) {
	t.Helper()
	if err := w.PutScript(key, code, 0); err != nil {
		t.Fatalf("PutScript(%s): %v", key, err)
	}
}

func TestManagerCachesAndCountsGenerations(t *testing.T) {
	l := NewMapLoader()
	mustPut(t, l, globalKey(1), []byte{0x65})
	m := NewManager(l, 4)

	if g := m.Generation(globalKey(1)); g != 0 {
		t.Fatalf("generation before load = %d, want 0", g)
	}
	b1, err := m.Code(globalKey(1))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	b2, err := m.Code(globalKey(1))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if b1.Gen == 0 || b1.Gen != b2.Gen {
		t.Errorf("generations %d, %d: want equal and non-zero", b1.Gen, b2.Gen)
	}
	if g := m.Generation(globalKey(1)); g != b1.Gen {
		t.Errorf("Generation = %d, want %d", g, b1.Gen)
	}
	s := m.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 entry", s)
	}

	if _, err := m.Code(globalKey(2)); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing script: got %v, want ErrNotFound", err)
	}
}

func TestManagerEvictsLeastRecentlyUsedUnlocked(t *testing.T) {
	l := NewMapLoader()
	for id := uint16(1); id <= 3; id++ {
		mustPut(t, l, globalKey(id), []byte{0x65})
	}
	m := NewManager(l, 2)
	if err := m.Resource(vm.ResLock, vm.ResScript, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}

	first, _ := m.Code(globalKey(1))
	m.Code(globalKey(2))
	m.Code(globalKey(3))

	if m.Generation(globalKey(1)) != first.Gen {
		t.Error("locked script 1 was evicted")
	}
	if m.Generation(globalKey(2)) != 0 {
		t.Error("script 2 should have been evicted")
	}
	if m.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", m.Stats().Evictions)
	}

	again, _ := m.Code(globalKey(2))
	if again.Gen <= first.Gen {
		t.Errorf("rematerialised generation %d not fresh", again.Gen)
	}
}

func TestManagerKeepsFreshBlobWhenOthersAreLocked(t *testing.T) {
	l := NewMapLoader()
	for id := uint16(1); id <= 2; id++ {
		mustPut(t, l, globalKey(id), []byte{0x65})
	}
	m := NewManager(l, 1)
	if err := m.Resource(vm.ResLock, vm.ResScript, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}
	m.Code(globalKey(1))

	blob, err := m.Code(globalKey(2))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if m.Generation(globalKey(2)) != blob.Gen {
		t.Fatal("the blob just fetched was evicted")
	}
	again, _ := m.Code(globalKey(2))
	if again.Gen != blob.Gen {
		t.Errorf("second fetch reloaded: gen %d, want %d", again.Gen, blob.Gen)
	}
	if s := m.Stats(); s.Misses != 2 || s.Evictions != 0 {
		t.Errorf("stats = %+v, want 2 misses and no evictions", s)
	}
}

func TestManagerLocalScriptsNeedRoomTable(t *testing.T) {
	l := NewMapLoader()
	l.PutRoom(7, false)
	m := NewManager(l, 0)

	_, err := m.Code(vm.CodeKey{Origin: vm.OriginLocal, Room: 7, ID: 200})
	if !errors.Is(err, vm.ErrNoRoomScripts) {
		t.Errorf("room without scripts: got %v, want ErrNoRoomScripts", err)
	}
	_, err = m.Code(vm.CodeKey{Origin: vm.OriginLocal, Room: 9, ID: 200})
	if !errors.Is(err, vm.ErrNoRoomScripts) {
		t.Errorf("unknown room: got %v, want ErrNoRoomScripts", err)
	}
}

func TestManagerResourceRequests(t *testing.T) {
	l := NewMapLoader()
	mustPut(t, l, globalKey(5), []byte{0x65})
	m := NewManager(l, 0)

	if err := m.Resource(vm.ResNuke, vm.ResSound, 3); err != nil {
		t.Errorf("nuke of absent sound: %v", err)
	}
	if err := m.Resource(vm.ResLoad, vm.ResScript, 5); err != nil {
		t.Fatalf("load script 5: %v", err)
	}
	if !m.Loaded(vm.ResScript, 5) || m.Stats().Entries != 1 {
		t.Error("load should materialise script 5")
	}
	if err := m.Resource(vm.ResLoad, vm.ResScript, 6); !errors.Is(err, ErrNotFound) {
		t.Errorf("load of missing script: got %v", err)
	}

	m.Resource(vm.ResLoad, vm.ResCostume, 2)
	m.Resource(vm.ResLock, vm.ResCostume, 2)
	m.Resource(vm.ResLock, vm.ResCostume, 2)
	m.Resource(vm.ResUnlock, vm.ResCostume, 2)
	if n := m.Locked(vm.ResCostume, 2); n != 1 {
		t.Errorf("lock count = %d, want 1", n)
	}

	if err := m.Resource(vm.ResClearHeap, 0, 0); err != nil {
		t.Fatalf("clear heap: %v", err)
	}
	if m.Loaded(vm.ResScript, 5) {
		t.Error("clear heap should drop unlocked script 5")
	}
	if !m.Loaded(vm.ResCostume, 2) {
		t.Error("clear heap dropped locked costume 2")
	}

	m.Resource(vm.ResNuke, vm.ResCostume, 2)
	if m.Loaded(vm.ResCostume, 2) || m.Locked(vm.ResCostume, 2) != 0 {
		t.Error("nuke should forget costume 2 and its locks")
	}
}

func TestManagerRoomChangeDropsOtherRooms(t *testing.T) {
	l := NewMapLoader()
	a := vm.CodeKey{Origin: vm.OriginLocal, Room: 1, ID: 200}
	b := vm.CodeKey{Origin: vm.OriginLocal, Room: 2, ID: 200}
	mustPut(t, l, a, []byte{0x65})
	mustPut(t, l, b, []byte{0x65})
	mustPut(t, l, globalKey(1), []byte{0x65})
	m := NewManager(l, 0)

	m.Code(a)
	m.Code(globalKey(1))
	if err := m.LoadRoom(2); err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if m.Generation(a) != 0 {
		t.Error("room 1 code survived the room change")
	}
	if m.Generation(globalKey(1)) == 0 {
		t.Error("global code should survive the room change")
	}
	if _, err := m.Code(b); err != nil {
		t.Errorf("room 2 code: %v", err)
	}
}

func TestManagerObjectLookup(t *testing.T) {
	l := NewMapLoader()
	key := vm.CodeKey{Origin: vm.OriginInventory, ID: 300}
	mustPut(t, l, key, []byte{0x65, 0x65})
	if err := l.PutObject(300, 2, key, 1); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := l.PutObject(300, 3, globalKey(1), 0); err == nil {
		t.Error("PutObject accepted a global origin")
	}
	m := NewManager(l, 0)

	e, ok, err := m.Object(300, 2)
	if err != nil || !ok {
		t.Fatalf("Object(300, 2) = %v, %v", ok, err)
	}
	if e.Key != key || e.Entry != 1 {
		t.Errorf("entry = %+v", e)
	}
	if _, ok, err := m.Object(300, 9); ok || err != nil {
		t.Errorf("missing verb: ok=%v err=%v, want false, nil", ok, err)
	}
}

// ---------------------------------------------------------------------------
// Running sessions over the manager
// ---------------------------------------------------------------------------

func newSession(t *testing.T, m *Manager) *vm.VM {
	t.Helper()
	sess, err := vm.New(vm.V6(), m, nil, vm.DefaultOptions())
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	return sess
}

func TestSessionSurvivesRelocationAndEviction(t *testing.T) {
	b := vm.NewBuilder()
	b.Byte(0x00, 1).Byte(0x43).Var(10) // g10 = 1
	b.Byte(0x6C)                       // breakHere
	b.Byte(0x00, 2).Byte(0x43).Var(11) // g11 = 2
	b.Byte(0x6C)
	b.Byte(0x00, 3).Byte(0x43).Var(12) // g12 = 3
	b.Byte(0x65)

	l := NewMapLoader()
	mustPut(t, l, globalKey(1), b.Bytes())
	m := NewManager(l, 0)
	sess := newSession(t, m)
	ctx := context.Background()

	if _, err := sess.StartScript(1, nil, 0); err != nil {
		t.Fatalf("StartScript: %v", err)
	}
	if err := sess.Tick(ctx); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if err := m.Relocate(globalKey(1)); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if err := sess.Tick(ctx); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	m.Resource(vm.ResClearHeap, 0, 0)
	if err := sess.Tick(ctx); err != nil {
		t.Fatalf("tick 3: %v", err)
	}

	for n, want := range map[uint16]int32{10: 1, 11: 2, 12: 3} {
		if v, _ := sess.Global(n); v != want {
			t.Errorf("g%d = %d, want %d", n, v, want)
		}
	}
	if sess.CodeReloads() < 2 {
		t.Errorf("code reloads = %d, want at least 2", sess.CodeReloads())
	}
	if m.Stats().Relocations != 1 {
		t.Errorf("relocations = %d, want 1", m.Stats().Relocations)
	}
}

func TestScriptLocksResources(t *testing.T) {
	b := vm.NewBuilder()
	b.Byte(0x00, 2).Byte(0x9B, 108) // lockScript 2
	b.Byte(0x00, 4).Byte(0x9B, 102) // loadCostume 4
	b.Byte(0x65)

	l := NewMapLoader()
	mustPut(t, l, globalKey(1), b.Bytes())
	m := NewManager(l, 0)
	sess := newSession(t, m)

	if err := sess.RunScript(1, nil, 0); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if m.Locked(vm.ResScript, 2) != 1 {
		t.Error("script should hold a lock on script 2")
	}
	if !m.Loaded(vm.ResCostume, 4) {
		t.Error("costume 4 not loaded")
	}
}

func TestStartingLocalScriptWithoutRoomScriptsFaults(t *testing.T) {
	l := NewMapLoader()
	l.PutRoom(3, false)
	m := NewManager(l, 0)
	sess := newSession(t, m)

	if err := sess.EnterRoom(3); err != nil {
		t.Fatalf("EnterRoom: %v", err)
	}
	_, err := sess.StartScript(250, nil, 0)
	if !errors.Is(err, vm.ErrNoRoomScripts) {
		t.Fatalf("got %v, want ErrNoRoomScripts", err)
	}
}
