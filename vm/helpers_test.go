package vm

import (
	"context"
	"fmt"
	"testing"
)

// memProvider serves code from maps. Relocate moves a blob behind a
// padding prefix and bumps its generation.
type memProvider struct {
	code      map[CodeKey]CodeBlob
	objects   map[[2]uint16]ObjectEntry
	rooms     map[uint16]bool
	requests  []string
	codeCalls int
	loadErr   error
}

func newMemProvider() *memProvider {
	return &memProvider{
		code:    make(map[CodeKey]CodeBlob),
		objects: make(map[[2]uint16]ObjectEntry),
		rooms:   make(map[uint16]bool),
	}
}

func (p *memProvider) global(id uint16, code []byte) {
	p.code[CodeKey{Origin: OriginGlobal, ID: id}] = CodeBlob{Bytes: code, Gen: 1}
}

func (p *memProvider) local(room, id uint16, code []byte) {
	p.rooms[room] = true
	p.code[CodeKey{Origin: OriginLocal, Room: room, ID: id}] = CodeBlob{Bytes: code, Gen: 1}
}

func (p *memProvider) object(room, obj, verb uint16, entry uint32, code []byte) {
	key := CodeKey{Origin: OriginRoomObject, Room: room, ID: obj}
	p.code[key] = CodeBlob{Bytes: code, Gen: 1}
	p.objects[[2]uint16{obj, verb}] = ObjectEntry{Key: key, Entry: entry}
}

func (p *memProvider) relocate(key CodeKey, pad int) {
	b := p.code[key]
	base := int(b.Base)
	moved := make([]byte, pad, pad+len(b.Bytes)-base)
	moved = append(moved, b.Bytes[base:]...)
	p.code[key] = CodeBlob{Bytes: moved, Base: uint32(pad), Gen: b.Gen + 1}
}

func (p *memProvider) Code(key CodeKey) (CodeBlob, error) {
	p.codeCalls++
	b, ok := p.code[key]
	if !ok {
		if key.Origin == OriginLocal && !p.rooms[key.Room] {
			return CodeBlob{}, fmt.Errorf("%w: room %d", ErrNoRoomScripts, key.Room)
		}
		return CodeBlob{}, fmt.Errorf("no code for %s", key)
	}
	return b, nil
}

func (p *memProvider) Generation(key CodeKey) uint64 { return p.code[key].Gen }

func (p *memProvider) Object(obj, verb uint16) (ObjectEntry, bool, error) {
	e, ok := p.objects[[2]uint16{obj, verb}]
	return e, ok, nil
}

func (p *memProvider) LoadRoom(room uint16) error {
	p.requests = append(p.requests, fmt.Sprintf("room %d", room))
	return p.loadErr
}

func (p *memProvider) Resource(op ResourceOp, kind ResourceKind, id int32) error {
	p.requests = append(p.requests, fmt.Sprintf("%s %s %d", op, kind, id))
	return nil
}

// recordingHost logs native calls and answers from a table.
type recordingHost struct {
	calls   []NativeCall
	answers map[Native]int32
}

func (h *recordingHost) Call(c NativeCall) (int32, error) {
	c.Args = append([]int32(nil), c.Args...)
	h.calls = append(h.calls, c)
	return h.answers[c.Op], nil
}

func (h *recordingHost) count(op Native) int {
	n := 0
	for _, c := range h.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// queueAlloc hands out the given slots in order, then falls back to the
// lowest free slot.
func queueAlloc(order ...int) Allocator {
	return func(slots []Slot) int {
		if len(order) > 0 {
			i := order[0]
			order = order[1:]
			return i
		}
		return LowestFree(slots)
	}
}

func newTestVM(t *testing.T, tbl OpcodeTable, p *memProvider, h Host, tweak ...func(*Options)) *VM {
	t.Helper()
	opts := DefaultOptions()
	opts.Slots = 16
	opts.Globals = 200
	opts.BitVars = 256
	opts.Arrays = 16
	opts.GlobalScripts = 100
	for _, f := range tweak {
		f(&opts)
	}
	vm, err := New(tbl, p, h, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return vm
}

func tick(t *testing.T, vm *VM, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := vm.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}
}

func global(t *testing.T, vm *VM, n uint16) int32 {
	t.Helper()
	v, err := vm.Global(n)
	if err != nil {
		t.Fatalf("Global(%d): %v", n, err)
	}
	return v
}
