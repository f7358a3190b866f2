package vm

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// ---------------------------------------------------------------------------
// VM: one script-interpreter session
// ---------------------------------------------------------------------------

// WellKnown names the global variables the VM itself reads or writes.
type WellKnown struct {
	HaveMsg       uint16
	Room          uint16
	Override      uint16
	EntryScript   uint16
	ExitScript    uint16
	CutsceneStart uint16
	CutsceneEnd   uint16
}

// DefaultWellKnown returns the historical numbering shared by both
// generations.
func DefaultWellKnown() WellKnown {
	return WellKnown{
		HaveMsg:       3,
		Room:          4,
		Override:      5,
		EntryScript:   28,
		ExitScript:    29,
		CutsceneStart: 35,
		CutsceneEnd:   36,
	}
}

// Options sizes and configures a session.
type Options struct {
	Slots         int
	Globals       int
	BitVars       int
	Arrays        int
	Stack         int
	GlobalScripts int
	Seed          uint64
	Vars          WellKnown
	Allocator     Allocator
	Profiler      *Profiler
}

// DefaultOptions returns the sizes used by the historical engine.
func DefaultOptions() Options {
	return Options{
		Slots:         40,
		Globals:       800,
		BitVars:       2048,
		Arrays:        128,
		Stack:         DefaultStackSize,
		GlobalScripts: 200,
		Seed:          1,
		Vars:          DefaultWellKnown(),
	}
}

func (o *Options) validate() error {
	if o.Slots < 2 || o.Slots > 255 {
		return fmt.Errorf("vm: slots must be in 2..255, got %d", o.Slots)
	}
	if o.Globals < 1 || o.Globals > int(VarIndirect) {
		return fmt.Errorf("vm: globals must be in 1..%d, got %d", VarIndirect, o.Globals)
	}
	if o.BitVars < 0 || o.BitVars > 0x7FFF {
		return fmt.Errorf("vm: bit variables must be in 0..%d, got %d", 0x7FFF, o.BitVars)
	}
	if o.Arrays < 1 {
		return fmt.Errorf("vm: arrays must be positive, got %d", o.Arrays)
	}
	if o.Stack < 1 {
		return fmt.Errorf("vm: stack must be positive, got %d", o.Stack)
	}
	if o.GlobalScripts < 1 || o.GlobalScripts > 0xFFFF {
		return fmt.Errorf("vm: global script threshold must be in 1..65535, got %d", o.GlobalScripts)
	}
	w := o.Vars
	for _, n := range []uint16{w.HaveMsg, w.Room, w.Override, w.EntryScript, w.ExitScript, w.CutsceneStart, w.CutsceneEnd} {
		if int(n) >= o.Globals {
			return fmt.Errorf("vm: well-known variable %d outside %d globals", n, o.Globals)
		}
	}
	return nil
}

// VM holds all mutable state of one session. Nothing is shared between
// VMs, so several sessions can coexist in one process.
type VM struct {
	opts  Options
	table OpcodeTable
	res   ResourceProvider
	host  Host
	alloc Allocator
	prof  *Profiler

	vars   *VarStore
	arrays *ArrayTable
	stack  *Stack

	slots []Slot
	nest  []NestFrame
	cuts  []CutsceneFrame

	cur     int
	code    codeCache
	opStart uint32
	opcode  byte
	reloads uint64

	room           uint16
	ticks          uint64
	epoch          uint32
	overrideActive bool
	skipPending    bool

	pcg *rand.PCG
	rng *rand.Rand

	running bool
	err     error
}

// New creates a session running the given instruction set.
func New(table OpcodeTable, res ResourceProvider, host Host, opts Options) (*VM, error) {
	if table == nil || res == nil {
		return nil, fmt.Errorf("vm: table and resource provider are required")
	}
	if host == nil {
		host = NopHost{}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	vm := &VM{
		opts:   opts,
		table:  table,
		res:    res,
		host:   host,
		alloc:  opts.Allocator,
		prof:   opts.Profiler,
		vars:   NewVarStore(opts.Globals, opts.BitVars, opts.Slots, table.Locals()),
		arrays: NewArrayTable(opts.Arrays),
		stack:  NewStack(opts.Stack),
		slots:  make([]Slot, opts.Slots),
		cuts:   []CutsceneFrame{baseFrame()},
		cur:    NoSlot,
		pcg:    rand.NewPCG(opts.Seed, opts.Seed^0x5DEECE66D),
	}
	if vm.alloc == nil {
		vm.alloc = LowestFree
	}
	vm.rng = rand.New(vm.pcg)
	log.Infof("new %s session: %d slots, %d globals, %d arrays", table.Name(), opts.Slots, opts.Globals, opts.Arrays)
	return vm, nil
}

// guard runs fn as a public entry point. A fault raised inside ends the
// session; every later call returns the same fault.
func (vm *VM) guard(fn func()) (err error) {
	if vm.err != nil {
		return vm.err
	}
	if vm.running {
		return fmt.Errorf("vm: re-entrant call")
	}
	vm.running = true
	defer func() {
		vm.running = false
		if r := recover(); r != nil {
			f, ok := r.(*Fault)
			if !ok {
				panic(r)
			}
			vm.err = f
			vm.cur = NoSlot
			vm.nest = vm.nest[:0]
			log.Errorf("session ended: %v", f)
			err = f
		}
	}()
	fn()
	return nil
}

// Err returns the fault that ended the session, if any.
func (vm *VM) Err() error { return vm.err }

// Table returns the session's instruction set.
func (vm *VM) Table() OpcodeTable { return vm.table }

// Options returns the options the session was created with.
func (vm *VM) Options() Options { return vm.opts }

// Vars returns the variable store.
func (vm *VM) Vars() *VarStore { return vm.vars }

// Arrays returns the array table.
func (vm *VM) Arrays() *ArrayTable { return vm.arrays }

// Stack returns the value stack.
func (vm *VM) Stack() *Stack { return vm.stack }

// Profiler returns the attached profiler, or nil.
func (vm *VM) Profiler() *Profiler { return vm.prof }

// Room returns the current room number.
func (vm *VM) Room() uint16 { return vm.room }

// Ticks returns the number of completed scheduler passes.
func (vm *VM) Ticks() uint64 { return vm.ticks }

// CodeReloads counts how often the code cache had to be re-resolved.
func (vm *VM) CodeReloads() uint64 { return vm.reloads }

// Slot returns a copy of slot i.
func (vm *VM) Slot(i int) Slot { return vm.slots[i] }

// Slots returns a copy of the slot table.
func (vm *VM) Slots() []Slot { return append([]Slot(nil), vm.slots...) }

// NumSlots returns the size of the slot table.
func (vm *VM) NumSlots() int { return len(vm.slots) }

// Running returns the slots of every live instance of script id.
func (vm *VM) Running(id uint16) []int {
	var out []int
	for i := range vm.slots {
		if s := &vm.slots[i]; s.Live() && s.Number == id {
			out = append(out, i)
		}
	}
	return out
}

// Global reads global variable n.
func (vm *VM) Global(n uint16) (int32, error) { return vm.vars.Read(n, NoSlot) }

// SetGlobal writes global variable n.
func (vm *VM) SetGlobal(n uint16, v int32) error { return vm.vars.Write(n, NoSlot, v) }

// StartScript starts script id. It runs during the next scheduler pass.
func (vm *VM) StartScript(id uint16, args []int32, flags ScriptFlags) (slot int, err error) {
	slot = NoSlot
	err = vm.guard(func() { slot = vm.spawn(id, args, flags) })
	return slot, err
}

// RunScript starts script id and runs it immediately until it first gives
// up control.
func (vm *VM) RunScript(id uint16, args []int32, flags ScriptFlags) error {
	return vm.guard(func() { vm.runScript(id, args, flags) })
}

// StartObject starts the code of verb on object obj. It runs during the
// next scheduler pass. Objects without that verb are ignored.
func (vm *VM) StartObject(obj, verb uint16, args []int32, flags ScriptFlags) (slot int, err error) {
	slot = NoSlot
	err = vm.guard(func() { slot = vm.spawnObject(obj, verb, args, flags) })
	return slot, err
}

// StopScript stops every instance of script id.
func (vm *VM) StopScript(id uint16) error {
	return vm.guard(func() { vm.stopScript(id) })
}

// StopObjectScript stops every instance of object code for obj.
func (vm *VM) StopObjectScript(obj uint16) error {
	return vm.guard(func() { vm.stopObjectScript(obj) })
}

// Freeze suspends every script except freeze-resistant ones and those
// with open cutscene scopes; flag >= 0x80 freezes freeze-resistant
// scripts as well.
func (vm *VM) Freeze(flag int32) error {
	return vm.guard(func() { vm.freeze(flag) })
}

// Unfreeze lifts one level of freeze from every script.
func (vm *VM) Unfreeze() error {
	return vm.guard(func() { vm.unfreeze() })
}

// Skip requests that the innermost skippable override be fast-forwarded.
// It reports whether an override was armed.
func (vm *VM) Skip() (bool, error) {
	var armed bool
	err := vm.guard(func() { armed = vm.requestSkip() })
	return armed, err
}

// EnterRoom performs a room change as the engine would on behalf of the
// player, running exit and entry scripts.
func (vm *VM) EnterRoom(room uint16) error {
	return vm.guard(func() { vm.enterRoom(room) })
}

// Tick runs one scheduler pass.
func (vm *VM) Tick(ctx context.Context) error {
	var ctxErr error
	err := vm.guard(func() { ctxErr = vm.pass(ctx) })
	if err != nil {
		return err
	}
	return ctxErr
}

// random returns a value in 0..max inclusive.
func (vm *VM) random(max int32) int32 {
	if max <= 0 {
		return 0
	}
	return vm.rng.Int32N(max + 1)
}
