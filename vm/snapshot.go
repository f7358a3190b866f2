package vm

import (
	"fmt"
)

// StateVersion is the layout version of State.
const StateVersion = 1

// ArrayState is the serialized form of one array.
type ArrayState struct {
	Handle int32     `cbor:"1,keyasint"`
	Kind   ArrayKind `cbor:"2,keyasint"`
	Rows   Bounds    `cbor:"3,keyasint"`
	Cols   Bounds    `cbor:"4,keyasint"`
	Owner  int       `cbor:"5,keyasint"`
	Data   []byte    `cbor:"6,keyasint"`
}

// State is a complete copy of a session between two scheduler passes.
type State struct {
	Version        int             `cbor:"1,keyasint"`
	Generation     string          `cbor:"2,keyasint"`
	Ticks          uint64          `cbor:"3,keyasint"`
	Room           uint16          `cbor:"4,keyasint"`
	Slots          []Slot          `cbor:"5,keyasint"`
	Cutscenes      []CutsceneFrame `cbor:"6,keyasint"`
	OverrideActive bool            `cbor:"7,keyasint"`
	SkipPending    bool            `cbor:"8,keyasint"`
	Globals        []int32         `cbor:"9,keyasint"`
	Bits           []byte          `cbor:"10,keyasint"`
	NumBits        int             `cbor:"11,keyasint"`
	Locals         [][]int32       `cbor:"12,keyasint"`
	Arrays         []ArrayState    `cbor:"13,keyasint"`
	Stack          []int32         `cbor:"14,keyasint"`
	RNG            []byte          `cbor:"15,keyasint"`
	Epoch          uint32          `cbor:"16,keyasint"`
}

// Snapshot copies the session state. It may only be taken between
// scheduler passes.
func (vm *VM) Snapshot() (*State, error) {
	if vm.running {
		return nil, ErrBetweenTicks
	}
	if vm.err != nil {
		return nil, fmt.Errorf("vm: snapshot of ended session: %w", vm.err)
	}
	rng, err := vm.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("vm: snapshot rng: %w", err)
	}
	st := &State{
		Version:        StateVersion,
		Generation:     vm.table.Name(),
		Ticks:          vm.ticks,
		Room:           vm.room,
		Slots:          append([]Slot(nil), vm.slots...),
		Cutscenes:      make([]CutsceneFrame, len(vm.cuts)),
		OverrideActive: vm.overrideActive,
		SkipPending:    vm.skipPending,
		Globals:        append([]int32(nil), vm.vars.globals...),
		Bits:           vm.vars.packBits(),
		NumBits:        vm.vars.numBits,
		Locals:         make([][]int32, len(vm.vars.locals)),
		Stack:          append([]int32(nil), vm.stack.Values()...),
		RNG:            rng,
		Epoch:          vm.epoch,
	}
	for i, c := range vm.cuts {
		c.Data = append([]int32(nil), c.Data...)
		st.Cutscenes[i] = c
	}
	for i, l := range vm.vars.locals {
		st.Locals[i] = append([]int32(nil), l...)
	}
	vm.arrays.Each(func(a *Array) {
		st.Arrays = append(st.Arrays, ArrayState{
			Handle: a.Handle,
			Kind:   a.Kind,
			Rows:   a.Rows,
			Cols:   a.Cols,
			Owner:  a.Owner,
			Data:   append([]byte(nil), a.data...),
		})
	})
	log.Debugf("snapshot at tick %d: %d arrays, %d live slots", vm.ticks, len(st.Arrays), st.live())
	return st, nil
}

func (st *State) live() int {
	n := 0
	for i := range st.Slots {
		if st.Slots[i].Live() {
			n++
		}
	}
	return n
}

// checkState verifies that st fits a session built with the same generation
// and sizes as vm.
func (vm *VM) checkState(st *State) error {
	switch {
	case st == nil:
		return fmt.Errorf("%w: nil state", ErrIncompatible)
	case st.Version != StateVersion:
		return fmt.Errorf("%w: state version %d, want %d", ErrIncompatible, st.Version, StateVersion)
	case st.Generation != vm.table.Name():
		return fmt.Errorf("%w: state from %s, session runs %s", ErrIncompatible, st.Generation, vm.table.Name())
	case len(st.Slots) != len(vm.slots):
		return fmt.Errorf("%w: %d slots, want %d", ErrIncompatible, len(st.Slots), len(vm.slots))
	case len(st.Globals) != len(vm.vars.globals):
		return fmt.Errorf("%w: %d globals, want %d", ErrIncompatible, len(st.Globals), len(vm.vars.globals))
	case st.NumBits != vm.vars.numBits || len(st.Bits) != (vm.vars.numBits+7)/8:
		return fmt.Errorf("%w: %d bit variables, want %d", ErrIncompatible, st.NumBits, vm.vars.numBits)
	case len(st.Locals) != len(vm.vars.locals):
		return fmt.Errorf("%w: locals for %d slots, want %d", ErrIncompatible, len(st.Locals), len(vm.vars.locals))
	case len(st.Stack) > vm.stack.Cap():
		return fmt.Errorf("%w: stack depth %d exceeds %d", ErrIncompatible, len(st.Stack), vm.stack.Cap())
	case len(st.Cutscenes) < 1 || len(st.Cutscenes) > MaxCutscenes+1:
		return fmt.Errorf("%w: cutscene depth %d", ErrIncompatible, len(st.Cutscenes)-1)
	}
	for i, l := range st.Locals {
		if len(l) != vm.vars.NumLocals() {
			return fmt.Errorf("%w: slot %d has %d locals, want %d", ErrIncompatible, i, len(l), vm.vars.NumLocals())
		}
	}
	for i := range st.Slots {
		if st.Slots[i].Status > SlotRunnable {
			return fmt.Errorf("%w: slot %d has status %d", ErrIncompatible, i, st.Slots[i].Status)
		}
	}
	slotRef := func(i int, allowNone bool) bool {
		return (allowNone && i == NoSlot) || (i >= 0 && i < len(vm.slots))
	}
	for i, c := range st.Cutscenes {
		// The bottom frame never has an owner; every real cutscene has one.
		if i == 0 && c.Owner != NoSlot || i > 0 && !slotRef(c.Owner, false) {
			return fmt.Errorf("%w: cutscene %d owned by slot %d", ErrIncompatible, i, c.Owner)
		}
		if !slotRef(c.OverrideSlot, true) {
			return fmt.Errorf("%w: cutscene %d override in slot %d", ErrIncompatible, i, c.OverrideSlot)
		}
	}
	for _, a := range st.Arrays {
		if a.Handle <= 0 || int(a.Handle) > vm.arrays.Max() {
			return fmt.Errorf("%w: array handle %d (max %d)", ErrIncompatible, a.Handle, vm.arrays.Max())
		}
		if a.Owner != NoOwner && !slotRef(a.Owner, false) {
			return fmt.Errorf("%w: array %d owned by slot %d", ErrIncompatible, a.Handle, a.Owner)
		}
		if !a.Kind.Valid() || len(a.Data) != a.Kind.storage(a.Rows.Len()*a.Cols.Len()) {
			return fmt.Errorf("%w: array %d has malformed storage", ErrIncompatible, a.Handle)
		}
	}
	return nil
}

// Restore replaces the session state with st. A session that ended in a
// fault is revived by a successful restore.
func (vm *VM) Restore(st *State) error {
	if vm.running {
		return ErrBetweenTicks
	}
	if err := vm.checkState(st); err != nil {
		return err
	}
	if err := vm.pcg.UnmarshalBinary(st.RNG); err != nil {
		return fmt.Errorf("%w: rng: %v", ErrIncompatible, err)
	}
	copy(vm.slots, st.Slots)
	vm.cuts = vm.cuts[:0]
	for _, c := range st.Cutscenes {
		c.Data = append([]int32(nil), c.Data...)
		vm.cuts = append(vm.cuts, c)
	}
	copy(vm.vars.globals, st.Globals)
	vm.vars.unpackBits(st.Bits)
	for i, l := range st.Locals {
		copy(vm.vars.locals[i], l)
	}
	vm.arrays = NewArrayTable(vm.opts.Arrays)
	for _, a := range st.Arrays {
		vm.arrays.arrays[a.Handle] = &Array{
			Handle: a.Handle,
			Kind:   a.Kind,
			Rows:   a.Rows,
			Cols:   a.Cols,
			Owner:  a.Owner,
			data:   append([]byte(nil), a.Data...),
		}
	}
	vm.stack.Reset()
	for _, v := range st.Stack {
		_ = vm.stack.Push(v)
	}
	vm.ticks = st.Ticks
	vm.room = st.Room
	vm.epoch = st.Epoch
	vm.overrideActive = st.OverrideActive
	vm.skipPending = st.SkipPending
	vm.nest = vm.nest[:0]
	vm.cur = NoSlot
	vm.code = codeCache{}
	vm.err = nil
	log.Infof("restored tick %d in room %d", st.Ticks, st.Room)
	return nil
}
