package vm

import "fmt"

// NoSlot marks "no script is executing" and the no-caller sentinel.
const NoSlot = -1

// SlotStatus is the primary scheduling state of a slot.
type SlotStatus uint8

const (
	SlotDead SlotStatus = iota
	SlotPaused
	SlotRunnable
)

func (s SlotStatus) String() string {
	switch s {
	case SlotDead:
		return "dead"
	case SlotPaused:
		return "paused"
	case SlotRunnable:
		return "runnable"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Slot is one concurrently running script instance.
type Slot struct {
	Number          uint16
	Origin          Origin
	Room            uint16
	Offset          uint32
	Status          SlotStatus
	Delay           int32
	Params          [2]int32
	Freeze          int32
	Override        int32
	FreezeResistant bool
	Recursive       bool
	Ran             bool
	Epoch           uint32
}

func (s *Slot) key() CodeKey {
	return CodeKey{Origin: s.Origin, Room: s.Room, ID: s.Number}
}

// Live reports whether the slot holds a script.
func (s Slot) Live() bool { return s.Status != SlotDead }

// ScriptFlags modify how a script is started.
type ScriptFlags uint8

const (
	FlagFreezeResistant ScriptFlags = 1 << iota
	FlagRecursive
)

// Allocator picks a dead slot for a new script, or returns NoSlot.
type Allocator func(slots []Slot) int

// LowestFree returns the lowest dead slot above zero. Slot 0 is never
// handed out.
func LowestFree(slots []Slot) int {
	for i := 1; i < len(slots); i++ {
		if slots[i].Status == SlotDead {
			return i
		}
	}
	return NoSlot
}

func (vm *VM) allocSlot() int {
	i := vm.alloc(vm.slots)
	if i == NoSlot {
		vm.fault(FaultSlotsExhausted, "all %d slots in use", len(vm.slots)-1)
	}
	if i <= 0 || i >= len(vm.slots) || vm.slots[i].Live() {
		vm.fault(FaultSlotsExhausted, "allocator returned unusable slot %d", i)
	}
	return i
}

// killSlot returns a slot to the free pool, releasing arrays it owns.
func (vm *VM) killSlot(i int) {
	s := &vm.slots[i]
	if released := vm.arrays.ReleaseOwned(i); len(released) > 0 {
		log.Debugf("slot %d (script %d): released arrays %v", i, s.Number, released)
	}
	vm.vars.Seed(i, nil)
	*s = Slot{Epoch: s.Epoch}
	if vm.code.slot == i {
		vm.invalidateCode()
	}
}

// initSlot installs a fresh script instance into slot i.
func (vm *VM) initSlot(i int, number uint16, origin Origin, room uint16, offset uint32, args []int32, flags ScriptFlags) {
	vm.epoch++
	s := &vm.slots[i]
	*s = Slot{
		Number:          number,
		Origin:          origin,
		Room:            room,
		Offset:          offset,
		Status:          SlotRunnable,
		FreezeResistant: flags&FlagFreezeResistant != 0,
		Recursive:       flags&FlagRecursive != 0,
		Epoch:           vm.epoch,
	}
	copy(s.Params[:], args)
	vm.vars.Seed(i, args)
	if vm.code.slot == i {
		vm.invalidateCode()
	}
}

// scriptOrigin resolves the code table of script id from the id range.
func (vm *VM) scriptOrigin(id uint16) (Origin, uint16) {
	if int(id) < vm.opts.GlobalScripts {
		return OriginGlobal, 0
	}
	if vm.room == 0 {
		vm.fault(FaultNoRoomScripts, "local script %d started with no room loaded", id)
	}
	return OriginLocal, vm.room
}

// ensureCode checks that key resolves before a slot is pointed at it.
func (vm *VM) ensureCode(key CodeKey) {
	if _, err := vm.res.Code(key); err != nil {
		if key.Origin == OriginLocal {
			vm.fault(FaultNoRoomScripts, "%s: %v", key, err)
		}
		vm.check(err, FaultResource)
	}
}

// findScript returns the slot running global or local script id.
func (vm *VM) findScript(id uint16) int {
	for i := range vm.slots {
		s := &vm.slots[i]
		if s.Live() && s.Number == id && (s.Origin == OriginGlobal || s.Origin == OriginLocal) {
			return i
		}
	}
	return NoSlot
}

// spawn starts script id in a slot without transferring control to it.
// A non-recursive start replaces any running instance of the same script
// and reuses its slot. The new slot has not run this tick, so the
// scheduler picks it up later in the current pass if its index is above
// the running slot's.
func (vm *VM) spawn(id uint16, args []int32, flags ScriptFlags) int {
	if id == 0 {
		log.Debugf("start of script 0 ignored")
		return NoSlot
	}
	origin, room := vm.scriptOrigin(id)
	key := CodeKey{Origin: origin, Room: room, ID: id}
	vm.ensureCode(key)

	slot := NoSlot
	if flags&FlagRecursive == 0 {
		for i := range vm.slots {
			s := &vm.slots[i]
			if !s.Live() || s.Number != id || !(s.Origin == OriginGlobal || s.Origin == OriginLocal) {
				continue
			}
			if s.Override > 0 {
				vm.fault(FaultStopInOverride, "restart of script %d in slot %d", id, i)
			}
			if slot == NoSlot {
				slot = i
			} else {
				vm.killSlot(i)
			}
		}
		if slot != NoSlot {
			vm.killSlot(slot)
		}
	}
	if slot == NoSlot {
		slot = vm.allocSlot()
	}
	vm.initSlot(slot, id, origin, room, 0, args, flags)
	log.Debugf("script %d (%s) started in slot %d", id, origin, slot)
	return slot
}

// spawnObject starts the verb entry of obj. Missing verbs are ignored.
func (vm *VM) spawnObject(obj, verb uint16, args []int32, flags ScriptFlags) int {
	entry, ok, err := vm.res.Object(obj, verb)
	vm.check(err, FaultResource)
	if !ok {
		log.Debugf("object %d has no verb %d", obj, verb)
		return NoSlot
	}
	key := entry.Key
	key.ID = obj
	vm.ensureCode(key)

	slot := NoSlot
	if flags&FlagRecursive == 0 {
		for i := range vm.slots {
			s := &vm.slots[i]
			if s.Live() && s.Number == obj && s.Origin == key.Origin {
				if s.Override > 0 {
					vm.fault(FaultStopInOverride, "restart of object %d in slot %d", obj, i)
				}
				vm.killSlot(i)
				if slot == NoSlot {
					slot = i
				}
			}
		}
	}
	if slot == NoSlot {
		slot = vm.allocSlot()
	}
	vm.initSlot(slot, obj, key.Origin, key.Room, entry.Entry, args, flags)
	log.Debugf("object %d verb %d started in slot %d", obj, verb, slot)
	return slot
}

// stopScript kills every global or local instance of id.
func (vm *VM) stopScript(id uint16) {
	found := false
	for i := range vm.slots {
		s := &vm.slots[i]
		if !s.Live() || s.Number != id || !(s.Origin == OriginGlobal || s.Origin == OriginLocal) {
			continue
		}
		if s.Override > 0 {
			vm.fault(FaultStopInOverride, "script %d in slot %d has %d open scopes", id, i, s.Override)
		}
		vm.killSlot(i)
		found = true
	}
	if !found {
		log.Debugf("stop of script %d: not running", id)
	}
}

// stopObjectScript kills every instance of object code for obj.
func (vm *VM) stopObjectScript(obj uint16) {
	found := false
	for i := range vm.slots {
		s := &vm.slots[i]
		if !s.Live() || s.Number != obj || !s.Origin.IsObject() {
			continue
		}
		if s.Override > 0 {
			vm.fault(FaultStopInOverride, "object %d in slot %d has %d open scopes", obj, i, s.Override)
		}
		vm.killSlot(i)
		found = true
	}
	if !found {
		log.Debugf("stop of object %d: not running", obj)
	}
}

// stopSelf ends the running slot.
func (vm *VM) stopSelf() {
	s := &vm.slots[vm.cur]
	if s.Override > 0 {
		vm.fault(FaultStopInOverride, "script %d ending with %d open scopes", s.Number, s.Override)
	}
	vm.killSlot(vm.cur)
}

// chain gives the running slot a new script identity and continues at the
// start of the new code within the same pass.
func (vm *VM) chain(id uint16, args []int32, flags ScriptFlags) {
	origin, room := vm.scriptOrigin(id)
	key := CodeKey{Origin: origin, Room: room, ID: id}
	vm.ensureCode(key)
	cur := vm.cur
	old := vm.slots[cur]
	if released := vm.arrays.ReleaseOwned(cur); len(released) > 0 {
		log.Debugf("chain from script %d: released arrays %v", old.Number, released)
	}
	vm.initSlot(cur, id, origin, room, 0, args, flags)
	s := &vm.slots[cur]
	s.Override = old.Override
	s.Freeze = old.Freeze
	s.Ran = true
	for i := range vm.cuts {
		if vm.cuts[i].Owner == cur {
			vm.cuts[i].Script = id
		}
		if vm.cuts[i].OverrideSlot == cur {
			vm.cuts[i].OverrideScript = id
		}
	}
	log.Debugf("slot %d chained from script %d to %d", cur, old.Number, id)
}

// isScriptRunning reports whether a global or local instance of id is live.
func (vm *VM) isScriptRunning(id uint16) bool { return vm.findScript(id) != NoSlot }

// isRoomScriptRunning reports whether room-object code of obj is live.
func (vm *VM) isRoomScriptRunning(obj uint16) bool {
	for i := range vm.slots {
		s := &vm.slots[i]
		if s.Live() && s.Number == obj && (s.Origin == OriginRoomObject || s.Origin == OriginFloatingObject) {
			return true
		}
	}
	return false
}

// freeze suspends every live slot except the running one. Slots with open
// cutscene scopes are exempt, freeze-resistant slots too unless the
// request is forced (flag >= 0x80).
func (vm *VM) freeze(flag int32) {
	for i := range vm.slots {
		s := &vm.slots[i]
		if i == vm.cur || !s.Live() || s.Override > 0 {
			continue
		}
		if s.FreezeResistant && flag < 0x80 {
			continue
		}
		s.Freeze++
	}
}

// unfreeze lifts one level of freeze from every frozen slot.
func (vm *VM) unfreeze() {
	for i := range vm.slots {
		if s := &vm.slots[i]; s.Live() && s.Freeze > 0 {
			s.Freeze--
		}
	}
}
