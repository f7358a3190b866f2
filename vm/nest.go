package vm

// NestFrame records the caller suspended by a nested transfer of control.
// Slot is NoSlot for a chain started directly by the engine.
type NestFrame struct {
	Number uint16
	Origin Origin
	Slot   int
	Epoch  uint32
}

// runNested transfers control to slot and runs it until it gives up
// control, then returns to the caller if the caller is still the same
// live, unfrozen script instance.
func (vm *VM) runNested(slot int) {
	if len(vm.nest) >= len(vm.slots) {
		vm.fault(FaultNesting, "depth %d", len(vm.nest))
	}
	frame := NestFrame{Slot: NoSlot}
	if vm.cur != NoSlot {
		s := &vm.slots[vm.cur]
		frame = NestFrame{Number: s.Number, Origin: s.Origin, Slot: vm.cur, Epoch: s.Epoch}
	}
	vm.nest = append(vm.nest, frame)
	opStart, opcode := vm.opStart, vm.opcode
	vm.cur = slot
	vm.invalidateCode()

	vm.execute()

	vm.opStart, vm.opcode = opStart, opcode

	frame = vm.nest[len(vm.nest)-1]
	vm.nest = vm.nest[:len(vm.nest)-1]
	vm.invalidateCode()
	if frame.Slot == NoSlot {
		vm.cur = NoSlot
		return
	}
	s := &vm.slots[frame.Slot]
	if s.Number == frame.Number && s.Origin == frame.Origin && s.Epoch == frame.Epoch &&
		s.Status == SlotRunnable && s.Freeze == 0 {
		vm.cur = frame.Slot
		return
	}
	log.Debugf("caller script %d in slot %d abandoned", frame.Number, frame.Slot)
	vm.cur = NoSlot
}

// runScript starts id and immediately runs it nested under the current slot.
func (vm *VM) runScript(id uint16, args []int32, flags ScriptFlags) {
	if slot := vm.spawn(id, args, flags); slot != NoSlot {
		vm.slots[slot].Ran = true
		vm.runNested(slot)
	}
}

// runObject starts an object verb and immediately runs it nested.
func (vm *VM) runObject(obj, verb uint16, args []int32, flags ScriptFlags) {
	if slot := vm.spawnObject(obj, verb, args, flags); slot != NoSlot {
		vm.slots[slot].Ran = true
		vm.runNested(slot)
	}
}

// runHook runs the script named by a well-known variable, if any.
func (vm *VM) runHook(v uint16, args []int32) {
	if id := vm.global(v); id != 0 {
		vm.runScript(uint16(id), args, 0)
	}
}
