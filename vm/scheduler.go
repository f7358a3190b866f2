package vm

import "context"

// pass is one scheduler tick: delays count down, ran flags clear, and
// every eligible slot runs in ascending index order. Slots started during
// the pass are picked up when their index lies ahead of the loop.
func (vm *VM) pass(ctx context.Context) error {
	vm.decreaseDelays(1)
	for i := range vm.slots {
		vm.slots[i].Ran = false
	}
	for i := range vm.slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := &vm.slots[i]
		if s.Status != SlotRunnable || s.Freeze > 0 || s.Ran {
			continue
		}
		s.Ran = true
		vm.cur = NoSlot
		vm.runNested(i)
	}
	vm.cur = NoSlot
	vm.ticks++
	return nil
}

// decreaseDelays counts paused slots down; a slot whose delay expires
// becomes runnable again.
func (vm *VM) decreaseDelays(amount int32) {
	for i := range vm.slots {
		s := &vm.slots[i]
		if s.Status != SlotPaused {
			continue
		}
		s.Delay -= amount
		if s.Delay <= 0 {
			s.Delay = 0
			s.Status = SlotRunnable
		}
	}
}

// pauseFor suspends the running slot for n ticks.
func (vm *VM) pauseFor(n int32) Flow {
	s := &vm.slots[vm.cur]
	s.Delay = n
	s.Status = SlotPaused
	return yield
}

// enterRoom runs the exit script, tears down room-scoped slots, loads the
// new room and runs its entry script.
func (vm *VM) enterRoom(room uint16) {
	vm.runHook(vm.opts.Vars.ExitScript, nil)
	for i := range vm.slots {
		s := &vm.slots[i]
		if !s.Live() || !s.Origin.RoomScoped() {
			continue
		}
		if s.Override > 0 {
			vm.fault(FaultStopInOverride, "%s script %d in slot %d left room with %d open scopes", s.Origin, s.Number, i, s.Override)
		}
		vm.killSlot(i)
	}
	vm.check(vm.res.LoadRoom(room), FaultResource)
	vm.native(NativeLoadRoom, int32(room))
	prev := vm.room
	vm.room = room
	vm.setGlobal(vm.opts.Vars.Room, int32(room))
	log.Infof("room %d -> %d", prev, room)
	vm.runHook(vm.opts.Vars.EntryScript, nil)
}
