package vm

// MaxCutscenes is the depth of the cutscene stack.
const MaxCutscenes = 5

// CutsceneFrame is one open cutscene scope. The bottom frame of the stack
// is not a cutscene; it only holds an override started outside any
// cutscene.
type CutsceneFrame struct {
	Owner          int
	Script         uint16
	Data           []int32
	PrevOverride   bool
	Skipped        bool
	OverrideSlot   int
	OverrideScript uint16
	Resume         int64
}

func baseFrame() CutsceneFrame {
	return CutsceneFrame{Owner: NoSlot, OverrideSlot: NoSlot, Resume: -1}
}

// CutsceneDepth returns the number of open cutscene scopes.
func (vm *VM) CutsceneDepth() int { return len(vm.cuts) - 1 }

// OverrideActive reports the flag set when a skip unwound an override.
func (vm *VM) OverrideActive() bool { return vm.overrideActive }

func (vm *VM) setOverride(on bool) {
	vm.overrideActive = on
	v := int32(0)
	if on {
		v = 1
	}
	vm.setGlobal(vm.opts.Vars.Override, v)
}

func (vm *VM) topCut() *CutsceneFrame { return &vm.cuts[len(vm.cuts)-1] }

// beginCutscene opens a scope owned by the running slot.
func (vm *VM) beginCutscene(data []int32) {
	if vm.CutsceneDepth() == MaxCutscenes {
		vm.fault(FaultCutsceneStack, "overflow (%d)", MaxCutscenes)
	}
	s := &vm.slots[vm.cur]
	s.Override++
	frame := baseFrame()
	frame.Owner = vm.cur
	frame.Script = s.Number
	frame.Data = append([]int32(nil), data...)
	frame.PrevOverride = vm.overrideActive
	vm.cuts = append(vm.cuts, frame)
	vm.setOverride(false)
	vm.runHook(vm.opts.Vars.CutsceneStart, data)
}

// endCutscene closes the innermost scope. Closing with no open scope, or
// past a zero override count, is logged and otherwise ignored.
func (vm *VM) endCutscene() {
	if vm.CutsceneDepth() == 0 {
		log.Warningf("end of cutscene with no cutscene open")
		return
	}
	frame := vm.cuts[len(vm.cuts)-1]
	vm.cuts = vm.cuts[:len(vm.cuts)-1]
	if !frame.Skipped {
		owner := &vm.slots[frame.Owner]
		if owner.Live() && owner.Number == frame.Script && owner.Override > 0 {
			owner.Override--
		} else {
			log.Warningf("cutscene of script %d closed with no open override", frame.Script)
		}
	}
	vm.setOverride(frame.PrevOverride)
	vm.runHook(vm.opts.Vars.CutsceneEnd, frame.Data)
}

// beginOverride records the jump instruction that follows the override
// opcode as the resume point of a skip, then steps over that jump.
func (vm *VM) beginOverride() {
	s := &vm.slots[vm.cur]
	top := vm.topCut()
	top.OverrideSlot = vm.cur
	top.OverrideScript = s.Number
	top.Resume = int64(s.Offset)
	vm.fetchByte()
	vm.fetchWord()
	vm.setOverride(false)
}

func (vm *VM) endOverride() {
	top := vm.topCut()
	top.OverrideSlot = NoSlot
	top.OverrideScript = 0
	top.Resume = -1
	vm.setOverride(false)
}

// requestSkip arms the fast unwind of the innermost override and wakes the
// slot that owns it. It reports whether anything was skippable.
func (vm *VM) requestSkip() bool {
	top := vm.topCut()
	if top.Resume < 0 || top.OverrideSlot == NoSlot {
		return false
	}
	s := &vm.slots[top.OverrideSlot]
	if !s.Live() || s.Number != top.OverrideScript {
		log.Warningf("skip: override owner script %d is gone", top.OverrideScript)
		top.Resume = -1
		top.OverrideSlot = NoSlot
		return false
	}
	vm.skipPending = true
	s.Status = SlotRunnable
	s.Delay = 0
	s.Freeze = 0
	return true
}

// unwindSkip performs a pending skip when the running slot owns the
// innermost override: execution continues at the stored resume point.
func (vm *VM) unwindSkip() {
	top := vm.topCut()
	if top.OverrideSlot != vm.cur || top.Resume < 0 {
		return
	}
	s := &vm.slots[vm.cur]
	s.Offset = uint32(top.Resume)
	top.Resume = -1
	if vm.CutsceneDepth() > 0 && !top.Skipped {
		if owner := &vm.slots[top.Owner]; owner.Live() && owner.Override > 0 {
			owner.Override--
		}
		top.Skipped = true
	}
	vm.skipPending = false
	vm.setOverride(true)
	log.Debugf("skip: script %d resumes at 0x%04X", s.Number, s.Offset)
}
