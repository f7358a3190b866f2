package vm

import "errors"

// Handlers and helpers shared by every instruction-set generation.

func opStopObjectCode(vm *VM, _ Mode) Flow {
	vm.stopSelf()
	return next
}

func opBreakHere(vm *VM, _ Mode) Flow { return yield }

func opEndCutscene(vm *VM, _ Mode) Flow {
	vm.endCutscene()
	return next
}

func opBeginOverride(vm *VM, _ Mode) Flow {
	vm.beginOverride()
	return next
}

func opEndOverride(vm *VM, _ Mode) Flow {
	vm.endOverride()
	return next
}

// resourceNames lists resource sub-ops in the historical order; the
// position plus one is the sub-op number of the register generation.
var resourceNames = []string{
	"loadScript", "loadSound", "loadCostume", "loadRoom",
	"nukeScript", "nukeSound", "nukeCostume", "nukeRoom",
	"lockScript", "lockSound", "lockCostume", "lockRoom",
	"unlockScript", "unlockSound", "unlockCostume", "unlockRoom",
	"clearHeap", "loadCharset", "nukeCharset", "loadFlObject",
}

// resourceAction maps a resource sub-op number (1-based) to its request.
func resourceAction(n int) (ResourceOp, ResourceKind, bool) {
	switch {
	case n >= 1 && n <= 16:
		ops := [...]ResourceOp{ResLoad, ResNuke, ResLock, ResUnlock}
		kinds := [...]ResourceKind{ResScript, ResSound, ResCostume, ResRoom}
		return ops[(n-1)/4], kinds[(n-1)%4], true
	case n == 17:
		return ResClearHeap, 0, true
	case n == 18:
		return ResLoad, ResCharset, true
	case n == 19:
		return ResNuke, ResCharset, true
	case n == 20:
		return ResLoad, ResObject, true
	}
	return 0, 0, false
}

// resource forwards a resource-management request to the provider.
func (vm *VM) resource(op ResourceOp, kind ResourceKind, id int32) {
	if err := vm.res.Resource(op, kind, id); err != nil {
		vm.fault(FaultResource, "%s %s %d: %v", op, kind, id, err)
	}
}

// defineArray (re)declares the array whose handle lives in variable v.
// Arrays named by a local variable belong to the running slot.
func (vm *VM) defineArray(v uint16, kind ArrayKind, rows, cols Bounds) int32 {
	h := vm.readVar(v)
	h, err := vm.arrays.Define(h, kind, rows, cols)
	vm.check(err, FaultArrayRange)
	vm.writeVar(v, h)
	if v&VarBit == 0 && v&VarLocal != 0 {
		vm.arrays.SetOwner(h, vm.cur)
	}
	return h
}

// dim returns the bounds of a 1-D (dim2 == 0) or 2-D declaration.
func dim(dim1, dim2 int32) (rows, cols Bounds) {
	if dim2 == 0 {
		return Bounds{0, 0}, Span(dim1)
	}
	return Span(dim2), Span(dim1)
}

// readArray reads through the handle stored in variable v. An undefined
// handle reads as zero.
func (vm *VM) readArray(v uint16, row, col int32) int32 {
	x, err := vm.arrays.Read(vm.readVar(v), row, col)
	if errors.Is(err, ErrUndefinedArray) {
		log.Warningf("script %d read undefined array in variable %d", vm.slots[vm.cur].Number, v)
		return 0
	}
	vm.check(err, FaultArrayRange)
	return x
}

func (vm *VM) writeArray(v uint16, row, col, x int32) {
	vm.check(vm.arrays.Write(vm.readVar(v), row, col, x), FaultArrayRange)
}

func (vm *VM) nukeArray(v uint16) {
	h := vm.readVar(v)
	had, err := vm.arrays.Undefine(h)
	vm.check(err, FaultArrayRange)
	if !had {
		log.Debugf("nuke of undefined array %d", h)
	}
	vm.writeVar(v, 0)
}

// writeText stores text plus a terminator into a string array starting at
// column base, defining the array to fit.
func (vm *VM) writeText(v uint16, base int32, text []byte) {
	if base < 0 {
		vm.fault(FaultArrayRange, "negative string offset %d", base)
	}
	vm.defineArray(v, ArrayString, Bounds{0, 0}, Span(base+int32(len(text))+1))
	for i, b := range text {
		vm.writeArray(v, 0, base+int32(i), int32(b))
	}
	vm.writeArray(v, 0, base+int32(len(text)), 0)
}

func (vm *VM) param(i int32) int32 {
	if i < 0 || i > 1 {
		vm.fault(FaultArgs, "parameter %d", i)
	}
	return vm.slots[vm.cur].Params[i]
}

func (vm *VM) freezeRequest(flag int32) {
	if flag != 0 {
		vm.freeze(flag)
	} else {
		vm.unfreeze()
	}
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func divide(vm *VM, a, b int32) int32 {
	if b == 0 {
		vm.fault(FaultDivideByZero, "%d / 0", a)
	}
	return a / b
}

// scriptFlags converts the historical freeze-resistant/recursive bits.
func scriptFlags(freezeResistant, recursive bool) ScriptFlags {
	var f ScriptFlags
	if freezeResistant {
		f |= FlagFreezeResistant
	}
	if recursive {
		f |= FlagRecursive
	}
	return f
}
