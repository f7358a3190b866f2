package vm

import "sync"

// ---------------------------------------------------------------------------
// Generation v5: register style. Operand modes live in the opcode byte.
// ---------------------------------------------------------------------------

const v5Locals = 17

var (
	v5Once  sync.Once
	v5Table *table
)

// V5 returns the register-style instruction set.
func V5() OpcodeTable {
	v5Once.Do(func() { v5Table = newTable("v5", v5Locals, true, nil, v5Operations()) })
	return v5Table
}

var (
	argResult = Arg{Kind: ArgVar, Name: "result"}
	argJump   = Arg{Kind: ArgJump, Name: "target"}
	argList   = Arg{Kind: ArgList, Name: "args"}
)

func p8(bit Mode, name string) Arg  { return Arg{Kind: ArgP8, Bit: bit, Name: name} }
func p16(bit Mode, name string) Arg { return Arg{Kind: ArgP16, Bit: bit, Name: name} }

func v5Operations() []*Operation {
	return []*Operation{
		{Name: "stopObjectCode", Base: 0x00, Also: []byte{0xA0}, Exec: opStopObjectCode},
		{Name: "breakHere", Base: 0x80, Exec: opBreakHere},

		// Arithmetic on the result variable.
		{Name: "move", Base: 0x1A, Mask: P1, Args: []Arg{argResult, p16(P1, "value")}, Exec: v5Move},
		{Name: "add", Base: 0x5A, Mask: P1, Args: []Arg{argResult, p16(P1, "value")}, Exec: v5Arith(func(_ *VM, a, b int32) int32 { return a + b })},
		{Name: "subtract", Base: 0x3A, Mask: P1, Args: []Arg{argResult, p16(P1, "value")}, Exec: v5Arith(func(_ *VM, a, b int32) int32 { return a - b })},
		{Name: "multiply", Base: 0x1B, Mask: P1, Args: []Arg{argResult, p16(P1, "value")}, Exec: v5Arith(func(_ *VM, a, b int32) int32 { return a * b })},
		{Name: "divide", Base: 0x5B, Mask: P1, Args: []Arg{argResult, p16(P1, "value")}, Exec: v5Arith(divide)},
		{Name: "and", Base: 0x17, Mask: P1, Args: []Arg{argResult, p16(P1, "value")}, Exec: v5Arith(func(_ *VM, a, b int32) int32 { return a & b })},
		{Name: "or", Base: 0x57, Mask: P1, Args: []Arg{argResult, p16(P1, "value")}, Exec: v5Arith(func(_ *VM, a, b int32) int32 { return a | b })},
		{Name: "increment", Base: 0x46, Args: []Arg{argResult}, Exec: v5Step(1)},
		{Name: "decrement", Base: 0xC6, Args: []Arg{argResult}, Exec: v5Step(-1)},
		{Name: "setVarRange", Base: 0x26, Mask: P1, Args: []Arg{argResult, {Kind: ArgByte, Name: "count"}}, Exec: v5SetVarRange},
		{Name: "expression", Base: 0xAC, Args: []Arg{argResult, {Kind: ArgExpr, Name: "expr"}}, Exec: v5Expression},
		{Name: "getRandomNr", Base: 0x16, Mask: P1, Args: []Arg{argResult, p8(P1, "max")}, Exec: v5GetRandomNr},

		// Comparisons continue when the condition holds and jump otherwise.
		{Name: "isEqual", Base: 0x48, Mask: P1, Args: []Arg{{Kind: ArgVar, Name: "var"}, p16(P1, "value"), argJump}, Exec: v5Compare(func(a, b int32) bool { return b == a })},
		{Name: "isNotEqual", Base: 0x08, Mask: P1, Args: []Arg{{Kind: ArgVar, Name: "var"}, p16(P1, "value"), argJump}, Exec: v5Compare(func(a, b int32) bool { return b != a })},
		{Name: "isGreater", Base: 0x78, Mask: P1, Args: []Arg{{Kind: ArgVar, Name: "var"}, p16(P1, "value"), argJump}, Exec: v5Compare(func(a, b int32) bool { return b > a })},
		{Name: "isGreaterEqual", Base: 0x04, Mask: P1, Args: []Arg{{Kind: ArgVar, Name: "var"}, p16(P1, "value"), argJump}, Exec: v5Compare(func(a, b int32) bool { return b >= a })},
		{Name: "isLess", Base: 0x44, Mask: P1, Args: []Arg{{Kind: ArgVar, Name: "var"}, p16(P1, "value"), argJump}, Exec: v5Compare(func(a, b int32) bool { return b < a })},
		{Name: "isLessEqual", Base: 0x38, Mask: P1, Args: []Arg{{Kind: ArgVar, Name: "var"}, p16(P1, "value"), argJump}, Exec: v5Compare(func(a, b int32) bool { return b <= a })},
		{Name: "equalZero", Base: 0x28, Args: []Arg{{Kind: ArgVar, Name: "var"}, argJump}, Exec: v5Zero(true)},
		{Name: "notEqualZero", Base: 0xA8, Args: []Arg{{Kind: ArgVar, Name: "var"}, argJump}, Exec: v5Zero(false)},
		{Name: "jumpRelative", Base: 0x18, Args: []Arg{argJump}, Exec: v5Jump},

		// Script control.
		{Name: "startScript", Base: 0x0A, Mask: P1 | P2 | P3, Args: []Arg{p8(P1, "script"), argList}, Flags: []Flag{{P3, "freeze-resistant"}, {P2, "recursive"}}, Exec: v5StartScript},
		{Name: "chainScript", Base: 0x42, Mask: P1, Args: []Arg{p8(P1, "script"), argList}, Exec: v5ChainScript},
		{Name: "callScript", Base: 0x4C, Mask: P1, Args: []Arg{p8(P1, "script"), argList}, Exec: v5CallScript},
		{Name: "stopScript", Base: 0x62, Mask: P1, Args: []Arg{p8(P1, "script")}, Exec: v5StopScript},
		{Name: "isScriptRunning", Base: 0x68, Mask: P1, Args: []Arg{argResult, p8(P1, "script")}, Exec: v5IsScriptRunning},
		{Name: "freezeScripts", Base: 0x60, Mask: P1, Args: []Arg{p8(P1, "flag")}, Exec: v5FreezeScripts},
		{Name: "startObject", Base: 0x37, Mask: P1 | P2, Args: []Arg{p16(P1, "object"), p8(P2, "verb"), argList}, Exec: v5StartObject},
		{Name: "getParam", Base: 0x0F, Mask: P1, Args: []Arg{argResult, p8(P1, "index")}, Exec: v5GetParam},
		{Name: "delay", Base: 0x2E, Args: []Arg{{Kind: ArgDelay, Name: "ticks"}}, Exec: v5Delay},
		{Name: "delayVariable", Base: 0x2B, Args: []Arg{{Kind: ArgVar, Name: "var"}}, Exec: v5DelayVariable},
		{Name: "wait", Base: 0xAE, SubMask: 0x1F, Subs: []SubOp{
			{Code: 1, Name: "actor", Args: []Arg{p8(P1, "actor")}},
			{Code: 2, Name: "message"},
			{Code: 3, Name: "camera"},
			{Code: 4, Name: "sentence"},
		}, Exec: v5Wait},
		{Name: "cutscene", Base: 0x40, Args: []Arg{argList}, Exec: v5Cutscene},
		{Name: "endCutscene", Base: 0xC0, Exec: opEndCutscene},
		{Name: "override", Base: 0x58, Args: []Arg{{Kind: ArgByte, Name: "begin"}}, Exec: v5Override},
		{Name: "loadRoom", Base: 0x72, Mask: P1, Args: []Arg{p8(P1, "room")}, Exec: v5LoadRoom},

		// Resources and arrays.
		{Name: "resourceRoutines", Base: 0x0C, SubMask: 0x1F, Subs: v5ResourceSubs(), Exec: v5ResourceRoutines},
		{Name: "arrayOps", Base: 0x0D, SubMask: 0x1F, Subs: []SubOp{
			{Code: 1, Name: "dim", Args: []Arg{{Kind: ArgVar, Name: "array"}, {Kind: ArgByte, Name: "kind"}, p16(P1, "dim1"), p16(P2, "dim2")}},
			{Code: 2, Name: "read", Args: []Arg{argResult, {Kind: ArgVar, Name: "array"}, p16(P1, "row"), p16(P2, "col")}},
			{Code: 3, Name: "write", Args: []Arg{{Kind: ArgVar, Name: "array"}, p16(P1, "row"), p16(P2, "col"), p16(P3, "value")}},
			{Code: 4, Name: "nuke", Args: []Arg{{Kind: ArgVar, Name: "array"}}},
		}, Exec: v5ArrayOps},

		// Native subsystems.
		{Name: "putActor", Base: 0x01, Mask: P1 | P2 | P3, Args: []Arg{p8(P1, "actor"), p16(P2, "x"), p16(P3, "y")}, Exec: v5Native3(NativePutActor)},
		{Name: "walkActorTo", Base: 0x1E, Mask: P1 | P2 | P3, Args: []Arg{p8(P1, "actor"), p16(P2, "x"), p16(P3, "y")}, Exec: v5Native3(NativeWalkActor)},
		{Name: "animateActor", Base: 0x11, Mask: P1 | P2, Args: []Arg{p8(P1, "actor"), p8(P2, "anim")}, Exec: v5Native2(NativeAnimateActor, true)},
		{Name: "faceActor", Base: 0x09, Mask: P1 | P2, Args: []Arg{p8(P1, "actor"), p16(P2, "object")}, Exec: v5Native2(NativeFaceActor, false)},
		{Name: "setState", Base: 0x07, Mask: P1 | P2, Args: []Arg{p16(P1, "object"), p8(P2, "state")}, Exec: v5ObjNative(NativeSetState)},
		{Name: "setOwnerOf", Base: 0x29, Mask: P1 | P2, Args: []Arg{p16(P1, "object"), p8(P2, "owner")}, Exec: v5ObjNative(NativeSetOwner)},
		{Name: "getActorRoom", Base: 0x03, Mask: P1, Args: []Arg{argResult, p8(P1, "actor")}, Exec: v5Query(NativeActorRoom, false)},
		{Name: "getActorX", Base: 0x43, Mask: P1, Args: []Arg{argResult, p16(P1, "actor")}, Exec: v5Query(NativeActorX, true)},
		{Name: "getActorY", Base: 0x23, Mask: P1, Args: []Arg{argResult, p16(P1, "actor")}, Exec: v5Query(NativeActorY, true)},
		{Name: "getActorMoving", Base: 0x56, Mask: P1, Args: []Arg{argResult, p8(P1, "actor")}, Exec: v5Query(NativeActorMoving, false)},
		{Name: "getObjectOwner", Base: 0x10, Mask: P1, Args: []Arg{argResult, p16(P1, "object")}, Exec: v5Query(NativeGetOwner, true)},
		{Name: "isSoundRunning", Base: 0x7C, Mask: P1, Args: []Arg{argResult, p8(P1, "sound")}, Exec: v5Query(NativeIsSoundRunning, false)},
		{Name: "startSound", Base: 0x1C, Mask: P1, Args: []Arg{p8(P1, "sound")}, Exec: v5Native1(NativeStartSound, false)},
		{Name: "stopSound", Base: 0x3C, Mask: P1, Args: []Arg{p8(P1, "sound")}, Exec: v5Native1(NativeStopSound, false)},
		{Name: "startMusic", Base: 0x02, Mask: P1, Args: []Arg{p8(P1, "music")}, Exec: v5Native1(NativeStartMusic, false)},
		{Name: "stopMusic", Base: 0x20, Exec: func(vm *VM, _ Mode) Flow { vm.native(NativeStopMusic); return next }},
		{Name: "panCameraTo", Base: 0x12, Mask: P1, Args: []Arg{p16(P1, "x")}, Exec: v5Native1(NativePanCamera, true)},
		{Name: "setCameraAt", Base: 0x32, Mask: P1, Args: []Arg{p16(P1, "x")}, Exec: v5Native1(NativeSetCamera, true)},
		{Name: "print", Base: 0x14, Mask: P1, Args: []Arg{p8(P1, "actor"), {Kind: ArgText, Name: "text"}}, Exec: v5Print},
		{Name: "systemOps", Base: 0x98, Args: []Arg{{Kind: ArgByte, Name: "op"}}, Exec: func(vm *VM, _ Mode) Flow {
			vm.native(NativeSystem, int32(vm.fetchByte()))
			return next
		}},
	}
}

func v5ResourceSubs() []SubOp {
	subs := make([]SubOp, len(resourceNames))
	for i, name := range resourceNames {
		subs[i] = SubOp{Code: byte(i + 1), Name: name, Args: []Arg{p8(P1, "id")}}
	}
	subs[16].Args = nil
	subs[19].Args = []Arg{p8(P1, "room"), p16(P2, "object")}
	return subs
}

func v5Move(vm *VM, m Mode) Flow {
	res := vm.fetchVarRef()
	vm.writeVar(res, vm.param16(m, P1))
	return next
}

func v5Arith(f func(vm *VM, a, b int32) int32) Handler {
	return func(vm *VM, m Mode) Flow {
		res := vm.fetchVarRef()
		b := vm.param16(m, P1)
		vm.writeVar(res, f(vm, vm.readVar(res), b))
		return next
	}
}

func v5Step(d int32) Handler {
	return func(vm *VM, _ Mode) Flow {
		res := vm.fetchVarRef()
		vm.writeVar(res, vm.readVar(res)+d)
		return next
	}
}

// v5SetVarRange writes count consecutive variables. The mode bit selects
// word-sized values instead of bytes.
func v5SetVarRange(vm *VM, m Mode) Flow {
	res := vm.fetchVarRef()
	count := vm.fetchByte()
	for ; count > 0; count-- {
		var v int32
		if m&P1 != 0 {
			v = vm.fetchWord()
		} else {
			v = int32(vm.fetchByte())
		}
		vm.writeVar(res, v)
		res++
	}
	return next
}

// v5Expression evaluates a postfix sub-op stream on the value stack.
func v5Expression(vm *VM, _ Mode) Flow {
	res := vm.fetchVarRef()
	depth := vm.stack.Len()
	for {
		sub := vm.fetchByte()
		if sub == 0xFF {
			break
		}
		switch sub & 0x1F {
		case 1:
			vm.push(vm.param16(Mode(sub), P1))
		case 2:
			b, a := vm.pop(), vm.pop()
			vm.push(a + b)
		case 3:
			b, a := vm.pop(), vm.pop()
			vm.push(a - b)
		case 4:
			b, a := vm.pop(), vm.pop()
			vm.push(a * b)
		case 5:
			b, a := vm.pop(), vm.pop()
			vm.push(divide(vm, a, b))
		case 6:
			start, op := vm.opStart, vm.opcode
			vm.opStart = vm.slots[vm.cur].Offset
			vm.opcode = vm.fetchByte()
			cur := vm.cur
			flow := vm.dispatch(vm.opcode)
			if flow.Kind != FlowNext || vm.cur != cur || !vm.slots[cur].Live() {
				vm.fault(FaultNesting, "opcode 0x%02X gave up control inside an expression", vm.opcode)
			}
			vm.opStart, vm.opcode = start, op
			vm.push(vm.global(0))
		default:
			vm.fault(FaultUnknownOpcode, "expression sub-op 0x%02X", sub)
		}
	}
	if vm.stack.Len() != depth+1 {
		vm.fault(FaultStack, "expression left %d values", vm.stack.Len()-depth)
	}
	vm.writeVar(res, vm.pop())
	return next
}

func v5GetRandomNr(vm *VM, m Mode) Flow {
	res := vm.fetchVarRef()
	vm.writeVar(res, vm.random(vm.param8(m, P1)))
	return next
}

func v5Compare(cond func(a, b int32) bool) Handler {
	return func(vm *VM, m Mode) Flow {
		a := vm.readVar(vm.fetchVarRef())
		b := vm.param16(m, P1)
		vm.jumpUnless(cond(a, b))
		return next
	}
}

func v5Zero(want bool) Handler {
	return func(vm *VM, _ Mode) Flow {
		a := vm.readVar(vm.fetchVarRef())
		vm.jumpUnless((a == 0) == want)
		return next
	}
}

func v5Jump(vm *VM, _ Mode) Flow {
	vm.jumpUnless(false)
	return next
}

func v5StartScript(vm *VM, m Mode) Flow {
	id := vm.param8(m, P1)
	args := vm.varargs()
	vm.spawn(uint16(id), args, scriptFlags(m&P3 != 0, m&P2 != 0))
	return next
}

func v5ChainScript(vm *VM, m Mode) Flow {
	id := vm.param8(m, P1)
	args := vm.varargs()
	s := vm.slots[vm.cur]
	vm.chain(uint16(id), args, scriptFlags(s.FreezeResistant, s.Recursive))
	return next
}

func v5CallScript(vm *VM, m Mode) Flow {
	id := vm.param8(m, P1)
	args := vm.varargs()
	vm.runScript(uint16(id), args, 0)
	return next
}

func v5StopScript(vm *VM, m Mode) Flow {
	id := vm.param8(m, P1)
	if id == 0 {
		vm.stopSelf()
	} else {
		vm.stopScript(uint16(id))
	}
	return next
}

func v5IsScriptRunning(vm *VM, m Mode) Flow {
	res := vm.fetchVarRef()
	vm.writeVar(res, b2i(vm.isScriptRunning(uint16(vm.param8(m, P1)))))
	return next
}

func v5FreezeScripts(vm *VM, m Mode) Flow {
	vm.freezeRequest(vm.param8(m, P1))
	return next
}

func v5StartObject(vm *VM, m Mode) Flow {
	obj := vm.param16(m, P1)
	verb := vm.param8(m, P2)
	args := vm.varargs()
	vm.spawnObject(uint16(obj), uint16(verb), args, 0)
	return next
}

func v5GetParam(vm *VM, m Mode) Flow {
	res := vm.fetchVarRef()
	vm.writeVar(res, vm.param(vm.param8(m, P1)))
	return next
}

func v5Delay(vm *VM, _ Mode) Flow {
	d := int32(vm.fetchByte())
	d |= int32(vm.fetchByte()) << 8
	d |= int32(vm.fetchByte()) << 16
	return vm.pauseFor(d)
}

func v5DelayVariable(vm *VM, _ Mode) Flow {
	return vm.pauseFor(vm.readVar(vm.fetchVarRef()))
}

// v5Wait blocks by re-entering the wait opcode until its condition clears.
func v5Wait(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	m := Mode(sub)
	switch sub & 0x1F {
	case 1:
		if vm.native(NativeActorMoving, vm.param8(m, P1)) != 0 {
			return suspend("actor moving")
		}
	case 2:
		if vm.global(vm.opts.Vars.HaveMsg) != 0 {
			return suspend("message")
		}
	case 3:
		if vm.native(NativeCameraMoving) != 0 {
			return suspend("camera moving")
		}
	case 4:
		if vm.native(NativeSentencePending) != 0 {
			return suspend("sentence")
		}
	default:
		vm.fault(FaultUnknownOpcode, "wait sub-op 0x%02X", sub)
	}
	return next
}

func v5Cutscene(vm *VM, _ Mode) Flow {
	vm.beginCutscene(vm.varargs())
	return next
}

func v5Override(vm *VM, _ Mode) Flow {
	if vm.fetchByte() != 0 {
		vm.beginOverride()
	} else {
		vm.endOverride()
	}
	return next
}

func v5LoadRoom(vm *VM, m Mode) Flow {
	vm.enterRoom(uint16(vm.param8(m, P1)))
	return next
}

func v5ResourceRoutines(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	m := Mode(sub)
	op, kind, ok := resourceAction(int(sub & 0x1F))
	if !ok {
		vm.fault(FaultUnknownOpcode, "resource sub-op 0x%02X", sub)
	}
	switch {
	case op == ResClearHeap:
		vm.resource(op, kind, 0)
	case kind == ResObject:
		room := vm.param8(m, P1)
		obj := vm.param16(m, P2)
		log.Debugf("load object %d from room %d", obj, room)
		vm.resource(op, kind, obj)
	default:
		vm.resource(op, kind, vm.param8(m, P1))
	}
	return next
}

func v5ArrayOps(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	m := Mode(sub)
	switch sub & 0x1F {
	case 1:
		v := vm.fetchVarRef()
		kind := ArrayKind(vm.fetchByte())
		d1 := vm.param16(m, P1)
		d2 := vm.param16(m, P2)
		rows, cols := dim(d1, d2)
		vm.defineArray(v, kind, rows, cols)
	case 2:
		res := vm.fetchVarRef()
		v := vm.fetchVarRef()
		row := vm.param16(m, P1)
		col := vm.param16(m, P2)
		vm.writeVar(res, vm.readArray(v, row, col))
	case 3:
		v := vm.fetchVarRef()
		row := vm.param16(m, P1)
		col := vm.param16(m, P2)
		vm.writeArray(v, row, col, vm.param16(m, P3))
	case 4:
		vm.nukeArray(vm.fetchVarRef())
	default:
		vm.fault(FaultUnknownOpcode, "array sub-op 0x%02X", sub)
	}
	return next
}

func v5Native1(op Native, word bool) Handler {
	return func(vm *VM, m Mode) Flow {
		if word {
			vm.native(op, vm.param16(m, P1))
		} else {
			vm.native(op, vm.param8(m, P1))
		}
		return next
	}
}

// v5Native2 calls op with an actor and a second byte or word operand.
func v5Native2(op Native, byteArg bool) Handler {
	return func(vm *VM, m Mode) Flow {
		a := vm.param8(m, P1)
		var b int32
		if byteArg {
			b = vm.param8(m, P2)
		} else {
			b = vm.param16(m, P2)
		}
		vm.native(op, a, b)
		return next
	}
}

func v5Native3(op Native) Handler {
	return func(vm *VM, m Mode) Flow {
		a := vm.param8(m, P1)
		x := vm.param16(m, P2)
		y := vm.param16(m, P3)
		vm.native(op, a, x, y)
		return next
	}
}

func v5ObjNative(op Native) Handler {
	return func(vm *VM, m Mode) Flow {
		obj := vm.param16(m, P1)
		v := vm.param8(m, P2)
		vm.native(op, obj, v)
		return next
	}
}

func v5Query(op Native, word bool) Handler {
	return func(vm *VM, m Mode) Flow {
		res := vm.fetchVarRef()
		var a int32
		if word {
			a = vm.param16(m, P1)
		} else {
			a = vm.param8(m, P1)
		}
		vm.writeVar(res, vm.native(op, a))
		return next
	}
}

func v5Print(vm *VM, m Mode) Flow {
	actor := vm.param8(m, P1)
	vm.nativeText(NativePrint, vm.text(), actor)
	return next
}
