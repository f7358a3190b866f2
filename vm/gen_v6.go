package vm

import "sync"

// ---------------------------------------------------------------------------
// Generation v6: stack style. Operands travel on the value stack.
// ---------------------------------------------------------------------------

const v6Locals = 16

var (
	v6Once  sync.Once
	v6Table *table
)

// V6 returns the stack-style instruction set. Bytes 0xF0..0xFF are
// reserved.
func V6() OpcodeTable {
	v6Once.Do(func() {
		v6Table = newTable("v6", v6Locals, false, func(b byte) bool { return b >= 0xF0 }, v6Operations())
	})
	return v6Table
}

var (
	argByteVar = Arg{Kind: ArgByteVar, Name: "var"}
	argWordVar = Arg{Kind: ArgVar, Name: "var"}
	argArray   = Arg{Kind: ArgVar, Name: "array"}
)

func v6Operations() []*Operation {
	ops := []*Operation{
		{Name: "pushByte", Base: 0x00, Args: []Arg{{Kind: ArgByte, Name: "value"}}, Exec: func(vm *VM, _ Mode) Flow { vm.push(int32(vm.fetchByte())); return next }},
		{Name: "pushWord", Base: 0x01, Args: []Arg{{Kind: ArgWord, Name: "value"}}, Exec: func(vm *VM, _ Mode) Flow { vm.push(vm.fetchWord()); return next }},
		{Name: "pushByteVar", Base: 0x02, Args: []Arg{argByteVar}, Exec: func(vm *VM, _ Mode) Flow { vm.push(vm.readVar(uint16(vm.fetchByte()))); return next }},
		{Name: "pushWordVar", Base: 0x03, Args: []Arg{argWordVar}, Exec: func(vm *VM, _ Mode) Flow { vm.push(vm.readVar(vm.fetchUWord())); return next }},
		{Name: "writeByteVar", Base: 0x42, Args: []Arg{argByteVar}, Exec: func(vm *VM, _ Mode) Flow { vm.writeVar(uint16(vm.fetchByte()), vm.pop()); return next }},
		{Name: "writeWordVar", Base: 0x43, Args: []Arg{argWordVar}, Exec: func(vm *VM, _ Mode) Flow { vm.writeVar(vm.fetchUWord(), vm.pop()); return next }},
		{Name: "byteVarInc", Base: 0x4E, Args: []Arg{argByteVar}, Exec: v6VarStep(false, 1)},
		{Name: "wordVarInc", Base: 0x4F, Args: []Arg{argWordVar}, Exec: v6VarStep(true, 1)},
		{Name: "byteVarDec", Base: 0x56, Args: []Arg{argByteVar}, Exec: v6VarStep(false, -1)},
		{Name: "wordVarDec", Base: 0x57, Args: []Arg{argWordVar}, Exec: v6VarStep(true, -1)},

		{Name: "byteArrayRead", Base: 0x06, Args: []Arg{argByteVar}, Exec: v6ArrayRead(false, false)},
		{Name: "wordArrayRead", Base: 0x07, Args: []Arg{argWordVar}, Exec: v6ArrayRead(true, false)},
		{Name: "byteArrayIndexedRead", Base: 0x0A, Args: []Arg{argByteVar}, Exec: v6ArrayRead(false, true)},
		{Name: "wordArrayIndexedRead", Base: 0x0B, Args: []Arg{argWordVar}, Exec: v6ArrayRead(true, true)},
		{Name: "byteArrayWrite", Base: 0x46, Args: []Arg{argByteVar}, Exec: v6ArrayWrite(false, false)},
		{Name: "wordArrayWrite", Base: 0x47, Args: []Arg{argWordVar}, Exec: v6ArrayWrite(true, false)},
		{Name: "byteArrayIndexedWrite", Base: 0x4A, Args: []Arg{argByteVar}, Exec: v6ArrayWrite(false, true)},
		{Name: "wordArrayIndexedWrite", Base: 0x4B, Args: []Arg{argWordVar}, Exec: v6ArrayWrite(true, true)},
		{Name: "byteArrayInc", Base: 0x52, Args: []Arg{argByteVar}, Exec: v6ArrayStep(false, 1)},
		{Name: "wordArrayInc", Base: 0x53, Args: []Arg{argWordVar}, Exec: v6ArrayStep(true, 1)},
		{Name: "byteArrayDec", Base: 0x5A, Args: []Arg{argByteVar}, Exec: v6ArrayStep(false, -1)},
		{Name: "wordArrayDec", Base: 0x5B, Args: []Arg{argWordVar}, Exec: v6ArrayStep(true, -1)},
		{Name: "dimArray", Base: 0xBC, Subs: []SubOp{
			{Code: 0xC7, Name: "int", Args: []Arg{argArray}},
			{Code: 0xC8, Name: "bit", Args: []Arg{argArray}},
			{Code: 0xC9, Name: "nibble", Args: []Arg{argArray}},
			{Code: 0xCA, Name: "byte", Args: []Arg{argArray}},
			{Code: 0xCB, Name: "string", Args: []Arg{argArray}},
			{Code: 0xCC, Name: "nuke", Args: []Arg{argArray}},
		}, Exec: v6DimArray},
		{Name: "dim2dimArray", Base: 0xC0, Subs: []SubOp{
			{Code: 0xC7, Name: "int", Args: []Arg{argArray}},
			{Code: 0xC8, Name: "bit", Args: []Arg{argArray}},
			{Code: 0xC9, Name: "nibble", Args: []Arg{argArray}},
			{Code: 0xCA, Name: "byte", Args: []Arg{argArray}},
			{Code: 0xCB, Name: "string", Args: []Arg{argArray}},
		}, Exec: v6Dim2DimArray},
		{Name: "arrayOps", Base: 0xA4, Subs: []SubOp{
			{Code: 0xCD, Name: "assignString", Args: []Arg{argArray, {Kind: ArgText, Name: "text"}}},
			{Code: 0xD0, Name: "assignList", Args: []Arg{argArray}},
			{Code: 0xD4, Name: "assign2DList", Args: []Arg{argArray}},
		}, Exec: v6ArrayOps},

		{Name: "dup", Base: 0x0C, Exec: func(vm *VM, _ Mode) Flow { a := vm.pop(); vm.push(a); vm.push(a); return next }},
		{Name: "not", Base: 0x0D, Exec: func(vm *VM, _ Mode) Flow { vm.push(b2i(vm.pop() == 0)); return next }},
		{Name: "eq", Base: 0x0E, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a == b) })},
		{Name: "neq", Base: 0x0F, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a != b) })},
		{Name: "gt", Base: 0x10, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a > b) })},
		{Name: "lt", Base: 0x11, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a < b) })},
		{Name: "le", Base: 0x12, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a <= b) })},
		{Name: "ge", Base: 0x13, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a >= b) })},
		{Name: "add", Base: 0x14, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return a + b })},
		{Name: "sub", Base: 0x15, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return a - b })},
		{Name: "mul", Base: 0x16, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return a * b })},
		{Name: "div", Base: 0x17, Exec: v6Binary(divide)},
		{Name: "land", Base: 0x18, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a != 0 && b != 0) })},
		{Name: "lor", Base: 0x19, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return b2i(a != 0 || b != 0) })},
		{Name: "band", Base: 0xD6, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return a & b })},
		{Name: "bor", Base: 0xD7, Exec: v6Binary(func(_ *VM, a, b int32) int32 { return a | b })},
		{Name: "pop", Base: 0x1A, Also: []byte{0xA7}, Exec: func(vm *VM, _ Mode) Flow { vm.pop(); return next }},
		{Name: "abs", Base: 0xC4, Exec: func(vm *VM, _ Mode) Flow { a := vm.pop(); vm.push(max(a, -a)); return next }},
		{Name: "getRandomNumber", Base: 0x87, Exec: func(vm *VM, _ Mode) Flow { vm.push(vm.random(vm.pop())); return next }},
		{Name: "getRandomNumberRange", Base: 0x88, Exec: func(vm *VM, _ Mode) Flow {
			hi := vm.pop()
			lo := vm.pop()
			vm.push(lo + vm.random(hi-lo))
			return next
		}},
		{Name: "isAnyOf", Base: 0xAD, Exec: v6IsAnyOf},
		{Name: "pickOneOf", Base: 0xCB, Exec: v6PickOneOf},
		{Name: "pickOneOfDefault", Base: 0xCC, Exec: v6PickOneOfDefault},

		{Name: "if", Base: 0x5C, Args: []Arg{argJump}, Exec: func(vm *VM, _ Mode) Flow { vm.jumpUnless(!vm.popBool()); return next }},
		{Name: "ifNot", Base: 0x5D, Args: []Arg{argJump}, Exec: func(vm *VM, _ Mode) Flow { vm.jumpUnless(vm.popBool()); return next }},
		{Name: "jump", Base: 0x73, Args: []Arg{argJump}, Exec: func(vm *VM, _ Mode) Flow { vm.jumpUnless(false); return next }},

		{Name: "startScript", Base: 0x5E, Exec: v6StartScript},
		{Name: "startScriptQuick", Base: 0x5F, Exec: v6StartScriptQuick},
		{Name: "startObject", Base: 0x60, Exec: v6StartObject},
		{Name: "startObjectQuick", Base: 0xBE, Exec: v6StartObjectQuick},
		{Name: "callScript", Base: 0xBF, Exec: v6CallScript},
		{Name: "jumpToScript", Base: 0xD5, Exec: v6JumpToScript},
		{Name: "stopObjectCode", Base: 0x65, Also: []byte{0x66}, Exec: opStopObjectCode},
		{Name: "stopScript", Base: 0x7C, Exec: v6StopScript},
		{Name: "stopObjectScript", Base: 0x77, Exec: func(vm *VM, _ Mode) Flow { vm.stopObjectScript(uint16(vm.pop())); return next }},
		{Name: "isScriptRunning", Base: 0x8B, Exec: func(vm *VM, _ Mode) Flow { vm.push(b2i(vm.isScriptRunning(uint16(vm.pop())))); return next }},
		{Name: "isRoomScriptRunning", Base: 0xD8, Exec: func(vm *VM, _ Mode) Flow { vm.push(b2i(vm.isRoomScriptRunning(uint16(vm.pop())))); return next }},
		{Name: "getParam", Base: 0xBD, Exec: func(vm *VM, _ Mode) Flow { vm.push(vm.param(vm.pop())); return next }},
		{Name: "freezeUnfreeze", Base: 0x6A, Exec: func(vm *VM, _ Mode) Flow { vm.freezeRequest(vm.pop()); return next }},
		{Name: "breakHere", Base: 0x6C, Exec: opBreakHere},
		{Name: "delay", Base: 0xB0, Exec: func(vm *VM, _ Mode) Flow { return vm.pauseFor(vm.pop()) }},
		{Name: "delaySeconds", Base: 0xB1, Exec: func(vm *VM, _ Mode) Flow { return vm.pauseFor(vm.pop() * 60) }},
		{Name: "delayMinutes", Base: 0xB2, Exec: func(vm *VM, _ Mode) Flow { return vm.pauseFor(vm.pop() * 3600) }},
		{Name: "wait", Base: 0xA9, Subs: []SubOp{
			{Code: 0xA8, Name: "actor", Args: []Arg{{Kind: ArgJump, Name: "retry"}}},
			{Code: 0xA9, Name: "message"},
			{Code: 0xAA, Name: "camera"},
			{Code: 0xAB, Name: "sentence"},
		}, Exec: v6Wait},
		{Name: "cutscene", Base: 0x68, Exec: func(vm *VM, _ Mode) Flow { vm.beginCutscene(vm.popList()); return next }},
		{Name: "endCutscene", Base: 0x67, Exec: opEndCutscene},
		{Name: "beginOverride", Base: 0x95, Exec: opBeginOverride},
		{Name: "endOverride", Base: 0x96, Exec: opEndOverride},
		{Name: "loadRoom", Base: 0x7B, Exec: func(vm *VM, _ Mode) Flow { vm.enterRoom(uint16(vm.pop())); return next }},
		{Name: "resourceRoutines", Base: 0x9B, Subs: v6ResourceSubs(), Exec: v6ResourceRoutines},

		{Name: "startSound", Base: 0x74, Exec: v6Native(NativeStartSound, 1, false)},
		{Name: "stopSound", Base: 0x75, Exec: v6Native(NativeStopSound, 1, false)},
		{Name: "startMusic", Base: 0x76, Exec: v6Native(NativeStartMusic, 1, false)},
		{Name: "stopMusic", Base: 0x69, Exec: v6Native(NativeStopMusic, 0, false)},
		{Name: "isSoundRunning", Base: 0x98, Exec: v6Native(NativeIsSoundRunning, 1, true)},
		{Name: "putActorAtXY", Base: 0x7F, Exec: v6Native(NativePutActor, 4, false)},
		{Name: "walkActorTo", Base: 0x7E, Exec: v6Native(NativeWalkActor, 3, false)},
		{Name: "animateActor", Base: 0x82, Exec: v6Native(NativeAnimateActor, 2, false)},
		{Name: "faceActor", Base: 0x81, Exec: v6Native(NativeFaceActor, 2, false)},
		{Name: "getActorMoving", Base: 0x8A, Exec: v6Native(NativeActorMoving, 1, true)},
		{Name: "getActorRoom", Base: 0x8C, Exec: v6Native(NativeActorRoom, 1, true)},
		{Name: "getState", Base: 0x6F, Exec: v6Native(NativeGetState, 1, true)},
		{Name: "setState", Base: 0x70, Exec: v6Native(NativeSetState, 2, false)},
		{Name: "setOwner", Base: 0x71, Exec: v6Native(NativeSetOwner, 2, false)},
		{Name: "getOwner", Base: 0x72, Exec: v6Native(NativeGetOwner, 1, true)},
		{Name: "panCameraTo", Base: 0x78, Exec: v6Native(NativePanCamera, 1, false)},
		{Name: "setCameraAt", Base: 0x7A, Exec: v6Native(NativeSetCamera, 1, false)},
		{Name: "printDebug", Base: 0xB6, Args: []Arg{{Kind: ArgText, Name: "text"}}, Exec: func(vm *VM, _ Mode) Flow {
			vm.nativeText(NativeDebug, vm.text())
			return next
		}},
		{Name: "systemOps", Base: 0xAE, Args: []Arg{{Kind: ArgByte, Name: "op"}}, Exec: func(vm *VM, _ Mode) Flow {
			vm.native(NativeSystem, int32(vm.fetchByte()))
			return next
		}},
	}
	return ops
}

// v6ResourceSubs numbers the resource sub-ops from 100.
func v6ResourceSubs() []SubOp {
	subs := make([]SubOp, len(resourceNames))
	for i, name := range resourceNames {
		subs[i] = SubOp{Code: byte(100 + i), Name: name}
	}
	return subs
}

// varOperand reads a byte or word variable number.
func (vm *VM) varOperand(word bool) uint16 {
	if word {
		return vm.fetchUWord()
	}
	return uint16(vm.fetchByte())
}

func v6VarStep(word bool, d int32) Handler {
	return func(vm *VM, _ Mode) Flow {
		v := vm.varOperand(word)
		vm.writeVar(v, vm.readVar(v)+d)
		return next
	}
}

func v6ArrayRead(word, indexed bool) Handler {
	return func(vm *VM, _ Mode) Flow {
		v := vm.varOperand(word)
		col := vm.pop()
		var row int32
		if indexed {
			row = vm.pop()
		}
		vm.push(vm.readArray(v, row, col))
		return next
	}
}

func v6ArrayWrite(word, indexed bool) Handler {
	return func(vm *VM, _ Mode) Flow {
		v := vm.varOperand(word)
		val := vm.pop()
		col := vm.pop()
		var row int32
		if indexed {
			row = vm.pop()
		}
		vm.writeArray(v, row, col, val)
		return next
	}
}

func v6ArrayStep(word bool, d int32) Handler {
	return func(vm *VM, _ Mode) Flow {
		v := vm.varOperand(word)
		col := vm.pop()
		vm.writeArray(v, 0, col, vm.readArray(v, 0, col)+d)
		return next
	}
}

var v6ArrayKinds = map[byte]ArrayKind{
	0xC7: ArrayWord,
	0xC8: ArrayByte,
	0xC9: ArrayNibble,
	0xCA: ArrayByte,
	0xCB: ArrayString,
}

func v6DimArray(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	v := vm.fetchUWord()
	if sub == 0xCC {
		vm.nukeArray(v)
		return next
	}
	kind, ok := v6ArrayKinds[sub]
	if !ok {
		vm.fault(FaultUnknownOpcode, "dimArray sub-op 0x%02X", sub)
	}
	rows, cols := dim(vm.pop(), 0)
	vm.defineArray(v, kind, rows, cols)
	return next
}

func v6Dim2DimArray(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	v := vm.fetchUWord()
	kind, ok := v6ArrayKinds[sub]
	if !ok {
		vm.fault(FaultUnknownOpcode, "dim2dimArray sub-op 0x%02X", sub)
	}
	dim1 := vm.pop()
	dim2 := vm.pop()
	rows, cols := dim(dim1, dim2)
	vm.defineArray(v, kind, rows, cols)
	return next
}

func v6ArrayOps(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	v := vm.fetchUWord()
	switch sub {
	case 0xCD:
		text := vm.text()
		vm.writeText(v, vm.pop(), text)
	case 0xD0:
		base := vm.pop()
		n := vm.pop()
		if _, defined := vm.arrays.Get(vm.readVar(v)); !defined {
			vm.defineArray(v, ArrayWord, Bounds{0, 0}, Span(base+n))
		}
		for n > 0 {
			n--
			vm.writeArray(v, 0, base+n, vm.pop())
		}
	case 0xD4:
		base := vm.pop()
		list := vm.popList()
		if _, defined := vm.arrays.Get(vm.readVar(v)); !defined {
			vm.fault(FaultArrayRange, "2-D list assigned to undefined array in variable %d", v)
		}
		row := vm.pop()
		for i := len(list) - 1; i >= 0; i-- {
			vm.writeArray(v, row, base+int32(i), list[i])
		}
	default:
		vm.fault(FaultUnknownOpcode, "arrayOps sub-op 0x%02X", sub)
	}
	return next
}

func v6Binary(f func(vm *VM, a, b int32) int32) Handler {
	return func(vm *VM, _ Mode) Flow {
		b := vm.pop()
		a := vm.pop()
		vm.push(f(vm, a, b))
		return next
	}
}

func v6IsAnyOf(vm *VM, _ Mode) Flow {
	list := vm.popList()
	v := vm.pop()
	for _, x := range list {
		if x == v {
			vm.push(1)
			return next
		}
	}
	vm.push(0)
	return next
}

func v6PickOneOf(vm *VM, _ Mode) Flow {
	list := vm.popList()
	i := vm.pop()
	if i < 0 || int(i) >= len(list) {
		vm.fault(FaultArgs, "pickOneOf: %d out of range (0, %d)", i, len(list)-1)
	}
	vm.push(list[i])
	return next
}

func v6PickOneOfDefault(vm *VM, _ Mode) Flow {
	def := vm.pop()
	list := vm.popList()
	i := vm.pop()
	if i < 0 || int(i) >= len(list) {
		vm.push(def)
	} else {
		vm.push(list[i])
	}
	return next
}

func v6StartScript(vm *VM, _ Mode) Flow {
	args := vm.popList()
	id := vm.pop()
	flags := vm.pop()
	vm.spawn(uint16(id), args, scriptFlags(flags&1 != 0, flags&2 != 0))
	return next
}

func v6StartScriptQuick(vm *VM, _ Mode) Flow {
	args := vm.popList()
	vm.spawn(uint16(vm.pop()), args, 0)
	return next
}

func v6CallScript(vm *VM, _ Mode) Flow {
	args := vm.popList()
	vm.runScript(uint16(vm.pop()), args, 0)
	return next
}

func v6JumpToScript(vm *VM, _ Mode) Flow {
	args := vm.popList()
	id := vm.pop()
	flags := vm.pop()
	vm.chain(uint16(id), args, scriptFlags(flags&1 != 0, flags&2 != 0))
	return next
}

func v6StartObject(vm *VM, _ Mode) Flow {
	args := vm.popList()
	verb := vm.pop()
	obj := vm.pop()
	flags := vm.pop()
	vm.spawnObject(uint16(obj), uint16(verb), args, scriptFlags(flags&1 != 0, flags&2 != 0))
	return next
}

func v6StartObjectQuick(vm *VM, _ Mode) Flow {
	args := vm.popList()
	verb := vm.pop()
	obj := vm.pop()
	vm.spawnObject(uint16(obj), uint16(verb), args, 0)
	return next
}

func v6StopScript(vm *VM, _ Mode) Flow {
	if id := vm.pop(); id == 0 {
		vm.stopSelf()
	} else {
		vm.stopScript(uint16(id))
	}
	return next
}

// v6Wait re-enters the wait opcode until its condition clears. The actor
// form jumps back to a script-chosen retry point instead.
func v6Wait(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	switch sub {
	case 0xA8:
		off := vm.fetchWord()
		actor := vm.pop()
		if vm.native(NativeActorMoving, actor) != 0 {
			retry := int64(vm.slots[vm.cur].Offset) + int64(off)
			if retry < 0 {
				vm.fault(FaultCodeRange, "wait retry offset %d", retry)
			}
			return suspendAt("actor moving", uint32(retry))
		}
	case 0xA9:
		if vm.global(vm.opts.Vars.HaveMsg) != 0 {
			return suspend("message")
		}
	case 0xAA:
		if vm.native(NativeCameraMoving) != 0 {
			return suspend("camera moving")
		}
	case 0xAB:
		if vm.native(NativeSentencePending) != 0 {
			return suspend("sentence")
		}
	default:
		vm.fault(FaultUnknownOpcode, "wait sub-op 0x%02X", sub)
	}
	return next
}

func v6ResourceRoutines(vm *VM, _ Mode) Flow {
	sub := vm.fetchByte()
	op, kind, ok := resourceAction(int(sub) - 99)
	if !ok {
		vm.fault(FaultUnknownOpcode, "resource sub-op %d", sub)
	}
	switch {
	case op == ResClearHeap:
		vm.resource(op, kind, 0)
	case kind == ResObject:
		obj := vm.pop()
		room := vm.pop()
		log.Debugf("load object %d from room %d", obj, room)
		vm.resource(op, kind, obj)
	default:
		vm.resource(op, kind, vm.pop())
	}
	return next
}

// v6Native pops n arguments (last argument on top) and calls op, pushing
// the result when the operation produces one.
func v6Native(op Native, n int, result bool) Handler {
	return func(vm *VM, _ Mode) Flow {
		args := make([]int32, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		v := vm.native(op, args...)
		if result {
			vm.push(v)
		}
		return next
	}
}
