package vm

// codeCache is the VM's view of the code blob of the running slot. It is
// revalidated against the provider's generation before every fetch.
type codeCache struct {
	valid bool
	slot  int
	key   CodeKey
	blob  CodeBlob
}

func (vm *VM) invalidateCode() { vm.code.valid = false }

// resolve makes sure the cached blob belongs to the running slot and is
// still the provider's current copy.
func (vm *VM) resolve() {
	key := vm.slots[vm.cur].key()
	c := &vm.code
	if c.valid && c.slot == vm.cur && c.key == key && vm.res.Generation(key) == c.blob.Gen {
		return
	}
	blob, err := vm.res.Code(key)
	if err != nil {
		if key.Origin == OriginLocal {
			vm.fault(FaultNoRoomScripts, "%s: %v", key, err)
		}
		vm.check(err, FaultResource)
	}
	*c = codeCache{valid: true, slot: vm.cur, key: key, blob: blob}
	vm.reloads++
}

func (vm *VM) fetchByte() byte {
	vm.resolve()
	s := &vm.slots[vm.cur]
	pos := int(vm.code.blob.Base) + int(s.Offset)
	if pos >= len(vm.code.blob.Bytes) {
		vm.fault(FaultCodeRange, "offset 0x%04X beyond %d bytes of %s", s.Offset, len(vm.code.blob.Bytes), vm.code.key)
	}
	s.Offset++
	return vm.code.blob.Bytes[pos]
}

// fetchUWord reads a little-endian 16-bit word.
func (vm *VM) fetchUWord() uint16 {
	lo := vm.fetchByte()
	hi := vm.fetchByte()
	return uint16(lo) | uint16(hi)<<8
}

// fetchWord reads a signed little-endian 16-bit word.
func (vm *VM) fetchWord() int32 { return int32(int16(vm.fetchUWord())) }

// fetchVarRef reads a variable number, resolving one level of indirection
// when the active generation supports it.
func (vm *VM) fetchVarRef() uint16 {
	n := vm.fetchUWord()
	if !vm.table.Indirect() || n&VarIndirect == 0 {
		return n
	}
	a := vm.fetchUWord()
	var offset int32
	if a&VarIndirect != 0 {
		offset = vm.readVar(a &^ VarIndirect)
	} else {
		offset = int32(a & 0x0FFF)
	}
	final := int32(n&^VarIndirect) + offset
	if final < 0 || final > 0xFFFF || uint16(final)&VarIndirect != 0 && uint16(final)&(VarBit|VarLocal) == 0 {
		vm.fault(FaultVarRange, "indirect variable 0x%04X+%d resolves to 0x%X", n, offset, final)
	}
	return uint16(final)
}

func (vm *VM) readVar(n uint16) int32 {
	v, err := vm.vars.Read(n, vm.cur)
	vm.check(err, FaultVarRange)
	return v
}

func (vm *VM) writeVar(n uint16, v int32) {
	vm.check(vm.vars.Write(n, vm.cur, v), FaultVarRange)
}

func (vm *VM) global(n uint16) int32 {
	v, err := vm.vars.Read(n, NoSlot)
	vm.check(err, FaultVarRange)
	return v
}

func (vm *VM) setGlobal(n uint16, v int32) {
	vm.check(vm.vars.Write(n, NoSlot, v), FaultVarRange)
}

// param8 reads a byte operand, or a variable when bit is set in m.
func (vm *VM) param8(m, bit Mode) int32 {
	if m&bit != 0 {
		return vm.readVar(vm.fetchVarRef())
	}
	return int32(vm.fetchByte())
}

// param16 reads a signed word operand, or a variable when bit is set in m.
func (vm *VM) param16(m, bit Mode) int32 {
	if m&bit != 0 {
		return vm.readVar(vm.fetchVarRef())
	}
	return vm.fetchWord()
}

// varargs reads a mode-prefixed word list terminated by 0xFF.
func (vm *VM) varargs() []int32 {
	buf := vm.argBuf()
	n := 0
	for {
		m := vm.fetchByte()
		if m == 0xFF {
			return buf[:n]
		}
		if n == len(buf) {
			vm.fault(FaultArgs, "more than %d arguments", len(buf))
		}
		buf[n] = vm.param16(Mode(m), P1)
		n++
	}
}

// text reads a zero-terminated string.
func (vm *VM) text() []byte {
	var out []byte
	for {
		b := vm.fetchByte()
		if b == 0 {
			return out
		}
		out = append(out, b)
	}
}

// jumpUnless consumes a relative jump word and takes it when cond is false.
func (vm *VM) jumpUnless(cond bool) {
	off := vm.fetchWord()
	if !cond {
		vm.jump(off)
	}
}

func (vm *VM) jump(off int32) {
	s := &vm.slots[vm.cur]
	target := int64(s.Offset) + int64(off)
	if target < 0 {
		vm.fault(FaultCodeRange, "jump to %d", target)
	}
	s.Offset = uint32(target)
}
