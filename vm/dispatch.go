package vm

import (
	"fmt"
	"sort"
)

// Mode holds the operand-addressing bits taken from an opcode (or sub-op)
// byte. A set parameter bit means "variable" instead of "immediate".
type Mode byte

// Parameter mode bits, assigned to operands in order.
const (
	P1 Mode = 0x80
	P2 Mode = 0x40
	P3 Mode = 0x20
)

// FlowKind tells the dispatch loop what to do after a handler.
type FlowKind uint8

const (
	FlowNext FlowKind = iota
	FlowYield
	FlowSuspend
)

// Flow is the result of one opcode handler.
type Flow struct {
	Kind   FlowKind
	Reason string
	// Resume is the offset execution continues at after a suspend; a
	// negative value means the first byte of the suspending opcode.
	Resume int64
}

var (
	next  = Flow{Kind: FlowNext}
	yield = Flow{Kind: FlowYield}
)

// suspend retries the current opcode on the next tick.
func suspend(reason string) Flow {
	return Flow{Kind: FlowSuspend, Reason: reason, Resume: -1}
}

// suspendAt yields and continues at an explicit offset on the next tick.
func suspendAt(reason string, offset uint32) Flow {
	return Flow{Kind: FlowSuspend, Reason: reason, Resume: int64(offset)}
}

// Handler executes one decoded operation.
type Handler func(vm *VM, m Mode) Flow

// ArgKind describes how one operand is encoded. The layouts are used by
// the disassembler and the assembler; handlers fetch their own operands.
type ArgKind uint8

const (
	ArgByte    ArgKind = iota + 1 // raw byte
	ArgWord                       // raw signed word
	ArgDelay                      // 24-bit little-endian count
	ArgVar                        // variable number (word)
	ArgByteVar                    // variable number stored in one byte
	ArgP8                         // byte, or variable when the mode bit is set
	ArgP16                        // word, or variable when the mode bit is set
	ArgJump                       // relative signed word
	ArgList                       // mode-prefixed word list ending in 0xFF
	ArgText                       // zero-terminated bytes
	ArgExpr                       // expression sub-op stream ending in 0xFF
)

// Arg is one operand of an operation layout.
type Arg struct {
	Kind ArgKind
	Bit  Mode
	Name string
}

// Flag names an opcode mode bit that is a modifier rather than an
// operand.
type Flag struct {
	Bit  Mode
	Name string
}

// SubOp is one variant of an operation selected by a sub-op byte.
type SubOp struct {
	Code byte
	Name string
	Args []Arg
}

// Operation is one entry of an instruction set.
type Operation struct {
	Name string
	Base byte
	// Mask selects the bits of the opcode byte that carry operand modes.
	// Every combination of Base with a subset of Mask decodes to this
	// operation.
	Mask  Mode
	Also  []byte
	Args  []Arg
	Flags []Flag
	// Subs lists the sub-operations when the first operand is a sub-op
	// byte. SubMask selects the bits of that byte naming the sub-op; the
	// remaining bits are its operand modes.
	Subs    []SubOp
	SubMask byte
	Exec    Handler
}

// Sub returns the sub-operation for a sub-op byte.
func (op *Operation) Sub(b byte) (*SubOp, bool) {
	code := b
	if op.SubMask != 0 {
		code = b & op.SubMask
	}
	for i := range op.Subs {
		if op.Subs[i].Code == code {
			return &op.Subs[i], true
		}
	}
	return nil, false
}

// SubNamed returns the sub-operation with the given name.
func (op *Operation) SubNamed(name string) (*SubOp, bool) {
	for i := range op.Subs {
		if op.Subs[i].Name == name {
			return &op.Subs[i], true
		}
	}
	return nil, false
}

// OpcodeTable is one instruction-set generation. A session selects its
// table once and never mixes generations.
type OpcodeTable interface {
	Name() string
	// Locals is the number of local variables per slot.
	Locals() int
	// Indirect reports whether variable numbers may carry the
	// indirection tag.
	Indirect() bool
	// Decode splits an opcode byte into its operation and operand modes.
	Decode(b byte) (*Operation, Mode, error)
	// Lookup finds an operation by name.
	Lookup(name string) (*Operation, bool)
	Operations() []*Operation
}

// table is the OpcodeTable implementation shared by all generations.
type table struct {
	name     string
	locals   int
	indirect bool
	ops      [256]*Operation
	byName   map[string]*Operation
	reserved func(b byte) bool
}

// newTable expands every operation over its mode bits. Two operations
// claiming the same byte is a programming error.
func newTable(name string, locals int, indirect bool, reserved func(byte) bool, ops []*Operation) *table {
	t := &table{name: name, locals: locals, indirect: indirect, reserved: reserved, byName: make(map[string]*Operation)}
	for _, op := range ops {
		if _, dup := t.byName[op.Name]; dup {
			panic(fmt.Sprintf("%s: duplicate operation %s", name, op.Name))
		}
		t.byName[op.Name] = op
		bases := append([]byte{op.Base}, op.Also...)
		for _, base := range bases {
			for m := 0; m < 256; m++ {
				if Mode(m)&^op.Mask != 0 {
					continue
				}
				b := base | byte(m)
				if prev := t.ops[b]; prev != nil {
					panic(fmt.Sprintf("%s: opcode 0x%02X claimed by %s and %s", name, b, prev.Name, op.Name))
				}
				if reserved != nil && reserved(b) {
					panic(fmt.Sprintf("%s: opcode 0x%02X of %s is reserved", name, b, op.Name))
				}
				t.ops[b] = op
			}
		}
	}
	return t
}

func (t *table) Name() string   { return t.name }
func (t *table) Locals() int    { return t.locals }
func (t *table) Indirect() bool { return t.indirect }

func (t *table) Decode(b byte) (*Operation, Mode, error) {
	if t.reserved != nil && t.reserved(b) {
		return nil, 0, fmt.Errorf("%w 0x%02X", ErrReservedOpcode, b)
	}
	op := t.ops[b]
	if op == nil {
		return nil, 0, fmt.Errorf("%w 0x%02X", ErrUnknownOpcode, b)
	}
	return op, Mode(b) & op.Mask, nil
}

func (t *table) Lookup(name string) (*Operation, bool) {
	op, ok := t.byName[name]
	return op, ok
}

func (t *table) Operations() []*Operation {
	out := make([]*Operation, 0, len(t.byName))
	for _, op := range t.byName {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// Table returns the instruction set registered under name ("v5", "v6").
func Table(name string) (OpcodeTable, error) {
	switch name {
	case "v5":
		return V5(), nil
	case "v6":
		return V6(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownGeneration, name)
}

// execute runs the current slot until it yields, blocks or dies, or until
// control leaves it.
func (vm *VM) execute() {
	for vm.cur != NoSlot {
		s := &vm.slots[vm.cur]
		if s.Status != SlotRunnable || s.Freeze > 0 {
			return
		}
		if vm.skipPending {
			vm.unwindSkip()
		}
		cur := vm.cur
		vm.opStart = s.Offset
		vm.opcode = vm.fetchByte()
		flow := vm.dispatch(vm.opcode)
		if vm.cur != cur {
			// Control moved to another chain, which already finished.
			continue
		}
		s = &vm.slots[cur]
		switch flow.Kind {
		case FlowYield:
			return
		case FlowSuspend:
			if flow.Resume < 0 {
				s.Offset = vm.opStart
			} else {
				s.Offset = uint32(flow.Resume)
			}
			if log.AllowLevel(levelDebug) {
				log.Debugf("script %d suspended: %s", s.Number, flow.Reason)
			}
			return
		}
	}
}

// dispatch decodes and runs one opcode byte.
func (vm *VM) dispatch(b byte) Flow {
	op, m, err := vm.table.Decode(b)
	if err != nil {
		vm.check(err, FaultUnknownOpcode)
	}
	if vm.prof != nil {
		s := &vm.slots[vm.cur]
		vm.prof.Record(b, op.Name, s.Origin, s.Number)
	}
	if log.AllowLevel(levelDebug) {
		log.Debugf("[%d:%d] %04X %s", vm.cur, vm.slots[vm.cur].Number, vm.opStart, op.Name)
	}
	return op.Exec(vm, m)
}
