package vm

import (
	"errors"
	"fmt"
)

// FaultKind classifies a session-ending fault.
type FaultKind uint8

const (
	FaultUnknownOpcode FaultKind = iota + 1
	FaultReservedOpcode
	FaultVarRange
	FaultArrayRange
	FaultDivideByZero
	FaultSlotsExhausted
	FaultStopInOverride
	FaultNoRoomScripts
	FaultStack
	FaultArgs
	FaultCodeRange
	FaultNesting
	FaultCutsceneStack
	FaultNative
	FaultResource
)

var (
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrReservedOpcode    = errors.New("reserved opcode")
	ErrVarRange          = errors.New("variable out of range")
	ErrArrayRange        = errors.New("array access out of range")
	ErrDivideByZero      = errors.New("division by zero")
	ErrSlotsExhausted    = errors.New("script slots exhausted")
	ErrStopInOverride    = errors.New("stopping script with open cutscene/override")
	ErrNoRoomScripts     = errors.New("room has no local scripts")
	ErrStack             = errors.New("value stack fault")
	ErrArgs              = errors.New("argument list fault")
	ErrCodeRange         = errors.New("code offset out of range")
	ErrNesting           = errors.New("nested call depth exceeded")
	ErrCutsceneStack     = errors.New("cutscene stack fault")
	ErrNative            = errors.New("native call failed")
	ErrResource          = errors.New("resource provider failed")
	ErrUndefinedArray    = errors.New("undefined array")
	ErrBetweenTicks      = errors.New("operation only allowed between ticks")
	ErrIncompatible      = errors.New("incompatible machine state")
	ErrUnknownGeneration = errors.New("unknown instruction-set generation")
)

var kindErrors = map[FaultKind]error{
	FaultUnknownOpcode:  ErrUnknownOpcode,
	FaultReservedOpcode: ErrReservedOpcode,
	FaultVarRange:       ErrVarRange,
	FaultArrayRange:     ErrArrayRange,
	FaultDivideByZero:   ErrDivideByZero,
	FaultSlotsExhausted: ErrSlotsExhausted,
	FaultStopInOverride: ErrStopInOverride,
	FaultNoRoomScripts:  ErrNoRoomScripts,
	FaultStack:          ErrStack,
	FaultArgs:           ErrArgs,
	FaultCodeRange:      ErrCodeRange,
	FaultNesting:        ErrNesting,
	FaultCutsceneStack:  ErrCutsceneStack,
	FaultNative:         ErrNative,
	FaultResource:       ErrResource,
}

// String returns the name of the fault class.
func (k FaultKind) String() string {
	if err, ok := kindErrors[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("fault(%d)", uint8(k))
}

// Fault is a session-ending error raised while a script was executing.
// It identifies the offending script and the offset of the instruction
// that was being dispatched.
type Fault struct {
	Kind       FaultKind
	Script     uint16
	Origin     Origin
	Offset     uint32
	Opcode     byte
	Generation string
	Err        error
}

func (f *Fault) Error() string {
	if f.Origin == OriginNone {
		return fmt.Sprintf("vm: %v", f.Err)
	}
	return fmt.Sprintf("vm: %v (script %d %s, offset 0x%04X, opcode 0x%02X, %s)",
		f.Err, f.Script, f.Origin, f.Offset, f.Opcode, f.Generation)
}

func (f *Fault) Unwrap() error { return f.Err }

// kindOf maps an error produced by a store or provider back to a fault class.
func kindOf(err error, fallback FaultKind) FaultKind {
	for k, sentinel := range kindErrors {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return fallback
}

// fault aborts the current dispatch. The panic is recovered by the public
// entry point that started the pass.
func (vm *VM) fault(kind FaultKind, format string, args ...any) {
	vm.raise(kind, fmt.Errorf("%w: "+format, append([]any{kindErrors[kind]}, args...)...))
}

// check raises err as a fault unless it is nil.
func (vm *VM) check(err error, fallback FaultKind) {
	if err != nil {
		vm.raise(kindOf(err, fallback), err)
	}
}

func (vm *VM) raise(kind FaultKind, err error) {
	f := &Fault{Kind: kind, Err: err, Generation: vm.table.Name()}
	if vm.cur != NoSlot {
		s := &vm.slots[vm.cur]
		f.Script = s.Number
		f.Origin = s.Origin
		f.Offset = vm.opStart
		f.Opcode = vm.opcode
	}
	panic(f)
}
