package vm

import "fmt"

// Native identifies a call from an opcode handler into a subsystem the VM
// knows nothing about (actors, sound, camera, dialog, pathfinding).
type Native uint16

const (
	NativeStartSound Native = iota + 1
	NativeStopSound
	NativeIsSoundRunning
	NativeStartMusic
	NativeStopMusic
	NativePutActor
	NativeWalkActor
	NativeAnimateActor
	NativeFaceActor
	NativeActorRoom
	NativeActorX
	NativeActorY
	NativeActorMoving
	NativeSetState
	NativeGetState
	NativeSetOwner
	NativeGetOwner
	NativePrint
	NativePanCamera
	NativeSetCamera
	NativeCameraMoving
	NativeSentencePending
	NativeLoadRoom
	NativeSystem
	NativeDebug
)

var nativeNames = map[Native]string{
	NativeStartSound:      "startSound",
	NativeStopSound:       "stopSound",
	NativeIsSoundRunning:  "isSoundRunning",
	NativeStartMusic:      "startMusic",
	NativeStopMusic:       "stopMusic",
	NativePutActor:        "putActor",
	NativeWalkActor:       "walkActor",
	NativeAnimateActor:    "animateActor",
	NativeFaceActor:       "faceActor",
	NativeActorRoom:       "actorRoom",
	NativeActorX:          "actorX",
	NativeActorY:          "actorY",
	NativeActorMoving:     "actorMoving",
	NativeSetState:        "setState",
	NativeGetState:        "getState",
	NativeSetOwner:        "setOwner",
	NativeGetOwner:        "getOwner",
	NativePrint:           "print",
	NativePanCamera:       "panCamera",
	NativeSetCamera:       "setCamera",
	NativeCameraMoving:    "cameraMoving",
	NativeSentencePending: "sentencePending",
	NativeLoadRoom:        "loadRoom",
	NativeSystem:          "system",
	NativeDebug:           "debug",
}

func (n Native) String() string {
	if s, ok := nativeNames[n]; ok {
		return s
	}
	return fmt.Sprintf("native(%d)", uint16(n))
}

// NativeCall is one request to the host. Args are plain integers in the
// order the opcode defines them; Text carries string operands.
type NativeCall struct {
	Op   Native
	Args []int32
	Text []byte
}

// Host receives native calls. The returned value is stored or pushed by
// opcodes that produce a result and ignored by the others.
type Host interface {
	Call(c NativeCall) (int32, error)
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(c NativeCall) (int32, error)

func (f HostFunc) Call(c NativeCall) (int32, error) { return f(c) }

// NopHost answers every native call with zero.
type NopHost struct{}

func (NopHost) Call(NativeCall) (int32, error) { return 0, nil }

// native performs a host call, raising a fault if the host fails.
func (vm *VM) native(op Native, args ...int32) int32 {
	v, err := vm.host.Call(NativeCall{Op: op, Args: args})
	if err != nil {
		vm.fault(FaultNative, "%s: %v", op, err)
	}
	return v
}

func (vm *VM) nativeText(op Native, text []byte, args ...int32) int32 {
	v, err := vm.host.Call(NativeCall{Op: op, Args: args, Text: text})
	if err != nil {
		vm.fault(FaultNative, "%s: %v", op, err)
	}
	return v
}
