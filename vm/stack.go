package vm

import "fmt"

// DefaultStackSize is the value stack capacity used when Options leaves it unset.
const DefaultStackSize = 150

// Stack is the explicit LIFO value stack used by stack-based generations
// and by expression evaluation.
type Stack struct {
	vals []int32
}

// NewStack creates a stack holding at most size values.
func NewStack(size int) *Stack {
	return &Stack{vals: make([]int32, 0, size)}
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return len(s.vals) }

// Cap returns the capacity.
func (s *Stack) Cap() int { return cap(s.vals) }

// Push adds v to the top of the stack.
func (s *Stack) Push(v int32) error {
	if len(s.vals) == cap(s.vals) {
		return fmt.Errorf("%w: overflow (%d)", ErrStack, cap(s.vals))
	}
	s.vals = append(s.vals, v)
	return nil
}

// Pop removes and returns the top value.
func (s *Stack) Pop() (int32, error) {
	if len(s.vals) == 0 {
		return 0, fmt.Errorf("%w: underflow", ErrStack)
	}
	v := s.vals[len(s.vals)-1]
	s.vals = s.vals[:len(s.vals)-1]
	return v, nil
}

// Peek returns the top value without removing it.
func (s *Stack) Peek() (int32, error) {
	if len(s.vals) == 0 {
		return 0, fmt.Errorf("%w: underflow", ErrStack)
	}
	return s.vals[len(s.vals)-1], nil
}

// PopList pops a count and then that many values into buf. The first
// value popped is the last logical argument.
func (s *Stack) PopList(buf []int32) ([]int32, error) {
	n, err := s.Pop()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > len(buf) {
		return nil, fmt.Errorf("%w: %d items in stack list, max %d", ErrArgs, n, len(buf))
	}
	for i := int(n) - 1; i >= 0; i-- {
		if buf[i], err = s.Pop(); err != nil {
			return nil, err
		}
	}
	return buf[:n], nil
}

// Values returns a copy of the stack contents, bottom first.
func (s *Stack) Values() []int32 {
	return append([]int32(nil), s.vals...)
}

// Reset empties the stack.
func (s *Stack) Reset() { s.vals = s.vals[:0] }

// push and pop raise faults instead of returning errors.
func (vm *VM) push(v int32) {
	vm.check(vm.stack.Push(v), FaultStack)
}

func (vm *VM) pop() int32 {
	v, err := vm.stack.Pop()
	vm.check(err, FaultStack)
	return v
}

func (vm *VM) popBool() bool { return vm.pop() != 0 }

// popList pops a V6-style argument list into the VM's argument buffer.
func (vm *VM) popList() []int32 {
	args, err := vm.stack.PopList(vm.argBuf())
	vm.check(err, FaultArgs)
	return args
}

// argBuf returns a fresh buffer sized to the local variable count.
func (vm *VM) argBuf() []int32 {
	return make([]int32, vm.table.Locals())
}
