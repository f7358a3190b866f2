package vm

import "fmt"

// Tag bits of a variable number. The bit tag is tested first, then the
// local tag; anything else addresses a global.
const (
	VarBit      uint16 = 0x8000
	VarLocal    uint16 = 0x4000
	VarIndirect uint16 = 0x2000
)

// Bit returns the variable number of bit variable i.
func Bit(i int) uint16 { return VarBit | uint16(i)&0x7FFF }

// Local returns the variable number of local variable i.
func Local(i int) uint16 { return VarLocal | uint16(i)&0x0FFF }

// VarStore holds the three variable address spaces. Locals are kept per
// slot; every access names the slot whose locals are meant.
type VarStore struct {
	globals []int32
	bits    []uint64
	numBits int
	locals  [][]int32
}

// NewVarStore allocates zeroed storage.
func NewVarStore(globals, bits, slots, locals int) *VarStore {
	s := &VarStore{
		globals: make([]int32, globals),
		bits:    make([]uint64, (bits+63)/64),
		numBits: bits,
		locals:  make([][]int32, slots),
	}
	for i := range s.locals {
		s.locals[i] = make([]int32, locals)
	}
	return s
}

// NumGlobals returns the size of the global space.
func (s *VarStore) NumGlobals() int { return len(s.globals) }

// NumBits returns the size of the bit space.
func (s *VarStore) NumBits() int { return s.numBits }

// NumLocals returns the number of locals per slot.
func (s *VarStore) NumLocals() int {
	if len(s.locals) == 0 {
		return 0
	}
	return len(s.locals[0])
}

// Read returns the value of variable n. Locals are taken from slot.
func (s *VarStore) Read(n uint16, slot int) (int32, error) {
	switch {
	case n&VarBit != 0:
		i := int(n &^ VarBit)
		if i >= s.numBits {
			return 0, fmt.Errorf("%w: bit variable %d (have %d)", ErrVarRange, i, s.numBits)
		}
		return int32(s.bits[i/64] >> (i % 64) & 1), nil
	case n&VarLocal != 0:
		p, err := s.local(n, slot)
		if err != nil {
			return 0, err
		}
		return *p, nil
	default:
		if int(n) >= len(s.globals) {
			return 0, fmt.Errorf("%w: global %d (have %d)", ErrVarRange, n, len(s.globals))
		}
		return s.globals[n], nil
	}
}

// Write stores v into variable n. Bit variables store v != 0.
func (s *VarStore) Write(n uint16, slot int, v int32) error {
	switch {
	case n&VarBit != 0:
		i := int(n &^ VarBit)
		if i >= s.numBits {
			return fmt.Errorf("%w: bit variable %d (have %d)", ErrVarRange, i, s.numBits)
		}
		if v != 0 {
			s.bits[i/64] |= 1 << (i % 64)
		} else {
			s.bits[i/64] &^= 1 << (i % 64)
		}
	case n&VarLocal != 0:
		p, err := s.local(n, slot)
		if err != nil {
			return err
		}
		*p = v
	default:
		if int(n) >= len(s.globals) {
			return fmt.Errorf("%w: global %d (have %d)", ErrVarRange, n, len(s.globals))
		}
		s.globals[n] = v
	}
	return nil
}

func (s *VarStore) local(n uint16, slot int) (*int32, error) {
	i := int(n & 0x0FFF)
	if n&0x3000 != 0 {
		return nil, fmt.Errorf("%w: local variable number 0x%04X", ErrVarRange, n)
	}
	if slot < 0 || slot >= len(s.locals) {
		return nil, fmt.Errorf("%w: local %d outside a script", ErrVarRange, i)
	}
	if i >= len(s.locals[slot]) {
		return nil, fmt.Errorf("%w: local %d (have %d)", ErrVarRange, i, len(s.locals[slot]))
	}
	return &s.locals[slot][i], nil
}

// Seed zeroes the locals of slot and copies args into them. Arguments
// beyond the local count are dropped.
func (s *VarStore) Seed(slot int, args []int32) {
	l := s.locals[slot]
	clear(l)
	copy(l, args)
}

// Locals returns the live locals of slot.
func (s *VarStore) Locals(slot int) []int32 { return s.locals[slot] }

// packBits returns the bit space as little-endian bytes.
func (s *VarStore) packBits() []byte {
	out := make([]byte, (s.numBits+7)/8)
	for i := range out {
		out[i] = byte(s.bits[i/8] >> (8 * (i % 8)))
	}
	return out
}

func (s *VarStore) unpackBits(b []byte) {
	clear(s.bits)
	for i, v := range b {
		s.bits[i/8] |= uint64(v) << (8 * (i % 8))
	}
}
