package vm

import (
	"encoding/binary"
	"fmt"
)

// ArrayKind is the element type of a dynamic array.
type ArrayKind uint8

const (
	ArrayNibble ArrayKind = iota + 1
	ArrayByte
	ArrayWord
	ArrayDWord
	ArrayString
)

var arrayKindNames = [...]string{"", "nibble", "byte", "word", "dword", "string"}

func (k ArrayKind) String() string {
	if k != 0 && int(k) < len(arrayKindNames) {
		return arrayKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k names an element type.
func (k ArrayKind) Valid() bool { return k >= ArrayNibble && k <= ArrayString }

// storage returns the number of bytes needed for n elements.
func (k ArrayKind) storage(n int) int {
	switch k {
	case ArrayNibble:
		return (n + 1) / 2
	case ArrayWord:
		return n * 2
	case ArrayDWord:
		return n * 4
	default:
		return n
	}
}

// maxArrayElements caps a single definition.
const maxArrayElements = 1 << 20

// NoOwner marks an array that outlives every script.
const NoOwner = -1

// Bounds is an inclusive index range.
type Bounds struct {
	Lo, Hi int32
}

// Len returns the number of indices in b.
func (b Bounds) Len() int {
	if b.Hi < b.Lo {
		return 0
	}
	return int(b.Hi-b.Lo) + 1
}

// Contains reports whether i lies within b.
func (b Bounds) Contains(i int32) bool { return i >= b.Lo && i <= b.Hi }

// Span returns the bounds 0..n-1.
func Span(n int32) Bounds { return Bounds{0, n - 1} }

// Array is one typed 1-D or 2-D blob. A 1-D array has a single row.
type Array struct {
	Handle int32
	Kind   ArrayKind
	Rows   Bounds
	Cols   Bounds
	Owner  int
	data   []byte
}

func (a *Array) index(row, col int32) (int, bool) {
	if !a.Rows.Contains(row) || !a.Cols.Contains(col) {
		return 0, false
	}
	return int(row-a.Rows.Lo)*a.Cols.Len() + int(col-a.Cols.Lo), true
}

func (a *Array) get(i int) int32 {
	switch a.Kind {
	case ArrayNibble:
		return int32(a.data[i/2] >> (4 * (i % 2)) & 0x0F)
	case ArrayWord:
		return int32(int16(binary.LittleEndian.Uint16(a.data[i*2:])))
	case ArrayDWord:
		return int32(binary.LittleEndian.Uint32(a.data[i*4:]))
	default:
		return int32(a.data[i])
	}
}

func (a *Array) set(i int, v int32) {
	switch a.Kind {
	case ArrayNibble:
		shift := 4 * (i % 2)
		a.data[i/2] = a.data[i/2]&^(0x0F<<shift) | byte(v&0x0F)<<shift
	case ArrayWord:
		binary.LittleEndian.PutUint16(a.data[i*2:], uint16(v))
	case ArrayDWord:
		binary.LittleEndian.PutUint32(a.data[i*4:], uint32(v))
	default:
		a.data[i] = byte(v)
	}
}

// Len returns the number of elements.
func (a *Array) Len() int { return a.Rows.Len() * a.Cols.Len() }

// Data returns the raw element storage.
func (a *Array) Data() []byte { return a.data }

// ArrayTable maps small integer handles to arrays. Handle 0 means
// "undefined" and is never allocated.
type ArrayTable struct {
	arrays []*Array
}

// NewArrayTable creates a table with handles 1..max.
func NewArrayTable(max int) *ArrayTable {
	return &ArrayTable{arrays: make([]*Array, max+1)}
}

// Max returns the highest usable handle.
func (t *ArrayTable) Max() int { return len(t.arrays) - 1 }

// Define declares or redeclares the shape of handle h. A zero handle
// allocates the lowest free one. Redefinition with the same kind keeps
// the elements that are still in bounds; a different kind starts from
// zeroed storage.
func (t *ArrayTable) Define(h int32, kind ArrayKind, rows, cols Bounds) (int32, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: bad element kind %d", ErrArrayRange, kind)
	}
	n := rows.Len() * cols.Len()
	if n == 0 || n > maxArrayElements {
		return 0, fmt.Errorf("%w: bad bounds %v x %v", ErrArrayRange, rows, cols)
	}
	if h == 0 {
		for i := 1; i < len(t.arrays); i++ {
			if t.arrays[i] == nil {
				h = int32(i)
				break
			}
		}
		if h == 0 {
			return 0, fmt.Errorf("%w: array table full (%d)", ErrArrayRange, t.Max())
		}
	}
	if h < 0 || int(h) >= len(t.arrays) {
		return 0, fmt.Errorf("%w: handle %d (max %d)", ErrArrayRange, h, t.Max())
	}
	a := &Array{Handle: h, Kind: kind, Rows: rows, Cols: cols, Owner: NoOwner, data: make([]byte, kind.storage(n))}
	if old := t.arrays[h]; old != nil {
		a.Owner = old.Owner
		if old.Kind == kind {
			for r := max(rows.Lo, old.Rows.Lo); r <= min(rows.Hi, old.Rows.Hi); r++ {
				for c := max(cols.Lo, old.Cols.Lo); c <= min(cols.Hi, old.Cols.Hi); c++ {
					src, _ := old.index(r, c)
					dst, _ := a.index(r, c)
					a.set(dst, old.get(src))
				}
			}
		}
	}
	t.arrays[h] = a
	return h, nil
}

func (t *ArrayTable) lookup(h int32) (*Array, error) {
	if h == 0 {
		return nil, ErrUndefinedArray
	}
	if h < 0 || int(h) >= len(t.arrays) || t.arrays[h] == nil {
		return nil, fmt.Errorf("%w: handle %d is not defined", ErrArrayRange, h)
	}
	return t.arrays[h], nil
}

// Read returns element (row, col) of array h. Reading handle 0 returns
// ErrUndefinedArray, which callers treat as a legal "undefined" result.
func (t *ArrayTable) Read(h, row, col int32) (int32, error) {
	a, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	i, ok := a.index(row, col)
	if !ok {
		return 0, fmt.Errorf("%w: handle %d [%d,%d] outside %v x %v", ErrArrayRange, h, row, col, a.Rows, a.Cols)
	}
	return a.get(i), nil
}

// Write stores v at (row, col), truncated to the element width.
func (t *ArrayTable) Write(h, row, col, v int32) error {
	a, err := t.lookup(h)
	if err != nil {
		if h == 0 {
			return fmt.Errorf("%w: write to handle 0", ErrArrayRange)
		}
		return err
	}
	i, ok := a.index(row, col)
	if !ok {
		return fmt.Errorf("%w: handle %d [%d,%d] outside %v x %v", ErrArrayRange, h, row, col, a.Rows, a.Cols)
	}
	a.set(i, v)
	return nil
}

// Undefine releases handle h. Releasing an absent handle reports false.
func (t *ArrayTable) Undefine(h int32) (bool, error) {
	if h <= 0 || int(h) >= len(t.arrays) {
		if h == 0 {
			return false, nil
		}
		return false, fmt.Errorf("%w: handle %d (max %d)", ErrArrayRange, h, t.Max())
	}
	had := t.arrays[h] != nil
	t.arrays[h] = nil
	return had, nil
}

// Get returns the array behind h.
func (t *ArrayTable) Get(h int32) (*Array, bool) {
	if h <= 0 || int(h) >= len(t.arrays) || t.arrays[h] == nil {
		return nil, false
	}
	return t.arrays[h], true
}

// SetOwner ties h to a script slot; it is released when the slot dies.
func (t *ArrayTable) SetOwner(h int32, slot int) {
	if a, ok := t.Get(h); ok {
		a.Owner = slot
	}
}

// ReleaseOwned undefines every array owned by slot and returns the handles.
func (t *ArrayTable) ReleaseOwned(slot int) []int32 {
	var released []int32
	for i, a := range t.arrays {
		if a != nil && a.Owner == slot {
			t.arrays[i] = nil
			released = append(released, int32(i))
		}
	}
	return released
}

// Each calls fn for every defined array in ascending handle order.
func (t *ArrayTable) Each(fn func(a *Array)) {
	for _, a := range t.arrays {
		if a != nil {
			fn(a)
		}
	}
}

// Count returns the number of defined arrays.
func (t *ArrayTable) Count() int {
	n := 0
	for _, a := range t.arrays {
		if a != nil {
			n++
		}
	}
	return n
}
