package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Builder: emits script code for either generation
// ---------------------------------------------------------------------------

// Builder accumulates script bytes. Words are little-endian and jump
// operands are relative to the end of the operand.
type Builder struct {
	bytes []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the code emitted so far.
func (b *Builder) Bytes() []byte { return b.bytes }

// Len returns the current offset.
func (b *Builder) Len() int { return len(b.bytes) }

// Byte appends raw bytes.
func (b *Builder) Byte(v ...byte) *Builder {
	b.bytes = append(b.bytes, v...)
	return b
}

// Word appends a 16-bit word.
func (b *Builder) Word(v int32) *Builder {
	b.bytes = append(b.bytes, byte(v), byte(v>>8))
	return b
}

// Delay appends a 24-bit count.
func (b *Builder) Delay(v int32) *Builder {
	b.bytes = append(b.bytes, byte(v), byte(v>>8), byte(v>>16))
	return b
}

// Var appends a variable number.
func (b *Builder) Var(n uint16) *Builder {
	return b.Word(int32(n))
}

// Indirect appends a variable number whose offset is another variable.
func (b *Builder) Indirect(base, offsetVar uint16) *Builder {
	return b.Var(base | VarIndirect).Var(offsetVar | VarIndirect)
}

// IndirectConst appends a variable number plus a constant offset.
func (b *Builder) IndirectConst(base uint16, offset uint16) *Builder {
	return b.Var(base | VarIndirect).Var(offset & 0x0FFF)
}

// Text appends a zero-terminated string.
func (b *Builder) Text(s string) *Builder {
	b.bytes = append(b.bytes, s...)
	b.bytes = append(b.bytes, 0)
	return b
}

// ListImm appends one immediate entry of a mode-prefixed argument list.
func (b *Builder) ListImm(v int32) *Builder {
	return b.Byte(0x01).Word(v)
}

// ListVar appends one variable entry of a mode-prefixed argument list.
func (b *Builder) ListVar(n uint16) *Builder {
	return b.Byte(0x01 | byte(P1)).Var(n)
}

// EndList terminates a mode-prefixed argument list.
func (b *Builder) EndList() *Builder { return b.Byte(0xFF) }

// List appends a complete list of immediates.
func (b *Builder) List(vs ...int32) *Builder {
	for _, v := range vs {
		b.ListImm(v)
	}
	return b.EndList()
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target that may not be known yet.
type Label struct {
	resolved bool
	position int
	refs     []int
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches every
// earlier reference.
func (b *Builder) Mark(label *Label) *Builder {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		offset := label.position - (ref + 2)
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
	return b
}

// Resolved reports whether the label has been marked.
func (l *Label) Resolved() bool { return l.resolved }

// Jump appends a relative jump operand aimed at label.
func (b *Builder) Jump(label *Label) *Builder {
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		return b.Word(int32(offset))
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0)
	return b
}

// JumpTo appends a relative jump operand aimed at an absolute offset.
func (b *Builder) JumpTo(target int) *Builder {
	return b.Word(int32(target - (len(b.bytes) + 2)))
}

// ---------------------------------------------------------------------------
// Reader used by the disassembler
// ---------------------------------------------------------------------------

type codeReader struct {
	bytes []byte
	pos   int
}

func (r *codeReader) more() bool { return r.pos < len(r.bytes) }

func (r *codeReader) readByte() (byte, error) {
	if r.pos >= len(r.bytes) {
		return 0, fmt.Errorf("%w: truncated at 0x%04X", ErrCodeRange, r.pos)
	}
	v := r.bytes[r.pos]
	r.pos++
	return v, nil
}

func (r *codeReader) readWord() (int32, error) {
	if r.pos+2 > len(r.bytes) {
		return 0, fmt.Errorf("%w: truncated at 0x%04X", ErrCodeRange, r.pos)
	}
	v := int16(binary.LittleEndian.Uint16(r.bytes[r.pos:]))
	r.pos += 2
	return int32(v), nil
}
