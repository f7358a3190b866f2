package vm

import (
	"fmt"
	"strings"
)

// VarName renders a variable number the way the assembler reads it.
func VarName(n uint16) string {
	switch {
	case n&VarBit != 0:
		return fmt.Sprintf("b%d", n&^VarBit)
	case n&VarLocal != 0:
		return fmt.Sprintf("l%d", n&0x0FFF)
	default:
		return fmt.Sprintf("g%d", n)
	}
}

// Disassemble returns a listing of code for the given instruction set.
func Disassemble(t OpcodeTable, code []byte) (string, error) {
	r := &codeReader{bytes: code}
	var sb strings.Builder
	for r.more() {
		line, err := disassembleInstruction(t, r)
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
		if err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), nil
}

func disassembleInstruction(t OpcodeTable, r *codeReader) (string, error) {
	pos := r.pos
	text, err := decodeInstruction(t, r)
	return fmt.Sprintf("%04X  %s", pos, text), err
}

func decodeInstruction(t OpcodeTable, r *codeReader) (string, error) {
	b, err := r.readByte()
	if err != nil {
		return "", err
	}
	op, m, err := t.Decode(b)
	if err != nil {
		return fmt.Sprintf("db 0x%02X", b), err
	}
	parts := []string{op.Name}
	args := op.Args
	if len(op.Subs) > 0 {
		sb, err := r.readByte()
		if err != nil {
			return strings.Join(parts, " "), err
		}
		sub, ok := op.Sub(sb)
		if !ok {
			return fmt.Sprintf("%s 0x%02X", op.Name, sb), fmt.Errorf("%w: %s sub-op 0x%02X", ErrUnknownOpcode, op.Name, sb)
		}
		parts[0] = op.Name + "." + sub.Name
		args = sub.Args
		if op.SubMask != 0 {
			m = Mode(sb &^ op.SubMask)
		}
	}
	for _, a := range args {
		s, err := decodeArg(t, r, a, m)
		if err != nil {
			return strings.Join(parts, " "), err
		}
		parts = append(parts, s)
	}
	for _, f := range op.Flags {
		if m&f.Bit != 0 {
			parts = append(parts, f.Name)
		}
	}
	return strings.Join(parts, " "), nil
}

func decodeVar(t OpcodeTable, r *codeReader) (string, error) {
	w, err := r.readWord()
	if err != nil {
		return "", err
	}
	n := uint16(w)
	if !t.Indirect() || n&VarIndirect == 0 {
		return VarName(n), nil
	}
	a, err := r.readWord()
	if err != nil {
		return "", err
	}
	base := VarName(n &^ VarIndirect)
	if uint16(a)&VarIndirect != 0 {
		return fmt.Sprintf("%s[%s]", base, VarName(uint16(a)&^VarIndirect)), nil
	}
	return fmt.Sprintf("%s[+%d]", base, uint16(a)&0x0FFF), nil
}

func decodeArg(t OpcodeTable, r *codeReader, a Arg, m Mode) (string, error) {
	switch a.Kind {
	case ArgByte:
		v, err := r.readByte()
		return fmt.Sprintf("#%d", v), err
	case ArgWord:
		v, err := r.readWord()
		return fmt.Sprintf("#%d", v), err
	case ArgDelay:
		var v int32
		for i := 0; i < 3; i++ {
			b, err := r.readByte()
			if err != nil {
				return "", err
			}
			v |= int32(b) << (8 * i)
		}
		return fmt.Sprintf("#%d", v), nil
	case ArgVar:
		return decodeVar(t, r)
	case ArgByteVar:
		v, err := r.readByte()
		return VarName(uint16(v)), err
	case ArgP8:
		if m&a.Bit != 0 {
			return decodeVar(t, r)
		}
		v, err := r.readByte()
		return fmt.Sprintf("#%d", v), err
	case ArgP16:
		if m&a.Bit != 0 {
			return decodeVar(t, r)
		}
		v, err := r.readWord()
		return fmt.Sprintf("#%d", v), err
	case ArgJump:
		v, err := r.readWord()
		return fmt.Sprintf("0x%04X", r.pos+int(v)), err
	case ArgText:
		var sb []byte
		for {
			b, err := r.readByte()
			if err != nil {
				return "", err
			}
			if b == 0 {
				return fmt.Sprintf("%q", sb), nil
			}
			sb = append(sb, b)
		}
	case ArgList:
		var items []string
		for {
			b, err := r.readByte()
			if err != nil {
				return "", err
			}
			if b == 0xFF {
				return "[" + strings.Join(items, " ") + "]", nil
			}
			s, err := decodeArg(t, r, p16(P1, ""), Mode(b))
			if err != nil {
				return "", err
			}
			items = append(items, s)
		}
	case ArgExpr:
		return decodeExpr(t, r)
	}
	return "", fmt.Errorf("unknown operand kind %d", a.Kind)
}

var exprOps = map[byte]string{2: "add", 3: "sub", 4: "mul", 5: "div"}

func decodeExpr(t OpcodeTable, r *codeReader) (string, error) {
	var items []string
	for {
		b, err := r.readByte()
		if err != nil {
			return "", err
		}
		switch {
		case b == 0xFF:
			return "(" + strings.Join(items, " ") + ")", nil
		case b&0x1F == 1:
			s, err := decodeArg(t, r, p16(P1, ""), Mode(b))
			if err != nil {
				return "", err
			}
			items = append(items, s)
		case b&0x1F == 6:
			s, err := decodeInstruction(t, r)
			if err != nil {
				return "", err
			}
			items = append(items, "{"+s+"}")
		default:
			name, ok := exprOps[b&0x1F]
			if !ok {
				return "", fmt.Errorf("%w: expression sub-op 0x%02X", ErrUnknownOpcode, b)
			}
			items = append(items, name)
		}
	}
}
