// Package asm assembles script text for either instruction-set
// generation.
//
// Syntax, one instruction per line:
//
//	loop:                        ; label
//	move g12 #5                  ; immediate operand
//	add g12 l3                   ; variable operand
//	move g20[l1] #0              ; indirect variable (v5)
//	isEqual g12 #10 @loop        ; jump target
//	startScript #20 [#1 g5] recursive
//	arrayOps.read g51 g100 #0 #2 ; sub-operation
//	expression g7 (#2 g3 add {getRandomNr g0 #9} mul)
//	print #1 "hello"
//	.verb 2                      ; object verb entry point
//
// The operand forms mirror the disassembler listing, so a listing with
// its offset column removed assembles back to the same bytes.
package asm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/chazu/scumm/resource"
	"github.com/chazu/scumm/vm"
)

// Program is the result of assembling one script.
type Program struct {
	Code []byte
	// Labels maps label names to code offsets.
	Labels map[string]int
	// Verbs maps object verb numbers to their entry offsets.
	Verbs map[uint16]uint32
}

// Assemble assembles src for the named generation ("v5", "v6").
func Assemble(gen, src string) (*Program, error) {
	t, err := vm.Table(gen)
	if err != nil {
		return nil, err
	}
	return AssembleTable(t, "", src)
}

// AssembleTable assembles src for an instruction set. filename is used in
// error positions only.
func AssembleTable(t vm.OpcodeTable, filename, src string) (*Program, error) {
	if !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	ast, err := parser.ParseString(filename, src)
	if err != nil {
		return nil, err
	}

	a := &assembler{
		t:      t,
		b:      vm.NewBuilder(),
		labels: make(map[string]*vm.Label),
		prog:   &Program{Labels: make(map[string]int), Verbs: make(map[uint16]uint32)},
	}
	for _, it := range ast.Items {
		switch {
		case it.Label != nil:
			err = a.label(it.Pos, *it.Label)
		case it.Directive != nil:
			err = a.directive(it.Directive)
		case it.Instr != nil:
			err = a.instr(it.Instr)
		}
		if err != nil {
			return nil, err
		}
	}

	var missing []string
	for name, l := range a.labels {
		if !l.Resolved() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("undefined labels: %s", strings.Join(missing, ", "))
	}
	a.prog.Code = a.b.Bytes()
	return a.prog, nil
}

// Install writes the program under key. Object scripts also register
// their verb entry points.
func (p *Program) Install(w resource.Writer, key vm.CodeKey) error {
	if len(p.Verbs) > 0 && !key.Origin.IsObject() {
		return fmt.Errorf("%s: verb entries need an object origin", key)
	}
	if err := w.PutScript(key, p.Code, 0); err != nil {
		return err
	}
	verbs := make([]int, 0, len(p.Verbs))
	for v := range p.Verbs {
		verbs = append(verbs, int(v))
	}
	sort.Ints(verbs)
	for _, v := range verbs {
		if err := w.PutObject(key.ID, uint16(v), key, p.Verbs[uint16(v)]); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Encoder
// ---------------------------------------------------------------------------

type assembler struct {
	t      vm.OpcodeTable
	b      *vm.Builder
	labels map[string]*vm.Label
	prog   *Program
}

func errorf(pos lexer.Position, format string, args ...any) error {
	return fmt.Errorf("%s: %s", pos, fmt.Sprintf(format, args...))
}

func (a *assembler) ref(name string) *vm.Label {
	l, ok := a.labels[name]
	if !ok {
		l = a.b.NewLabel()
		a.labels[name] = l
	}
	return l
}

func (a *assembler) label(pos lexer.Position, name string) error {
	l := a.ref(name)
	if l.Resolved() {
		return errorf(pos, "label %q defined twice", name)
	}
	a.b.Mark(l)
	a.prog.Labels[name] = a.b.Len()
	return nil
}

func (a *assembler) directive(d *directive) error {
	switch d.Name {
	case ".verb":
		v, err := strconv.ParseUint(d.Value, 0, 16)
		if err != nil {
			return errorf(d.Pos, "verb number %s: %v", d.Value, err)
		}
		if _, dup := a.prog.Verbs[uint16(v)]; dup {
			return errorf(d.Pos, "verb %d has two entry points", v)
		}
		a.prog.Verbs[uint16(v)] = uint32(a.b.Len())
		return nil
	}
	return errorf(d.Pos, "unknown directive %s", d.Name)
}

func (a *assembler) instr(in *instr) error {
	name, subName, hasSub := strings.Cut(in.Mnemonic, ".")
	op, ok := a.t.Lookup(name)
	if !ok {
		return errorf(in.Pos, "unknown %s mnemonic %q", a.t.Name(), name)
	}

	modeAt := a.b.Len()
	allowed := op.Mask
	a.b.Byte(op.Base)
	args := op.Args
	switch {
	case len(op.Subs) > 0:
		if !hasSub {
			return errorf(in.Pos, "%s needs a sub-operation", name)
		}
		sub, ok := op.SubNamed(subName)
		if !ok {
			return errorf(in.Pos, "%s has no sub-operation %q", name, subName)
		}
		args = sub.Args
		if op.SubMask != 0 {
			modeAt = a.b.Len()
			allowed = vm.Mode(^op.SubMask)
		}
		a.b.Byte(sub.Code)
	case hasSub:
		return errorf(in.Pos, "%s has no sub-operations", name)
	}

	if len(in.Operands) < len(args) {
		return errorf(in.Pos, "%s takes %d operands, got %d", in.Mnemonic, len(args), len(in.Operands))
	}
	var mode vm.Mode
	for i, arg := range args {
		m, err := a.arg(arg, in.Operands[i])
		if err != nil {
			return err
		}
		mode |= m
	}
	for _, o := range in.Operands[len(args):] {
		m, err := a.flag(op, o)
		if err != nil {
			return err
		}
		mode |= m
	}
	if mode&^allowed != 0 {
		return errorf(in.Pos, "%s cannot take that operand combination", in.Mnemonic)
	}
	a.b.Bytes()[modeAt] |= byte(mode)
	return nil
}

func (a *assembler) flag(op *vm.Operation, o *operand) (vm.Mode, error) {
	if o.Flag == nil {
		return 0, errorf(o.Pos, "too many operands for %s", op.Name)
	}
	for _, f := range op.Flags {
		if f.Name == *o.Flag {
			return f.Bit, nil
		}
	}
	return 0, errorf(o.Pos, "%s has no flag %q", op.Name, *o.Flag)
}

// arg encodes one operand and returns the mode bits it sets.
func (a *assembler) arg(arg vm.Arg, o *operand) (vm.Mode, error) {
	switch arg.Kind {
	case vm.ArgByte:
		v, err := imm(o, -128, 0xFF)
		a.b.Byte(byte(v))
		return 0, err
	case vm.ArgWord:
		v, err := imm(o, -0x8000, 0xFFFF)
		a.b.Word(v)
		return 0, err
	case vm.ArgDelay:
		v, err := imm(o, 0, 0xFFFFFF)
		a.b.Delay(v)
		return 0, err
	case vm.ArgVar:
		return 0, a.variable(o)
	case vm.ArgByteVar:
		if o.Var == nil {
			return 0, errorf(o.Pos, "%s must be a variable", arg.Name)
		}
		n, err := parseVar(*o.Var)
		if err != nil || n > 0xFF {
			return 0, errorf(o.Pos, "%s must be a global below 256", *o.Var)
		}
		a.b.Byte(byte(n))
		return 0, nil
	case vm.ArgP8, vm.ArgP16:
		if o.Var != nil {
			return arg.Bit, a.variable(o)
		}
		if arg.Kind == vm.ArgP8 {
			v, err := imm(o, -128, 0xFF)
			a.b.Byte(byte(v))
			return 0, err
		}
		v, err := imm(o, -0x8000, 0xFFFF)
		a.b.Word(v)
		return 0, err
	case vm.ArgJump:
		switch {
		case o.Label != nil:
			a.b.Jump(a.ref(*o.Label))
		case o.Addr != nil:
			target, err := strconv.ParseUint(*o.Addr, 0, 16)
			if err != nil {
				return 0, errorf(o.Pos, "jump target %s: %v", *o.Addr, err)
			}
			a.b.JumpTo(int(target))
		default:
			return 0, errorf(o.Pos, "%s must be @label or an address", arg.Name)
		}
		return 0, nil
	case vm.ArgText:
		if o.Text == nil {
			return 0, errorf(o.Pos, "%s must be a string", arg.Name)
		}
		s, err := strconv.Unquote(*o.Text)
		if err != nil {
			return 0, errorf(o.Pos, "bad string %s: %v", *o.Text, err)
		}
		if strings.IndexByte(s, 0) >= 0 {
			return 0, errorf(o.Pos, "string contains a zero byte")
		}
		a.b.Text(s)
		return 0, nil
	case vm.ArgList:
		if o.List == nil {
			return 0, errorf(o.Pos, "%s must be a [list]", arg.Name)
		}
		for _, it := range o.List.Items {
			if err := a.listItem(it); err != nil {
				return 0, err
			}
		}
		a.b.EndList()
		return 0, nil
	case vm.ArgExpr:
		if o.Expr == nil {
			return 0, errorf(o.Pos, "%s must be an (expression)", arg.Name)
		}
		return 0, a.expression(o.Expr)
	}
	return 0, errorf(o.Pos, "unsupported operand kind %d", arg.Kind)
}

// listItem encodes one mode-prefixed list or expression value.
func (a *assembler) listItem(o *operand) error {
	if o.Var != nil {
		a.b.Byte(0x01 | byte(vm.P1))
		return a.variable(o)
	}
	v, err := imm(o, -0x8000, 0xFFFF)
	if err != nil {
		return err
	}
	a.b.Byte(0x01).Word(v)
	return nil
}

var exprCodes = map[string]byte{"add": 2, "sub": 3, "mul": 4, "div": 5}

func (a *assembler) expression(e *exprList) error {
	for _, it := range e.Items {
		switch {
		case it.Nested != nil:
			a.b.Byte(0x06)
			if err := a.instr(it.Nested); err != nil {
				return err
			}
		case it.Operand.Flag != nil:
			code, ok := exprCodes[*it.Operand.Flag]
			if !ok {
				return errorf(it.Operand.Pos, "unknown expression operator %q", *it.Operand.Flag)
			}
			a.b.Byte(code)
		default:
			if err := a.listItem(it.Operand); err != nil {
				return err
			}
		}
	}
	a.b.Byte(0xFF)
	return nil
}

// variable encodes a variable reference, including the indirect forms
// of generations that support them.
func (a *assembler) variable(o *operand) error {
	if o.Var == nil {
		return errorf(o.Pos, "expected a variable")
	}
	s := *o.Var
	base, index, indirect := strings.Cut(s, "[")
	n, err := parseVar(base)
	if err != nil {
		return errorf(o.Pos, "%v", err)
	}
	if a.t.Indirect() && n&vm.VarIndirect != 0 {
		return errorf(o.Pos, "%s collides with the indirection tag", base)
	}
	if !indirect {
		a.b.Var(n)
		return nil
	}
	if !a.t.Indirect() {
		return errorf(o.Pos, "%s has no indirect variables", a.t.Name())
	}
	index = strings.TrimSuffix(index, "]")
	if off, ok := strings.CutPrefix(index, "+"); ok {
		v, err := strconv.ParseUint(off, 10, 12)
		if err != nil {
			return errorf(o.Pos, "offset %s: %v", off, err)
		}
		a.b.IndirectConst(n, uint16(v))
		return nil
	}
	iv, err := parseVar(index)
	if err != nil {
		return errorf(o.Pos, "%v", err)
	}
	if iv&vm.VarIndirect != 0 {
		return errorf(o.Pos, "%s collides with the indirection tag", index)
	}
	a.b.Indirect(n, iv)
	return nil
}

// parseVar is the inverse of vm.VarName.
func parseVar(s string) (uint16, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("bad variable %q", s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad variable %q", s)
	}
	switch s[0] {
	case 'g':
		if n >= uint64(vm.VarLocal) {
			return 0, fmt.Errorf("global %s out of range", s)
		}
		return uint16(n), nil
	case 'l':
		if n > 0x0FFF {
			return 0, fmt.Errorf("local %s out of range", s)
		}
		return vm.Local(int(n)), nil
	case 'b':
		if n > 0x7FFF {
			return 0, fmt.Errorf("bit variable %s out of range", s)
		}
		return vm.Bit(int(n)), nil
	}
	return 0, fmt.Errorf("bad variable %q", s)
}

func imm(o *operand, lo, hi int64) (int32, error) {
	if o.Imm == nil {
		return 0, errorf(o.Pos, "expected an immediate")
	}
	v, err := strconv.ParseInt(*o.Imm, 0, 32)
	if err != nil {
		return 0, errorf(o.Pos, "bad number %s: %v", *o.Imm, err)
	}
	if v < lo || v > hi {
		return 0, errorf(o.Pos, "%d out of range %d..%d", v, lo, hi)
	}
	return int32(v), nil
}
