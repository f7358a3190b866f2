package asm

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Grammar is defined as Go structs with tags. Instructions end at a
// newline; labels may share a line with the instruction they mark.

type source struct {
	Items []*item `( @@ | EOL )*`
}

type item struct {
	Pos       lexer.Position
	Label     *string    `  @Ident ":"`
	Directive *directive `| @@`
	Instr     *instr     `| @@ EOL`
}

// directive: .verb 2
type directive struct {
	Pos   lexer.Position
	Name  string `@Directive`
	Value string `@( Int | Hex ) EOL`
}

// instr: mnemonic or op.sub followed by operands.
type instr struct {
	Pos      lexer.Position
	Mnemonic string     `@Ident`
	Operands []*operand `@@*`
}

type operand struct {
	Pos   lexer.Position
	Imm   *string   `  "#" @( Int | Hex )`
	Var   *string   `| @( IVar | Var )`
	Label *string   `| "@" @Ident`
	Addr  *string   `| @Hex`
	Text  *string   `| @String`
	List  *list     `| @@`
	Expr  *exprList `| @@`
	Flag  *string   `| @Ident`
}

type list struct {
	Items []*operand `"[" @@* "]"`
}

type exprList struct {
	Items []*exprItem `"(" @@* ")"`
}

type exprItem struct {
	Nested  *instr   `  "{" @@ "}"`
	Operand *operand `| @@`
}

var asmLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "EOL", Pattern: `\r?\n`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Directive", Pattern: `\.[a-zA-Z]+`},

	// Variables: g12, l3, b7, and the indirect forms g12[l1], g12[+4].
	{Name: "IVar", Pattern: `[gbl][0-9]+\[(?:[gbl][0-9]+|\+[0-9]+)\]`},
	{Name: "Var", Pattern: `[gbl][0-9]+\b`},

	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F]+`},
	{Name: "Int", Pattern: `-?[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.\-]*`},
	{Name: "Punct", Pattern: `[#@:\[\]{}()]`},
})

var parser = participle.MustBuild[source](
	participle.Lexer(asmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)
