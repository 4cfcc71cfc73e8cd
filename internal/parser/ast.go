// Package parser implements spec.md §4.3: a Pratt/precedence-climbing
// parser that turns a lexer.Token stream into an AST. The spec describes
// the AST as "a value" (every node is a Record); here nodes are typed Go
// structs for compiler ergonomics (grounded on core/ast/ast.go's typed
// CST nodes), with ToRecord materializing the record form named in
// spec.md §4.3 for embedders/tooling that want to walk the AST as data
// (pkg/gab exposes this).
package parser

import "github.com/gab-lang/gab/internal/lexer"

// Node is implemented by every AST node.
type Node interface {
	Pos() lexer.Position
	Tokens() (begin, end lexer.Token)
}

type base struct {
	begin, end lexer.Token
}

func (b base) Pos() lexer.Position           { return b.begin.Pos }
func (b base) Tokens() (lexer.Token, lexer.Token) { return b.begin, b.end }

// Tuple is a list-shaped sequence of child nodes (spec.md §4.3: "a
// list-shaped record of child nodes"). A program body is a Tuple of
// top-level statements; argument/receiver lists are Tuples too.
type Tuple struct {
	base
	Children []Node
}

// Send is `{ lhs: tuple, msg: message, rhs: tuple }` (spec.md §4.3).
type Send struct {
	base
	LHS *Tuple
	Msg lexer.Token
	RHS *Tuple
}

// Number is a numeric literal.
type Number struct {
	base
	Text string
}

// String is a string literal (already escape-processed by the lexer).
type String struct {
	base
	Value string
}

// Ident is a bare identifier reference (variable read).
type Ident struct {
	base
	Name string
}

// Sigil is one of nil/true/false/ok/err/none.
type Sigil struct {
	base
	Name string
}

// Assign is the `=` special form (spec.md §4.4): a list of target
// patterns bound from the (possibly multi-valued) RHS.
type Assign struct {
	base
	Targets []Pattern
	RHS     Node
}

// Pattern is one assignment target: a plain variable or a splat.
type Pattern struct {
	Name  string
	Splat SplatKind
}

type SplatKind uint8

const (
	SplatNone SplatKind = iota
	SplatList               // *v
	SplatRecord              // **v
)

// BlockExpr is the `=>` special form: `params => body`.
type BlockExpr struct {
	base
	Params []string
	Body   *Tuple
}

// RecordLit is a `{ k: v, ... }` literal.
type RecordLit struct {
	base
	Keys   []Node
	Values []Node
}

// ListLit is a `[a, b, c]` literal, sugar for a list-shaped RecordLit.
type ListLit struct {
	base
	Elems []Node
}

// MakeExpr is `Type.make: ...` sugar for the primitive constructors named
// in spec.md §4.3 (Record, List, Shape, Fiber, Channel).
type MakeExpr struct {
	base
	Type lexer.Token
	Args *Tuple
}

// Program is the parsed root.
type Program struct {
	base
	Body *Tuple
}
