// Package compiler lowers a parser.Program into bytecode.Prototype trees
// (spec.md §4.4). Grounded on the teacher's environment-stack-driven IR
// lowering (symbol resolution walking nested scopes, upvalue capture by
// reference into the enclosing frame) generalized from "decorator tree to
// execution IR" to "AST to stack-machine bytecode".
package compiler

import "github.com/gab-lang/gab/internal/bytecode"

// ConstKind distinguishes the payload carried by a single constant-pool
// entry; the VM materializes each into a value.Value at load time so the
// compiler itself never needs to touch the intern tables or heap.
type ConstKind uint8

const (
	ConstNumber ConstKind = iota
	ConstString           // a literal string (materializes as a String variant)
	ConstBinary
	ConstSigil      // nil/true/false/ok/err/none
	ConstMessageName // a message/key name: send selectors and record keys
	ConstTypeRef
	ConstPrototype
	ConstNameList // consumed-key names for a `**rest` destructure
)

// Const is one constant-pool entry.
type Const struct {
	Kind  ConstKind
	Num   float64
	Str   string
	Names []string
	Proto *Prototype
}

// UpvalueDesc describes where a block's upvalue slot gets its value from:
// either a local slot in the immediately enclosing frame, or an upvalue
// slot already captured by that enclosing frame (for upvalues captured
// through more than one level of nesting).
type UpvalueDesc struct {
	Name          string
	FromParentLoc bool // true: parent's local slot; false: parent's upvalue slot
	Index         int
}

// Prototype is a compiled, callable code unit (spec.md §3.5): a
// top-level program body, or a block expression's body.
type Prototype struct {
	Name      string
	NumParams int
	HasSplat  bool // last param captures remaining positional args
	Code      []bytecode.Instr
	Consts    []Const
	Upvalues  []UpvalueDesc
	NumLocals int
	Caches    []bytecode.InlineCache
}

func (p *Prototype) addConst(c Const) int32 {
	p.Consts = append(p.Consts, c)
	return int32(len(p.Consts) - 1)
}

func (p *Prototype) addCache() int32 {
	p.Caches = append(p.Caches, bytecode.InlineCache{})
	return int32(len(p.Caches) - 1)
}

func (p *Prototype) emit(op bytecode.Op, a, b int32, line int) int {
	return p.emit3(op, a, b, 0, line)
}

func (p *Prototype) emit3(op bytecode.Op, a, b, c int32, line int) int {
	p.Code = append(p.Code, bytecode.Instr{Op: op, A: a, B: b, C: c, Line: line})
	return len(p.Code) - 1
}
