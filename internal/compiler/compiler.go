package compiler

import (
	"strconv"

	"github.com/gab-lang/gab/internal/bytecode"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/parser"
)

var builtinMakeTypes = map[string]bytecode.Op{
	"Record":  bytecode.OpMakeRecord,
	"List":    bytecode.OpMakeList,
	"Channel": bytecode.OpMakeChannel,
	"Fiber":   bytecode.OpMakeFiber,
	"Box":     bytecode.OpMakeBox,
}

// scope tracks one Prototype's local-name bindings plus a link to its
// lexically enclosing scope, so that Ident resolution can walk outward
// looking for locals, then upvalues.
type scope struct {
	parent *scope
	proto  *Prototype
	names  []string // slot index -> name
	// captured is allocated for every scope but never read; the
	// captured-assignment check in storeName walks the enclosing scopes
	// with resolveUpvalueReadOnly instead.
	captured map[string]bool
}

func newScope(parent *scope, proto *Prototype) *scope {
	return &scope{parent: parent, proto: proto, captured: map[string]bool{}}
}

func (s *scope) declare(name string) int {
	s.names = append(s.names, name)
	s.proto.NumLocals = len(s.names)
	return len(s.names) - 1
}

func (s *scope) localIndex(name string) (int, bool) {
	for i := len(s.names) - 1; i >= 0; i-- {
		if s.names[i] == name {
			return i, true
		}
	}
	return 0, false
}

// Compiler walks one parser.Program (or nested BlockExpr) into a
// Prototype tree.
type Compiler struct {
	srcName string
}

func New(srcName string) *Compiler {
	return &Compiler{srcName: srcName}
}

// Compile lowers a whole program into its root Prototype.
func (c *Compiler) Compile(prog *parser.Program) (*Prototype, *diag.Error) {
	proto := &Prototype{Name: "main"}
	sc := newScope(nil, proto)
	if err := c.compileStatements(prog.Body.Children, sc, true); err != nil {
		return nil, err
	}
	proto.emit(bytecode.OpReturn, 0, 0, 0)
	return proto, nil
}

// compileStatements compiles a sequence of statements, popping the value
// of every statement but the last (when keepLast is set, matching the
// "a tuple evaluates to its last child's value" rule, spec.md §4.3).
func (c *Compiler) compileStatements(stmts []parser.Node, sc *scope, keepLast bool) *diag.Error {
	for i, stmt := range stmts {
		if err := c.compileNode(stmt, sc); err != nil {
			return err
		}
		last := i == len(stmts)-1
		if !last || !keepLast {
			sc.proto.emit(bytecode.OpPop, 0, 0, stmt.Pos().Line)
		}
	}
	if len(stmts) == 0 && keepLast {
		c.pushSigil(sc, "nil", 0)
	}
	return nil
}

func (c *Compiler) compileNode(n parser.Node, sc *scope) *diag.Error {
	line := n.Pos().Line
	switch node := n.(type) {
	case *parser.Number:
		return c.compileNumber(node, sc)
	case *parser.String:
		idx := sc.proto.addConst(Const{Kind: ConstString, Str: node.Value})
		sc.proto.emit(bytecode.OpPushConst, idx, 0, line)
		return nil
	case *parser.Sigil:
		c.pushSigil(sc, node.Name, line)
		return nil
	case *parser.Ident:
		return c.compileIdent(node, sc)
	case *parser.Assign:
		return c.compileAssign(node, sc)
	case *parser.BlockExpr:
		return c.compileBlockExpr(node, sc)
	case *parser.Send:
		return c.compileSend(node, sc)
	case *parser.RecordLit:
		return c.compileRecordLit(node, sc)
	case *parser.ListLit:
		return c.compileListLit(node, sc)
	case *parser.MakeExpr:
		return c.compileMakeExpr(node, sc)
	case *parser.Tuple:
		return c.compileStatements(node.Children, sc, true)
	default:
		return diag.New(diag.KindMalformedExpression, c.srcName, diag.TokenRef{Row: line}, "compiler: unsupported node")
	}
}

func (c *Compiler) compileNumber(n *parser.Number, sc *scope) *diag.Error {
	f, err := strconv.ParseFloat(n.Text, 64)
	if err != nil {
		// Fall back to base-prefixed integer literals (0x...).
		i, ierr := strconv.ParseInt(n.Text, 0, 64)
		if ierr != nil {
			return diag.New(diag.KindMalformedExpression, c.srcName, tokenRefOf(n), "invalid number literal "+n.Text)
		}
		f = float64(i)
	}
	idx := sc.proto.addConst(Const{Kind: ConstNumber, Num: f})
	sc.proto.emit(bytecode.OpPushConst, idx, 0, n.Pos().Line)
	return nil
}

func tokenRefOf(n parser.Node) diag.TokenRef {
	b, e := n.Tokens()
	return diag.TokenRef{
		Kind: b.Type.String(), Row: b.Pos.Line, ColBegin: b.Pos.Column, ColEnd: e.EndPos.Column,
		ByteBegin: b.Pos.Offset, ByteEnd: e.EndPos.Offset,
	}
}

func (c *Compiler) pushSigil(sc *scope, name string, line int) {
	idx := sc.proto.addConst(Const{Kind: ConstSigil, Str: name})
	sc.proto.emit(bytecode.OpPushConst, idx, 0, line)
}

func (c *Compiler) compileIdent(n *parser.Ident, sc *scope) *diag.Error {
	if slot, ok := sc.localIndex(n.Name); ok {
		sc.proto.emit(bytecode.OpPushLocal, int32(slot), 0, n.Pos().Line)
		return nil
	}
	if idx, ok := resolveUpvalue(sc, n.Name); ok {
		sc.proto.emit(bytecode.OpPushUpvalue, int32(idx), 0, n.Pos().Line)
		return nil
	}
	return diag.New(diag.KindUnboundSymbol, c.srcName, tokenRefOf(n), "unbound symbol "+n.Name)
}

// resolveUpvalue walks outward through enclosing scopes looking for name,
// adding an UpvalueDesc chain to every intermediate Prototype so a
// doubly-nested block can still reach an outer local (spec.md §3.5
// "upvalues").
func resolveUpvalue(sc *scope, name string) (int, bool) {
	if sc.parent == nil {
		return 0, false
	}
	if slot, ok := sc.parent.localIndex(name); ok {
		return addUpvalue(sc.proto, UpvalueDesc{Name: name, FromParentLoc: true, Index: slot}), true
	}
	if idx, ok := resolveUpvalue(sc.parent, name); ok {
		return addUpvalue(sc.proto, UpvalueDesc{Name: name, FromParentLoc: false, Index: idx}), true
	}
	return 0, false
}

func addUpvalue(p *Prototype, d UpvalueDesc) int {
	for i, existing := range p.Upvalues {
		if existing.Name == d.Name {
			return i
		}
	}
	p.Upvalues = append(p.Upvalues, d)
	return len(p.Upvalues) - 1
}

// compileAssign implements spec.md §4.4's `=` special form. A single
// plain target is a direct store. Multiple targets (or any splat target)
// destructure the already-evaluated RHS: positionally by index for a
// `*rest` list-splat (or no splat at all), or by key for a `**rest`
// record-splat — the plain target names double as the keys to pull out
// of the RHS record in that case.
func (c *Compiler) compileAssign(n *parser.Assign, sc *scope) *diag.Error {
	line := n.Pos().Line
	if err := c.compileNode(n.RHS, sc); err != nil {
		return err
	}

	if len(n.Targets) == 1 && n.Targets[0].Splat == parser.SplatNone {
		sc.proto.emit(bytecode.OpDup, 0, 0, line)
		return c.storeName(n.Targets[0].Name, sc, line)
	}

	tmp := sc.declare("$assign$")
	sc.proto.emit(bytecode.OpStoreLocal, int32(tmp), 0, line)

	hasRecordSplat := false
	for _, t := range n.Targets {
		if t.Splat == parser.SplatRecord {
			hasRecordSplat = true
		}
	}

	if hasRecordSplat {
		var consumed []string
		for _, t := range n.Targets {
			if t.Splat != parser.SplatNone {
				continue
			}
			consumed = append(consumed, t.Name)
		}
		for _, t := range n.Targets {
			if t.Splat == parser.SplatRecord {
				namesIdx := sc.proto.addConst(Const{Kind: ConstNameList, Names: consumed})
				sc.proto.emit(bytecode.OpDestructureRestRecord, int32(tmp), namesIdx, line)
			} else {
				keyIdx := sc.proto.addConst(Const{Kind: ConstMessageName, Str: t.Name})
				sc.proto.emit(bytecode.OpDestructureKey, int32(tmp), keyIdx, line)
			}
			if err := c.storeName(t.Name, sc, line); err != nil {
				return err
			}
		}
	} else {
		idx := int32(0)
		for _, t := range n.Targets {
			if t.Splat == parser.SplatList {
				sc.proto.emit(bytecode.OpDestructureRestList, int32(tmp), idx, line)
			} else {
				sc.proto.emit(bytecode.OpDestructureIndex, int32(tmp), idx, line)
				idx++
			}
			if err := c.storeName(t.Name, sc, line); err != nil {
				return err
			}
		}
	}

	sc.proto.emit(bytecode.OpPushLocal, int32(tmp), 0, line)
	return nil
}

// storeName binds value into a local slot for name, rejecting
// reassignment of a name captured as an upvalue from an enclosing block
// (spec.md §4.4 captured-variable-reassignment rejection).
func (c *Compiler) storeName(name string, sc *scope, line int) *diag.Error {
	if _, isUp := resolveUpvalueReadOnly(sc, name); isUp {
		if _, ownLocal := sc.localIndex(name); !ownLocal {
			return diag.New(diag.KindCapturedAssignment, c.srcName, diag.TokenRef{Row: line},
				"cannot reassign "+name+": it is captured from an enclosing block")
		}
	}
	slot, ok := sc.localIndex(name)
	if !ok {
		slot = sc.declare(name)
	}
	sc.proto.emit(bytecode.OpStoreLocal, int32(slot), 0, line)
	return nil
}

// resolveUpvalueReadOnly mirrors resolveUpvalue without mutating the
// Prototype's upvalue table, used purely to detect the captured-variable
// case above.
func resolveUpvalueReadOnly(sc *scope, name string) (int, bool) {
	if sc.parent == nil {
		return 0, false
	}
	if slot, ok := sc.parent.localIndex(name); ok {
		return slot, true
	}
	return resolveUpvalueReadOnly(sc.parent, name)
}

func (c *Compiler) compileBlockExpr(n *parser.BlockExpr, sc *scope) *diag.Error {
	child := &Prototype{Name: "block"}
	childScope := newScope(sc, child)
	for _, p := range n.Params {
		childScope.declare(p)
	}
	if err := c.compileStatements(n.Body.Children, childScope, true); err != nil {
		return err
	}
	child.emit(bytecode.OpReturn, 0, 0, n.Pos().Line)
	child.NumParams = len(n.Params)

	idx := sc.proto.addConst(Const{Kind: ConstPrototype, Proto: child})
	sc.proto.emit(bytecode.OpMakeBlock, idx, 0, n.Pos().Line)
	return nil
}

func (c *Compiler) compileSend(n *parser.Send, sc *scope) *diag.Error {
	line := n.Pos().Line
	if len(n.LHS.Children) != 1 {
		return diag.New(diag.KindMalformedExpression, c.srcName, tokenRefOf(n), "send receiver must be a single expression")
	}
	if err := c.compileNode(n.LHS.Children[0], sc); err != nil {
		return err
	}
	for _, arg := range n.RHS.Children {
		if err := c.compileNode(arg, sc); err != nil {
			return err
		}
	}
	msgIdx := sc.proto.addConst(Const{Kind: ConstMessageName, Str: n.Msg.Text})
	cacheIdx := sc.proto.addCache()
	op := bytecode.OpSend
	if len(n.RHS.Children) == 0 {
		op = bytecode.OpSendProperty
	}
	sc.proto.emit3(op, msgIdx, cacheIdx, int32(len(n.RHS.Children)), line)
	return nil
}

func (c *Compiler) compileRecordLit(n *parser.RecordLit, sc *scope) *diag.Error {
	for i := range n.Keys {
		sig, ok := n.Keys[i].(*parser.Sigil)
		if !ok {
			return diag.New(diag.KindMalformedExpression, c.srcName, tokenRefOf(n.Keys[i]), "record key must be a name")
		}
		idx := sc.proto.addConst(Const{Kind: ConstMessageName, Str: sig.Name})
		sc.proto.emit(bytecode.OpPushConst, idx, 0, n.Pos().Line)
		if err := c.compileNode(n.Values[i], sc); err != nil {
			return err
		}
	}
	sc.proto.emit(bytecode.OpMakeRecord, int32(len(n.Keys)), 0, n.Pos().Line)
	return nil
}

func (c *Compiler) compileListLit(n *parser.ListLit, sc *scope) *diag.Error {
	for _, e := range n.Elems {
		if err := c.compileNode(e, sc); err != nil {
			return err
		}
	}
	sc.proto.emit(bytecode.OpMakeList, int32(len(n.Elems)), 0, n.Pos().Line)
	return nil
}

func (c *Compiler) compileMakeExpr(n *parser.MakeExpr, sc *scope) *diag.Error {
	if op, ok := builtinMakeTypes[n.Type.Text]; ok {
		for _, a := range n.Args.Children {
			if err := c.compileNode(a, sc); err != nil {
				return err
			}
		}
		sc.proto.emit(op, int32(len(n.Args.Children)), 0, n.Pos().Line)
		return nil
	}
	// Unknown type name: fall back to a generic `make:` send against the
	// named box/type, resolved by the VM's type registry at run time.
	typeIdx := sc.proto.addConst(Const{Kind: ConstTypeRef, Str: n.Type.Text})
	sc.proto.emit(bytecode.OpPushConst, typeIdx, 0, n.Pos().Line)
	for _, a := range n.Args.Children {
		if err := c.compileNode(a, sc); err != nil {
			return err
		}
	}
	msgIdx := sc.proto.addConst(Const{Kind: ConstMessageName, Str: "make:"})
	cacheIdx := sc.proto.addCache()
	sc.proto.emit3(bytecode.OpSend, msgIdx, cacheIdx, int32(len(n.Args.Children)), n.Pos().Line)
	return nil
}
