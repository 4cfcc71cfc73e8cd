package compiler

import (
	"testing"

	"github.com/gab-lang/gab/internal/bytecode"
	"github.com/gab-lang/gab/internal/parser"
)

func mustCompile(t *testing.T, src string) *Prototype {
	t.Helper()
	prog, perr := parser.Parse("test", src)
	if perr != nil {
		t.Fatalf("parse error: %s", perr.Message)
	}
	proto, cerr := New("test").Compile(prog)
	if cerr != nil {
		t.Fatalf("compile error: %s", cerr.Message)
	}
	return proto
}

func lastOp(p *Prototype, skip int) bytecode.Op {
	return p.Code[len(p.Code)-1-skip].Op
}

func TestCompileNumberLiteral(t *testing.T) {
	proto := mustCompile(t, "1")
	if proto.Code[0].Op != bytecode.OpPushConst {
		t.Fatalf("got %s", proto.Code[0].Op)
	}
	if proto.Consts[0].Num != 1 {
		t.Fatalf("got const %#v", proto.Consts[0])
	}
}

func TestCompileSimpleAssignRoundTrips(t *testing.T) {
	proto := mustCompile(t, "x = 1\nx")
	foundStore, foundLoad := false, false
	for _, ins := range proto.Code {
		if ins.Op == bytecode.OpStoreLocal {
			foundStore = true
		}
		if ins.Op == bytecode.OpPushLocal {
			foundLoad = true
		}
	}
	if !foundStore || !foundLoad {
		t.Fatalf("expected a store and a later load, got %#v", proto.Code)
	}
}

func TestCompileUnboundIdentIsError(t *testing.T) {
	prog, perr := parser.Parse("test", "x")
	if perr != nil {
		t.Fatalf("parse error: %s", perr.Message)
	}
	_, err := New("test").Compile(prog)
	if err == nil {
		t.Fatalf("expected unbound-symbol error")
	}
	if err.Kind != "unbound-symbol" {
		t.Fatalf("got kind %s", err.Kind)
	}
}

func TestCompileBinarySendEmitsSend(t *testing.T) {
	proto := mustCompile(t, "1 + 2")
	var found bool
	for i, ins := range proto.Code {
		if ins.Op == bytecode.OpSend {
			found = true
			if proto.Consts[ins.A].Str != "+" {
				t.Fatalf("send at %d has wrong message const: %#v", i, proto.Consts[ins.A])
			}
		}
	}
	if !found {
		t.Fatalf("expected an OpSend, got %#v", proto.Code)
	}
}

func TestCompileBlockExprCapturesUpvalue(t *testing.T) {
	proto := mustCompile(t, "x = 1\ny => y + x")
	var blockConst *Const
	for i := range proto.Consts {
		if proto.Consts[i].Kind == ConstPrototype {
			blockConst = &proto.Consts[i]
		}
	}
	if blockConst == nil {
		t.Fatalf("expected a nested block Prototype constant")
	}
	if len(blockConst.Proto.Upvalues) != 1 || blockConst.Proto.Upvalues[0].Name != "x" {
		t.Fatalf("expected block to capture 'x' as an upvalue, got %#v", blockConst.Proto.Upvalues)
	}
}

func TestCompileCapturedReassignmentIsError(t *testing.T) {
	_, perr := parser.Parse("test", "x = 1\nf = y => do\n  x = 2\n  x\nend")
	if perr != nil {
		t.Fatalf("parse error: %s", perr.Message)
	}
	prog, _ := parser.Parse("test", "x = 1\nf = y => do\n  x = 2\n  x\nend")
	_, err := New("test").Compile(prog)
	if err == nil {
		t.Fatalf("expected captured-assignment error")
	}
	if err.Kind != "captured-assignment" {
		t.Fatalf("got kind %s", err.Kind)
	}
}

func TestCompileListDestructureWithSplat(t *testing.T) {
	proto := mustCompile(t, "head, *tail = [1, 2, 3]")
	var sawIndex, sawRest bool
	for _, ins := range proto.Code {
		if ins.Op == bytecode.OpDestructureIndex {
			sawIndex = true
		}
		if ins.Op == bytecode.OpDestructureRestList {
			sawRest = true
		}
	}
	if !sawIndex || !sawRest {
		t.Fatalf("expected both index and rest-list destructure ops, got %#v", proto.Code)
	}
}

func TestCompileRecordDestructureWithSplat(t *testing.T) {
	proto := mustCompile(t, "a, **rest = {a: 1, b: 2}")
	var sawKey, sawRestRecord bool
	for _, ins := range proto.Code {
		if ins.Op == bytecode.OpDestructureKey {
			sawKey = true
		}
		if ins.Op == bytecode.OpDestructureRestRecord {
			sawRestRecord = true
		}
	}
	if !sawKey || !sawRestRecord {
		t.Fatalf("expected both key and rest-record destructure ops, got %#v", proto.Code)
	}
}

func TestCompileMakeExprBuiltinType(t *testing.T) {
	proto := mustCompile(t, "Channel.make: 0")
	if lastOp(proto, 1) != bytecode.OpMakeChannel {
		t.Fatalf("got %s", lastOp(proto, 1))
	}
}

func TestCompileRecordLiteral(t *testing.T) {
	proto := mustCompile(t, "{x: 1, y: 2}")
	if lastOp(proto, 1) != bytecode.OpMakeRecord {
		t.Fatalf("got %s", lastOp(proto, 1))
	}
}
