package vm

import (
	"context"

	"github.com/gab-lang/gab/internal/box"
	"github.com/gab-lang/gab/internal/channel"
	"github.com/gab-lang/gab/internal/compiler"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/record"
	"github.com/gab-lang/gab/internal/value"
)

// messageValue builds the canonical Value for a message/key name: the
// short inline form when it fits, otherwise an interned long Message
// (spec.md §3.2).
func (vm *VM) messageValue(name string) value.Value {
	if v, ok := value.ShortMessage(name); ok {
		return v
	}
	return vm.Strings.Message([]byte(name))
}

// stringValue builds the canonical Value for a literal string.
func (vm *VM) stringValue(s string) value.Value {
	if v, ok := value.ShortString([]byte(s)); ok {
		return v
	}
	return vm.Strings.String([]byte(s))
}

func (vm *VM) materialize(c compiler.Const) (value.Value, *diag.Error) {
	switch c.Kind {
	case compiler.ConstNumber:
		return value.Number(c.Num), nil
	case compiler.ConstString:
		return vm.stringValue(c.Str), nil
	case compiler.ConstBinary:
		return vm.Strings.Binary([]byte(c.Str)), nil
	case compiler.ConstMessageName:
		return vm.messageValue(c.Str), nil
	case compiler.ConstSigil:
		return vm.sigilValue(c.Str), nil
	case compiler.ConstTypeRef:
		return vm.messageValue(c.Str), nil
	case compiler.ConstPrototype:
		return value.Nil, nil // consumed directly by OpMakeBlock, never pushed raw
	default:
		return value.Undefined, diag.New(diag.KindMalformedExpression, vm.srcName, diag.TokenRef{}, "unknown constant kind")
	}
}

func (vm *VM) sigilValue(name string) value.Value {
	switch name {
	case "nil":
		return value.Nil
	case "true":
		return value.True
	case "false":
		return value.False
	case "ok":
		return value.Ok
	case "err":
		return value.Err
	case "none":
		return value.None
	default:
		return value.Nil
	}
}

// recordOf resolves a heap Value to its Record, or nil if it is not one.
func (vm *VM) recordOf(v value.Value) *record.Record {
	if !v.IsHeap() {
		return nil
	}
	obj := vm.Heap.Get(v)
	r, _ := obj.(*record.Record)
	return r
}

// channelOf resolves a heap Value to its Channel, or nil if it is not one.
func (vm *VM) channelOf(v value.Value) *channel.Channel {
	if !v.IsHeap() {
		return nil
	}
	obj := vm.Heap.Get(v)
	ch, _ := obj.(*channel.Channel)
	return ch
}

// boxOf resolves a heap Value to its Box, or nil if it is not one.
func (vm *VM) boxOf(v value.Value) *box.Box {
	if !v.IsHeap() {
		return nil
	}
	obj := vm.Heap.Get(v)
	b, _ := obj.(*box.Box)
	return b
}

func (vm *VM) indexList(v value.Value, i int) value.Value {
	r := vm.recordOf(v)
	if r == nil || i < 0 || i >= vm.Records.Len(r) {
		return value.Nil
	}
	return vm.Records.UVAt(r, i)
}

func (vm *VM) restList(ctx context.Context, v value.Value, start int) value.Value {
	r := vm.recordOf(v)
	if r == nil {
		return vm.Records.Empty().Value()
	}
	n := vm.Records.Len(r)
	out := vm.Records.Empty()
	idx := 0
	for i := start; i < n; i++ {
		out = vm.Records.Put(out, value.Int(int64(idx)), vm.Records.UVAt(r, i))
		idx++
	}
	vm.increfRecord(ctx, out)
	return out.Value()
}

func (vm *VM) recordGet(v value.Value, key string) value.Value {
	r := vm.recordOf(v)
	if r == nil {
		return value.Nil
	}
	val, ok := vm.Records.At(r, vm.messageValue(key))
	if !ok {
		return value.Nil
	}
	return val
}

func (vm *VM) restRecord(ctx context.Context, v value.Value, consumed []string) value.Value {
	r := vm.recordOf(v)
	if r == nil {
		return vm.Records.Empty().Value()
	}
	skip := map[string]bool{}
	for _, n := range consumed {
		skip[n] = true
	}
	out := vm.Records.Empty()
	n := vm.Records.Len(r)
	for i := 0; i < n; i++ {
		k := vm.Records.UKAt(r, i)
		name := vm.keyName(k)
		if skip[name] {
			continue
		}
		out = vm.Records.Put(out, k, vm.Records.UVAt(r, i))
	}
	vm.increfRecord(ctx, out)
	return out.Value()
}

func (vm *VM) keyName(k value.Value) string {
	if k.IsMessage() || k.IsShortString() {
		return string(k.ShortBytes())
	}
	if s := vm.Strings.Lookup(k); s != nil {
		return s.String()
	}
	return ""
}

func (vm *VM) makeRecord(ctx context.Context, f *frame, n int) (value.Value, *diag.Error) {
	r := vm.Records.Empty()
	// Key/value pairs were pushed key-then-value, n pairs total; pop in
	// reverse to restore source order.
	pairs := make([][2]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		val := f.pop()
		key := f.pop()
		pairs[i] = [2]value.Value{key, val}
	}
	for _, p := range pairs {
		r = vm.Records.Put(r, p[0], p[1])
	}
	vm.increfRecord(ctx, r)
	return r.Value(), nil
}

func (vm *VM) makeList(ctx context.Context, f *frame, n int) (value.Value, *diag.Error) {
	elems := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		elems[i] = f.pop()
	}
	r := vm.Records.Empty()
	for i, e := range elems {
		r = vm.Records.Put(r, value.Int(int64(i)), e)
	}
	vm.increfRecord(ctx, r)
	return r.Value(), nil
}

func (vm *VM) makeChannel(f *frame, nargs int) value.Value {
	for i := 0; i < nargs; i++ {
		f.pop()
	}
	return vm.Heap.Alloc(channel.New())
}

func (vm *VM) makeFiber(f *frame, nargs int) value.Value {
	args := make([]value.Value, nargs)
	for i := nargs - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	var blk *Block
	if len(args) > 0 {
		blk, _ = vm.Heap.Get(args[0]).(*Block)
	}
	return vm.Heap.Alloc(&Fiber{Header: value.Header{Kind: value.HeapFiber}, Block: blk})
}

// Fiber is the heap object a Fiber.make: literal produces; the scheduler
// in internal/fiber is what actually runs it.
type Fiber struct {
	value.Header
	Block *Block
}

// makeBox handles a `Box.make: typeName, data` literal. This in-language
// form only ever sees string-like args (a host module registers its
// destructor/visitor and richer Native payload directly through
// pkg/gab's constructor instead of through compiled bytecode).
func (vm *VM) makeBox(f *frame, nargs int) value.Value {
	args := make([]value.Value, nargs)
	for i := nargs - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	typeName := ""
	if len(args) > 0 {
		typeName = vm.keyName(args[0])
		if typeName == "" {
			if b, ok := vm.bytesOf(args[0]); ok {
				typeName = string(b)
			}
		}
	}
	var data []byte
	if len(args) > 1 {
		if b, ok := vm.bytesOf(args[1]); ok {
			data = append([]byte(nil), b...)
		}
	}
	return vm.Heap.Alloc(box.New(typeName, data, nil, nil))
}
