package vm

import (
	"context"
	"fmt"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/gab-lang/gab/internal/bytecode"
	"github.com/gab-lang/gab/internal/compiler"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/value"
)

// Native is a message implementation registered against either a concrete
// type name (spec.md's Box types) or a value.Kind. It receives the
// receiver and already-evaluated positional args and returns a result or
// an error.
type Native func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error)

// Dispatcher resolves a (receiver, message) pair to a Native
// implementation, following the tiered protocol named in spec.md §4.5:
// no-implementation check, then type-matched, then kind-matched, then a
// general fallback, then property-matched (a zero-arg record-key read).
// Every send site's inline cache is populated from whichever tier
// actually answered the lookup.
type Dispatcher struct {
	byType map[string]map[string]Native
	byKind map[value.Kind]map[string]Native
	general map[string]Native

	// messages collects every registered selector, for fuzzy "did you
	// mean" suggestions on a dispatch miss.
	messages map[string]bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		byType:  map[string]map[string]Native{},
		byKind:  map[value.Kind]map[string]Native{},
		general: map[string]Native{},
		messages: map[string]bool{},
	}
}

// RegisterType binds a Native implementation to a named Box type
// (spec.md §4.2) for a given message.
func (d *Dispatcher) RegisterType(typeName, message string, fn Native) {
	m, ok := d.byType[typeName]
	if !ok {
		m = map[string]Native{}
		d.byType[typeName] = m
	}
	m[message] = fn
	d.messages[message] = true
}

// RegisterKind binds a Native implementation to every value of a given
// Kind (e.g. every Number, every Record) for a given message.
func (d *Dispatcher) RegisterKind(k value.Kind, message string, fn Native) {
	m, ok := d.byKind[k]
	if !ok {
		m = map[string]Native{}
		d.byKind[k] = m
	}
	m[message] = fn
	d.messages[message] = true
}

// RegisterGeneral binds a message implementation shared by every value
// regardless of type or kind (e.g. `==`, `class`).
func (d *Dispatcher) RegisterGeneral(message string, fn Native) {
	d.general[message] = fn
	d.messages[message] = true
}

func (d *Dispatcher) lookup(typeName string, k value.Kind, message string) (Native, bytecode.CacheKind, bool) {
	if typeName != "" {
		if m, ok := d.byType[typeName]; ok {
			if fn, ok := m[message]; ok {
				return fn, bytecode.CacheTypeMatched, true
			}
		}
	}
	if m, ok := d.byKind[k]; ok {
		if fn, ok := m[message]; ok {
			return fn, bytecode.CacheKindMatched, true
		}
	}
	if fn, ok := d.general[message]; ok {
		return fn, bytecode.CacheGeneral, true
	}
	return nil, bytecode.CacheMiss, false
}

// suggest returns a "did you mean X" note for an unresolved message,
// grounded on the teacher's fuzzy.RankFindFold-based closest-match
// lookup (runtime/planner/planner.go's findClosestMatch).
func (d *Dispatcher) suggest(message string) string {
	candidates := make([]string, 0, len(d.messages))
	for m := range d.messages {
		candidates = append(candidates, m)
	}
	ranks := fuzzy.RankFindFold(message, candidates)
	if len(ranks) > 0 {
		return "did you mean " + ranks[0].Target + "?"
	}
	return ""
}

// typeNameOf resolves a receiver's Box type name, or "" if it is not a
// Box instance (a plain Record, List, Number, etc. dispatches purely by
// Kind). A *box.Box reports its TypeName directly; a Record reports its
// `__type__` key if it has one (spec.md §4.2's Boxed-Record convention).
func (vm *VM) typeNameOf(v value.Value) string {
	if b := vm.boxOf(v); b != nil {
		return b.TypeName
	}
	r := vm.recordOf(v)
	if r == nil {
		return ""
	}
	name, ok := vm.Records.At(r, vm.messageValue("__type__"))
	if !ok {
		return ""
	}
	return vm.keyName(name)
}

// TypeNameOf is the exported form of typeNameOf, for a host embedder
// (pkg/gab) driving dispatch introspection (`impl()`) from outside the
// compiled bytecode loop.
func (vm *VM) TypeNameOf(v value.Value) string { return vm.typeNameOf(v) }

// StringValue is the exported form of stringValue, letting a host
// embedder build string Values to hand back as send results.
func (vm *VM) StringValue(s string) value.Value { return vm.stringValue(s) }

// MessageValue is the exported form of messageValue.
func (vm *VM) MessageValue(name string) value.Value { return vm.messageValue(name) }

// Send resolves and invokes a message against recv exactly as a compiled
// OpSend would, for a host embedder's `send`/`asend` natives (spec.md §6)
// that need to dispatch without going through a Block's own bytecode.
func (vm *VM) Send(ctx context.Context, recv value.Value, message string, args []value.Value) (value.Value, *diag.Error) {
	typeName := vm.typeNameOf(recv)
	kind := recv.Kind()
	fn, _, ok := vm.Dispatch.lookup(typeName, kind, message)
	if !ok {
		note := vm.Dispatch.suggest(message)
		err := diag.New(diag.KindNoImplementation, vm.srcName, diag.TokenRef{},
			fmt.Sprintf("no implementation of %s for %s", message, kind))
		if note != "" {
			err = err.WithNote(note)
		}
		return value.Undefined, err
	}
	return fn(ctx, vm, recv, args)
}

// Lookup is the exported form of lookup, for impl()'s introspection use.
func (d *Dispatcher) Lookup(typeName string, k value.Kind, message string) (Native, bytecode.CacheKind, bool) {
	return d.lookup(typeName, k, message)
}

// HasType reports whether message already has a type-matched
// implementation registered for receiverType, so def() can enforce
// spec.md's "duplicate definitions fail" rule before calling
// RegisterType.
func (d *Dispatcher) HasType(receiverType, message string) bool {
	m, ok := d.byType[receiverType]
	if !ok {
		return false
	}
	_, ok = m[message]
	return ok
}

// HasKind is HasType's kind-matched counterpart.
func (d *Dispatcher) HasKind(k value.Kind, message string) bool {
	m, ok := d.byKind[k]
	if !ok {
		return false
	}
	_, ok = m[message]
	return ok
}

// HasGeneral is HasType's general-tier counterpart.
func (d *Dispatcher) HasGeneral(message string) bool {
	_, ok := d.general[message]
	return ok
}

// dispatchSend implements OpSend/OpSendProperty/OpTailSend/the
// cache-specialized send opcodes: pop the receiver and args off the
// frame's operand stack, resolve an implementation through the
// Dispatcher, and push its result. A resolved call site records the
// answering tier in its inline cache; the cache is not consulted on later
// sends, so every send repeats the full tiered lookup.
func (vm *VM) dispatchSend(ctx context.Context, f *frame, proto *compiler.Prototype, ins bytecode.Instr) *diag.Error {
	argc := int(ins.C)
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	recv := f.pop()
	message := proto.Consts[ins.A].Str

	typeName := vm.typeNameOf(recv)
	kind := recv.Kind()

	fn, cacheKind, ok := vm.Dispatch.lookup(typeName, kind, message)
	if !ok {
		if ins.Op == bytecode.OpSendProperty {
			if r := vm.recordOf(recv); r != nil {
				if v, found := vm.Records.At(r, vm.messageValue(message)); found {
					vm.cacheStore(proto, ins, kind, bytecode.CachePropertyMatched)
					f.push(v)
					return nil
				}
			}
		}
		note := vm.Dispatch.suggest(message)
		err := diag.New(diag.KindNoImplementation, vm.srcName, diag.TokenRef{Row: ins.Line},
			fmt.Sprintf("no implementation of %s for %s", message, kind))
		if note != "" {
			err = err.WithNote(note)
		}
		return err
	}

	vm.cacheStore(proto, ins, kind, cacheKind)

	result, err := fn(ctx, vm, recv, args)
	if err != nil {
		return err
	}
	f.push(result)
	return nil
}

// cacheStore records the kind that resolved at this send site into its
// inline cache, using the receiver's value.Kind (plus one) as the shape ID
// for every receiver, Records included.
func (vm *VM) cacheStore(proto *compiler.Prototype, ins bytecode.Instr, kind value.Kind, ck bytecode.CacheKind) {
	if int(ins.B) >= len(proto.Caches) {
		return
	}
	proto.Caches[ins.B].Insert(bytecode.CacheSlot{ShapeID: uint64(kind) + 1, Kind: ck})
}
