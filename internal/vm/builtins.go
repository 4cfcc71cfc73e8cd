package vm

import (
	"context"
	"fmt"

	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/value"
)

// registerBuiltins installs the kind-matched and general-tier
// implementations every engine needs regardless of what Boxes a program
// defines: arithmetic and comparison on Number, concatenation and
// comparison on string-like values, and the handful of property-style
// sends (length, at:, put:) that Record/List receivers answer without a
// user-defined Box (spec.md §4.5's "kind-matched"/"general" tiers).
func registerBuiltins(d *Dispatcher) {
	registerNumberOps(d)
	registerStringOps(d)
	registerRecordOps(d)
	registerChannelOps(d)
	registerBoxOps(d)
	registerGeneralOps(d)
}

func numArg(v value.Value) (float64, bool) {
	if !v.IsNumber() {
		return 0, false
	}
	return v.AsNumber(), true
}

func typeErr(vm *VM, line int, msg string) *diag.Error {
	return diag.New(diag.KindTypeMismatch, vm.srcName, diag.TokenRef{}, msg)
}

func registerNumberOps(d *Dispatcher) {
	binop := func(name string, fn func(a, b float64) float64) {
		d.RegisterKind(value.KindNumber, name, func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
			if len(args) != 1 {
				return value.Undefined, typeErr(vm, 0, name+" expects exactly one argument")
			}
			b, ok := numArg(args[0])
			if !ok {
				return value.Undefined, typeErr(vm, 0, name+" expects a number argument")
			}
			return value.Number(fn(recv.AsNumber(), b)), nil
		})
	}
	binop("+", func(a, b float64) float64 { return a + b })
	binop("-", func(a, b float64) float64 { return a - b })
	binop("*", func(a, b float64) float64 { return a * b })
	binop("/", func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return a / b
	})

	cmp := func(name string, fn func(a, b float64) bool) {
		d.RegisterKind(value.KindNumber, name, func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
			if len(args) != 1 {
				return value.Undefined, typeErr(vm, 0, name+" expects exactly one argument")
			}
			b, ok := numArg(args[0])
			if !ok {
				return value.Undefined, typeErr(vm, 0, name+" expects a number argument")
			}
			return value.Bool(fn(recv.AsNumber(), b)), nil
		})
	}
	cmp("<", func(a, b float64) bool { return a < b })
	cmp(">", func(a, b float64) bool { return a > b })
	cmp("<=", func(a, b float64) bool { return a <= b })
	cmp(">=", func(a, b float64) bool { return a >= b })
}

// bytesOf returns the raw bytes backing a string-like Value (short
// inline form or interned long form), and false if v is neither.
func (vm *VM) bytesOf(v value.Value) ([]byte, bool) {
	if v.IsShortString() || v.IsMessage() || v.IsBinary() {
		return v.ShortBytes(), true
	}
	if v.IsHeap() {
		if s := vm.Strings.Lookup(v); s != nil {
			return s.Bytes, true
		}
	}
	return nil, false
}

func registerStringOps(d *Dispatcher) {
	concat := func(k value.Kind) {
		d.RegisterKind(k, "+", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
			if len(args) != 1 {
				return value.Undefined, typeErr(vm, 0, "+ expects exactly one argument")
			}
			a, ok := vm.bytesOf(recv)
			if !ok {
				return value.Undefined, typeErr(vm, 0, "+ expects a string receiver")
			}
			b, ok := vm.bytesOf(args[0])
			if !ok {
				return value.Undefined, typeErr(vm, 0, "+ expects a string argument")
			}
			out := make([]byte, 0, len(a)+len(b))
			out = append(out, a...)
			out = append(out, b...)
			return vm.stringValue(string(out)), nil
		})
		d.RegisterKind(k, "length", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
			b, ok := vm.bytesOf(recv)
			if !ok {
				return value.Undefined, typeErr(vm, 0, "length expects a string receiver")
			}
			return value.Int(int64(len(b))), nil
		})
	}
	concat(value.KindShortString)
	concat(value.KindBinary)
}

func registerRecordOps(d *Dispatcher) {
	d.RegisterKind(value.KindHeap, "length", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		r := vm.recordOf(recv)
		if r == nil {
			return value.Undefined, typeErr(vm, 0, "length expects a Record or List receiver")
		}
		return value.Int(int64(vm.Records.Len(r))), nil
	})
	d.RegisterKind(value.KindHeap, "at:", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		r := vm.recordOf(recv)
		if r == nil || len(args) != 1 {
			return value.Undefined, typeErr(vm, 0, "at: expects a Record/List receiver and one key")
		}
		if v, ok := vm.Records.At(r, args[0]); ok {
			return v, nil
		}
		return value.Undefined, diag.New(diag.KindKeyMissing, vm.srcName, diag.TokenRef{}, "key not found")
	})
	d.RegisterKind(value.KindHeap, "take:", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		r := vm.recordOf(recv)
		if r == nil || len(args) != 1 {
			return value.Undefined, typeErr(vm, 0, "take: expects a Record/List receiver and one key")
		}
		out := vm.Records.Take(r, args[0])
		vm.increfRecord(ctx, out)
		return out.Value(), nil
	})
}

// registerChannelOps adds Channel messages to the same KindHeap slot used
// by registerRecordOps above. "put:" is registered once here and branches
// on the receiver's concrete Go type, since Record and Channel share
// value.KindHeap and a Dispatcher slot is keyed by (kind, message), not
// by concrete type.
func registerChannelOps(d *Dispatcher) {
	d.RegisterKind(value.KindHeap, "put:", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		if ch := vm.channelOf(recv); ch != nil {
			if len(args) != 1 {
				return value.Undefined, typeErr(vm, 0, "put: expects exactly one value")
			}
			result, ok := ch.Put(ctx, args[0])
			if !ok {
				// A closed channel is a value, not a fiber failure (spec.md
				// §4.8: "subsequent puts return undefined"). A cancelled
				// context is the only case that actually fails the send.
				if sentinel, isSentinel := result.AsSentinel(); isSentinel && sentinel == value.SentinelUndefined {
					return value.Undefined, nil
				}
				return value.Undefined, diag.New(diag.KindOverflow, vm.srcName, diag.TokenRef{}, "put cancelled")
			}
			return value.Ok, nil
		}
		r := vm.recordOf(recv)
		if r == nil || len(args) != 2 {
			return value.Undefined, typeErr(vm, 0, "put: expects a Record/List receiver and (key, value)")
		}
		out := vm.Records.Put(r, args[0], args[1])
		vm.increfRecord(ctx, out)
		return out.Value(), nil
	})
	d.RegisterKind(value.KindHeap, "take", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		ch := vm.channelOf(recv)
		if ch == nil {
			return value.Undefined, typeErr(vm, 0, "take expects a Channel receiver")
		}
		v, ok := ch.Take(ctx)
		if !ok {
			// Closed: spec.md §8 "close(c) followed by take(c) returns
			// undefined". A cancelled context still fails the take.
			if sentinel, isSentinel := v.AsSentinel(); isSentinel && sentinel == value.SentinelUndefined {
				return value.Undefined, nil
			}
			return value.Undefined, diag.New(diag.KindOverflow, vm.srcName, diag.TokenRef{}, "take cancelled")
		}
		return v, nil
	})
	d.RegisterKind(value.KindHeap, "close", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		ch := vm.channelOf(recv)
		if ch == nil {
			return value.Undefined, typeErr(vm, 0, "close expects a Channel receiver")
		}
		ch.Close()
		return value.Ok, nil
	})
}

// registerBoxOps wires spec.md §6's boxdata/boxtype accessors, the two
// entries in the `valkind, ..., boxdata, boxtype, ...` accessor list that
// reach an opaque Box rather than a Record/Shape/String. Registered at
// KindHeap like the Record and Channel ops above, and dispatched by
// concrete Go type since all three share that Kind slot.
func registerBoxOps(d *Dispatcher) {
	d.RegisterKind(value.KindHeap, "boxdata", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		b := vm.boxOf(recv)
		if b == nil {
			return value.Undefined, typeErr(vm, 0, "boxdata expects a Box receiver")
		}
		return vm.Strings.Binary(b.Data), nil
	})
	d.RegisterKind(value.KindHeap, "boxtype", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		b := vm.boxOf(recv)
		if b == nil {
			return value.Undefined, typeErr(vm, 0, "boxtype expects a Box receiver")
		}
		return vm.stringValue(b.TypeName), nil
	})
}

func registerGeneralOps(d *Dispatcher) {
	d.RegisterGeneral("==", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		if len(args) != 1 {
			return value.Undefined, typeErr(vm, 0, "== expects exactly one argument")
		}
		return value.Bool(recv.Equal(args[0])), nil
	})
	d.RegisterGeneral("!=", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		if len(args) != 1 {
			return value.Undefined, typeErr(vm, 0, "!= expects exactly one argument")
		}
		return value.Bool(!recv.Equal(args[0])), nil
	})
	d.RegisterGeneral("class", func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		if name := vm.typeNameOf(recv); name != "" {
			return vm.messageValue(name), nil
		}
		return vm.messageValue(fmt.Sprint(recv.Kind())), nil
	})
	invoke := func(name string) {
		d.RegisterGeneral(name, func(ctx context.Context, vm *VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
			blk, ok := vm.Heap.Get(recv).(*Block)
			if !ok {
				return value.Undefined, typeErr(vm, 0, name+" expects a Block receiver")
			}
			return vm.Call(ctx, blk, args)
		})
	}
	invoke("call")
	invoke("call:")
}
