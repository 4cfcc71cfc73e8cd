package gab

import (
	"github.com/gab-lang/gab/internal/box"
	"github.com/gab-lang/gab/internal/value"
)

// NewBox allocates a spec.md §3.8 Box: an opaque heap object wrapping a
// type name, a data payload, and optional destructor/visitor callbacks a
// native module supplies to participate in collection and teardown.
// Unlike a `Box.make:` literal compiled from Gab source (internal/vm's
// makeBox, string-only), this is the host-side constructor natives
// reach for when Native holds a live Go resource (a file handle, a
// socket, a DB connection) rather than a byte payload.
func (e *Engine) NewBox(typeName string, data []byte, native any, destructor func(*box.Box), visitor func(*box.Box) []value.Value) value.Value {
	b := box.New(typeName, data, destructor, visitor)
	b.Native = native
	return e.vm.Heap.Alloc(b)
}

// boxOf resolves a heap Value to its Box, or nil if it is not one.
func (e *Engine) boxOf(v value.Value) *box.Box {
	if !v.IsHeap() {
		return nil
	}
	b, _ := e.vm.Heap.Get(v).(*box.Box)
	return b
}

// BoxType implements the `boxtype` accessor.
func (e *Engine) BoxType(v value.Value) (string, bool) {
	b := e.boxOf(v)
	if b == nil {
		return "", false
	}
	return b.TypeName, true
}

// BoxData implements the `boxdata` accessor.
func (e *Engine) BoxData(v value.Value) ([]byte, bool) {
	b := e.boxOf(v)
	if b == nil {
		return nil, false
	}
	return b.Data, true
}

// BoxNative returns the Go-native payload a host module stashed in v via
// NewBox, or nil/false if v is not a Box or carries none.
func (e *Engine) BoxNative(v value.Value) (any, bool) {
	b := e.boxOf(v)
	if b == nil || b.Native == nil {
		return nil, false
	}
	return b.Native, true
}
