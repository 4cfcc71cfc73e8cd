// Package box implements spec.md §3.8: the opaque heap object external
// modules use to wrap host resources (file handles, sockets, database
// connections) that don't fit any of the runtime's own heap kinds.
//
// Grounded on internal/channel's "embed value.Header, store Go-native
// fields" shape, generalized from a single-purpose rendezvous cell to an
// open-ended payload plus the destructor/visitor pair spec.md names.
package box

import "github.com/gab-lang/gab/internal/value"

// Box is a heap object (embeds value.Header so it lives in a value.Heap
// table and is reference-counted by internal/gcrt like any other heap
// kind). TypeName is the box's declared type, usually set by the module
// that constructed it and read back by `boxtype`/type-matched dispatch.
// Data carries the module's own payload; Native holds an arbitrary Go
// value a host embedder wants to round-trip through the box without
// marshaling it into bytes first (spec.md's "data: bytes[]" generalized
// to also accept a live Go object, since a box wrapping an *os.File or
// *sql.DB has no useful byte encoding).
type Box struct {
	value.Header

	TypeName string
	Data     []byte
	Native   any

	// Destructor runs once, at the point the collector frees this box
	// (spec.md §3.8's per-box destructor), letting a module release
	// whatever Native wraps. Visitor reports the Values a box holds
	// live, for a module that builds a cyclic graph through boxes to
	// participate in collection (spec.md §8 "Cyclic graphs vs. pure
	// RC" — this is the module's half of that accepted user contract).
	Destructor func(*Box)
	Visitor    func(*Box) []value.Value
}

// New allocates a Box carrying data under typeName. destructor/visitor
// may be nil.
func New(typeName string, data []byte, destructor func(*Box), visitor func(*Box) []value.Value) *Box {
	return &Box{
		Header:     value.Header{Kind: value.HeapBox},
		TypeName:   typeName,
		Data:       data,
		Destructor: destructor,
		Visitor:    visitor,
	}
}

// Visit reports the Values b holds live, or nil if it registered no
// visitor.
func (b *Box) Visit() []value.Value {
	if b.Visitor == nil {
		return nil
	}
	return b.Visitor(b)
}

// Destroy runs b's destructor, if any. Called by the collector once,
// when b's refcount reaches zero.
func (b *Box) Destroy() {
	if b.Destructor != nil {
		b.Destructor(b)
	}
}
