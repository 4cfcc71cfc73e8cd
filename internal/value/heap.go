package value

import "sync"

// HeapKind enumerates the heap-allocated object kinds of spec.md §3.1.
type HeapKind uint8

const (
	HeapString HeapKind = iota
	HeapBlock
	HeapNative
	HeapPrototype
	HeapRecord
	HeapRecordNode
	HeapShape
	HeapShapeList
	HeapBox
	HeapFiber
	HeapChannel
)

func (k HeapKind) String() string {
	names := [...]string{
		"String", "Block", "Native", "Prototype", "Record",
		"RecordNode", "Shape", "ShapeList", "Box", "Fiber", "Channel",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "HeapKind?"
}

// overflowRC is the sentinel reference count signalling that the real
// count lives in the Heap's overflow table (spec.md §3.1 "references ==
// INT8_MAX escapes to an overflow table").
const overflowRC int8 = 1<<7 - 1

// Header is embedded at the front of every heap object.
type Header struct {
	Kind       HeapKind
	Flags      uint8
	References int8
}

// Flag bits.
const (
	FlagNew uint8 = 1 << iota // object has not yet received its first real inc (§4.6)
)

func (h *Header) Head() *Header { return h }

func (h *Header) IsNew() bool     { return h.Flags&FlagNew != 0 }
func (h *Header) ClearNew()       { h.Flags &^= FlagNew }
func (h *Header) markNew()        { h.Flags |= FlagNew }

// Object is implemented by every heap-resident type across the runtime's
// packages (shape.Shape, record.Record, vm.Block, fiber.Fiber, ...).
type Object interface {
	Head() *Header
}

// Visitor is implemented by heap objects that themselves hold references
// to other heap Values (record.Record, vm.Block, box.Box's registered
// callback). internal/gcrt walks Visit() to cascade a decrement into a
// freed object's children (spec.md §4.6 step 5, "destroyed objects' own
// outgoing heap references are decremented").
type Visitor interface {
	Object
	Visit() []Value
}

// Heap is the process/engine-wide table mapping 48-bit handles to heap
// objects. It never moves or resizes objects in place (handles are stable
// for the object's lifetime), mirroring the fixed-address assumption the
// NaN-boxed pointer payload depends on in the original C implementation —
// here realized as a stable slice index instead of an unsafe pointer.
type Heap struct {
	mu    sync.Mutex
	slots []Object
	free  []uint32

	overflowMu sync.Mutex
	overflow   map[uint32]int64 // handle -> true refcount, once it has escaped int8
}

func NewHeap() *Heap {
	// Handle 0 is reserved so the zero Value never aliases a live object.
	return &Heap{slots: make([]Object, 1), overflow: make(map[uint32]int64)}
}

// Alloc installs obj in the table and returns a heap Value wrapping its
// handle. The object's Header starts flagged FlagNew per §4.6's "newly
// allocated object carries the NEW flag until its first real inc".
func (h *Heap) Alloc(obj Object) Value {
	obj.Head().markNew()
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		h.slots[idx] = obj
		return FromHandle(idx)
	}
	idx := uint32(len(h.slots))
	h.slots = append(h.slots, obj)
	return FromHandle(idx)
}

// Get resolves a heap Value to its Object. Returns nil if the handle was
// freed (a dangling Value, which should never occur in correct GC usage).
func (h *Heap) Get(v Value) Object {
	if !v.IsHeap() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := v.Handle()
	if int(idx) >= len(h.slots) {
		return nil
	}
	return h.slots[idx]
}

// Free clears a handle's slot, releasing the Go-level reference so that
// Go's own GC may reclaim the object once the collector (internal/gcrt)
// has decided the refcount has reached zero.
func (h *Heap) Free(handle uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(handle) >= len(h.slots) {
		return
	}
	h.slots[handle] = nil
	h.free = append(h.free, handle)
	h.overflowMu.Lock()
	delete(h.overflow, handle)
	h.overflowMu.Unlock()
}

// Live reports how many handles currently reference a non-nil object,
// used by tests asserting "after destroy, no heap object remains
// allocated" (spec.md §8).
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, o := range h.slots {
		if o != nil {
			n++
		}
	}
	return n
}

// IncRef bumps an object's reference count, escaping to the overflow table
// when the embedded int8 would wrap.
func (h *Heap) IncRef(handle uint32, obj Object) {
	hdr := obj.Head()
	if hdr.References == overflowRC {
		h.overflowMu.Lock()
		h.overflow[handle]++
		h.overflowMu.Unlock()
		return
	}
	hdr.References++
	if hdr.References == overflowRC {
		h.overflowMu.Lock()
		h.overflow[handle] = int64(overflowRC)
		h.overflowMu.Unlock()
	}
}

// DecRef decrements an object's reference count and reports whether it
// reached zero (the caller should then queue the object for destruction).
func (h *Heap) DecRef(handle uint32, obj Object) bool {
	hdr := obj.Head()
	if hdr.References == overflowRC {
		h.overflowMu.Lock()
		defer h.overflowMu.Unlock()
		h.overflow[handle]--
		if h.overflow[handle] > int64(overflowRC) {
			return false
		}
		// Fell back under the overflow threshold; resume using the
		// embedded counter.
		hdr.References = int8(h.overflow[handle])
		delete(h.overflow, handle)
		return hdr.References <= 0
	}
	hdr.References--
	return hdr.References <= 0
}
