// Package record implements spec.md §3.4: a Record is the pair (shape,
// values), where values form a bit-partitioned vector trie of branching
// factor 32 indexed by the shape's key order. All mutations return new
// Records that share trie structure with their parent.
package record

import (
	"github.com/gab-lang/gab/internal/shape"
	"github.com/gab-lang/gab/internal/value"
)

// Record is a heap object: (shape, trie root, shift).
type Record struct {
	value.Header
	Shape  *shape.Shape
	shift  uint
	root   *node
	handle value.Value
}

// Value returns the heap Value referring to r, for embedding in other
// Records, Block upvalues, or locals.
func (r *Record) Value() value.Value { return r.handle }

// Visit returns every value currently reachable from r's slots, in shape
// key order. internal/gcrt calls this to cascade a decrement into r's
// children when r itself is freed (spec.md §4.6 step 5); trie nodes
// themselves are plain Go-pointer structure rather than separately
// heap-allocated objects, so only the leaves need visiting.
func (r *Record) Visit() []value.Value {
	n := r.Shape.Len()
	out := make([]value.Value, n)
	for i := 0; i < n; i++ {
		out[i] = get(r.root, r.shift, uint(i))
	}
	return out
}

// Table allocates and mutates Records through a shared value.Heap and
// shape.Table, mirroring shape.Table's construction.
type Table struct {
	heap   *value.Heap
	shapes *shape.Table
}

func NewTable(heap *value.Heap, shapes *shape.Table) *Table {
	return &Table{heap: heap, shapes: shapes}
}

// Empty returns a new Record with the shared empty shape and no values.
func (t *Table) Empty() *Record {
	r := &Record{Header: value.Header{Kind: value.HeapRecord}, Shape: t.shapes.Root()}
	r.handle = t.heap.Alloc(r)
	return r
}

func (t *Table) alloc(shp *shape.Shape, shift uint, root *node) *Record {
	r := &Record{Header: value.Header{Kind: value.HeapRecord}, Shape: shp, shift: shift, root: root}
	r.handle = t.heap.Alloc(r)
	return r
}

// Len returns the number of key/value slots (reclen = shpLen).
func (t *Table) Len(r *Record) int { return r.Shape.Len() }

// At implements rec_at: shape_find then descend to leaf.
func (t *Table) At(r *Record, key value.Value) (value.Value, bool) {
	i, ok := r.Shape.Find(key)
	if !ok {
		return value.Undefined, false
	}
	return get(r.root, r.shift, uint(i)), true
}

// UVAt implements uvrecat: the raw value at position i in shape key order,
// without a key lookup. Callers must ensure 0 <= i < Len(r).
func (t *Table) UVAt(r *Record, i int) value.Value {
	return get(r.root, r.shift, uint(i))
}

// UKAt returns the key at position i (uk = "unchecked key").
func (t *Table) UKAt(r *Record, i int) value.Value {
	return r.Shape.KeyAt(i)
}

// Put implements rec_put: path-copy to an existing leaf, or grow the
// shape and trie by one slot.
func (t *Table) Put(r *Record, key, v value.Value) *Record {
	if i, ok := r.Shape.Find(key); ok {
		newRoot := assoc(r.root, r.shift, uint(i), v)
		return t.alloc(r.Shape, r.shift, newRoot)
	}

	newShape := t.shapes.With(r.Shape, key)
	idx := uint(newShape.Len() - 1)

	root, shift := r.root, r.shift
	for idx >= capacity(shift) {
		wrapped := newInternal()
		wrapped.children[0] = root
		root = wrapped
		shift += bits
	}
	newRoot := appendTail(root, shift, idx, v)
	return t.alloc(newShape, shift, newRoot)
}

// Take implements rec_take (dissoc): overwrite the target leaf with the
// last value, pop the last slot, and update the shape with shape_without
// (spec.md §3.4).
func (t *Table) Take(r *Record, key value.Value) *Record {
	i, ok := r.Shape.Find(key)
	if !ok {
		return r
	}
	n := r.Shape.Len()
	lastIdx := uint(n - 1)

	var newRoot *node
	if uint(i) == lastIdx {
		newRoot = popTail(r.root, r.shift, lastIdx)
	} else {
		lastVal := get(r.root, r.shift, lastIdx)
		tmp := assoc(r.root, r.shift, uint(i), lastVal)
		newRoot = popTail(tmp, r.shift, lastIdx)
	}

	newShape := t.shapes.Without(r.Shape, key)
	return t.alloc(newShape, r.shift, newRoot)
}

// Zip walks two records over the same shape in lockstep, calling fn with
// each (key, valueInA, valueInB) triple. It panics if the shapes differ —
// callers should check shape identity first, which is how the runtime
// exploits "records over the same shape can be zipped cheaply" (spec.md
// §9).
func (t *Table) Zip(a, b *Record, fn func(key, av, bv value.Value)) {
	if a.Shape != b.Shape {
		panic("record: Zip requires identical shapes")
	}
	n := a.Shape.Len()
	for i := 0; i < n; i++ {
		fn(a.Shape.KeyAt(i), t.UVAt(a, i), t.UVAt(b, i))
	}
}
