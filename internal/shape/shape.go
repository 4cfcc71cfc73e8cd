// Package shape implements spec.md §3.3: an immutable ordered key set with
// a cached transition tree, rooted at a single shared empty shape so that
// any two shapes built from the same keys in the same order are the same
// object (and therefore the same Value).
package shape

import (
	"sync"

	"github.com/gab-lang/gab/internal/value"
)

// Shape is a heap object: an ordered, de-duplicated sequence of keys plus
// a transition cache recording which child shape results from adding one
// more key.
type Shape struct {
	value.Header

	keys     []value.Value
	index    map[value.Value]int // key -> position, for O(1) shape_find
	parent   *Shape
	addedKey value.Value // the key that took `parent` to this shape (zero shape: invalid)

	transMu     sync.Mutex
	transitions map[value.Value]*Shape
}

// Table owns the shared transition tree rooted at the empty shape, and
// allocates every Shape through a value.Heap so shapes participate in the
// engine's reference-counted lifecycle like any other heap object.
type Table struct {
	heap *value.Heap
	root *Shape
	// listCache memoizes the canonical list-shaped shape of each length,
	// since list construction is common and shapes 0..N-1 always reuse
	// the same transition path.
	mu        sync.Mutex
	listCache map[int]*Shape
}

func NewTable(heap *value.Heap) *Table {
	root := &Shape{
		Header: value.Header{Kind: value.HeapShape},
		keys:   nil,
		index:  make(map[value.Value]int),
	}
	heap.Alloc(root)
	return &Table{heap: heap, root: root, listCache: map[int]*Shape{0: root}}
}

// Root returns the empty shape shared by the whole engine.
func (t *Table) Root() *Shape { return t.root }

// Len reports the number of keys in s (shp_len).
func (s *Shape) Len() int { return len(s.keys) }

// KeyAt returns the key at position i (0 <= i < Len()).
func (s *Shape) KeyAt(i int) value.Value { return s.keys[i] }

// Find returns the index of k in s, or (-1,false) if absent (shape_find).
func (s *Shape) Find(k value.Value) (int, bool) {
	i, ok := s.index[k]
	return i, ok
}

// Contains reports whether s already has k as a key.
func (s *Shape) Contains(k value.Value) bool {
	_, ok := s.index[k]
	return ok
}

// Transitions exposes the cached (key, child) pairs read-only, for
// introspection. The shape tests check identity with require.Same and do
// not call it.
func (s *Shape) Transitions() map[value.Value]*Shape {
	s.transMu.Lock()
	defer s.transMu.Unlock()
	out := make(map[value.Value]*Shape, len(s.transitions))
	for k, v := range s.transitions {
		out[k] = v
	}
	return out
}

// IsListShaped reports whether all keys are 0,1,2,... in order (spec.md
// §3.3).
func (s *Shape) IsListShaped() bool {
	for i, k := range s.keys {
		if !k.IsNumber() || k.AsNumber() != float64(i) {
			return false
		}
	}
	return true
}

// With implements shape_with: returns s unchanged if it already has k,
// otherwise the cached or newly allocated child shape with k appended.
func (t *Table) With(s *Shape, k value.Value) *Shape {
	if s.Contains(k) {
		return s
	}

	s.transMu.Lock()
	if s.transitions == nil {
		s.transitions = make(map[value.Value]*Shape)
	}
	if child, ok := s.transitions[k]; ok {
		s.transMu.Unlock()
		return child
	}
	s.transMu.Unlock()

	child := t.build(s, k)

	s.transMu.Lock()
	// Re-check: another goroutine may have raced us to build the same
	// transition; keep the first one installed so shape identity holds.
	if existing, ok := s.transitions[k]; ok {
		s.transMu.Unlock()
		return existing
	}
	s.transitions[k] = child
	s.transMu.Unlock()
	return child
}

func (t *Table) build(s *Shape, k value.Value) *Shape {
	keys := make([]value.Value, len(s.keys)+1)
	copy(keys, s.keys)
	keys[len(s.keys)] = k

	idx := make(map[value.Value]int, len(keys))
	for i, kk := range keys {
		idx[kk] = i
	}

	child := &Shape{
		Header:   value.Header{Kind: value.HeapShape},
		keys:     keys,
		index:    idx,
		parent:   s,
		addedKey: k,
	}
	t.heap.Alloc(child)
	return child
}

// Without implements shape_without (spec.md §3.3): rebuild the shape
// omitting k, swapping the last key into k's position. This mirrors the
// record dissoc algorithm (internal/record) exactly, so the resulting key
// order always matches what record.Take produces.
func (t *Table) Without(s *Shape, k value.Value) *Shape {
	i, ok := s.Find(k)
	if !ok {
		return s
	}
	n := len(s.keys)
	keys := make([]value.Value, 0, n-1)
	keys = append(keys, s.keys[:n-1]...)
	if i != n-1 {
		keys[i] = s.keys[n-1]
	} else {
		keys = keys[:n-1]
	}

	// Rebuild from the root by replaying the resulting key sequence so
	// the result lands in the shared transition tree (and thus shares
	// identity with any shape built from the same key set via With).
	cur := t.root
	for _, kk := range keys {
		cur = t.With(cur, kk)
	}
	return cur
}

// ListShape returns the canonical shape for a list of length n (keys
// 0..n-1), memoized since list construction is the hottest shape path.
func (t *Table) ListShape(n int) *Shape {
	t.mu.Lock()
	if s, ok := t.listCache[n]; ok {
		t.mu.Unlock()
		return s
	}
	t.mu.Unlock()

	cur := t.root
	for i := 0; i < n; i++ {
		cur = t.With(cur, value.Int(int64(i)))
	}

	t.mu.Lock()
	t.listCache[n] = cur
	t.mu.Unlock()
	return cur
}
