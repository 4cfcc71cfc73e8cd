// Package intern implements the process/engine-wide content-hashed
// interning tables named in spec.md §4.1: long strings, shapes, and
// modules. (Shape interning itself lives in internal/shape, which embeds
// the same hash-bucket technique for its transition tree; this package
// owns the string table and the thin message/binary variants layered on
// top of it.)
package intern

import (
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"github.com/gab-lang/gab/internal/value"
)

// Variant distinguishes the three re-taggable forms a heap-resident byte
// string can take. Short (<=5 byte) forms are re-tagged for free at the
// Value bit level (internal/value); long forms are interned per-variant
// here since the Value word itself only discriminates "heap" vs not.
type Variant uint8

const (
	VariantString Variant = iota
	VariantMessage
	VariantBinary
)

// StringObj is the heap object backing long strings/messages/binaries.
type StringObj struct {
	value.Header
	Bytes   []byte
	Hash    uint64
	Variant Variant
}

func (s *StringObj) String() string { return string(s.Bytes) }

type stringKey struct {
	hash    uint64
	length  int
	variant Variant
	prefix  [8]byte
}

// Table is a mutex-guarded content-hashed string intern table. The
// invariant it upholds (spec.md §3.2): two equal strings produce equal
// Values.
type Table struct {
	mu      sync.Mutex
	heap    *value.Heap
	entries map[stringKey][]tableEntry
}

type tableEntry struct {
	handle uint32
	v      value.Value
	obj    *StringObj
}

func NewTable(heap *value.Heap) *Table {
	return &Table{heap: heap, entries: make(map[stringKey][]tableEntry)}
}

// HashBytes computes the table's content hash. BLAKE2b is used rather
// than a simpler FNV/CRC mix because the intern table is shared by every
// worker concurrently; BLAKE2b's better avalanche behavior keeps bucket
// chains short under adversarial input without a per-lookup allocation
// (grounded on core/sdk/secret/idfactory.go's use of the same family for
// content-addressed identifiers).
func HashBytes(b []byte) uint64 {
	sum := blake2b.Sum512(b)
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(sum[i])
	}
	return h
}

func keyFor(b []byte, hash uint64, variant Variant) stringKey {
	k := stringKey{hash: hash, length: len(b), variant: variant}
	copy(k.prefix[:], b)
	return k
}

// Intern returns the canonical Value for b under the given variant,
// allocating a heap StringObj on first sight of this exact (bytes,
// variant) pair. Short (<=5 byte) inputs should instead use
// value.ShortString / value.ShortMessage — this table only exists for
// payloads too long to inline.
func (t *Table) Intern(b []byte, variant Variant) value.Value {
	hash := HashBytes(b)
	key := keyFor(b, hash, variant)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries[key] {
		if string(e.obj.Bytes) == string(b) {
			return e.v
		}
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	obj := &StringObj{
		Header:  value.Header{Kind: value.HeapString},
		Bytes:   cp,
		Hash:    hash,
		Variant: variant,
	}
	v := t.heap.Alloc(obj)
	t.entries[key] = append(t.entries[key], tableEntry{handle: v.Handle(), v: v, obj: obj})
	return v
}

func (t *Table) String(b []byte) value.Value  { return t.Intern(b, VariantString) }
func (t *Table) Message(b []byte) value.Value { return t.Intern(b, VariantMessage) }

// Binary interns b as a Binary. Conversion back to a String is only valid
// when the bytes are legal UTF-8 (spec.md §3.2).
func (t *Table) Binary(b []byte) value.Value { return t.Intern(b, VariantBinary) }

// Lookup resolves a heap Value back to its StringObj, or nil if v is not
// a heap string (e.g. it is a short immediate form, or some other heap
// kind entirely).
func (t *Table) Lookup(v value.Value) *StringObj {
	obj := t.heap.Get(v)
	if obj == nil {
		return nil
	}
	s, ok := obj.(*StringObj)
	if !ok {
		return nil
	}
	return s
}

// BinaryToString converts a long Binary to a String variant, failing if
// the bytes are not valid UTF-8 (spec.md §3.2).
func (t *Table) BinaryToString(v value.Value) (value.Value, bool) {
	s := t.Lookup(v)
	if s == nil || s.Variant != VariantBinary {
		return 0, false
	}
	if !utf8.Valid(s.Bytes) {
		return 0, false
	}
	return t.String(s.Bytes), true
}

// Len returns the number of interned entries summed over all
// (hash,len,variant) buckets; used by
// tests to confirm repeated Intern calls with equal content do not grow
// the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, es := range t.entries {
		n += len(es)
	}
	return n
}
