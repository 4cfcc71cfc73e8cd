// Package gcrt implements spec.md §4.6's epoch-based deferred
// reference-counting collector: mutators never touch an object's refcount
// directly on the hot path. Instead each worker appends to its own
// INC/DEC/STK buffers, and each collector pass applies the deltas
// published three passes earlier to the real counts before freeing
// anything that reached zero. Grounded on the teacher's worker-local buffering pattern
// in runtime/executor/session_runtime.go (per-goroutine scratch state
// merged at a barrier) generalized from execution telemetry to reference
// counting.
package gcrt

import (
	"context"
	"sync"

	"github.com/gab-lang/gab/internal/box"
	"github.com/gab-lang/gab/internal/value"
)

// numEpochs is fixed at 3 (spec.md §4.6): a buffered delta must survive
// two full epoch rotations behind the one it was recorded in before the
// collector is allowed to act on it, giving every in-flight mutator a
// chance to publish its own buffer first.
const numEpochs = 3

type delta struct {
	handle uint32
	obj    value.Object
	n      int32 // positive: increments; negative: decrements
}

// WorkerBuffer is the per-worker scratch state mutators append to. Its
// methods are safe for concurrent use: a collection pass running on
// worker 0 drains every worker's buffer while that worker's own goroutine
// may still be appending to it.
type WorkerBuffer struct {
	id   int
	coll *Collector

	mu  sync.Mutex
	inc []delta
	dec []delta
	stk []value.Value // root set snapshot, used by sweep deferral decisions
}

func (w *WorkerBuffer) Inc(v value.Value) {
	if !v.IsHeap() {
		return
	}
	obj := w.coll.heap.Get(v)
	if obj == nil {
		return
	}
	w.mu.Lock()
	w.inc = append(w.inc, delta{handle: v.Handle(), obj: obj, n: 1})
	w.mu.Unlock()
}

func (w *WorkerBuffer) Dec(v value.Value) {
	if !v.IsHeap() {
		return
	}
	obj := w.coll.heap.Get(v)
	if obj == nil {
		return
	}
	w.mu.Lock()
	w.dec = append(w.dec, delta{handle: v.Handle(), obj: obj, n: 1})
	w.mu.Unlock()
}

// PushRoot/PopRoot bracket a value's lifetime on the conceptual mutator
// stack (spec.md §4.6's STK buffer), so a collection pass running
// concurrently with this worker never frees something it still holds.
// Callers are expected to only bracket heap values (internal/vm's frame
// push/pop guard on IsHeap before calling).
func (w *WorkerBuffer) PushRoot(v value.Value) {
	w.mu.Lock()
	w.stk = append(w.stk, v)
	w.mu.Unlock()
}

func (w *WorkerBuffer) PopRoot() {
	w.mu.Lock()
	if n := len(w.stk); n > 0 {
		w.stk = w.stk[:n-1]
	}
	w.mu.Unlock()
}

func (w *WorkerBuffer) drain() (inc, dec []delta) {
	w.mu.Lock()
	inc, w.inc = w.inc, w.inc[:0]
	dec, w.dec = w.dec, w.dec[:0]
	w.mu.Unlock()
	return inc, dec
}

func (w *WorkerBuffer) snapshot() []value.Value {
	w.mu.Lock()
	out := append([]value.Value(nil), w.stk...)
	w.mu.Unlock()
	return out
}

// workerCtxKey is the context.Value key internal/fiber and internal/vm use
// to thread a goroutine's WorkerBuffer through ctx rather than widening
// every VM method's signature.
type workerCtxKey struct{}

// WithWorker attaches w to ctx so downstream vm.VM calls running on this
// goroutine resolve it via WorkerFromContext.
func WithWorker(ctx context.Context, w *WorkerBuffer) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, w)
}

// WorkerFromContext recovers a WorkerBuffer attached by WithWorker, or nil
// if ctx carries none.
func WorkerFromContext(ctx context.Context) *WorkerBuffer {
	w, _ := ctx.Value(workerCtxKey{}).(*WorkerBuffer)
	return w
}

// Collector owns the shared heap and the per-epoch buffer queues that
// workers' local buffers get folded into once published.
type Collector struct {
	heap *value.Heap

	mu      sync.Mutex
	workers []*WorkerBuffer
	epochs  [numEpochs][]delta // epochs[i] holds deltas published i rotations ago
	locked  int                // gc_lock/gc_unlock nesting depth (spec.md §5)

	// pendingFree holds handles that reached a zero refcount while still
	// pinned by some worker's root stack; each Collect call retries them
	// against the then-current pinned set.
	pendingFree map[uint32]bool
}

func NewCollector(heap *value.Heap) *Collector {
	return &Collector{heap: heap, pendingFree: map[uint32]bool{}}
}

// Worker allocates a new per-worker buffer bound to this collector.
func (c *Collector) Worker(id int) *WorkerBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &WorkerBuffer{id: id, coll: c}
	c.workers = append(c.workers, w)
	return w
}

// Lock/Unlock implement gc_lock/gc_unlock: while locked, Collect is a
// no-op, letting a mutator finish a sequence of operations that must see
// a stable heap (spec.md §5 "Concurrency & Resource Model").
func (c *Collector) Lock() {
	c.mu.Lock()
	c.locked++
	c.mu.Unlock()
}

func (c *Collector) Unlock() {
	c.mu.Lock()
	if c.locked > 0 {
		c.locked--
	}
	c.mu.Unlock()
}

// Collect runs one collector pass (spec.md §4.6's six steps):
//  1. publish every worker's current INC/DEC buffers into epoch 0
//  2. rotate epochs, retiring the oldest
//  3. apply the retired epoch's deltas to the real refcounts
//  4. anything that reached zero and isn't pinned by a live STK entry
//     is queued for destruction
//  5. destroyed objects' own outgoing heap references are decremented
//     (transitively, cascading frees)
//  6. freed handles return to the heap's free list
func (c *Collector) Collect() int {
	c.mu.Lock()
	if c.locked > 0 {
		c.mu.Unlock()
		return 0
	}
	workers := append([]*WorkerBuffer(nil), c.workers...)
	c.mu.Unlock()

	var published []delta
	for _, w := range workers {
		inc, dec := w.drain()
		published = append(published, inc...)
		published = append(published, negate(dec)...)
	}

	c.mu.Lock()
	retired := c.epochs[numEpochs-1]
	copy(c.epochs[1:], c.epochs[:numEpochs-1])
	c.epochs[0] = published
	c.mu.Unlock()

	pinned := c.pinnedSet(workers)
	return c.apply(retired, pinned)
}

func negate(ds []delta) []delta {
	out := make([]delta, len(ds))
	for i, d := range ds {
		out[i] = delta{handle: d.handle, obj: d.obj, n: -d.n}
	}
	return out
}

func (c *Collector) pinnedSet(workers []*WorkerBuffer) map[uint32]bool {
	pinned := map[uint32]bool{}
	for _, w := range workers {
		for _, v := range w.snapshot() {
			if v.IsHeap() {
				pinned[v.Handle()] = true
			}
		}
	}
	return pinned
}

// apply replays each buffered delta in recorded order (never merged —
// merging would hide an inc/dec pair that crosses zero), queues anything
// that reached zero for destruction, then cascades a decrement into each
// freed object's own children so nested records/lists/blocks don't leak
// (spec.md §4.6 step 5).
func (c *Collector) apply(ds []delta, pinned map[uint32]bool) int {
	deadNow := map[uint32]bool{}
	for _, d := range ds {
		if d.n > 0 {
			c.heap.IncRef(d.handle, d.obj)
			d.obj.Head().ClearNew()
			delete(deadNow, d.handle)
			c.clearPending(d.handle)
		} else {
			if c.heap.DecRef(d.handle, d.obj) {
				deadNow[d.handle] = true
			} else {
				delete(deadNow, d.handle)
				c.clearPending(d.handle)
			}
		}
	}

	c.mu.Lock()
	for h := range deadNow {
		c.pendingFree[h] = true
	}
	freed := 0
	var cascade []value.Value
	for h := range c.pendingFree {
		if pinned[h] {
			continue
		}
		delete(c.pendingFree, h)
		obj := c.heap.Get(value.FromHandle(h))
		if obj == nil {
			continue
		}
		if b, ok := obj.(*box.Box); ok {
			b.Destroy()
		}
		if vis, ok := obj.(value.Visitor); ok {
			cascade = append(cascade, vis.Visit()...)
		}
		c.heap.Free(h)
		freed++
	}
	c.mu.Unlock()

	for _, cv := range cascade {
		freed += c.cascadeDecref(cv, pinned)
	}
	return freed
}

// cascadeDecref immediately decrements a reference uncovered by freeing
// its parent, recursing into grandchildren when it too reaches zero.
// Bypasses the epoch buffers entirely: the parent that held this
// reference is already gone, so there is no future worker publish to
// wait for, and deferring would leak the child for up to three more
// Collect passes.
func (c *Collector) cascadeDecref(v value.Value, pinned map[uint32]bool) int {
	if !v.IsHeap() {
		return 0
	}
	h := v.Handle()
	obj := c.heap.Get(v)
	if obj == nil {
		return 0
	}
	if !c.heap.DecRef(h, obj) {
		return 0
	}
	if pinned[h] {
		c.mu.Lock()
		c.pendingFree[h] = true
		c.mu.Unlock()
		return 0
	}
	if b, ok := obj.(*box.Box); ok {
		b.Destroy()
	}
	var children []value.Value
	if vis, ok := obj.(value.Visitor); ok {
		children = vis.Visit()
	}
	c.heap.Free(h)
	freed := 1
	for _, cv := range children {
		freed += c.cascadeDecref(cv, pinned)
	}
	return freed
}

func (c *Collector) clearPending(handle uint32) {
	c.mu.Lock()
	delete(c.pendingFree, handle)
	c.mu.Unlock()
}

// Flush drives numEpochs+1 (four) consecutive Collect passes: a delta
// published by the first pass moves through all three epochs and is
// retired and applied by the fourth, so every currently buffered delta
// reaches the real counts. Useful for tests and for an engine shutting
// down that wants "after destroy, no heap object remains allocated" to
// hold immediately rather than eventually.
func (c *Collector) Flush() int {
	total := 0
	for i := 0; i <= numEpochs; i++ {
		total += c.Collect()
	}
	return total
}
