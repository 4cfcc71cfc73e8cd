package gcrt

import (
	"testing"

	"github.com/gab-lang/gab/internal/box"
	"github.com/gab-lang/gab/internal/value"
)

type fakeObj struct{ value.Header }

func (f *fakeObj) Head() *value.Header { return &f.Header }

// fakeContainer is a minimal value.Visitor, standing in for record.Record
// or vm.Block in tests that exercise cascading frees without pulling in
// those packages.
type fakeContainer struct {
	value.Header
	children []value.Value
}

func (f *fakeContainer) Head() *value.Header  { return &f.Header }
func (f *fakeContainer) Visit() []value.Value { return f.children }

func TestCollectFreesUnreferencedObject(t *testing.T) {
	heap := value.NewHeap()
	coll := NewCollector(heap)
	w := coll.Worker(0)

	v := heap.Alloc(&fakeObj{Header: value.Header{Kind: value.HeapRecord}})
	w.Inc(v)
	w.Dec(v)

	if n := coll.Flush(); n == 0 {
		t.Fatalf("expected at least one object freed, got %d", n)
	}
	if heap.Live() != 0 {
		t.Fatalf("expected 0 live objects, got %d", heap.Live())
	}
}

func TestCollectKeepsIncrementedObjectAlive(t *testing.T) {
	heap := value.NewHeap()
	coll := NewCollector(heap)
	w := coll.Worker(0)

	v := heap.Alloc(&fakeObj{Header: value.Header{Kind: value.HeapRecord}})
	w.Inc(v)
	w.Inc(v)
	w.Dec(v)
	coll.Flush()

	if heap.Live() != 1 {
		t.Fatalf("expected object to survive one extra inc, got live=%d", heap.Live())
	}
}

func TestLockPreventsCollection(t *testing.T) {
	heap := value.NewHeap()
	coll := NewCollector(heap)
	w := coll.Worker(0)
	v := heap.Alloc(&fakeObj{Header: value.Header{Kind: value.HeapRecord}})
	w.Inc(v)
	w.Dec(v)

	coll.Lock()
	if n := coll.Collect(); n != 0 {
		t.Fatalf("expected no collection while locked, got %d", n)
	}
	coll.Unlock()
	if coll.Flush() == 0 {
		t.Fatalf("expected collection to proceed after unlock")
	}
}

func TestCollectDestroysBoxBeforeFreeing(t *testing.T) {
	heap := value.NewHeap()
	coll := NewCollector(heap)
	w := coll.Worker(0)

	destroyed := false
	b := box.New("FileHandle", nil, func(*box.Box) { destroyed = true }, nil)
	v := heap.Alloc(b)
	w.Inc(v)
	w.Dec(v)
	coll.Flush()

	if !destroyed {
		t.Fatalf("expected Box destructor to run before the object was freed")
	}
	if heap.Live() != 0 {
		t.Fatalf("expected 0 live objects, got %d", heap.Live())
	}
}

func TestCollectCascadesIntoChildren(t *testing.T) {
	heap := value.NewHeap()
	coll := NewCollector(heap)
	w := coll.Worker(0)

	child := heap.Alloc(&fakeObj{Header: value.Header{Kind: value.HeapRecord}})
	// Simulate the child being reachable through the parent only: one
	// reference, owned by the parent about to be constructed below.
	w.Inc(child)
	coll.Flush()
	if heap.Live() != 1 {
		t.Fatalf("expected child alive while referenced, live=%d", heap.Live())
	}

	parent := heap.Alloc(&fakeContainer{
		Header:   value.Header{Kind: value.HeapRecord},
		children: []value.Value{child},
	})
	w.Inc(parent)
	w.Dec(parent)
	coll.Flush()

	if heap.Live() != 0 {
		t.Fatalf("expected parent and cascaded child both freed, live=%d", heap.Live())
	}
}

func TestPinnedRootSurvivesCollection(t *testing.T) {
	heap := value.NewHeap()
	coll := NewCollector(heap)
	w := coll.Worker(0)
	v := heap.Alloc(&fakeObj{Header: value.Header{Kind: value.HeapRecord}})
	w.Inc(v)
	w.Dec(v)
	w.PushRoot(v)
	coll.Flush()
	if heap.Live() != 1 {
		t.Fatalf("expected pinned object to survive, live=%d", heap.Live())
	}
	w.PopRoot()
	coll.Flush()
	if heap.Live() != 0 {
		t.Fatalf("expected object freed once unpinned, live=%d", heap.Live())
	}
}
