package gab

import (
	"context"
	"testing"
	"time"

	"github.com/gab-lang/gab/internal/config"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/value"
	"github.com/gab-lang/gab/internal/vm"
)

func TestRunReturnsBlockResult(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	v, err := e.Run(context.Background(), "test", "20 + 22")
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if v.AsNumber() != 42 {
		t.Fatalf("got %v", v.AsNumber())
	}
}

func TestRunParseErrorIsPushedToRing(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	_, err := e.Run(context.Background(), "bad", "1 +")
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	recent := e.RecentErrors()
	if len(recent) == 0 {
		t.Fatalf("expected the error to be pushed onto the ring")
	}
}

func TestSendDispatchesWithoutABlock(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	v, err := e.Send(context.Background(), value.Number(3), "+", value.Number(4))
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if v.AsNumber() != 7 {
		t.Fatalf("got %v", v.AsNumber())
	}
}

func TestARunAndAwaitRoundTrip(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	blk, berr := e.Build("test", "20 + 22")
	if berr != nil {
		t.Fatalf("build error: %s", berr.Message)
	}
	handle := e.ARun(blk, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err, ok := e.Await(ctx, handle)
	if !ok {
		t.Fatalf("await timed out")
	}
	if err != nil {
		t.Fatalf("unexpected fiber error: %s", err.Message)
	}
	// v is the fiber's {ok|err, result} pair; Display renders it as a list.
	if got := e.Display(v); got == "" {
		t.Fatalf("expected a non-empty display")
	}
}

func TestASendAndAwaitRoundTrip(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	handle := e.ASend(value.Number(3), "+", []value.Value{value.Number(4)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err, ok := e.Await(ctx, handle)
	if !ok {
		t.Fatalf("await timed out")
	}
	if err != nil {
		t.Fatalf("unexpected fiber error: %s", err.Message)
	}
}

func TestDefRejectsDuplicateRegistration(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	var noop vm.Native = func(ctx context.Context, m *vm.VM, recv value.Value, args []value.Value) (value.Value, *diag.Error) {
		return value.Undefined, nil
	}

	if err := e.Def("Widget", "frob", noop); err != nil {
		t.Fatalf("first definition should succeed: %v", err)
	}
	if err := e.Def("Widget", "frob", noop); err == nil {
		t.Fatalf("expected a duplicate-definition error")
	}
}

func TestImplReportsNoImplementationForUnknownMessage(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	res := e.Impl("totally-unknown-message", value.Number(3))
	if res.Match != MatchNoImplementation {
		t.Fatalf("got match %v", res.Match)
	}
}

func TestImplReportsKindMatchedForArithmetic(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	res := e.Impl("+", value.Number(3))
	if res.Match != MatchKindMatched {
		t.Fatalf("got match %v", res.Match)
	}
}

func TestCloseReclaimsUnreferencedRecords(t *testing.T) {
	e := New(config.New())

	// r is rebound to a plain number before the program ends, so the
	// Record {a: 1, b: 2} it named becomes unreferenced: the frame-exit
	// Dec on the stale local plus the OpStoreLocal Dec on reassignment
	// should drop it to zero once folded through a collection pass.
	before := e.VM().Heap.Live()
	v, err := e.Run(context.Background(), "gc", "r = {a: 1, b: 2}\nr = 0\nr")
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if v.AsNumber() != 0 {
		t.Fatalf("got %v", v.AsNumber())
	}

	e.Close()

	if got := e.VM().Heap.Live(); got != before {
		t.Fatalf("expected heap to return to baseline %d live objects after Close, got %d", before, got)
	}
}

func TestCloseReclaimsNestedRecordsByCascade(t *testing.T) {
	e := New(config.New())

	// The outer record's only slot holds the inner one; once both locals
	// are dropped, freeing the outer record must cascade a decrement into
	// the inner record too (Blocking review comment on nested cleanup),
	// not just free the outer and leak the inner.
	before := e.VM().Heap.Live()
	v, err := e.Run(context.Background(), "gc-nested", "inner = {a: 1}\nouter = {nested: inner}\nouter = 0\ninner = 0\n0")
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if v.AsNumber() != 0 {
		t.Fatalf("got %v", v.AsNumber())
	}

	e.Close()

	if got := e.VM().Heap.Live(); got != before {
		t.Fatalf("expected both outer and cascaded inner record freed, baseline=%d got=%d", before, got)
	}
}

func TestBoxRoundTripsTypeDataAndNative(t *testing.T) {
	e := New(config.New())
	defer e.Close()

	type handle struct{ fd int }
	native := &handle{fd: 7}
	v := e.NewBox("FileHandle", []byte("payload"), native, nil, nil)

	typeName, ok := e.BoxType(v)
	if !ok || typeName != "FileHandle" {
		t.Fatalf("BoxType: got %q ok=%v", typeName, ok)
	}
	data, ok := e.BoxData(v)
	if !ok || string(data) != "payload" {
		t.Fatalf("BoxData: got %q ok=%v", data, ok)
	}
	got, ok := e.BoxNative(v)
	if !ok || got.(*handle) != native {
		t.Fatalf("BoxNative: got %v ok=%v", got, ok)
	}
}
