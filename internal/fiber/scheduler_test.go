package fiber

import (
	"context"
	"testing"
	"time"

	"github.com/gab-lang/gab/internal/compiler"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/parser"
	"github.com/gab-lang/gab/internal/record"
	"github.com/gab-lang/gab/internal/value"
	"github.com/gab-lang/gab/internal/vm"
)

func mustBlock(t *testing.T, m *vm.VM, src string) *vm.Block {
	t.Helper()
	prog, perr := parser.Parse("test", src)
	if perr != nil {
		t.Fatalf("parse error: %s", perr.Message)
	}
	proto, cerr := compiler.New("test").Compile(prog)
	if cerr != nil {
		t.Fatalf("compile error: %s", cerr.Message)
	}
	return &vm.Block{Proto: proto}
}

func TestSpawnAwaitReturnsBlockResult(t *testing.T) {
	m := vm.New("test")
	s := New(2, m, nil)
	defer s.Shutdown()

	blk := mustBlock(t, m, "20 + 22")
	handle := m.Heap.Alloc(&vm.Fiber{Header: value.Header{Kind: value.HeapFiber}, Block: blk})

	s.Spawn(handle, blk, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pair, err, ok := s.Await(ctx, handle)
	if !ok {
		t.Fatalf("await timed out")
	}
	if err != nil {
		t.Fatalf("unexpected fiber error: %s", err.Message)
	}
	pairRec, ok2 := m.Heap.Get(pair).(*record.Record)
	if !ok2 {
		t.Fatalf("expected fiber result to be a Record pair")
	}
	lead := m.Records.UVAt(pairRec, 0)
	result := m.Records.UVAt(pairRec, 1)
	if lead != value.Ok {
		t.Fatalf("expected leading ok sigil, got %v", lead)
	}
	if result.AsNumber() != 42 {
		t.Fatalf("expected 42, got %v", result.AsNumber())
	}
}

func TestStateOfTransitionsToDone(t *testing.T) {
	m := vm.New("test")
	s := New(1, m, nil)
	defer s.Shutdown()

	blk := mustBlock(t, m, "1")
	handle := m.Heap.Alloc(&vm.Fiber{Header: value.Header{Kind: value.HeapFiber}, Block: blk})
	s.Spawn(handle, blk, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, ok := s.Await(ctx, handle); !ok {
		t.Fatalf("await timed out")
	}
	if s.StateOf(handle) != Done {
		t.Fatalf("expected Done, got %v", s.StateOf(handle))
	}
}

func TestTryAwaitFalseForUnknownFiber(t *testing.T) {
	m := vm.New("test")
	s := New(1, m, nil)
	defer s.Shutdown()

	blk := mustBlock(t, m, "1")
	handle := value.FromHandle(0) // a handle never spawned
	if _, _, ok := s.TryAwait(handle); ok {
		t.Fatalf("expected TryAwait to report not-ready for an unknown fiber")
	}
	_ = blk
}

func TestSpawnFuncRunsArbitraryClosure(t *testing.T) {
	m := vm.New("test")
	s := New(2, m, nil)
	defer s.Shutdown()

	handle := m.Heap.Alloc(&vm.Fiber{Header: value.Header{Kind: value.HeapFiber}})
	s.SpawnFunc(handle, func(ctx context.Context) (value.Value, *diag.Error) {
		return value.Number(7), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pair, err, ok := s.Await(ctx, handle)
	if !ok {
		t.Fatalf("await timed out")
	}
	if err != nil {
		t.Fatalf("unexpected fiber error: %s", err.Message)
	}
	pairRec := m.Heap.Get(pair).(*record.Record)
	if lead := m.Records.UVAt(pairRec, 0); lead != value.Ok {
		t.Fatalf("expected leading ok sigil, got %v", lead)
	}
	if got := m.Records.UVAt(pairRec, 1).AsNumber(); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestSpawnFuncPropagatesError(t *testing.T) {
	m := vm.New("test")
	s := New(2, m, nil)
	defer s.Shutdown()

	handle := m.Heap.Alloc(&vm.Fiber{Header: value.Header{Kind: value.HeapFiber}})
	wantErr := diag.New(diag.KindOverflow, "test", diag.TokenRef{}, "boom")
	s.SpawnFunc(handle, func(ctx context.Context) (value.Value, *diag.Error) {
		return value.Undefined, wantErr
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pair, err, ok := s.Await(ctx, handle)
	if !ok {
		t.Fatalf("await timed out")
	}
	if err != wantErr {
		t.Fatalf("expected the fiber's own error back, got %v", err)
	}
	pairRec := m.Heap.Get(pair).(*record.Record)
	if lead := m.Records.UVAt(pairRec, 0); lead != value.Err {
		t.Fatalf("expected leading err sigil, got %v", lead)
	}
}

func TestShutdownStopsWorkersPromptly(t *testing.T) {
	m := vm.New("test")
	s := New(4, m, nil)

	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("shutdown did not complete")
	}
}
