// Package gab is spec.md §6's embedding surface: the package a host
// program, CLI, or native module imports to create an engine, compile
// and run Gab source, send messages into it concurrently, and resolve
// `use()`d modules.
//
// Grounded on the facade-over-runtime-packages shape of the teacher's
// `cli/internal/engine/engine.go` and `pkgs/engine/engine.go` (an Engine
// struct holding the runtime's internal pieces and exposing a small verb
// set over them), generalized from devcmd's decorator-tree walking to
// Gab's parse/compile/run/send pipeline.
package gab

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gab-lang/gab/internal/compiler"
	"github.com/gab-lang/gab/internal/config"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/fiber"
	"github.com/gab-lang/gab/internal/parser"
	"github.com/gab-lang/gab/internal/value"
	"github.com/gab-lang/gab/internal/vm"
)

// Engine is one Gab runtime instance: a VM (heap, intern tables, GC,
// dispatcher), a fiber scheduler running on top of it, and the
// bookkeeping an embedder needs (retained sources, recent errors,
// cached `use()` modules).
type Engine struct {
	cfg   *config.Config
	vm    *vm.VM
	sched *fiber.Scheduler
	log   *slog.Logger

	errs *diag.Ring

	srcMu   sync.Mutex
	sources map[string]*diag.Source

	watcher *moduleWatcher

	modMu   sync.Mutex
	modules map[string]value.Value
}

// New implements spec.md §6's `create(config) -> Engine`.
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.New()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	m := vm.New("gab")
	e := &Engine{
		cfg:     cfg,
		vm:      m,
		sched:   fiber.New(cfg.WorkerCount, m, log),
		log:     log,
		errs:    diag.NewRing(cfg.ErrorRingSize),
		sources: map[string]*diag.Source{},
		modules: map[string]value.Value{},
	}
	e.watcher = newModuleWatcher(e)
	for _, name := range cfg.Preload {
		if _, err := e.Use(name, nil); err != nil {
			log.Warn("preload failed", "module", name, "error", err.Message)
		}
	}
	return e
}

// Close implements spec.md §6's `destroy(engine)`: stop the scheduler
// (closes the work channel, waits for every worker), then run four
// consecutive collections: a delta published by the first pass sits in
// the epoch buffers for the next two and is applied only by the fourth,
// so every buffered Inc/Dec from before Close is folded through before
// Close returns.
func (e *Engine) Close() {
	e.sched.Shutdown()
	e.watcher.close()
	for i := 0; i < 4; i++ {
		e.vm.GC.Collect()
	}
}

// VM exposes the underlying engine for natives/tests that need direct
// access to the heap, intern tables, or dispatcher beyond what Engine's
// own verbs cover.
func (e *Engine) VM() *vm.VM { return e.vm }

func (e *Engine) pushError(err *diag.Error) {
	if err == nil {
		return
	}
	e.errs.Push(err)
}

// RecentErrors returns the errors currently held in the engine's bounded
// error ring, oldest first, without clearing it (SPEC_FULL.md §3's
// supplemented fiber-panic ring, generalized to every host-call failure
// an embedder might want to inspect after the fact).
func (e *Engine) RecentErrors() []*diag.Error { return e.errs.Recent() }

// Source returns the retained diag.Source for a previously Parse/Build'd
// unit, or nil, for rendering a Pretty diagnostic against the original
// text (spec.md §6 "sources are retained for the life of the engine").
func (e *Engine) Source(name string) *diag.Source {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	return e.sources[name]
}

func (e *Engine) retainSource(name, src string) {
	e.srcMu.Lock()
	e.sources[name] = diag.NewSource(name, src)
	e.srcMu.Unlock()
}

// Parse implements `parse(source) -> (ok|err, AST)`.
func (e *Engine) Parse(name, src string) (*parser.Program, *diag.Error) {
	e.retainSource(name, src)
	prog, err := parser.Parse(name, src)
	e.pushError(err)
	return prog, err
}

// Compile implements `compile(ast, env) -> (ok|err, proto)`. Gab has no
// separate "env" argument at this layer: the compiler resolves scoping
// from the AST alone, so env is implicit in the Program's own node
// structure (spec.md §4.4).
func (e *Engine) Compile(name string, prog *parser.Program) (*compiler.Prototype, *diag.Error) {
	proto, err := compiler.New(name).Compile(prog)
	e.pushError(err)
	return proto, err
}

// Build implements `build(source) -> (ok|err, block)`: parse, compile,
// and wrap the resulting Prototype as a top-level Block ready to Exec,
// Run, or ARun.
func (e *Engine) Build(name, src string) (*vm.Block, *diag.Error) {
	prog, err := e.Parse(name, src)
	if err != nil {
		return nil, err
	}
	proto, err := e.Compile(name, prog)
	if err != nil {
		return nil, err
	}
	return &vm.Block{Proto: proto}, nil
}

// Exec runs an already-compiled Prototype directly (the teacher's
// `vm.Run` entry point), blocking until it completes.
func (e *Engine) Exec(ctx context.Context, proto *compiler.Prototype) (value.Value, *diag.Error) {
	v, err := e.vm.Run(ctx, proto)
	e.pushError(err)
	return v, err
}

// Run is the blocking `build(source)` + invoke convenience named in
// spec.md §6 ("blocking variants await internally"): build and call a
// source with no arguments, on the calling goroutine.
func (e *Engine) Run(ctx context.Context, name, src string) (value.Value, *diag.Error) {
	blk, err := e.Build(name, src)
	if err != nil {
		return value.Undefined, err
	}
	return e.Call(ctx, blk, nil)
}

// Call invokes an already-built Block, blocking until it returns.
func (e *Engine) Call(ctx context.Context, blk *vm.Block, args []value.Value) (value.Value, *diag.Error) {
	v, err := e.vm.Call(ctx, blk, args)
	e.pushError(err)
	return v, err
}

// Send implements the blocking `send(receiver, message, args)` form:
// resolve and invoke message against recv through the same Dispatcher a
// compiled OpSend would use, without requiring a Block.
func (e *Engine) Send(ctx context.Context, recv value.Value, message string, args ...value.Value) (value.Value, *diag.Error) {
	v, err := e.vm.Send(ctx, recv, message, args)
	e.pushError(err)
	return v, err
}

// newFiberHandle allocates the heap Fiber marker object a Fiber.make:
// literal would, for a fiber spawned from the host side rather than
// compiled bytecode.
func (e *Engine) newFiberHandle(blk *vm.Block) value.Value {
	return e.vm.Heap.Alloc(&vm.Fiber{Header: value.Header{Kind: value.HeapFiber}, Block: blk})
}

// ARun implements the non-blocking `arun(block, args)` form: spawn blk
// on the scheduler's worker pool and return its fiber handle
// immediately, per spec.md §6 ("non-blocking variants return a fiber").
func (e *Engine) ARun(blk *vm.Block, args []value.Value) value.Value {
	handle := e.newFiberHandle(blk)
	e.sched.Spawn(handle, blk, args)
	return handle
}

// ASend implements the non-blocking `asend(receiver, message, args)`
// form: spawn a direct dispatch against recv without a Block.
func (e *Engine) ASend(recv value.Value, message string, args []value.Value) value.Value {
	handle := e.newFiberHandle(nil)
	e.sched.SpawnFunc(handle, func(ctx context.Context) (value.Value, *diag.Error) {
		return e.vm.Send(ctx, recv, message, args)
	})
	return handle
}

// Await blocks the caller until the fiber at handle finishes or ctx is
// done (`gab_fib_await`, spec.md §4.7).
func (e *Engine) Await(ctx context.Context, handle value.Value) (value.Value, *diag.Error, bool) {
	v, err, ok := e.sched.Await(ctx, handle)
	if ok {
		e.pushError(err)
	}
	return v, err, ok
}

// TryAwait is Await's non-blocking form.
func (e *Engine) TryAwait(handle value.Value) (value.Value, *diag.Error, bool) {
	return e.sched.TryAwait(handle)
}

// FiberState reports a fiber's lifecycle state (Ready/Running/Done).
func (e *Engine) FiberState(handle value.Value) fiber.State {
	return e.sched.StateOf(handle)
}

// RequestCollection asks the scheduler's workers to advance a GC
// epoch (`sig_coll`, spec.md §6).
func (e *Engine) RequestCollection() { e.sched.RequestCollection() }

// Signal delivers a raw scheduler signal (`sig_coll`/`sig_term`).
func (e *Engine) Signal(sig fiber.Signal) { e.sched.Signal(sig) }
