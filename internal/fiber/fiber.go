// Package fiber implements spec.md §4.7: the worker pool, work channel,
// and fiber lifecycle that run vm.Block invocations concurrently. A
// record is the scheduler's private bookkeeping for one submitted
// fiber, tied by heap handle to the vm.Fiber marker object a
// `Fiber.make:` literal produces — Ready until a worker takes it off
// the work channel, Running while a worker executes it, Done once its
// result is published and any blocked Await unblocks.
//
// Grounded on the teacher's shellWorkerPool in
// runtime/executor/shell_worker.go: a pool keyed by an acquire/release
// lifecycle around reusable workers, generalized here from reusable
// shell processes to reusable goroutines draining one shared queue.
package fiber

import (
	"context"
	"sync"

	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/value"
)

// State mirrors spec.md §3.6's three fiber states ("Fibers traverse
// three kinds: Ready, Running, Done").
type State uint8

const (
	Ready State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "state?"
	}
}

// record is a fiber's scheduling state plus the work it was spawned
// with, expressed as a single closure so the same bookkeeping serves
// both a `run`-spawned fiber (invoking a Block) and an `asend`-spawned
// one (a direct message send against some receiver) — the worker loop
// never needs to know which.
type record struct {
	fn func(ctx context.Context) (value.Value, *diag.Error)

	mu     sync.Mutex
	state  State
	done   chan struct{}
	result value.Value
	err    *diag.Error
}

func newRecord(fn func(ctx context.Context) (value.Value, *diag.Error)) *record {
	return &record{fn: fn, done: make(chan struct{})}
}

func (r *record) markRunning() {
	r.mu.Lock()
	r.state = Running
	r.mu.Unlock()
}

func (r *record) finish(result value.Value, err *diag.Error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	r.state = Done
	r.mu.Unlock()
	close(r.done)
}

func (r *record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
