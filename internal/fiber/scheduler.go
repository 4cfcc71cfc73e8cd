package fiber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gab-lang/gab/internal/channel"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/internal/gcrt"
	"github.com/gab-lang/gab/internal/value"
	"github.com/gab-lang/gab/internal/vm"
)

// Signal enumerates spec.md §4.7's three worker signals.
type Signal uint8

const (
	SigIgnore Signal = iota
	SigCollect
	SigTerm
)

func (s Signal) String() string {
	switch s {
	case SigCollect:
		return "COLL"
	case SigTerm:
		return "TERM"
	default:
		return "IGN"
	}
}

const (
	defaultWorkers  = 8
	localQueueDepth = 32
	idleWait        = 50 * time.Millisecond
)

// Scheduler owns the worker pool (default 8, configurable) and the
// single work channel fibers are placed onto. It is realized as a
// spec-faithful choice: work_channel is literally an internal/channel.Channel
// carrying fiber heap handles, so Spawn/the worker loop are ordinary
// Put/Take rendezvous rather than a second ad-hoc queue type.
type Scheduler struct {
	log *slog.Logger
	vm  *vm.VM

	work *channel.Channel

	signals []chan Signal
	// buffers holds one gcrt.WorkerBuffer per worker goroutine (spec.md
	// §4.6 "each worker owns its own INC/DEC/STK buffers"), created once
	// up front so runWorker's goroutine and the collector's Collect pass
	// never race over buffer creation.
	buffers []*gcrt.WorkerBuffer

	recordsMu sync.Mutex
	records   map[uint32]*record

	wg sync.WaitGroup
}

// New starts n workers (default 8 when n <= 0) pulling fiber handles off
// a shared work channel and running them against m.
func New(n int, m *vm.VM, log *slog.Logger) *Scheduler {
	if n <= 0 {
		n = defaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		log:     log,
		vm:      m,
		work:    channel.New(),
		signals: make([]chan Signal, n),
		buffers: make([]*gcrt.WorkerBuffer, n),
		records: make(map[uint32]*record),
	}
	for i := range s.signals {
		s.signals[i] = make(chan Signal, 1)
		s.buffers[i] = m.GC.Worker(i)
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.runWorker(i)
	}
	log.Debug("fiber scheduler started", "workers", n)
	return s
}

// Spawn registers a fiber's scheduling record and places its handle on
// the work channel, returning immediately (spec.md §4.7 "Placed onto the
// work channel. A worker takes it[...]"). handle is the heap Value of
// the vm.Fiber marker object a Fiber.make: literal produced.
func (s *Scheduler) Spawn(handle value.Value, block *vm.Block, args []value.Value) {
	s.SpawnFunc(handle, func(ctx context.Context) (value.Value, *diag.Error) {
		return s.vm.Call(ctx, block, args)
	})
}

// SpawnFunc is Spawn's generalized form: any closure can be run on the
// worker pool under handle's fiber identity, not just a Block invocation.
// pkg/gab's `asend` uses this directly to run a plain message send
// concurrently, without first wrapping it in a Block.
func (s *Scheduler) SpawnFunc(handle value.Value, fn func(ctx context.Context) (value.Value, *diag.Error)) {
	rec := newRecord(fn)
	s.recordsMu.Lock()
	s.records[handle.Handle()] = rec
	s.recordsMu.Unlock()

	go func() {
		ctx := context.Background()
		if _, ok := s.work.Put(ctx, handle); !ok {
			rec.finish(value.Undefined, diag.New(diag.KindOverflow, "", diag.TokenRef{},
				"scheduler shut down before fiber ran"))
		}
	}()
}

// Await blocks until the fiber identified by handle finishes or ctx is
// done, matching spec.md §4.7's gab_fib_await. The returned Value is the
// two-element {ok|err, result} pair a fiber's own send protocol expects.
func (s *Scheduler) Await(ctx context.Context, handle value.Value) (value.Value, *diag.Error, bool) {
	rec := s.lookup(handle)
	if rec == nil {
		return value.Undefined, nil, false
	}
	select {
	case <-rec.done:
		return rec.result, rec.err, true
	case <-ctx.Done():
		return value.Undefined, nil, false
	}
}

// TryAwait is the non-blocking variant: reports whether the fiber has
// already finished, without waiting for it.
func (s *Scheduler) TryAwait(handle value.Value) (value.Value, *diag.Error, bool) {
	rec := s.lookup(handle)
	if rec == nil || rec.State() != Done {
		return value.Undefined, nil, false
	}
	return rec.result, rec.err, true
}

// StateOf reports a fiber's current lifecycle state.
func (s *Scheduler) StateOf(handle value.Value) State {
	rec := s.lookup(handle)
	if rec == nil {
		return Ready
	}
	return rec.State()
}

func (s *Scheduler) lookup(handle value.Value) *record {
	s.recordsMu.Lock()
	defer s.recordsMu.Unlock()
	return s.records[handle.Handle()]
}

// Signal delivers sig to worker 0. Each worker forwards a received
// signal to the next worker before acting on it, matching
// spec.md §4.7's propagation rule ("advance epoch and propagate the
// signal to the next worker"). The last worker does not forward, so one
// signal reaches each worker once.
func (s *Scheduler) Signal(sig Signal) {
	if len(s.signals) == 0 {
		return
	}
	select {
	case s.signals[0] <- sig:
	default:
	}
}

// RequestCollection asks the workers to advance a GC epoch (spec.md
// §4.7's COLL signal).
func (s *Scheduler) RequestCollection() { s.Signal(SigCollect) }

// Shutdown closes the work channel and signals TERM, then waits for
// every worker goroutine to exit.
func (s *Scheduler) Shutdown() {
	s.work.Close()
	s.Signal(SigTerm)
	s.wg.Wait()
}

func (s *Scheduler) runWorker(i int) {
	defer s.wg.Done()
	defer s.log.Debug("worker exiting", "worker", i)
	mySig := s.signals[i]
	// The last worker has no successor; a nil next makes forward a no-op.
	var next chan Signal
	if i+1 < len(s.signals) {
		next = s.signals[i+1]
	}
	local := make([]value.Value, 0, localQueueDepth)

	forward := func(sig Signal) {
		select {
		case next <- sig:
		default:
		}
	}

	for {
		select {
		case sig := <-mySig:
			switch sig {
			case SigTerm:
				forward(sig)
				return
			case SigCollect:
				forward(sig)
				// Only worker 0 may free objects during the collector
				// phase (spec.md §4.7); the rest just relay the signal
				// on so every slot's epoch advances.
				if i == 0 && s.vm != nil {
					s.vm.GC.Collect()
				}
			}
			continue
		default:
		}

		if len(local) == 0 {
			ctx, cancel := context.WithTimeout(context.Background(), idleWait)
			h, ok := s.work.Take(ctx)
			cancel()
			if !ok {
				continue
			}
			local = append(local, h)
		}

		h := local[0]
		local = local[1:]
		s.runOne(h, s.buffers[i])
	}
}

func (s *Scheduler) runOne(handle value.Value, buf *gcrt.WorkerBuffer) {
	rec := s.lookup(handle)
	if rec == nil {
		return
	}
	rec.markRunning()
	ctx := gcrt.WithWorker(context.Background(), buf)
	result, err := rec.fn(ctx)
	lead := value.Ok
	if err != nil {
		lead = value.Err
		result = value.Undefined
	}
	pair := s.vm.Records.Empty()
	pair = s.vm.Records.Put(pair, value.Int(0), lead)
	pair = s.vm.Records.Put(pair, value.Int(1), result)
	rec.finish(pair.Value(), err)
}
