// Package channel implements spec.md §3.6/§4.7: a single-slot synchronous
// rendezvous channel. A put blocks until a take is ready to receive it (or
// the channel closes); a take blocks until a value is put (or the channel
// closes). Grounded on the teacher's single-slot handoff pattern in
// runtime/executor/session_runtime.go's result-channel plumbing, widened
// from a one-shot result cell into a reusable rendezvous point.
package channel

import (
	"context"
	"sync"

	"github.com/gab-lang/gab/internal/value"
)

// State mirrors spec.md §3.6's two channel kinds.
type State uint8

const (
	Open State = iota
	Closed
)

// Channel is a heap object (embeds value.Header so it can live in a
// value.Heap table and be reference-counted by internal/gcrt).
type Channel struct {
	value.Header

	mu     sync.Mutex
	state  State
	closed chan struct{}

	// slot rendezvous: a put hands its value here and a take picks it up.
	// Unbuffered, by design — the handoff IS the rendezvous point a put
	// blocks on until a take is ready. ack is buffered(1) so Take's
	// post-handoff send never blocks: without the buffer, a Put that wins
	// the slot handoff but then loses its own second select to a
	// concurrent close or ctx cancellation would never receive on ack,
	// leaving Take's goroutine blocked on `ack <- struct{}{}` forever.
	slot chan value.Value
	ack  chan struct{}
}

func New() *Channel {
	return &Channel{
		Header: value.Header{Kind: value.HeapChannel},
		closed: make(chan struct{}),
		slot:   make(chan value.Value),
		ack:    make(chan struct{}, 1),
	}
}

// Put blocks until a Take rendezvous with v, the channel closes, or ctx is
// done. Resolved Open Question #1 (SPEC_FULL.md §5): close always wins
// over a blocked put/take — both sides select on the closed channel.
func (c *Channel) Put(ctx context.Context, v value.Value) (value.Value, bool) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return value.Undefined, false
	}
	c.mu.Unlock()

	select {
	case c.slot <- v:
		// The handoff to a waiting Take already happened. Resolved Open
		// Question #2: that delivery is NOT retroactively undone by a
		// concurrent close or a cancelled context — it stands, matching
		// the original's non-atomic close semantics.
		select {
		case <-c.ack:
		case <-c.closed:
		case <-ctx.Done():
		}
		return value.PrimitiveSentinel(value.SentinelValid), true
	case <-c.closed:
		return value.Undefined, false
	case <-ctx.Done():
		return value.PrimitiveSentinel(value.SentinelTimeout), false
	}
}

// Take blocks until a Put rendezvous, the channel closes, or ctx is done.
func (c *Channel) Take(ctx context.Context) (value.Value, bool) {
	select {
	case v := <-c.slot:
		c.ack <- struct{}{}
		return v, true
	case <-c.closed:
		return value.Undefined, false
	case <-ctx.Done():
		return value.PrimitiveSentinel(value.SentinelTimeout), false
	}
}

// Close transitions the channel to Closed, unblocking every pending Put
// and Take. Closing an already-closed channel is a no-op (idempotent),
// matching spec.md §4.7's "close is idempotent" invariant.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return
	}
	c.state = Closed
	close(c.closed)
}

func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Closed
}
