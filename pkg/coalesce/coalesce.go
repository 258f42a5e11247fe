// Package coalesce collapses repeated same-key operations issued within a
// short window into one execution.
//
// This is de-duplication, not batching: each distinct key still runs its own
// operation, but a newer registration under a key supersedes the older one.
// Only the most recent registration per key is ever executed; earlier callers
// are rejected with ErrSuperseded before the flush runs. Callers that share a
// key are treated as the same logical operation even if they are independent.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/metrics"
)

// DefaultDelay is the debounce window.
const DefaultDelay = 50 * time.Millisecond

var (
	// ErrSuperseded rejects a registration replaced by a newer one for the
	// same key.
	ErrSuperseded = errors.New("coalesce: superseded by a newer request")
	// ErrCanceled rejects registrations dropped by CancelAll.
	ErrCanceled = errors.New("coalesce: canceled")
	// ErrPanicked settles a registration whose operation panicked.
	ErrPanicked = errors.New("coalesce: operation panicked")
)

// Thunk is the deferred operation.
type Thunk[T any] func(ctx context.Context) (T, error)

// Result is the settled outcome of a registration.
type Result[T any] struct {
	Value T
	Err   error
}

// Pending is the caller's handle on a registration.
type Pending[T any] struct {
	key  string
	seq  uint64
	ch   chan Result[T]
	once sync.Once
}

// Key returns the coalescing key.
func (p *Pending[T]) Key() string { return p.key }

// Seq returns the registration's sequence number.
func (p *Pending[T]) Seq() uint64 { return p.seq }

// Done delivers exactly one Result.
func (p *Pending[T]) Done() <-chan Result[T] { return p.ch }

// Wait blocks until the registration settles or ctx ends.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-p.ch:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// settle delivers r once. It never blocks.
func (p *Pending[T]) settle(r Result[T]) bool {
	settled := false
	p.once.Do(func() {
		p.ch <- r
		settled = true
	})
	return settled
}

type entry[T any] struct {
	ctx     context.Context
	thunk   Thunk[T]
	pending *Pending[T]
}

// Coalescer holds the key → latest registration map and one shared flush
// timer.
type Coalescer[T any] struct {
	clock clock.Clock
	delay time.Duration

	onPanic func(any)

	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry[T]
	timer   clock.Timer
	// gen identifies the armed timer; a flush from an older timer is stale.
	gen uint64
}

type Option func(*options)

type options struct {
	clock   clock.Clock
	delay   time.Duration
	onPanic func(any)
}

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithClock sets the clock driving the flush timer.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPanicHandler receives the value of a panicking operation. The caller
// still gets ErrPanicked.
func WithPanicHandler(f func(any)) Option {
	return func(o *options) { o.onPanic = f }
}

// New creates a Coalescer.
func New[T any](opts ...Option) *Coalescer[T] {
	o := options{clock: clock.Real(), delay: DefaultDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.delay <= 0 {
		o.delay = DefaultDelay
	}
	return &Coalescer[T]{
		clock:   o.clock,
		delay:   o.delay,
		onPanic: o.onPanic,
		entries: make(map[string]*entry[T]),
	}
}

// Add registers thunk under key and returns immediately. A previous
// registration under key is rejected with ErrSuperseded before Add returns.
func (c *Coalescer[T]) Add(ctx context.Context, key string, thunk Thunk[T]) *Pending[T] {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	p := &Pending[T]{key: key, seq: c.seq, ch: make(chan Result[T], 1)}

	if prev, ok := c.entries[key]; ok {
		if prev.pending.settle(Result[T]{Err: ErrSuperseded}) {
			metrics.CoalescedTotal.WithLabelValues("superseded").Inc()
		}
	}
	c.entries[key] = &entry[T]{ctx: ctx, thunk: thunk, pending: p}

	if c.timer == nil {
		c.gen++
		gen := c.gen
		c.timer = c.clock.AfterFunc(c.delay, func() { c.flush(gen) })
	}
	return p
}

// Do is the blocking form of Add. If ctx ends first the caller stops
// waiting; the operation itself still runs.
func (c *Coalescer[T]) Do(ctx context.Context, key string, thunk Thunk[T]) (T, error) {
	return c.Add(ctx, key, thunk).Wait(ctx)
}

// Len returns the number of keys awaiting the flush.
func (c *Coalescer[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CancelAll rejects every pending registration with ErrCanceled and stops
// the flush timer.
func (c *Coalescer[T]) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	for key, e := range c.entries {
		if e.pending.settle(Result[T]{Err: ErrCanceled}) {
			metrics.CoalescedTotal.WithLabelValues("canceled").Inc()
		}
		delete(c.entries, key)
	}
}

// flush runs every key's latest thunk in parallel and clears the map. It is
// a no-op when gen no longer names the armed timer.
func (c *Coalescer[T]) flush(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	batch := c.entries
	c.entries = make(map[string]*entry[T])
	c.timer = nil
	c.mu.Unlock()

	for _, e := range batch {
		metrics.CoalescedTotal.WithLabelValues("executed").Inc()
		go c.run(e)
	}
}

func (c *Coalescer[T]) run(e *entry[T]) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CoalescedTotal.WithLabelValues("panicked").Inc()
			e.pending.settle(Result[T]{Err: fmt.Errorf("%w: %v", ErrPanicked, r)})
			if c.onPanic != nil {
				c.onPanic(r)
			}
		}
	}()
	v, err := e.thunk(e.ctx)
	e.pending.settle(Result[T]{Value: v, Err: err})
}
