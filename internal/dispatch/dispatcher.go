// Package dispatch schedules units of work asynchronously and supports
// best-effort cooperative cancellation via per-unit contexts.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Task is one schedulable unit of work. It must observe ctx and reach a
// terminal state on its own when cancelled; the dispatcher never kills
// a unit mid-write.
type Task func(ctx context.Context) error

// Handle correlates a dispatched unit of work for later cancellation.
type Handle = uuid.UUID

// Dispatcher runs tasks on their own goroutines. Top-level units are
// bounded by an optional concurrency limit; group members are bounded
// by their group size instead, so a coordinating unit can never
// deadlock waiting for slots it occupies itself.
type Dispatcher struct {
	mu      sync.Mutex
	cancels map[Handle]context.CancelFunc
	sem     chan struct{} // nil when unbounded

	baseCtx    context.Context
	baseCancel context.CancelFunc

	wg     sync.WaitGroup
	closed bool
}

// New creates a dispatcher. maxConcurrent <= 0 means unbounded.
func New(maxConcurrent int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cancels:    make(map[Handle]context.CancelFunc),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	if maxConcurrent > 0 {
		d.sem = make(chan struct{}, maxConcurrent)
	}
	return d
}

// Dispatch schedules fn for out-of-band execution and returns its handle
// immediately. The unit's lifetime is independent of any request context.
func (d *Dispatcher) Dispatch(fn Task) (Handle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return uuid.Nil, ErrClosed
	}

	handle := uuid.New()
	ctx, cancel := context.WithCancel(d.baseCtx)
	d.cancels[handle] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.release(handle)

		if d.sem != nil {
			select {
			case d.sem <- struct{}{}:
				defer func() { <-d.sem }()
			case <-ctx.Done():
				return
			}
		}
		fn(ctx)
	}()

	return handle, nil
}

// Cancel requests cooperative termination of the unit identified by
// handle. It reports whether the unit was still live.
func (d *Dispatcher) Cancel(handle Handle) bool {
	d.mu.Lock()
	cancel, ok := d.cancels[handle]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Group is a set of concurrently dispatched units whose results are
// collected in submission order.
type Group struct {
	handles []Handle
	results []error
	done    chan struct{}
}

// DispatchGroup schedules fns concurrently. Member contexts derive from
// ctx, so cancelling the caller's unit cascades into every member.
func (d *Dispatcher) DispatchGroup(ctx context.Context, fns []Task) (*Group, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}

	g := &Group{
		handles: make([]Handle, len(fns)),
		results: make([]error, len(fns)),
		done:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	for i := range fns {
		handle := uuid.New()
		memberCtx, cancel := context.WithCancel(ctx)
		d.cancels[handle] = cancel
		g.handles[i] = handle
		wg.Add(1)
		d.wg.Add(1)

		go func(i int, fn Task, memberCtx context.Context, handle Handle) {
			defer d.wg.Done()
			defer wg.Done()
			defer d.release(handle)
			g.results[i] = fn(memberCtx)
		}(i, fns[i], memberCtx, handle)
	}
	d.mu.Unlock()

	go func() {
		wg.Wait()
		close(g.done)
	}()

	return g, nil
}

// Join blocks until every group member has reached a terminal outcome
// and returns per-member results in submission order. It returns early
// only if ctx is cancelled first.
func (g *Group) Join(ctx context.Context) ([]error, error) {
	select {
	case <-g.done:
		return g.results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) release(handle Handle) {
	d.mu.Lock()
	cancel, ok := d.cancels[handle]
	delete(d.cancels, handle)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Live returns the number of units that have not yet finished.
func (d *Dispatcher) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cancels)
}

// Close stops accepting work and waits for in-flight units to finish or
// for ctx to expire. Expiry cancels everything still running.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.baseCancel()
		<-done
		return ctx.Err()
	}
}
