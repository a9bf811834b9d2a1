package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncNotifier buffers events in a bounded channel and delivers them on
// a worker goroutine, decoupling the orchestration core from slow sinks.
// If the buffer is full, events are dropped (logged + counted).
type AsyncNotifier struct {
	sink   Notifier
	queue  chan Event
	logger *slog.Logger

	delivered atomic.Int64
	dropped   atomic.Int64

	wg     sync.WaitGroup
	closed atomic.Bool
	done   chan struct{}
}

// NewAsync wraps sink with a buffered delivery queue of the given size.
func NewAsync(sink Notifier, bufferSize int, logger *slog.Logger) *AsyncNotifier {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	n := &AsyncNotifier{
		sink:   sink,
		queue:  make(chan Event, bufferSize),
		logger: logger.With("component", "notify"),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.worker()
	return n
}

func (n *AsyncNotifier) Notify(ctx context.Context, event Event) {
	if n.closed.Load() {
		return
	}
	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notification dropped, buffer full",
			"event_type", event.Type,
			"user_id", event.UserID,
		)
	}
}

func (n *AsyncNotifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		case <-n.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case event := <-n.queue:
					n.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (n *AsyncNotifier) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n.sink.Notify(ctx, event)
	n.delivered.Add(1)
}

// Stats returns delivered/dropped counters.
func (n *AsyncNotifier) Stats() (delivered, dropped int64) {
	return n.delivered.Load(), n.dropped.Load()
}

// Close stops the worker after draining queued events.
func (n *AsyncNotifier) Close() {
	if n.closed.CompareAndSwap(false, true) {
		close(n.done)
		n.wg.Wait()
	}
}
