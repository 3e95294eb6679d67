// Package queue implements the bounded ingress FIFO shared between the
// ingestion handler and the dispatcher pool. A full queue back-pressures
// producers by blocking rather than dropping, turning overload into
// observable latency at the ingress caller.
package queue

import (
	"context"

	"logs-distributor/models"
)

// Queue is a thin wrapper around a buffered channel, grounded on the
// teacher's channel-based packet pipeline generalized down to the single
// ingress queue the distributor core needs.
type Queue struct {
	ch chan models.Packet
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan models.Packet, capacity)}
}

// Put blocks until there is room or the context is cancelled. It returns
// ctx.Err() on cancellation. The queue has no close operation.
func (q *Queue) Put(ctx context.Context, p models.Packet) error {
	select {
	case q.ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut attempts a non-blocking enqueue, used by the dispatcher's
// best-effort requeue path. It reports whether the packet was accepted.
func (q *Queue) TryPut(p models.Packet) bool {
	select {
	case q.ch <- p:
		return true
	default:
		return false
	}
}

// Get blocks until a packet is available or ctx is cancelled.
func (q *Queue) Get(ctx context.Context) (models.Packet, bool) {
	select {
	case p := <-q.ch:
		return p, true
	case <-ctx.Done():
		return models.Packet{}, false
	}
}

// Len reports the current depth, for telemetry gauges. It may be
// momentarily stale under concurrent access — acceptable for telemetry.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
