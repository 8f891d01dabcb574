// Package queue provides the bounded FIFO buffering raw TCP payloads
// between the capture goroutine and the consumer. It is the only mutable
// state shared between the two sides of the pipeline.
package queue

import (
	"context"
	"fmt"
	"time"

	"dofus-hdv/internal/logger"
)

// Queue is a fixed-capacity multi-producer multi-consumer FIFO.
// The channel provides ordering and blocking semantics; offers and polls
// honour per-call deadlines so neither side can stall indefinitely.
type Queue struct {
	ch       chan []byte
	capacity int
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:       make(chan []byte, capacity),
		capacity: capacity,
	}
}

// Offer appends payload if room opens within timeout. Returns false on
// expiry, the producer's signal to drop the packet.
func (q *Queue) Offer(payload []byte, timeout time.Duration) bool {
	select {
	case q.ch <- payload:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.ch <- payload:
		return true
	case <-t.C:
		return false
	}
}

// Poll removes the head if one arrives within timeout.
func (q *Queue) Poll(timeout time.Duration) ([]byte, bool) {
	select {
	case p := <-q.ch:
		return p, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p := <-q.ch:
		return p, true
	case <-t.C:
		return nil, false
	}
}

// Drain removes up to max payloads without blocking.
func (q *Queue) Drain(max int) [][]byte {
	var out [][]byte
	for len(out) < max {
		select {
		case p := <-q.ch:
			out = append(out, p)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of buffered payloads.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return q.capacity }

// RemainingCapacity returns the free slots.
func (q *Queue) RemainingCapacity() int { return q.capacity - len(q.ch) }

// Utilisation returns fill level in [0,1].
func (q *Queue) Utilisation() float64 {
	return float64(len(q.ch)) / float64(q.capacity)
}

// Monitor reports queue pressure at the given interval until ctx is
// cancelled. Above 80% utilisation it warns, above 95% it logs an error.
func (q *Queue) Monitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			u := q.Utilisation()
			switch {
			case u >= 0.95:
				logger.Error("QUEUE", fmt.Sprintf("utilisation %.0f%% (%d/%d) - consumers falling behind", u*100, q.Len(), q.capacity))
			case u >= 0.80:
				logger.Warn("QUEUE", fmt.Sprintf("utilisation %.0f%% (%d/%d)", u*100, q.Len(), q.capacity))
			}
		}
	}
}
