// Package queue is the bounded in-process delivery queue between
// webhook ingest and the lead-notification dispatcher. Durability is
// intentionally out of scope; the reconciliation sweep rescues payloads
// lost to a restart.
package queue

import (
	"context"

	"github.com/pedrohperalta/openclaw-mission-control/internal/webhook/models"
)

// Queue is a bounded FIFO of pending lead notifications.
type Queue struct {
	ch chan *models.Delivery
}

// New creates a queue holding at most capacity items.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{ch: make(chan *models.Delivery, capacity)}
}

// Enqueue adds a delivery without blocking. It reports false when the
// queue is full; the caller falls back to synchronous notification.
func (q *Queue) Enqueue(delivery *models.Delivery) bool {
	select {
	case q.ch <- delivery:
		return true
	default:
		return false
	}
}

// Dequeue blocks until an item is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*models.Delivery, error) {
	select {
	case delivery := <-q.ch:
		return delivery, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int { return len(q.ch) }
