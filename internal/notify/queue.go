package notify

import (
	"context"
	"sync"
	"time"

	"github.com/vishnandaman/road-assist/internal/roadside/domain"
)

// Pending is a queued notification awaiting delivery.
type Pending struct {
	ID           int64
	Notification domain.Notification
	CreatedAt    time.Time
}

// Queue is the durable buffer between the service and the dispatcher.
// Enqueue is cheap and never blocks on the push transport.
type Queue interface {
	Enqueue(ctx context.Context, n domain.Notification) error
	LoadPending(ctx context.Context, limit int) ([]Pending, error)
	MarkSent(ctx context.Context, ids []int64) error
}

// Enqueuer adapts a Queue to the service-facing notifier.
type Enqueuer struct {
	queue Queue
}

// NewEnqueuer wraps a queue.
func NewEnqueuer(queue Queue) *Enqueuer {
	return &Enqueuer{queue: queue}
}

// Notify enqueues the notification for asynchronous delivery.
func (e *Enqueuer) Notify(ctx context.Context, n domain.Notification) error {
	return e.queue.Enqueue(ctx, n)
}

// MemoryQueue is an in-process Queue for tests and single-node setups.
type MemoryQueue struct {
	mu     sync.Mutex
	nextID int64
	items  []Pending
}

// NewMemoryQueue builds an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue appends the notification.
func (q *MemoryQueue) Enqueue(_ context.Context, n domain.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.items = append(q.items, Pending{ID: q.nextID, Notification: n, CreatedAt: time.Now()})
	return nil
}

// LoadPending returns up to limit queued notifications, oldest first.
func (q *MemoryQueue) LoadPending(_ context.Context, limit int) ([]Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.items) {
		limit = len(q.items)
	}
	out := make([]Pending, limit)
	copy(out, q.items[:limit])
	return out, nil
}

// MarkSent removes delivered notifications from the queue.
func (q *MemoryQueue) MarkSent(_ context.Context, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	sent := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		sent[id] = struct{}{}
	}
	kept := q.items[:0]
	for _, item := range q.items {
		if _, ok := sent[item.ID]; !ok {
			kept = append(kept, item)
		}
	}
	q.items = kept
	return nil
}
