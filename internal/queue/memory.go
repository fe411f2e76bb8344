package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/errs"
)

// MemoryQueue is an in-memory Queue for tests. Queues spring into
// existence on first send unless declared via Create.
type MemoryQueue struct {
	mu       sync.Mutex
	queues   map[string][]Message
	declared map[string]bool
	counter  int

	// FailSends forces the next N sends to fail with a retriable
	// queue error.
	FailSends int
	// ExistsErr, when set, is returned by Exists.
	ExistsErr error
}

// NewMemoryQueue creates an empty in-memory queue fabric.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues:   make(map[string][]Message),
		declared: make(map[string]bool),
	}
}

// Create declares a queue so Exists reports true before any send.
func (q *MemoryQueue) Create(queueURL string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.declared[queueURL] = true
	if _, ok := q.queues[queueURL]; !ok {
		q.queues[queueURL] = nil
	}
}

// Messages returns the bodies currently enqueued on a queue.
func (q *MemoryQueue) Messages(queueURL string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.queues[queueURL]))
	for _, m := range q.queues[queueURL] {
		out = append(out, m.Body)
	}
	return out
}

// Send implements Queue.
func (q *MemoryQueue) Send(ctx context.Context, queueURL, body string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailSends > 0 {
		q.FailSends--
		return "", errs.New(errs.Queue, "simulated send failure")
	}
	q.counter++
	id := fmt.Sprintf("mem-%d", q.counter)
	q.queues[queueURL] = append(q.queues[queueURL], Message{
		ID:            id,
		Body:          body,
		ReceiptHandle: "rh-" + id,
	})
	q.declared[queueURL] = true
	return id, nil
}

// SendDelayed implements Queue; the delay is recorded but not enforced.
func (q *MemoryQueue) SendDelayed(ctx context.Context, queueURL, body string, delay time.Duration) (string, error) {
	return q.Send(ctx, queueURL, body)
}

// SendBatch implements Queue.
func (q *MemoryQueue) SendBatch(ctx context.Context, queueURL string, bodies []string) ([]string, error) {
	ids := make([]string, 0, len(bodies))
	for _, body := range bodies {
		id, err := q.Send(ctx, queueURL, body)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Receive implements Queue without blocking.
func (q *MemoryQueue) Receive(ctx context.Context, queueURL string, max int32, wait time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[queueURL]
	n := int(max)
	if n > len(pending) {
		n = len(pending)
	}
	out := make([]Message, n)
	copy(out, pending[:n])
	return out, nil
}

// Delete implements Queue by receipt handle.
func (q *MemoryQueue) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[queueURL]
	for i, m := range pending {
		if m.ReceiptHandle == receiptHandle {
			q.queues[queueURL] = append(pending[:i], pending[i+1:]...)
			return nil
		}
	}
	return nil
}

// Exists implements Queue.
func (q *MemoryQueue) Exists(ctx context.Context, queueURL string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ExistsErr != nil {
		return false, q.ExistsErr
	}
	return q.declared[queueURL], nil
}
