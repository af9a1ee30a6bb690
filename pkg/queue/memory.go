package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is the in-process queue for single-node deployments and tests. It
// satisfies the same contract as the Redis variant, including Length-driven
// backpressure.
type Memory struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond

	next     int64
	pending  []*Message          // undelivered, FIFO
	inFlight map[string]*Message // delivered, unacked
	dlq      []*DLQEntry
	closed   bool
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	q := &Memory{inFlight: make(map[string]*Message)}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *Memory) nextOffset() string {
	q.next++
	return strconv.FormatInt(q.next, 10)
}

// Publish appends one message.
func (q *Memory) Publish(_ context.Context, msg *Message) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := *msg
	copied.Offset = q.nextOffset()
	q.pending = append(q.pending, &copied)
	q.nonEmpty.Signal()
	return copied.Offset, nil
}

// PublishBatch appends messages in order.
func (q *Memory) PublishBatch(ctx context.Context, msgs []*Message) error {
	for _, msg := range msgs {
		if _, err := q.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// ReadBatch returns up to count messages, waiting up to block when empty.
func (q *Memory) ReadBatch(ctx context.Context, _ string, count int, block time.Duration) ([]*Message, error) {
	deadline := time.Now().Add(block)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return nil, nil
		}
		// Cond has no timed wait; poll in short slices so block and ctx
		// cancellation are both honoured.
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			q.mu.Lock()
			return nil, nil
		case <-time.After(minDuration(remaining, 10*time.Millisecond)):
		}
		q.mu.Lock()
	}

	n := count
	if n > len(q.pending) {
		n = len(q.pending)
	}
	out := make([]*Message, n)
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	for _, msg := range out {
		q.inFlight[msg.Offset] = msg
	}
	return out, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Ack discards an in-flight message.
func (q *Memory) Ack(_ context.Context, offset string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, offset)
	return nil
}

// Requeue re-appends with attempts incremented and discards the original.
func (q *Memory) Requeue(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, msg.Offset)
	retry := *msg
	retry.Attempts++
	retry.Offset = q.nextOffset()
	q.pending = append(q.pending, &retry)
	q.nonEmpty.Signal()
	return nil
}

// MoveToDLQ records the message in the dead-letter list and discards the
// original.
func (q *Memory) MoveToDLQ(_ context.Context, msg *Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, msg.Offset)
	q.dlq = append(q.dlq, &DLQEntry{
		Reason:         reason,
		OriginalOffset: msg.Offset,
		FailedAt:       time.Now().UTC(),
		Message:        msg,
	})
	return nil
}

// Length returns the number of undelivered messages.
func (q *Memory) Length(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// DLQLength returns the dead-letter count.
func (q *Memory) DLQLength(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dlq)), nil
}

// DLQEntries returns a snapshot of the dead-letter list, for inspection in
// tests and diagnostics.
func (q *Memory) DLQEntries() []*DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*DLQEntry, len(q.dlq))
	copy(out, q.dlq)
	return out
}

// Close marks the queue closed; blocked readers return.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
	return nil
}
