package queue

import (
	"context"
	"sync"
	"time"

	"eventbatcher/pkg/metrics"
	"eventbatcher/pkg/models"
)

// slot holds the outbound state for one in-flight id. A nil result means
// the record is still pending.
type slot struct {
	result *models.Result
}

// MemoryQueue is an in-process correlation queue. The inbound side is an
// unbounded FIFO so Submit never blocks; a one-element wake channel lets
// Drain sleep until work arrives.
type MemoryQueue struct {
	mu      sync.Mutex
	inbound []models.Record
	slots   map[string]*slot
	closed  bool

	wake chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewMemoryQueue creates an empty, open queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		slots: make(map[string]*slot),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// Submit enqueues rec without blocking.
func (q *MemoryQueue) Submit(rec models.Record) error {
	if err := rec.Validate(); err != nil {
		metrics.SubmitRejected.WithLabelValues("invalid").Inc()
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		metrics.SubmitRejected.WithLabelValues("closed").Inc()
		return ErrQueueClosed
	}
	if _, ok := q.slots[rec.ID]; ok {
		q.mu.Unlock()
		metrics.SubmitRejected.WithLabelValues("duplicate").Inc()
		return ErrDuplicateID
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = q.now()
	}
	q.slots[rec.ID] = &slot{}
	q.inbound = append(q.inbound, rec)
	q.mu.Unlock()

	metrics.RecordsSubmitted.Inc()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) IsPending(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[id]
	return ok && s.result == nil, nil
}

func (q *MemoryQueue) TakeResult(id string) (models.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[id]
	if !ok {
		return models.Result{}, ErrNotFound
	}
	if s.result == nil {
		return models.Result{}, ErrNotReady
	}
	delete(q.slots, id)
	return *s.result, nil
}

func (q *MemoryQueue) Abandon(id string) error {
	q.mu.Lock()
	delete(q.slots, id)
	q.mu.Unlock()
	return nil
}

// Drain pops up to max records. With an empty, open queue it waits up to
// wait for a submission, returning an empty slice on timeout.
func (q *MemoryQueue) Drain(ctx context.Context, max int, wait time.Duration) ([]models.Record, error) {
	if max <= 0 {
		max = 1
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		q.mu.Lock()
		if n := len(q.inbound); n > 0 {
			if n > max {
				n = max
			}
			out := make([]models.Record, n)
			copy(out, q.inbound[:n])
			// release references held by the backing array
			clear(q.inbound[:n])
			q.inbound = q.inbound[n:]
			q.mu.Unlock()
			return out, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}
		if wait <= 0 {
			return nil, nil
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		}
		select {
		case <-q.wake:
		case <-q.done:
		case <-timer.C:
			timer = nil
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) RecordResult(id string, res models.Result) error {
	if res.RecordedAt.IsZero() {
		res.RecordedAt = q.now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[id]
	if !ok {
		return ErrNotFound
	}
	if s.result != nil {
		return ErrAlreadyRecorded
	}
	s.result = &res
	return nil
}

func (q *MemoryQueue) Reap(before time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, s := range q.slots {
		if s.result != nil && s.result.RecordedAt.Before(before) {
			delete(q.slots, id)
			n++
		}
	}
	return n, nil
}

// Close is idempotent.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inbound)
}

// Slots returns the number of reserved or resolved slots. Used by tests and
// the readiness endpoint.
func (q *MemoryQueue) Slots() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
