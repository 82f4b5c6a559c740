package queue

import (
	"context"
	"errors"
	"time"

	"eventbatcher/pkg/models"
)

// Producer is the handle request-serving code uses. Any number of
// goroutines (or processes, with a shared backend) may use it concurrently.
type Producer interface {
	// Submit enqueues rec and reserves its result slot. It never blocks.
	Submit(rec models.Record) error
	// IsPending reports whether a slot is reserved for id and has no result yet.
	IsPending(id string) (bool, error)
	// TakeResult removes and returns the result for id. It returns
	// ErrNotReady while the result is pending and ErrNotFound for an unknown
	// or already consumed id.
	TakeResult(id string) (models.Result, error)
	// Abandon releases the slot for id; a result recorded later is dropped.
	Abandon(id string) error
}

// Consumer is the handle owned by the single Batcher.
type Consumer interface {
	// Drain returns up to max records in arrival order, waiting at most wait
	// for the first one. Once the queue is closed and empty it returns
	// ErrQueueClosed.
	Drain(ctx context.Context, max int, wait time.Duration) ([]models.Record, error)
	// RecordResult publishes the result for id.
	RecordResult(id string, res models.Result) error
}

// Queue is the correlation queue: an inbound record channel plus an
// outbound keyed result store.
type Queue interface {
	Producer
	Consumer
	// Reap evicts resolved results that were recorded before the cutoff and
	// never consumed. It returns the number evicted.
	Reap(before time.Time) (int, error)
	// Close rejects further submissions. Records already accepted stay
	// drainable.
	Close() error
	// Len returns the number of records waiting on the inbound side.
	Len() int
}

var (
	// ErrQueueClosed is returned by Submit after Close, and by Drain once
	// a closed queue is empty.
	ErrQueueClosed = errors.New("correlation queue closed")
	// ErrDuplicateID is returned by Submit when id is already in flight.
	ErrDuplicateID = errors.New("record id already in flight")
	// ErrNotReady means the result slot exists but has no result yet.
	ErrNotReady = errors.New("result not yet available")
	// ErrNotFound means no slot exists: the id was never submitted, was
	// already consumed, or was abandoned.
	ErrNotFound = errors.New("unknown or consumed id")
	// ErrAlreadyRecorded is returned when a second result is recorded for id.
	ErrAlreadyRecorded = errors.New("result already recorded")
	// ErrCorrupt wraps undecodable queue contents. It is fatal to the Batcher.
	ErrCorrupt = errors.New("correlation queue corrupt")

	ErrInvalidRecord = models.ErrInvalidRecord
)
