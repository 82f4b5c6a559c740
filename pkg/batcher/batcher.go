// Package batcher groups correlation-queue records into bounded batches,
// writes each batch to a sink in one call and routes every per-record
// outcome back to the caller that submitted it.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/avast/retry-go"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/metrics"
	"eventbatcher/pkg/models"
	"eventbatcher/pkg/queue"
	"eventbatcher/pkg/sink"
)

const recordAttempts = 3

// errSinkPanic marks a sink Write that panicked. The batch fails, the loop
// goes on.
var errSinkPanic = errors.New("sink panicked")

// flush triggers, used as metric labels
const (
	triggerCount    = "count"
	triggerSize     = "size"
	triggerTime     = "time"
	triggerShutdown = "shutdown"
)

// Batcher is the single consumer of a correlation queue.
type Batcher struct {
	q    queue.Consumer
	sink sink.Sink
	cfg  Config

	batch []models.Record
	size  int
	now   func() time.Time
}

// New builds a Batcher. Zero Config fields take their defaults.
func New(q queue.Consumer, s sink.Sink, cfg Config) *Batcher {
	cfg = cfg.withDefaults()
	return &Batcher{
		q:     q,
		sink:  s,
		cfg:   cfg,
		batch: make([]models.Record, 0, cfg.MaxElements),
		now:   time.Now,
	}
}

// Run drains, accumulates and flushes until ctx is cancelled or the queue is
// closed and empty. On cancellation it flushes everything still queued
// before returning. Only a corrupt queue ends Run with an error.
func (b *Batcher) Run(ctx context.Context) error {
	logger.Info("batcher_started",
		"max_elements", b.cfg.MaxElements,
		"max_size", b.cfg.MaxSize,
		"max_time", b.cfg.MaxTime.String())
	defer logger.Info("batcher_stopped")

	for {
		if ctx.Err() != nil {
			return b.finish(ctx)
		}

		recs, err := b.q.Drain(ctx, b.cfg.MaxElements-len(b.batch), b.nextWait())
		b.addAll(ctx, recs)

		switch {
		case err == nil:
		case errors.Is(err, queue.ErrCorrupt):
			logger.Error("queue_corrupt", "error", err)
			b.flush(ctx, triggerShutdown)
			return err
		case errors.Is(err, queue.ErrQueueClosed):
			b.flush(ctx, triggerShutdown)
			return nil
		case ctx.Err() != nil:
			continue
		default:
			logger.Warn("queue_drain_failed", "error", err)
			sleepCtx(ctx, b.cfg.PollInterval)
		}

		if len(b.batch) > 0 && b.age() >= b.cfg.MaxTime {
			b.flush(ctx, triggerTime)
		}
	}
}

// nextWait is the drain wait: one poll interval, shortened so the age
// deadline of a non-empty batch is not overshot.
func (b *Batcher) nextWait() time.Duration {
	wait := b.cfg.PollInterval
	if len(b.batch) == 0 {
		return wait
	}
	left := b.cfg.MaxTime - b.age()
	if left < 0 {
		left = 0
	}
	if left < wait {
		wait = left
	}
	return wait
}

func (b *Batcher) age() time.Duration {
	if len(b.batch) == 0 {
		return 0
	}
	return b.now().Sub(b.batch[0].SubmittedAt)
}

// addAll appends records one at a time so a threshold crossed mid-drain
// flushes exactly at the crossing record.
func (b *Batcher) addAll(ctx context.Context, recs []models.Record) {
	for _, rec := range recs {
		b.batch = append(b.batch, rec)
		b.size += rec.Size()
		switch {
		case len(b.batch) >= b.cfg.MaxElements:
			b.flush(ctx, triggerCount)
		case b.size >= b.cfg.MaxSize:
			b.flush(ctx, triggerSize)
		}
	}
}

// finish drains whatever is still queued without waiting, then flushes the
// remainder.
func (b *Batcher) finish(ctx context.Context) error {
	drainCtx := context.WithoutCancel(ctx)
	for {
		recs, err := b.q.Drain(drainCtx, b.cfg.MaxElements-len(b.batch), 0)
		b.addAll(ctx, recs)
		if errors.Is(err, queue.ErrCorrupt) {
			b.flush(ctx, triggerShutdown)
			return err
		}
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) {
				logger.Warn("final_drain_failed", "error", err)
			}
			break
		}
		if len(recs) == 0 {
			break
		}
	}
	b.flush(ctx, triggerShutdown)
	return nil
}

// flush writes the current batch and records one result per record. The
// sink write runs detached from ctx so a shutdown does not abort a write
// already in progress; FlushTimeout bounds it instead.
func (b *Batcher) flush(ctx context.Context, trigger string) {
	if len(b.batch) == 0 {
		return
	}
	batch := b.batch
	start := time.Now()

	results, err := b.write(ctx, batch)
	switch {
	case err != nil:
		metrics.SinkFailures.Inc()
		logger.Error("batch_write_failed", "records", len(batch), "error", err)
		status := http.StatusServiceUnavailable
		if errors.Is(err, errSinkPanic) {
			status = http.StatusInternalServerError
		}
		results = failAll(batch, status, err.Error())
	case len(results) != len(batch):
		metrics.SinkFailures.Inc()
		reason := fmt.Sprintf("sink returned %d outcomes for %d records", len(results), len(batch))
		logger.Error("batch_outcome_mismatch", "records", len(batch), "outcomes", len(results))
		results = failAll(batch, http.StatusBadGateway, reason)
	}

	for i, rec := range batch {
		res := results[i]
		if res.ID == "" && res.OK() {
			res.ID = rec.ID
		}
		b.record(rec.ID, res)
	}

	metrics.BatchesFlushed.WithLabelValues(trigger).Inc()
	metrics.BatchRecords.Observe(float64(len(batch)))
	metrics.BatchBytes.Observe(float64(b.size))
	metrics.FlushSeconds.Observe(time.Since(start).Seconds())
	logger.Debug("batch_flushed", "trigger", trigger, "records", len(batch), "bytes", b.size)

	b.batch = make([]models.Record, 0, b.cfg.MaxElements)
	b.size = 0
}

func (b *Batcher) write(ctx context.Context, batch []models.Record) ([]models.Result, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.FlushTimeout)
	defer cancel()

	var results []models.Result
	err := retry.Do(
		func() error {
			var err error
			results, err = b.safeWrite(wctx, batch)
			if errors.Is(err, errSinkPanic) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(uint(b.cfg.SinkRetries+1)),
		retry.Delay(b.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return wctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("batch_write_retry", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// safeWrite turns a panic in the sink into an error.
func (b *Batcher) safeWrite(ctx context.Context, batch []models.Record) (results []models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sink_panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			results, err = nil, fmt.Errorf("%w: %v", errSinkPanic, r)
		}
	}()
	return b.sink.Write(ctx, batch)
}

// abort fails the held batch and everything still queued. The queue must
// already be closed so the drain terminates.
func (b *Batcher) abort(reason string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("batcher_abort_panic", "panic", fmt.Sprint(r))
		}
	}()
	ctx := context.Background()
	for {
		for _, rec := range b.batch {
			b.record(rec.ID, models.Failure(rec.ID, http.StatusInternalServerError, reason))
		}
		b.batch = b.batch[:0]
		b.size = 0

		recs, err := b.q.Drain(ctx, b.cfg.MaxElements, 0)
		if len(recs) == 0 || err != nil {
			for _, rec := range recs {
				b.record(rec.ID, models.Failure(rec.ID, http.StatusInternalServerError, reason))
			}
			if err != nil && !errors.Is(err, queue.ErrQueueClosed) {
				logger.Error("abort_drain_failed", "error", err)
			}
			return
		}
		b.batch = append(b.batch, recs...)
	}
}

// record publishes one result. Abandoned ids are dropped silently.
func (b *Batcher) record(id string, res models.Result) {
	err := retry.Do(
		func() error { return b.q.RecordResult(id, res) },
		retry.Attempts(recordAttempts),
		retry.Delay(b.cfg.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, queue.ErrNotFound) && !errors.Is(err, queue.ErrAlreadyRecorded)
		}),
	)
	switch {
	case err == nil:
		metrics.RecordResults.WithLabelValues(metrics.Outcome(res.OK())).Inc()
	case errors.Is(err, queue.ErrNotFound):
		logger.Debug("result_dropped", "id", id)
	default:
		logger.Error("record_result_failed", "id", id, "error", err)
	}
}

func failAll(batch []models.Record, status int, reason string) []models.Result {
	out := make([]models.Result, len(batch))
	for i, rec := range batch {
		out[i] = models.Failure(rec.ID, status, reason)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
