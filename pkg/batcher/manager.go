package batcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/queue"
	"eventbatcher/pkg/sink"
)

// Options configures Start.
type Options struct {
	// Queue defaults to an in-process MemoryQueue.
	Queue  queue.Queue
	Sink   sink.Sink
	Config Config
}

// Manager owns one correlation queue and the Batcher draining it.
type Manager struct {
	q      queue.Queue
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	once sync.Once
}

// opener is implemented by queues whose closed state outlives the process.
type opener interface {
	Open() error
}

// Start creates the queue if needed and launches the Batcher in its own
// goroutine. A panic in the Batcher is recovered and reported by Err and
// Shutdown; it never takes the caller down.
func Start(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Sink == nil {
		return nil, errors.New("batcher: sink required")
	}
	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q := opts.Queue
	if q == nil {
		q = queue.NewMemoryQueue()
	}
	if o, ok := q.(opener); ok {
		if err := o.Open(); err != nil {
			return nil, fmt.Errorf("batcher: open queue: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m := &Manager{q: q, cancel: cancel, done: make(chan struct{})}
	b := New(q, opts.Sink, cfg)
	go m.run(runCtx, b)
	return m, nil
}

func (m *Manager) run(ctx context.Context, b *Batcher) {
	defer close(m.done)
	defer func() {
		if r := recover(); r != nil {
			m.err = fmt.Errorf("batcher panic: %v", r)
			logger.Error("batcher_panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			// nothing is draining any more; refuse new work and resolve
			// everything already accepted
			_ = m.q.Close()
			b.abort(m.err.Error())
		}
	}()
	if err := b.Run(ctx); err != nil {
		m.err = err
		_ = m.q.Close()
		b.abort(err.Error())
	}
}

// Producer returns the handle request-serving code submits through.
func (m *Manager) Producer() queue.Producer { return m.q }

// Consumer returns the handle the Batcher drains.
func (m *Manager) Consumer() queue.Consumer { return m.q }

// Queue returns the managed queue.
func (m *Manager) Queue() queue.Queue { return m.q }

// Done is closed once the Batcher has returned.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err returns the Batcher's terminal error, nil while it is running.
func (m *Manager) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Shutdown stops submissions, lets the Batcher drain and flush everything
// accepted so far, and waits for it. Every call returns the same error.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		logger.Info("batcher_shutdown_requested", "queued", m.q.Len())
		if err := m.q.Close(); err != nil {
			logger.Warn("queue_close_failed", "error", err)
		}
		m.cancel()
	})
	<-m.done
	return m.err
}
