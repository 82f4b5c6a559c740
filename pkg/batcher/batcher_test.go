package batcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbatcher/pkg/models"
	"eventbatcher/pkg/queue"
	"eventbatcher/pkg/sink"
)

// recordingSink acknowledges every record and remembers batch sizes.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]string
	fail    func(call int) error
	calls   int
}

func (s *recordingSink) Write(ctx context.Context, batch []models.Record) ([]models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		if err := s.fail(s.calls); err != nil {
			return nil, err
		}
	}
	ids := make([]string, len(batch))
	out := make([]models.Result, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
		out[i] = models.Result{ID: r.ID, Status: 201, Result: "created"}
	}
	s.batches = append(s.batches, ids)
	return out, nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.batches))
	for i, b := range s.batches {
		out[i] = len(b)
	}
	return out
}

func rec(id string) models.Record {
	return models.Record{ID: id, Operation: models.OpCreate, Destination: models.FIMIndex, Content: map[string]any{"n": id}}
}

func start(t *testing.T, s sink.Sink, cfg Config) *Manager {
	t.Helper()
	m, err := Start(context.Background(), Options{Sink: s, Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func await(t *testing.T, c *Client, id string) models.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.AwaitResult(ctx, id)
	require.NoError(t, err, id)
	return res
}

func TestCountThresholdFlushesExactBatch(t *testing.T) {
	s := &recordingSink{}
	m := start(t, s, Config{MaxElements: 3, MaxTime: time.Hour})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Submit(rec(fmt.Sprint(i))))
	}
	for i := 0; i < 3; i++ {
		res := await(t, c, fmt.Sprint(i))
		assert.Equal(t, 201, res.Status)
	}
	assert.Equal(t, []int{3}, s.sizes())
}

func TestSizeThresholdFlushesCrossingRecord(t *testing.T) {
	s := &recordingSink{}
	m := start(t, s, Config{MaxElements: 10, MaxSize: 100, MaxTime: time.Hour})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	// {"k":"x...x"} with 52 x's is 60 bytes: the second record crosses 100
	content := map[string]any{"k": strings.Repeat("x", 52)}
	for i := 0; i < 3; i++ {
		r := rec(fmt.Sprint(i))
		r.Content = content
		require.Equal(t, 60, r.Size())
		require.NoError(t, c.Submit(r))
	}
	await(t, c, "0")
	await(t, c, "1")
	assert.Equal(t, []int{2}, s.sizes())

	// the third record waits for another threshold
	pending, err := m.Producer().IsPending("2")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestTimeThresholdFlushesPartialBatch(t *testing.T) {
	s := &recordingSink{}
	m := start(t, s, Config{MaxElements: 100, MaxTime: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	begin := time.Now()
	require.NoError(t, c.Submit(rec("lonely")))
	res := await(t, c, "lonely")
	assert.Equal(t, "created", res.Result)
	assert.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)
	assert.Equal(t, []int{1}, s.sizes())
}

func TestSinkFailureFailsBatchAndLoopContinues(t *testing.T) {
	s := &recordingSink{fail: func(call int) error {
		if call == 1 {
			return errors.New("indexer down")
		}
		return nil
	}}
	m := start(t, s, Config{MaxElements: 2, MaxTime: time.Hour})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	require.NoError(t, c.Submit(rec("a")))
	require.NoError(t, c.Submit(rec("b")))
	for _, id := range []string{"a", "b"} {
		res := await(t, c, id)
		assert.Equal(t, 503, res.Status)
		assert.Contains(t, res.Reason, "indexer down")
		assert.False(t, res.OK())
	}

	require.NoError(t, c.Submit(rec("c")))
	require.NoError(t, c.Submit(rec("d")))
	assert.Equal(t, 201, await(t, c, "c").Status)
	assert.Equal(t, 201, await(t, c, "d").Status)
}

func TestSinkRetriesBeforeFailing(t *testing.T) {
	s := &recordingSink{fail: func(call int) error {
		if call < 3 {
			return errors.New("transient")
		}
		return nil
	}}
	m := start(t, s, Config{MaxElements: 1, MaxTime: time.Hour, SinkRetries: 2, RetryDelay: time.Millisecond})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	require.NoError(t, c.Submit(rec("r")))
	assert.Equal(t, 201, await(t, c, "r").Status)
	s.mu.Lock()
	assert.Equal(t, 3, s.calls)
	s.mu.Unlock()
}

func TestOutcomeMismatchFailsEveryRecord(t *testing.T) {
	short := sink.Func(func(ctx context.Context, batch []models.Record) ([]models.Result, error) {
		return []models.Result{{ID: batch[0].ID, Status: 201}}, nil
	})
	m := start(t, short, Config{MaxElements: 2, MaxTime: time.Hour})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	require.NoError(t, c.Submit(rec("x")))
	require.NoError(t, c.Submit(rec("y")))
	assert.Equal(t, 502, await(t, c, "x").Status)
	assert.Equal(t, 502, await(t, c, "y").Status)
}

func TestShutdownDrainsEveryAcceptedRecord(t *testing.T) {
	s := &recordingSink{}
	m, err := Start(context.Background(), Options{Sink: s, Config: Config{MaxElements: 5, MaxTime: time.Hour}})
	require.NoError(t, err)
	p := m.Producer()

	const n = 12
	for i := 0; i < n; i++ {
		require.NoError(t, p.Submit(rec(fmt.Sprint(i))))
	}
	require.NoError(t, m.Shutdown())

	for i := 0; i < n; i++ {
		res, err := p.TakeResult(fmt.Sprint(i))
		require.NoError(t, err, "record %d unresolved", i)
		assert.True(t, res.OK())
	}
	total := 0
	for _, sz := range s.sizes() {
		assert.LessOrEqual(t, sz, 5)
		total += sz
	}
	assert.Equal(t, n, total)
}

func TestShutdownIdempotentAndRejectsSubmit(t *testing.T) {
	m, err := Start(context.Background(), Options{Sink: sink.Discard{}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Shutdown())
		}()
	}
	wg.Wait()
	assert.NoError(t, m.Shutdown())

	select {
	case <-m.Done():
	default:
		t.Fatal("done not closed after shutdown")
	}
	assert.ErrorIs(t, m.Producer().Submit(rec("late")), queue.ErrQueueClosed)
}

func TestSinkPanicFailsBatchAndKeepsRunning(t *testing.T) {
	var calls atomic.Int32
	flaky := sink.Func(func(_ context.Context, batch []models.Record) ([]models.Result, error) {
		if calls.Add(1) == 1 {
			panic("sink exploded")
		}
		out := make([]models.Result, len(batch))
		for i, r := range batch {
			out[i] = models.Result{ID: r.ID, Status: 201, Result: "created"}
		}
		return out, nil
	})
	m := start(t, flaky, Config{MaxElements: 1, MaxTime: time.Hour})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	require.NoError(t, c.Submit(rec("p")))
	res := await(t, c, "p")
	assert.Equal(t, 500, res.Status)
	assert.Contains(t, res.Reason, "sink exploded")

	require.NoError(t, c.Submit(rec("q")))
	assert.Equal(t, 201, await(t, c, "q").Status)
	assert.NoError(t, m.Err())
	assert.EqualValues(t, 2, calls.Load())
}

// explodingQueue panics on the first Drain after it is armed.
type explodingQueue struct {
	*queue.MemoryQueue
	armed atomic.Bool
}

func (q *explodingQueue) Drain(ctx context.Context, max int, wait time.Duration) ([]models.Record, error) {
	if q.armed.CompareAndSwap(true, false) {
		panic("drain exploded")
	}
	return q.MemoryQueue.Drain(ctx, max, wait)
}

func TestBatcherPanicResolvesAcceptedRecords(t *testing.T) {
	q := &explodingQueue{MemoryQueue: queue.NewMemoryQueue()}
	s := &recordingSink{}
	m, err := Start(context.Background(), Options{
		Queue:  q,
		Sink:   s,
		Config: Config{MaxElements: 10, MaxTime: time.Hour, PollInterval: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	c := NewClient(m.Producer(), 5*time.Millisecond)

	require.NoError(t, c.Submit(rec("held")))
	require.Eventually(t, func() bool { return q.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	q.armed.Store(true)
	require.NoError(t, c.Submit(rec("queued")))

	for _, id := range []string{"held", "queued"} {
		res := await(t, c, id)
		assert.Equal(t, 500, res.Status, id)
		assert.Contains(t, res.Reason, "drain exploded", id)
	}

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("batcher did not stop after panic")
	}
	require.Error(t, m.Err())
	assert.Contains(t, m.Err().Error(), "batcher panic")
	assert.Contains(t, m.Shutdown().Error(), "drain exploded")
	assert.ErrorIs(t, m.Producer().Submit(rec("late")), queue.ErrQueueClosed)
	assert.Empty(t, s.sizes())
}

func TestStartRejectsBadConfig(t *testing.T) {
	_, err := Start(context.Background(), Options{Sink: sink.Discard{}, Config: Config{MaxElements: -1}})
	assert.Error(t, err)
	_, err = Start(context.Background(), Options{})
	assert.Error(t, err)
}

func TestClientSubmitOperation(t *testing.T) {
	s := &recordingSink{}
	m := start(t, s, Config{MaxElements: 1, MaxTime: time.Hour})
	c := NewClient(m.Producer(), 5*time.Millisecond)

	meta := models.AgentMetadata{Agent: models.Agent{ID: "007", Name: "db-1"}}
	header := models.Header{ID: "pkg-1", Module: models.ModuleInventory, Type: models.InventoryPackagesType}
	ev := &models.StatefulEvent{Data: map[string]any{"package": map[string]any{"name": "curl"}}}
	require.NoError(t, c.SubmitOperation(meta, header, ev))
	assert.Equal(t, "pkg-1", await(t, c, "pkg-1").ID)

	err := c.SubmitOperation(meta, models.Header{ID: "bad", Module: models.ModuleInventory, Type: "hotfix"}, ev)
	assert.ErrorIs(t, err, queue.ErrInvalidRecord)
	assert.ErrorIs(t, err, models.ErrInvalidInventoryType)
}

func TestAwaitUnknownIDReturnsImmediately(t *testing.T) {
	c := NewClient(queue.NewMemoryQueue(), time.Hour)
	_, err := c.AwaitResult(context.Background(), "ghost")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestAwaitHonoursCancellation(t *testing.T) {
	q := queue.NewMemoryQueue()
	c := NewClient(q, 5*time.Millisecond)
	require.NoError(t, c.Submit(rec("slow")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.AwaitResult(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Abandon("slow"))
	assert.ErrorIs(t, q.RecordResult("slow", models.Result{Status: 201}), queue.ErrNotFound)
}

func TestManagerOverRedisQueue(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	rq := queue.NewRedisQueue(client, "mgr", 2*time.Millisecond)
	// a previous run left the queue closed; Start reopens it
	require.NoError(t, rq.Close())

	s := &recordingSink{}
	m, err := Start(context.Background(), Options{Queue: rq, Sink: s, Config: Config{MaxElements: 2, MaxTime: 20 * time.Millisecond}})
	require.NoError(t, err)

	// a second process sharing the queue through its own connection
	other := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer other.Close()
	c := NewClient(queue.NewRedisQueue(other, "mgr", 2*time.Millisecond), 5*time.Millisecond)
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, c.Submit(rec(id)))
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		assert.Equal(t, 201, await(t, c, id).Status)
	}
	require.NoError(t, m.Shutdown())
	assert.ErrorIs(t, c.Submit(rec("r4")), queue.ErrQueueClosed)
}

func TestCorruptQueueFailsRemainingRecords(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	rq := queue.NewRedisQueue(client, "bad", 2*time.Millisecond)
	require.NoError(t, rq.Submit(rec("before")))
	require.NoError(t, client.RPush("bad:inbound", "{not json").Err())
	require.NoError(t, rq.Submit(rec("after")))

	s := &recordingSink{}
	m, err := Start(context.Background(), Options{Queue: rq, Sink: s, Config: Config{MaxElements: 10, MaxTime: time.Hour}})
	require.NoError(t, err)
	c := NewClient(rq, 5*time.Millisecond)

	assert.Equal(t, 201, await(t, c, "before").Status)
	res := await(t, c, "after")
	assert.Equal(t, 500, res.Status)

	<-m.Done()
	assert.ErrorIs(t, m.Err(), queue.ErrCorrupt)
	assert.Equal(t, [][]string{{"before"}}, s.batches)
}
