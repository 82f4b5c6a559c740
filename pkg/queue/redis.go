package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/metrics"
	"eventbatcher/pkg/models"
)

// Slot values in the hash: the empty string marks a pending slot, anything
// else is the JSON-encoded result.
const pendingMarker = ""

var (
	// KEYS: closed, slots, inbound. ARGV: id, encoded record.
	submitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return -1 end
if redis.call('HSETNX', KEYS[2], ARGV[1], '') == 0 then return 0 end
redis.call('RPUSH', KEYS[3], ARGV[2])
return 1
`)

	// KEYS: slots. ARGV: id. Returns {state, value}: 0 unknown, 1 pending, 2 taken.
	takeScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v then return {0, ''} end
if v == '' then return {1, ''} end
redis.call('HDEL', KEYS[1], ARGV[1])
return {2, v}
`)

	// KEYS: slots. ARGV: id, encoded result.
	recordScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v then return 0 end
if v ~= '' then return 2 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

	// KEYS: slots. ARGV: id, value pairs. Deletes a field only if it still
	// holds the value read earlier.
	evictScript = redis.NewScript(`
local n = 0
for i = 1, #ARGV, 2 do
  if redis.call('HGET', KEYS[1], ARGV[i]) == ARGV[i + 1] then
    redis.call('HDEL', KEYS[1], ARGV[i])
    n = n + 1
  end
end
return n
`)

	// KEYS: inbound, closed. ARGV: max. Returns {closed, records...}.
	drainScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local items = redis.call('LRANGE', KEYS[1], 0, n - 1)
if #items > 0 then redis.call('LTRIM', KEYS[1], #items, -1) end
local out = {redis.call('EXISTS', KEYS[2])}
for i = 1, #items do out[i + 1] = items[i] end
return out
`)
)

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string
	PollInterval time.Duration
}

// RedisQueue is a correlation queue shared between processes through a
// Redis server. Every state transition runs as a Lua script so concurrent
// producers and the single consumer see atomic updates.
type RedisQueue struct {
	client *redis.Client
	owned  bool
	poll   time.Duration

	closedKey  string
	slotsKey   string
	inboundKey string
}

// DialRedis connects to the server described by opts and verifies it
// responds.
func DialRedis(opts RedisOptions) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	q := NewRedisQueue(client, opts.Prefix, opts.PollInterval)
	q.owned = true
	return q, nil
}

// NewRedisQueue wraps an existing client. The client is not closed by Close.
func NewRedisQueue(client *redis.Client, prefix string, poll time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "eventbatcher"
	}
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	return &RedisQueue{
		client:     client,
		poll:       poll,
		closedKey:  prefix + ":closed",
		slotsKey:   prefix + ":slots",
		inboundKey: prefix + ":inbound",
	}
}

// Open clears a closed flag left behind by a previous Close so a restarted
// batcher accepts work again.
func (q *RedisQueue) Open() error {
	return q.client.Del(q.closedKey).Err()
}

func (q *RedisQueue) Submit(rec models.Record) error {
	if err := rec.Validate(); err != nil {
		metrics.SubmitRejected.WithLabelValues("invalid").Inc()
		return err
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	v, err := submitScript.Run(q.client, []string{q.closedKey, q.slotsKey, q.inboundKey}, rec.ID, b).Result()
	if err != nil {
		return fmt.Errorf("redis submit: %w", err)
	}
	switch toInt(v) {
	case -1:
		metrics.SubmitRejected.WithLabelValues("closed").Inc()
		return ErrQueueClosed
	case 0:
		metrics.SubmitRejected.WithLabelValues("duplicate").Inc()
		return ErrDuplicateID
	}
	metrics.RecordsSubmitted.Inc()
	return nil
}

func (q *RedisQueue) IsPending(id string) (bool, error) {
	v, err := q.client.HGet(q.slotsKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis hget: %w", err)
	}
	return v == pendingMarker, nil
}

func (q *RedisQueue) TakeResult(id string) (models.Result, error) {
	v, err := takeScript.Run(q.client, []string{q.slotsKey}, id).Result()
	if err != nil {
		return models.Result{}, fmt.Errorf("redis take: %w", err)
	}
	parts, ok := v.([]interface{})
	if !ok || len(parts) != 2 {
		return models.Result{}, fmt.Errorf("%w: unexpected take reply %T", ErrCorrupt, v)
	}
	switch toInt(parts[0]) {
	case 0:
		return models.Result{}, ErrNotFound
	case 1:
		return models.Result{}, ErrNotReady
	}
	raw, _ := parts[1].(string)
	var res models.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return models.Result{}, fmt.Errorf("%w: result %s: %v", ErrCorrupt, id, err)
	}
	return res, nil
}

func (q *RedisQueue) Abandon(id string) error {
	return q.client.HDel(q.slotsKey, id).Err()
}

// Drain polls the inbound list every poll interval until records arrive,
// wait elapses or ctx is done.
func (q *RedisQueue) Drain(ctx context.Context, max int, wait time.Duration) ([]models.Record, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		recs, closed, err := q.drainOnce(max)
		if err != nil || len(recs) > 0 {
			return recs, err
		}
		if closed {
			return nil, ErrQueueClosed
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil, nil
		}
		if left > q.poll {
			left = q.poll
		}
		t := time.NewTimer(left)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (q *RedisQueue) drainOnce(max int) ([]models.Record, bool, error) {
	v, err := drainScript.Run(q.client, []string{q.inboundKey, q.closedKey}, max).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis drain: %w", err)
	}
	parts, ok := v.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, false, fmt.Errorf("%w: unexpected drain reply %T", ErrCorrupt, v)
	}
	closed := toInt(parts[0]) == 1
	if len(parts) == 1 {
		return nil, closed, nil
	}
	items := parts[1:]
	out := make([]models.Record, 0, len(items))
	for i, p := range items {
		raw, _ := p.(string)
		var rec models.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logger.Error("queue_record_undecodable", "position", i, "error", err)
			if rerr := q.requeue(items[i+1:]); rerr != nil {
				logger.Error("queue_requeue_failed", "records", len(items)-i-1, "error", rerr)
			}
			return out, closed, fmt.Errorf("%w: record: %v", ErrCorrupt, err)
		}
		out = append(out, rec)
	}
	return out, closed, nil
}

// requeue puts drained items back at the head of the inbound list in their
// original order.
func (q *RedisQueue) requeue(items []interface{}) error {
	if len(items) == 0 {
		return nil
	}
	vals := make([]interface{}, len(items))
	for i, v := range items {
		vals[len(items)-1-i] = v
	}
	return q.client.LPush(q.inboundKey, vals...).Err()
}

func (q *RedisQueue) RecordResult(id string, res models.Result) error {
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now()
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", id, err)
	}
	v, err := recordScript.Run(q.client, []string{q.slotsKey}, id, b).Result()
	if err != nil {
		return fmt.Errorf("redis record: %w", err)
	}
	switch toInt(v) {
	case 0:
		return ErrNotFound
	case 2:
		return ErrAlreadyRecorded
	}
	return nil
}

// Reap deletes results recorded before the cutoff. Pending slots are kept.
func (q *RedisQueue) Reap(before time.Time) (int, error) {
	stale, err := q.staleResults(before)
	if err != nil || len(stale) == 0 {
		return 0, err
	}
	return q.evict(stale)
}

// staleResults returns the encoded results recorded before the cutoff,
// keyed by id. Undecodable results are stale too.
func (q *RedisQueue) staleResults(before time.Time) (map[string]string, error) {
	all, err := q.client.HGetAll(q.slotsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	stale := make(map[string]string)
	for id, raw := range all {
		if raw == pendingMarker {
			continue
		}
		var res models.Result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			logger.Warn("reap_undecodable_result", "id", id, "error", err)
			stale[id] = raw
			continue
		}
		if res.RecordedAt.Before(before) {
			stale[id] = raw
		}
	}
	return stale, nil
}

// evict deletes the slots that still hold the values in stale. A slot that
// was taken and resubmitted in the meantime is left alone.
func (q *RedisQueue) evict(stale map[string]string) (int, error) {
	args := make([]interface{}, 0, 2*len(stale))
	for id, raw := range stale {
		args = append(args, id, raw)
	}
	v, err := evictScript.Run(q.client, []string{q.slotsKey}, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis evict: %w", err)
	}
	return int(toInt(v)), nil
}

// Close marks the shared queue closed for every process using the prefix.
// The connection stays usable so remaining records can be drained.
func (q *RedisQueue) Close() error {
	if err := q.client.Set(q.closedKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Release closes the underlying client when this queue owns it.
func (q *RedisQueue) Release() error {
	if !q.owned {
		return nil
	}
	return q.client.Close()
}

func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(q.inboundKey).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func toInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	}
	return -2
}
