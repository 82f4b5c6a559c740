package batcher

import (
	"context"
	"fmt"
	"time"

	"eventbatcher/pkg/models"
	"eventbatcher/pkg/queue"
)

// DefaultWaitFrequency is how often AwaitResult checks for a result.
const DefaultWaitFrequency = 100 * time.Millisecond

// Client submits records and waits for their outcomes. It is safe for
// concurrent use; create one per request or share one.
type Client struct {
	q    queue.Producer
	wait time.Duration
}

// NewClient returns a Client polling every waitFrequency (DefaultWaitFrequency
// when zero).
func NewClient(q queue.Producer, waitFrequency time.Duration) *Client {
	if waitFrequency <= 0 {
		waitFrequency = DefaultWaitFrequency
	}
	return &Client{q: q, wait: waitFrequency}
}

// Submit enqueues a prepared record.
func (c *Client) Submit(rec models.Record) error {
	return c.q.Submit(rec)
}

// SubmitOperation builds a record from an agent's stateful event and
// submits it. A nil event (deletes) produces a record without content. A
// header without an operation is a create.
func (c *Client) SubmitOperation(meta models.AgentMetadata, header models.Header, event *models.StatefulEvent) error {
	dest, err := models.IndexName(header.Module, header.Type)
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrInvalidRecord, err)
	}
	op := header.Operation
	if op == "" {
		op = models.OpCreate
	}
	var content map[string]any
	if op != models.OpDelete {
		if content, err = models.MergeContent(meta, event); err != nil {
			return fmt.Errorf("%w: %v", queue.ErrInvalidRecord, err)
		}
	}
	return c.q.Submit(models.Record{
		ID:          header.ID,
		Operation:   op,
		Content:     content,
		Destination: dest,
	})
}

// AwaitResult waits until id is no longer pending and takes its result. An
// id that was never submitted, or whose result was already taken, returns
// queue.ErrNotFound straight away. Cancel ctx to give up; callers that do
// should Abandon the id.
func (c *Client) AwaitResult(ctx context.Context, id string) (models.Result, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		pending, err := c.q.IsPending(id)
		if err != nil {
			return models.Result{}, err
		}
		if !pending {
			return c.q.TakeResult(id)
		}
		if timer == nil {
			timer = time.NewTimer(c.wait)
		} else {
			timer.Reset(c.wait)
		}
		select {
		case <-ctx.Done():
			return models.Result{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Abandon releases id; a result recorded for it later is dropped.
func (c *Client) Abandon(id string) error {
	return c.q.Abandon(id)
}
