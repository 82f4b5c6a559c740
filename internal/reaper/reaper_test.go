package reaper

import (
	"context"
	"testing"
	"time"

	"eventbatcher/pkg/models"
	"eventbatcher/pkg/queue"
)

func TestRunOnceEvictsExpired(t *testing.T) {
	q := queue.NewMemoryQueue()
	for _, id := range []string{"old", "fresh"} {
		if err := q.Submit(models.Record{ID: id, Operation: models.OpDelete, Destination: models.FIMIndex}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	if err := q.RecordResult("old", models.Result{Status: 200, RecordedAt: time.Now().Add(-20 * time.Minute)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := q.RecordResult("fresh", models.Result{Status: 200}); err != nil {
		t.Fatalf("record: %v", err)
	}

	r, err := New(q, "", 10*time.Minute)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	n, err := r.RunOnce()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := q.TakeResult("fresh"); err != nil {
		t.Fatalf("fresh result should survive: %v", err)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(queue.NewMemoryQueue(), "not a cron", time.Minute); err == nil {
		t.Fatalf("expected invalid cron error")
	}
	if _, err := New(queue.NewMemoryQueue(), DefaultCron, 0); err == nil {
		t.Fatalf("expected invalid ttl error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, err := New(queue.NewMemoryQueue(), DefaultCron, time.Minute)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reaper did not stop")
	}
}
