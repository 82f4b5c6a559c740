// Package reaper evicts results nobody came back for.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/metrics"
)

// DefaultCron runs the reaper every minute.
const DefaultCron = "* * * * *"

// Target is the part of a correlation queue the reaper needs.
type Target interface {
	Reap(before time.Time) (int, error)
}

// Reaper evicts results older than TTL on a cron schedule.
type Reaper struct {
	target Target
	cron   string
	ttl    time.Duration
	now    func() time.Time
}

// New validates the cron expression and builds a Reaper.
func New(target Target, cronExpr string, ttl time.Duration) (*Reaper, error) {
	if cronExpr == "" {
		cronExpr = DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("reaper_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid reaper cron expression: %s", cronExpr)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("reaper ttl must be positive, got %s", ttl)
	}
	return &Reaper{target: target, cron: cronExpr, ttl: ttl, now: time.Now}, nil
}

// RunOnce evicts results recorded more than TTL ago.
func (r *Reaper) RunOnce() (int, error) {
	cutoff := r.now().Add(-r.ttl)
	n, err := r.target.Reap(cutoff)
	if err != nil {
		return 0, err
	}
	metrics.ResultsReaped.Add(float64(n))
	if n > 0 {
		logger.Info("results_reaped", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

// Run sleeps until each cron tick and reaps, until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	logger.Info("reaper_started", "cron", r.cron, "ttl", r.ttl.String())
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			logger.Error("reaper_nexttick_failed", "cron", r.cron, "error", err)
			wait = 30 * time.Second
		}
		if wait < 0 {
			wait = 0
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("reaper_stopping")
			return nil
		case <-t.C:
		}
		if err != nil {
			continue
		}
		if _, err := r.RunOnce(); err != nil {
			logger.Error("reaper_run_error", "error", err)
		}
	}
}
