package batcher

import (
	"fmt"
	"time"
)

// Config holds the flush thresholds and sink retry policy of a Batcher.
type Config struct {
	// MaxElements caps the number of records per batch.
	MaxElements int
	// MaxSize is the cumulative payload size, in bytes, that triggers a flush.
	MaxSize int
	// MaxTime is how long the oldest record may wait before a flush.
	MaxTime time.Duration
	// PollInterval bounds how long a single drain waits for input, and so
	// how often the age threshold is rechecked.
	PollInterval time.Duration
	// FlushTimeout bounds one sink write, retries included.
	FlushTimeout time.Duration
	SinkRetries  int
	RetryDelay   time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxElements:  5,
		MaxSize:      3000,
		MaxTime:      150 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		FlushTimeout: 30 * time.Second,
		SinkRetries:  0,
		RetryDelay:   100 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxElements == 0 {
		c.MaxElements = d.MaxElements
	}
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.MaxTime == 0 {
		c.MaxTime = d.MaxTime
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// Validate rejects thresholds that can never be met.
func (c Config) Validate() error {
	if c.MaxElements < 1 {
		return fmt.Errorf("batcher: max_elements must be >= 1, got %d", c.MaxElements)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("batcher: max_size must be >= 1, got %d", c.MaxSize)
	}
	if c.MaxTime <= 0 {
		return fmt.Errorf("batcher: max_time must be positive, got %s", c.MaxTime)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("batcher: poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.SinkRetries < 0 {
		return fmt.Errorf("batcher: sink_retries must be >= 0, got %d", c.SinkRetries)
	}
	return nil
}
