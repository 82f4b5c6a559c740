package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Addr returns host:port for HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses a YAML config file. A missing file yields an error
// satisfying os.IsNotExist.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `EVENTBATCHER_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("EVENTBATCHER_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Role == "" {
		c.Role = RoleAll
	}
	if c.Server.Engine == "" {
		c.Server.Engine = "nethttp"
	}
	if c.Server.ResultTimeout == 0 {
		c.Server.ResultTimeout = Duration(30 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	b := &c.Batcher
	if b.MaxElements == 0 {
		b.MaxElements = 5
	}
	if b.MaxSize == 0 {
		b.MaxSize = 3000
	}
	if b.MaxTime == 0 {
		b.MaxTime = Duration(150 * time.Millisecond)
	}
	if b.PollInterval == 0 {
		b.PollInterval = Duration(10 * time.Millisecond)
	}
	if b.FlushTimeout == 0 {
		b.FlushTimeout = Duration(30 * time.Second)
	}
	if b.RetryDelay == 0 {
		b.RetryDelay = Duration(100 * time.Millisecond)
	}
	if c.Client.WaitFrequency == 0 {
		c.Client.WaitFrequency = Duration(100 * time.Millisecond)
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.Redis.Addr == "" {
		c.Queue.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Queue.Redis.Prefix == "" {
		c.Queue.Redis.Prefix = "eventbatcher"
	}

	if c.Sink.Type == "" {
		c.Sink.Type = "pebble"
	}
	if c.Sink.Pebble.Path == "" {
		c.Sink.Pebble.Path = "./.database"
	}
	if c.Sink.Bulk.Timeout == 0 {
		c.Sink.Bulk.Timeout = Duration(30 * time.Second)
	}

	if c.Results.Reaper.Cron == "" {
		c.Results.Reaper.Cron = "* * * * *"
	}
	if c.Results.Reaper.TTL == 0 {
		c.Results.Reaper.TTL = Duration(10 * time.Minute)
	}

	if c.Security.RateLimit.RPS == 0 {
		c.Security.RateLimit.RPS = 100
	}
	if c.Security.RateLimit.Burst == 0 {
		c.Security.RateLimit.Burst = 200
	}
	if c.State.Dir == "" {
		c.State.Dir = "./.state"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Role {
	case RoleAll, RoleAPI, RoleBatcher:
	default:
		add("role: unknown role %q", c.Role)
	}
	switch c.Server.Engine {
	case "nethttp", "fasthttp":
	default:
		add("server.engine: unknown engine %q", c.Server.Engine)
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		add("server.tls: cert_file and key_file must be set together")
	}
	if c.Server.ResultTimeout <= 0 {
		add("server.result_timeout must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format: unknown format %q", c.Logging.Format)
	}

	b := c.Batcher
	if b.MaxElements < 1 {
		add("batcher.max_elements must be >= 1")
	}
	if b.MaxSize < 1 {
		add("batcher.max_size must be >= 1")
	}
	if b.MaxTime <= 0 || b.PollInterval <= 0 {
		add("batcher.max_time and batcher.poll_interval must be positive")
	}
	if b.SinkRetries < 0 {
		add("batcher.sink_retries must be >= 0")
	}

	switch c.Queue.Backend {
	case "memory":
		if c.Role != RoleAll {
			add("queue.backend: role %q needs a shared queue; use redis", c.Role)
		}
	case "redis":
	default:
		add("queue.backend: unknown backend %q", c.Queue.Backend)
	}

	switch c.Sink.Type {
	case "pebble", "discard":
	case "bulk":
		if c.Sink.Bulk.URL == "" {
			add("sink.bulk.url required for bulk sink")
		}
	default:
		add("sink.type: unknown sink %q", c.Sink.Type)
	}

	if c.Results.Reaper.Enabled && !gronx.New().IsValid(c.Results.Reaper.Cron) {
		add("results.reaper.cron: invalid expression %q", c.Results.Reaper.Cron)
	}
	if c.Security.RateLimit.RPS < 0 || c.Security.RateLimit.Burst < 0 {
		add("security.rate_limit values must be >= 0")
	}
	return errors.Join(errs...)
}
