package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Roles a process can run as.
const (
	RoleAll     = "all"
	RoleAPI     = "api"
	RoleBatcher = "batcher"
)

// Config is the main configuration struct.
type Config struct {
	Role     string         `yaml:"role"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Batcher  BatcherConfig  `yaml:"batcher"`
	Client   ClientConfig   `yaml:"client"`
	Queue    QueueConfig    `yaml:"queue"`
	Sink     SinkConfig     `yaml:"sink"`
	Results  ResultsConfig  `yaml:"results"`
	Security SecurityConfig `yaml:"security"`
	State    StateConfig    `yaml:"state"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Engine is nethttp or fasthttp.
	Engine        string    `yaml:"engine"`
	ResultTimeout Duration  `yaml:"result_timeout"`
	TLS           TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// BatcherConfig holds the flush thresholds.
type BatcherConfig struct {
	MaxElements  int       `yaml:"max_elements"`
	MaxSize      SizeBytes `yaml:"max_size"`
	MaxTime      Duration  `yaml:"max_time"`
	PollInterval Duration  `yaml:"poll_interval"`
	FlushTimeout Duration  `yaml:"flush_timeout"`
	SinkRetries  int       `yaml:"sink_retries"`
	RetryDelay   Duration  `yaml:"retry_delay"`
}

// ClientConfig controls how request handlers wait for results.
type ClientConfig struct {
	WaitFrequency Duration `yaml:"wait_frequency"`
}

// QueueConfig selects the correlation queue backend.
type QueueConfig struct {
	Backend string      `yaml:"backend"` // memory|redis
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SinkConfig selects where batches are written.
type SinkConfig struct {
	Type   string       `yaml:"type"` // pebble|bulk|discard
	Pebble PebbleConfig `yaml:"pebble"`
	Bulk   BulkConfig   `yaml:"bulk"`
}

type PebbleConfig struct {
	Path string `yaml:"path"`
}

type BulkConfig struct {
	URL      string   `yaml:"url"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Timeout  Duration `yaml:"timeout"`
}

// ResultsConfig holds settings for unconsumed results.
type ResultsConfig struct {
	Reaper ReaperConfig `yaml:"reaper"`
}

// ReaperConfig holds configuration for the result reaper.
type ReaperConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	TTL     Duration `yaml:"ttl"`
}

// SecurityConfig holds request throttling.
type SecurityConfig struct {
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// StateConfig locates runtime state such as crash dumps.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "3KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
