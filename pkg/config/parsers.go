package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Role   string
	Config string
	Set    map[string]bool
}

// ParseConfigFlags parses args into a Flags struct.
func ParseConfigFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	addrPtr := fs.String("addr", ":8080", "HTTP listen address")
	rolePtr := fs.String("role", RoleAll, "process role: all, api or batcher")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Role: *rolePtr, Config: *cfgPtr, Set: setFlags}, nil
}

// EffectiveConfigResult holds the result of LoadEffectiveConfig.
type EffectiveConfigResult struct {
	Config     *Config
	FileLoaded bool
	EnvUsed    bool
}

// LoadEffectiveConfig layers the config file, environment overrides and
// explicitly set flags, in that order, then applies defaults and validates.
// A config path given with -config must exist; the default path is
// optional.
func LoadEffectiveConfig(flags Flags) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	path := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(path)
	switch {
	case err == nil:
		res.FileLoaded = true
	case os.IsNotExist(err) && !flags.Set["config"]:
		cfg = &Config{}
	case os.IsNotExist(err):
		return res, fmt.Errorf("config file %s not found", path)
	default:
		return res, err
	}

	if res.EnvUsed, err = ApplyEnvOverrides(cfg); err != nil {
		return res, err
	}

	if flags.Set["addr"] {
		setAddr(cfg, flags.Addr)
	}
	if flags.Set["role"] {
		cfg.Role = flags.Role
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	res.Config = cfg
	return res, nil
}

func setAddr(cfg *Config, v string) {
	if h, p, err := net.SplitHostPort(v); err == nil {
		cfg.Server.Address = h
		if pi, err := strconv.Atoi(p); err == nil {
			cfg.Server.Port = pi
		}
		return
	}
	cfg.Server.Address = v
}

// ApplyEnvOverrides applies EVENTBATCHER_* variables onto cfg and reports
// whether any were set. Malformed numeric values are errors.
func ApplyEnvOverrides(cfg *Config) (bool, error) {
	envUsed := false
	var firstErr error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			envUsed = true
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			envUsed = true
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			envUsed = true
			d, err := parseDuration(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("EVENTBATCHER_ADDR"); v != "" {
		envUsed = true
		setAddr(cfg, v)
	}
	str("EVENTBATCHER_ROLE", &cfg.Role)
	str("EVENTBATCHER_SERVER_ENGINE", &cfg.Server.Engine)
	dur("EVENTBATCHER_RESULT_TIMEOUT", &cfg.Server.ResultTimeout)
	str("EVENTBATCHER_TLS_CERT", &cfg.Server.TLS.CertFile)
	str("EVENTBATCHER_TLS_KEY", &cfg.Server.TLS.KeyFile)
	str("EVENTBATCHER_LOG_LEVEL", &cfg.Logging.Level)
	str("EVENTBATCHER_LOG_FORMAT", &cfg.Logging.Format)

	num("EVENTBATCHER_MAX_ELEMENTS", &cfg.Batcher.MaxElements)
	if v := os.Getenv("EVENTBATCHER_MAX_SIZE"); v != "" {
		envUsed = true
		s, err := parseSize(v)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("EVENTBATCHER_MAX_SIZE: %w", err)
		}
		cfg.Batcher.MaxSize = s
	}
	dur("EVENTBATCHER_MAX_TIME", &cfg.Batcher.MaxTime)
	dur("EVENTBATCHER_POLL_INTERVAL", &cfg.Batcher.PollInterval)
	num("EVENTBATCHER_SINK_RETRIES", &cfg.Batcher.SinkRetries)
	dur("EVENTBATCHER_WAIT_FREQUENCY", &cfg.Client.WaitFrequency)

	str("EVENTBATCHER_QUEUE_BACKEND", &cfg.Queue.Backend)
	str("EVENTBATCHER_REDIS_ADDR", &cfg.Queue.Redis.Addr)
	str("EVENTBATCHER_REDIS_PASSWORD", &cfg.Queue.Redis.Password)
	num("EVENTBATCHER_REDIS_DB", &cfg.Queue.Redis.DB)
	str("EVENTBATCHER_REDIS_PREFIX", &cfg.Queue.Redis.Prefix)

	str("EVENTBATCHER_SINK_TYPE", &cfg.Sink.Type)
	str("EVENTBATCHER_PEBBLE_PATH", &cfg.Sink.Pebble.Path)
	str("EVENTBATCHER_BULK_URL", &cfg.Sink.Bulk.URL)
	str("EVENTBATCHER_BULK_USERNAME", &cfg.Sink.Bulk.Username)
	str("EVENTBATCHER_BULK_PASSWORD", &cfg.Sink.Bulk.Password)

	if v := os.Getenv("EVENTBATCHER_RATE_RPS"); v != "" {
		envUsed = true
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("EVENTBATCHER_RATE_RPS: %w", err)
		}
		cfg.Security.RateLimit.RPS = f
	}
	num("EVENTBATCHER_RATE_BURST", &cfg.Security.RateLimit.Burst)
	str("EVENTBATCHER_STATE_DIR", &cfg.State.Dir)

	return envUsed, firstErr
}
