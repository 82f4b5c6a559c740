package banner

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"eventbatcher/pkg/config"
)

const banner = `
┌─┐┬  ┬┌─┐┌┐┌┌┬┐  ┌┐ ┌─┐┌┬┐┌─┐┬ ┬┌─┐┬─┐
├┤ └┐┌┘├┤ │││ │   ├┴┐├─┤ │ │  ├─┤├┤ ├┬┘
└─┘ └┘ └─┘┘└┘ ┴   └─┘┴ ┴ ┴ └─┘┴ ┴└─┘┴└─
`

// Print writes the startup banner for the effective config.
func Print(eff config.EffectiveConfigResult, addr, version string) {
	cfg := eff.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	var srcs []string
	if eff.FileLoaded {
		srcs = append(srcs, "config")
	}
	if eff.EnvUsed {
		srcs = append(srcs, "env")
	}
	srcs = append(srcs, "flags")

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Role:     %s\n", cfg.Role)
	fmt.Printf("Listen:   %s (%s)\n", addr, cfg.Server.Engine)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config sources: %s\n", strings.Join(srcs, ", "))

	queue := cfg.Queue.Backend
	if queue == "redis" {
		queue += " " + cfg.Queue.Redis.Addr + " prefix=" + cfg.Queue.Redis.Prefix
	}
	fmt.Printf("Queue:    %s\n", queue)
	if cfg.Role != config.RoleAPI {
		sink := cfg.Sink.Type
		switch sink {
		case "pebble":
			sink += " " + cfg.Sink.Pebble.Path
		case "bulk":
			sink += " " + cfg.Sink.Bulk.URL
		}
		fmt.Printf("Sink:     %s\n", sink)
		b := cfg.Batcher
		fmt.Printf("Flush at: %d events, %s, or %s\n",
			b.MaxElements, humanize.IBytes(uint64(b.MaxSize.Int64())), b.MaxTime.Duration())
	}

	fmt.Println("\n== Endpoints ==================================================")
	if cfg.Role != config.RoleBatcher {
		fmt.Println("POST /api/v1/events/stateful - Submit stateful events (NDJSON: metadata, then header/event pairs)")
	}
	fmt.Println("GET  /healthz /readyz /metrics")
	fmt.Println("GET  /admin/stats")
	if cfg.Role != config.RoleAPI && cfg.Sink.Type == "pebble" {
		fmt.Println("GET  /admin/documents/{destination}/{id}")
	}

	fmt.Println("\n== Production? =================================================")
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Queue.Backend == "memory" {
		fmt.Println("- Queue: in-process; pending events are lost on crash")
	}
	if cfg.Results.Reaper.Enabled {
		fmt.Printf("- Result reaper: enabled (cron=%s ttl=%s)\n", cfg.Results.Reaper.Cron, cfg.Results.Reaper.TTL.Duration())
	} else {
		fmt.Println("- Result reaper: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
