package app

import (
	"fmt"
	"os"

	"eventbatcher/pkg/config"
	"eventbatcher/pkg/state"
)

// validateConfig performs the checks that need the filesystem, before
// any long-running service starts. Shape checks live in config.Validate.
func validateConfig(eff config.EffectiveConfigResult) error {
	cfg := eff.Config

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if cfg.Role != config.RoleAPI && cfg.Sink.Type == "pebble" && cfg.Sink.Pebble.Path == "" {
		return fmt.Errorf("pebble sink path is empty: set sink.pebble.path or EVENTBATCHER_PEBBLE_PATH")
	}

	if err := state.EnsureStateDirs(cfg.State.Dir); err != nil {
		return fmt.Errorf("state dir %s: %w", cfg.State.Dir, err)
	}
	return nil
}
