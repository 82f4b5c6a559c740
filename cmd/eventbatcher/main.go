package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"eventbatcher/internal/app"
	"eventbatcher/pkg/config"
	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/queue"
	"eventbatcher/pkg/shutdown"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const defaultStateDir = "./.state"

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	// parse config flags
	flags, err := config.ParseConfigFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	// layer file, env and flags
	eff, err := config.LoadEffectiveConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	stateDir := eff.Config.State.Dir
	if stateDir == "" {
		stateDir = defaultStateDir
	}

	// initialize logger after config is fully loaded
	logger.InitWithLevel(eff.Config.Logging.Level, eff.Config.Logging.Format)
	logger.Info("effective_config_loaded",
		"role", eff.Config.Role,
		"addr", eff.Config.Addr(),
		"file_loaded", eff.FileLoaded,
		"env_used", eff.EnvUsed)
	logger.Info("system_logical_cores", "logical_cores", runtime.NumCPU())

	// initialize app
	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, stateDir, 0)
	}

	// set up context and signal handling for graceful shutdown
	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		if errors.Is(err, queue.ErrCorrupt) {
			shutdown.Abort("correlation queue corrupted", err, stateDir, time.Second)
		}
		logger.Error("app_run_failed", "error", err)
		cancel()
		os.Exit(1)
	}
	logger.Info("shutdown_complete")
}
