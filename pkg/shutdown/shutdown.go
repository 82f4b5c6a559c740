package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/state"
)

type exitRequest struct {
	Time      string            `json:"time"`
	Reason    string            `json:"reason"`
	Cmd       string            `json:"cmd"`
	CrashPath string            `json:"crash_path,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Abort writes diagnostics for a fatal error and exits with status 2 after
// delay, giving log sinks time to flush.
func Abort(contextMsg string, err error, stateDir string, delay time.Duration) {
	logger.Error("fatal", "msg", contextMsg, "error", err)
	dumpPath, reqPath, derr := AbortWithDiagnostics(stateDir, contextMsg, err)
	if derr != nil {
		logger.Error("abort_with_diagnostics_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Info("wrote_crash_dump", "path", dumpPath, "request", reqPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	if delay > 0 {
		logger.Info("exiting_in", "delay", delay.String())
		time.Sleep(delay)
	}
	os.Exit(2)
}

// AbortWithDiagnostics writes a crash dump and an abort request file that
// references it. Both are moved into place atomically.
func AbortWithDiagnostics(stateDir, reason string, err error) (string, string, error) {
	crashDir := state.CrashDir(stateDir)
	abortDir := state.AbortDir(stateDir)
	if e := os.MkdirAll(crashDir, 0o700); e != nil {
		return "", "", fmt.Errorf("failed to create crash dir: %w", e)
	}
	if e := os.MkdirAll(abortDir, 0o700); e != nil {
		return "", "", fmt.Errorf("failed to create abort dir: %w", e)
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", ts))

	f, ferr := os.CreateTemp(crashDir, ".crash-*.tmp")
	if ferr != nil {
		return "", "", fmt.Errorf("failed to create temp crash file: %w", ferr)
	}
	tmpName := f.Name()
	defer func() { _ = os.Remove(tmpName) }()

	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	fmt.Fprintf(f, "error: %v\n", err)
	fmt.Fprintf(f, "pid: %d\n", os.Getpid())
	fmt.Fprintf(f, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	f.Write(buf[:n])
	f.Sync()
	f.Close()

	if err := os.Rename(tmpName, dumpPath); err != nil {
		return "", "", fmt.Errorf("failed to move crash dump into place: %w", err)
	}
	_ = os.Chmod(dumpPath, 0o600)

	reqPath, err := writeRequest(abortDir, ts, exitRequest{
		Time:      time.Now().UTC().Format(time.RFC3339),
		Reason:    reason,
		Cmd:       "crash",
		CrashPath: dumpPath,
		Meta:      map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())},
	})
	if err != nil {
		return dumpPath, "", err
	}
	return dumpPath, reqPath, nil
}

// RequestExitFile writes a simple exit request (no dump) and returns its path.
func RequestExitFile(stateDir, reason string) (string, error) {
	abortDir := state.AbortDir(stateDir)
	if err := os.MkdirAll(abortDir, 0o700); err != nil {
		return "", err
	}
	ts := time.Now().UnixNano()
	return writeRequest(abortDir, ts, exitRequest{
		Time:   time.Now().UTC().Format(time.RFC3339),
		Reason: reason,
		Cmd:    "abort",
		Meta:   map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())},
	})
}

func writeRequest(dir string, ts int64, req exitRequest) (string, error) {
	rtmp, err := os.CreateTemp(dir, ".req-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp req file: %w", err)
	}
	name := rtmp.Name()
	enc := json.NewEncoder(rtmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(req); err != nil {
		rtmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to encode req: %w", err)
	}
	rtmp.Sync()
	rtmp.Close()

	reqPath := filepath.Join(dir, fmt.Sprintf("req-%d.json", ts))
	if err := os.Rename(name, reqPath); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to move req into place: %w", err)
	}
	_ = os.Chmod(reqPath, 0o600)
	return reqPath, nil
}

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a cancellable context. The returned context is cancelled when any
// of the watched signals arrives. Use the cancel function to stop watching
// and to release resources.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	// dump goroutine stacks on SIGPIPE to aid diagnostics
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}
