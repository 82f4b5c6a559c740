package logger

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

var Log *slog.Logger

// sensitive headers are never written to request logs.
var sensitive = map[string]struct{}{
	"authorization": {},
	"x-api-key":     {},
	"cookie":        {},
}

// Init initializes the global slog logger from environment variables only.
func Init() {
	InitWithLevel("", "")
}

// InitWithLevel initializes the global logger honoring the provided level
// ("debug", "info", "warn", "error") and format ("text" or "json"). Empty
// values fall back to EVENTBATCHER_LOG_LEVEL and EVENTBATCHER_LOG_FORMAT.
// EVENTBATCHER_LOG_SINK=file:/path redirects output to a file.
func InitWithLevel(level, format string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("EVENTBATCHER_LOG_LEVEL")))
	}
	fmtName := strings.ToLower(strings.TrimSpace(format))
	if fmtName == "" {
		fmtName = strings.ToLower(strings.TrimSpace(os.Getenv("EVENTBATCHER_LOG_FORMAT")))
	}

	var out io.Writer = os.Stdout
	if sink := os.Getenv("EVENTBATCHER_LOG_SINK"); strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			out = f
		} else {
			// fallback to stdout
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		}
	}
	Log = New(out, lvl, fmtName)
}

// New builds a logger writing to w. Used by Init and by tests that want to
// capture output.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// SafeHeaders returns the first value of each header with sensitive values
// redacted.
func SafeHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) == 0 {
			continue
		}
		if _, ok := sensitive[strings.ToLower(k)]; ok {
			out[k] = "<redacted>"
			continue
		}
		out[k] = v[0]
	}
	return out
}

// LogRequest logs a concise, safe summary of an incoming request at debug level.
func LogRequest(r *http.Request) {
	Debug("incoming_request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "headers", SafeHeaders(r))
}
