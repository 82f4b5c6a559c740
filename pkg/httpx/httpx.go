// Package httpx serves an http.Handler on either net/http or fasthttp.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Engines.
const (
	EngineNetHTTP  = "nethttp"
	EngineFastHTTP = "fasthttp"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("httpx: server closed")

// Server is a listening HTTP engine.
type Server interface {
	// Serve accepts connections on ln until Shutdown. It returns
	// ErrServerClosed after a clean shutdown.
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// Options configures New.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 60 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 32 << 20
	}
	return o
}

func (o Options) tls() bool { return o.CertFile != "" && o.KeyFile != "" }

// New builds a server for the named engine.
func New(engine string, h http.Handler, opts Options) (Server, error) {
	opts = opts.withDefaults()
	switch engine {
	case "", EngineNetHTTP:
		return newNetHTTP(h, opts), nil
	case EngineFastHTTP:
		return newFastHTTP(h, opts), nil
	default:
		return nil, fmt.Errorf("httpx: unknown engine %q", engine)
	}
}
