package httpx

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// fastHTTPServer runs a net/http handler through fasthttpadaptor. Request
// bodies are buffered in full, bounded by MaxBodyBytes.
type fastHTTPServer struct {
	srv    *fasthttp.Server
	opts   Options
	closed atomic.Bool
}

func newFastHTTP(h http.Handler, opts Options) *fastHTTPServer {
	return &fastHTTPServer{
		srv: &fasthttp.Server{
			Handler:            fasthttpadaptor.NewFastHTTPHandler(h),
			Name:               "eventbatcher",
			ReadTimeout:        opts.ReadTimeout,
			WriteTimeout:       opts.WriteTimeout,
			MaxRequestBodySize: opts.MaxBodyBytes,
		},
		opts: opts,
	}
}

func (s *fastHTTPServer) Serve(ln net.Listener) error {
	var err error
	if s.opts.tls() {
		err = s.srv.ServeTLS(ln, s.opts.CertFile, s.opts.KeyFile)
	} else {
		err = s.srv.Serve(ln)
	}
	if s.closed.Load() {
		return ErrServerClosed
	}
	return err
}

// Shutdown waits for open connections to finish or ctx to expire. fasthttp
// keeps draining in the background after ctx expires.
func (s *fastHTTPServer) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	done := make(chan error, 1)
	go func() { done <- s.srv.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
