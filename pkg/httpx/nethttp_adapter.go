package httpx

import (
	"context"
	"errors"
	"net"
	"net/http"
)

type netHTTPServer struct {
	srv  *http.Server
	opts Options
}

func newNetHTTP(h http.Handler, opts Options) *netHTTPServer {
	return &netHTTPServer{
		srv: &http.Server{
			Handler:      h,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: opts,
	}
}

func (s *netHTTPServer) Serve(ln net.Listener) error {
	var err error
	if s.opts.tls() {
		err = s.srv.ServeTLS(ln, s.opts.CertFile, s.opts.KeyFile)
	} else {
		err = s.srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

func (s *netHTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
